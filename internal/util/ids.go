package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns prefix + "_" + ULID. ULIDs sort by creation time, which keeps
// list endpoints and DB indexes in insertion order.
func NewID(prefix string) string {
	t := time.Now().UTC()
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewScheduleID() string { return NewID("sch") }

func NewActionID() string { return NewID("act") }

func NowUTC() time.Time {
	return time.Now().UTC()
}
