package store

import (
	"encoding/json"
	"fmt"

	"castbox/internal/domain"
)

// Recipients, media and action scopes are stored as JSON documents.

func EncodeRecipients(r domain.Recipients) ([]byte, error) {
	if r.Direct == nil {
		r.Direct = []string{}
	}
	return json.Marshal(r)
}

func DecodeRecipients(b []byte) (domain.Recipients, error) {
	var r domain.Recipients
	if len(b) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("decode recipients: %w", err)
	}
	return r, nil
}

// EncodeMedia returns nil for a nil ref so the column stays NULL.
func EncodeMedia(m *domain.MediaRef) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func DecodeMedia(b []byte) (*domain.MediaRef, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var m domain.MediaRef
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	return &m, nil
}

func EncodeList(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	return json.Marshal(v)
}

func DecodeList(b []byte) ([]string, error) {
	out := []string{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}
