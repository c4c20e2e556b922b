// Package media stages uploaded attachments on local disk until the schedule
// that owns them is cancelled.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrTooLarge = errors.New("media: upload exceeds size limit")

type Stager struct {
	dir      string
	maxBytes int64
}

// NewStager creates dir if needed. maxBytes <= 0 disables the limit.
func NewStager(dir string, maxBytes int64) (*Stager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("media: create staging dir: %w", err)
	}
	return &Stager{dir: abs, maxBytes: maxBytes}, nil
}

func (s *Stager) Dir() string { return s.dir }

// Stage copies r into a uuid named file that keeps the extension of name.
func (s *Stager) Stage(name string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	path := filepath.Join(s.dir, uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("media: stage %s: %w", name, err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("media: stage %s: %w", name, err)
	}
	return path, nil
}

// Owns reports whether path is a file inside the staging dir.
func (s *Stager) Owns(path string) bool {
	if path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.dir, abs)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// Remove deletes a staged file. Paths outside the staging dir are refused
// and a missing file is not an error.
func (s *Stager) Remove(path string) error {
	if !s.Owns(path) {
		return fmt.Errorf("media: refusing to remove %q outside %s", path, s.dir)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("media: remove: %w", err)
	}
	return nil
}
