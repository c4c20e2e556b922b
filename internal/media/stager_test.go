package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageAndRemove(t *testing.T) {
	s, err := NewStager(t.TempDir(), 0)
	require.NoError(t, err)

	path, err := s.Stage("Photo.JPG", strings.NewReader("jpeg bytes"))
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(path))
	assert.True(t, s.Owns(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(b))

	require.NoError(t, s.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, s.Remove(path), "removing twice is fine")
}

func TestStageEnforcesLimit(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStager(dir, 4)
	require.NoError(t, err)

	_, err = s.Stage("big.bin", strings.NewReader("12345"))
	assert.ErrorIs(t, err, ErrTooLarge)

	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = s.Stage("ok.bin", strings.NewReader("1234"))
	assert.NoError(t, err)
}

func TestRemoveRefusesForeignPaths(t *testing.T) {
	s, err := NewStager(t.TempDir(), 0)
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	assert.False(t, s.Owns(outside))
	assert.False(t, s.Owns(filepath.Join(s.Dir(), "..", "escape.txt")))
	assert.False(t, s.Owns(s.Dir()))
	assert.Error(t, s.Remove(outside))

	_, err = os.Stat(outside)
	assert.NoError(t, err)
}
