package email

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"castbox/internal/channel"
	"castbox/internal/domain"
)

type fakeDialer struct {
	msgs []*mail.Msg
	err  error
}

func (f *fakeDialer) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	f.msgs = append(f.msgs, messages...)
	return f.err
}

func render(t *testing.T, m *mail.Msg) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func TestSendComposesMessage(t *testing.T) {
	d := &fakeDialer{}
	s := &Sender{Client: d, From: "noreply@example.com"}

	rcpt, err := s.Send(context.Background(), "ana@example.com", channel.Message{
		Text:    "Monthly report",
		Subject: "Report",
		Media:   &domain.MediaRef{URL: "https://cdn.example.com/r.pdf"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rcpt.ProviderMsgID)
	require.Len(t, d.msgs, 1)

	out := render(t, d.msgs[0])
	assert.Contains(t, out, "Subject: Report")
	assert.Contains(t, out, "ana@example.com")
	assert.Contains(t, out, "https://cdn.example.com/r.pdf")
}

func TestSendAttachesLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invoice.txt")
	require.NoError(t, os.WriteFile(path, []byte("total 10"), 0o600))

	d := &fakeDialer{}
	s := &Sender{Client: d, From: "noreply@example.com"}
	_, err := s.Send(context.Background(), "ana@example.com", channel.Message{
		Text:  "see attached",
		Media: &domain.MediaRef{LocalPath: path},
	})
	require.NoError(t, err)
	assert.Contains(t, render(t, d.msgs[0]), `filename="invoice.txt"`)
}

func TestSendAttachesInlineData(t *testing.T) {
	d := &fakeDialer{}
	s := &Sender{Client: d, From: "noreply@example.com"}

	_, err := s.Send(context.Background(), "ana@example.com", channel.Message{
		Media: &domain.MediaRef{Data: []byte("hello"), Filename: "note.txt"},
	})
	require.NoError(t, err)
	out := render(t, d.msgs[0])
	assert.Contains(t, out, `filename="note.txt"`)
	assert.Contains(t, out, "aGVsbG8=")
}

func TestSendFailsWhenStagedFileIsGone(t *testing.T) {
	d := &fakeDialer{}
	s := &Sender{Client: d, From: "noreply@example.com"}

	for _, path := range []string{filepath.Join(t.TempDir(), "gone.pdf"), t.TempDir()} {
		_, err := s.Send(context.Background(), "ana@example.com", channel.Message{
			Text:  "see attached",
			Media: &domain.MediaRef{LocalPath: path},
		})
		var ce *channel.Error
		require.True(t, errors.As(err, &ce), path)
		assert.False(t, ce.Transient)
	}
	assert.Empty(t, d.msgs, "nothing is sent without its attachment")
}

func TestSendRejectsBadAddress(t *testing.T) {
	d := &fakeDialer{}
	s := &Sender{Client: d, From: "noreply@example.com"}

	_, err := s.Send(context.Background(), "not an address", channel.Message{Text: "x"})
	require.Error(t, err)
	assert.False(t, channel.IsTransient(err))
	assert.Empty(t, d.msgs)
}

func TestSendDialFailureIsTransient(t *testing.T) {
	d := &fakeDialer{err: errors.New("dial tcp: connection refused")}
	s := &Sender{Client: d, From: "noreply@example.com"}

	_, err := s.Send(context.Background(), "ana@example.com", channel.Message{Text: "x"})
	assert.True(t, channel.IsTransient(err))
}
