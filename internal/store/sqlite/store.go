// Package sqlite is the single node store backed by modernc.org/sqlite.
// Instants are stored as unix nanoseconds and read back in UTC.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"castbox/internal/domain"
	"castbox/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database file and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() { _ = s.db.Close() }

const scheduleColumns = `id, owner_id, channel, COALESCE(message,''), COALESCE(subject,''), recipients,
	scheduled_time, repeat_policy, custom_days, status, media, COALESCE(job_id,''),
	COALESCE(previous_id,''), COALESCE(last_error,''), sent_at, created_at, updated_at`

func (s *Store) CreateSchedule(ctx context.Context, m domain.ScheduledMessage) error {
	recipients, err := store.EncodeRecipients(m.Recipients)
	if err != nil {
		return err
	}
	media, err := store.EncodeMedia(m.Media)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_messages (id, owner_id, channel, message, subject, recipients, scheduled_time,
			repeat_policy, custom_days, status, media, job_id, previous_id, last_error, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, m.ID, m.OwnerID, string(m.Channel), nullStr(m.Message), nullStr(m.Subject), string(recipients),
		nanos(m.ScheduledTime), string(m.Repeat), m.CustomDays, string(m.Status), nullBytes(media),
		nullStr(m.JobID), nullStr(m.PreviousID), nullStr(m.LastError), nanos(m.CreatedAt), nanos(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert schedule %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (domain.ScheduledMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_messages WHERE id = ?`, id)
	m, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledMessage{}, fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	return m, err
}

func (s *Store) ListPendingSchedules(ctx context.Context) ([]domain.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM scheduled_messages
		WHERE status = ? ORDER BY scheduled_time ASC
	`, string(domain.StatusPending))
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) ListSchedules(ctx context.Context, f store.ScheduleFilter) ([]domain.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM scheduled_messages
		WHERE (? = '' OR owner_id = ?) AND (? = '' OR status = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, f.OwnerID, f.OwnerID, string(f.Status), string(f.Status), f.EffectiveLimit())
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) UpdateScheduleStatus(ctx context.Context, in store.ScheduleStatusUpdate) (bool, error) {
	var sentAt any
	if in.To == domain.StatusSent {
		sentAt = nanos(in.Now)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = ?, last_error = ?, updated_at = ?, sent_at = COALESCE(?, sent_at), job_id = NULL
		WHERE id = ? AND status = ?
	`, string(in.To), nullStr(in.LastError), nanos(in.Now), sentAt, in.ID, string(in.From))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) SetScheduleJob(ctx context.Context, id, jobID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_messages SET job_id = ? WHERE id = ?`, nullStr(jobID), id)
	return err
}

// DeleteSchedule removes the row and its attempts in one transaction.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM delivery_attempts WHERE schedule_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM scheduled_messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	return tx.Commit()
}

func (s *Store) InsertAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (schedule_id, channel, target, ok, provider_msg_id, error_msg, attempted_at)
		VALUES (?,?,?,?,?,?,?)
	`, a.ScheduleID, string(a.Channel), a.Target, a.OK, nullStr(a.ProviderMsgID), nullStr(a.Error), nanos(a.AttemptedAt))
	return err
}

func (s *Store) ListAttempts(ctx context.Context, scheduleID string) ([]domain.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule_id, channel, target, ok, COALESCE(provider_msg_id,''), COALESCE(error_msg,''), attempted_at
		FROM delivery_attempts WHERE schedule_id = ? ORDER BY id ASC
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryAttempt
	for rows.Next() {
		var (
			a  domain.DeliveryAttempt
			ch string
			at int64
		)
		if err := rows.Scan(&a.ScheduleID, &ch, &a.Target, &a.OK, &a.ProviderMsgID, &a.Error, &at); err != nil {
			return nil, err
		}
		a.Channel = domain.Channel(ch)
		a.AttemptedAt = fromNanos(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanSchedule(r interface{ Scan(dest ...any) error }) (domain.ScheduledMessage, error) {
	var (
		m                           domain.ScheduledMessage
		channel, repeat, status     string
		recipientsJSON              string
		mediaJSON                   sql.NullString
		scheduled, created, updated int64
		sentAt                      sql.NullInt64
	)
	err := r.Scan(&m.ID, &m.OwnerID, &channel, &m.Message, &m.Subject, &recipientsJSON,
		&scheduled, &repeat, &m.CustomDays, &status, &mediaJSON, &m.JobID,
		&m.PreviousID, &m.LastError, &sentAt, &created, &updated)
	if err != nil {
		return domain.ScheduledMessage{}, err
	}
	m.Channel = domain.Channel(channel)
	m.Repeat = domain.Repeat(repeat)
	m.Status = domain.Status(status)
	m.ScheduledTime = fromNanos(scheduled)
	m.CreatedAt = fromNanos(created)
	m.UpdatedAt = fromNanos(updated)
	if sentAt.Valid {
		t := fromNanos(sentAt.Int64)
		m.SentAt = &t
	}
	if m.Recipients, err = store.DecodeRecipients([]byte(recipientsJSON)); err != nil {
		return domain.ScheduledMessage{}, err
	}
	if mediaJSON.Valid {
		if m.Media, err = store.DecodeMedia([]byte(mediaJSON.String)); err != nil {
			return domain.ScheduledMessage{}, err
		}
	}
	return m, nil
}

func collectSchedules(rows *sql.Rows) ([]domain.ScheduledMessage, error) {
	defer rows.Close()
	var out []domain.ScheduledMessage
	for rows.Next() {
		m, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
