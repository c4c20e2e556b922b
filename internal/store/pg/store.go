package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"castbox/internal/domain"
	"castbox/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

var _ store.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

func (s *Store) Close() { s.DB.Close() }

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
	_, err = s.DB.Exec(ctx, `
		INSERT INTO scheduled_messages (id, owner_id, channel, message, subject, recipients, scheduled_time,
			repeat_policy, custom_days, status, media, job_id, previous_id, last_error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, m.ID, m.OwnerID, string(m.Channel), nullIfEmpty(m.Message), nullIfEmpty(m.Subject), recipients,
		m.ScheduledTime, string(m.Repeat), m.CustomDays, string(m.Status), media, nullIfEmpty(m.JobID),
		nullIfEmpty(m.PreviousID), nullIfEmpty(m.LastError), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (domain.ScheduledMessage, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM scheduled_messages WHERE id=$1`, id)
	m, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduledMessage{}, fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	return m, err
}

func (s *Store) ListPendingSchedules(ctx context.Context) ([]domain.ScheduledMessage, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+scheduleColumns+` FROM scheduled_messages
		WHERE status=$1 ORDER BY scheduled_time ASC
	`, string(domain.StatusPending))
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) ListSchedules(ctx context.Context, f store.ScheduleFilter) ([]domain.ScheduledMessage, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+scheduleColumns+` FROM scheduled_messages
		WHERE ($1::text = '' OR owner_id = $1) AND ($2::text = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, f.OwnerID, string(f.Status), f.EffectiveLimit())
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) UpdateScheduleStatus(ctx context.Context, in store.ScheduleStatusUpdate) (bool, error) {
	var sentAt *time.Time
	if in.To == domain.StatusSent {
		sentAt = &in.Now
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE scheduled_messages
		SET status=$3, last_error=$4, updated_at=$5, sent_at=COALESCE($6, sent_at), job_id=NULL
		WHERE id=$1 AND status=$2
	`, in.ID, string(in.From), string(in.To), nullIfEmpty(in.LastError), in.Now, sentAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) SetScheduleJob(ctx context.Context, id, jobID string) error {
	_, err := s.DB.Exec(ctx, `UPDATE scheduled_messages SET job_id=$2 WHERE id=$1`, id, nullIfEmpty(jobID))
	return err
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	ct, err := s.DB.Exec(ctx, `DELETE FROM scheduled_messages WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) InsertAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO delivery_attempts (schedule_id, channel, target, ok, provider_msg_id, error_msg, attempted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, a.ScheduleID, string(a.Channel), a.Target, a.OK, nullIfEmpty(a.ProviderMsgID), nullIfEmpty(a.Error), a.AttemptedAt)
	return err
}

func (s *Store) ListAttempts(ctx context.Context, scheduleID string) ([]domain.DeliveryAttempt, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT schedule_id, channel, target, ok, COALESCE(provider_msg_id,''), COALESCE(error_msg,''), attempted_at
		FROM delivery_attempts WHERE schedule_id=$1 ORDER BY id ASC
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		var ch string
		if err := rows.Scan(&a.ScheduleID, &ch, &a.Target, &a.OK, &a.ProviderMsgID, &a.Error, &a.AttemptedAt); err != nil {
			return nil, err
		}
		a.Channel = domain.Channel(ch)
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (domain.ScheduledMessage, error) {
	var (
		m                         domain.ScheduledMessage
		channel, repeat, status   string
		recipientsJSON, mediaJSON []byte
	)
	err := r.Scan(&m.ID, &m.OwnerID, &channel, &m.Message, &m.Subject, &recipientsJSON,
		&m.ScheduledTime, &repeat, &m.CustomDays, &status, &mediaJSON, &m.JobID,
		&m.PreviousID, &m.LastError, &m.SentAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.ScheduledMessage{}, err
	}
	m.Channel = domain.Channel(channel)
	m.Repeat = domain.Repeat(repeat)
	m.Status = domain.Status(status)
	if m.Recipients, err = store.DecodeRecipients(recipientsJSON); err != nil {
		return domain.ScheduledMessage{}, err
	}
	if m.Media, err = store.DecodeMedia(mediaJSON); err != nil {
		return domain.ScheduledMessage{}, err
	}
	return m, nil
}

func collectSchedules(rows pgx.Rows) ([]domain.ScheduledMessage, error) {
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

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
