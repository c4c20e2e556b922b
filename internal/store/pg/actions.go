package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"castbox/internal/domain"
	"castbox/internal/store"
)

const actionColumns = `id, owner_id, channel, trigger_type, contact_ids, group_ids, message, is_active,
	last_executed, COALESCE(last_status,''), COALESCE(last_error,''), created_at`

func (s *Store) CreateAction(ctx context.Context, a domain.ScheduledAction) error {
	contacts, err := store.EncodeList(a.Contacts)
	if err != nil {
		return err
	}
	groups, err := store.EncodeList(a.Groups)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO scheduled_actions (id, owner_id, channel, trigger_type, contact_ids, group_ids, message, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ID, a.OwnerID, string(a.Channel), string(a.Trigger), contacts, groups, a.Message, a.IsActive, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert action %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetAction(ctx context.Context, id string) (domain.ScheduledAction, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+actionColumns+` FROM scheduled_actions WHERE id=$1`, id)
	a, err := scanAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduledAction{}, fmt.Errorf("action %s: %w", id, domain.ErrNotFound)
	}
	return a, err
}

// ListActiveActions returns active rules for a trigger, newest first.
func (s *Store) ListActiveActions(ctx context.Context, trigger domain.Trigger) ([]domain.ScheduledAction, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+actionColumns+` FROM scheduled_actions
		WHERE trigger_type=$1 AND is_active
		ORDER BY created_at DESC, id DESC
	`, string(trigger))
	if err != nil {
		return nil, err
	}
	return collectActions(rows)
}

func (s *Store) ListActions(ctx context.Context, ownerID string) ([]domain.ScheduledAction, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+actionColumns+` FROM scheduled_actions
		WHERE owner_id=$1
		ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectActions(rows)
}

func (s *Store) SetActionActive(ctx context.Context, id string, active bool) (bool, error) {
	ct, err := s.DB.Exec(ctx, `UPDATE scheduled_actions SET is_active=$2 WHERE id=$1`, id, active)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) RecordActionExecution(ctx context.Context, e domain.ActionExecution) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE scheduled_actions SET last_executed=$2, last_status=$3, last_error=$4 WHERE id=$1
	`, e.ActionID, e.At, string(e.Status), nullIfEmpty(e.Error))
	return err
}

func (s *Store) DeleteAction(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM scheduled_actions WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func scanAction(r rowScanner) (domain.ScheduledAction, error) {
	var (
		a                        domain.ScheduledAction
		channel, trigger, status string
		contactsJSON, groupsJSON []byte
	)
	err := r.Scan(&a.ID, &a.OwnerID, &channel, &trigger, &contactsJSON, &groupsJSON, &a.Message,
		&a.IsActive, &a.LastExecuted, &status, &a.LastError, &a.CreatedAt)
	if err != nil {
		return domain.ScheduledAction{}, err
	}
	a.Channel = domain.Channel(channel)
	a.Trigger = domain.Trigger(trigger)
	a.LastStatus = domain.ActionStatus(status)
	if a.Contacts, err = store.DecodeList(contactsJSON); err != nil {
		return domain.ScheduledAction{}, err
	}
	if a.Groups, err = store.DecodeList(groupsJSON); err != nil {
		return domain.ScheduledAction{}, err
	}
	return a, nil
}

func collectActions(rows pgx.Rows) ([]domain.ScheduledAction, error) {
	defer rows.Close()
	var out []domain.ScheduledAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
