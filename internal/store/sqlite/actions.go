package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_actions (id, owner_id, channel, trigger_type, contact_ids, group_ids, message, is_active, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, a.ID, a.OwnerID, string(a.Channel), string(a.Trigger), string(contacts), string(groups), a.Message, a.IsActive, nanos(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert action %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetAction(ctx context.Context, id string) (domain.ScheduledAction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM scheduled_actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledAction{}, fmt.Errorf("action %s: %w", id, domain.ErrNotFound)
	}
	return a, err
}

func (s *Store) ListActiveActions(ctx context.Context, trigger domain.Trigger) ([]domain.ScheduledAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM scheduled_actions
		WHERE trigger_type = ? AND is_active = 1
		ORDER BY created_at DESC, id DESC
	`, string(trigger))
	if err != nil {
		return nil, err
	}
	return collectActions(rows)
}

func (s *Store) ListActions(ctx context.Context, ownerID string) ([]domain.ScheduledAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM scheduled_actions
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectActions(rows)
}

func (s *Store) SetActionActive(ctx context.Context, id string, active bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_actions SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) RecordActionExecution(ctx context.Context, e domain.ActionExecution) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_actions SET last_executed = ?, last_status = ?, last_error = ? WHERE id = ?
	`, nanos(e.At), string(e.Status), nullStr(e.Error), e.ActionID)
	return err
}

func (s *Store) DeleteAction(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_actions WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanAction(r interface{ Scan(dest ...any) error }) (domain.ScheduledAction, error) {
	var (
		a                        domain.ScheduledAction
		channel, trigger, status string
		contactsJSON, groupsJSON string
		lastExecuted             sql.NullInt64
		created                  int64
	)
	err := r.Scan(&a.ID, &a.OwnerID, &channel, &trigger, &contactsJSON, &groupsJSON, &a.Message,
		&a.IsActive, &lastExecuted, &status, &a.LastError, &created)
	if err != nil {
		return domain.ScheduledAction{}, err
	}
	a.Channel = domain.Channel(channel)
	a.Trigger = domain.Trigger(trigger)
	a.LastStatus = domain.ActionStatus(status)
	a.CreatedAt = fromNanos(created)
	if lastExecuted.Valid {
		t := fromNanos(lastExecuted.Int64)
		a.LastExecuted = &t
	}
	if a.Contacts, err = store.DecodeList([]byte(contactsJSON)); err != nil {
		return domain.ScheduledAction{}, err
	}
	if a.Groups, err = store.DecodeList([]byte(groupsJSON)); err != nil {
		return domain.ScheduledAction{}, err
	}
	return a, nil
}

func collectActions(rows *sql.Rows) ([]domain.ScheduledAction, error) {
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
