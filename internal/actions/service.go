package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"castbox/internal/domain"
	"castbox/internal/store"
	"castbox/internal/util"
)

// Service manages action rules. Every write invalidates the rule cache.
type Service struct {
	Store store.Actions
	Cache *RuleCache
	Log   *slog.Logger
	Now   func() time.Time
	NewID func() string
}

func (s *Service) AddRule(ctx context.Context, req domain.ActionRequest) (domain.ScheduledAction, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.ScheduledAction{}, err
	}
	a := domain.ScheduledAction{
		ID:        s.id(),
		OwnerID:   req.OwnerID,
		Channel:   req.Channel,
		Trigger:   req.Trigger,
		Contacts:  req.Contacts,
		Groups:    req.Groups,
		Message:   req.Message,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if err := s.Store.CreateAction(ctx, a); err != nil {
		return domain.ScheduledAction{}, fmt.Errorf("add rule: %w", err)
	}
	s.Cache.Invalidate()
	s.log().Info("action rule added", "action_id", a.ID, "owner_id", a.OwnerID, "trigger", a.Trigger)
	return a, nil
}

func (s *Service) DeactivateRule(ctx context.Context, ownerID, id string) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}
	if _, err := s.Store.SetActionActive(ctx, id, false); err != nil {
		return fmt.Errorf("deactivate rule %s: %w", id, err)
	}
	s.Cache.Invalidate()
	s.log().Info("action rule deactivated", "action_id", id, "owner_id", ownerID)
	return nil
}

func (s *Service) DeleteRule(ctx context.Context, ownerID, id string) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}
	if _, err := s.Store.DeleteAction(ctx, id); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	s.Cache.Invalidate()
	s.log().Info("action rule deleted", "action_id", id, "owner_id", ownerID)
	return nil
}

func (s *Service) ListRules(ctx context.Context, ownerID string) ([]domain.ScheduledAction, error) {
	return s.Store.ListActions(ctx, ownerID)
}

func (s *Service) owned(ctx context.Context, ownerID, id string) (domain.ScheduledAction, error) {
	a, err := s.Store.GetAction(ctx, id)
	if err != nil {
		return domain.ScheduledAction{}, err
	}
	if a.OwnerID != ownerID {
		return domain.ScheduledAction{}, fmt.Errorf("action %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (s *Service) id() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return util.NewActionID()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return util.NowUTC()
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
