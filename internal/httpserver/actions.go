package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"castbox/internal/domain"
)

type RuleService interface {
	AddRule(ctx context.Context, req domain.ActionRequest) (domain.ScheduledAction, error)
	DeactivateRule(ctx context.Context, ownerID, id string) error
	DeleteRule(ctx context.Context, ownerID, id string) error
	ListRules(ctx context.Context, ownerID string) ([]domain.ScheduledAction, error)
}

type Actions struct {
	Svc RuleService
	Log *slog.Logger
}

func (a *Actions) Register(r *mux.Router) {
	r.HandleFunc("/v1/actions", a.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/actions", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/actions/{id}/deactivate", a.handleDeactivate).Methods(http.MethodPost)
	r.HandleFunc("/v1/actions/{id}", a.handleDelete).Methods(http.MethodDelete)
}

func (a *Actions) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req domain.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	req.OwnerID = owner
	rule, err := a.Svc.AddRule(r.Context(), req)
	if err != nil {
		fail(w, orDefault(a.Log), err, "add action rule failed", "owner_id", owner, "trigger", req.Trigger)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (a *Actions) handleList(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	rules, err := a.Svc.ListRules(r.Context(), owner)
	if err != nil {
		fail(w, orDefault(a.Log), err, "list action rules failed", "owner_id", owner)
		return
	}
	if rules == nil {
		rules = []domain.ScheduledAction{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (a *Actions) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.Svc.DeactivateRule(r.Context(), owner, id); err != nil {
		fail(w, orDefault(a.Log), err, "deactivate action rule failed", "action_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Actions) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.Svc.DeleteRule(r.Context(), owner, id); err != nil {
		fail(w, orDefault(a.Log), err, "delete action rule failed", "action_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
