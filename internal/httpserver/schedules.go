package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"castbox/internal/domain"
)

type Scheduler interface {
	Schedule(ctx context.Context, req domain.ScheduleRequest) (domain.ScheduledMessage, error)
	Get(ctx context.Context, ownerID, id string) (domain.ScheduledMessage, error)
	List(ctx context.Context, ownerID string, status domain.Status) ([]domain.ScheduledMessage, error)
	Attempts(ctx context.Context, ownerID, id string) ([]domain.DeliveryAttempt, error)
	Cancel(ctx context.Context, ownerID, id string) error
	Delete(ctx context.Context, ownerID, id string) error
}

type Stager interface {
	Stage(name string, r io.Reader) (string, error)
	Remove(path string) error
}

type Schedules struct {
	Svc   Scheduler
	Media Stager
	Log   *slog.Logger
	// MaxUploadBytes bounds the whole multipart body. Zero means 16MB.
	MaxUploadBytes int64
}

func (a *Schedules) Register(r *mux.Router) {
	r.HandleFunc("/v1/schedules", a.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/schedules/upload", a.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/v1/schedules", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/schedules/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/schedules/{id}/attempts", a.handleAttempts).Methods(http.MethodGet)
	r.HandleFunc("/v1/schedules/{id}", a.handleDelete).Methods(http.MethodDelete)
}

func (a *Schedules) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req domain.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	req.OwnerID = owner
	if rejectLocalMedia(w, req.Media) {
		return
	}

	m, err := a.Svc.Schedule(r.Context(), req)
	if err != nil {
		fail(w, orDefault(a.Log), err, "schedule message failed", "owner_id", owner, "channel", req.Channel)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// handleUpload takes the request fields as form values and the attachment
// as the "media" file part. Recipients are comma separated.
func (a *Schedules) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := orDefault(a.Log)
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	if a.Media == nil {
		http.Error(w, "uploads are disabled", http.StatusNotImplemented)
		return
	}
	if !parseUpload(w, r, a.MaxUploadBytes) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req, err := formRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.OwnerID = owner

	ref, ok := stageMedia(w, r, a.Media, log, owner)
	if !ok {
		return
	}
	req.Media = ref
	path := ref.LocalPath

	m, err := a.Svc.Schedule(r.Context(), req)
	if err != nil {
		if rmErr := a.Media.Remove(path); rmErr != nil {
			log.Warn("staged media cleanup failed", "path", path, "err", rmErr)
		}
		fail(w, log, err, "schedule upload failed", "owner_id", owner, "channel", req.Channel)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func formRequest(r *http.Request) (domain.ScheduleRequest, error) {
	req := domain.ScheduleRequest{
		Channel: domain.Channel(r.FormValue("channel")),
		Message: r.FormValue("message"),
		Subject: r.FormValue("subject"),
		Repeat:  domain.Repeat(r.FormValue("repeat")),
		Recipients: domain.Recipients{
			Direct: splitList(r.FormValue("recipients")),
			Groups: splitList(r.FormValue("groups")),
		},
	}
	if v := r.FormValue("scheduledTime"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return req, errors.New("scheduledTime: must be RFC 3339")
		}
		req.ScheduledTime = t
	}
	if v := r.FormValue("customDays"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.New("customDays: must be an integer")
		}
		req.CustomDays = n
	}
	return req, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func (a *Schedules) handleList(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	status := domain.Status(r.URL.Query().Get("status"))
	list, err := a.Svc.List(r.Context(), owner, status)
	if err != nil {
		fail(w, orDefault(a.Log), err, "list schedules failed", "owner_id", owner, "status", status)
		return
	}
	if list == nil {
		list = []domain.ScheduledMessage{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *Schedules) handleGet(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	m, err := a.Svc.Get(r.Context(), owner, id)
	if err != nil {
		fail(w, orDefault(a.Log), err, "get schedule failed", "schedule_id", id)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *Schedules) handleAttempts(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	attempts, err := a.Svc.Attempts(r.Context(), owner, id)
	if err != nil {
		fail(w, orDefault(a.Log), err, "list attempts failed", "schedule_id", id)
		return
	}
	if attempts == nil {
		attempts = []domain.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// handleDelete cancels the message. With ?purge=true the record and its
// attempts are removed too.
func (a *Schedules) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	var err error
	if purge, _ := strconv.ParseBool(r.URL.Query().Get("purge")); purge {
		err = a.Svc.Delete(r.Context(), owner, id)
	} else {
		err = a.Svc.Cancel(r.Context(), owner, id)
	}
	if err != nil {
		fail(w, orDefault(a.Log), err, "cancel schedule failed", "schedule_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
