package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"castbox/internal/domain"
)

type Dispatcher interface {
	Send(ctx context.Context, req domain.SendRequest) ([]domain.DeliveryAttempt, error)
}

// Messages sends right away instead of scheduling. The response carries one
// outcome per recipient; failed recipients do not fail the request.
type Messages struct {
	Svc   Dispatcher
	Media Stager
	Log   *slog.Logger
	// MaxUploadBytes bounds the attachment. Zero means 16MB.
	MaxUploadBytes int64
}

type sendResponse struct {
	Sent    int                      `json:"sent"`
	Failed  int                      `json:"failed"`
	Results []domain.DeliveryAttempt `json:"results"`
}

func (a *Messages) Register(r *mux.Router) {
	r.HandleFunc("/v1/messages/send", a.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages/send/upload", a.handleSendUpload).Methods(http.MethodPost)
}

func (a *Messages) handleSend(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	req.OwnerID = owner
	if rejectLocalMedia(w, req.Media) {
		return
	}
	a.send(w, r, req)
}

// handleSendUpload takes channel, message, subject, recipients and groups
// as form values and the attachment as the "media" file part. The staged
// file is removed once every recipient has been tried.
func (a *Messages) handleSendUpload(w http.ResponseWriter, r *http.Request) {
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

	req := domain.SendRequest{
		OwnerID: owner,
		Channel: domain.Channel(r.FormValue("channel")),
		Message: r.FormValue("message"),
		Subject: r.FormValue("subject"),
		Recipients: domain.Recipients{
			Direct: splitList(r.FormValue("recipients")),
			Groups: splitList(r.FormValue("groups")),
		},
	}
	ref, ok := stageMedia(w, r, a.Media, log, owner)
	if !ok {
		return
	}
	defer func() {
		if err := a.Media.Remove(ref.LocalPath); err != nil {
			log.Warn("staged media cleanup failed", "path", ref.LocalPath, "err", err)
		}
	}()
	req.Media = ref
	a.send(w, r, req)
}

func (a *Messages) send(w http.ResponseWriter, r *http.Request, req domain.SendRequest) {
	results, err := a.Svc.Send(r.Context(), req)
	if err != nil {
		fail(w, orDefault(a.Log), err, "send message failed", "owner_id", req.OwnerID, "channel", req.Channel)
		return
	}
	resp := sendResponse{Results: results}
	for _, res := range results {
		if res.OK {
			resp.Sent++
		} else {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
