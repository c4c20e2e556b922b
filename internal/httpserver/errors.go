package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"castbox/internal/domain"
)

const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingID        = "missing id"
	ErrMissingOwner     = "missing X-Owner-ID header"
	ErrDependency       = "dependency error"
	ErrNotFound         = "not found"
	ErrBadForm          = "bad form"
	ErrInvalidSignature = "invalid signature"
	ErrTooLarge         = "upload too large"
	ErrLocalMedia       = "media.localPath: upload the file instead"
)

// fail maps service errors onto status codes. Anything that is neither a
// validation error nor a missing record is logged and reported as 500.
func fail(w http.ResponseWriter, log *slog.Logger, err error, msg string, attrs ...any) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, ErrNotFound, http.StatusNotFound)
	default:
		log.Error(msg, append(attrs, "err", err)...)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get("X-Owner-ID")
	if owner == "" {
		http.Error(w, ErrMissingOwner, http.StatusUnauthorized)
		return "", false
	}
	return owner, true
}

func orDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
