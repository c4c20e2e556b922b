package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"castbox/internal/domain"
	"castbox/internal/media"
)

// parseUpload reads a multipart body of at most limit bytes of attachment
// plus form overhead. Zero means 16MB. It answers the request itself when
// it returns false.
func parseUpload(w http.ResponseWriter, r *http.Request, limit int64) bool {
	if limit <= 0 {
		limit = 16 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, ErrTooLarge, http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, ErrBadForm, http.StatusBadRequest)
		return false
	}
	return true
}

// stageMedia copies the "media" file part into the stager and returns an
// owned reference to it.
func stageMedia(w http.ResponseWriter, r *http.Request, stager Stager, log *slog.Logger, owner string) (*domain.MediaRef, bool) {
	file, header, err := r.FormFile("media")
	if err != nil {
		http.Error(w, "media: file part is required", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	path, err := stager.Stage(header.Filename, file)
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			http.Error(w, ErrTooLarge, http.StatusRequestEntityTooLarge)
			return nil, false
		}
		log.Error("stage upload failed", "err", err, "owner_id", owner, "filename", header.Filename)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return nil, false
	}
	return &domain.MediaRef{
		LocalPath: path,
		MimeType:  header.Header.Get("Content-Type"),
		Filename:  header.Filename,
		Owned:     true,
	}, true
}

// rejectLocalMedia refuses JSON bodies that point at server files. Local
// files only arrive through the upload routes.
func rejectLocalMedia(w http.ResponseWriter, m *domain.MediaRef) bool {
	if m != nil && (m.LocalPath != "" || m.Owned) {
		http.Error(w, ErrLocalMedia, http.StatusBadRequest)
		return true
	}
	return false
}
