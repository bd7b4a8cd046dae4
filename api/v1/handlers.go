package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mlevan/refetch/internal/data"
)

// Engine is the slice of the download engine the API consumes.
type Engine interface {
	List(ctx context.Context) (data.Records, error)
	Get(ctx context.Context, id string) (*data.Record, error)
	Add(ctx context.Context, name, source, targetPath string) (*data.Record, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
}

// DownloadHandler serves the /v1/downloads endpoints.
type DownloadHandler struct {
	l   *slog.Logger
	eng Engine
}

func NewDownloadHandler(l *slog.Logger, eng Engine) *DownloadHandler {
	return &DownloadHandler{l: l, eng: eng}
}

type addBody struct {
	Name       string `json:"name"`
	Source     string `json:"source"`
	TargetPath string `json:"targetPath"`
}

type patchBody struct {
	DesiredStatus string `json:"desiredStatus"`
}

// rwLogger captures status, byte count and handler error for the access
// log middleware.
type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyAdd struct{}
type ctxKeyPatch struct{}

func (dh *DownloadHandler) GetDownloads(w http.ResponseWriter, r *http.Request) {
	list, err := dh.eng.List(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "failed to list downloads", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := list.ToJSON(w); err != nil {
		markErr(w, err)
		http.Error(w, "Unable to marshal json", http.StatusInternalServerError)
		return
	}
}

func (dh *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := dh.eng.Get(r.Context(), id)
	if err != nil {
		markErr(w, err)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = rec.ToJSON(w)
}

func (dh *DownloadHandler) AddDownload(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyAdd{})
	body, ok := v.(addBody)
	if !ok {
		markErr(w, ErrDownloadCtx)
		http.Error(w, ErrDownloadCtx.Error(), http.StatusInternalServerError)
		return
	}

	rec, err := dh.eng.Add(r.Context(), body.Name, body.Source, body.TargetPath)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrInvalidSource):
			markErr(w, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, data.ErrConflict):
			markErr(w, err)
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			markErr(w, err)
			http.Error(w, "failed to start download", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = rec.ToJSON(w)
}

func (dh *DownloadHandler) UpdateDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	v := r.Context().Value(ctxKeyPatch{})
	body, ok := v.(patchBody)
	if !ok || body.DesiredStatus == "" {
		markErr(w, ErrDesiredStatus)
		http.Error(w, ErrDesiredStatus.Error(), http.StatusInternalServerError)
		return
	}

	var err error
	switch body.DesiredStatus {
	case "Active":
		err = dh.eng.Resume(r.Context(), id)
	case "Paused":
		err = dh.eng.Pause(r.Context(), id)
	case "Retry":
		err = dh.eng.Retry(r.Context(), id)
	case "Cancelled":
		err = dh.eng.Cancel(r.Context(), id)
	default:
		markErr(w, data.ErrBadStatus)
		http.Error(w, "Invalid desiredStatus (allowed: Active|Paused|Retry|Cancelled)", http.StatusBadRequest)
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, data.ErrNotFound):
			markErr(w, err)
			http.Error(w, "Not found", http.StatusNotFound)
		case errors.Is(err, data.ErrConflict):
			markErr(w, err)
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			markErr(w, err)
			http.Error(w, "failed to update", http.StatusInternalServerError)
		}
		return
	}

	rec, err := dh.eng.Get(r.Context(), id)
	if err != nil {
		// Cancellation removes the record asynchronously; a vanished
		// record after a successful command is not an error.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = rec.ToJSON(w)
}
