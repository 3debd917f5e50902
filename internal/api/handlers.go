package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kataras/figma-slides/internal/apperr"
	"github.com/kataras/figma-slides/internal/blob"
	"github.com/kataras/figma-slides/internal/session"
	"github.com/kataras/figma-slides/internal/slides"
	"github.com/kataras/figma-slides/internal/sse"
	"github.com/kataras/figma-slides/internal/store"
	"github.com/kataras/figma-slides/pkg/figma"
	"github.com/kataras/figma-slides/pkg/formatter"
	"github.com/kataras/figma-slides/pkg/imager"
	"github.com/kataras/figma-slides/pkg/syncer"
)

// Handler holds API route handlers.
type Handler struct {
	svc          *slides.Service
	sessions     *session.Manager
	events       *sse.Broker
	signedURLTTL time.Duration
	logger       syncer.Logger
}

// progress broadcasts sync progress for fileKey on the event stream.
func (h *Handler) progress(fileKey string) syncer.ProgressFunc {
	return func(index, total int, frameName string, slide *syncer.SlideDescriptor) {
		data := map[string]any{
			"file_key": fileKey,
			"index":    index,
			"total":    total,
			"frame":    frameName,
			"ok":       slide != nil,
		}
		h.events.Publish(sse.Event{Type: sse.EventSyncProgress, Data: data})
	}
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// FileKey handles GET /api/figma/file-key?url=.
func (h *Handler) FileKey(w http.ResponseWriter, r *http.Request) {
	key, err := figma.ExtractFileKey(r.URL.Query().Get("url"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, FileKeyResponse{FileKey: key})
}

// Import handles POST /api/figma/import.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ImportRequest
	if err := decodeValidate(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	fileKey, err := figma.ExtractFileKey(req.URL)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err))
		return
	}

	res, err := h.svc.Import(r.Context(), req.URL, h.progress(fileKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.synced(res)
	writeJSON(w, http.StatusOK, SyncResponse{FileKey: res.FileKey, Frames: res.Frames, Slides: res.Slides})
}

// SyncFile handles POST /api/figma/files/{fileKey}/sync.
func (h *Handler) SyncFile(w http.ResponseWriter, r *http.Request) {
	fileKey := chi.URLParam(r, "fileKey")
	res, err := h.svc.SyncFile(r.Context(), fileKey, h.progress(fileKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.synced(res)
	writeJSON(w, http.StatusOK, SyncResponse{FileKey: res.FileKey, Frames: res.Frames, Slides: res.Slides})
}

func (h *Handler) synced(res *slides.ImportResult) {
	for _, s := range res.Slides {
		h.events.PublishSlideEvent(sse.EventSlideSynced, res.FileKey, s.ID)
	}
	h.sessions.ManualSync(res.FileKey)
}

// CheckFile handles POST /api/figma/files/{fileKey}/check.
func (h *Handler) CheckFile(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.CheckNow(r.Context(), chi.URLParam(r, "fileKey"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// NewFrames handles GET /api/figma/files/{fileKey}/new.
func (h *Handler) NewFrames(w http.ResponseWriter, r *http.Request) {
	fileKey := chi.URLParam(r, "fileKey")
	frames, err := h.svc.DetectNew(r.Context(), fileKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewFramesResponse{FileKey: fileKey, Frames: frames})
}

// FileStatus handles GET /api/figma/files/{fileKey}/status.
func (h *Handler) FileStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := h.sessions.Status(chi.URLParam(r, "fileKey"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("file is not watched"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Report handles GET /api/figma/files/{fileKey}/report. It renders HTML
// unless format=md is given.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Report(r.Context(), chi.URLParam(r, "fileKey"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, formatter.ToMarkdown(report))
		return
	}

	html, err := formatter.ToHTML(report)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, html)
}

// ListSlides handles GET /api/slides[?file=].
func (h *Handler) ListSlides(w http.ResponseWriter, r *http.Request) {
	var (
		list []*store.Slide
		err  error
	)
	if fileKey := r.URL.Query().Get("file"); fileKey != "" {
		list, err = h.svc.ListByFile(r.Context(), fileKey)
	} else {
		list, err = h.svc.List(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlideListResponse{Slides: list, Total: len(list)})
}

// GetSlide handles GET /api/slides/{id}.
func (h *Handler) GetSlide(w http.ResponseWriter, r *http.Request) {
	slide, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slide)
}

// SlideImage handles GET /api/slides/{id}/image. Buckets that sign URLs get
// a redirect; others stream the object.
func (h *Handler) SlideImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	url, err := h.svc.ImageURL(r.Context(), id, h.signedURLTTL)
	if err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	if !errors.Is(err, blob.ErrSigningUnsupported) {
		h.writeError(w, r, err)
		return
	}

	rc, contentType, err := h.svc.Image(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=60")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("image stream interrupted", "slide", id, "error", err)
	}
}

// UploadSlide handles POST /api/slides. The body is either a multipart form
// ("file", optional "name") or JSON carrying the image as a data URI.
func (h *Handler) UploadSlide(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*slides.MaxUploadSize)

	var (
		name string
		data []byte
		err  error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		name, data, err = readDataURIUpload(r)
	} else {
		name, data, err = readMultipartUpload(r)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	slide, err := h.svc.Upload(r.Context(), name, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.events.PublishSlideEvent(sse.EventSlideCreated, "", slide.ID)
	writeJSON(w, http.StatusCreated, slide)
}

func readDataURIUpload(r *http.Request) (string, []byte, error) {
	var req UploadDataURIRequest
	if err := decodeValidate(r.Body, &req); err != nil {
		return "", nil, err
	}
	data, _, err := imager.ParseDataURI(req.DataURI)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	return req.Name, data, nil
}

func readMultipartUpload(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(slides.MaxUploadSize); err != nil {
		return "", nil, fmt.Errorf("%w: invalid multipart form or file too large", apperr.ErrInvalidInput)
	}

	req := UploadRequest{Name: r.FormValue("name")}
	if err := validate.Struct(req); err != nil {
		return "", nil, fmt.Errorf("%w: name is too long", apperr.ErrInvalidInput)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("%w: file is required", apperr.ErrInvalidInput)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, slides.MaxUploadSize+1))
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to read file", apperr.ErrInvalidInput)
	}
	return req.Name, data, nil
}

// DeleteSlide handles DELETE /api/slides/{id}.
func (h *Handler) DeleteSlide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	slide, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.events.PublishSlideEvent(sse.EventSlideDeleted, slide.RemoteFileID, id)
	w.WriteHeader(http.StatusNoContent)
}

// SyncSlide handles POST /api/slides/{id}/sync.
func (h *Handler) SyncSlide(w http.ResponseWriter, r *http.Request) {
	slide, err := h.svc.SyncSlide(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.events.PublishSlideEvent(sse.EventSlideSynced, slide.RemoteFileID, slide.ID)
	h.sessions.ManualSync(slide.RemoteFileID)
	writeJSON(w, http.StatusOK, slide)
}
