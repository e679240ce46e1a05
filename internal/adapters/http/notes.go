package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
)

const (
	imagesField        = "images"
	userIDHeader       = "X-User-Id"
	userPlanHeader     = "X-User-Plan"
	multipartMemory    = 8 << 20
	multipartOverhead  = 1 << 20
	defaultMaxFiles    = 3
	defaultMaxFileSize = 10 << 20
)

func (rt *Router) uploadNote(w http.ResponseWriter, r *http.Request) {
	maxFiles := rt.cfg.UploadMaxFiles
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}
	maxBytes := rt.cfg.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileSize
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(maxFiles)*maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart form with field 'images' is required")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[imagesField]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "multipart field 'images' is required")
		return
	}
	if len(headers) > maxFiles {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d images are allowed", maxFiles))
		return
	}

	method, ok := domain.ParseOrganizeMethod(strings.TrimSpace(r.FormValue("organize_method")))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown organize_method")
		return
	}

	images := make([]ports.UploadImage, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxBytes {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("image %q exceeds %d bytes", fh.Filename, maxBytes))
			return
		}
		file, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("read image %q", fh.Filename))
			return
		}
		defer file.Close()
		images = append(images, ports.UploadImage{Filename: fh.Filename, Body: file})
	}

	note, err := rt.ingest.Upload(r.Context(), ports.UploadRequest{
		UserID:         strings.TrimSpace(r.Header.Get(userIDHeader)),
		UserPlan:       domain.ParseUserPlan(strings.TrimSpace(r.Header.Get(userPlanHeader))),
		Title:          r.FormValue("title"),
		OrganizeMethod: method,
		Images:         images,
	})
	if err != nil {
		rt.writeDomainError(w, r, "upload", err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, string(note.OrganizeMethod), len(note.ImagePaths))
	}
	writeJSON(w, http.StatusAccepted, note)
}

func (rt *Router) processNote(w http.ResponseWriter, r *http.Request) {
	res, err := rt.dispatcher.SubmitProcess(r.Context(), r.PathValue("note_id"))
	rt.respondCommand(w, r, "process", http.StatusAccepted, res, err)
}

func (rt *Router) reprocessNote(w http.ResponseWriter, r *http.Request) {
	res, err := rt.dispatcher.SubmitReprocess(r.Context(), r.PathValue("note_id"))
	rt.respondCommand(w, r, "reprocess", http.StatusAccepted, res, err)
}

type confirmRequest struct {
	UseAlternateMethod bool `json:"use_alternate_method"`
}

func (rt *Router) confirmNoteType(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := rt.pipeline.ConfirmType(r.Context(), r.PathValue("note_id"), req.UseAlternateMethod)
	rt.respondCommand(w, r, "confirm", http.StatusOK, res, err)
}

func (rt *Router) noteStatus(w http.ResponseWriter, r *http.Request) {
	res, err := rt.pipeline.Status(r.Context(), r.PathValue("note_id"))
	if err != nil {
		rt.writeDomainError(w, r, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) respondCommand(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	okStatus int,
	res *domain.ProcessResult,
	err error,
) {
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordCommand(serviceName, action, "error")
		}
		rt.writeDomainError(w, r, action, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordCommand(serviceName, action, string(res.Status))
	}
	writeJSON(w, okStatus, res)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		requestLogger(r.Context(), rt.logger).Error("note_request_failed",
			slog.String("action", action),
			slog.String("note_id", r.PathValue("note_id")),
			slog.String("error", err.Error()),
		)
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
