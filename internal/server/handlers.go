package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/clipopera/internal/encoder"
	"github.com/maauso/clipopera/internal/export"
	"github.com/maauso/clipopera/internal/render"
	"github.com/maauso/clipopera/internal/session"
	"github.com/maauso/clipopera/internal/source"
)

// DefaultMaxUploadBytes bounds a single media upload.
const DefaultMaxUploadBytes int64 = 200 << 20

// multipartMemory is how much of an upload is kept in memory before
// spilling to disk.
const multipartMemory = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	registry       *session.Registry
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of media uploads.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(registry *session.Registry, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		registry:       registry,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateSession handles POST /sessions requests.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	cfg := session.Config{
		Width:   req.Width,
		Height:  req.Height,
		FitMode: render.FitMode(req.FitMode),
	}
	s, err := h.registry.Create(cfg)
	if err != nil {
		h.logger.Error("failed to create session",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create session", "SESSION_CREATION_FAILED")
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

// ListSessions handles GET /sessions requests.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.List()
	resp := SessionListResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSession handles GET /sessions/{id} requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// DeleteSession handles DELETE /sessions/{id} requests.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetFit handles PUT /sessions/{id}/fit requests.
func (h *Handlers) SetFit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req FitRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := s.SetFitMode(render.FitMode(req.Mode)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// UploadMedia handles POST /sessions/{id}/media requests. The file is sent
// as the multipart field "file".
func (h *Handlers) UploadMedia(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if r.ContentLength > h.maxUploadBytes {
		h.writeTooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeTooLarge(w)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_REQUEST")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required", "MISSING_FILE")
		return
	}
	defer func() { _ = file.Close() }()

	handle, err := s.LoadMedia(r.Context(), source.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		h.logger.Warn("media load failed",
			slog.String("session_id", s.ID),
			slog.String("file", header.Filename),
			slog.String("error", err.Error()),
		)
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("media loaded",
		slog.String("session_id", s.ID),
		slog.String("kind", string(handle.Kind())),
		slog.Int64("bytes", header.Size),
	)
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// Preview handles GET /sessions/{id}/preview.png requests.
func (h *Handlers) Preview(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := s.Preview(&buf); err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// CreateExport handles POST /sessions/{id}/exports requests.
func (h *Handlers) CreateExport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req CreateExportRequest
	if !h.decode(w, r, &req) {
		return
	}

	format, err := encoder.ParseFormat(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	// The job runs past the end of this request.
	job, _, err := s.StartExport(r.Context(), format, export.Options{PushToS3: req.PushToS3})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("export accepted",
		slog.String("session_id", s.ID),
		slog.String("job_id", job.ID),
		slog.String("format", string(format)),
	)
	writeJSON(w, http.StatusAccepted, CreateExportResponse{
		ID:     job.ID,
		Status: string(job.Status),
	})
}

// ListExports handles GET /sessions/{id}/exports requests.
func (h *Handlers) ListExports(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	jobs, err := s.Jobs(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetExport handles GET /sessions/{id}/exports/{jobID} requests.
func (h *Handlers) GetExport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	job, err := s.Job(r.Context(), r.PathValue("jobID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// GetArtifact handles GET /sessions/{id}/exports/{jobID}/artifact requests.
// The artifact is offered as a download named clipopera.<ext>.
func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	job, err := s.Job(r.Context(), r.PathValue("jobID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if job.Status != export.StatusDone || job.Artifact == nil {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("artifact not ready: job is %s", job.Status), "ARTIFACT_NOT_READY")
		return
	}

	blob := job.Artifact
	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+blob.Name)
	w.Header().Set("Content-Length", strconv.Itoa(blob.Size()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Data)
}

// session resolves the {id} path value, writing a 404 when it is unknown.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session ID is required", "MISSING_SESSION_ID")
		return nil, false
	}
	s, err := h.registry.Get(sessionID)
	if err != nil {
		h.writeDomainError(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handlers) writeTooLarge(w http.ResponseWriter) {
	writeError(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes), "PAYLOAD_TOO_LARGE")
}

// decode reads a JSON body into dst and validates it.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeDomainError maps a domain error to its HTTP status and code.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
	case errors.Is(err, export.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "export job not found", "JOB_NOT_FOUND")
	case errors.Is(err, source.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error(), "UNSUPPORTED_TYPE")
	case errors.Is(err, source.ErrSourceTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error(), "SOURCE_TOO_LARGE")
	case errors.Is(err, source.ErrLoadTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error(), "LOAD_TIMEOUT")
	case errors.Is(err, export.ErrExportInProgress):
		writeError(w, http.StatusConflict, err.Error(), "EXPORT_IN_PROGRESS")
	case errors.Is(err, export.ErrNoMediaLoaded):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "NO_MEDIA_LOADED")
	case errors.Is(err, export.ErrEncoderInitFailed):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "ENCODER_INIT_FAILED")
	case errors.Is(err, render.ErrUnknownFitMode), errors.Is(err, encoder.ErrUnknownFormat):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		h.logger.Error("request failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

func toSessionResponse(s *session.Session) SessionResponse {
	w, h := s.Size()
	resp := SessionResponse{
		ID:          s.ID,
		Width:       w,
		Height:      h,
		FitMode:     string(s.FitMode()),
		ExportState: string(s.ExportState()),
		CreatedAt:   s.CreatedAt,
	}
	if m := s.Media(); m != nil {
		mw, mh := m.Size()
		resp.Media = &MediaResponse{
			Kind:    string(m.Kind()),
			Name:    m.Name(),
			Width:   mw,
			Height:  mh,
			Playing: m.Playing(),
		}
	}
	return resp
}

func toJobResponse(j *export.Job) JobResponse {
	resp := JobResponse{
		ID:             j.ID,
		Format:         string(j.Format),
		Status:         string(j.Status),
		Progress:       j.Progress(),
		FramesCaptured: j.FramesCaptured,
		Reason:         string(j.Reason),
		Error:          j.Error,
		ArtifactURL:    j.ArtifactURL,
	}
	if j.Artifact != nil {
		resp.ArtifactName = j.Artifact.Name
		resp.ArtifactSize = j.Artifact.Size()
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
