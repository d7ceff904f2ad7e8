package upload

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/pkg/httpjson"
	"github.com/ReggieReo/devops-question1/pkg/tracing"
)

// FileNameHeader carries the original file name of an upload.
const FileNameHeader = "File-Name"

// HTTPHandler exposes the upload endpoint.
type HTTPHandler struct {
	service      *Service
	logger       *zap.Logger
	maxSizeBytes int64
	router       chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger, maxSizeBytes int64) *HTTPHandler {
	h := &HTTPHandler{
		service:      service,
		logger:       logger,
		maxSizeBytes: maxSizeBytes,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tracing.Middleware("video-upload"))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpjson.Health)
	r.With(middleware.Timeout(30*time.Minute)).Post("/upload", h.handleUpload)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	fileName := r.Header.Get(FileNameHeader)
	if fileName == "" {
		httpjson.Error(w, http.StatusBadRequest, "file-name header is required")
		return
	}

	if r.ContentLength > h.maxSizeBytes {
		httpjson.Error(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body := http.MaxBytesReader(w, r.Body, h.maxSizeBytes)
	defer body.Close()

	result, err := h.service.ProcessUpload(r.Context(), body, r.ContentLength, UploadOptions{
		FileName:    fileName,
		ContentType: contentType,
	})
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			httpjson.Error(w, http.StatusRequestEntityTooLarge, "payload too large")
		case errors.Is(err, ErrEmptyUpload):
			httpjson.Error(w, http.StatusBadRequest, "empty upload")
		default:
			h.logger.Error("upload failed", zap.Error(err), zap.String("file_name", fileName))
			httpjson.Error(w, http.StatusInternalServerError, "upload failed")
		}
		return
	}

	httpjson.Write(w, http.StatusOK, map[string]any{
		"id":          result.VideoID,
		"name":        result.Name,
		"checksum":    result.Checksum,
		"size_bytes":  result.Size,
		"uploaded_at": result.UploadedAt,
	})
}
