// Package streaming serves stored video bytes by id.
package streaming

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/pkg/httpjson"
	"github.com/ReggieReo/devops-question1/pkg/storage/objectstore"
	"github.com/ReggieReo/devops-question1/pkg/tracing"
)

// HTTPHandler streams objects from the store.
type HTTPHandler struct {
	store  objectstore.Client
	logger *zap.Logger
	router chi.Router
}

func NewHTTPHandler(store objectstore.Client, logger *zap.Logger) *HTTPHandler {
	h := &HTTPHandler{store: store, logger: logger.Named("streaming")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tracing.Middleware("video-streaming"))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", httpjson.Health)
	r.Get("/video", h.handleVideo)
	h.router = r

	return h
}

func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleVideo(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httpjson.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	obj, err := h.store.Get(r.Context(), id)
	if errors.Is(err, objectstore.ErrNotFound) {
		httpjson.Error(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		h.logger.Error("open video", zap.String("video_id", id), zap.Error(err))
		httpjson.Error(w, http.StatusInternalServerError, "failed to open video")
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("video stream interrupted", zap.String("video_id", id), zap.Error(err))
	}
}
