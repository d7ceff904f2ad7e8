package metadata

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/pkg/httpjson"
	"github.com/ReggieReo/devops-question1/pkg/tracing"
)

// HTTPHandler exposes catalog queries.
type HTTPHandler struct {
	service *Service
	logger  *zap.Logger
	router  chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger) *HTTPHandler {
	h := &HTTPHandler{
		service: service,
		logger:  logger.Named("metadata"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tracing.Middleware("metadata"))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", httpjson.Health)
	r.Get("/videos", h.handleList)
	r.Get("/video", h.handleGet)

	h.router = r
	return h
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	videos, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list videos", zap.Error(err))
		httpjson.Error(w, http.StatusInternalServerError, "failed to list videos")
		return
	}

	httpjson.Write(w, http.StatusOK, map[string]any{
		"videos": videos,
	})
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httpjson.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	video, ok, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("get video", zap.String("video_id", id), zap.Error(err))
		httpjson.Error(w, http.StatusInternalServerError, "failed to get video")
		return
	}
	if !ok {
		httpjson.Error(w, http.StatusNotFound, "video not found")
		return
	}

	httpjson.Write(w, http.StatusOK, map[string]any{
		"video": video,
	})
}
