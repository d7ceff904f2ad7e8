// Package gateway is the single external entry point. It composes JSON
// from backend services for page views and streams media bodies through
// without buffering them.
package gateway

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/internal/catalog"
	"github.com/ReggieReo/devops-question1/pkg/httpjson"
	"github.com/ReggieReo/devops-question1/pkg/tracing"
)

// FileNameHeader carries the original file name of an upload.
const FileNameHeader = "File-Name"

// Params groups Handler dependencies.
type Params struct {
	Backends Backends
	Client   *http.Client
	Renderer Renderer
	Logger   *zap.Logger
	// AggregateTimeout bounds page views. Streamed routes have no overall
	// deadline.
	AggregateTimeout time.Duration
	Stream           StreamOptions
}

// Handler serves the gateway routes.
type Handler struct {
	downstream *downstream
	proxy      *StreamProxy
	views      Renderer
	logger     *zap.Logger
	router     chi.Router
}

func NewHandler(p Params) *Handler {
	client := p.Client
	if client == nil {
		client = &http.Client{Transport: NewTransport(30 * time.Second)}
	}
	views := p.Renderer
	if views == nil {
		views = JSONRenderer{}
	}
	logger := p.Logger.Named("gateway")

	h := &Handler{
		downstream: &downstream{client: client, backends: p.Backends},
		proxy:      NewStreamProxy(client, p.Backends, logger.Named("proxy"), p.Stream),
		views:      views,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tracing.Middleware("gateway"))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpjson.Health)

	r.Group(func(r chi.Router) {
		if p.AggregateTimeout > 0 {
			r.Use(middleware.Timeout(p.AggregateTimeout))
		}
		r.Get("/", h.handleHome)
		r.Get("/video", h.handlePlayVideo)
		r.Get("/upload", h.handleUploadPage)
		r.Get("/history", h.handleHistory)
		r.Get("/advertise", h.handleAdvertise)
		r.Get("/api/ads", h.handleAds)
		r.Get("/api/ad/{id}", h.handleAd)
	})

	r.Get("/api/video", h.handleVideoStream)
	r.Post("/api/upload", h.handleUploadStream)
	r.Get("/api/advertise/images/{imageName}", h.handleAdImage)

	h.router = r
	return h
}

// Router exposes the configured chi router.
func (h *Handler) Router() http.Handler {
	return h.router
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	var out struct {
		Videos []catalog.Video `json:"videos"`
	}
	if err := h.downstream.getJSON(r.Context(), RoleMetadata, "/videos", nil, &out); err != nil {
		h.fail(w, r, err, "videos")
		return
	}
	if out.Videos == nil {
		out.Videos = []catalog.Video{}
	}
	h.views.Render(w, http.StatusOK, ViewVideoList, map[string]any{
		"videos": out.Videos,
	})
}

func (h *Handler) handlePlayVideo(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httpjson.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var out struct {
		Video catalog.Video `json:"video"`
	}
	if err := h.downstream.getJSON(r.Context(), RoleMetadata, "/video", url.Values{"id": {id}}, &out); err != nil {
		h.fail(w, r, err, "video")
		return
	}

	h.views.Render(w, http.StatusOK, ViewPlayVideo, map[string]any{
		"video": map[string]any{
			"metadata": out.Video,
			"url":      "/api/video?" + url.Values{"id": {id}}.Encode(),
		},
	})
}

func (h *Handler) handleUploadPage(w http.ResponseWriter, _ *http.Request) {
	h.views.Render(w, http.StatusOK, ViewUploadVideo, map[string]any{})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	var out struct {
		History json.RawMessage `json:"history"`
	}
	if err := h.downstream.getJSON(r.Context(), RoleHistory, "/history", nil, &out); err != nil {
		h.fail(w, r, err, "history")
		return
	}
	h.views.Render(w, http.StatusOK, ViewHistory, map[string]any{
		"videos": rawOrEmpty(out.History),
	})
}

func (h *Handler) handleAdvertise(w http.ResponseWriter, r *http.Request) {
	var out struct {
		Ads json.RawMessage `json:"ads"`
	}
	if err := h.downstream.getJSON(r.Context(), RoleAdvertise, "/ads", nil, &out); err != nil {
		h.fail(w, r, err, "ads")
		return
	}
	h.views.Render(w, http.StatusOK, ViewAdvertise, map[string]any{
		"ads": rawOrEmpty(out.Ads),
	})
}

func (h *Handler) handleAds(w http.ResponseWriter, r *http.Request) {
	var ads json.RawMessage
	if err := h.downstream.getJSON(r.Context(), RoleAdvertise, "/ads", nil, &ads); err != nil {
		h.fail(w, r, err, "ads")
		return
	}
	httpjson.Write(w, http.StatusOK, ads)
}

func (h *Handler) handleAd(w http.ResponseWriter, r *http.Request) {
	id, ok := pathSegment(chi.URLParam(r, "id"))
	if !ok {
		httpjson.Error(w, http.StatusBadRequest, "invalid ad id")
		return
	}

	var ad json.RawMessage
	if err := h.downstream.getJSON(r.Context(), RoleAdvertise, "/ad/"+id, nil, &ad); err != nil {
		h.fail(w, r, err, "ad")
		return
	}
	httpjson.Write(w, http.StatusOK, ad)
}

func (h *Handler) handleVideoStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httpjson.Error(w, http.StatusBadRequest, "id is required")
		return
	}
	h.proxy.Forward(w, r, ProxyRoute{
		Role:           RoleStreaming,
		Method:         http.MethodGet,
		Path:           "/video",
		Query:          url.Values{"id": {id}},
		RequestHeaders: []string{"Range", "If-Range", "If-None-Match", "If-Modified-Since"},
	})
}

func (h *Handler) handleUploadStream(w http.ResponseWriter, r *http.Request) {
	h.proxy.Forward(w, r, ProxyRoute{
		Role:           RoleUpload,
		Method:         http.MethodPost,
		Path:           "/upload",
		ForwardBody:    true,
		RequestHeaders: []string{"Content-Type", FileNameHeader},
	})
}

func (h *Handler) handleAdImage(w http.ResponseWriter, r *http.Request) {
	name, ok := pathSegment(chi.URLParam(r, "imageName"))
	if !ok {
		httpjson.Error(w, http.StatusBadRequest, "invalid image name")
		return
	}
	h.proxy.Forward(w, r, ProxyRoute{
		Role:   RoleAdvertise,
		Method: http.MethodGet,
		Path:   "/images/" + name,
	})
}

// fail maps an aggregation error. Nothing from a partial composition is
// written.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	if errors.Is(err, errNotFound) {
		httpjson.Error(w, http.StatusNotFound, what+" not found")
		return
	}
	if r.Context().Err() != nil {
		h.logger.Info("request ended before downstream answered", zap.String("path", r.URL.Path), zap.Error(err))
		return
	}
	h.logger.Error("downstream call failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	httpjson.Error(w, http.StatusBadGateway, "failed to load "+what)
}

// pathSegment decodes a route parameter for use as one backend path
// segment. Values that would leave that segment are rejected.
func pathSegment(raw string) (string, bool) {
	seg, err := url.PathUnescape(raw)
	if err != nil || seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, "/\\") {
		return "", false
	}
	return seg, true
}

func rawOrEmpty(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return []any{}
	}
	return raw
}
