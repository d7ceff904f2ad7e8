package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/pkg/httpjson"
	"github.com/ReggieReo/devops-question1/pkg/metrics"
	"github.com/ReggieReo/devops-question1/pkg/tracing"
)

const defaultBufferBytes = 32 << 10

// Response headers relayed from a backend. Everything else, hop-by-hop
// headers included, is dropped.
var responseHeaderAllowList = []string{
	"Content-Type",
	"Content-Disposition",
	"Content-Range",
	"Accept-Ranges",
	"Last-Modified",
	"ETag",
	"File-Name",
}

var (
	errCallerGone = errors.New("caller connection failed")
	errStreamIdle = errors.New("stream idle timeout")
)

// ProxyRoute describes one streamed call to a backend.
type ProxyRoute struct {
	Role   Role
	Method string
	Path   string
	Query  url.Values
	// ForwardBody streams the caller's request body to the backend.
	ForwardBody bool
	// RequestHeaders lists caller headers copied onto the backend request.
	RequestHeaders []string
}

// StreamProxy relays bodies between caller and backend without buffering
// them whole. Memory per transfer is one copy buffer.
type StreamProxy struct {
	client      *http.Client
	backends    Backends
	logger      *zap.Logger
	idleTimeout time.Duration
	buffers     sync.Pool
}

// StreamOptions tune a StreamProxy.
type StreamOptions struct {
	BufferBytes int
	IdleTimeout time.Duration
}

func NewStreamProxy(client *http.Client, backends Backends, logger *zap.Logger, opts StreamOptions) *StreamProxy {
	size := opts.BufferBytes
	if size <= 0 {
		size = defaultBufferBytes
	}
	return &StreamProxy{
		client:      client,
		backends:    backends,
		logger:      logger,
		idleTimeout: opts.IdleTimeout,
		buffers: sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// Forward performs route on behalf of r and relays the answer to w.
//
// Failures before the first byte produce a JSON error. A backend failure
// after bytes were sent aborts the caller's connection so a truncated body
// is never mistaken for a complete one.
func (p *StreamProxy) Forward(w http.ResponseWriter, r *http.Request, route ProxyRoute) {
	role := string(route.Role)
	logger := p.logger.With(
		zap.String("role", role),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	target, err := p.backends.URL(route.Role, route.Path, route.Query)
	if err != nil {
		logger.Error("resolve backend", zap.Error(err))
		httpjson.Error(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	var body io.Reader = http.NoBody
	if route.ForwardBody && r.Body != nil {
		body = r.Body
		if err := http.NewResponseController(w).EnableFullDuplex(); err != nil {
			logger.Debug("full duplex unavailable", zap.Error(err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, target, body)
	if err != nil {
		logger.Error("build backend request", zap.Error(err))
		httpjson.Error(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	if route.ForwardBody {
		req.ContentLength = r.ContentLength
	}
	copyHeaders(req.Header, r.Header, route.RequestHeaders)
	tracing.Inject(ctx, req.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			metrics.RecordDownstream(role, "canceled")
			logger.Info("caller went away before backend answered")
			return
		}
		metrics.RecordDownstream(role, "error")
		logger.Warn("backend request failed", zap.String("target", target), zap.Error(err))
		httpjson.Error(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.RecordDownstream(role, statusOutcome(resp.StatusCode))
		status := resp.StatusCode
		if status >= http.StatusInternalServerError {
			status = http.StatusBadGateway
			logger.Warn("backend answered with server error", zap.Int("backend_status", resp.StatusCode))
		}
		httpjson.Error(w, status, strings.ToLower(http.StatusText(status)))
		return
	}

	copyHeaders(w.Header(), resp.Header, responseHeaderAllowList)
	if resp.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	w.WriteHeader(resp.StatusCode)

	n, err := p.relay(ctx, cancel, w, resp.Body)
	metrics.RecordProxiedBytes(role, n)
	switch {
	case err == nil:
		metrics.RecordDownstream(role, "ok")
	case errors.Is(err, errCallerGone) || r.Context().Err() != nil:
		metrics.RecordDownstream(role, "canceled")
		logger.Info("caller disconnected mid-stream", zap.Int64("bytes", n), zap.Error(err))
	default:
		metrics.RecordDownstream(role, "aborted")
		logger.Warn("backend stream failed mid-transfer",
			zap.Int64("bytes", n),
			zap.Error(err),
			zap.NamedError("cause", context.Cause(ctx)),
		)
		panic(http.ErrAbortHandler)
	}
}

// relay copies src to w one buffer at a time, flushing after every chunk.
// A stall longer than the idle timeout in either direction cancels the
// backend request.
func (p *StreamProxy) relay(ctx context.Context, cancel context.CancelCauseFunc, w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)

	bufp := p.buffers.Get().(*[]byte)
	defer p.buffers.Put(bufp)
	buf := *bufp

	var watchdog *time.Timer
	if p.idleTimeout > 0 {
		watchdog = time.AfterFunc(p.idleTimeout, func() { cancel(errStreamIdle) })
		defer watchdog.Stop()
		// the deadline outlives the response on a kept-alive connection
		defer rc.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			if p.idleTimeout > 0 {
				_ = rc.SetWriteDeadline(time.Now().Add(p.idleTimeout))
			}
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("%w: %v", errCallerGone, werr)
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return written, fmt.Errorf("%w: %v", errCallerGone, err)
			}
			if watchdog != nil {
				watchdog.Reset(p.idleTimeout)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			if cause := context.Cause(ctx); cause != nil && ctx.Err() != nil {
				return written, fmt.Errorf("%w: %v", cause, rerr)
			}
			return written, rerr
		}
	}
}

func copyHeaders(dst, src http.Header, names []string) {
	for _, name := range names {
		for _, v := range src.Values(name) {
			dst.Add(name, v)
		}
	}
}
