package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/ReggieReo/devops-question1/pkg/metrics"
	"github.com/ReggieReo/devops-question1/pkg/tracing"
)

const maxJSONBytes = 8 << 20

var errNotFound = errors.New("not found")

// DownstreamError describes a failed buffered call to a backend.
type DownstreamError struct {
	Role   Role
	Status int
	Err    error
}

func (e *DownstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend: %v", e.Role, e.Err)
	}
	return fmt.Sprintf("%s backend: unexpected status %d", e.Role, e.Status)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// Is matches errNotFound for 404 answers.
func (e *DownstreamError) Is(target error) bool {
	return target == errNotFound && e.Status == http.StatusNotFound
}

// NewTransport returns the transport shared by aggregation calls and the
// streaming proxy. Compression is disabled so bytes pass through as sent.
func NewTransport(responseHeaderTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: responseHeaderTimeout,
		DisableCompression:    true,
	}
}

// downstream issues buffered JSON calls for aggregation.
type downstream struct {
	client   *http.Client
	backends Backends
}

// getJSON fetches path from role and decodes the body into out. Only a 200
// answer with a decodable body succeeds.
func (d *downstream) getJSON(ctx context.Context, role Role, path string, query url.Values, out any) error {
	target, err := d.backends.URL(role, path, query)
	if err != nil {
		return &DownstreamError{Role: role, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &DownstreamError{Role: role, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	tracing.Inject(ctx, req.Header)

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.RecordDownstream(string(role), "error")
		return &DownstreamError{Role: role, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordDownstream(string(role), statusOutcome(resp.StatusCode))
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return &DownstreamError{Role: role, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBytes)).Decode(out); err != nil {
		metrics.RecordDownstream(string(role), "bad_body")
		return &DownstreamError{Role: role, Status: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}

	metrics.RecordDownstream(string(role), "ok")
	return nil
}

func statusOutcome(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found"
	case status >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}
