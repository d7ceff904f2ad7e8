package streaming

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/pkg/storage/objectstore"
)

type stubStore struct {
	objects map[string][]byte
	err     error
}

func (s stubStore) Put(context.Context, string, io.Reader, int64, string, map[string]string) (int64, error) {
	return 0, errors.New("read only")
}

func (s stubStore) Get(_ context.Context, key string) (*objectstore.Object, error) {
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return &objectstore.Object{
		Body:        io.NopCloser(bytes.NewReader(data)),
		Size:        int64(len(data)),
		ContentType: "video/webm",
	}, nil
}

func (s stubStore) Close() error { return nil }

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStreamVideo(t *testing.T) {
	h := NewHTTPHandler(stubStore{objects: map[string][]byte{"abc": []byte("0123456789")}}, zap.NewNop()).Router()

	rec := get(h, "/video?id=abc")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/webm", rec.Header().Get("Content-Type"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Equal(t, "0123456789", rec.Body.String())
}

func TestStreamVideoErrors(t *testing.T) {
	tests := []struct {
		name   string
		store  stubStore
		target string
		status int
	}{
		{name: "missing id", store: stubStore{}, target: "/video", status: http.StatusBadRequest},
		{name: "absent", store: stubStore{}, target: "/video?id=nope", status: http.StatusNotFound},
		{name: "store down", store: stubStore{err: errors.New("dial tcp")}, target: "/video?id=abc", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(NewHTTPHandler(tt.store, zap.NewNop()).Router(), tt.target)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "dial tcp")
		})
	}
}
