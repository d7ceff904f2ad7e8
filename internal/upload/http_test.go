package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/internal/ingestion"
	"github.com/ReggieReo/devops-question1/pkg/storage/objectstore"
)

type memObjects struct {
	mu          sync.Mutex
	objects     map[string][]byte
	contentType map[string]string
	metadata    map[string]map[string]string
	err         error
}

func newMemObjects() *memObjects {
	return &memObjects{
		objects:     map[string][]byte{},
		contentType: map[string]string{},
		metadata:    map[string]map[string]string{},
	}
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string, md map[string]string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.contentType[key] = contentType
	m.metadata[key] = md
	return int64(len(data)), nil
}

func (m *memObjects) Get(_ context.Context, key string) (*objectstore.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return &objectstore.Object{Body: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (m *memObjects) Close() error { return nil }

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	msgs [][]byte
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.msgs = append(p.msgs, body)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newTestHandler(store *memObjects, pub *recordingPublisher, maxSize int64) http.Handler {
	svc := NewService(Params{Store: store, Publisher: pub, Logger: zap.NewNop()})
	svc.newID = func() string { return "507f1f77bcf86cd799439011" }
	return NewHTTPHandler(svc, zap.NewNop(), maxSize).Router()
}

func postUpload(h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadStoresThenPublishes(t *testing.T) {
	store := newMemObjects()
	pub := &recordingPublisher{}
	h := newTestHandler(store, pub, 1<<20)

	rec := postUpload(h, "fake video bytes", map[string]string{
		"Content-Type": "video/mp4",
		FileNameHeader: "clip.mp4",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sum := sha256.Sum256([]byte("fake video bytes"))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "507f1f77bcf86cd799439011", resp["id"])
	assert.Equal(t, "clip.mp4", resp["name"])
	assert.Equal(t, hex.EncodeToString(sum[:]), resp["checksum"])
	assert.EqualValues(t, 16, resp["size_bytes"])

	assert.Equal(t, []byte("fake video bytes"), store.objects["507f1f77bcf86cd799439011"])
	assert.Equal(t, "video/mp4", store.contentType["507f1f77bcf86cd799439011"])
	assert.Equal(t, "clip.mp4", store.metadata["507f1f77bcf86cd799439011"]["file-name"])

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "507f1f77bcf86cd799439011", pub.keys[0])
	event, err := ingestion.DecodeUploadEvent(pub.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", event.Video.Name)
}

func TestUploadRejectsMissingFileName(t *testing.T) {
	pub := &recordingPublisher{}
	rec := postUpload(newTestHandler(newMemObjects(), pub, 1<<20), "bytes", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, pub.msgs)
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	pub := &recordingPublisher{}
	h := newTestHandler(newMemObjects(), pub, 4)

	rec := postUpload(h, "more than four bytes", map[string]string{FileNameHeader: "big.mp4"})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, pub.msgs)
}

func TestUploadRejectsEmptyBody(t *testing.T) {
	pub := &recordingPublisher{}
	rec := postUpload(newTestHandler(newMemObjects(), pub, 1<<20), "", map[string]string{FileNameHeader: "empty.mp4"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, pub.msgs)
}

func TestUploadStoreFailureDoesNotPublish(t *testing.T) {
	store := newMemObjects()
	store.err = errors.New("bucket missing")
	pub := &recordingPublisher{}

	rec := postUpload(newTestHandler(store, pub, 1<<20), "bytes", map[string]string{FileNameHeader: "clip.mp4"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"upload failed"}`, rec.Body.String())
	assert.Empty(t, pub.msgs)
}

func TestUploadPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("channel closed")}

	rec := postUpload(newTestHandler(newMemObjects(), pub, 1<<20), "bytes", map[string]string{FileNameHeader: "clip.mp4"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUploadTimestampIsReadOnce(t *testing.T) {
	store := newMemObjects()
	svc := NewService(Params{Store: store, Publisher: &recordingPublisher{}, Logger: zap.NewNop()})
	svc.newID = func() string { return "507f1f77bcf86cd799439011" }
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	result, err := svc.ProcessUpload(context.Background(), strings.NewReader("bytes"), 5, UploadOptions{FileName: "clip.mp4"})
	require.NoError(t, err)

	stored := store.metadata["507f1f77bcf86cd799439011"]["uploaded-at"]
	assert.Equal(t, result.UploadedAt.Format(time.RFC3339), stored)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC), result.UploadedAt)
}
