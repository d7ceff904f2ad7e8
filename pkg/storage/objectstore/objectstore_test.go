package objectstore

import (
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "floppy"})
	assert.ErrorContains(t, err, "unsupported object store provider")
}

func TestNewMinio(t *testing.T) {
	cl, err := New(Config{
		Provider:  "minio",
		Endpoint:  "localhost:9000",
		Bucket:    "videos",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)
	assert.NoError(t, cl.Close())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{StatusCode: http.StatusNotFound}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "AccessDenied"}))
}
