package upload

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/internal/ingestion"
	"github.com/ReggieReo/devops-question1/pkg/broker"
	"github.com/ReggieReo/devops-question1/pkg/metrics"
	"github.com/ReggieReo/devops-question1/pkg/storage/objectstore"
)

// ErrEmptyUpload is returned for a zero-length body.
var ErrEmptyUpload = errors.New("empty upload")

// Service stores uploaded videos and announces them on the video-uploaded
// exchange.
type Service struct {
	store     objectstore.Client
	publisher broker.Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

type Params struct {
	Store     objectstore.Client
	Publisher broker.Publisher
	Logger    *zap.Logger
}

// UploadOptions captures metadata about the upload.
type UploadOptions struct {
	FileName    string
	ContentType string
}

type UploadResult struct {
	VideoID    string
	Name       string
	Checksum   string
	Size       int64
	UploadedAt time.Time
}

// NewService constructs an upload Service.
func NewService(p Params) *Service {
	return &Service{
		store:     p.Store,
		publisher: p.Publisher,
		logger:    p.Logger.Named("upload"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return primitive.NewObjectID().Hex() },
	}
}

// ProcessUpload streams the body to the object store under a fresh video id
// and publishes the upload event once the object is stored. A negative size
// means the length is unknown.
func (s *Service) ProcessUpload(ctx context.Context, reader io.Reader, size int64, opts UploadOptions) (*UploadResult, error) {
	if size == 0 {
		return nil, ErrEmptyUpload
	}

	videoID := s.newID()
	uploadedAt := s.now()
	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)
	buffered := bufio.NewReaderSize(tee, 64*1024)

	metadata := map[string]string{
		"file-name":   opts.FileName,
		"uploaded-at": uploadedAt.Format(time.RFC3339),
	}

	written, err := s.store.Put(ctx, videoID, buffered, size, opts.ContentType, metadata)
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}
	metrics.UploadedBytes.Add(float64(written))

	checksum := hex.EncodeToString(hasher.Sum(nil))

	payload, err := ingestion.NewUploadEvent(videoID, opts.FileName).Encode()
	if err != nil {
		return nil, fmt.Errorf("marshal upload event: %w", err)
	}
	if err := s.publisher.Publish(ctx, videoID, payload); err != nil {
		return nil, fmt.Errorf("publish upload event: %w", err)
	}

	s.logger.Info("video uploaded",
		zap.String("video_id", videoID),
		zap.String("file_name", opts.FileName),
		zap.Int64("size_bytes", written),
		zap.String("checksum", checksum),
	)

	return &UploadResult{
		VideoID:    videoID,
		Name:       opts.FileName,
		Checksum:   checksum,
		Size:       written,
		UploadedAt: uploadedAt,
	}, nil
}

// Close releases underlying resources.
func (s *Service) Close() error {
	return errors.Join(s.publisher.Close(), s.store.Close())
}
