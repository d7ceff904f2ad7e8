package ingestion

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ReggieReo/devops-question1/internal/catalog"
)

// ErrMalformedEvent wraps every decoding or validation failure.
var ErrMalformedEvent = errors.New("malformed upload event")

// UploadEvent is the payload published on the video-uploaded exchange once
// an upload has been stored.
type UploadEvent struct {
	Video *UploadedVideo `json:"video"`
}

type UploadedVideo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewUploadEvent builds the event for a stored upload.
func NewUploadEvent(id, name string) UploadEvent {
	return UploadEvent{Video: &UploadedVideo{ID: id, Name: name}}
}

// Encode marshals the event.
func (e UploadEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Record derives the catalog record the event describes.
func (e UploadEvent) Record() catalog.Video {
	return catalog.Video{ID: e.Video.ID, Name: e.Video.Name}
}

// DecodeUploadEvent parses and validates a raw message body.
func DecodeUploadEvent(body []byte) (UploadEvent, error) {
	var e UploadEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return UploadEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.Video == nil {
		return UploadEvent{}, fmt.Errorf("%w: missing video", ErrMalformedEvent)
	}
	if !catalog.ValidID(e.Video.ID) {
		return UploadEvent{}, fmt.Errorf("%w: invalid video id %q", ErrMalformedEvent, e.Video.ID)
	}
	return e, nil
}
