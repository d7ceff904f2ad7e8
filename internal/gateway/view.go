package gateway

import (
	"net/http"

	"github.com/ReggieReo/devops-question1/pkg/httpjson"
)

// View names.
const (
	ViewVideoList   = "video-list"
	ViewPlayVideo   = "play-video"
	ViewUploadVideo = "upload-video"
	ViewHistory     = "history"
	ViewAdvertise   = "advertise"
)

// Renderer turns a named view and its data into a response.
type Renderer interface {
	Render(w http.ResponseWriter, status int, view string, data any)
}

// JSONRenderer renders {"view": name, "data": data}.
type JSONRenderer struct{}

func (JSONRenderer) Render(w http.ResponseWriter, status int, view string, data any) {
	httpjson.Write(w, status, map[string]any{
		"view": view,
		"data": data,
	})
}
