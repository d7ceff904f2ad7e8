// Package httpjson writes JSON HTTP responses.
package httpjson

import (
	"net/http"

	"github.com/goccy/go-json"
)

// Write encodes payload with the given status.
func Write(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// Error writes {"error": msg}. msg is shown to callers and must not carry
// internal detail.
func Error(w http.ResponseWriter, status int, msg string) {
	Write(w, status, map[string]string{
		"error": msg,
	})
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, _ *http.Request) {
	Write(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
