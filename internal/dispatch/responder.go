// ABOUTME: Renders dispatcher decisions (401, 403, 404) onto the wire
// ABOUTME: Plain text by default, JSON error objects on request

package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Responder writes terminal responses for requests the dispatcher stops.
type Responder interface {
	Unauthorized(w http.ResponseWriter, r *http.Request, message, challenge string)
	Forbidden(w http.ResponseWriter, r *http.Request, message string)
	NotFound(w http.ResponseWriter, r *http.Request, message string)
}

// TextResponder writes messages as text/plain.
type TextResponder struct{}

func (TextResponder) Unauthorized(w http.ResponseWriter, _ *http.Request, message, challenge string) {
	w.Header().Set("WWW-Authenticate", challenge)
	writeText(w, http.StatusUnauthorized, message)
}

func (TextResponder) Forbidden(w http.ResponseWriter, _ *http.Request, message string) {
	writeText(w, http.StatusForbidden, message)
}

func (TextResponder) NotFound(w http.ResponseWriter, _ *http.Request, message string) {
	writeText(w, http.StatusNotFound, message)
}

func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	fmt.Fprint(w, message)
}

// JSONResponder writes messages as {"error": "..."}.
type JSONResponder struct{}

func (JSONResponder) Unauthorized(w http.ResponseWriter, _ *http.Request, message, challenge string) {
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSON(w, http.StatusUnauthorized, message)
}

func (JSONResponder) Forbidden(w http.ResponseWriter, _ *http.Request, message string) {
	writeJSON(w, http.StatusForbidden, message)
}

func (JSONResponder) NotFound(w http.ResponseWriter, _ *http.Request, message string) {
	writeJSON(w, http.StatusNotFound, message)
}

func writeJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// NewResponder returns the responder for a configured format, "text" or "json".
func NewResponder(format string) (Responder, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return TextResponder{}, nil
	case "json":
		return JSONResponder{}, nil
	default:
		return nil, fmt.Errorf("unknown response format: %q", format)
	}
}
