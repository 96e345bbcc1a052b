// ABOUTME: Buffers a handler's response so a Hawk Server-Authorization header can cover its body
// ABOUTME: Used only for Hawk-authenticated requests when response signing is enabled

package dispatch

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/2389/gatekeeper/internal/hawk"
)

// signingWriter holds the response until the handler returns.
type signingWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (s *signingWriter) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
}

func (s *signingWriter) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.buf.Write(p)
}

// finish signs the buffered body and writes the response.
func (s *signingWriter) finish(req *hawk.Request, logger *slog.Logger) {
	h := s.Header()
	body := s.buf.Bytes()
	if h.Get("Content-Type") == "" && len(body) > 0 {
		h.Set("Content-Type", http.DetectContentType(body))
	}

	header, err := req.ServerAuthorization(h.Get("Content-Type"), body, "")
	if err != nil {
		logger.Error("signing response", "error", err)
	} else {
		h.Set("Server-Authorization", header)
	}

	if s.status == 0 {
		s.status = http.StatusOK
	}
	s.ResponseWriter.WriteHeader(s.status)
	if _, err := s.ResponseWriter.Write(body); err != nil {
		logger.Debug("writing signed response", "error", err)
	}
}
