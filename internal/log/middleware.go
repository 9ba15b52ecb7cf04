// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder captures the status code and byte count written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Flush forwards to the underlying writer when it supports flushing.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// HTTPMiddleware returns middleware that logs one line per request.
// Server errors are logged at warn level, health checks at debug level.
func HTTPMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			LogHTTPRequest(logger, &HTTPRequest{
				Method:     r.Method,
				Path:       r.URL.Path,
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.UserAgent(),
				Status:     rec.status,
				Bytes:      rec.bytes,
				Duration:   time.Since(start),
			})
		})
	}
}

// HTTPRequest describes a completed HTTP request for logging purposes.
type HTTPRequest struct {
	Method     string
	Path       string
	RemoteAddr string
	UserAgent  string
	Status     int
	Bytes      int64
	Duration   time.Duration
}

// LogHTTPRequest logs a completed HTTP request.
func LogHTTPRequest(logger *slog.Logger, req *HTTPRequest) {
	attrs := []any{
		EventKey, "http_request",
		"method", req.Method,
		"path", req.Path,
		"status", req.Status,
		"bytes", req.Bytes,
		DurationKey, req.Duration.Milliseconds(),
	}
	if req.RemoteAddr != "" {
		attrs = append(attrs, "remote", req.RemoteAddr)
	}
	if req.UserAgent != "" {
		attrs = append(attrs, "user_agent", req.UserAgent)
	}

	switch {
	case req.Status >= 500:
		logger.Warn("request failed", attrs...)
	case req.Path == "/health":
		logger.Debug("request completed", attrs...)
	default:
		logger.Info("request completed", attrs...)
	}
}
