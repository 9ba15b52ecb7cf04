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
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return New(&Config{Level: "debug", Format: FormatJSON, Output: buf})
}

func TestHTTPMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		body      string
		wantLevel string
		wantMsg   string
	}{
		{
			name:      "successful request",
			path:      "/simple/acme-tool/",
			status:    http.StatusOK,
			body:      "<html></html>",
			wantLevel: "INFO",
			wantMsg:   "request completed",
		},
		{
			name:      "server error",
			path:      "/simple/requests/",
			status:    http.StatusBadGateway,
			body:      "upstream unavailable",
			wantLevel: "WARN",
			wantMsg:   "request failed",
		},
		{
			name:      "health check",
			path:      "/health",
			status:    http.StatusOK,
			body:      "{}",
			wantLevel: "DEBUG",
			wantMsg:   "request completed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := HTTPMiddleware(newJSONLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}

			var entry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse log output: %v\n%s", err, buf.String())
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["msg"] != tt.wantMsg {
				t.Errorf("msg = %v, want %s", entry["msg"], tt.wantMsg)
			}
			if entry["path"] != tt.path {
				t.Errorf("path = %v, want %s", entry["path"], tt.path)
			}
			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
			if entry["bytes"] != float64(len(tt.body)) {
				t.Errorf("bytes = %v, want %d", entry["bytes"], len(tt.body))
			}
			if entry[EventKey] != "http_request" {
				t.Errorf("event = %v, want http_request", entry[EventKey])
			}
		})
	}
}

func TestHTTPMiddleware_ImplicitStatus(t *testing.T) {
	var buf bytes.Buffer
	handler := HTTPMiddleware(newJSONLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/simple/", nil))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want 200 when handler writes nothing", entry["status"])
	}
}

func TestLogHTTPRequest_OptionalFields(t *testing.T) {
	var buf bytes.Buffer
	LogHTTPRequest(newJSONLogger(&buf), &HTTPRequest{
		Method: http.MethodPost,
		Path:   "/",
		Status: http.StatusConflict,
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if _, ok := entry["remote"]; ok {
		t.Error("remote should be omitted when empty")
	}
	if _, ok := entry["user_agent"]; ok {
		t.Error("user_agent should be omitted when empty")
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO for a 409", entry["level"])
	}
}
