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

package httpclient

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggingTransport_UserAgent(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		want     string
	}{
		{name: "sets user agent", existing: "", want: "insiders-test/1.0"},
		{name: "preserves existing user agent", existing: "pip/24.0", want: "pip/24.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var received string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				received = r.Header.Get("User-Agent")
			}))
			defer server.Close()

			transport := newLoggingTransport(http.DefaultTransport, "insiders-test/1.0", nil)
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
			if tt.existing != "" {
				req.Header.Set("User-Agent", tt.existing)
			}

			resp, err := transport.RoundTrip(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()

			if received != tt.want {
				t.Errorf("expected User-Agent %q, got %q", tt.want, received)
			}
			if tt.existing == "" && req.Header.Get("User-Agent") != "" {
				t.Error("caller's request headers should not be mutated")
			}
		})
	}
}

func TestLoggingTransport_PassesThroughErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	transport := newLoggingTransport(nil, "insiders-test/1.0", nil)
	req, _ := http.NewRequest(http.MethodGet, url, nil)

	if _, err := transport.RoundTrip(req); err == nil {
		t.Error("expected connection error from closed server")
	}
}

func TestLoggingTransport_LogsSanitizedURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	transport := newLoggingTransport(http.DefaultTransport, "insiders-test/1.0", logger)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/simple/acme-tool/?token=pypi-secret", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	out := buf.String()
	if strings.Contains(out, "pypi-secret") {
		t.Errorf("log leaked the token: %s", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status=404") {
		t.Errorf("expected a warn line with the status, got: %s", out)
	}
	if !strings.Contains(out, "component=http") {
		t.Errorf("expected component=http, got: %s", out)
	}
}
