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
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}

	if cfg.Format != FormatText {
		t.Errorf("expected default format 'text', got %q", cfg.Format)
	}

	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}

	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name          string
		envVars       map[string]string
		wantLevel     string
		wantFormat    Format
		wantAddSource bool
	}{
		{
			name:       "defaults when no env vars",
			envVars:    map[string]string{},
			wantLevel:  "info",
			wantFormat: FormatText,
		},
		{
			name:       "LOG_LEVEL=DEBUG (case insensitive)",
			envVars:    map[string]string{"LOG_LEVEL": "DEBUG"},
			wantLevel:  "debug",
			wantFormat: FormatText,
		},
		{
			name:       "LOG_FORMAT=json",
			envVars:    map[string]string{"LOG_FORMAT": "json"},
			wantLevel:  "info",
			wantFormat: FormatJSON,
		},
		{
			name:          "LOG_SOURCE=1",
			envVars:       map[string]string{"LOG_SOURCE": "1"},
			wantLevel:     "info",
			wantFormat:    FormatText,
			wantAddSource: true,
		},
		{
			name: "INSIDERS_LOG_LEVEL wins over LOG_LEVEL",
			envVars: map[string]string{
				"INSIDERS_LOG_LEVEL": "warn",
				"LOG_LEVEL":          "error",
			},
			wantLevel:  "warn",
			wantFormat: FormatText,
		},
		{
			name: "INSIDERS_DEBUG wins over every level variable",
			envVars: map[string]string{
				"INSIDERS_DEBUG":     "1",
				"INSIDERS_LOG_LEVEL": "error",
			},
			wantLevel:     "debug",
			wantFormat:    FormatText,
			wantAddSource: true,
		},
		{
			name:          "INSIDERS_DEBUG=true",
			envVars:       map[string]string{"INSIDERS_DEBUG": "true"},
			wantLevel:     "debug",
			wantFormat:    FormatText,
			wantAddSource: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"INSIDERS_DEBUG", "INSIDERS_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.wantLevel {
				t.Errorf("expected level %q, got %q", tt.wantLevel, cfg.Level)
			}
			if cfg.Format != tt.wantFormat {
				t.Errorf("expected format %q, got %q", tt.wantFormat, cfg.Format)
			}
			if cfg.AddSource != tt.wantAddSource {
				t.Errorf("expected AddSource %v, got %v", tt.wantAddSource, cfg.AddSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	logger.Info("test message", "key", "value")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v", err)
	}

	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg field to be 'test message', got: %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("expected key field to be 'value', got: %v", logEntry["key"])
	}
	if logEntry["level"] != "INFO" {
		t.Errorf("expected level field to be 'INFO', got: %v", logEntry["level"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected output to contain 'key=value', got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if level := parseLevel(tt.input); level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	for _, level := range []string{"trace", "debug", "INFO", "warn", "warning", "error"} {
		if !ValidLevel(level) {
			t.Errorf("ValidLevel(%q) = false, want true", level)
		}
	}
	for _, level := range []string{"", "verbose", "fatal"} {
		if ValidLevel(level) {
			t.Errorf("ValidLevel(%q) = true, want false", level)
		}
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	tests := []struct {
		name          string
		configLevel   string
		logFunc       func(*slog.Logger)
		shouldContain bool
	}{
		{
			name:          "debug log at debug level",
			configLevel:   "debug",
			logFunc:       func(l *slog.Logger) { l.Debug("filtered message") },
			shouldContain: true,
		},
		{
			name:          "debug log at info level",
			configLevel:   "info",
			logFunc:       func(l *slog.Logger) { l.Debug("filtered message") },
			shouldContain: false,
		},
		{
			name:          "warn log at error level",
			configLevel:   "error",
			logFunc:       func(l *slog.Logger) { l.Warn("filtered message") },
			shouldContain: false,
		},
		{
			name:          "trace log at trace level",
			configLevel:   "trace",
			logFunc:       func(l *slog.Logger) { Trace(l, "filtered message") },
			shouldContain: true,
		},
		{
			name:          "trace log at debug level",
			configLevel:   "debug",
			logFunc:       func(l *slog.Logger) { Trace(l, "filtered message") },
			shouldContain: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&Config{Level: tt.configLevel, Format: FormatJSON, Output: &buf})
			tt.logFunc(logger)

			if got := strings.Contains(buf.String(), "filtered message"); got != tt.shouldContain {
				t.Errorf("expected shouldContain=%v, got output: %q", tt.shouldContain, buf.String())
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger = WithComponent(logger, "watcher")
	logger = WithRepository(logger, "acme/tool", "acme-tool")
	logger = WithJob(logger, "job-1", "v1.1.0")
	logger.Info("building")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	want := map[string]string{
		"component":     "watcher",
		RepositoryKey:   "acme/tool",
		DistributionKey: "acme-tool",
		JobIDKey:        "job-1",
		TagKey:          "v1.1.0",
	}
	for k, v := range want {
		if logEntry[k] != v {
			t.Errorf("expected %s=%q, got: %v", k, v, logEntry[k])
		}
	}
}

func TestAddSource(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf, AddSource: true})
	logger.Info("test message")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	sourceMap, ok := logEntry["source"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected source to be a map, got: %T", logEntry["source"])
	}
	if _, ok := sourceMap["file"]; !ok {
		t.Errorf("expected source.file to be present")
	}
}

func TestAttrHelpers(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger.Info("test message",
		slog.String("string_key", "string_value"),
		slog.String("password", "hunter2"),
		Duration(1500*time.Millisecond),
		Error(errors.New("boom")),
	)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if logEntry["string_key"] != "string_value" {
		t.Errorf("expected string_key to be 'string_value', got: %v", logEntry["string_key"])
	}
	if logEntry["password"] != "[REDACTED]" {
		t.Errorf("expected password to be redacted, got: %v", logEntry["password"])
	}
	if logEntry[DurationKey] != float64(1500) {
		t.Errorf("expected %s to be 1500, got: %v", DurationKey, logEntry[DurationKey])
	}
	if logEntry["error"] != "boom" {
		t.Errorf("expected error to be 'boom', got: %v", logEntry["error"])
	}
}

func TestNilConfig(t *testing.T) {
	if logger := New(nil); logger == nil {
		t.Fatal("expected logger from nil config")
	}
}

func TestTraceLevelName(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "trace", Format: FormatText, Output: &buf})

	Trace(logger, "build output", slog.String(TagKey, "v1.2.0"))

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("expected level=TRACE, got: %q", buf.String())
	}
}
