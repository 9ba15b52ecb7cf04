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

package shared

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	pkgerrors "github.com/tombee/insiders/pkg/errors"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		verboseFlag, quietFlag, jsonFlag = false, false, false
		configFlag, logLevelFlag, logFormatFlag = "", "", ""
	})
}

func isolateDirs(t *testing.T) {
	t.Helper()
	root := t.TempDir()
	for _, env := range []string{"XDG_CONFIG_HOME", "XDG_CACHE_HOME", "XDG_DATA_HOME", "XDG_STATE_HOME"} {
		t.Setenv(env, filepath.Join(root, env))
	}
	for _, env := range []string{"INSIDERS_CONFIG", "INSIDERS_LOG_LEVEL", "INSIDERS_DEBUG", "LOG_FORMAT", "LOG_LEVEL"} {
		t.Setenv(env, "")
	}
}

func TestLoadConfig_LogFlags(t *testing.T) {
	tests := []struct {
		name       string
		set        func()
		wantLevel  string
		wantFormat string
	}{
		{"defaults", func() {}, "info", "text"},
		{"verbose", func() { verboseFlag = true }, "debug", "text"},
		{"quiet", func() { quietFlag = true }, "error", "text"},
		{"explicit level wins over verbose", func() { verboseFlag = true; logLevelFlag = "WARN" }, "warn", "text"},
		{"json format", func() { logFormatFlag = "json" }, "info", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			isolateDirs(t)
			tt.set()

			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if cfg.Log.Level != tt.wantLevel {
				t.Errorf("level = %q, want %q", cfg.Log.Level, tt.wantLevel)
			}
			if cfg.Log.Format != tt.wantFormat {
				t.Errorf("format = %q, want %q", cfg.Log.Format, tt.wantFormat)
			}
		})
	}
}

func TestLoadConfig_InvalidFlags(t *testing.T) {
	for _, set := range []func(){
		func() { logLevelFlag = "loud" },
		func() { logFormatFlag = "xml" },
	} {
		resetFlags(t)
		isolateDirs(t)
		set()

		_, err := LoadConfig()
		var cfgErr *pkgerrors.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("expected ConfigError, got %v", err)
		}
		verboseFlag, quietFlag, jsonFlag = false, false, false
		configFlag, logLevelFlag, logFormatFlag = "", "", ""
	}
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	resetFlags(t)
	isolateDirs(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0600); err != nil {
		t.Fatal(err)
	}
	SetConfigPathForTest(path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}

	SetConfigPathForTest(filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadConfig(); err == nil {
		t.Error("expected an error for a missing explicit config file")
	}
}

func TestNewLogger(t *testing.T) {
	resetFlags(t)
	isolateDirs(t)
	logFormatFlag = "json"

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	logger := NewLogger(cfg, &buf)
	logger.Info("hello")
	logger.Debug("hidden")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v", entry["msg"])
	}
}
