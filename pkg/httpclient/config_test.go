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
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", cfg.Timeout)
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("expected retry attempts 3, got %d", cfg.RetryAttempts)
	}
	if !strings.HasPrefix(cfg.UserAgent, "insiders/") {
		t.Errorf("expected insiders user agent, got %q", cfg.UserAgent)
	}
	if cfg.AllowNonIdempotentRetry {
		t.Error("expected AllowNonIdempotentRetry to be false by default")
	}
	if cfg.Resolver != nil {
		t.Error("expected no resolver by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Timeout:       10 * time.Second,
			RetryAttempts: 3,
			RetryBackoff:  100 * time.Millisecond,
			MaxBackoff:    5 * time.Second,
			UserAgent:     "test-agent/1.0",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		errText string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, errText: "timeout must be > 0"},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, errText: "timeout must be > 0"},
		{name: "negative retry attempts", mutate: func(c *Config) { c.RetryAttempts = -1 }, errText: "retry_attempts must be >= 0"},
		{name: "zero retry backoff with retries enabled", mutate: func(c *Config) { c.RetryBackoff = 0 }, errText: "retry_backoff must be > 0"},
		{name: "max backoff less than retry backoff", mutate: func(c *Config) { c.MaxBackoff = time.Millisecond }, errText: "max_backoff"},
		{name: "empty user agent", mutate: func(c *Config) { c.UserAgent = "" }, errText: "user_agent is required"},
		{
			name: "zero retries ignores backoff",
			mutate: func(c *Config) {
				c.RetryAttempts = 0
				c.RetryBackoff = 0
				c.MaxBackoff = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.errText == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errText)
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("expected error containing %q, got %q", tt.errText, err.Error())
			}
		})
	}
}
