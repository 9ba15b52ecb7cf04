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

// Package secrets provides utilities for detecting and masking sensitive values.
package secrets

import (
	"sort"
	"strings"
)

// minSecretLength keeps short values such as "1" or "yes" from masking
// unrelated output.
const minSecretLength = 4

// Masker replaces known secret values in build output and log lines.
// Values are learned explicitly or from environment variables whose
// names look like credentials.
type Masker struct {
	// patterns are suffixes that indicate a secret (e.g., _TOKEN, _SECRET)
	patterns []string

	// secrets is a set of known secret values to mask
	secrets map[string]bool
}

// NewMasker creates a new secret masker with default patterns.
func NewMasker() *Masker {
	return &Masker{
		patterns: []string{
			"_TOKEN",
			"_SECRET",
			"_KEY",
			"_PASSWORD",
			"_PASS",
			"_PWD",
		},
		secrets: make(map[string]bool),
	}
}

// AddSecret registers a value to be masked.
func (m *Masker) AddSecret(value string) {
	if len(value) >= minSecretLength {
		m.secrets[value] = true
	}
}

// AddSecretsFromEnviron registers the values of KEY=VALUE entries whose
// key looks like a credential, as in os.Environ.
func (m *Masker) AddSecretsFromEnviron(environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if ok && m.isSecretKey(key) {
			m.AddSecret(value)
		}
	}
}

func (m *Masker) isSecretKey(key string) bool {
	upperKey := strings.ToUpper(key)
	for _, pattern := range m.patterns {
		if strings.HasSuffix(upperKey, pattern) {
			return true
		}
	}
	return false
}

// Mask replaces every known secret in s with "***". Longer secrets are
// replaced first so a secret containing another is masked whole.
func (m *Masker) Mask(s string) string {
	if len(m.secrets) == 0 {
		return s
	}
	values := make([]string, 0, len(m.secrets))
	for v := range m.secrets {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })

	for _, v := range values {
		s = strings.ReplaceAll(s, v, "***")
	}
	return s
}
