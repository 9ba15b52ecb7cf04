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

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvBackendPriority is the priority for environment variable backend.
const EnvBackendPriority = 50

// EnvBackend provides read-only access to secrets via environment variables.
//
//	index/<name>/password -> INSIDERS_INDEX_<NAME>_PASSWORD
//	git/token             -> INSIDERS_GIT_TOKEN
type EnvBackend struct{}

// NewEnvBackend creates a new environment variable backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{}
}

// Name returns the backend identifier.
func (e *EnvBackend) Name() string {
	return "env"
}

// Get retrieves a secret from environment variables.
func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	envKey := EnvVar(key)
	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s not set", ErrSecretNotFound, envKey)
}

// Set returns ErrReadOnlyBackend as environment backend is read-only.
func (e *EnvBackend) Set(ctx context.Context, key string, value string) error {
	return ErrReadOnlyBackend
}

// Delete returns ErrReadOnlyBackend as environment backend is read-only.
func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnlyBackend
}

// Available returns true as environment variables are always available.
func (e *EnvBackend) Available() bool {
	return true
}

// Priority returns the backend priority.
func (e *EnvBackend) Priority() int {
	return EnvBackendPriority
}

// EnvVar returns the environment variable consulted for key.
// Example: "index/pypi-private/password" -> "INSIDERS_INDEX_PYPI_PRIVATE_PASSWORD"
func EnvVar(key string) string {
	normalized := strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(key)
	return "INSIDERS_" + strings.ToUpper(normalized)
}
