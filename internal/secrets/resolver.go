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
	"errors"
	"fmt"
	"slices"
)

// Resolver manages a chain of SecretBackends and resolves secrets
// by querying backends in priority order.
type Resolver struct {
	backends []SecretBackend
}

// NewResolver creates a new secret resolver with the given backends.
// Unavailable backends are dropped; the rest are sorted by priority.
func NewResolver(backends ...SecretBackend) *Resolver {
	available := make([]SecretBackend, 0, len(backends))
	for _, b := range backends {
		if b.Available() {
			available = append(available, b)
		}
	}

	slices.SortStableFunc(available, func(a, b SecretBackend) int {
		return b.Priority() - a.Priority()
	})

	return &Resolver{
		backends: available,
	}
}

// Default returns a resolver over the keychain and the environment.
func Default() *Resolver {
	return NewResolver(NewKeychainBackend(), NewEnvBackend())
}

// Get returns the value of key from the first backend that holds it.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	value, _, err := r.Resolve(ctx, key)
	return value, err
}

// Resolve is Get that also names the backend the value came from.
// A backend error other than not-found is reported only when no later
// backend holds key.
func (r *Resolver) Resolve(ctx context.Context, key string) (value, source string, err error) {
	if len(r.backends) == 0 {
		return "", "", fmt.Errorf("%w: no available backends", ErrBackendUnavailable)
	}

	var backendErr error
	for _, b := range r.backends {
		v, err := b.Get(ctx, key)
		switch {
		case err == nil:
			return v, b.Name(), nil
		case !errors.Is(err, ErrSecretNotFound):
			backendErr = err
		}
	}

	if backendErr != nil {
		return "", "", fmt.Errorf("failed to get secret %q: %w", key, backendErr)
	}
	return "", "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
}

// Lookup is Get with a fallback. It returns fallback when no backend holds key.
func (r *Resolver) Lookup(ctx context.Context, key, fallback string) (string, error) {
	value, err := r.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if errors.Is(err, ErrSecretNotFound) || errors.Is(err, ErrBackendUnavailable) {
		return fallback, nil
	}
	return "", err
}

// Set stores a secret in the highest-priority writable backend.
func (r *Resolver) Set(ctx context.Context, key string, value string) error {
	for _, backend := range r.backends {
		err := backend.Set(ctx, key, value)
		if errors.Is(err, ErrReadOnlyBackend) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to set secret in %s: %w", backend.Name(), err)
		}
		return nil
	}
	return fmt.Errorf("%w: no writable backend available", ErrBackendUnavailable)
}

// Delete removes a secret from every writable backend that holds it.
// Returns ErrSecretNotFound if none did.
func (r *Resolver) Delete(ctx context.Context, key string) error {
	deleted := false
	for _, backend := range r.backends {
		err := backend.Delete(ctx, key)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrReadOnlyBackend), errors.Is(err, ErrSecretNotFound):
		default:
			return fmt.Errorf("failed to delete secret from %s: %w", backend.Name(), err)
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %q", ErrSecretNotFound, key)
	}
	return nil
}

// Backends returns the names of the active backends in resolution order.
func (r *Resolver) Backends() []string {
	names := make([]string, len(r.backends))
	for i, b := range r.backends {
		names[i] = b.Name()
	}
	return names
}
