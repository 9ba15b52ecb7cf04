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
	"strings"

	"github.com/zalando/go-keyring"
)

// KeychainBackendPriority ranks the keychain above the environment.
const KeychainBackendPriority = 100

const (
	keychainService = "insiders"
	probeKey        = "__insiders_probe__"
)

// unavailableHints are substrings of keyring errors that mean the
// service is locked or missing rather than the key being absent.
var unavailableHints = []string{
	"locked",
	"cannot access",
	"permission denied",
	"failed to unlock",
	"user interaction required",
	"secret service",
	"dbus",
	"user canceled",
}

// KeychainBackend stores credentials in the OS keychain under the
// "insiders" service: Keychain on macOS, Secret Service on Linux and
// Credential Manager on Windows.
type KeychainBackend struct {
	available bool
}

// NewKeychainBackend probes the keychain once. A service that fails the
// probe leaves the backend unavailable for the life of the process.
func NewKeychainBackend() *KeychainBackend {
	_, err := keyring.Get(keychainService, probeKey)
	return &KeychainBackend{available: err == nil || errors.Is(err, keyring.ErrNotFound)}
}

func (k *KeychainBackend) Name() string { return "keychain" }

func (k *KeychainBackend) Available() bool { return k.available }

func (k *KeychainBackend) Priority() int { return KeychainBackendPriority }

func (k *KeychainBackend) Get(ctx context.Context, key string) (string, error) {
	if !k.available {
		return "", errKeychainDown
	}
	value, err := keyring.Get(keychainService, key)
	if err != nil {
		return "", keychainError(key, err)
	}
	return value, nil
}

func (k *KeychainBackend) Set(ctx context.Context, key string, value string) error {
	if !k.available {
		return errKeychainDown
	}
	if err := keyring.Set(keychainService, key, value); err != nil {
		return keychainError(key, err)
	}
	return nil
}

func (k *KeychainBackend) Delete(ctx context.Context, key string) error {
	if !k.available {
		return errKeychainDown
	}
	if err := keyring.Delete(keychainService, key); err != nil {
		return keychainError(key, err)
	}
	return nil
}

var errKeychainDown = fmt.Errorf("%w: keychain service unavailable", ErrBackendUnavailable)

// keychainError maps a keyring error onto the package sentinels.
func keychainError(key string, err error) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range unavailableHints {
		if strings.Contains(msg, hint) {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	return fmt.Errorf("keychain %s: %w", key, err)
}
