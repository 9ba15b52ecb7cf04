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

package errors

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "repository", "daemon record")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// IsUserVisible implements UserVisibleError.
func (e *NotFoundError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *NotFoundError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *NotFoundError) Suggestion() string {
	if e.Resource == "repository" {
		return "Run 'insiders repos list' to see registered repositories"
	}
	return ""
}

// DuplicateError is returned when registering a resource that already exists.
type DuplicateError struct {
	// Resource is the type of resource (e.g., "repository")
	Resource string

	// ID is the identifier that already exists
	ID string
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *DuplicateError) ErrorType() string { return "duplicate" }

// IsRetryable implements ErrorClassifier.
func (e *DuplicateError) IsRetryable() bool { return false }

// IsUserVisible implements UserVisibleError.
func (e *DuplicateError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *DuplicateError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *DuplicateError) Suggestion() string {
	return fmt.Sprintf("Remove it first with 'insiders repos remove %s'", e.ID)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, invalid config
// values, or malformed registry entries.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "server.port", "repositories[2]")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "build", "daemon stop")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// UpstreamUnavailableError is returned when the upstream repository host
// cannot be queried (network or authentication failure). It is transient.
type UpstreamUnavailableError struct {
	// Repository is the NAMESPACE/PROJECT identifier
	Repository string

	// URL is the remote that was queried
	URL string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *UpstreamUnavailableError) Error() string {
	msg := fmt.Sprintf("upstream unavailable for %s", e.Repository)
	if e.URL != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.URL)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *UpstreamUnavailableError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *UpstreamUnavailableError) ErrorType() string { return "upstream_unavailable" }

// IsRetryable implements ErrorClassifier.
func (e *UpstreamUnavailableError) IsRetryable() bool { return true }

// IndexUnavailableError is returned when the contents of a package index
// cannot be listed. It is transient.
type IndexUnavailableError struct {
	// URL is the index that was queried
	URL string

	// Distribution is the distribution name being listed (optional)
	Distribution string

	// StatusCode is the HTTP status returned by the index (0 if no response)
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *IndexUnavailableError) Error() string {
	msg := fmt.Sprintf("index unavailable at %s", e.URL)
	if e.Distribution != "" {
		msg = fmt.Sprintf("%s while listing %s", msg, e.Distribution)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *IndexUnavailableError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *IndexUnavailableError) ErrorType() string { return "index_unavailable" }

// IsRetryable implements ErrorClassifier.
func (e *IndexUnavailableError) IsRetryable() bool { return true }

// IsUserVisible implements UserVisibleError.
func (e *IndexUnavailableError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *IndexUnavailableError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *IndexUnavailableError) Suggestion() string {
	return "Check that the index server is running with 'insiders server status'"
}

// BuildFailedError is returned when the build toolchain exits non-zero,
// times out, or produces no artifacts.
type BuildFailedError struct {
	// Repository is the NAMESPACE/PROJECT identifier
	Repository string

	// Tag is the release tag being built
	Tag string

	// Command is the command line that was run
	Command string

	// ExitCode is the process exit code (-1 if the process did not exit normally)
	ExitCode int

	// Output is the captured stdout and stderr
	Output string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *BuildFailedError) Error() string {
	msg := fmt.Sprintf("build failed for %s@%s", e.Repository, e.Tag)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *BuildFailedError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *BuildFailedError) ErrorType() string { return "build_failed" }

// IsRetryable implements ErrorClassifier. Builds are retried on the next
// cycle, never immediately.
func (e *BuildFailedError) IsRetryable() bool { return false }

// PublishFailedError is returned when one or more destination indexes
// reject an upload. Indexes that accepted the upload are not rolled back.
type PublishFailedError struct {
	// Repository is the NAMESPACE/PROJECT identifier
	Repository string

	// Tag is the release tag being published
	Tag string

	// Failures maps index name to the upload error for that index
	Failures map[string]error
}

// Error implements the error interface.
func (e *PublishFailedError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	return fmt.Sprintf("publish failed for %s@%s: %s", e.Repository, e.Tag, strings.Join(parts, "; "))
}

// Unwrap returns the per-index causes for errors.Is/As support.
func (e *PublishFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}

// ErrorType implements ErrorClassifier.
func (e *PublishFailedError) ErrorType() string { return "publish_failed" }

// IsRetryable implements ErrorClassifier.
func (e *PublishFailedError) IsRetryable() bool { return false }

// DaemonError represents a failure to start or stop a managed daemon.
// It is surfaced to the operator immediately and never retried.
type DaemonError struct {
	// Kind is the daemon kind ("server" or "watcher")
	Kind string

	// Op is the lifecycle operation ("start" or "stop")
	Op string

	// PID is the process involved, if any
	PID int

	// LogTail holds the last lines of the daemon log, if available
	LogTail string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DaemonError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Kind, e.Op)
	if e.PID > 0 {
		msg = fmt.Sprintf("%s (PID %d)", msg, e.PID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DaemonError) Unwrap() error { return e.Cause }

// IsStartFailed reports whether the error was raised while starting.
func (e *DaemonError) IsStartFailed() bool { return e.Op == "start" }

// ErrorType implements ErrorClassifier.
func (e *DaemonError) ErrorType() string { return "daemon" }

// IsRetryable implements ErrorClassifier.
func (e *DaemonError) IsRetryable() bool { return false }

// IsUserVisible implements UserVisibleError.
func (e *DaemonError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *DaemonError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *DaemonError) Suggestion() string {
	return fmt.Sprintf("Inspect the daemon output with 'insiders %s logs'", e.Kind)
}
