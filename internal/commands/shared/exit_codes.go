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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	pkgerrors "github.com/tombee/insiders/pkg/errors"
)

// Exit codes returned by insiders commands
const (
	ExitSuccess = 0
	// ExitFailure covers build, publish and other runtime failures.
	ExitFailure = 1
	// ExitInvalidInput covers bad arguments and invalid configuration.
	ExitInvalidInput = 2
	// ExitNotFound is returned when a named repository is not registered.
	ExitNotFound = 3
	// ExitDaemonFailed is returned when a daemon fails to start or stop.
	ExitDaemonFailed = 4
	// ExitUnavailable is returned when git or the index cannot be reached
	// (EX_UNAVAILABLE from sysexits.h).
	ExitUnavailable = 69
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidInputError creates an error for bad arguments or configuration
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidInput,
		Message: msg,
		Cause:   cause,
	}
}

// NewFailureError creates an error for runtime failures
func NewFailureError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitFailure,
		Message: msg,
		Cause:   cause,
	}
}

// ExitCodeFor maps an error to the exit code the CLI terminates with.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var (
		configErr *pkgerrors.ConfigError
		dupErr    *pkgerrors.DuplicateError
		notFound  *pkgerrors.NotFoundError
		daemonErr *pkgerrors.DaemonError
		upErr     *pkgerrors.UpstreamUnavailableError
		idxErr    *pkgerrors.IndexUnavailableError
	)
	switch {
	case errors.As(err, &configErr), errors.As(err, &dupErr):
		return ExitInvalidInput
	case errors.As(err, &notFound):
		return ExitNotFound
	case errors.As(err, &daemonErr):
		return ExitDaemonFailed
	case errors.As(err, &upErr), errors.As(err, &idxErr):
		return ExitUnavailable
	default:
		return ExitFailure
	}
}

// HandleExitError prints err and exits with the matching code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	code := ExitCodeFor(err)
	if GetJSON() {
		_ = EmitJSONError("", []JSONError{NewJSONError(err)})
	} else {
		printError(os.Stderr, err)
	}
	os.Exit(code)
}

// printError writes the error, any daemon log tail and a suggestion.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err.Error())

	var daemonErr *pkgerrors.DaemonError
	if errors.As(err, &daemonErr) && daemonErr.LogTail != "" {
		fmt.Fprintf(w, "\nLast lines of the %s log:\n", daemonErr.Kind)
		for _, line := range strings.Split(strings.TrimRight(daemonErr.LogTail, "\n"), "\n") {
			fmt.Fprintln(w, "  "+line)
		}
	}

	if s := suggestion(err); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
}

// suggestion walks the error chain to the first UserVisibleError.
func suggestion(err error) string {
	var userErr pkgerrors.UserVisibleError
	if errors.As(err, &userErr) && userErr.IsUserVisible() {
		return userErr.Suggestion()
	}
	return ""
}
