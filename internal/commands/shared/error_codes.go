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

	pkgerrors "github.com/tombee/insiders/pkg/errors"
)

// Error codes for structured JSON output
const (
	// Input errors (E001-E099)
	ErrorCodeInvalidConfig = "E001" // Invalid configuration or arguments
	ErrorCodeDuplicate     = "E002" // Repository already registered
	ErrorCodeNotFound      = "E003" // Repository not registered

	// Remote errors (E100-E199)
	ErrorCodeUpstreamUnavailable = "E101" // Git remote unreachable
	ErrorCodeIndexUnavailable    = "E102" // Package index unreachable

	// Pipeline errors (E200-E299)
	ErrorCodeBuildFailed   = "E201" // Build command failed
	ErrorCodePublishFailed = "E202" // Upload rejected by an index

	// Daemon errors (E300-E399)
	ErrorCodeDaemonFailed = "E301" // Daemon failed to start or stop

	ErrorCodeInternal = "E999"
)

// ErrorCodeFor maps an error to its JSON error code.
func ErrorCodeFor(err error) string {
	switch errorType(err) {
	case "config":
		return ErrorCodeInvalidConfig
	case "duplicate":
		return ErrorCodeDuplicate
	case "not_found":
		return ErrorCodeNotFound
	case "upstream_unavailable":
		return ErrorCodeUpstreamUnavailable
	case "index_unavailable":
		return ErrorCodeIndexUnavailable
	case "build_failed":
		return ErrorCodeBuildFailed
	case "publish_failed":
		return ErrorCodePublishFailed
	case "daemon":
		return ErrorCodeDaemonFailed
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == ExitInvalidInput {
		return ErrorCodeInvalidConfig
	}
	return ErrorCodeInternal
}

func errorType(err error) string {
	return pkgerrors.TypeOf(err)
}
