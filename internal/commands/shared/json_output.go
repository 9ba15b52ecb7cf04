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
	"encoding/json"
	"io"
	"os"

	pkgerrors "github.com/tombee/insiders/pkg/errors"
)

// JSONResponse is the base envelope for all JSON output
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// JSONError represents a structured error with code, message and suggestion
type JSONError struct {
	Code       string `json:"code"`
	Type       string `json:"type,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// NewJSONError converts err to its JSON form.
func NewJSONError(err error) JSONError {
	return JSONError{
		Code:       ErrorCodeFor(err),
		Type:       errorType(err),
		Message:    err.Error(),
		Suggestion: suggestion(err),
		Retryable:  pkgerrors.IsRetryable(err),
	}
}

// jsonOut is where JSON responses are written; replaced in tests.
var jsonOut io.Writer = os.Stdout

// emitJSON marshals a response to JSON and outputs it to stdout
func emitJSON(response interface{}) error {
	encoder := json.NewEncoder(jsonOut)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// EmitJSON is the exported version of emitJSON for use by command packages
func EmitJSON(response interface{}) error {
	return emitJSON(response)
}

// EmitJSONResult wraps data in a success envelope for command.
func EmitJSONResult(command string, data interface{}) error {
	type resultResponse struct {
		JSONResponse
		Result interface{} `json:"result"`
	}
	return emitJSON(resultResponse{
		JSONResponse: JSONResponse{Version: "1.0", Command: command, Success: true},
		Result:       data,
	})
}

// EmitJSONError creates and emits a JSON error response
func EmitJSONError(command string, errors []JSONError) error {
	type errorResponse struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}

	return emitJSON(errorResponse{
		JSONResponse: JSONResponse{
			Version: "1.0",
			Command: command,
			Success: false,
		},
		Errors: errors,
	})
}
