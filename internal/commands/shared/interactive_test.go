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
	"testing"
)

var nonInteractiveEnv = []string{
	"INSIDERS_NON_INTERACTIVE",
	"CI",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"CIRCLECI",
	"JENKINS_HOME",
}

func clearInteractiveEnv(t *testing.T) {
	t.Helper()
	for _, key := range nonInteractiveEnv {
		t.Setenv(key, "")
	}
}

func TestIsNonInteractive(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
	}{
		{"INSIDERS_NON_INTERACTIVE=true", map[string]string{"INSIDERS_NON_INTERACTIVE": "true"}},
		{"CI=true", map[string]string{"CI": "true"}},
		{"CI=1", map[string]string{"CI": "1"}},
		{"GITHUB_ACTIONS=true", map[string]string{"GITHUB_ACTIONS": "true"}},
		{"GITLAB_CI=true", map[string]string{"GITLAB_CI": "true"}},
		{"CIRCLECI=true", map[string]string{"CIRCLECI": "true"}},
		{"JENKINS_HOME set to path", map[string]string{"JENKINS_HOME": "/var/jenkins"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearInteractiveEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}
			if !IsNonInteractive() {
				t.Error("IsNonInteractive() = false, want true")
			}
		})
	}
}

func TestIsNonInteractive_FollowsTTY(t *testing.T) {
	clearInteractiveEnv(t)
	if got, want := IsNonInteractive(), !isTerminal(); got != want {
		t.Errorf("IsNonInteractive() = %v, want %v", got, want)
	}
}

func TestIsCIEnvironment(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected bool
	}{
		{"no CI vars", map[string]string{}, false},
		{"CI=true", map[string]string{"CI": "true"}, true},
		{"CI=false", map[string]string{"CI": "false"}, false},
		{"GITHUB_ACTIONS=1", map[string]string{"GITHUB_ACTIONS": "1"}, true},
		{"JENKINS_HOME empty", map[string]string{"JENKINS_HOME": ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearInteractiveEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}
			if got := isCIEnvironment(); got != tt.expected {
				t.Errorf("isCIEnvironment() = %v, want %v", got, tt.expected)
			}
		})
	}
}
