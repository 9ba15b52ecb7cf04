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

package registry

import (
	"fmt"
	"regexp"
	"strings"

	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

var (
	// segmentPattern matches a git host namespace or project name.
	segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

	// distributionPattern matches a valid Python distribution name.
	distributionPattern = regexp.MustCompile(`(?i)^([a-z0-9]|[a-z0-9][a-z0-9._-]*[a-z0-9])$`)
)

// Parse parses the CLI form NAMESPACE/PROJECT:DISTRIBUTION[@BRANCH].
// When ":DISTRIBUTION" is omitted the project name is used.
func Parse(spec string) (Repository, error) {
	s := strings.TrimSpace(spec)
	invalid := func(reason string) (Repository, error) {
		return Repository{}, &insiderserrors.ConfigError{
			Key:    "repository",
			Reason: fmt.Sprintf("%q: %s (expected NAMESPACE/PROJECT:DISTRIBUTION[@BRANCH])", spec, reason),
		}
	}

	var repo Repository
	if at := strings.LastIndex(s, "@"); at >= 0 {
		repo.Branch = s[at+1:]
		s = s[:at]
		if repo.Branch == "" {
			return invalid("empty branch")
		}
	}
	if colon := strings.Index(s, ":"); colon >= 0 {
		repo.Distribution = s[colon+1:]
		s = s[:colon]
		if repo.Distribution == "" {
			return invalid("empty distribution")
		}
	}

	ns, project, ok := strings.Cut(s, "/")
	if !ok {
		return invalid("missing '/' between namespace and project")
	}
	repo.Namespace = ns
	repo.Project = project

	repo = repo.normalized()
	if repo.Distribution == "" {
		repo.Distribution = repo.Project
	}
	if err := repo.Validate(); err != nil {
		return Repository{}, err
	}
	return repo, nil
}

// Validate checks that all identity fields are present and well formed.
func (r Repository) Validate() error {
	switch {
	case r.Namespace == "":
		return &insiderserrors.ConfigError{Key: "namespace", Reason: "must not be empty"}
	case r.Project == "":
		return &insiderserrors.ConfigError{Key: "project", Reason: "must not be empty"}
	case r.Distribution == "":
		return &insiderserrors.ConfigError{Key: "distribution", Reason: "must not be empty"}
	case !segmentPattern.MatchString(r.Namespace):
		return &insiderserrors.ConfigError{Key: "namespace", Reason: fmt.Sprintf("invalid namespace %q", r.Namespace)}
	case !segmentPattern.MatchString(r.Project):
		return &insiderserrors.ConfigError{Key: "project", Reason: fmt.Sprintf("invalid project %q", r.Project)}
	case !distributionPattern.MatchString(r.Distribution):
		return &insiderserrors.ConfigError{Key: "distribution", Reason: fmt.Sprintf("invalid distribution name %q", r.Distribution)}
	case strings.ContainsAny(r.Branch, " \t\n~^:?*[\\"):
		return &insiderserrors.ConfigError{Key: "branch", Reason: fmt.Sprintf("invalid branch name %q", r.Branch)}
	}
	return nil
}

func (r Repository) normalized() Repository {
	r.Namespace = strings.TrimSpace(r.Namespace)
	r.Project = strings.TrimSuffix(strings.TrimSpace(r.Project), ".git")
	r.Distribution = strings.TrimSpace(r.Distribution)
	r.Branch = strings.TrimSpace(r.Branch)
	return r
}

// String returns the CLI form of the repository.
func (r Repository) String() string {
	s := r.ID() + ":" + r.Distribution
	if r.Branch != "" {
		s += "@" + r.Branch
	}
	return s
}
