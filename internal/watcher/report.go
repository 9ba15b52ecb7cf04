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

package watcher

import (
	"time"
)

// Outcome is what happened to one repository in a cycle.
type Outcome string

const (
	OutcomeBuilt      Outcome = "built"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeWouldBuild Outcome = "would_build"
	OutcomeFailed     Outcome = "failed"
)

// RepositoryReport is the result of processing one repository.
type RepositoryReport struct {
	Repository   string          `json:"repository"`
	Distribution string          `json:"distribution"`
	Tag          string          `json:"tag,omitempty"`
	Version      string          `json:"version,omitempty"`
	LatestLocal  string          `json:"latest_local,omitempty"`
	Outcome      Outcome         `json:"outcome"`
	Reason       string          `json:"reason,omitempty"`
	Stage        string          `json:"stage,omitempty"`
	Error        string          `json:"error,omitempty"`
	JobID        string          `json:"job_id,omitempty"`
	Artifacts    []string        `json:"artifacts,omitempty"`
	Published    map[string]bool `json:"published,omitempty"`
	Duration     time.Duration   `json:"duration"`

	// Err is the failure behind Error.
	Err error `json:"-"`
}

// CycleReport is the result of one pass over the registry.
type CycleReport struct {
	StartedAt    time.Time          `json:"started_at"`
	Duration     time.Duration      `json:"duration"`
	Repositories []RepositoryReport `json:"repositories"`

	// Err is set when the registry could not be read and the cycle was
	// skipped.
	Err error `json:"-"`
}

// Count returns the number of repositories with the given outcome.
func (r *CycleReport) Count(outcome Outcome) int {
	n := 0
	for _, repo := range r.Repositories {
		if repo.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed returns the number of failed repositories.
func (r *CycleReport) Failed() int { return r.Count(OutcomeFailed) }

// Built returns the number of repositories built and published.
func (r *CycleReport) Built() int { return r.Count(OutcomeBuilt) }
