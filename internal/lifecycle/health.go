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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenk/backoff"
)

var (
	// ErrHealthCheckTimeout means the daemon did not become healthy in time.
	ErrHealthCheckTimeout = errors.New("health check timeout")

	// ErrHealthCheckFailed means the endpoint answered with a non-2xx status.
	ErrHealthCheckFailed = errors.New("health check failed")
)

// Prober reports when a freshly started daemon is ready.
type Prober interface {
	WaitUntilHealthy(ctx context.Context, timeout time.Duration) error
}

// HealthCheckResult is the outcome of one probe.
type HealthCheckResult struct {
	Success      bool
	StatusCode   int
	ResponseTime time.Duration
	Error        error
}

// Probe schedule: 50ms doubling up to 1s.
const (
	probeInitial = 50 * time.Millisecond
	probeCeiling = time.Second
)

// HealthChecker probes an HTTP health endpoint, such as the index
// server's /health, on an exponential schedule.
type HealthChecker struct {
	url       string
	client    *http.Client
	onAttempt func(*HealthCheckResult, int)
}

// NewHealthChecker probes url.
func NewHealthChecker(url string) *HealthChecker {
	return &HealthChecker{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// WithHTTPClient replaces the HTTP client.
func (h *HealthChecker) WithHTTPClient(client *http.Client) *HealthChecker {
	h.client = client
	return h
}

// OnAttempt registers fn to run after every probe with its 1-based number.
func (h *HealthChecker) OnAttempt(fn func(*HealthCheckResult, int)) *HealthChecker {
	h.onAttempt = fn
	return h
}

// Check probes once.
func (h *HealthChecker) Check(ctx context.Context) *HealthCheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return &HealthCheckResult{Error: fmt.Errorf("failed to create request: %w", err)}
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	res := &HealthCheckResult{ResponseTime: time.Since(start)}
	if err != nil {
		res.Error = fmt.Errorf("request failed: %w", err)
		return res
	}
	resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !res.Success {
		res.Error = fmt.Errorf("%w: HTTP %d", ErrHealthCheckFailed, resp.StatusCode)
	}
	return res
}

// WaitUntilHealthy probes until one succeeds. It fails with
// ErrHealthCheckTimeout when timeout elapses or ctx is done first.
func (h *HealthChecker) WaitUntilHealthy(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = probeInitial
	schedule.MaxInterval = probeCeiling
	schedule.Multiplier = 2
	schedule.RandomizationFactor = 0
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	for attempt := 1; ; attempt++ {
		res := h.Check(ctx)
		if h.onAttempt != nil {
			h.onAttempt(res, attempt)
		}
		if res.Success {
			return nil
		}

		timer := time.NewTimer(schedule.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w after %d attempts: %v", ErrHealthCheckTimeout, attempt, res.Error)
		case <-timer.C:
		}
	}
}
