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

package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
	"golang.org/x/time/rate"

	insiderslog "github.com/tombee/insiders/internal/log"
)

// ErrUpstreamDown is returned while the breaker for the upstream host
// is open.
var ErrUpstreamDown = errors.New("upstream index unavailable")

// UpstreamConfig configures an Upstream.
type UpstreamConfig struct {
	// BaseURL is the upstream index root, e.g. https://pypi.org.
	BaseURL string

	// Client performs the requests. It should carry its own timeout.
	Client *http.Client

	// RatePerSecond and Burst bound requests to the upstream. Zero
	// disables limiting.
	RatePerSecond float64
	Burst         int

	// TripThreshold is the number of consecutive failures that opens
	// the breaker. Default: 5
	TripThreshold int64

	Logger *slog.Logger
}

// Upstream relays requests to the public index behind a per-host
// circuit breaker and a token-bucket rate limit.
type Upstream struct {
	base      *url.URL
	client    *http.Client
	limiter   *rate.Limiter
	threshold int64
	logger    *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

// NewUpstream creates an Upstream.
func NewUpstream(cfg UpstreamConfig) (*Upstream, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", cfg.BaseURL)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	threshold := cfg.TripThreshold
	if threshold <= 0 {
		threshold = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u := &Upstream{
		base:      base,
		client:    client,
		threshold: threshold,
		logger:    insiderslog.WithComponent(logger, "upstream"),
		breakers:  make(map[string]*circuit.Breaker),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		u.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return u, nil
}

// Host returns the upstream host name.
func (u *Upstream) Host() string {
	return u.base.Host
}

// breaker returns or creates the breaker for host.
func (u *Upstream) breaker(host string) *circuit.Breaker {
	u.mu.RLock()
	b, ok := u.breakers[host]
	u.mu.RUnlock()
	if ok {
		return b
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if b, ok := u.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 10 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.MaxElapsedTime = 0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(u.threshold),
	})
	u.breakers[host] = b
	return b
}

// Get fetches path (relative to the base URL) from upstream. Responses
// with status >= 500 count as failures for the breaker but are still
// returned to the caller. The caller closes the body.
func (u *Upstream) Get(ctx context.Context, path string, header http.Header) (*http.Response, error) {
	target := *u.base
	target.Path = u.base.Path + path

	b := u.breaker(target.Host)
	if !b.Ready() {
		upstreamRequests.WithLabelValues("breaker_open").Inc()
		return nil, fmt.Errorf("circuit breaker open for %s: %w", target.Host, ErrUpstreamDown)
	}

	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			upstreamRequests.WithLabelValues("rate_limited").Inc()
			return nil, fmt.Errorf("upstream rate limit: %w", err)
		}
	}

	var resp *http.Response
	err := b.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return err
		}
		for _, key := range []string{"Accept", "Accept-Encoding", "If-None-Match", "If-Modified-Since"} {
			if v := header.Get(key); v != "" {
				req.Header.Set(key, v)
			}
		}
		resp, err = u.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
		}
		return nil
	}, 0)

	switch {
	case err == nil:
		upstreamRequests.WithLabelValues("ok").Inc()
	case resp != nil:
		// 5xx: relay it, the breaker has already counted it.
		upstreamRequests.WithLabelValues("error").Inc()
		err = nil
	case errors.Is(err, circuit.ErrBreakerOpen):
		upstreamRequests.WithLabelValues("breaker_open").Inc()
		err = fmt.Errorf("circuit breaker open for %s: %w", target.Host, ErrUpstreamDown)
	default:
		upstreamRequests.WithLabelValues("error").Inc()
		u.logger.Warn("upstream request failed", slog.String("url", target.String()), insiderslog.Error(err))
	}

	u.updateBreakerGauge(target.Host, b)
	return resp, err
}

func (u *Upstream) updateBreakerGauge(host string, b *circuit.Breaker) {
	state := 0.0
	if b.Tripped() {
		state = 1
	}
	upstreamBreakerOpen.WithLabelValues(host).Set(state)
}

// BreakerStates reports "open" or "closed" per upstream host.
func (u *Upstream) BreakerStates() map[string]string {
	u.mu.RLock()
	defer u.mu.RUnlock()

	states := make(map[string]string, len(u.breakers))
	for host, b := range u.breakers {
		if b.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}
