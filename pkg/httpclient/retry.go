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

package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenk/backoff"
)

// transientErrors are substrings of dial and read errors worth another try.
var transientErrors = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network unreachable",
	"temporary failure in name resolution",
	"eof",
}

// retryTransport replays failed requests on an exponential schedule.
// Only GET, HEAD and OPTIONS are replayed unless the config opts in.
type retryTransport struct {
	base        http.RoundTripper
	retries     uint64
	initial     time.Duration
	ceiling     time.Duration
	replayWrite bool
}

func newRetryTransport(base http.RoundTripper, cfg Config) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &retryTransport{
		base:        base,
		retries:     uint64(cfg.RetryAttempts),
		initial:     cfg.RetryBackoff,
		ceiling:     cfg.MaxBackoff,
		replayWrite: cfg.AllowNonIdempotentRetry,
	}
}

// newBackOff returns a fresh schedule for one request. It never stops
// on elapsed time; the client timeout bounds the whole exchange.
func (t *retryTransport) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.initial
	b.MaxInterval = t.ceiling
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// WithMaxRetries treats zero as unlimited.
	if t.retries == 0 || (!replayable(req.Method) && !t.replayWrite) {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	schedule := backoff.WithMaxRetries(t.newBackOff(), t.retries)

	for {
		resp, err := t.base.RoundTrip(req)
		switch {
		case err == nil && !retryableStatus(resp.StatusCode):
			return resp, nil
		case err != nil && !transient(err):
			return nil, err
		}

		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			// Out of retries: the caller gets the last response unread.
			return resp, err
		}
		if resp != nil {
			if hint := retryAfter(resp); hint > 0 && hint < delay {
				delay = hint
			}
			resp.Body.Close()
		}

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func replayable(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code >= 500 && code < 600 ||
		code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests
}

// transient reports whether err looks like a network blip rather than a
// cancelled request or a permanent failure.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != err {
		return transient(urlErr.Err)
	}

	msg := strings.ToLower(err.Error())
	for _, s := range transientErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// retryAfter reads the Retry-After header in seconds or HTTP-date form.
// A missing or unusable header gives zero.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return 0
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
