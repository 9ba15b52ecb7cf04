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

// Package httpclient provides the HTTP client factory shared by the index
// client, the uploader and the upstream fallback proxy.
//
// The client factory composes transport layers to provide:
//   - Automatic retries with exponential backoff and jitter
//   - Request logging with sanitized URLs (sensitive params and userinfo redacted)
//   - User-Agent header injection
//   - Optional DNS caching for long-running daemons
//   - TLS 1.2+ with secure defaults
//
// Create a client with default settings:
//
//	client, err := httpclient.New(httpclient.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Get("http://localhost:31411/simple/")
//
// Customize configuration:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 60 * time.Second
//	cfg.RetryAttempts = 5
//	cfg.Resolver = &dnscache.Resolver{}
//	client, err := httpclient.New(cfg)
//
// # Retry Behavior
//
// The client retries transient errors with exponential backoff:
//   - Retries HTTP 5xx server errors
//   - Retries HTTP 429 (rate limit) with Retry-After header support
//   - Retries HTTP 408 (request timeout)
//   - Retries network errors (connection refused, reset, temporary DNS failures)
//   - Does NOT retry other 4xx client errors
//   - Only retries idempotent methods (GET, HEAD, OPTIONS) by default
//
// Uploads are POST requests and are never retried unless
// AllowNonIdempotentRetry is set.
//
// # Observability
//
// All requests emit structured logs via log/slog:
//   - Debug level: successful requests
//   - Warn level: failed requests (4xx/5xx status, errors)
//   - Fields: method, url (sanitized), status, duration_ms, error
package httpclient
