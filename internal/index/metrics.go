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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiders_index_requests_total",
			Help: "Index requests by route and the source that answered them",
		},
		[]string{"route", "source"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiders_index_uploads_total",
			Help: "Upload attempts by result",
		},
		[]string{"result"},
	)

	upstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiders_index_upstream_requests_total",
			Help: "Requests relayed to the upstream index by outcome",
		},
		[]string{"outcome"},
	)

	upstreamBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "insiders_index_upstream_breaker_open",
			Help: "1 while the circuit breaker for an upstream host is open",
		},
		[]string{"host"},
	)
)

// Sources reported in insiders_index_requests_total.
const (
	sourceLocal    = "local"
	sourceUpstream = "upstream"
	sourceNone     = "none"
)

func recordRequest(route, source string) {
	requestsTotal.WithLabelValues(route, source).Inc()
}

func recordUpload(result string) {
	uploadsTotal.WithLabelValues(result).Inc()
}
