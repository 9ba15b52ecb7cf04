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
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure stages reported in insiders_watcher_failures_total.
const (
	StageRegistry = "registry"
	StageObserve  = "observe"
	StageBuild    = "build"
	StagePublish  = "publish"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiders_watcher_cycles_total",
			Help: "Watcher cycles by result",
		},
		[]string{"result"},
	)

	observationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiders_watcher_observations_total",
			Help: "Repository observations by outcome",
		},
		[]string{"outcome"},
	)

	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiders_watcher_builds_total",
			Help: "Build and publish runs by result",
		},
		[]string{"result"},
	)

	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiders_watcher_failures_total",
			Help: "Per-repository failures by stage",
		},
		[]string{"stage"},
	)

	lastCycleTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "insiders_watcher_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insiders_watcher_cycle_duration_seconds",
			Help:    "Duration of watcher cycles",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
	)
)

// recordCycle updates the cycle metrics from a finished report.
func recordCycle(report *CycleReport) {
	result := "ok"
	switch {
	case report.Err != nil:
		result = "skipped"
		failuresTotal.WithLabelValues(StageRegistry).Inc()
	case report.Failed() > 0:
		result = "partial"
	}
	cyclesTotal.WithLabelValues(result).Inc()
	lastCycleTimestamp.Set(float64(report.StartedAt.Add(report.Duration).Unix()))
	cycleDuration.Observe(report.Duration.Seconds())
}

// recordRepository updates per-repository metrics.
func recordRepository(r *RepositoryReport) {
	switch r.Outcome {
	case OutcomeFailed:
		observationsTotal.WithLabelValues("error").Inc()
		failuresTotal.WithLabelValues(r.Stage).Inc()
		if r.Stage != StageObserve {
			buildsTotal.WithLabelValues("failed").Inc()
		}
	case OutcomeBuilt:
		observationsTotal.WithLabelValues("build").Inc()
		buildsTotal.WithLabelValues("success").Inc()
	case OutcomeWouldBuild:
		observationsTotal.WithLabelValues("build").Inc()
	default:
		observationsTotal.WithLabelValues("skip").Inc()
	}
}

// ServeMetrics exposes the default Prometheus registry on addr until ctx
// is done.
func ServeMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	logger.Info("serving metrics", slog.String("addr", listener.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
