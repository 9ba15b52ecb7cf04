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
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExit is replaced in tests.
var forceExit = os.Exit

// ShutdownContext returns a context cancelled by the first SIGINT or
// SIGTERM. A second signal exits the process immediately with status 130,
// abandoning work that runs on a context detached from cancellation.
func ShutdownContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, exiting immediately", slog.String("signal", sig.String()))
			forceExit(130)
		case <-done:
		}
	}()

	stop := func() {
		signal.Stop(sigCh)
		select {
		case <-done:
		default:
			close(done)
		}
		cancel()
	}
	return ctx, stop
}
