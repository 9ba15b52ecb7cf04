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
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Lifecycle event names.
const (
	EventStart          = "start"
	EventStartSuccess   = "start_success"
	EventStartFailure   = "start_failure"
	EventStop           = "stop"
	EventStopSuccess    = "stop_success"
	EventStopFailure    = "stop_failure"
	EventStaleRecord    = "stale_record"
	EventAlreadyRunning = "already_running"
)

// LifecycleEvent is one line of the lifecycle log.
type LifecycleEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Daemon    string    `json:"daemon"`
	Event     string    `json:"event"`
	PID       int       `json:"pid,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Args      []string  `json:"args,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// LifecycleLogger appends daemon lifecycle events to a JSON lines file
// shared by every daemon kind.
type LifecycleLogger struct {
	logPath string
	mu      sync.Mutex
}

// NewLifecycleLogger creates a new lifecycle logger.
func NewLifecycleLogger(logPath string) *LifecycleLogger {
	return &LifecycleLogger{
		logPath: logPath,
	}
}

// LogStart logs that a daemon start was initiated.
func (l *LifecycleLogger) LogStart(daemon string, args []string) error {
	return l.writeEvent(LifecycleEvent{
		Daemon:  daemon,
		Event:   EventStart,
		Success: true,
		Args:    args,
	})
}

// LogStartSuccess logs a daemon that came up.
func (l *LifecycleLogger) LogStartSuccess(daemon string, pid int, duration time.Duration) error {
	return l.writeEvent(LifecycleEvent{
		Daemon:  daemon,
		Event:   EventStartSuccess,
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("started in %v", duration.Round(time.Millisecond)),
	})
}

// LogStartFailure logs a daemon that failed to come up.
func (l *LifecycleLogger) LogStartFailure(daemon string, pid int, err error) error {
	return l.writeEvent(LifecycleEvent{
		Daemon: daemon,
		Event:  EventStartFailure,
		PID:    pid,
		Error:  errString(err),
	})
}

// LogStop logs that a stop was initiated.
func (l *LifecycleLogger) LogStop(daemon string, pid int, force bool) error {
	message := "graceful stop"
	if force {
		message = "forced stop"
	}
	return l.writeEvent(LifecycleEvent{
		Daemon:  daemon,
		Event:   EventStop,
		PID:     pid,
		Success: true,
		Message: message,
	})
}

// LogStopSuccess logs a daemon that exited.
func (l *LifecycleLogger) LogStopSuccess(daemon string, pid int, escalated bool, duration time.Duration) error {
	message := fmt.Sprintf("stopped in %v", duration.Round(time.Millisecond))
	if escalated {
		message += " after SIGKILL"
	}
	return l.writeEvent(LifecycleEvent{
		Daemon:  daemon,
		Event:   EventStopSuccess,
		PID:     pid,
		Success: true,
		Message: message,
	})
}

// LogStopFailure logs a daemon that would not exit.
func (l *LifecycleLogger) LogStopFailure(daemon string, pid int, err error) error {
	return l.writeEvent(LifecycleEvent{
		Daemon: daemon,
		Event:  EventStopFailure,
		PID:    pid,
		Error:  errString(err),
	})
}

// LogStaleRecord logs removal of a record whose process is gone.
func (l *LifecycleLogger) LogStaleRecord(daemon string, pid int, reason string) error {
	return l.writeEvent(LifecycleEvent{
		Daemon:  daemon,
		Event:   EventStaleRecord,
		PID:     pid,
		Success: true,
		Message: reason,
	})
}

// LogAlreadyRunning logs a start request for a running daemon.
func (l *LifecycleLogger) LogAlreadyRunning(daemon string, pid int) error {
	return l.writeEvent(LifecycleEvent{
		Daemon:  daemon,
		Event:   EventAlreadyRunning,
		PID:     pid,
		Success: true,
	})
}

// writeEvent appends a lifecycle event to the log file.
func (l *LifecycleLogger) writeEvent(event LifecycleEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// A single write per line keeps concurrent appenders from interleaving.
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// ReadEvents returns every event in the lifecycle log. A missing log
// yields no events.
func ReadEvents(logPath string) ([]LifecycleEvent, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var events []LifecycleEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var ev LifecycleEvent
		if err := dec.Decode(&ev); err != nil {
			return events, fmt.Errorf("failed to decode lifecycle event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
