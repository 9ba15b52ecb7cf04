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
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	insiderslog "github.com/tombee/insiders/internal/log"
	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

// State is the observed state of a daemon.
type State string

const (
	// StateRunning means the record matches a live process.
	StateRunning State = "running"
	// StateStopped means there is no record.
	StateStopped State = "stopped"
	// StateStale means a record exists but its process is gone or the
	// PID now belongs to another process.
	StateStale State = "stale"
)

const (
	defaultStartTimeout = 10 * time.Second
	defaultStopTimeout  = 30 * time.Second
	defaultSettle       = 500 * time.Millisecond
	killWait            = 5 * time.Second
	startLogTailLines   = 20
)

// Status is the result of a status query. Record is set for running and
// stale daemons; a stale record has already been removed.
type Status struct {
	State  State   `json:"state"`
	Record *Record `json:"record,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// StopOptions configures Stop.
type StopOptions struct {
	// Timeout is how long to wait after SIGTERM. Default 30s.
	Timeout time.Duration
	// Force sends SIGKILL without waiting for a graceful exit.
	Force bool
	// NoEscalate reports a timeout instead of sending SIGKILL.
	NoEscalate bool
}

// StopResult describes what Stop did.
type StopResult struct {
	WasRunning bool `json:"was_running"`
	Escalated  bool `json:"escalated"`
	PID        int  `json:"pid,omitempty"`
}

// Supervisor starts, stops and inspects one kind of background daemon.
// Daemons are re-invocations of Binary with Args; their state lives in
// <StateDir>/<Kind>.json and their output in LogPath.
type Supervisor struct {
	Kind     string
	StateDir string
	// LogPath defaults to <StateDir>/<Kind>.log.
	LogPath string
	Binary  string
	Args    []string
	// Env is appended to the current environment.
	Env []string
	// Addr is the address the daemon listens on, if any. Start fails
	// without spawning when something already listens there.
	Addr string

	// Health, when set, must succeed within StartTimeout for Start to
	// report success. Without it Start waits Settle for an early exit.
	Health       Prober
	StartTimeout time.Duration
	Settle       time.Duration

	Logger *slog.Logger
}

// RecordPath returns the daemon record path.
func (s *Supervisor) RecordPath() string {
	return filepath.Join(s.StateDir, s.Kind+".json")
}

// LogFile returns the daemon output path.
func (s *Supervisor) LogFile() string {
	if s.LogPath != "" {
		return s.LogPath
	}
	return filepath.Join(s.StateDir, s.Kind+".log")
}

// EventLogPath returns the lifecycle event log shared by all daemons.
func (s *Supervisor) EventLogPath() string {
	return filepath.Join(s.StateDir, "lifecycle.log")
}

func (s *Supervisor) events() *LifecycleLogger {
	return NewLifecycleLogger(s.EventLogPath())
}

func (s *Supervisor) logger() *slog.Logger {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String(insiderslog.DaemonKey, s.Kind))
}

// Status verifies the record against the process table. A stale record
// is removed and reported once.
func (s *Supervisor) Status() (Status, error) {
	rec, err := readRecord(s.RecordPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Status{State: StateStopped}, nil
	case errors.Is(err, ErrInvalidRecord):
		s.dropStale(nil, err.Error())
		return Status{State: StateStale, Reason: err.Error()}, nil
	case err != nil:
		return Status{}, fmt.Errorf("read %s record: %w", s.Kind, err)
	}

	if reason := verify(rec); reason != "" {
		s.dropStale(rec, reason)
		return Status{State: StateStale, Record: rec, Reason: reason}, nil
	}
	return Status{State: StateRunning, Record: rec}, nil
}

// verify returns why rec does not describe a live daemon, or "".
func verify(rec *Record) string {
	if !IsProcessRunning(rec.PID) {
		return "process not running"
	}
	token, err := StartToken(rec.PID)
	if err != nil {
		return "process not running"
	}
	if token != rec.StartToken {
		return "PID belongs to a different process"
	}
	return ""
}

func (s *Supervisor) dropStale(rec *Record, reason string) {
	pid := 0
	if rec != nil {
		pid = rec.PID
	}
	if err := removeRecord(s.RecordPath()); err != nil {
		s.logger().Warn("failed to remove stale record", insiderslog.Error(err))
		return
	}
	s.logger().Info("removed stale daemon record", slog.Int("pid", pid), slog.String("reason", reason))
	_ = s.events().LogStaleRecord(s.Kind, pid, reason)
}

// Start spawns the daemon unless it is already running. It reports
// whether a new process was started. A daemon that exits or fails its
// health probe is killed and yields a *errors.DaemonError carrying the
// tail of its output.
func (s *Supervisor) Start(ctx context.Context) (*Record, bool, error) {
	var rec *Record
	var started bool
	err := withRecordLock(s.RecordPath(), func() error {
		st, err := s.Status()
		if err != nil {
			return err
		}
		if st.State == StateRunning {
			_ = s.events().LogAlreadyRunning(s.Kind, st.Record.PID)
			rec = st.Record
			return nil
		}
		rec, err = s.spawn(ctx)
		started = err == nil
		return err
	})
	if err != nil {
		var daemonErr *insiderserrors.DaemonError
		if !errors.As(err, &daemonErr) {
			err = &insiderserrors.DaemonError{Kind: s.Kind, Op: "start", Cause: err}
		}
		return nil, false, err
	}
	return rec, started, nil
}

func (s *Supervisor) spawn(ctx context.Context) (*Record, error) {
	logger := s.logger()
	events := s.events()
	logPath := s.LogFile()

	var offset int64
	if info, err := os.Stat(logPath); err == nil {
		offset = info.Size()
	}

	_ = events.LogStart(s.Kind, s.Args)
	start := time.Now()

	if err := addrAvailable(s.Addr); err != nil {
		_ = events.LogStartFailure(s.Kind, 0, err)
		logger.Error("daemon failed to start", insiderslog.Error(err))
		return nil, &insiderserrors.DaemonError{Kind: s.Kind, Op: "start", Cause: err}
	}

	child, err := NewSpawner().WithEnv(s.Env...).SpawnDetached(s.Binary, s.Args, logPath)
	if err != nil {
		_ = events.LogStartFailure(s.Kind, 0, err)
		return nil, &insiderserrors.DaemonError{Kind: s.Kind, Op: "start", Cause: err}
	}

	token, err := StartToken(child.PID)
	if err != nil {
		return nil, s.startFailed(child, logPath, offset, fmt.Errorf("exited during startup: %w", exitCause(child)))
	}

	rec := &Record{
		Kind:       s.Kind,
		PID:        child.PID,
		StartToken: token,
		StartedAt:  time.Now().UTC(),
		Args:       s.Args,
		LogPath:    logPath,
		Addr:       s.Addr,
	}
	if err := writeRecord(s.RecordPath(), rec); err != nil {
		return nil, s.startFailed(child, logPath, offset, err)
	}

	if err := s.awaitReady(ctx, child); err != nil {
		_ = removeRecord(s.RecordPath())
		return nil, s.startFailed(child, logPath, offset, err)
	}

	logger.Info("daemon started", slog.Int("pid", child.PID), insiderslog.Duration(time.Since(start)))
	_ = events.LogStartSuccess(s.Kind, child.PID, time.Since(start))
	return rec, nil
}

// addrAvailable fails when addr already has a listener.
func addrAvailable(addr string) error {
	if addr == "" {
		return nil
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen address %s unavailable: %w", addr, err)
	}
	return l.Close()
}

// awaitReady waits for the health probe, or for the settle period when
// there is none, failing early if the child exits.
func (s *Supervisor) awaitReady(ctx context.Context, child *Child) error {
	if s.Health == nil {
		settle := s.Settle
		if settle <= 0 {
			settle = defaultSettle
		}
		select {
		case <-child.Exited():
			return fmt.Errorf("exited during startup: %w", exitCause(child))
		case <-time.After(settle):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timeout := s.StartTimeout
	if timeout <= 0 {
		timeout = defaultStartTimeout
	}
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	probe := make(chan error, 1)
	go func() {
		probe <- s.Health.WaitUntilHealthy(probeCtx, timeout)
	}()

	select {
	case <-child.Exited():
		return fmt.Errorf("exited during startup: %w", exitCause(child))
	case err := <-probe:
		if err != nil {
			return err
		}
		if !IsProcessRunning(child.PID) {
			return errors.New("exited during startup")
		}
		return nil
	}
}

// startFailed kills child and builds the start error with the output
// the child produced since offset.
func (s *Supervisor) startFailed(child *Child, logPath string, offset int64, cause error) error {
	select {
	case <-child.Exited():
	default:
		_ = killGroup(child.PID)
		select {
		case <-child.Exited():
		case <-time.After(killWait):
		}
	}

	_ = s.events().LogStartFailure(s.Kind, child.PID, cause)
	s.logger().Error("daemon failed to start", slog.Int("pid", child.PID), insiderslog.Error(cause))

	return &insiderserrors.DaemonError{
		Kind:    s.Kind,
		Op:      "start",
		PID:     child.PID,
		LogTail: readTail(logPath, offset, startLogTailLines),
		Cause:   cause,
	}
}

func exitCause(child *Child) error {
	select {
	case <-child.Exited():
		if err := child.Err(); err != nil {
			return err
		}
		return errors.New("exit status 0")
	default:
		return ErrProcessNotRunning
	}
}

// Stop terminates a running daemon. Stopped and stale daemons are left
// alone apart from removing the stale record.
func (s *Supervisor) Stop(ctx context.Context, opts StopOptions) (StopResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultStopTimeout
	}

	var result StopResult
	err := withRecordLock(s.RecordPath(), func() error {
		st, err := s.Status()
		if err != nil {
			return err
		}
		if st.State != StateRunning {
			return nil
		}

		pid := st.Record.PID
		result.WasRunning = true
		result.PID = pid
		logger := s.logger().With(slog.Int("pid", pid))
		events := s.events()
		_ = events.LogStop(s.Kind, pid, opts.Force)
		start := time.Now()

		fail := func(err error) error {
			_ = events.LogStopFailure(s.Kind, pid, err)
			return &insiderserrors.DaemonError{Kind: s.Kind, Op: "stop", PID: pid, Cause: err}
		}

		if opts.Force {
			logger.Info("killing daemon")
			if err := killGroup(pid); err != nil && IsProcessRunning(pid) {
				return fail(err)
			}
			result.Escalated = true
			if err := WaitForExit(ctx, pid, killWait); err != nil {
				return fail(err)
			}
		} else {
			logger.Info("stopping daemon", slog.Duration("timeout", opts.Timeout))
			if err := SendSignal(pid, syscall.SIGTERM); err != nil && IsProcessRunning(pid) {
				return fail(err)
			}
			if err := WaitForExit(ctx, pid, opts.Timeout); err != nil {
				if opts.NoEscalate {
					return fail(err)
				}
				logger.Warn("daemon did not exit in time, sending SIGKILL")
				if err := killGroup(pid); err != nil && IsProcessRunning(pid) {
					return fail(err)
				}
				result.Escalated = true
				if err := WaitForExit(ctx, pid, killWait); err != nil {
					return fail(err)
				}
			}
		}

		if err := removeRecord(s.RecordPath()); err != nil {
			return err
		}
		logger.Info("daemon stopped", insiderslog.Duration(time.Since(start)), slog.Bool("escalated", result.Escalated))
		_ = events.LogStopSuccess(s.Kind, pid, result.Escalated, time.Since(start))
		return nil
	})
	if err != nil {
		var daemonErr *insiderserrors.DaemonError
		if !errors.As(err, &daemonErr) {
			err = &insiderserrors.DaemonError{Kind: s.Kind, Op: "stop", PID: result.PID, Cause: err}
		}
		return result, err
	}
	return result, nil
}

// readTail returns up to n trailing lines written to path after offset.
func readTail(path string, offset int64, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() <= offset {
		return ""
	}
	start, err := tailOffset(f, info.Size(), n)
	if err != nil {
		return ""
	}
	if start < offset {
		start = offset
	}
	buf := make([]byte, info.Size()-start)
	if _, err := f.ReadAt(buf, start); err != nil {
		return ""
	}
	return strings.TrimRight(string(buf), "\n")
}
