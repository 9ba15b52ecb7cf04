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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// Spawner starts daemons detached from the invoking terminal.
type Spawner struct {
	// Env is the environment of the child process.
	Env []string
}

// NewSpawner creates a spawner that passes on the current environment.
func NewSpawner() *Spawner {
	return &Spawner{
		Env: os.Environ(),
	}
}

// WithEnv appends environment variables for the spawned process.
func (s *Spawner) WithEnv(env ...string) *Spawner {
	s.Env = append(s.Env, env...)
	return s
}

// Child is a spawned daemon. Exited is closed once the process exits
// while the spawning process is still alive.
type Child struct {
	PID int

	done chan struct{}
	err  error
}

// Exited returns a channel closed when the child exits.
func (c *Child) Exited() <-chan struct{} {
	return c.done
}

// Err returns the wait error once Exited is closed.
func (c *Child) Err() error {
	return c.err
}

// SpawnDetached starts binary in a new session with stdin closed and
// stdout/stderr appended to logPath.
func (s *Spawner) SpawnDetached(binary string, args []string, logPath string) (*Child, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(binary, args...)
	cmd.Env = s.Env
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	// A new session detaches from the controlling terminal and makes the
	// child a process group leader.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	child := &Child{PID: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		child.err = cmd.Wait()
		close(child.done)
	}()
	return child, nil
}
