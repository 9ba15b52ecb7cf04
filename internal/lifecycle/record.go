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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

var (
	// ErrInvalidRecord is returned when a daemon record cannot be decoded.
	ErrInvalidRecord = errors.New("invalid daemon record")

	// ErrRecordLocked is returned when another process holds the record lock.
	ErrRecordLocked = errors.New("daemon record is locked by another process")

	// ErrUnsafeDirectory is returned when the state directory is world-writable.
	ErrUnsafeDirectory = errors.New("state directory is world-writable")
)

// recordLockTimeout bounds how long Start and Stop wait for a concurrent
// invocation to finish.
var recordLockTimeout = 30 * time.Second

// Record is the on-disk description of a running daemon. The start token
// ties the PID to one process incarnation so a recycled PID is never
// mistaken for the daemon.
type Record struct {
	Kind       string    `json:"kind"`
	PID        int       `json:"pid"`
	StartToken string    `json:"start_token"`
	StartedAt  time.Time `json:"started_at"`
	Args       []string  `json:"args,omitempty"`
	LogPath    string    `json:"log_path,omitempty"`
	Addr       string    `json:"addr,omitempty"`
}

// readRecord loads the record at path. A missing file returns an error
// matching fs.ErrNotExist.
func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.PID <= 0 {
		return nil, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidRecord, rec.PID)
	}
	return &rec, nil
}

// writeRecord replaces the record at path atomically.
func writeRecord(path string, rec *Record) error {
	dir := filepath.Dir(path)
	if err := verifyDirectorySafety(dir); err != nil {
		return fmt.Errorf("unsafe record location: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// removeRecord deletes the record at path. A missing file is not an error.
func removeRecord(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove record: %w", err)
	}
	return nil
}

// withRecordLock runs fn while holding an exclusive flock on path+".lock".
func withRecordLock(path string, fn func() error) error {
	dir := filepath.Dir(path)
	if err := verifyDirectorySafety(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// O_NOFOLLOW keeps a planted symlink from redirecting the lock file.
	f, err := os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE|syscall.O_NOFOLLOW, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer f.Close()

	deadline := time.Now().Add(recordLockTimeout)
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			return fmt.Errorf("failed to lock record: %w", err)
		}
		if time.Now().After(deadline) {
			return ErrRecordLocked
		}
		time.Sleep(50 * time.Millisecond)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// verifyDirectorySafety checks that dir is not world-writable. A
// world-writable state directory would let another user plant a record
// that directs our signals at an arbitrary process.
func verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	mode := info.Mode()
	if mode&0002 != 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, mode&os.ModePerm)
	}
	return nil
}
