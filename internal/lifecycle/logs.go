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
	"io"
	"io/fs"
	"os"
	"time"
)

const defaultPollInterval = 250 * time.Millisecond

// LogOptions configures Logs.
type LogOptions struct {
	// Lines limits output to the last N lines. Zero prints everything.
	Lines int
	// Follow keeps streaming appended output until ctx is done.
	Follow bool
	// PollInterval is how often a followed file is checked. Default 250ms.
	PollInterval time.Duration
}

// Logs streams the daemon output to w.
func (s *Supervisor) Logs(ctx context.Context, w io.Writer, opts LogOptions) error {
	return TailFile(ctx, s.LogFile(), w, opts)
}

// Events returns the last n lifecycle events recorded for this daemon
// kind, or all of them when n <= 0.
func (s *Supervisor) Events(n int) ([]LifecycleEvent, error) {
	all, err := ReadEvents(s.EventLogPath())
	if err != nil {
		return nil, err
	}
	var own []LifecycleEvent
	for _, ev := range all {
		if ev.Daemon == s.Kind {
			own = append(own, ev)
		}
	}
	if n > 0 && len(own) > n {
		own = own[len(own)-n:]
	}
	return own, nil
}

// TailFile writes the tail of path to w and optionally follows it. A
// missing file produces no output; when following, it is waited for.
func TailFile(ctx context.Context, path string, w io.Writer, opts LogOptions) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	f, err := os.Open(path)
	for errors.Is(err, fs.ErrNotExist) {
		if !opts.Follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		f, err = os.Open(path)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	start, err := tailOffset(f, info.Size(), opts.Lines)
	if err != nil {
		return err
	}
	offset, err := copyRange(w, f, start, info.Size())
	if err != nil || !opts.Follow {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := f.Stat()
		if err != nil {
			return err
		}
		size := info.Size()
		if size < offset {
			// Truncated or rotated in place.
			offset = 0
		}
		if size > offset {
			if offset, err = copyRange(w, f, offset, size); err != nil {
				return err
			}
		}
	}
}

// copyRange copies [from, to) of f to w and returns the new offset.
func copyRange(w io.Writer, f *os.File, from, to int64) (int64, error) {
	n, err := io.Copy(w, io.NewSectionReader(f, from, to-from))
	return from + n, err
}

// tailOffset returns the offset of the start of the last n lines of f.
// A trailing newline ends the last line rather than starting a new one.
func tailOffset(f *os.File, size int64, n int) (int64, error) {
	if n <= 0 || size == 0 {
		return 0, nil
	}

	target := n
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return 0, err
	}
	if last[0] == '\n' {
		target++
	}

	const blockSize = 8192
	buf := make([]byte, blockSize)
	pos := size
	count := 0
	for pos > 0 {
		readSize := int64(blockSize)
		if pos < readSize {
			readSize = pos
		}
		pos -= readSize
		if _, err := f.ReadAt(buf[:readSize], pos); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		for i := readSize - 1; i >= 0; i-- {
			if buf[i] == '\n' {
				count++
				if count == target {
					return pos + i + 1, nil
				}
			}
		}
	}
	return 0, nil
}
