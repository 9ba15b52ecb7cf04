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

package shared

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerTick = 100 * time.Millisecond

// Spinner shows progress of a long command such as 'insiders update'.
// On a terminal it redraws one line with a frame and the elapsed time.
// Elsewhere each message is printed once on its own line.
type Spinner struct {
	w   io.Writer
	tty bool

	mu      sync.Mutex
	msg     string
	started time.Time
	frame   int
	stop    chan struct{}
}

// NewSpinner creates a spinner on stderr.
func NewSpinner() *Spinner {
	return NewSpinnerTo(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

// NewSpinnerTo creates a spinner on w.
func NewSpinnerTo(w io.Writer, isTTY bool) *Spinner {
	return &Spinner{w: w, tty: isTTY}
}

// Start shows message. It does nothing while the spinner is running.
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	s.msg = message
	s.started = time.Now()
	s.frame = 0
	s.stop = make(chan struct{})
	s.show()

	if s.tty {
		go s.spin(s.stop)
	}
}

// Update replaces the message of a running spinner.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil || message == s.msg {
		return
	}
	s.msg = message
	s.show()
}

// Stop clears the spinner line and returns how long it ran. A spinner
// that is not running returns zero.
func (s *Spinner) Stop() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return 0
	}

	close(s.stop)
	s.stop = nil
	if s.tty {
		fmt.Fprint(s.w, "\r\033[K")
	}
	return time.Since(s.started)
}

func (s *Spinner) spin(stop <-chan struct{}) {
	t := time.NewTicker(spinnerTick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.mu.Lock()
			if s.stop != nil {
				s.frame = (s.frame + 1) % len(spinnerFrames)
				s.show()
			}
			s.mu.Unlock()
		}
	}
}

// show writes the current message; mu must be held.
func (s *Spinner) show() {
	if !s.tty {
		fmt.Fprintln(s.w, s.msg)
		return
	}
	frame := "..."
	if ColorEnabled() {
		frame = spinnerFrames[s.frame]
	}
	elapsed := "(" + FormatElapsed(time.Since(s.started)) + ")"
	fmt.Fprintf(s.w, "\r\033[K%s %s %s", s.msg, Muted.Render(frame), Muted.Render(elapsed))
}

// FormatElapsed renders d at second precision using its two largest
// units: "12s", "1m 23s", "2h 5m".
func FormatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)

	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	case m > 0 && sec > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", sec)
}
