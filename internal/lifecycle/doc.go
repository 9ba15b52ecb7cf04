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

/*
Package lifecycle runs the insiders daemons in the background.

A Supervisor owns one daemon kind ("server" or "watcher"). The daemon is a
re-invocation of the insiders binary in foreground mode, detached into its
own session with output appended to a log file.

# Records

A running daemon is described by a JSON record in the state directory.
Records are written atomically under an exclusive flock, and carry a
start token alongside the PID:

	/proc/<pid>/stat field 22 (Linux)
	ps -o lstart= (macOS)

Status compares the token with the live process, so a PID recycled by an
unrelated process reports "stale" rather than "running". Stale records
are removed when observed.

# Start and stop

	sup := &lifecycle.Supervisor{
	    Kind:     "server",
	    StateDir: stateDir,
	    Binary:   exe,
	    Args:     []string{"server", "run"},
	    Health:   lifecycle.NewHealthChecker("http://127.0.0.1:31411/health"),
	}
	rec, started, err := sup.Start(ctx)

Start is a no-op for a running daemon. A daemon that exits or fails its
health probe is killed and reported with the tail of its output. Stop sends
SIGTERM, waits, and escalates to SIGKILL unless told otherwise.

# Lifecycle log

Every start, stop and stale record is appended as a JSON line to
lifecycle.log in the state directory.
*/
package lifecycle
