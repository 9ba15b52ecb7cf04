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

//go:build linux

package lifecycle

import (
	"fmt"
	"os"
	"strings"
)

// statFields returns the fields of /proc/<pid>/stat that follow the
// parenthesised command name, so index 0 is field 3 (state).
func statFields(pid int) ([]string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, ErrProcessNotRunning
	}
	stat := string(data)
	// The command name may itself contain spaces and parentheses.
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return nil, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	return strings.Fields(stat[end+1:]), nil
}

// startToken returns field 22 of /proc/<pid>/stat, the process start
// time in clock ticks since boot.
func startToken(pid int) (string, error) {
	fields, err := statFields(pid)
	if err != nil {
		return "", err
	}
	if len(fields) < 20 {
		return "", fmt.Errorf("malformed /proc/%d/stat: %d fields", pid, len(fields))
	}
	return fields[19], nil
}

func isZombie(pid int) bool {
	fields, err := statFields(pid)
	if err != nil || len(fields) == 0 {
		return false
	}
	return fields[0] == "Z" || fields[0] == "X"
}
