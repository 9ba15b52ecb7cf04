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

// Package pep440 parses, normalizes and orders Python package versions.
//
// Release tags are turned into versions with Normalize, which strips
// release-marker prefixes such as "v" or "release-" and repairs common
// separator styles so that a tag and the version built from it compare
// equal.
package pep440

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var versionPattern = regexp.MustCompile(`(?i)^v?` +
	`(?:(\d+)!)?` + // epoch
	`(\d+(?:\.\d+)*)` + // release
	`(?:[-_.]?(a|b|c|rc|alpha|beta|pre|preview)[-_.]?(\d+)?)?` + // pre
	`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d+)?)?` + // post
	`(?:[-_.]?(dev)[-_.]?(\d+)?)?` + // dev
	`(?:\+([a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`) // local

// Version is a parsed PEP 440 version.
type Version struct {
	Epoch   int
	Release []int

	// PreLabel is "a", "b" or "rc"; empty when not a pre-release.
	PreLabel string
	PreNum   int

	HasPost bool
	Post    int

	HasDev bool
	Dev    int

	// Local holds the local version label split on separators.
	Local []string
}

// ParseError is returned for strings that are not valid versions.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version: %q", e.Input)
}

// Parse parses a PEP 440 version. Alternative spellings are accepted
// (alpha, preview, rev, "1.0-1") and normalized.
func Parse(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Version{}, &ParseError{Input: s}
	}

	var v Version
	if m[1] != "" {
		v.Epoch = atoi(m[1])
	}
	for _, part := range strings.Split(m[2], ".") {
		v.Release = append(v.Release, atoi(part))
	}

	if m[3] != "" {
		switch strings.ToLower(m[3]) {
		case "a", "alpha":
			v.PreLabel = "a"
		case "b", "beta":
			v.PreLabel = "b"
		default:
			v.PreLabel = "rc"
		}
		v.PreNum = atoi(m[4])
	}

	switch {
	case m[5] != "":
		v.HasPost = true
		v.Post = atoi(m[5])
	case m[6] != "":
		v.HasPost = true
		v.Post = atoi(m[7])
	}

	if m[8] != "" {
		v.HasDev = true
		v.Dev = atoi(m[9])
	}

	if m[10] != "" {
		for _, seg := range strings.FieldsFunc(strings.ToLower(m[10]), isSeparator) {
			v.Local = append(v.Local, seg)
		}
	}

	return v, nil
}

// MustParse is like Parse but panics on invalid input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the canonical form, e.g. "1!2.0rc1.post2.dev3+ubuntu.1".
func (v Version) String() string {
	var b strings.Builder
	if v.Epoch != 0 {
		fmt.Fprintf(&b, "%d!", v.Epoch)
	}
	for i, n := range v.Release {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(n))
	}
	if v.PreLabel != "" {
		fmt.Fprintf(&b, "%s%d", v.PreLabel, v.PreNum)
	}
	if v.HasPost {
		fmt.Fprintf(&b, ".post%d", v.Post)
	}
	if v.HasDev {
		fmt.Fprintf(&b, ".dev%d", v.Dev)
	}
	if len(v.Local) > 0 {
		b.WriteByte('+')
		b.WriteString(strings.Join(v.Local, "."))
	}
	return b.String()
}

// Public returns the version without its local label.
func (v Version) Public() Version {
	v.Local = nil
	return v
}

// IsPrerelease reports whether the version has a pre-release or
// development segment.
func (v Version) IsPrerelease() bool {
	return v.PreLabel != "" || v.HasDev
}

// Equal reports whether two versions are equal under PEP 440 rules, so
// "1.0" equals "1.0.0".
func (v Version) Equal(o Version) bool {
	return Compare(v, o) == 0
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// Only reachable for digit runs that overflow int.
		return int(^uint(0) >> 1)
	}
	return n
}

func isSeparator(r rune) bool {
	return r == '.' || r == '-' || r == '_'
}
