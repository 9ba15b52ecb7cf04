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

package pep440

import (
	"regexp"
	"strings"
)

// releasePrefix matches alphabetic markers in front of the first digit:
// "v", "V", "release-", "version", "ver.", "rel_" and similar.
var releasePrefix = regexp.MustCompile(`(?i)^(?:v|ver|version|rel|release)[-_.]?(\d)`)

// localSuffix splits "<public><sep><label>" where label starts with a
// letter that does not begin a pre, post or dev segment.
var localSuffix = regexp.MustCompile(`^(.+?\d)[-_+]([a-zA-Z][a-zA-Z0-9]*(?:[-_.+][a-zA-Z0-9]+)*)$`)

// Normalize turns a release tag into a canonical version string.
//
// Surrounding whitespace and a release-marker prefix are removed (only
// when a digit follows, so "vendor-1.0" is left alone). If the result is
// a valid version its canonical form is returned. Otherwise a trailing
// non-standard label such as "-insiders-4.2" is read as a local label
// ("+insiders.4.2"). Strings that still do not parse have their "-",
// "_" and "+" separators mapped to ".".
func Normalize(tag string) string {
	s := StripPrefix(strings.TrimSpace(tag))
	if s == "" {
		return ""
	}

	if v, err := Parse(s); err == nil {
		return v.String()
	}

	if m := localSuffix.FindStringSubmatch(s); m != nil {
		candidate := m[1] + "+" + m[2]
		if v, err := Parse(candidate); err == nil {
			return v.String()
		}
	}

	return strings.NewReplacer("-", ".", "_", ".", "+", ".").Replace(s)
}

// StripPrefix removes a leading release marker such as "v" or "release-"
// when it is directly followed by a digit.
func StripPrefix(tag string) string {
	if loc := releasePrefix.FindStringSubmatchIndex(tag); loc != nil {
		return tag[loc[2]:]
	}
	return tag
}

// ParseTag normalizes a tag and parses it.
func ParseTag(tag string) (Version, error) {
	return Parse(Normalize(tag))
}

// Same reports whether two version strings denote the same version.
// Valid versions are compared under PEP 440 equality; anything else
// falls back to comparing normalized strings.
func Same(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	va, errA := Parse(na)
	vb, errB := Parse(nb)
	if errA == nil && errB == nil {
		return va.Equal(vb)
	}
	return na == nb
}
