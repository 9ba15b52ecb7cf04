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

// Package index serves a PEP 503/691 package index over a directory of
// distribution files, falling back to an upstream index for projects
// that are not published locally. It also holds the client side: the
// version listing used by the oracle and the legacy upload API used by
// the publish pipeline.
package index

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tombee/insiders/internal/pep440"
)

// File kinds, as sent in the upload "filetype" field.
const (
	KindSdist = "sdist"
	KindWheel = "bdist_wheel"
)

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName normalizes a project name per PEP 503.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(strings.TrimSpace(name), "-"))
}

// FileInfo is what a distribution file name says about its contents.
type FileInfo struct {
	Filename     string
	Distribution string // normalized
	Version      string // as spelled in the file name
	Kind         string
	PyVersion    string
}

var sdistSuffixes = []string{".tar.gz", ".zip", ".tar.bz2", ".tgz"}

// ParseFilename parses a wheel or sdist file name.
func ParseFilename(filename string) (FileInfo, error) {
	info := FileInfo{Filename: filename}
	if strings.ContainsAny(filename, `/\`) || strings.HasPrefix(filename, ".") {
		return info, fmt.Errorf("invalid distribution filename %q", filename)
	}

	if stem, ok := strings.CutSuffix(filename, ".whl"); ok {
		// {dist}-{version}(-{build})?-{python}-{abi}-{platform}.whl
		parts := strings.Split(stem, "-")
		if len(parts) != 5 && len(parts) != 6 {
			return info, fmt.Errorf("invalid wheel filename %q", filename)
		}
		info.Distribution = NormalizeName(parts[0])
		info.Version = parts[1]
		info.Kind = KindWheel
		info.PyVersion = parts[len(parts)-3]
		return info, nil
	}

	for _, suffix := range sdistSuffixes {
		stem, ok := strings.CutSuffix(filename, suffix)
		if !ok {
			continue
		}
		// The version starts after the last dash that is followed by
		// something parseable; older sdists keep dashes in the name.
		for i := strings.LastIndex(stem, "-"); i > 0; i = strings.LastIndex(stem[:i], "-") {
			version := stem[i+1:]
			if _, err := pep440.Parse(version); err == nil {
				info.Distribution = NormalizeName(stem[:i])
				info.Version = version
				info.Kind = KindSdist
				info.PyVersion = "source"
				return info, nil
			}
		}
		return info, fmt.Errorf("cannot find version in sdist filename %q", filename)
	}

	return info, fmt.Errorf("unsupported distribution file %q", filename)
}

// CanonicalVersion returns the PEP 440 canonical form of the file's
// version, or the raw spelling when it does not parse.
func (f FileInfo) CanonicalVersion() string {
	if v, err := pep440.Parse(f.Version); err == nil {
		return v.String()
	}
	return f.Version
}
