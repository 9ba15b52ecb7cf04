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
	"sort"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  string
		pre   bool
	}{
		{"1.0", "1.0", false},
		{"v1.2.3", "1.2.3", false},
		{"1!2.0", "1!2.0", false},
		{"1.0a1", "1.0a1", true},
		{"1.0-alpha.2", "1.0a2", true},
		{"1.0.0-rc.1", "1.0.0rc1", true},
		{"1.0c3", "1.0rc3", true},
		{"1.0preview", "1.0rc0", true},
		{"1.0-1", "1.0.post1", false},
		{"1.0.rev2", "1.0.post2", false},
		{"1.0.dev4", "1.0.dev4", true},
		{"1.0rc1.post2.dev3", "1.0rc1.post2.dev3", true},
		{"1.0+Ubuntu-1", "1.0+ubuntu.1", false},
		{"  2.0  ", "2.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got := v.String(); got != tt.want {
				t.Errorf("Parse(%q).String() = %q, want %q", tt.input, got, tt.want)
			}
			if got := v.IsPrerelease(); got != tt.pre {
				t.Errorf("Parse(%q).IsPrerelease() = %v, want %v", tt.input, got, tt.pre)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "latest", "1.0-beta-x", "release", "1..0", "nightly-2024"} {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); err == nil {
				t.Errorf("Parse(%q) expected error", input)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"1.2.3", "1.2.3"},
		{"v1.2.3", "1.2.3"},
		{"V1.2.3", "1.2.3"},
		{"release-1.2.3", "1.2.3"},
		{"version1.2.3", "1.2.3"},
		{" v1.2.3\n", "1.2.3"},
		{"1.0.0rc1", "1.0.0rc1"},
		{"v1.0.0-rc1", "1.0.0rc1"},
		{"1.2.0+insiders.4.1", "1.2.0+insiders.4.1"},
		{"1.2.0-insiders-4.1", "1.2.0+insiders.4.1"},
		{"v9.5.17_insiders_4.53.7", "9.5.17+insiders.4.53.7"},
		{"vendor-1.0", "vendor.1.0"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			if got := Normalize(tt.tag); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.tag, got, tt.want)
			}
		})
	}
}

// Only a single marker in front of a digit is stripped, so the versions
// here start with a digit and each gets exactly one prefix.
func TestNormalize_PrefixInsensitive(t *testing.T) {
	for _, version := range []string{"1.0", "2.3.4", "1.0.0rc2", "1.1.0+insiders.1.0.0"} {
		for _, prefix := range []string{"v", "V", "release-", "version"} {
			if got, want := Normalize(prefix+version), Normalize(version); got != want {
				t.Errorf("Normalize(%q) = %q, want %q", prefix+version, got, want)
			}
		}
	}
}

func TestStripPrefix(t *testing.T) {
	tests := map[string]string{
		"v1.0":        "1.0",
		"release_2.0": "2.0",
		"rel-3":       "3",
		"vendor-1.0":  "vendor-1.0",
		"1.0":         "1.0",
		"v":           "v",
		"vv1.0":       "vv1.0",
	}
	for in, want := range tests {
		if got := StripPrefix(in); got != want {
			t.Errorf("StripPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0.0", 0},
		{"1.0", "1.1", -1},
		{"1.10", "1.9", 1},
		{"1.0.dev1", "1.0a1", -1},
		{"1.0a1", "1.0b1", -1},
		{"1.0b2", "1.0rc1", -1},
		{"1.0rc1", "1.0", -1},
		{"1.0", "1.0.post1", -1},
		{"1.0a1.dev1", "1.0a1", -1},
		{"1.0.post1.dev1", "1.0.post1", -1},
		{"1.0", "1.0+local", -1},
		{"1.0+abc", "1.0+1", -1},
		{"1.0+1", "1.0+1.1", -1},
		{"1!0.1", "2.0", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			a, b := MustParse(tt.a), MustParse(tt.b)
			if got := Compare(a, b); got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := Compare(b, a); got != -tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func TestCompare_SortsReleaseTags(t *testing.T) {
	tags := []string{"1.10.0", "1.2.0", "1.2.0rc1", "1.9.1", "0.9", "1.2.0.post1", "1.2.0.dev0"}
	versions := make([]Version, len(tags))
	for i, tag := range tags {
		versions[i] = MustParse(tag)
	}

	sort.Slice(versions, func(i, j int) bool { return Less(versions[i], versions[j]) })

	want := []string{"0.9", "1.2.0.dev0", "1.2.0rc1", "1.2.0", "1.2.0.post1", "1.9.1", "1.10.0"}
	for i, v := range versions {
		if v.String() != want[i] {
			t.Errorf("sorted[%d] = %s, want %s", i, v, want[i])
		}
	}
}

func TestSame(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"v1.0", "1.0.0", true},
		{"1.2.0-insiders-4.1", "1.2.0+insiders.4.1", true},
		{"1.0", "1.0.1", false},
		{"nightly-2024", "nightly.2024", true},
		{"nightly-2024", "nightly-2025", false},
	}

	for _, tt := range tests {
		if got := Same(tt.a, tt.b); got != tt.want {
			t.Errorf("Same(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPublic(t *testing.T) {
	v := MustParse("1.2.0+insiders.4.1")
	if got := v.Public().String(); got != "1.2.0" {
		t.Errorf("Public() = %q, want 1.2.0", got)
	}
	if len(v.Local) != 3 {
		t.Errorf("Public() should not modify the receiver, Local = %v", v.Local)
	}
}
