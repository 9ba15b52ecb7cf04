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
	"strconv"
)

// Compare returns -1, 0 or 1 as a is less than, equal to, or greater
// than b. Ordering follows PEP 440: dev < pre < final < post, and a
// local label sorts after the same public version.
func Compare(a, b Version) int {
	if c := cmpInt(a.Epoch, b.Epoch); c != 0 {
		return c
	}
	if c := compareRelease(a.Release, b.Release); c != 0 {
		return c
	}
	if c := comparePre(a, b); c != 0 {
		return c
	}
	if c := compareOptional(a.HasPost, a.Post, b.HasPost, b.Post, -1); c != 0 {
		return c
	}
	if c := compareOptional(a.HasDev, a.Dev, b.HasDev, b.Dev, 1); c != 0 {
		return c
	}
	return compareLocal(a.Local, b.Local)
}

// Less reports whether a sorts before b.
func Less(a, b Version) bool {
	return Compare(a, b) < 0
}

// compareRelease compares release segments with trailing zeros ignored.
func compareRelease(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if c := cmpInt(x, y); c != 0 {
			return c
		}
	}
	return 0
}

// preRank orders the pre-release slot. A bare dev release ("1.0.dev1")
// sorts before every pre-release of the same release; a version with no
// pre-release sorts after all of them.
func preRank(v Version) (rank, label, num int) {
	switch {
	case v.PreLabel == "" && !v.HasPost && v.HasDev:
		return -1, 0, 0
	case v.PreLabel == "":
		return 1, 0, 0
	}
	switch v.PreLabel {
	case "a":
		label = 0
	case "b":
		label = 1
	default:
		label = 2
	}
	return 0, label, v.PreNum
}

func comparePre(a, b Version) int {
	ar, al, an := preRank(a)
	br, bl, bn := preRank(b)
	if c := cmpInt(ar, br); c != 0 {
		return c
	}
	if c := cmpInt(al, bl); c != 0 {
		return c
	}
	return cmpInt(an, bn)
}

// compareOptional compares an optional numeric segment. missing is the
// rank of an absent segment: -1 sorts it first, 1 sorts it last.
func compareOptional(aHas bool, a int, bHas bool, b int, missing int) int {
	switch {
	case !aHas && !bHas:
		return 0
	case !aHas:
		return missing
	case !bHas:
		return -missing
	}
	return cmpInt(a, b)
}

// compareLocal orders local labels segment by segment. Numeric segments
// sort after alphanumeric ones, and a shorter label that is a prefix of
// a longer one sorts first.
func compareLocal(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		an, aNum := localNumber(a[i])
		bn, bNum := localNumber(b[i])
		switch {
		case aNum && bNum:
			if c := cmpInt(an, bn); c != 0 {
				return c
			}
		case aNum:
			return 1
		case bNum:
			return -1
		default:
			if a[i] != b[i] {
				if a[i] < b[i] {
					return -1
				}
				return 1
			}
		}
	}
	return cmpInt(len(a), len(b))
}

func localNumber(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
