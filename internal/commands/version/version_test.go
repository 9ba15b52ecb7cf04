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

package version

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/shared"
)

func runVersion(t *testing.T, args ...string) string {
	t.Helper()
	shared.SetVersion("1.4.0", "abc1234", "2025-12-22")
	t.Cleanup(func() {
		shared.SetVersion("dev", "unknown", "unknown")
		shared.SetJSONForTest(false)
	})

	root := &cobra.Command{Use: "insiders"}
	_, _, jsonFlag, _ := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(jsonFlag, "json", false, "JSON output")
	root.AddCommand(NewVersionCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append([]string{"version"}, args...))
	if err := root.Execute(); err != nil {
		t.Fatalf("version %v failed: %v", args, err)
	}
	return out.String()
}

func TestVersion_Text(t *testing.T) {
	out := runVersion(t)
	for _, want := range []string{"insiders 1.4.0", "abc1234", "2025-12-22", "insiders/1.4.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersion_Short(t *testing.T) {
	if out := runVersion(t, "--short"); out != "1.4.0\n" {
		t.Errorf("--short output = %q", out)
	}
}

func TestVersion_JSON(t *testing.T) {
	out := runVersion(t, "--json")

	var info VersionInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if info.Version != "1.4.0" || info.Commit != "abc1234" || info.BuildDate != "2025-12-22" {
		t.Errorf("unexpected build info: %+v", info)
	}
	if info.UserAgent != "insiders/1.4.0" {
		t.Errorf("user agent = %q", info.UserAgent)
	}
	if info.GoVersion == "" || info.Platform == "" {
		t.Errorf("expected go version and platform, got %+v", info)
	}
}
