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

// Package diagnostics implements the doctor command.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/server"
	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/lifecycle"
	"github.com/tombee/insiders/internal/registry"
	"github.com/tombee/insiders/internal/secrets"
)

const healthTimeout = 2 * time.Second

// Check is the outcome of one diagnostic.
type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Warning bool   `json:"warning,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// DoctorResult contains the overall health check results.
type DoctorResult struct {
	ConfigPath string  `json:"config_path"`
	Checks     []Check `json:"checks"`
	Healthy    bool    `json:"healthy"`
}

// add records c. Warnings do not make the result unhealthy.
func (r *DoctorResult) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.OK && !c.Warning {
		r.Healthy = false
	}
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local setup",
		Long: `Check that insiders is ready to watch and publish.

This command checks:
  - The config file loads and validates
  - The build command is on PATH
  - A credential backend is available
  - The repository registry is readable
  - The state of the server and watcher daemons`,
		Annotations: map[string]string{
			"group": "system",
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			result := runDoctor(ctx, secrets.Default())
			if shared.GetJSON() {
				if err := shared.EmitJSONResult("doctor", result); err != nil {
					return err
				}
			} else {
				printResult(cmd.OutOrStdout(), result)
			}
			if !result.Healthy {
				return shared.NewFailureError("health check found issues", nil)
			}
			return nil
		},
	}
}

func runDoctor(ctx context.Context, resolver *secrets.Resolver) DoctorResult {
	result := DoctorResult{Healthy: true}

	result.ConfigPath = shared.GetConfigPath()
	if result.ConfigPath == "" {
		if p, err := config.ConfigPath(); err == nil {
			result.ConfigPath = p
		}
	}

	cfg, err := shared.LoadConfig()
	if err != nil {
		result.add(Check{
			Name:   "config",
			Detail: err.Error(),
			Hint:   "Fix the reported key, then run 'insiders config show'.",
		})
		return result
	}
	result.add(configCheck(result.ConfigPath))
	result.add(buildCheck(cfg.Build.Command))
	result.add(credentialCheck(resolver))
	result.add(registryCheck(cfg.Paths.Registry))
	result.add(daemonCheck(ctx, cfg, "server"))
	result.add(daemonCheck(ctx, cfg, "watcher"))
	return result
}

func configCheck(path string) Check {
	c := Check{Name: "config", OK: true, Detail: path}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		c.Detail = "no config file, using defaults"
	}
	return c
}

// buildCheck looks up the first word of the build command. A command
// that starts with a placeholder is accepted as is.
func buildCheck(command string) Check {
	c := Check{Name: "build"}
	if _, err := exec.LookPath("sh"); err != nil {
		c.Detail = "sh not found"
		return c
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		c.Detail = "no build command configured"
		c.Hint = "Set build.command in the config file."
		return c
	}
	tool := fields[0]
	if strings.Contains(tool, "{") {
		c.OK = true
		c.Detail = command
		return c
	}
	path, err := exec.LookPath(tool)
	if err != nil {
		c.Detail = fmt.Sprintf("%s not found on PATH", tool)
		c.Hint = fmt.Sprintf("Install %s or change build.command.", tool)
		return c
	}
	c.OK = true
	c.Detail = path
	return c
}

func credentialCheck(resolver *secrets.Resolver) Check {
	backends := resolver.Backends()
	c := Check{Name: "credentials", OK: true, Detail: strings.Join(backends, ", ")}
	if len(backends) == 1 && backends[0] == "env" {
		c.OK = false
		c.Warning = true
		c.Hint = "No keychain available; credentials are read from INSIDERS_* variables only."
	}
	return c
}

func registryCheck(path string) Check {
	repos, err := registry.New(path).List()
	if err != nil {
		return Check{Name: "registry", Detail: err.Error(), Hint: "Check the file at " + path + "."}
	}
	c := Check{Name: "registry", OK: true, Detail: fmt.Sprintf("%d repositories", len(repos))}
	if len(repos) == 0 {
		c.OK = false
		c.Warning = true
		c.Hint = "Add one with 'insiders repos add <namespace>/<project>'."
	}
	return c
}

// daemonCheck reports a daemon that is not running as a warning. A
// running server must also answer its health endpoint.
func daemonCheck(ctx context.Context, cfg *config.Config, kind string) Check {
	sup := &lifecycle.Supervisor{Kind: kind, StateDir: cfg.Paths.State}
	st, err := sup.Status()
	if err != nil {
		return Check{Name: kind, Detail: err.Error()}
	}

	c := Check{Name: kind, Detail: string(st.State)}
	if st.State != lifecycle.StateRunning {
		c.Warning = true
		c.Hint = fmt.Sprintf("Start it with 'insiders %s start'.", kind)
		return c
	}

	c.OK = true
	c.Detail = fmt.Sprintf("running (PID %d)", st.Record.PID)
	if kind == "server" {
		res := lifecycle.NewHealthChecker(server.HealthURL(cfg)).
			WithHTTPClient(&http.Client{Timeout: healthTimeout}).
			Check(ctx)
		if !res.Success {
			c.OK = false
			c.Detail += ", health check failed"
			c.Hint = "See 'insiders server logs'."
		}
	}
	return c
}

func printResult(w io.Writer, result DoctorResult) {
	fmt.Fprintln(w, shared.Header.Render("Insiders Health Check"))
	fmt.Fprintf(w, "Config: %s\n\n", shared.Muted.Render(result.ConfigPath))

	for _, c := range result.Checks {
		var mark string
		switch {
		case c.OK:
			mark = shared.StatusOK.Render("ok")
		case c.Warning:
			mark = shared.StatusWarn.Render("warn")
		default:
			mark = shared.StatusError.Render("fail")
		}
		fmt.Fprintf(w, "  %-4s  %-12s %s\n", mark, c.Name, c.Detail)
		if c.Hint != "" && !c.OK {
			fmt.Fprintf(w, "        %s\n", shared.Muted.Render(c.Hint))
		}
	}
	fmt.Fprintln(w)

	if result.Healthy {
		fmt.Fprintln(w, "Overall Status: Healthy")
	} else {
		fmt.Fprintln(w, "Overall Status: Issues Found")
	}
}
