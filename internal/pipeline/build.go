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

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/tombee/insiders/internal/index"
	insiderslog "github.com/tombee/insiders/internal/log"
	"github.com/tombee/insiders/internal/pep440"
	insiderserrors "github.com/tombee/insiders/pkg/errors"
	pkgsecrets "github.com/tombee/insiders/pkg/secrets"
)

// maxBuildOutput bounds the output kept on a BuildFailedError.
const maxBuildOutput = 64 * 1024

// killGrace is how long a cancelled build may take to exit after SIGKILL
// before its pipes are closed.
const killGrace = 5 * time.Second

// placeholders holds the values substituted into the build command.
type placeholders struct {
	OutDir       string
	Tag          string
	Version      string
	Distribution string
}

func newPlaceholders(outdir, tag, distribution string) placeholders {
	return placeholders{
		OutDir:       outdir,
		Tag:          tag,
		Version:      pep440.Normalize(tag),
		Distribution: distribution,
	}
}

// expand substitutes shell-quoted values into command.
func (p placeholders) expand(command string) string {
	return strings.NewReplacer(
		"{outdir}", shellQuote(p.OutDir),
		"{tag}", shellQuote(p.Tag),
		"{version}", shellQuote(p.Version),
		"{distribution}", shellQuote(p.Distribution),
	).Replace(command)
}

// env exposes the same values to the build as environment variables.
func (p placeholders) env() []string {
	return []string{
		"INSIDERS_OUTDIR=" + p.OutDir,
		"INSIDERS_TAG=" + p.Tag,
		"INSIDERS_VERSION=" + p.Version,
		"INSIDERS_DISTRIBUTION=" + p.Distribution,
	}
}

// shellQuote quotes s for sh unless it is made of safe characters only.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./+=:@,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// build runs the build command inside dir and returns the artifacts it
// left in the output directory.
func (p *Pipeline) build(ctx context.Context, logger *slog.Logger, job *Job, dir string) ([]string, error) {
	outdir := filepath.Join(dir, p.cfg.Build.OutputDir)
	if err := os.RemoveAll(outdir); err != nil {
		return nil, insiderserrors.Wrap(err, "clear output directory")
	}
	if err := os.MkdirAll(outdir, 0755); err != nil {
		return nil, insiderserrors.Wrap(err, "create output directory")
	}

	vars := newPlaceholders(outdir, job.Tag, job.Repository.Distribution)
	command := vars.expand(p.cfg.Build.Command)
	failed := func(exitCode int, output string, cause error) error {
		return &insiderserrors.BuildFailedError{
			Repository: job.Repository.ID(),
			Tag:        job.Tag,
			Command:    command,
			ExitCode:   exitCode,
			Output:     output,
			Cause:      cause,
		}
	}

	buildCtx, cancel := context.WithTimeout(ctx, p.cfg.Build.Timeout)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), vars.env()...)
	masker := pkgsecrets.NewMasker()
	masker.AddSecretsFromEnviron(cmd.Env)
	// Run the build in its own process group so a timeout also kills
	// the compilers and backends it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	logger.Info("running build", slog.String("command", command), slog.String("dir", dir))
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	captured := masker.Mask(tail(output.String(), maxBuildOutput))
	insiderslog.Trace(logger, "build output", slog.String("output", captured))

	if err != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			logger.Error("build timed out", insiderslog.Duration(elapsed), slog.String("output", captured))
			return nil, failed(-1, captured, &insiderserrors.TimeoutError{
				Operation: "build",
				Duration:  p.cfg.Build.Timeout,
				Cause:     err,
			})
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Error("build failed",
			slog.Int("exit_code", exitCode),
			insiderslog.Duration(elapsed),
			slog.String("output", captured),
		)
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			exitCode = -1
		}
		return nil, failed(exitCode, captured, err)
	}

	artifacts, err := collectArtifacts(outdir)
	if err != nil {
		return nil, failed(0, captured, err)
	}
	if len(artifacts) == 0 {
		logger.Error("build produced no artifacts", slog.String("output_dir", outdir), slog.String("output", captured))
		return nil, failed(0, captured, fmt.Errorf("no distribution files in %s", outdir))
	}

	logger.Info("build completed",
		slog.Int("exit_code", exitCode),
		slog.Int("artifacts", len(artifacts)),
		insiderslog.Duration(elapsed),
	)
	logger.Debug("build output", slog.String("output", captured))
	return artifacts, nil
}

// collectArtifacts returns the sdists and wheels in dir, sorted.
func collectArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, insiderserrors.Wrap(err, "read output directory")
	}
	var artifacts []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, err := index.ParseFilename(entry.Name()); err != nil {
			continue
		}
		artifacts = append(artifacts, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(artifacts)
	return artifacts, nil
}

// tail returns the last n bytes of s, starting on a line boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return "...\n" + s
}
