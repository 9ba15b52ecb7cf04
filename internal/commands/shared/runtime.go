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

package shared

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tombee/insiders/internal/config"
	insiderslog "github.com/tombee/insiders/internal/log"
	pkgerrors "github.com/tombee/insiders/pkg/errors"
)

// LoadConfig loads the configuration named by --config (or the default
// location) and applies the global logging flags on top of it.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, err
	}
	if err := applyLogFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyLogFlags(cfg *config.Config) error {
	switch {
	case GetLogLevel() != "":
		if !insiderslog.ValidLevel(GetLogLevel()) {
			return &pkgerrors.ConfigError{
				Key:    "--log-level",
				Reason: "must be one of [trace, debug, info, warn, error], got " + GetLogLevel(),
			}
		}
		cfg.Log.Level = strings.ToLower(GetLogLevel())
	case GetVerbose():
		cfg.Log.Level = "debug"
	case GetQuiet():
		cfg.Log.Level = "error"
	}

	if f := strings.ToLower(GetLogFormat()); f != "" {
		if f != string(insiderslog.FormatJSON) && f != string(insiderslog.FormatText) {
			return &pkgerrors.ConfigError{Key: "--log-format", Reason: "must be one of [json, text], got " + f}
		}
		cfg.Log.Format = f
	}
	return nil
}

// NewLogger builds the process logger from cfg, writing to w (stderr
// when nil). It also becomes the slog default.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	logCfg := insiderslog.FromEnv()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = insiderslog.Format(cfg.Log.Format)
	logCfg.Output = w

	logger := insiderslog.New(logCfg)
	slog.SetDefault(logger)
	return logger
}

// NewCLILogger is NewLogger for short-lived commands. Info lines are
// hidden unless --verbose or --log-level asks for them.
func NewCLILogger(cfg *config.Config) *slog.Logger {
	c := *cfg
	if GetLogLevel() == "" && !GetVerbose() && c.Log.Level == "info" {
		c.Log.Level = "warn"
	}
	return NewLogger(&c, os.Stderr)
}
