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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	insiderslog "github.com/tombee/insiders/internal/log"
	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

const (
	// DefaultPort is the port the local index listens on.
	DefaultPort = 31411

	// DefaultInterval is the watcher sleep between cycles.
	DefaultInterval = 30 * time.Minute

	// DefaultBuildCommand builds an sdist and a wheel into {outdir}.
	DefaultBuildCommand = "python -m build --sdist --wheel --outdir {outdir} ."

	// DefaultUpstream is the public index used for fallback.
	DefaultUpstream = "https://pypi.org"

	// DefaultCloneURL is expanded with the repository namespace and project.
	DefaultCloneURL = "git@github.com:{namespace}/{project}.git"
)

// Pre-release policies for the watcher.
const (
	PrereleasesInclude = "include"
	PrereleasesExclude = "exclude"
)

// Config represents the complete insiders configuration.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Server  ServerConfig  `yaml:"server"`
	Watcher WatcherConfig `yaml:"watcher"`
	Build   BuildConfig   `yaml:"build"`
	Git     GitConfig     `yaml:"git"`
	Indexes []IndexTarget `yaml:"indexes"`
	Log     LogConfig     `yaml:"log"`
}

// PathsConfig locates on-disk state. Empty values resolve to XDG defaults.
type PathsConfig struct {
	// Registry is the repository registry file (repos.json).
	Registry string `yaml:"registry,omitempty"`

	// Repos is the directory holding cached clones.
	Repos string `yaml:"repos,omitempty"`

	// Dists is the directory served by the local index.
	Dists string `yaml:"dists,omitempty"`

	// State holds daemon records, daemon logs and the lifecycle log.
	State string `yaml:"state,omitempty"`
}

// ServerConfig configures the local index proxy.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Upstream is the public index base URL used for fallback.
	Upstream string `yaml:"upstream"`

	// DisableFallback turns the proxy into a local-only index.
	DisableFallback bool `yaml:"disable_fallback,omitempty"`

	// UpstreamRate limits fallback requests per second. Zero disables the limit.
	UpstreamRate float64 `yaml:"upstream_rate,omitempty"`

	// UpstreamBurst is the token bucket size for UpstreamRate.
	UpstreamBurst int `yaml:"upstream_burst,omitempty"`

	// Overwrite allows uploads to replace an existing file.
	Overwrite bool `yaml:"overwrite,omitempty"`

	// Users maps upload usernames to bcrypt password hashes.
	// Uploads are unauthenticated when empty.
	Users map[string]string `yaml:"users,omitempty"`

	// StartTimeout bounds the health probe after 'server start'.
	StartTimeout time.Duration `yaml:"start_timeout,omitempty"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// WatcherConfig configures the watcher loop.
type WatcherConfig struct {
	Interval time.Duration `yaml:"interval"`

	// IndexURL is the index queried for local versions.
	IndexURL string `yaml:"index_url"`

	// Prereleases is "include" or "exclude".
	Prereleases string `yaml:"prereleases"`

	// MetricsAddr exposes Prometheus metrics when non-empty (e.g. ":9109").
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// StopTimeout is how long 'watcher stop' waits before escalating.
	StopTimeout time.Duration `yaml:"stop_timeout,omitempty"`
}

// BuildConfig configures the build step.
type BuildConfig struct {
	// Command is run through the shell inside the checkout. Placeholders:
	// {outdir}, {tag}, {version}, {distribution}.
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`

	// OutputDir is relative to the checkout.
	OutputDir string `yaml:"output_dir"`
}

// GitConfig configures upstream repository access.
type GitConfig struct {
	// CloneURL is expanded with {namespace} and {project}.
	CloneURL string `yaml:"clone_url"`

	// SSHKeyPath selects a private key for SSH remotes. The SSH agent is
	// used when empty.
	SSHKeyPath string `yaml:"ssh_key_path,omitempty"`

	// Token authenticates HTTPS remotes. Prefer the keychain or
	// INSIDERS_GIT_TOKEN over storing it here.
	Token string `yaml:"token,omitempty"`
}

// IndexTarget is a destination index that receives uploads.
type IndexTarget struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`

	// Auth sends credentials with uploads.
	Auth     bool   `yaml:"auth,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// SkipExisting treats "file already exists" rejections as success.
	// Defaults to true.
	SkipExisting *bool `yaml:"skip_existing,omitempty"`
}

// ShouldSkipExisting reports the effective skip_existing setting.
func (t IndexTarget) ShouldSkipExisting() bool {
	return t.SkipExisting == nil || *t.SkipExisting
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with default values. Paths are left
// empty and resolved by ResolvePaths.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            DefaultPort,
			Upstream:        DefaultUpstream,
			UpstreamRate:    20,
			UpstreamBurst:   40,
			StartTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Watcher: WatcherConfig{
			Interval:    DefaultInterval,
			IndexURL:    fmt.Sprintf("http://localhost:%d", DefaultPort),
			Prereleases: PrereleasesInclude,
			StopTimeout: 30 * time.Second,
		},
		Build: BuildConfig{
			Command:   DefaultBuildCommand,
			Timeout:   30 * time.Minute,
			OutputDir: "dist-insiders",
		},
		Git: GitConfig{
			CloneURL: DefaultCloneURL,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file, then applies environment
// overrides and validates the result. A missing file at the default
// location is not an error; a missing file given explicitly is.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	explicit := configPath != ""
	if !explicit {
		configPath = os.Getenv("INSIDERS_CONFIG")
		explicit = configPath != ""
	}
	if !explicit {
		if p, err := ConfigPath(); err == nil {
			configPath = p
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, &insiderserrors.ConfigError{
					Key:    "config_file",
					Reason: fmt.Sprintf("failed to load from %s", configPath),
					Cause:  err,
				}
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.ResolvePaths(); err != nil {
		return nil, &insiderserrors.ConfigError{
			Key:    "paths",
			Reason: "failed to resolve data directories",
			Cause:  err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills in zero values so minimal files work.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.Upstream == "" {
		c.Server.Upstream = d.Server.Upstream
	}
	if c.Server.UpstreamBurst == 0 {
		c.Server.UpstreamBurst = d.Server.UpstreamBurst
	}
	if c.Server.StartTimeout == 0 {
		c.Server.StartTimeout = d.Server.StartTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if c.Watcher.Interval == 0 {
		c.Watcher.Interval = d.Watcher.Interval
	}
	if c.Watcher.IndexURL == "" {
		c.Watcher.IndexURL = d.Watcher.IndexURL
	}
	if c.Watcher.Prereleases == "" {
		c.Watcher.Prereleases = d.Watcher.Prereleases
	}
	if c.Watcher.StopTimeout == 0 {
		c.Watcher.StopTimeout = d.Watcher.StopTimeout
	}

	if c.Build.Command == "" {
		c.Build.Command = d.Build.Command
	}
	if c.Build.Timeout == 0 {
		c.Build.Timeout = d.Build.Timeout
	}
	if c.Build.OutputDir == "" {
		c.Build.OutputDir = d.Build.OutputDir
	}

	if c.Git.CloneURL == "" {
		c.Git.CloneURL = d.Git.CloneURL
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies environment overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("INSIDERS_INDEX_URL"); val != "" {
		c.Watcher.IndexURL = val
	}
	if val := os.Getenv("INSIDERS_GIT_TOKEN"); val != "" {
		c.Git.Token = val
	}
	if val := os.Getenv("INSIDERS_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("INSIDERS_DEBUG"); val == "1" || val == "true" {
		c.Log.Level = "debug"
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
}

// ResolvePaths fills empty paths with XDG defaults.
func (c *Config) ResolvePaths() error {
	if c.Paths.Registry == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		c.Paths.Registry = filepath.Join(dir, "repos.json")
	}
	if c.Paths.Repos == "" {
		dir, err := CacheDir()
		if err != nil {
			return err
		}
		c.Paths.Repos = filepath.Join(dir, "repos")
	}
	if c.Paths.Dists == "" {
		dir, err := DataDir()
		if err != nil {
			return err
		}
		c.Paths.Dists = filepath.Join(dir, "dists")
	}
	if c.Paths.State == "" {
		dir, err := StateDir()
		if err != nil {
			return err
		}
		c.Paths.State = dir
	}
	return nil
}

var indexNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Validate checks that the configuration is valid. The first problem is
// returned as a *errors.ConfigError naming the offending key.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return &insiderserrors.ConfigError{Key: key, Reason: fmt.Sprintf(format, args...)}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if u, err := url.Parse(c.Server.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("server.upstream", "must be an absolute URL, got %q", c.Server.Upstream)
	}
	if c.Server.UpstreamRate < 0 {
		return invalid("server.upstream_rate", "must not be negative, got %v", c.Server.UpstreamRate)
	}
	for user, hash := range c.Server.Users {
		if !strings.HasPrefix(hash, "$2") {
			return invalid("server.users."+user, "must be a bcrypt hash")
		}
	}

	if c.Watcher.Interval <= 0 {
		return invalid("watcher.interval", "must be positive, got %v", c.Watcher.Interval)
	}
	if u, err := url.Parse(c.Watcher.IndexURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("watcher.index_url", "must be an absolute URL, got %q", c.Watcher.IndexURL)
	}
	switch c.Watcher.Prereleases {
	case PrereleasesInclude, PrereleasesExclude:
	default:
		return invalid("watcher.prereleases", "must be one of [include, exclude], got %q", c.Watcher.Prereleases)
	}

	if c.Build.Timeout <= 0 {
		return invalid("build.timeout", "must be positive, got %v", c.Build.Timeout)
	}
	if filepath.IsAbs(c.Build.OutputDir) || strings.Contains(c.Build.OutputDir, "..") {
		return invalid("build.output_dir", "must be a relative path inside the checkout, got %q", c.Build.OutputDir)
	}

	if !strings.Contains(c.Git.CloneURL, "{project}") {
		return invalid("git.clone_url", "must contain the {project} placeholder, got %q", c.Git.CloneURL)
	}

	seen := make(map[string]bool, len(c.Indexes))
	for i, idx := range c.Indexes {
		key := fmt.Sprintf("indexes[%d]", i)
		if !indexNamePattern.MatchString(idx.Name) {
			return invalid(key+".name", "must be alphanumeric with '-' or '_', got %q", idx.Name)
		}
		if seen[idx.Name] {
			return invalid(key+".name", "duplicate index name %q", idx.Name)
		}
		seen[idx.Name] = true
		if u, err := url.Parse(idx.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return invalid(key+".url", "must be an absolute URL, got %q", idx.URL)
		}
		if idx.Name == LocalIndexName && !sameIndexURL(idx.URL, c.Watcher.IndexURL) {
			return invalid(key+".name", "%q is reserved for watcher.index_url", LocalIndexName)
		}
	}

	if !insiderslog.ValidLevel(c.Log.Level) {
		return invalid("log.level", "must be one of [trace, debug, info, warn, error], got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "must be one of [json, text], got %q", c.Log.Format)
	}

	return nil
}

// LocalIndexName names the publish target for watcher.index_url.
const LocalIndexName = "local"

// PublishTargets returns the indexes that receive uploads. The index the
// watcher reads versions from is always included, otherwise a release
// published only elsewhere would look unbuilt on every cycle.
func (c *Config) PublishTargets() []IndexTarget {
	for _, idx := range c.Indexes {
		if sameIndexURL(idx.URL, c.Watcher.IndexURL) {
			return c.Indexes
		}
	}
	targets := make([]IndexTarget, 0, len(c.Indexes)+1)
	targets = append(targets, IndexTarget{Name: LocalIndexName, URL: c.Watcher.IndexURL})
	return append(targets, c.Indexes...)
}

func sameIndexURL(a, b string) bool {
	trim := func(s string) string { return strings.TrimRight(strings.TrimSpace(s), "/") }
	return strings.EqualFold(trim(a), trim(b))
}

// ListenAddr returns the host:port the local index binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// CloneURL expands the clone URL template for a repository.
func (c *Config) CloneURL(namespace, project string) string {
	r := strings.NewReplacer("{namespace}", namespace, "{project}", project)
	return r.Replace(c.Git.CloneURL)
}
