// Package config provides configuration management for github-traffic.
//
// Values are layered: defaults, then the config file, then environment
// variables, then command-line flags (applied by the cmd package).
//
// Config file locations (priority order):
//  1. $GITHUB_TRAFFIC_CONFIG
//  2. ./github-traffic.yaml
//  3. ~/.config/github-traffic/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/naka-gawa/github-traffic/internal/domain"
)

// Defaults.
const (
	DefaultDBFile       = "traffics.json"
	DefaultAddr         = "127.0.0.1:8080"
	DefaultSyncInterval = 6 * time.Hour
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig       = "GITHUB_TRAFFIC_CONFIG"
	EnvUsername     = "GITHUB_USERNAME"
	EnvAccessToken  = "GITHUB_ACCESS_TOKEN"
	EnvToken        = "GITHUB_TOKEN"
	EnvRepos        = "GITHUB_REPOS"
	EnvSyncDuration = "GITHUB_SYNC_DURATION"
)

// Config is the process configuration.
type Config struct {
	Username      string        `yaml:"username,omitempty"`
	Token         string        `yaml:"token,omitempty"`
	Repos         []string      `yaml:"repos,omitempty"`
	SyncInterval  time.Duration `yaml:"sync_interval,omitempty"`
	DBFile        string        `yaml:"db_file,omitempty"`
	LockFile      string        `yaml:"lock_file,omitempty"`
	Addr          string        `yaml:"addr,omitempty"`
	WebDir        string        `yaml:"web_dir,omitempty"`
	FailurePolicy string        `yaml:"failure_policy,omitempty"`
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:  DefaultSyncInterval,
		DBFile:        DefaultDBFile,
		Addr:          DefaultAddr,
		FailurePolicy: "persist-successes",
	}
}

// Load loads the config file at path, or the first one FindConfigPath finds when
// path is empty. Without any file the defaults are returned.
func Load(path string) (*Config, string, error) {
	if path == "" {
		path = FindConfigPath()
	}
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	return cfg, path, nil
}

// FindConfigPath returns the first existing config file, or "".
func FindConfigPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	candidates := []string{"github-traffic.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "github-traffic", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ApplyEnv overlays the environment variables on c. An unparsable
// GITHUB_SYNC_DURATION is ignored and the current interval kept.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvUsername); v != "" {
		c.Username = v
	}
	if v := getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := getenv(EnvAccessToken); v != "" {
		c.Token = v
	}
	if v := getenv(EnvRepos); v != "" {
		c.Repos = ParseRepos(v)
	}
	if v := getenv(EnvSyncDuration); v != "" {
		if secs, err := strconv.ParseUint(v, 10, 64); err == nil && secs > 0 {
			c.SyncInterval = time.Duration(secs) * time.Second
		}
	}
}

// Validate checks the values a sync needs.
func (c *Config) Validate() error {
	var errs []error
	if c.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync interval must be positive, got %s", c.SyncInterval))
	}
	if c.DBFile == "" {
		errs = append(errs, errors.New("db file must be set"))
	}
	for _, repo := range c.Repos {
		if _, _, ok := domain.SplitRepo(repo); !ok {
			errs = append(errs, fmt.Errorf("repository %q must be of the form owner/name", repo))
		}
	}
	switch c.FailurePolicy {
	case "", "persist-successes", "abort-cycle":
	default:
		errs = append(errs, fmt.Errorf("unknown failure policy %q", c.FailurePolicy))
	}
	return errors.Join(errs...)
}

// ParseRepos splits a ':' or ',' separated repository list, dropping blanks.
func ParseRepos(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == ','
	})
	repos := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			repos = append(repos, f)
		}
	}
	return repos
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.DBFile == "" {
		c.DBFile = DefaultDBFile
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = "persist-successes"
	}
}
