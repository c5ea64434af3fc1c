// Package config provides configuration management for docsync.
// It supports YAML and TOML configuration files, environment variables, and sensible defaults.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/klauern/docsync/internal/util"
)

// Config represents the complete docsync configuration.
type Config struct {
	// Database selects the resource store
	Database DatabaseConfig `yaml:"database" toml:"database"`

	// LockDir holds one advisory lock file per project
	LockDir string `yaml:"lock_dir" toml:"lock_dir"`

	// WorkDir holds per-project source clones, checkouts and mirrors
	WorkDir string `yaml:"work_dir" toml:"work_dir"`

	// Build configures how documentation builds are run
	Build BuildConfig `yaml:"build" toml:"build"`

	// Log configures log output
	Log LogConfig `yaml:"log" toml:"log"`

	// Projects lists the documentation projects to sync
	Projects []ProjectConfig `yaml:"projects" toml:"projects"`
}

// DatabaseConfig holds resource store settings.
type DatabaseConfig struct {
	// Driver is sqlite or postgres
	Driver string `yaml:"driver" toml:"driver"`
	// DSN is the data source name; for sqlite a file path
	DSN string `yaml:"dsn" toml:"dsn"`
}

// BuildConfig holds build runner settings.
type BuildConfig struct {
	// Runner is none, local or docker
	Runner string `yaml:"runner" toml:"runner"`
	// Timeout bounds a single build
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	// Image is the container image used by the docker runner
	Image string `yaml:"image,omitempty" toml:"image,omitempty"`
}

// LogConfig holds log output settings.
type LogConfig struct {
	// Format is text or json
	Format string `yaml:"format" toml:"format"`
	// Level is debug, info, warn or error
	Level string `yaml:"level" toml:"level"`
}

// ProjectConfig describes one project and its pipeline.
type ProjectConfig struct {
	ID   string `yaml:"id" toml:"id"`
	Name string `yaml:"name,omitempty" toml:"name,omitempty"`

	// SkipHistory publishes only the newest source version
	SkipHistory bool `yaml:"skip_history" toml:"skip_history"`
	// IgnoreErrors skips failed units instead of aborting the run
	IgnoreErrors bool `yaml:"ignore_errors" toml:"ignore_errors"`
	// LogLevel is a verbosity from 0 (errors only) to 3 (debug)
	LogLevel int `yaml:"log_level" toml:"log_level"`

	Schedule    ScheduleConfig    `yaml:"schedule" toml:"schedule"`
	Source      SourceConfig      `yaml:"source" toml:"source"`
	Parse       ParseConfig       `yaml:"parse" toml:"parse"`
	Inflate     InflateConfig     `yaml:"inflate" toml:"inflate"`
	Destination DestinationConfig `yaml:"destination" toml:"destination"`
}

// ScheduleConfig controls periodic runs under `docsync serve`.
type ScheduleConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Interval time.Duration `yaml:"interval" toml:"interval"`
	// Start anchors the interval grid; runs happen at Start + n*Interval
	Start time.Time `yaml:"start,omitempty" toml:"start,omitempty"`
}

// SourceConfig selects the source repository.
type SourceConfig struct {
	// Type is git, or empty when not yet configured
	Type     string `yaml:"type" toml:"type"`
	URL      string `yaml:"url" toml:"url"`
	Branch   string `yaml:"branch,omitempty" toml:"branch,omitempty"`
	Username string `yaml:"username,omitempty" toml:"username,omitempty"`
	Password string `yaml:"password,omitempty" toml:"password,omitempty"`
}

// ParseConfig configures the parse filter.
type ParseConfig struct {
	// Type is html, or empty when not yet configured
	Type string `yaml:"type" toml:"type"`
	// DocsRoot is the built HTML tree, relative to the checkout
	DocsRoot string `yaml:"docs_root,omitempty" toml:"docs_root,omitempty"`
	// Lang is passed to the build command
	Lang string `yaml:"lang,omitempty" toml:"lang,omitempty"`
	// TriggerPattern selects which changed paths cause a version to be processed
	TriggerPattern string `yaml:"trigger_pattern,omitempty" toml:"trigger_pattern,omitempty"`
	// WorkingDir is where the build command runs, relative to the checkout
	WorkingDir string `yaml:"working_dir,omitempty" toml:"working_dir,omitempty"`
	// BuildCommand is a shell command line; empty means the tree is prebuilt
	BuildCommand string `yaml:"build_command,omitempty" toml:"build_command,omitempty"`
}

// InflateConfig configures the inflate filter.
type InflateConfig struct {
	// Type is wiki, or empty when not yet configured
	Type string `yaml:"type" toml:"type"`
	// Strict fails the unit on references to files that do not exist
	Strict bool `yaml:"strict" toml:"strict"`
}

// DestinationConfig selects and authenticates the destination wiki.
type DestinationConfig struct {
	// Type is confluence or memory, or empty when not yet configured
	Type            string        `yaml:"type" toml:"type"`
	URL             string        `yaml:"url,omitempty" toml:"url,omitempty"`
	Username        string        `yaml:"username,omitempty" toml:"username,omitempty"`
	Password        string        `yaml:"password,omitempty" toml:"password,omitempty"`
	Token           string        `yaml:"token,omitempty" toml:"token,omitempty"`
	Space           string        `yaml:"space" toml:"space"`
	ParentPageTitle string        `yaml:"parent_page_title,omitempty" toml:"parent_page_title,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	MaxRetries      int           `yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`
}

// DisplayName returns Name, falling back to the id.
func (p ProjectConfig) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Default returns the default configuration.
func Default() *Config {
	home := util.DocsyncHome()
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(home, "docsync.db"),
		},
		LockDir: filepath.Join(home, "locks"),
		WorkDir: filepath.Join(home, "work"),
		Build: BuildConfig{
			Runner:  "local",
			Timeout: time.Hour,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// configFileName is the name of the config file.
const configFileName = "config.yaml"

// FilePath returns the path to the config file.
func FilePath() string {
	return filepath.Join(util.DocsyncHome(), configFileName)
}

// Load loads the configuration from file, merging with defaults.
// If the config file doesn't exist, returns default configuration.
func Load() (*Config, error) {
	cfg, err := LoadFromPath(FilePath())
	if err != nil && os.IsNotExist(err) {
		cfg = Default()
		cfg.applyEnvironment()
		return cfg, nil
	}
	return cfg, err
}

// LoadFromPath loads configuration from a specific path. Files ending in
// .toml are decoded as TOML, everything else as YAML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	// #nosec G304 - path is provided by caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnvironment()
	return cfg, nil
}

// SaveToPath writes the configuration to a specific path as YAML.
func (c *Config) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Project returns the project with the given id.
func (c *Config) Project(id string) (*ProjectConfig, bool) {
	for i := range c.Projects {
		if c.Projects[i].ID == id {
			return &c.Projects[i], true
		}
	}
	return nil, false
}

// ProjectIDs returns the configured project ids in file order.
func (c *Config) ProjectIDs() []string {
	ids := make([]string, 0, len(c.Projects))
	for _, p := range c.Projects {
		ids = append(ids, p.ID)
	}
	return ids
}

// applyEnvironment applies environment variable overrides.
// Environment variables follow the pattern DOCSYNC_<SECTION>_<KEY>.
func (c *Config) applyEnvironment() {
	if v := os.Getenv("DOCSYNC_DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DOCSYNC_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DOCSYNC_LOCK_DIR"); v != "" {
		c.LockDir = v
	}
	if v := os.Getenv("DOCSYNC_WORK_DIR"); v != "" {
		c.WorkDir = v
	}

	if v := os.Getenv("DOCSYNC_BUILD_RUNNER"); v != "" {
		c.Build.Runner = v
	}
	if v := os.Getenv("DOCSYNC_BUILD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Build.Timeout = d
		}
	}
	if v := os.Getenv("DOCSYNC_BUILD_IMAGE"); v != "" {
		c.Build.Image = v
	}

	if v := os.Getenv("DOCSYNC_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("DOCSYNC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	// Per-project secrets
	for i := range c.Projects {
		p := &c.Projects[i]
		prefix := "DOCSYNC_DEST_" + envKey(p.ID) + "_"
		if v := os.Getenv(prefix + "PASSWORD"); v != "" {
			p.Destination.Password = v
		}
		if v := os.Getenv(prefix + "TOKEN"); v != "" {
			p.Destination.Token = v
		}
		if v := os.Getenv(prefix + "MAX_RETRIES"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				p.Destination.MaxRetries = n
			}
		}
	}

	c.LockDir = util.ExpandPath(c.LockDir)
	c.WorkDir = util.ExpandPath(c.WorkDir)
}

var envUnsafe = regexp.MustCompile(`[^A-Z0-9]+`)

// envKey turns a project id into an environment variable segment.
func envKey(id string) string {
	return strings.Trim(envUnsafe.ReplaceAllString(strings.ToUpper(id), "_"), "_")
}
