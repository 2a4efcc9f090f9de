// Package config loads and validates the release.yaml configuration that
// drives a release build: toolchain requirements, build steps, archive layout
// and verification rules.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Project    ProjectConfig     `yaml:"project"`
	Toolchains []Toolchain       `yaml:"toolchains,omitempty"`
	Steps      []Step            `yaml:"steps"`
	Archive    ArchiveConfig     `yaml:"archive"`
	Verify     VerifyConfig      `yaml:"verify,omitempty"`
	Notes      NotesConfig       `yaml:"notes,omitempty"`
	History    HistoryConfig     `yaml:"history,omitempty"`
	Daemon     DaemonConfig      `yaml:"daemon,omitempty"`

	// Root is the directory containing the config file. All relative paths in
	// the config resolve against it, matching the original scripts which cd
	// into their own directory before running.
	Root string `yaml:"-"`
}

// ProjectConfig identifies the release being built.
type ProjectConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"` // empty means derive from git describe
}

// Toolchain declares an external build tool the pipeline depends on.
type Toolchain struct {
	Name       string `yaml:"name"`                  // binary name looked up on PATH
	VersionCmd string `yaml:"version_cmd,omitempty"` // defaults to "<name> --version"
	MinVersion string `yaml:"min_version,omitempty"` // semver-ish prefix compare
	InstallCmd string `yaml:"install_cmd,omitempty"` // run once when tool missing
}

// Step is one build command in the pipeline. Steps run in declaration order
// unless Needs imposes additional ordering.
type Step struct {
	Name    string            `yaml:"name"`
	Run     string            `yaml:"run"`
	Dir     string            `yaml:"dir,omitempty"` // relative to Root
	Env     map[string]string `yaml:"env,omitempty"`
	Timeout string            `yaml:"timeout,omitempty"` // duration string (default 30m)
	Needs   []string          `yaml:"needs,omitempty"`
	// Produces names a file or directory (relative to Root) that must exist
	// after the step succeeds. Empty disables the check.
	Produces string `yaml:"produces,omitempty"`
}

// TimeoutDuration parses the step timeout, falling back to 30 minutes.
func (s Step) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(s.Timeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Minute
}

// ArchiveConfig describes the release archive layout. Flatten entries are
// placed at the archive top level without any directory prefix; AssetDir is
// carried into the archive as a nested directory keeping its base name.
type ArchiveConfig struct {
	Name     string   `yaml:"name,omitempty"` // defaults to <project>-<version>.zip
	Dir      string   `yaml:"dir,omitempty"`  // output dir, relative to Root
	Flatten  []string `yaml:"flatten"`        // e.g. [target/release/server, run.sh]
	AssetDir string   `yaml:"asset_dir"`      // e.g. dist
}

// VerifyConfig controls post-package verification.
type VerifyConfig struct {
	Enabled    *bool    `yaml:"enabled,omitempty"`     // default true
	Extra      []string `yaml:"extra,omitempty"`       // additional required entries
	Checksums  bool     `yaml:"checksums"`             // verify manifest sha256 sums
	HTMLAssets bool     `yaml:"html_assets,omitempty"` // parse index.html, check referenced assets
	Extract    bool     `yaml:"extract,omitempty"`     // round-trip extract into a scratch dir
}

// IsEnabled reports whether verification should run (defaults to true).
func (v VerifyConfig) IsEnabled() bool { return v.Enabled == nil || *v.Enabled }

// NotesConfig controls release-notes rendering.
type NotesConfig struct {
	Source string `yaml:"source,omitempty"` // markdown file, relative to Root
}

// HistoryConfig controls the sqlite build history store.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"` // defaults to .relbuilder/history.db
}

// DaemonConfig configures continuous mode.
type DaemonConfig struct {
	WatchPaths  []string     `yaml:"watch_paths,omitempty"` // relative to Root
	Debounce    string       `yaml:"debounce,omitempty"`    // duration string (default 2s)
	Interval    string       `yaml:"interval,omitempty"`    // periodic rebuild, zero disables
	MetricsAddr string       `yaml:"metrics_addr,omitempty"`
	Events      EventsConfig `yaml:"events,omitempty"`
}

// DebounceDuration parses the watch debounce window, defaulting to 2 seconds.
func (d DaemonConfig) DebounceDuration() time.Duration {
	if v, err := time.ParseDuration(d.Debounce); err == nil && v > 0 {
		return v
	}
	return 2 * time.Second
}

// IntervalDuration parses the periodic rebuild interval; zero disables it.
func (d DaemonConfig) IntervalDuration() time.Duration {
	if v, err := time.ParseDuration(d.Interval); err == nil && v > 0 {
		return v
	}
	return 0
}

// EventsConfig enables publishing build lifecycle events to NATS.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists; missing files are fine.
	loadEnvFiles()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg.Root = filepath.Dir(abs)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Archive.Dir == "" {
		c.Archive.Dir = "."
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(".relbuilder", "history.db")
	}
	if c.Daemon.MetricsAddr == "" {
		c.Daemon.MetricsAddr = ":9185"
	}
	if c.Daemon.Events.Subject == "" {
		c.Daemon.Events.Subject = "relbuilder.builds"
	}
	for i := range c.Toolchains {
		if c.Toolchains[i].VersionCmd == "" {
			c.Toolchains[i].VersionCmd = c.Toolchains[i].Name + " --version"
		}
	}
}

// ArchiveName returns the configured archive file name, falling back to
// <project>-<version>.zip (or <project>.zip when no version is known).
func (c *Config) ArchiveName(version string) string {
	if c.Archive.Name != "" {
		return c.Archive.Name
	}
	if version != "" {
		return fmt.Sprintf("%s-%s.zip", c.Project.Name, version)
	}
	return c.Project.Name + ".zip"
}

// ResolvePath resolves a config-relative path against the project root.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}
