package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Validate checks structural invariants of the configuration. It is called by
// Load but exported so tests and the daemon reload path can re-check edited
// configs before applying them.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project.Name) == "" {
		return fmt.Errorf("project.name is required")
	}

	if len(c.Steps) == 0 {
		return fmt.Errorf("at least one build step is required")
	}
	seen := make(map[string]bool, len(c.Steps))
	for i, s := range c.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("steps[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate step name: %s", s.Name)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.Run) == "" {
			return fmt.Errorf("step %s: run command is required", s.Name)
		}
		if s.Timeout != "" {
			if _, err := time.ParseDuration(s.Timeout); err != nil {
				return fmt.Errorf("step %s: invalid timeout %q: %w", s.Name, s.Timeout, err)
			}
		}
	}
	for _, s := range c.Steps {
		for _, dep := range s.Needs {
			if !seen[dep] {
				return fmt.Errorf("step %s needs unknown step %s", s.Name, dep)
			}
			if dep == s.Name {
				return fmt.Errorf("step %s cannot depend on itself", s.Name)
			}
		}
	}

	if len(c.Archive.Flatten) == 0 {
		return fmt.Errorf("archive.flatten must list at least one file (server binary, run script)")
	}
	for _, f := range c.Archive.Flatten {
		if filepath.IsAbs(f) {
			// Keep archives relocatable: inputs are project-relative.
			continue
		}
		if strings.HasPrefix(f, "..") {
			return fmt.Errorf("archive.flatten entry escapes project root: %s", f)
		}
	}
	if strings.TrimSpace(c.Archive.AssetDir) == "" {
		return fmt.Errorf("archive.asset_dir is required")
	}

	for i, tc := range c.Toolchains {
		if strings.TrimSpace(tc.Name) == "" {
			return fmt.Errorf("toolchains[%d]: name is required", i)
		}
	}

	for name, v := range map[string]string{"daemon.debounce": c.Daemon.Debounce, "daemon.interval": c.Daemon.Interval} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, v, err)
		}
	}
	if c.Daemon.Events.Enabled && strings.TrimSpace(c.Daemon.Events.URL) == "" {
		return fmt.Errorf("daemon.events.url is required when events are enabled")
	}

	return nil
}
