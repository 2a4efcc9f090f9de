// Package toolchain verifies that the external build tools a release needs
// are installed, optionally installing missing ones via their configured
// install command (the one-time setup step of a release script).
package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/logfields"
	"git.home.luguber.info/inful/relbuilder/internal/retry"
	"git.home.luguber.info/inful/relbuilder/internal/runner"
)

// ErrToolNotFound is returned when a required tool is missing and no install
// command is configured.
type ErrToolNotFound struct {
	Tool string
}

func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("required tool %q not found on PATH and no install_cmd configured", e.Tool)
}

// ErrVersionTooOld is returned when a tool's reported version is below the
// configured minimum.
type ErrVersionTooOld struct {
	Tool string
	Have string
	Want string
}

func (e *ErrVersionTooOld) Error() string {
	return fmt.Sprintf("tool %q version %s is older than required %s", e.Tool, e.Have, e.Want)
}

// Manager checks and installs toolchains.
type Manager struct {
	runner  *runner.Runner
	root    string // working dir for install/version commands
	install retry.Policy
}

// NewManager creates a toolchain manager rooted at the project directory.
func NewManager(r *runner.Runner, root string) *Manager {
	return &Manager{
		runner:  r,
		root:    root,
		install: retry.DefaultPolicy(),
	}
}

// WithInstallRetry overrides the retry policy used for install commands.
func (m *Manager) WithInstallRetry(p retry.Policy) *Manager { m.install = p; return m }

// Ensure verifies every configured toolchain, installing missing ones where
// an install command is available.
func (m *Manager) Ensure(ctx context.Context, toolchains []config.Toolchain) error {
	for _, tc := range toolchains {
		if err := m.ensureOne(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureOne(ctx context.Context, tc config.Toolchain) error {
	if _, found := runner.LookPath(tc.Name); !found {
		if tc.InstallCmd == "" {
			return &ErrToolNotFound{Tool: tc.Name}
		}
		slog.Info("Installing missing tool", logfields.Tool(tc.Name))
		err := m.install.Do(ctx, func() error {
			_, runErr := m.runner.Run(ctx, runner.Command{
				Name:    "install-" + tc.Name,
				Script:  tc.InstallCmd,
				Dir:     m.root,
				Timeout: time.Hour, // installs compile from source in the worst case
			})
			return runErr
		})
		if err != nil {
			return fmt.Errorf("install tool %q: %w", tc.Name, err)
		}
		if _, found := runner.LookPath(tc.Name); !found {
			return fmt.Errorf("tool %q still missing after install", tc.Name)
		}
	}

	if tc.MinVersion == "" {
		slog.Debug("Tool available", logfields.Tool(tc.Name))
		return nil
	}

	res, err := m.runner.Run(ctx, runner.Command{
		Name:    "version-" + tc.Name,
		Script:  tc.VersionCmd,
		Dir:     m.root,
		Timeout: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("version check for %q: %w", tc.Name, err)
	}

	have := ExtractVersion(res.Stdout + res.Stderr)
	if have == "" {
		slog.Warn("Could not parse tool version, skipping minimum check",
			logfields.Tool(tc.Name))
		return nil
	}
	if CompareVersions(have, tc.MinVersion) < 0 {
		return &ErrVersionTooOld{Tool: tc.Name, Have: have, Want: tc.MinVersion}
	}

	slog.Debug("Tool available", logfields.Tool(tc.Name), logfields.Version(have))
	return nil
}

var versionRe = regexp.MustCompile(`\d+(?:\.\d+)+`)

// ExtractVersion pulls the first dotted version number out of version-command
// output (e.g. "trunk 0.17.5" -> "0.17.5").
func ExtractVersion(output string) string {
	return versionRe.FindString(output)
}

// CompareVersions compares two dotted version strings numerically, segment by
// segment. Missing segments count as zero. Returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
