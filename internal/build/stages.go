package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/relbuilder/internal/archive"
	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/gitinfo"
	"git.home.luguber.info/inful/relbuilder/internal/logfields"
	"git.home.luguber.info/inful/relbuilder/internal/manifest"
	"git.home.luguber.info/inful/relbuilder/internal/notes"
	"git.home.luguber.info/inful/relbuilder/internal/pipeline"
	"git.home.luguber.info/inful/relbuilder/internal/runner"
	"git.home.luguber.info/inful/relbuilder/internal/toolchain"
	"git.home.luguber.info/inful/relbuilder/internal/verify"
	"git.home.luguber.info/inful/relbuilder/internal/workspace"
)

// Reserved stage names; build steps from the config may not use them.
const (
	StageToolchains pipeline.StageName = "toolchains"
	StageSourceInfo pipeline.StageName = "source-info"
	StageNotes      pipeline.StageName = "notes"
	StagePackage    pipeline.StageName = "package"
	StageVerify     pipeline.StageName = "verify"
)

// toolchainsStage ensures required external tools are installed.
type toolchainsStage struct {
	manager *toolchain.Manager
}

func (s *toolchainsStage) Name() pipeline.StageName           { return StageToolchains }
func (s *toolchainsStage) Dependencies() []pipeline.StageName { return nil }

func (s *toolchainsStage) ShouldSkip(st *pipeline.State) bool {
	return len(st.Config.Toolchains) == 0
}

func (s *toolchainsStage) Execute(ctx context.Context, st *pipeline.State) error {
	return s.manager.Ensure(ctx, st.Config.Toolchains)
}

// sourceInfoStage resolves the release version and source revision, and
// initializes the manifest every later stage appends to.
type sourceInfoStage struct{}

func (s *sourceInfoStage) Name() pipeline.StageName           { return StageSourceInfo }
func (s *sourceInfoStage) Dependencies() []pipeline.StageName { return nil }

func (s *sourceInfoStage) Execute(_ context.Context, st *pipeline.State) error {
	info, err := gitinfo.Read(st.Config.Root)
	switch {
	case err == nil:
		st.Source = info
	case errors.Is(err, gitinfo.ErrNotARepository), errors.Is(err, gitinfo.ErrNoCommits):
		slog.Debug("No usable git revision, manifest carries none",
			logfields.Path(st.Config.Root))
	default:
		return err
	}

	st.Version = st.Config.Project.Version
	if st.Version == "" && st.Source != nil {
		st.Version = st.Source.Version()
	}

	st.Manifest = manifest.New(st.Config.Project.Name, st.Version)
	st.BuildID = st.Manifest.BuildID
	if st.Source != nil {
		st.Manifest.Commit = st.Source.Commit
		st.Manifest.Dirty = st.Source.Dirty
	}

	slog.Info("Resolved source info",
		logfields.BuildID(st.BuildID),
		logfields.Version(st.Version),
		logfields.Commit(shortCommit(st.Source)))
	return nil
}

func shortCommit(info *gitinfo.Info) string {
	if info == nil {
		return ""
	}
	return info.ShortCommit
}

// stepStage runs one configured build command.
type stepStage struct {
	step   config.Step
	runner *runner.Runner
	deps   []pipeline.StageName
}

func (s *stepStage) Name() pipeline.StageName           { return pipeline.StageName(s.step.Name) }
func (s *stepStage) Dependencies() []pipeline.StageName { return s.deps }

func (s *stepStage) Execute(ctx context.Context, st *pipeline.State) error {
	cfg := st.Config
	res, err := s.runner.Run(ctx, runner.Command{
		Name:    s.step.Name,
		Script:  s.step.Run,
		Dir:     cfg.ResolvePath(s.step.Dir),
		Env:     s.step.Env,
		Timeout: s.step.TimeoutDuration(),
	})
	if err != nil {
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) && exitErr.Stderr != "" {
			slog.Error("Build step output", logfields.Step(s.step.Name), slog.String("stderr", exitErr.Stderr))
		}
		return err
	}

	if s.step.Produces != "" {
		produced := cfg.ResolvePath(s.step.Produces)
		if _, err := os.Stat(produced); err != nil {
			return fmt.Errorf("step %s did not produce %s: %w", s.step.Name, s.step.Produces, err)
		}
	}

	slog.Info("Build step finished",
		logfields.Step(s.step.Name),
		logfields.DurationMS(float64(res.Duration.Milliseconds())))
	return nil
}

// notesStage renders release notes into the archive extras.
type notesStage struct{}

func (s *notesStage) Name() pipeline.StageName           { return StageNotes }
func (s *notesStage) Dependencies() []pipeline.StageName { return []pipeline.StageName{StageSourceInfo} }
func (s *notesStage) Optional() bool                     { return true }

func (s *notesStage) ShouldSkip(st *pipeline.State) bool {
	return st.Config.Notes.Source == ""
}

func (s *notesStage) Execute(_ context.Context, st *pipeline.State) error {
	html, err := notes.Render(st.Config.ResolvePath(st.Config.Notes.Source), st.Config.Project.Name)
	if err != nil {
		return err
	}
	st.Extras[notes.EntryName] = html
	st.Manifest.AddBytes(notes.EntryName, html)
	return nil
}

// packageStage hashes all artifacts into the manifest and writes the archive.
type packageStage struct {
	deps []pipeline.StageName
}

func (s *packageStage) Name() pipeline.StageName           { return StagePackage }
func (s *packageStage) Dependencies() []pipeline.StageName { return s.deps }

func (s *packageStage) Execute(_ context.Context, st *pipeline.State) error {
	cfg := st.Config

	flatten := make([]string, 0, len(cfg.Archive.Flatten))
	for _, f := range cfg.Archive.Flatten {
		flatten = append(flatten, cfg.ResolvePath(f))
	}
	spec := archive.Spec{
		Flatten:  flatten,
		AssetDir: cfg.ResolvePath(cfg.Archive.AssetDir),
		Extras:   st.Extras,
	}

	inputs, err := archive.Inputs(spec)
	if err != nil {
		return err
	}
	for entry, source := range inputs {
		if err := st.Manifest.AddFile(entry, source); err != nil {
			return err
		}
	}

	encoded, err := st.Manifest.Encode()
	if err != nil {
		return err
	}
	st.Extras[manifest.EntryName] = encoded
	st.Extras[manifest.ChecksumsEntryName] = st.Manifest.Checksums()

	// The archive is written into the persistent staging workspace first and
	// moved into place once complete, so the final path never holds a
	// half-written zip.
	staging := workspace.NewPersistentManager(cfg.ResolvePath(".relbuilder"), "staging")
	if err := staging.Create(); err != nil {
		return err
	}
	buildDir, err := staging.CreateSubdir(st.BuildID)
	if err != nil {
		return err
	}
	defer os.RemoveAll(buildDir)

	name := cfg.ArchiveName(st.Version)
	staged := filepath.Join(buildDir, name)
	if err := archive.Create(staged, spec); err != nil {
		return err
	}

	outDir := cfg.ResolvePath(cfg.Archive.Dir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	archivePath := filepath.Join(outDir, name)
	if err := os.Rename(staged, archivePath); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}

	sum, _, err := manifest.FileSHA256(archivePath)
	if err != nil {
		return fmt.Errorf("hash archive: %w", err)
	}
	st.ArchivePath = archivePath
	st.ArchiveSHA256 = sum

	slog.Info("Release packaged",
		logfields.Archive(archivePath),
		logfields.Version(st.Version),
		slog.String("sha256", sum))
	return nil
}

// verifyStage checks the produced archive against the layout contract.
type verifyStage struct {
	skip bool // forced off via request
}

func (s *verifyStage) Name() pipeline.StageName           { return StageVerify }
func (s *verifyStage) Dependencies() []pipeline.StageName { return []pipeline.StageName{StagePackage} }

func (s *verifyStage) ShouldSkip(st *pipeline.State) bool {
	return s.skip || !st.Config.Verify.IsEnabled()
}

func (s *verifyStage) Execute(_ context.Context, st *pipeline.State) error {
	opts := VerifyOptions(st.Config)
	report, err := verify.Archive(st.ArchivePath, opts)
	if err != nil {
		return err
	}
	slog.Info("Archive verified",
		logfields.Archive(st.ArchivePath),
		slog.Int("entries", report.Entries),
		slog.Int("checksums_ok", report.ChecksumsOK),
		slog.Int("html_assets_ok", report.HTMLAssetsOK))

	if st.Config.Verify.Extract {
		if err := extractRoundTrip(st.ArchivePath, opts.RequiredEntries); err != nil {
			return fmt.Errorf("extraction check failed: %w", err)
		}
	}
	return nil
}

// extractRoundTrip unpacks the archive into an ephemeral workspace and
// confirms the required entries landed on disk.
func extractRoundTrip(archivePath string, required []string) error {
	ws := workspace.NewManager("")
	if err := ws.Create(); err != nil {
		return err
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			slog.Warn("Failed to clean up extraction workspace", logfields.Error(err))
		}
	}()

	if err := archive.Extract(archivePath, ws.GetPath()); err != nil {
		return err
	}
	for _, name := range required {
		if _, err := os.Stat(filepath.Join(ws.GetPath(), filepath.FromSlash(name))); err != nil {
			return fmt.Errorf("entry %s missing after extraction: %w", name, err)
		}
	}
	slog.Debug("Extraction check passed", logfields.Archive(archivePath))
	return nil
}

// VerifyOptions derives verification options from the configuration. Shared
// with the standalone verify CLI command.
func VerifyOptions(cfg *config.Config) verify.Options {
	required := make([]string, 0, len(cfg.Archive.Flatten)+2+len(cfg.Verify.Extra))
	for _, f := range cfg.Archive.Flatten {
		required = append(required, archive.EntryName(baseName(f)))
	}
	required = append(required, manifest.EntryName, manifest.ChecksumsEntryName)
	required = append(required, cfg.Verify.Extra...)

	return verify.Options{
		RequiredEntries: required,
		AssetPrefix:     baseName(cfg.Archive.AssetDir) + "/",
		Checksums:       cfg.Verify.Checksums,
		HTMLAssets:      cfg.Verify.HTMLAssets,
	}
}

func baseName(p string) string { return filepath.Base(filepath.FromSlash(p)) }
