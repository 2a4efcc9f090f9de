package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/relbuilder/internal/archive"
	"git.home.luguber.info/inful/relbuilder/internal/build"
	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/daemon"
	"git.home.luguber.info/inful/relbuilder/internal/store"
	"git.home.luguber.info/inful/relbuilder/internal/verify"
	"git.home.luguber.info/inful/relbuilder/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"release.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Build struct {
		SkipVerify bool `help:"Skip archive verification after packaging"`
	} `cmd:"" help:"Run the full release pipeline: toolchains, build steps, package, verify"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Package struct {
	} `cmd:"" help:"Package already-built artifacts without running build steps"`

	Verify struct {
		Archive string `arg:"" help:"Archive to verify"`
		Extract string `help:"Also extract the archive into this directory"`
	} `cmd:"" help:"Verify an existing release archive against the configuration"`

	History struct {
		Limit int `short:"n" help:"Maximum number of builds to show" default:"20"`
	} `cmd:"" help:"Show recent builds from the history database"`

	Daemon struct {
	} `cmd:"" help:"Run continuously, rebuilding on source changes or on a schedule"`
}

func main() {
	ctx := kong.Parse(&CLI, kong.Vars{"version": version.Version})

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	switch ctx.Command() {
	case "build":
		err = runBuild(CLI.Build.SkipVerify, false)
	case "init":
		err = config.Init(CLI.Config, CLI.Init.Force)
	case "package":
		err = runBuild(false, true)
	case "verify <archive>":
		err = runVerify(CLI.Verify.Archive, CLI.Verify.Extract)
	case "history":
		err = runHistory(CLI.History.Limit)
	case "daemon":
		err = runDaemon()
	default:
		err = fmt.Errorf("unknown command: %s", ctx.Command())
	}
	if err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}

func runBuild(skipVerify, packageOnly bool) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	svc := build.NewBuildService()
	if cfg.History.Path != "" {
		st, err := store.Open(cfg.ResolvePath(cfg.History.Path))
		if err != nil {
			slog.Warn("History store unavailable", "error", err)
		} else {
			defer st.Close()
			svc = svc.WithHistory(st)
		}
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := svc.Run(runCtx, build.BuildRequest{
		Config:      cfg,
		SkipVerify:  skipVerify,
		PackageOnly: packageOnly,
	})
	if err != nil {
		return err
	}

	slog.Info("Release build complete",
		"build_id", result.BuildID,
		"version", result.Version,
		"archive", result.ArchivePath,
		"sha256", result.ArchiveSHA256,
		"duration", result.Duration)
	return nil
}

func runVerify(archivePath, extractDir string) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	report, err := verify.Archive(archivePath, build.VerifyOptions(cfg))
	if err != nil {
		return err
	}
	slog.Info("Archive verified",
		"archive", archivePath,
		"entries", report.Entries,
		"required_present", report.RequiredPresent,
		"checksums_ok", report.ChecksumsOK,
		"html_assets_ok", report.HTMLAssetsOK)

	if extractDir != "" {
		if err := archive.Extract(archivePath, extractDir); err != nil {
			return fmt.Errorf("extracting archive: %w", err)
		}
		slog.Info("Archive extracted", "dest", extractDir)
	}
	return nil
}

func runHistory(limit int) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.ResolvePath(cfg.History.Path))
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	builds, err := st.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(builds) == 0 {
		fmt.Println("no builds recorded")
		return nil
	}

	for _, b := range builds {
		fmt.Printf("%s  %-9s  %-12s  %s  %s\n",
			b.StartedAt.Format(time.RFC3339), b.Status, b.Version, b.BuildID, b.ArchivePath)
		for _, s := range b.Stages {
			line := fmt.Sprintf("    %-12s %-9s %s", s.Name, s.Status, s.Duration.Round(time.Millisecond))
			if s.Detail != "" {
				line += "  " + s.Detail
			}
			fmt.Println(line)
		}
	}
	return nil
}

func runDaemon() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	svc := build.NewBuildService()
	if cfg.History.Path != "" {
		st, err := store.Open(cfg.ResolvePath(cfg.History.Path))
		if err != nil {
			slog.Warn("History store unavailable", "error", err)
		} else {
			defer st.Close()
			svc = svc.WithHistory(st)
		}
	}

	d, err := daemon.New(cfg, svc)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start(runCtx)
	}()

	slog.Info("Daemon started, waiting for shutdown signal...")

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("daemon error: %w", err)
		}
	case <-runCtx.Done():
		slog.Info("Shutdown signal received, stopping daemon...")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	return nil
}
