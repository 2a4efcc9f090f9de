// Package daemon runs relbuilder continuously: rebuilding when watched source
// paths change, on a fixed schedule, or both. A single worker serializes
// builds; bursts of change events coalesce into one rebuild.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/relbuilder/internal/build"
	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/logfields"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Daemon coordinates watcher, scheduler, metrics endpoint and build worker.
type Daemon struct {
	config  *config.Config
	service build.BuildService

	status    atomic.Value // Status
	startTime time.Time

	watcher   *SourceWatcher
	scheduler *Scheduler
	metrics   *MetricsServer
	publisher *EventPublisher

	// triggerChan coalesces build triggers: a pending trigger while a build
	// runs results in exactly one follow-up build.
	triggerChan chan string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon around the given build service.
func New(cfg *config.Config, svc build.BuildService) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("daemon requires a configuration")
	}
	if svc == nil {
		return nil, fmt.Errorf("daemon requires a build service")
	}

	d := &Daemon{
		config:      cfg,
		service:     svc,
		triggerChan: make(chan string, 1),
	}
	d.status.Store(StatusStopped)
	return d, nil
}

// Status returns the daemon's current lifecycle state.
func (d *Daemon) Status() Status {
	return d.status.Load().(Status)
}

// Trigger requests a build; reason is carried into logs and metrics. A
// trigger arriving while one is already pending is dropped (coalesced).
func (d *Daemon) Trigger(reason string) {
	select {
	case d.triggerChan <- reason:
	default:
		slog.Debug("Build trigger coalesced", slog.String("reason", reason))
	}
}

// Start brings up all components and blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.status.Store(StatusStarting)
	d.startTime = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if len(d.config.Daemon.WatchPaths) > 0 {
		w, err := NewSourceWatcher(d.config, d.Trigger)
		if err != nil {
			return fmt.Errorf("create source watcher: %w", err)
		}
		d.watcher = w
		if err := w.Start(runCtx); err != nil {
			return fmt.Errorf("start source watcher: %w", err)
		}
	}

	if interval := d.config.Daemon.IntervalDuration(); interval > 0 {
		s, err := NewScheduler()
		if err != nil {
			return err
		}
		d.scheduler = s
		if _, err := s.SchedulePeriodicBuild(interval, d.Trigger); err != nil {
			return err
		}
		s.Start()
	}

	if d.config.Daemon.MetricsAddr != "" {
		d.metrics = NewMetricsServer(d.config.Daemon.MetricsAddr)
		d.metrics.Start()
	}

	if d.config.Daemon.Events.Enabled {
		p, err := NewEventPublisher(d.config.Daemon.Events)
		if err != nil {
			// Event publishing is best-effort; the daemon still builds.
			slog.Warn("Event publisher unavailable", logfields.Error(err))
		} else {
			d.publisher = p
		}
	}

	d.wg.Add(1)
	go d.workerLoop(runCtx)

	d.status.Store(StatusRunning)
	slog.Info("Daemon started",
		slog.Int("watch_paths", len(d.config.Daemon.WatchPaths)),
		slog.String("metrics_addr", d.config.Daemon.MetricsAddr))

	<-runCtx.Done()
	return nil
}

// Stop shuts down all components, waiting up to the context deadline.
func (d *Daemon) Stop(ctx context.Context) error {
	d.status.Store(StatusStopping)
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("daemon shutdown timed out: %w", ctx.Err())
	}

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			slog.Warn("Scheduler shutdown failed", logfields.Error(err))
		}
	}
	if d.metrics != nil {
		if err := d.metrics.Stop(ctx); err != nil {
			slog.Warn("Metrics server shutdown failed", logfields.Error(err))
		}
	}
	if d.publisher != nil {
		d.publisher.Close()
	}

	d.status.Store(StatusStopped)
	slog.Info("Daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return nil
}

// workerLoop serializes builds triggered by the watcher, the scheduler or
// manual triggers.
func (d *Daemon) workerLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-d.triggerChan:
			d.runBuild(ctx, reason)
		}
	}
}

func (d *Daemon) runBuild(ctx context.Context, reason string) {
	slog.Info("Starting triggered build", slog.String("reason", reason))
	recordBuildStart()
	d.publish(BuildEvent{Type: EventBuildStarted, Project: d.config.Project.Name, Reason: reason})

	result, err := d.service.Run(ctx, build.BuildRequest{Config: d.config})
	if err != nil {
		recordBuildEnd(false, 0)
		d.publish(BuildEvent{
			Type:    EventBuildFailed,
			Project: d.config.Project.Name,
			Reason:  reason,
			Error:   err.Error(),
		})
		slog.Error("Triggered build failed", logfields.Error(err))
		return
	}

	recordBuildEnd(true, result.Duration)
	d.publish(BuildEvent{
		Type:          EventBuildSucceeded,
		Project:       d.config.Project.Name,
		Reason:        reason,
		BuildID:       result.BuildID,
		Version:       result.Version,
		ArchivePath:   result.ArchivePath,
		ArchiveSHA256: result.ArchiveSHA256,
		DurationMS:    result.Duration.Milliseconds(),
	})
}

func (d *Daemon) publish(ev BuildEvent) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ev); err != nil {
		slog.Warn("Failed to publish build event", logfields.Error(err))
	}
}
