package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"clipstream/internal/config"
	"clipstream/internal/deps"
	"clipstream/internal/diskspace"
	"clipstream/internal/janitor"
	"clipstream/internal/jobs"
	"clipstream/internal/logging"
	"clipstream/internal/progress"
	"clipstream/internal/server"
	"clipstream/internal/ytdlp"
)

// Daemon coordinates the service components and enforces single-instance
// execution over the download directory.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *progress.Store
	registry *jobs.Registry
	disk     *diskspace.Manager
	client   *ytdlp.Client
	runner   *ytdlp.Runner
	janitor  *janitor.Scheduler
	api      *server.Server

	lockPath string
	lock     *flock.Flock
	running  atomic.Bool
}

// Status reports daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	ListenAddr   string
	DownloadDir  string
	LockFilePath string
	ActiveJobs   int
	Dependencies []deps.Status
}

// New constructs a daemon with all components wired but nothing started.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}

	store := progress.NewStore()
	registry := jobs.NewRegistry(logger)
	disk := diskspace.NewManager(cfg.Paths.DownloadDir, cfg.QuotaBytes(), logger,
		diskspace.WithActivePaths(registry.ActivePaths))

	client, err := ytdlp.New(cfg.Tool.Binary, cfg.Tool.InfoTimeoutSeconds,
		cfg.Tool.PlaylistTimeoutSeconds, cfg.Tool.DefaultFormat, cfg.Tool.MergeFormat)
	if err != nil {
		return nil, fmt.Errorf("media client: %w", err)
	}
	runner := ytdlp.NewRunner(client, store, registry, disk, cfg.Paths.DownloadDir, logger)

	tokenMaxAge := time.Duration(cfg.Janitor.TokenMaxAgeMin) * time.Minute
	sched := janitor.New(disk, registry, store, janitor.Settings{
		RoutineSpec:       cfg.Janitor.RoutineSpec,
		AggressiveSpec:    cfg.Janitor.AggressiveSpec,
		WarnPercent:       cfg.Disk.WarnPercent,
		RoutineReclaim:    cfg.Disk.RoutineReclaimMB * 1024 * 1024,
		AggressiveReclaim: cfg.Disk.AggressiveReclaimMB * 1024 * 1024,
		TokenMaxAge:       tokenMaxAge,
	}, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		registry: registry,
		disk:     disk,
		client:   client,
		runner:   runner,
		janitor:  sched,
		lockPath: filepath.Join(cfg.Paths.LogDir, "clipstreamd.lock"),
	}
	d.lock = flock.New(d.lockPath)

	api, err := server.New(cfg.Paths.Listen, server.Services{
		Client:      client,
		Runner:      runner,
		Store:       store,
		Registry:    registry,
		Disk:        disk,
		TokenMaxAge: tokenMaxAge,
		DepsCheck:   d.checkDeps,
	}, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock, verifies external binaries, and brings
// up the janitor and API server. Components stop when ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("prepare lock dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another instance holds %s", d.lockPath)
	}

	statuses := d.checkDeps(ctx)
	for _, status := range statuses {
		if status.Available {
			d.logger.Info("dependency available",
				logging.String("name", status.Name),
				logging.String("command", status.Command),
				logging.String("version", status.Version))
			continue
		}
		d.logger.Warn("dependency unavailable",
			logging.String("name", status.Name),
			logging.String("detail", status.Detail))
	}
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		d.releaseLock()
		return fmt.Errorf("missing required dependencies: %s", strings.Join(missing, ", "))
	}

	if err := d.janitor.Start(); err != nil {
		d.releaseLock()
		return err
	}
	if err := d.api.Start(ctx); err != nil {
		d.janitor.Stop()
		d.releaseLock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("listen", d.api.Addr()),
		logging.String("download_dir", d.cfg.Paths.DownloadDir))
	return nil
}

// Stop shuts down the API server and janitor and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		d.releaseLock()
		return
	}
	d.api.Stop()
	d.janitor.Stop()
	d.releaseLock()
	d.logger.Info("daemon stopped")
}

// Status reports the current runtime state.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		ListenAddr:   d.api.Addr(),
		DownloadDir:  d.cfg.Paths.DownloadDir,
		LockFilePath: d.lockPath,
		ActiveJobs:   d.registry.Len(),
		Dependencies: d.checkDeps(ctx),
	}
}

func (d *Daemon) checkDeps(ctx context.Context) []deps.Status {
	statuses := deps.CheckBinaries(ctx, deps.Requirements(d.cfg.Tool.Binary))
	ffmpeg := deps.CheckFFmpegForTool(d.cfg.Tool.Binary)
	ffmpeg.Optional = true
	return append(statuses, ffmpeg)
}

func (d *Daemon) releaseLock() {
	if d.lock == nil {
		return
	}
	if err := d.lock.Unlock(); err == nil {
		_ = os.Remove(d.lockPath)
	}
}
