package ytdlp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"clipstream/internal/jobs"
	"clipstream/internal/logging"
	"clipstream/internal/progress"
)

// QuotaChecker gates background jobs on available storage.
type QuotaChecker interface {
	QuotaExceeded(ctx context.Context) (bool, error)
}

// Runner composes the client with the progress store and cancellation
// registry to drive whole jobs. One goroutine per job; a runner only ever
// mutates entries for its own job id.
type Runner struct {
	client      *Client
	store       *progress.Store
	registry    *jobs.Registry
	disk        QuotaChecker
	downloadDir string
	logger      *slog.Logger
	clearGrace  time.Duration
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithClearGrace overrides the grace window before progress records and
// tokens of finished jobs are retired.
func WithClearGrace(d time.Duration) RunnerOption {
	return func(r *Runner) { r.clearGrace = d }
}

// NewRunner constructs a runner around the shared service objects.
func NewRunner(client *Client, store *progress.Store, registry *jobs.Registry, disk QuotaChecker, downloadDir string, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:      client,
		store:       store,
		registry:    registry,
		disk:        disk,
		downloadDir: downloadDir,
		logger:      logging.NewComponentLogger(logger, "runner"),
		clearGrace:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartDownload validates quota, registers the job, and spawns the
// extraction in its own goroutine. It returns the new job id immediately.
func (r *Runner) StartDownload(ctx context.Context, url, format string, playlist bool) (string, error) {
	exceeded, err := r.disk.QuotaExceeded(ctx)
	if err != nil {
		return "", fmt.Errorf("check quota: %w", err)
	}
	if exceeded {
		return "", ErrQuota
	}

	jobID := uuid.NewString()
	if _, err := r.registry.Create(jobID, url); err != nil {
		return "", err
	}
	if format == "" {
		format = r.client.defaultFormat
	}

	r.store.Set(jobID, progress.Record{Percent: 0})

	// The job outlives the originating request.
	jobCtx := context.WithoutCancel(ctx)
	go r.runDownload(jobCtx, jobID, url, format, playlist)

	r.logger.Info("download started",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldURL, url),
		logging.String("format", format),
		logging.Bool("playlist", playlist))
	return jobID, nil
}

func (r *Runner) runDownload(ctx context.Context, jobID, url, format string, playlist bool) {
	template := filepath.Join(r.downloadDir, "%(title)s.%(ext)s")
	playlistFlag := "--no-playlist"
	if playlist {
		template = filepath.Join(r.downloadDir, "%(playlist)s", "%(title)s.%(ext)s")
		playlistFlag = "--yes-playlist"
	}

	args := []string{
		url,
		"-f", format,
		"--merge-output-format", r.client.mergeFormat,
		"--newline",
		playlistFlag,
		"-o", template,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cancelled atomic.Bool
	tail := newStderrTail(8)

	err := r.client.exec.Run(runCtx, RunSpec{
		Binary: r.client.binary,
		Args:   args,
		OnStart: func(proc jobs.ProcessHandle) {
			r.registry.AttachProcess(jobID, proc, "")
		},
		OnLine: func(line string) {
			// Poll cancellation at every unit of work so cancel latency is
			// bounded by chunk arrival rate.
			if r.registry.IsCancelled(jobID) {
				if cancelled.CompareAndSwap(false, true) {
					cancel()
				}
				return
			}
			if percent, ok := ParseProgressLine(line); ok {
				r.store.Set(jobID, progress.Record{Percent: percent, Raw: line})
			}
		},
		OnErrLine: tail.add,
	})

	r.finishDownload(jobID, err, cancelled.Load(), tail.String())
}

// finishDownload records the single terminal transition and schedules
// retirement of the job's store entry and token.
func (r *Runner) finishDownload(jobID string, err error, cancelled bool, stderrTail string) {
	switch {
	case cancelled || r.registry.IsCancelled(jobID):
		r.store.Set(jobID, progress.Record{Err: "cancelled by user", Done: true})
		r.logger.Info("download cancelled", logging.String(logging.FieldJobID, jobID))
	case err != nil:
		classified := classify(err, stderrTail)
		r.store.Set(jobID, progress.Record{Err: classified.Error(), Done: true})
		r.logger.Warn("download failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(classified))
	default:
		r.store.Set(jobID, progress.Record{Percent: 100, Done: true})
		r.logger.Info("download complete", logging.String(logging.FieldJobID, jobID))
	}

	r.store.ClearAfter(jobID, r.clearGrace)
	r.registry.RemoveAfter(jobID, r.clearGrace)
}
