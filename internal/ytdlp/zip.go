package ytdlp

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"clipstream/internal/jobs"
	"clipstream/internal/logging"
	"clipstream/internal/progress"
)

// StreamPlaylistZip downloads every entry of a playlist into a scratch
// directory, then streams a zip archive of the results to w. The scratch
// directory is registered with the job token so cancellation and eviction
// treat it as in use, and it is removed when the call returns.
func (r *Runner) StreamPlaylistZip(ctx context.Context, w io.Writer, url, format string) (string, error) {
	jobID := uuid.NewString()
	if _, err := r.registry.Create(jobID, url); err != nil {
		return jobID, err
	}
	defer r.registry.RemoveAfter(jobID, r.clearGrace)
	defer r.store.ClearAfter(jobID, r.clearGrace)

	workDir := filepath.Join(r.downloadDir, "playlist-"+jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return jobID, fmt.Errorf("create playlist dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			r.logger.Warn("remove playlist dir",
				logging.String(logging.FieldJobID, jobID),
				logging.Error(err))
		}
	}()

	if err := r.downloadPlaylist(ctx, jobID, workDir, url, format); err != nil {
		return jobID, err
	}
	if r.registry.IsCancelled(jobID) {
		return jobID, ErrCancelled
	}

	if err := writeZipTree(w, workDir); err != nil {
		return jobID, fmt.Errorf("write archive: %w", err)
	}
	r.store.Set(jobID, progress.Record{Percent: 100, Done: true})
	r.logger.Info("playlist archive streamed",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldURL, url))
	return jobID, nil
}

func (r *Runner) downloadPlaylist(ctx context.Context, jobID, workDir, url, format string) error {
	if format == "" {
		format = r.client.defaultFormat
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cancelled atomic.Bool
	tail := newStderrTail(8)
	r.store.Set(jobID, progress.Record{Percent: 0})

	args := []string{
		url,
		"-f", format,
		"--merge-output-format", r.client.mergeFormat,
		"--newline",
		"--yes-playlist",
		"-o", filepath.Join(workDir, "%(title)s.%(ext)s"),
	}

	err := r.client.exec.Run(runCtx, RunSpec{
		Binary: r.client.binary,
		Args:   args,
		OnStart: func(proc jobs.ProcessHandle) {
			r.registry.AttachProcess(jobID, proc, workDir)
		},
		OnLine: func(line string) {
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
	if cancelled.Load() || r.registry.IsCancelled(jobID) {
		r.store.Set(jobID, progress.Record{Err: "cancelled by user", Done: true})
		return ErrCancelled
	}
	if err != nil {
		classified := classify(err, tail.String())
		r.store.Set(jobID, progress.Record{Err: classified.Error(), Done: true})
		return classified
	}
	return nil
}

// writeZipTree archives the regular files under root into w, flattest paths
// first, without buffering the archive in memory.
func writeZipTree(w io.Writer, root string) error {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)

	zw := zip.NewWriter(w)
	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return zw.Close()
}
