// Package diskspace enforces the storage quota over the managed download
// directory.
package diskspace

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"clipstream/internal/logging"
)

// Stats describes current usage for display.
type Stats struct {
	UsedBytes      int64 `json:"used"`
	AvailableBytes int64 `json:"available"`
	QuotaBytes     int64 `json:"quota"`
	PercentUsed    int   `json:"percentUsed"`
}

// EvictError pairs an entry path with its removal error.
type EvictError struct {
	Path  string
	Error error
}

// EvictResult contains the outcome of an eviction sweep.
type EvictResult struct {
	Freed   int64
	Removed []string
	Errors  []EvictError
}

// ActivePathsFunc reports directories owned by in-flight jobs; those are
// never eviction candidates.
type ActivePathsFunc func() map[string]struct{}

// Manager computes usage under the managed directory and evicts oldest
// entries to satisfy a reclaim target.
type Manager struct {
	root        string
	quota       int64
	activePaths ActivePathsFunc
	logger      *slog.Logger
}

// Option configures the manager.
type Option func(*Manager)

// WithActivePaths wires the eviction exclusion list.
func WithActivePaths(fn ActivePathsFunc) Option {
	return func(m *Manager) { m.activePaths = fn }
}

// NewManager constructs a manager for the given root and quota ceiling.
func NewManager(root string, quotaBytes int64, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		root:   root,
		quota:  quotaBytes,
		logger: logging.NewComponentLogger(logger, "diskspace"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the managed directory.
func (m *Manager) Root() string { return m.root }

// Usage returns total bytes under the managed directory. The full tree walk
// can be slow on large trees; callers must not assume O(1) cost.
func (m *Manager) Usage(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries may vanish mid-walk during eviction; best effort.
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return total, err
	}
	return total, nil
}

// QuotaExceeded reports whether usage has reached the quota ceiling.
func (m *Manager) QuotaExceeded(ctx context.Context) (bool, error) {
	used, err := m.Usage(ctx)
	if err != nil {
		return false, err
	}
	return used >= m.quota, nil
}

// Stats returns usage statistics for display.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	used, err := m.Usage(ctx)
	if err != nil {
		return Stats{}, err
	}
	available := m.quota - used
	if available < 0 {
		available = 0
	}
	percent := 0
	if m.quota > 0 {
		percent = int(math.Round(float64(used) / float64(m.quota) * 100))
	}
	return Stats{
		UsedBytes:      used,
		AvailableBytes: available,
		QuotaBytes:     m.quota,
		PercentUsed:    percent,
	}, nil
}

type candidate struct {
	path    string
	modTime time.Time
	size    int64
}

// EvictOldest removes top-level entries in ascending modified-time order
// until at least target bytes have been reclaimed or candidates are
// exhausted. Each removal is independent and best-effort: failures are
// recorded and skipped, never fatal to the sweep.
func (m *Manager) EvictOldest(ctx context.Context, target int64) EvictResult {
	result := EvictResult{}

	entries, err := os.ReadDir(m.root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, EvictError{Path: m.root, Error: err})
		}
		return result
	}

	var active map[string]struct{}
	if m.activePaths != nil {
		active = m.activePaths()
	}

	candidates := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(m.root, entry.Name())
		if _, inUse := active[path]; inUse {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		size := info.Size()
		if entry.IsDir() {
			size = treeSize(path)
		}
		candidates = append(candidates, candidate{path: path, modTime: info.ModTime(), size: size})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	for _, cand := range candidates {
		if result.Freed >= target {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if err := os.RemoveAll(cand.path); err != nil {
			result.Errors = append(result.Errors, EvictError{Path: cand.path, Error: err})
			m.logger.Warn("failed to evict entry",
				logging.String("path", cand.path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check download_dir permissions"))
			continue
		}
		result.Freed += cand.size
		result.Removed = append(result.Removed, cand.path)
		m.logger.Info("evicted entry",
			logging.String("path", cand.path),
			logging.Int64("bytes", cand.size),
			logging.Duration("age", time.Since(cand.modTime)))
	}

	return result
}

// treeSize sums file sizes under path, best effort.
func treeSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}
