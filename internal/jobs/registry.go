// Package jobs tracks cancellation tokens for in-flight extraction jobs.
package jobs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"clipstream/internal/logging"
)

var (
	// ErrNotFound is returned when the job id is not tracked.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyCancelled is returned when the job was cancelled before.
	ErrAlreadyCancelled = errors.New("job already cancelled")
)

// ProcessHandle is the subset of subprocess control the registry needs.
// *os.Process satisfies it; tests inject fakes.
type ProcessHandle interface {
	Signal(sig os.Signal) error
	Kill() error
}

// Token tracks whether a job has been asked to stop and which resources it
// owns. The token exclusively owns its subprocess handle and working
// directory; nothing else may terminate or delete them.
type Token struct {
	ID        string
	SourceURL string
	Cancelled bool
	CreatedAt time.Time

	proc    ProcessHandle
	workDir string
}

// JobInfo is a read-only snapshot of a token for the operator dashboard.
type JobInfo struct {
	ID        string        `json:"jobId"`
	SourceURL string        `json:"url"`
	Cancelled bool          `json:"cancelled"`
	CreatedAt time.Time     `json:"createdAt"`
	Elapsed   time.Duration `json:"elapsedMs"`
}

// Registry is the process-wide job-id to token mapping. It is constructed
// once at startup and injected wherever cancellation state is needed.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
	logger *slog.Logger

	removeGrace time.Duration
	killGrace   time.Duration
}

// Option configures the registry.
type Option func(*Registry)

// WithRemoveGrace overrides the delay between cancel and token removal.
func WithRemoveGrace(d time.Duration) Option {
	return func(r *Registry) { r.removeGrace = d }
}

// WithKillGrace overrides the delay before a termination signal escalates
// to a hard kill.
func WithKillGrace(d time.Duration) Option {
	return func(r *Registry) { r.killGrace = d }
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	reg := &Registry{
		tokens:      make(map[string]*Token),
		logger:      logging.NewComponentLogger(logger, "jobs"),
		removeGrace: 5 * time.Second,
		killGrace:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// Create registers a new token. A duplicate id is a programmer error given
// unique id generation, so it is reported rather than silently replaced.
func (r *Registry) Create(jobID, sourceURL string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[jobID]; exists {
		return nil, fmt.Errorf("create token %s: duplicate job id", jobID)
	}
	token := &Token{
		ID:        jobID,
		SourceURL: sourceURL,
		CreatedAt: time.Now(),
	}
	r.tokens[jobID] = token
	return token, nil
}

// AttachProcess associates a running subprocess, and optionally a working
// directory, with an existing token. If the token has already been removed
// the spawn lost the race against a sweep; that is acceptable and logged.
func (r *Registry) AttachProcess(jobID string, proc ProcessHandle, workDir string) {
	r.mu.Lock()
	token, ok := r.tokens[jobID]
	if ok {
		token.proc = proc
		if workDir != "" {
			token.workDir = workDir
		}
	}
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("attach after token removal", logging.String(logging.FieldJobID, jobID))
	}
}

// Cancel marks the job cancelled, signals its subprocess, removes its
// working directory, and schedules token removal after the grace window.
func (r *Registry) Cancel(jobID string) error {
	r.mu.Lock()
	token, ok := r.tokens[jobID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if token.Cancelled {
		r.mu.Unlock()
		return ErrAlreadyCancelled
	}
	token.Cancelled = true
	proc := token.proc
	workDir := token.workDir
	r.mu.Unlock()

	if proc != nil {
		r.terminate(jobID, proc)
	}
	if workDir != "" {
		if err := os.RemoveAll(workDir); err != nil {
			r.logger.Warn("remove working directory",
				logging.String(logging.FieldJobID, jobID),
				logging.String("path", workDir),
				logging.Error(err))
		}
	}

	// Late status reads still observe the cancelled state until the grace
	// window elapses.
	time.AfterFunc(r.removeGrace, func() {
		r.remove(jobID)
	})

	r.logger.Info("job cancelled", logging.String(logging.FieldJobID, jobID))
	return nil
}

// terminate signals the process and escalates to a hard kill if it has not
// exited by the end of the kill grace window.
func (r *Registry) terminate(jobID string, proc ProcessHandle) {
	if err := proc.Signal(os.Interrupt); err != nil {
		// Process already gone, or signalling unsupported; fall through to Kill.
		if err := proc.Kill(); err != nil {
			r.logger.Debug("kill after failed signal",
				logging.String(logging.FieldJobID, jobID), logging.Error(err))
		}
		return
	}
	time.AfterFunc(r.killGrace, func() {
		if err := proc.Kill(); err == nil {
			r.logger.Warn("escalated to hard kill",
				logging.String(logging.FieldJobID, jobID))
		}
	})
}

// IsCancelled reports whether the job has been cancelled. Unknown ids read
// as false so unrelated code paths fail open.
func (r *Registry) IsCancelled(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[jobID]
	return ok && token.Cancelled
}

// Has reports whether a token exists for the job id.
func (r *Registry) Has(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[jobID]
	return ok
}

// List returns a snapshot of all tracked jobs.
func (r *Registry) List() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	out := make([]JobInfo, 0, len(r.tokens))
	for _, token := range r.tokens {
		out = append(out, JobInfo{
			ID:        token.ID,
			SourceURL: token.SourceURL,
			Cancelled: token.Cancelled,
			CreatedAt: token.CreatedAt,
			Elapsed:   now.Sub(token.CreatedAt),
		})
	}
	return out
}

// ActivePaths returns the working directories owned by live jobs. The disk
// quota manager excludes these from eviction candidates.
func (r *Registry) ActivePaths() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make(map[string]struct{}, len(r.tokens))
	for _, token := range r.tokens {
		if token.workDir != "" {
			paths[token.workDir] = struct{}{}
		}
	}
	return paths
}

// Remove drops the token without any cancellation side effects. Runners call
// this once a job reaches a terminal state.
func (r *Registry) Remove(jobID string) {
	r.remove(jobID)
}

// RemoveAfter schedules token removal once the grace window has elapsed.
func (r *Registry) RemoveAfter(jobID string, delay time.Duration) {
	if delay <= 0 {
		r.remove(jobID)
		return
	}
	time.AfterFunc(delay, func() { r.remove(jobID) })
}

func (r *Registry) remove(jobID string) {
	r.mu.Lock()
	delete(r.tokens, jobID)
	r.mu.Unlock()
}

// SweepStale removes tokens older than maxAge regardless of state, bounding
// growth from abandoned jobs that never reached a terminal callback. It
// returns the number of removed tokens.
func (r *Registry) SweepStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, token := range r.tokens {
		if token.CreatedAt.Before(cutoff) {
			delete(r.tokens, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("swept stale tokens", logging.Int("count", removed))
	}
	return removed
}

// Len reports the number of tracked tokens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
