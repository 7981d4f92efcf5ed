// Package progress holds the in-memory status cache for in-flight jobs.
package progress

import (
	"sync"
	"time"
)

// Record is the latest known status of a job. Done and Err are terminal and
// mutually exclusive; a record carrying Err always has Done set as well.
type Record struct {
	Percent    float64 `json:"progress"`
	Done       bool    `json:"done,omitempty"`
	Err        string  `json:"error,omitempty"`
	Raw        string  `json:"raw,omitempty"`
	Bytes      int64   `json:"bytes,omitempty"`
	TotalBytes int64   `json:"total_bytes,omitempty"`
}

// Terminal reports whether the record is in a terminal state.
func (r Record) Terminal() bool {
	return r.Done || r.Err != ""
}

// Store is a best-effort, lossy status cache keyed by job id. Only the
// owning runner writes a given key; readers see last-write-wins. Growth is
// bounded only by callers scheduling clearance, so every producer must pair
// writes with Clear or ClearAfter.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
	timers  map[string]*time.Timer
}

// NewStore constructs an empty store. One instance is created at process
// start and injected into every component that needs it.
func NewStore() *Store {
	return &Store{
		records: make(map[string]Record),
		timers:  make(map[string]*time.Timer),
	}
}

// Set replaces the current record for the job.
func (s *Store) Set(jobID string, rec Record) {
	s.mu.Lock()
	s.records[jobID] = rec
	s.mu.Unlock()
}

// Get returns the current record and whether one exists.
func (s *Store) Get(jobID string) (Record, bool) {
	s.mu.RLock()
	rec, ok := s.records[jobID]
	s.mu.RUnlock()
	return rec, ok
}

// Clear removes the record and cancels any pending deferred clearance.
func (s *Store) Clear(jobID string) {
	s.mu.Lock()
	delete(s.records, jobID)
	if timer, ok := s.timers[jobID]; ok {
		timer.Stop()
		delete(s.timers, jobID)
	}
	s.mu.Unlock()
}

// ClearAfter schedules removal of the record once the grace window has
// elapsed, letting trailing status reads observe the terminal state. A
// subsequent ClearAfter for the same job resets the window.
func (s *Store) ClearAfter(jobID string, delay time.Duration) {
	if delay <= 0 {
		s.Clear(jobID)
		return
	}
	s.mu.Lock()
	if timer, ok := s.timers[jobID]; ok {
		timer.Stop()
	}
	s.timers[jobID] = time.AfterFunc(delay, func() {
		s.Clear(jobID)
	})
	s.mu.Unlock()
}

// Len reports the number of tracked records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Keys returns a snapshot of tracked job ids.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	return keys
}
