package ytdlp

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"clipstream/internal/jobs"
	"clipstream/internal/logging"
	"clipstream/internal/progress"
)

// Flusher is satisfied by http.ResponseWriter implementations that can push
// buffered bytes to the client.
type Flusher interface {
	Flush()
}

// StreamResult reports how a streaming transfer ended.
type StreamResult struct {
	JobID        string
	BytesWritten int64
	Err          error
}

// streamAbortError marks producer writes arriving after the consumer side
// has already shut down.
type streamAbortError struct{ cause error }

func (e *streamAbortError) Error() string {
	if e.cause != nil {
		return "stream aborted: " + e.cause.Error()
	}
	return "stream aborted"
}

func (e *streamAbortError) Unwrap() error { return e.cause }

// streamPump decouples subprocess stdout from the client connection with a
// bounded buffer. When the client drains slowly the channel fills and Write
// blocks, which stops the stdout copy and lets pipe backpressure pause the
// subprocess. No unbounded buffering on either side.
type streamPump struct {
	w     io.Writer
	flush func()
	ch    chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	writeErr error
}

func newStreamPump(w io.Writer, depth int) *streamPump {
	p := &streamPump{
		w:    w,
		ch:   make(chan []byte, depth),
		done: make(chan struct{}),
	}
	if f, ok := w.(Flusher); ok {
		p.flush = f.Flush
	}
	return p
}

// Write hands a copy of the chunk to the consumer goroutine. It blocks while
// the buffer is full and fails fast once the consumer has stopped.
func (p *streamPump) Write(b []byte) (int, error) {
	buf := make([]byte, len(b))
	copy(buf, b)
	select {
	case p.ch <- buf:
		return len(b), nil
	case <-p.done:
		return 0, &streamAbortError{cause: p.err()}
	}
}

// drain runs on its own goroutine writing chunks to the client. It exits on
// the first write failure or when the producer closes the pump.
func (p *streamPump) drain(onError func(error)) {
	defer close(p.done)
	for buf := range p.ch {
		if _, err := p.w.Write(buf); err != nil {
			p.setErr(err)
			if onError != nil {
				onError(err)
			}
			return
		}
		if p.flush != nil {
			p.flush()
		}
	}
}

// close signals end of input. Safe to call multiple times; must only be
// called after the last Write has returned.
func (p *streamPump) close() {
	p.closeOnce.Do(func() { close(p.ch) })
}

func (p *streamPump) wait() {
	<-p.done
}

func (p *streamPump) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr == nil {
		p.writeErr = err
	}
}

func (p *streamPump) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeErr
}

// streamCounter sits between the stdout copy and the pump. It counts bytes,
// publishes provisional progress, and aborts the copy when the job is
// cancelled.
type streamCounter struct {
	pump      *streamPump
	registry  *jobs.Registry
	store     *progress.Store
	jobID     string
	estimated int64
	abort     func()

	written    int64
	lastUpdate time.Time
	cancelled  bool
}

func (c *streamCounter) Write(b []byte) (int, error) {
	if c.registry.IsCancelled(c.jobID) {
		c.cancelled = true
		c.abort()
		return 0, jobs.ErrAlreadyCancelled
	}
	n, err := c.pump.Write(b)
	if err != nil {
		c.abort()
		return n, err
	}
	c.written += int64(n)
	if now := time.Now(); now.Sub(c.lastUpdate) >= 500*time.Millisecond {
		c.lastUpdate = now
		c.store.Set(c.jobID, progress.Record{
			Percent:    provisionalPercent(c.written, c.estimated),
			Bytes:      c.written,
			TotalBytes: c.estimated,
		})
	}
	return n, nil
}

// provisionalPercent derives advisory progress from a size estimate. The
// estimate can undershoot, so the value is capped below completion until the
// transfer actually ends.
func provisionalPercent(written, estimated int64) float64 {
	if estimated <= 0 {
		return 0
	}
	percent := float64(written) / float64(estimated) * 100
	if percent > 99 {
		percent = 99
	}
	return percent
}

// Stream pipes the media for url straight from the subprocess to w. It
// blocks until the transfer ends, the client disconnects, the job is
// cancelled, or ctx expires. estimatedBytes of zero disables provisional
// percentages.
func (r *Runner) Stream(ctx context.Context, w io.Writer, url, format string, estimatedBytes int64) StreamResult {
	jobID := uuid.NewString()
	if _, err := r.registry.Create(jobID, url); err != nil {
		return StreamResult{JobID: jobID, Err: err}
	}
	if format == "" {
		format = r.client.defaultFormat
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pump := newStreamPump(w, 16)
	go pump.drain(func(error) { cancel() })

	counter := &streamCounter{
		pump:      pump,
		registry:  r.registry,
		store:     r.store,
		jobID:     jobID,
		estimated: estimatedBytes,
		abort:     cancel,
	}
	r.store.Set(jobID, progress.Record{Percent: 0, TotalBytes: estimatedBytes})

	tail := newStderrTail(8)
	args := []string{
		url,
		"-f", format,
		"--no-playlist",
		"-o", "-",
	}

	runErr := r.client.exec.Run(runCtx, RunSpec{
		Binary: r.client.binary,
		Args:   args,
		OnStart: func(proc jobs.ProcessHandle) {
			r.registry.AttachProcess(jobID, proc, "")
		},
		OnErrLine: tail.add,
		Stdout:    counter,
	})

	// Producer is done; flush whatever the client will still take.
	pump.close()
	pump.wait()

	result := StreamResult{JobID: jobID, BytesWritten: counter.written}
	switch {
	case counter.cancelled || r.registry.IsCancelled(jobID):
		result.Err = ErrCancelled
		r.store.Set(jobID, progress.Record{Err: "cancelled by user", Done: true})
		r.logger.Info("stream cancelled",
			logging.String(logging.FieldJobID, jobID),
			logging.Int64("bytes", counter.written))
	case pump.err() != nil:
		// Client went away. The transfer is over either way, so mark the
		// record done rather than failed.
		result.Err = pump.err()
		r.store.Set(jobID, progress.Record{Percent: 100, Done: true, Bytes: counter.written})
		r.logger.Info("stream client disconnected",
			logging.String(logging.FieldJobID, jobID),
			logging.Int64("bytes", counter.written))
	case runErr != nil:
		classified := classify(runErr, tail.String())
		result.Err = classified
		r.store.Set(jobID, progress.Record{Err: classified.Error(), Done: true, Bytes: counter.written})
		r.logger.Warn("stream failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(classified))
	default:
		r.store.Set(jobID, progress.Record{Percent: 100, Done: true, Bytes: counter.written, TotalBytes: counter.written})
		r.logger.Info("stream complete",
			logging.String(logging.FieldJobID, jobID),
			logging.Int64("bytes", counter.written))
	}

	r.store.ClearAfter(jobID, r.clearGrace)
	r.registry.RemoveAfter(jobID, r.clearGrace)
	return result
}
