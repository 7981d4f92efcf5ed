package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// blockingWriter refuses to accept bytes until released, then fails every
// write. It stands in for a stalled client connection.
type blockingWriter struct {
	gate    chan struct{}
	mu      sync.Mutex
	written int
}

func (w *blockingWriter) Write(b []byte) (int, error) {
	<-w.gate
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written += len(b)
	return 0, errors.New("broken pipe")
}

type failAfterWriter struct {
	allow int
	buf   bytes.Buffer
}

func (w *failAfterWriter) Write(b []byte) (int, error) {
	if w.buf.Len() >= w.allow {
		return 0, errors.New("connection reset")
	}
	return w.buf.Write(b)
}

func TestStreamCopiesStdoutToWriter(t *testing.T) {
	payload := strings.Repeat("媒", 4096)
	exec := &fakeExecutor{run: func(_ context.Context, spec RunSpec) error {
		_, err := io.WriteString(spec.Stdout, payload)
		return err
	}}
	fixture := newRunnerFixture(t, stubQuota{}, exec)

	var out bytes.Buffer
	result := fixture.runner.Stream(context.Background(), &out, "https://example.com/v", "", int64(len(payload)))
	if result.Err != nil {
		t.Fatalf("Stream: %v", result.Err)
	}
	if out.String() != payload {
		t.Fatalf("streamed %d bytes, want %d", out.Len(), len(payload))
	}
	if result.BytesWritten != int64(len(payload)) {
		t.Errorf("BytesWritten = %d", result.BytesWritten)
	}

	rec, ok := fixture.store.Get(result.JobID)
	if !ok || !rec.Done || rec.Percent != 100 {
		t.Errorf("terminal record = %+v", rec)
	}
	spec := exec.lastSpec(t)
	wantOutput := false
	for i, arg := range spec.Args {
		if arg == "-o" && i+1 < len(spec.Args) && spec.Args[i+1] == "-" {
			wantOutput = true
		}
	}
	if !wantOutput {
		t.Errorf("args = %v, want -o -", spec.Args)
	}
}

func TestStreamBackpressureBoundsBuffer(t *testing.T) {
	// The producer must block once the pump is full instead of buffering the
	// whole payload while the client stalls.
	w := &blockingWriter{gate: make(chan struct{})}
	chunk := make([]byte, 1024)
	produced := make(chan int, 1)

	exec := &fakeExecutor{run: func(ctx context.Context, spec RunSpec) error {
		n := 0
		for i := 0; i < 1000; i++ {
			if _, err := spec.Stdout.Write(chunk); err != nil {
				produced <- n
				return errors.New("signal: killed")
			}
			n++
		}
		produced <- n
		return nil
	}}
	fixture := newRunnerFixture(t, stubQuota{}, exec)

	done := make(chan StreamResult, 1)
	go func() {
		done <- fixture.runner.Stream(context.Background(), w, "https://example.com/v", "", 0)
	}()

	// Unblock the client; its first write fails, which must tear the whole
	// transfer down.
	close(w.gate)
	result := <-done
	if result.Err == nil {
		t.Fatal("expected error after client write failure")
	}

	chunks := <-produced
	// Pump depth 16 plus one chunk in flight on each side.
	if chunks > 32 {
		t.Errorf("producer pushed %d chunks past a dead client", chunks)
	}
}

func TestStreamClientDisconnectMarksDone(t *testing.T) {
	exec := &fakeExecutor{run: func(ctx context.Context, spec RunSpec) error {
		for i := 0; i < 100; i++ {
			if _, err := spec.Stdout.Write(make([]byte, 512)); err != nil {
				return errors.New("signal: killed")
			}
		}
		return nil
	}}
	fixture := newRunnerFixture(t, stubQuota{}, exec)

	w := &failAfterWriter{allow: 1024}
	result := fixture.runner.Stream(context.Background(), w, "https://example.com/v", "", 0)
	if result.Err == nil {
		t.Fatal("expected disconnect error")
	}
	rec, ok := fixture.store.Get(result.JobID)
	if !ok || !rec.Done || rec.Err != "" {
		t.Errorf("disconnect record = %+v, want done without error", rec)
	}
}

func TestStreamCancelledJob(t *testing.T) {
	started := make(chan string, 1)
	exec := &fakeExecutor{run: func(ctx context.Context, spec RunSpec) error {
		for {
			if _, err := spec.Stdout.Write(make([]byte, 256)); err != nil {
				return errors.New("signal: interrupt")
			}
			select {
			case <-ctx.Done():
				return errors.New("signal: interrupt")
			default:
			}
		}
	}}
	fixture := newRunnerFixture(t, stubQuota{}, exec)

	done := make(chan StreamResult, 1)
	go func() {
		done <- fixture.runner.Stream(context.Background(), &discardAndSignal{started: started, registry: fixture}, "https://example.com/v", "", 0)
	}()

	jobID := <-started
	if err := fixture.registry.Cancel(jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	result := <-done
	if !errors.Is(result.Err, ErrCancelled) {
		t.Fatalf("Stream err = %v, want %v", result.Err, ErrCancelled)
	}
}

// discardAndSignal reports the active job id on first write, then discards.
type discardAndSignal struct {
	once     sync.Once
	started  chan string
	registry *runnerFixture
}

func (d *discardAndSignal) Write(b []byte) (int, error) {
	d.once.Do(func() {
		keys := d.registry.store.Keys()
		if len(keys) > 0 {
			d.started <- keys[0]
		}
	})
	return len(b), nil
}

func TestStreamPumpWriteAfterDrainStops(t *testing.T) {
	w := &failAfterWriter{allow: 0}
	pump := newStreamPump(w, 2)
	drained := make(chan struct{})
	go func() {
		pump.drain(nil)
		close(drained)
	}()

	if _, err := pump.Write([]byte("x")); err != nil {
		// The drain may not have failed yet; a first write can succeed.
		t.Logf("first write: %v", err)
	}
	<-drained
	if _, err := pump.Write([]byte("y")); err == nil {
		t.Fatal("write after drain exit should fail")
	}
	pump.close()
	pump.close()
}

func TestProvisionalPercentCaps(t *testing.T) {
	if got := provisionalPercent(50, 100); got != 50 {
		t.Errorf("provisionalPercent(50, 100) = %v", got)
	}
	if got := provisionalPercent(500, 100); got != 99 {
		t.Errorf("overshoot = %v, want 99", got)
	}
	if got := provisionalPercent(10, 0); got != 0 {
		t.Errorf("no estimate = %v, want 0", got)
	}
}
