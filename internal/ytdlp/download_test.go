package ytdlp

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestStartDownloadRejectsWhenQuotaExceeded(t *testing.T) {
	fixture := newRunnerFixture(t, stubQuota{exceeded: true}, &fakeExecutor{})
	_, err := fixture.runner.StartDownload(context.Background(), "https://example.com/v", "", false)
	if !errors.Is(err, ErrQuota) {
		t.Fatalf("StartDownload err = %v, want %v", err, ErrQuota)
	}
	if fixture.registry.Len() != 0 {
		t.Error("job registered despite quota rejection")
	}
}

func TestStartDownloadCompletes(t *testing.T) {
	exec := &fakeExecutor{run: func(_ context.Context, spec RunSpec) error {
		spec.OnLine("[download]  10.0% of 10.00MiB")
		spec.OnLine("[download]  55.5% of 10.00MiB")
		spec.OnLine("[download] 100% of 10.00MiB in 00:08")
		return nil
	}}
	fixture := newRunnerFixture(t, stubQuota{}, exec)

	jobID, err := fixture.runner.StartDownload(context.Background(), "https://example.com/v", "720p", false)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if jobID == "" {
		t.Fatal("empty job id")
	}

	waitFor(t, "terminal progress", func() bool {
		rec, ok := fixture.store.Get(jobID)
		return ok && rec.Terminal()
	})
	rec, _ := fixture.store.Get(jobID)
	if rec.Percent != 100 || !rec.Done || rec.Err != "" {
		t.Errorf("terminal record = %+v", rec)
	}

	spec := exec.lastSpec(t)
	if !slices.Contains(spec.Args, "--newline") || !slices.Contains(spec.Args, "--no-playlist") {
		t.Errorf("args = %v", spec.Args)
	}
	if !slices.Contains(spec.Args, "720p") {
		t.Errorf("requested format not passed: %v", spec.Args)
	}
}

func TestStartDownloadPlaylistArgs(t *testing.T) {
	exec := &fakeExecutor{}
	fixture := newRunnerFixture(t, stubQuota{}, exec)

	jobID, err := fixture.runner.StartDownload(context.Background(), "https://example.com/playlist?list=PL1", "", true)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	waitFor(t, "terminal progress", func() bool {
		rec, ok := fixture.store.Get(jobID)
		return ok && rec.Terminal()
	})
	if !slices.Contains(exec.lastSpec(t).Args, "--yes-playlist") {
		t.Errorf("args = %v", exec.lastSpec(t).Args)
	}
}

func TestDownloadFailureRecordsError(t *testing.T) {
	exec := &fakeExecutor{run: func(_ context.Context, spec RunSpec) error {
		spec.OnErrLine("ERROR: Video unavailable")
		return errors.New("exit status 1")
	}}
	fixture := newRunnerFixture(t, stubQuota{}, exec)

	jobID, err := fixture.runner.StartDownload(context.Background(), "https://example.com/gone", "", false)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	waitFor(t, "terminal progress", func() bool {
		rec, ok := fixture.store.Get(jobID)
		return ok && rec.Terminal()
	})
	rec, _ := fixture.store.Get(jobID)
	if rec.Err == "" || !rec.Done {
		t.Errorf("terminal record = %+v", rec)
	}
}

func TestDownloadCancelStopsJob(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExecutor{run: func(ctx context.Context, spec RunSpec) error {
		spec.OnLine("[download]  10.0% of 10.00MiB")
		close(release)
		for {
			select {
			case <-ctx.Done():
				return errors.New("signal: interrupt")
			case <-time.After(time.Millisecond):
			}
			spec.OnLine("[download]  11.0% of 10.00MiB")
		}
	}}
	fixture := newRunnerFixture(t, stubQuota{}, exec)

	jobID, err := fixture.runner.StartDownload(context.Background(), "https://example.com/long", "", false)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	<-release
	if err := fixture.registry.Cancel(jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	waitFor(t, "cancelled record", func() bool {
		rec, ok := fixture.store.Get(jobID)
		return ok && rec.Done && rec.Err != ""
	})
	if !fixture.registry.IsCancelled(jobID) {
		t.Error("registry lost cancelled state")
	}
}
