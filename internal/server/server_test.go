package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"clipstream/internal/diskspace"
	"clipstream/internal/jobs"
	"clipstream/internal/logging"
	"clipstream/internal/progress"
	"clipstream/internal/ytdlp"
)

type scriptedExecutor struct {
	run func(ctx context.Context, spec ytdlp.RunSpec) error
}

func (s *scriptedExecutor) Run(ctx context.Context, spec ytdlp.RunSpec) error {
	return s.run(ctx, spec)
}

const infoJSON = `{"id": "abc", "title": "Test Video", "uploader": "channel",
	"duration": 60, "filesize_approx": 2048,
	"formats": [{"format_id": "22", "resolution": "1280x720", "vcodec": "avc1", "acodec": "mp4a"}]}`

// isInfoCall distinguishes metadata invocations from transfer invocations.
func isInfoCall(spec ytdlp.RunSpec) bool {
	return slices.Contains(spec.Args, "-J")
}

type serverFixture struct {
	srv      *Server
	ts       *httptest.Server
	store    *progress.Store
	registry *jobs.Registry
	dir      string
}

func newServerFixture(t *testing.T, exec ytdlp.Executor, quotaBytes int64) *serverFixture {
	t.Helper()
	logger := logging.NewNop()
	client, err := ytdlp.New("yt-dlp", 30, 120, "", "", ytdlp.WithExecutor(exec))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	store := progress.NewStore()
	registry := jobs.NewRegistry(logger, jobs.WithRemoveGrace(time.Hour))
	dir := t.TempDir()
	if quotaBytes <= 0 {
		quotaBytes = 1 << 30
	}
	disk := diskspace.NewManager(dir, quotaBytes, logger,
		diskspace.WithActivePaths(registry.ActivePaths))
	runner := ytdlp.NewRunner(client, store, registry, disk, dir, logger,
		ytdlp.WithClearGrace(time.Hour))

	srv, err := New("127.0.0.1:0", Services{
		Client:      client,
		Runner:      runner,
		Store:       store,
		Registry:    registry,
		Disk:        disk,
		TokenMaxAge: time.Hour,
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &serverFixture{srv: srv, ts: ts, store: store, registry: registry, dir: dir}
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestInfoRejectsMissingURL(t *testing.T) {
	f := newServerFixture(t, &scriptedExecutor{run: func(context.Context, ytdlp.RunSpec) error {
		t.Error("executor should not run for invalid requests")
		return nil
	}}, 0)

	for _, target := range []string{
		"/api/info",
		"/api/info?url=not-a-url",
		"/api/info?url=ftp%3A%2F%2Fexample.com%2Fthing",
	} {
		resp, err := http.Get(f.ts.URL + target)
		if err != nil {
			t.Fatalf("GET %s: %v", target, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", target, resp.StatusCode)
		}
	}
}

func TestInfoReturnsMetadata(t *testing.T) {
	f := newServerFixture(t, &scriptedExecutor{run: func(_ context.Context, spec ytdlp.RunSpec) error {
		io.WriteString(spec.Stdout, infoJSON)
		return nil
	}}, 0)

	resp, err := http.Get(f.ts.URL + "/api/info?url=" + "https%3A%2F%2Fexample.com%2Fwatch%3Fv%3Dabc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body InfoResponse
	decodeBody(t, resp, &body)
	if body.Title != "Test Video" || body.EstimatedBytes != 2048 {
		t.Errorf("body = %+v", body)
	}
}

func TestFormatsFallsBackToPresets(t *testing.T) {
	f := newServerFixture(t, &scriptedExecutor{run: func(_ context.Context, spec ytdlp.RunSpec) error {
		spec.OnErrLine("ERROR: Video unavailable")
		return errors.New("exit status 1")
	}}, 0)

	resp, err := http.Get(f.ts.URL + "/api/formats?url=https%3A%2F%2Fexample.com%2Fwatch%3Fv%3Dabc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 fallback", resp.StatusCode)
	}
	var body ytdlp.FormatsResult
	decodeBody(t, resp, &body)
	if len(body.Presets) == 0 || body.Note == "" {
		t.Errorf("fallback = %+v", body)
	}
}

func TestDownloadAcceptsJob(t *testing.T) {
	f := newServerFixture(t, &scriptedExecutor{run: func(_ context.Context, spec ytdlp.RunSpec) error {
		if spec.OnLine != nil {
			spec.OnLine("[download] 100% of 1.00MiB in 00:01")
		}
		return nil
	}}, 0)

	payload := `{"url": "https://example.com/watch?v=abc", "format": "720p"}`
	resp, err := http.Post(f.ts.URL+"/api/download", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var body DownloadResponse
	decodeBody(t, resp, &body)
	if body.JobID == "" {
		t.Fatal("empty job id")
	}
	if body.ProgressURL != "/api/progress/"+body.JobID {
		t.Fatalf("progress url = %q", body.ProgressURL)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := f.store.Get(body.JobID); ok && rec.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal record")
}

func TestDownloadQueryForm(t *testing.T) {
	f := newServerFixture(t, &scriptedExecutor{run: func(_ context.Context, spec ytdlp.RunSpec) error {
		if !slices.Contains(spec.Args, "--yes-playlist") {
			t.Errorf("args missing --yes-playlist: %v", spec.Args)
		}
		return nil
	}}, 0)

	resp, err := http.Get(f.ts.URL + "/api/download?url=https%3A%2F%2Fexample.com%2Fplaylist&playlist=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var body DownloadResponse
	decodeBody(t, resp, &body)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := f.store.Get(body.JobID); ok && rec.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal record")
}

func TestDownloadQuotaExceeded(t *testing.T) {
	f := newServerFixture(t, &scriptedExecutor{run: func(context.Context, ytdlp.RunSpec) error {
		t.Error("executor should not run past the quota gate")
		return nil
	}}, 1)
	if err := os.WriteFile(filepath.Join(f.dir, "existing.mp4"), bytes.Repeat([]byte("x"), 64), 0o644); err != nil {
		t.Fatal(err)
	}

	payload := `{"url": "https://example.com/watch?v=abc"}`
	resp, err := http.Post(f.ts.URL+"/api/download", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInsufficientStorage {
		t.Fatalf("status = %d, want 507", resp.StatusCode)
	}
}

func TestProgressUnknownJob(t *testing.T) {
	f := newServerFixture(t, &scriptedExecutor{run: func(context.Context, ytdlp.RunSpec) error { return nil }}, 0)
	resp, err := http.Get(f.ts.URL + "/api/progress/no-such-job")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProgressStreamsTerminalFrame(t *testing.T) {
	f := newServerFixture(t, nil, 0)
	f.store.Set("job-1", progress.Record{Percent: 100, Done: true})

	resp, err := http.Get(f.ts.URL + "/api/progress/job-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("no data frame before stream end: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var rec progress.Record
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &rec); err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		if !rec.Done || rec.Percent != 100 {
			t.Fatalf("frame = %+v", rec)
		}
		return
	}
}

func TestCancelSemantics(t *testing.T) {
	f := newServerFixture(t, nil, 0)

	resp, err := http.Post(f.ts.URL+"/api/cancel/missing", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", resp.StatusCode)
	}

	if _, err := f.registry.Create("job-2", "https://example.com/v"); err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{http.StatusOK, http.StatusConflict} {
		resp, err := http.Post(f.ts.URL+"/api/cancel/job-2", "application/json", nil)
		if err != nil {
			t.Fatalf("POST #%d: %v", i, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("cancel #%d status = %d, want %d", i, resp.StatusCode, want)
		}
	}
}

func TestDownloadsListsJobs(t *testing.T) {
	f := newServerFixture(t, nil, 0)
	if _, err := f.registry.Create("job-3", "https://example.com/v"); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(f.ts.URL + "/api/downloads")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body DownloadsResponse
	decodeBody(t, resp, &body)
	if len(body.Jobs) != 1 || body.Jobs[0].JobID != "job-3" {
		t.Fatalf("jobs = %+v", body.Jobs)
	}
}

func TestDiskStats(t *testing.T) {
	f := newServerFixture(t, nil, 1000)
	if err := os.WriteFile(filepath.Join(f.dir, "a.mp4"), bytes.Repeat([]byte("x"), 500), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(f.ts.URL + "/api/disk-stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var stats diskspace.Stats
	decodeBody(t, resp, &stats)
	if stats.UsedBytes != 500 || stats.QuotaBytes != 1000 || stats.PercentUsed != 50 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t, nil, 0)
	resp, err := http.Get(f.ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body HealthResponse
	decodeBody(t, resp, &body)
	if body.Status != "ok" {
		t.Fatalf("health = %+v", body)
	}
}

func TestStreamSendsMediaHeadersAndBody(t *testing.T) {
	payload := strings.Repeat("v", 8192)
	exec := &scriptedExecutor{run: func(_ context.Context, spec ytdlp.RunSpec) error {
		if isInfoCall(spec) {
			io.WriteString(spec.Stdout, infoJSON)
			return nil
		}
		_, err := io.WriteString(spec.Stdout, payload)
		return err
	}}
	f := newServerFixture(t, exec, 0)

	resp, err := http.Get(f.ts.URL + "/api/stream?url=https%3A%2F%2Fexample.com%2Fwatch%3Fv%3Dabc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("content type = %q", ct)
	}
	if ar := resp.Header.Get("Accept-Ranges"); ar != "bytes" {
		t.Fatalf("Accept-Ranges = %q", ar)
	}
	// The size estimate is approximate and net/http enforces a declared
	// length, so the transfer must stay unframed.
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		t.Fatalf("Content-Length = %q, want unset", cl)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "Test Video.mp4") {
		t.Errorf("content disposition = %q", cd)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != payload {
		t.Fatalf("body length = %d, want %d", len(body), len(payload))
	}
}

func TestStreamMetadataFailureReturnsJSONError(t *testing.T) {
	exec := &scriptedExecutor{run: func(_ context.Context, spec ytdlp.RunSpec) error {
		spec.OnErrLine("ERROR: Video unavailable")
		return errors.New("exit status 1")
	}}
	f := newServerFixture(t, exec, 0)

	resp, err := http.Get(f.ts.URL + "/api/stream?url=https%3A%2F%2Fexample.com%2Fwatch%3Fv%3Dgone")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
