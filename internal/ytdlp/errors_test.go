package ytdlp

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		stderr string
		want   error
	}{
		{
			name: "timeout",
			err:  context.DeadlineExceeded,
			want: ErrTimeout,
		},
		{
			name: "tool missing",
			err:  exec.ErrNotFound,
			want: ErrToolMissing,
		},
		{
			name:   "age restricted",
			err:    errors.New("exit status 1"),
			stderr: "ERROR: Sign in to confirm your age. This video may be age-restricted.",
			want:   ErrContent,
		},
		{
			name:   "video removed",
			err:    errors.New("exit status 1"),
			stderr: "ERROR: Video unavailable. This video has been removed by the uploader",
			want:   ErrContent,
		},
		{
			name:   "stale extractor",
			err:    errors.New("exit status 1"),
			stderr: "ERROR: unable to extract player response",
			want:   ErrToolStale,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, tt.stderr)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify() = %v, want wrapped %v", got, tt.want)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if got := classify(nil, ""); got != nil {
		t.Errorf("classify(nil) = %v", got)
	}
}

func TestClassifyGenericIncludesStderrExcerpt(t *testing.T) {
	got := classify(errors.New("wait: something broke"), "ERROR: some transient network failure")
	if got == nil || !strings.Contains(got.Error(), "network failure") {
		t.Errorf("classify() = %v, want stderr excerpt included", got)
	}
}

func TestStderrTailKeepsRecentLines(t *testing.T) {
	tail := newStderrTail(3)
	for _, line := range []string{"one", "", "two", "  three  ", "four"} {
		tail.add(line)
	}
	want := "two\nthree\nfour"
	if got := tail.String(); got != want {
		t.Errorf("tail = %q, want %q", got, want)
	}
}
