package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Sentinel errors used for classification at the HTTP boundary.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrTimeout     = errors.New("timeout")
	ErrToolMissing = errors.New("media tool not found")
	ErrToolStale   = errors.New("media tool out of date")
	ErrContent     = errors.New("content unavailable")
	ErrQuota       = errors.New("disk quota exceeded")
	ErrCancelled   = errors.New("job cancelled")
)

const stderrExcerptLimit = 200

// classify translates raw tool failures into stable, user-facing errors.
// The tool reports failures as free text on stderr, so matching is by
// substring against the captured tail of that output.
func classify(err error, stderrTail string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: metadata fetch exceeded its allowance; retry with a narrower scope", ErrTimeout)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: install it or set CLIPSTREAM_YTDLP to its location", ErrToolMissing)
	}

	text := strings.ToLower(stderrTail)
	switch {
	case strings.Contains(text, "age-restricted") || strings.Contains(text, "restricted"):
		return fmt.Errorf("%w: video is age-restricted and cannot be fetched without authentication", ErrContent)
	case strings.Contains(text, "unavailable") || strings.Contains(text, "not found") || strings.Contains(text, "removed"):
		return fmt.Errorf("%w: video is unavailable or has been removed", ErrContent)
	case strings.Contains(text, "signature extraction failed") || strings.Contains(text, "unable to extract"):
		return fmt.Errorf("%w: run 'yt-dlp -U' to update the extractor", ErrToolStale)
	}

	excerpt := strings.TrimSpace(stderrTail)
	if len(excerpt) > stderrExcerptLimit {
		excerpt = excerpt[:stderrExcerptLimit]
	}
	if code := exitCode(err); code >= 0 {
		if excerpt != "" {
			return fmt.Errorf("media tool exited with code %d: %s", code, excerpt)
		}
		return fmt.Errorf("media tool exited with code %d", code)
	}
	if excerpt != "" {
		return fmt.Errorf("media tool failed: %s: %w", excerpt, err)
	}
	return err
}

// stderrTailBuffer retains the last few stderr lines for error reporting.
type stderrTailBuffer struct {
	lines []string
	limit int
}

func newStderrTail(limit int) *stderrTailBuffer {
	if limit <= 0 {
		limit = 8
	}
	return &stderrTailBuffer{limit: limit}
}

func (b *stderrTailBuffer) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(b.lines) == b.limit {
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:b.limit-1]
	}
	b.lines = append(b.lines, line)
}

func (b *stderrTailBuffer) String() string {
	return strings.Join(b.lines, "\n")
}
