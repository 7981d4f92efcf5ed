package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Format describes one downloadable representation of the media.
type Format struct {
	FormatID   string  `json:"format_id"`
	Format     string  `json:"format"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution"`
	FPS        float64 `json:"fps"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
	Filesize   int64   `json:"filesize"`
}

// Info is the normalized metadata for a URL.
type Info struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Uploader        string   `json:"uploader"`
	DurationSeconds float64  `json:"duration"`
	Thumbnail       string   `json:"thumbnail"`
	Formats         []Format `json:"formats"`
	FilesizeApprox  int64    `json:"filesize_approx"`
	PlaylistCount   int      `json:"playlist_count"`
	EntryType       string   `json:"_type"`
}

// IsCollection reports whether the metadata describes a playlist.
func (i *Info) IsCollection() bool {
	return i.EntryType == "playlist" || i.PlaylistCount > 0
}

// EstimatedBytes returns the declared or approximated total size for the
// best matching format, or 0 when nothing is known.
func (i *Info) EstimatedBytes() int64 {
	if i.FilesizeApprox > 0 {
		return i.FilesizeApprox
	}
	var best int64
	for _, f := range i.Formats {
		if f.Filesize > best {
			best = f.Filesize
		}
	}
	return best
}

// IsCollectionURL applies a cheap URL heuristic so collection lookups get
// the longer timeout before any metadata exists.
func IsCollectionURL(url string) bool {
	return strings.Contains(url, "list=") || strings.Contains(url, "/playlist")
}

// FetchInfo invokes the tool in info-only mode and decodes its JSON
// output. Collection URLs get the longer timeout; on expiry the subprocess
// is killed by the context and the failure is reported as a timeout.
func (c *Client) FetchInfo(ctx context.Context, url string) (*Info, error) {
	timeout := c.infoTimeout
	args := []string{"-J", "--no-warnings"}
	if IsCollectionURL(url) {
		timeout = c.playlistTimeout
		args = append(args, "--yes-playlist", "--flat-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	args = append(args, url)

	fetchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout bytes.Buffer
	tail := newStderrTail(8)
	err := c.exec.Run(fetchCtx, RunSpec{
		Binary:    c.binary,
		Args:      args,
		Stdout:    &stdout,
		OnErrLine: tail.add,
	})
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			err = context.DeadlineExceeded
		}
		return nil, classify(err, tail.String())
	}

	var info Info
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &info, nil
}
