// Package ytdlp orchestrates the external media-fetch tool: metadata
// lookups, background extraction jobs, and direct-to-client streaming.
package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"clipstream/internal/jobs"
)

// RunSpec describes one subprocess invocation.
type RunSpec struct {
	Binary string
	Args   []string
	// OnStart receives the process handle once the subprocess is running.
	OnStart func(jobs.ProcessHandle)
	// OnLine receives each stdout line. When Stdout is set, stdout bytes go
	// there instead and OnLine only sees stderr.
	OnLine func(string)
	// OnErrLine receives each stderr line.
	OnErrLine func(string)
	// Stdout, when set, receives the raw stdout byte stream.
	Stdout io.Writer
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, spec RunSpec) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps invocations of the external media-fetch binary.
type Client struct {
	binary          string
	infoTimeout     time.Duration
	playlistTimeout time.Duration
	defaultFormat   string
	mergeFormat     string
	exec            Executor
}

// New constructs a client for the given binary.
func New(binary string, infoTimeoutSeconds, playlistTimeoutSeconds int, defaultFormat, mergeFormat string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("media tool binary required")
	}
	client := &Client{
		binary:          binary,
		infoTimeout:     time.Duration(infoTimeoutSeconds) * time.Second,
		playlistTimeout: time.Duration(playlistTimeoutSeconds) * time.Second,
		defaultFormat:   defaultFormat,
		mergeFormat:     mergeFormat,
		exec:            commandExecutor{},
	}
	if client.defaultFormat == "" {
		client.defaultFormat = "bv*+ba/b"
	}
	if client.mergeFormat == "" {
		client.mergeFormat = "mp4"
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// DefaultFormat returns the format expression used when none is requested.
func (c *Client) DefaultFormat() string { return c.defaultFormat }

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, spec RunSpec) error {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	if spec.OnStart != nil {
		spec.OnStart(cmd.Process)
	}

	var wg sync.WaitGroup
	var copyErr error
	var once sync.Once

	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if forward != nil {
				forward(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { copyErr = err })
		}
	}

	wg.Add(2)
	if spec.Stdout != nil {
		go func() {
			defer wg.Done()
			if _, err := io.Copy(spec.Stdout, stdout); err != nil {
				once.Do(func() { copyErr = err })
			}
		}()
	} else {
		go scan(stdout, spec.OnLine)
	}
	errForward := spec.OnErrLine
	if errForward == nil {
		errForward = spec.OnLine
	}
	go scan(stderr, errForward)

	wg.Wait()
	waitErr := cmd.Wait()
	if waitErr != nil {
		return waitErr
	}
	if copyErr != nil {
		return fmt.Errorf("relay output: %w", copyErr)
	}
	return nil
}

// exitCode extracts the subprocess exit code from a Run error, or -1 when
// the error is not an exit status (signal kill, spawn failure).
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
