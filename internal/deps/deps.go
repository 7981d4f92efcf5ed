// Package deps verifies the external binaries the service shells out to.
// The daemon runs these checks at startup and the CLI surfaces them in its
// status output.
package deps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Requirement defines one external binary the service relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Version     string
	Detail      string
}

// Requirements returns the dependency list for the given media tool binary.
func Requirements(toolBinary string) []Requirement {
	return []Requirement{
		{
			Name:        "yt-dlp",
			Command:     toolBinary,
			Description: "Required for metadata, downloads, and streaming",
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports
// availability. Versions are probed with a short timeout so a wedged binary
// cannot stall startup.
func CheckBinaries(ctx context.Context, requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Command = resolved
		status.Available = true
		status.Version = probeVersion(ctx, resolved)
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of required dependencies that are not
// available.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, s := range statuses {
		if !s.Optional && !s.Available {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

func probeVersion(ctx context.Context, binary string) string {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(probeCtx, binary, "--version") //nolint:gosec
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}
	version, _, _ := strings.Cut(strings.TrimSpace(out.String()), "\n")
	return version
}
