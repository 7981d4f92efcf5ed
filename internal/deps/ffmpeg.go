package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// CheckFFmpegForTool reports the FFmpeg binary the media tool will use when
// merging separate audio and video tracks.
//
// yt-dlp prefers an ffmpeg that sits next to its own executable and falls
// back to resolving "ffmpeg" from PATH. This helper mirrors that lookup so
// status output matches what the tool actually runs.
func CheckFFmpegForTool(toolCommand string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Used for merging audio and video tracks",
	}

	toolBinary := strings.TrimSpace(toolCommand)
	if toolBinary != "" {
		if resolved, err := exec.LookPath(toolBinary); err == nil {
			if candidate, ok := ffmpegSidecarCandidate(resolved); ok {
				if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
					result.Command = candidate
					result.Available = true
					return result
				}
			}
		}
	}

	ffmpegName := "ffmpeg"
	if ffmpegPath, err := exec.LookPath(ffmpegName); err == nil {
		result.Command = ffmpegPath
		result.Available = true
		return result
	}

	result.Command = ffmpegName
	result.Detail = fmt.Sprintf("binary %q not found", ffmpegName)
	return result
}

func ffmpegSidecarCandidate(toolPath string) (string, bool) {
	if toolPath == "" {
		return "", false
	}
	dir := filepath.Dir(toolPath)
	name := "ffmpeg"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(dir, name), true
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
