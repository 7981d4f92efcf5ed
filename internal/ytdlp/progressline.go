package ytdlp

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// The tool reports incremental progress as human-readable lines such as
// "[download]  45.6% of 10.32MiB at 1.23MiB/s". Only the percentage is
// extracted; the raw line is preserved for diagnostics.
var percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

// ParseProgressLine extracts a percentage from one line of tool output.
func ParseProgressLine(line string) (float64, bool) {
	match := percentPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	if percent < 0 || percent > 100 {
		return 0, false
	}
	return percent, true
}

// SanitizeFilename strips characters that are unsafe in download filenames
// and caps the length.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "video"
	}
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	cleaned := strings.TrimSpace(replacer.Replace(name))
	if len(cleaned) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = strings.TrimSpace(cleaned[:cut])
	}
	if cleaned == "" {
		return "video"
	}
	return cleaned
}
