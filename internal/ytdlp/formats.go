package ytdlp

import "sort"

// Preset maps a short id to a declarative format-selection expression.
type Preset struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Format string `json:"format"`
}

// Presets returns the fixed preset table offered alongside per-URL formats.
func Presets() []Preset {
	return []Preset{
		{ID: "best", Label: "Best Quality (best video + best audio)", Format: "b"},
		{ID: "720p", Label: "720p HD", Format: "bestvideo[height<=720]+bestaudio/best[height<=720]"},
		{ID: "480p", Label: "480p", Format: "bestvideo[height<=480]+bestaudio/best[height<=480]"},
		{ID: "360p", Label: "360p (Low bandwidth)", Format: "bestvideo[height<=360]+bestaudio/best[height<=360]"},
		{ID: "audio", Label: "Audio Only (MP3)", Format: "bestaudio"},
	}
}

// FormatsResult is the /formats payload: the preset table plus the filtered
// per-URL format list. Note is set when specific formats could not be
// loaded; the presets always remain usable.
type FormatsResult struct {
	Presets []Preset `json:"presets"`
	Formats []Format `json:"formats"`
	Note    string   `json:"note,omitempty"`
}

const maxListedFormats = 20

// BuildFormats filters the raw format list down to entries carrying both
// audio and video, sorted by resolution descending.
func BuildFormats(info *Info) FormatsResult {
	result := FormatsResult{Presets: Presets(), Formats: []Format{}}
	if info == nil || len(info.Formats) == 0 {
		result.Note = "No individual formats detected. Use presets above."
		return result
	}

	for _, f := range info.Formats {
		if f.VCodec == "" || f.VCodec == "none" || f.ACodec == "" || f.ACodec == "none" {
			continue
		}
		if f.Resolution == "" {
			f.Resolution = "unknown"
		}
		result.Formats = append(result.Formats, f)
	}

	sort.SliceStable(result.Formats, func(i, j int) bool {
		return resolutionHeight(result.Formats[i].Resolution) > resolutionHeight(result.Formats[j].Resolution)
	})
	if len(result.Formats) > maxListedFormats {
		result.Formats = result.Formats[:maxListedFormats]
	}
	if len(result.Formats) == 0 {
		result.Note = "No individual formats detected. Use presets above."
	}
	return result
}

// FormatsUnavailable is the fallback when the metadata fetch itself failed:
// presets only, with a note instead of an error.
func FormatsUnavailable() FormatsResult {
	return FormatsResult{
		Presets: Presets(),
		Formats: []Format{},
		Note:    "Could not load specific formats. Using presets.",
	}
}

// resolutionHeight extracts the vertical pixel count from strings like
// "1920x1080" or "720p"; unknown layouts sort last.
func resolutionHeight(resolution string) int {
	digits := 0
	start := -1
	for i := len(resolution) - 1; i >= 0; i-- {
		ch := resolution[i]
		if ch >= '0' && ch <= '9' {
			start = i
			digits++
			continue
		}
		if digits > 0 {
			break
		}
	}
	if digits == 0 {
		return 0
	}
	height := 0
	for _, ch := range resolution[start : start+digits] {
		height = height*10 + int(ch-'0')
	}
	return height
}
