package ytdlp

import "testing"

func TestBuildFormatsFiltersAndSorts(t *testing.T) {
	info := &Info{Formats: []Format{
		{FormatID: "va480", Resolution: "854x480", VCodec: "avc1", ACodec: "mp4a"},
		{FormatID: "video-only", Resolution: "1920x1080", VCodec: "avc1", ACodec: "none"},
		{FormatID: "audio-only", Resolution: "audio only", VCodec: "none", ACodec: "opus"},
		{FormatID: "va1080", Resolution: "1920x1080", VCodec: "avc1", ACodec: "mp4a"},
		{FormatID: "va720", Resolution: "1280x720", VCodec: "avc1", ACodec: "mp4a"},
	}}

	result := BuildFormats(info)
	if len(result.Presets) != 5 {
		t.Fatalf("presets = %d, want 5", len(result.Presets))
	}
	if result.Presets[0].ID != "best" || result.Presets[0].Format != "b" {
		t.Fatalf("best preset = %+v", result.Presets[0])
	}
	got := make([]string, 0, len(result.Formats))
	for _, f := range result.Formats {
		got = append(got, f.FormatID)
	}
	want := []string{"va1080", "va720", "va480"}
	if len(got) != len(want) {
		t.Fatalf("formats = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("formats = %v, want %v", got, want)
		}
	}
	if result.Note != "" {
		t.Errorf("unexpected note %q", result.Note)
	}
}

func TestBuildFormatsCapsList(t *testing.T) {
	info := &Info{}
	for i := 0; i < 40; i++ {
		info.Formats = append(info.Formats, Format{
			FormatID: "f", Resolution: "1280x720", VCodec: "avc1", ACodec: "mp4a",
		})
	}
	if got := len(BuildFormats(info).Formats); got != maxListedFormats {
		t.Errorf("formats = %d, want %d", got, maxListedFormats)
	}
}

func TestBuildFormatsEmptyNote(t *testing.T) {
	result := BuildFormats(&Info{})
	if result.Note == "" {
		t.Error("expected note for empty format list")
	}
	if result.Formats == nil {
		t.Error("formats should be an empty slice, not nil")
	}
}

func TestFormatsUnavailableKeepsPresets(t *testing.T) {
	result := FormatsUnavailable()
	if len(result.Presets) != 5 || result.Note == "" {
		t.Errorf("unexpected fallback: %+v", result)
	}
}

func TestResolutionHeight(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"1920x1080", 1080},
		{"1280x720", 720},
		{"720p", 720},
		{"audio only", 0},
		{"unknown", 0},
	}
	for _, tt := range tests {
		if got := resolutionHeight(tt.in); got != tt.want {
			t.Errorf("resolutionHeight(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
