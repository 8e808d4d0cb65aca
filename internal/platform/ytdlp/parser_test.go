package ytdlp

import (
	"reflect"
	"strings"
	"testing"

	"downloader/internal/core/job"
)

func TestParseResolutionVideo(t *testing.T) {
	data := []byte(`{"title":"Some Clip","duration":213.5,"webpage_url":"https://example.com/watch?v=abc"}`)
	res, err := parseResolution(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Kind != job.KindVideo || res.ItemCountHint != 1 || res.Title != "Some Clip" {
		t.Errorf("resolution = %+v", res)
	}
}

func TestParseResolutionPlaylist(t *testing.T) {
	data := []byte(`{"_type":"playlist","title":"Mix","playlist_count":12,"entries":[{"url":"https://example.com/1"}]}`)
	res, err := parseResolution(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Kind != job.KindPlaylist || res.ItemCountHint != 12 || res.Title != "Mix" {
		t.Errorf("resolution = %+v", res)
	}
}

func TestParseResolutionPlaylistCountFallsBackToEntries(t *testing.T) {
	data := []byte(`{"_type":"playlist","title":"Mix","entries":[{"url":"a"},{"url":"b"}]}`)
	res, err := parseResolution(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.ItemCountHint != 2 {
		t.Errorf("item count hint = %d, want 2", res.ItemCountHint)
	}
}

func TestParseResolutionRejectsEmptyDump(t *testing.T) {
	if _, err := parseResolution([]byte(`{}`)); err == nil {
		t.Error("expected error for dump without title")
	}
}

func TestParsePlaylistEntries(t *testing.T) {
	data := []byte(`{"_type":"playlist","entries":[
		{"url":"https://example.com/1","title":"one","duration":61.2,"playlist_index":1},
		{"url":"","title":"private"},
		{"url":"https://example.com/3","title":"three","duration":180,"playlist_index":3}
	]}`)
	entries, err := parsePlaylistEntries(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (url-less entries skipped)", len(entries))
	}
	first := entries[0]
	if first.URL != "https://example.com/1" || first.Title != "one" || first.Duration != 61 || first.Index != 1 {
		t.Errorf("first entry = %+v", first)
	}
}

func TestParsePlaylistEntriesEmpty(t *testing.T) {
	if _, err := parsePlaylistEntries([]byte(`{"_type":"playlist","entries":[]}`)); err == nil {
		t.Error("expected error for playlist without usable entries")
	}
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		line string
		pct  float64
		ok   bool
	}{
		{"[download]   0.0% of 10.00MiB at 1.20MiB/s ETA 00:08", 0, true},
		{"[download]  42.3% of 10.00MiB at 1.20MiB/s ETA 00:05", 42.3, true},
		{"[download] 100% of 10.00MiB in 00:08", 100, true},
		{"[download] Destination: /tmp/clip.mp4", 0, false},
		{"[info] Writing video metadata", 0, false},
		{"", 0, false},
	}

	for _, test := range tests {
		pct, ok := parseProgressLine(test.line)
		if ok != test.ok || pct != test.pct {
			t.Errorf("parseProgressLine(%q) = (%v, %v), expected (%v, %v)",
				test.line, pct, ok, test.pct, test.ok)
		}
	}
}

func TestScanDownloadOutput(t *testing.T) {
	out := strings.Join([]string{
		"[download] Destination: /tmp/dl/Some Clip.webm",
		"[download]   0.0% of 10.00MiB at 1.20MiB/s ETA 00:08",
		"[download]  55.5% of 10.00MiB at 1.20MiB/s ETA 00:04",
		"[download] 100% of 10.00MiB in 00:08",
		"/tmp/dl/Some Clip.webm",
		"",
	}, "\n")

	var pcts []float64
	dest := scanDownloadOutput(strings.NewReader(out), func(pct float64) {
		pcts = append(pcts, pct)
	})
	if dest != "/tmp/dl/Some Clip.webm" {
		t.Errorf("dest = %q, want the printed filepath", dest)
	}
	want := []float64{0, 55.5, 100}
	if !reflect.DeepEqual(pcts, want) {
		t.Errorf("percentages = %v, want %v", pcts, want)
	}
}

func TestScanDownloadOutputWithoutFilepathLine(t *testing.T) {
	out := "[download]  42.3% of 10.00MiB at 1.20MiB/s ETA 00:05\n"
	if dest := scanDownloadOutput(strings.NewReader(out), func(float64) {}); dest != "" {
		t.Errorf("dest = %q, want empty when no path is printed", dest)
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain title", "plain title"},
		{"a/b\\c", "a_b_c"},
		{"what? why: <no>", "what_ why_ _no_"},
		{"pipes|and*stars\"", "pipes_and_stars_"},
	}

	for _, test := range tests {
		if got := sanitizeTitle(test.in); got != test.want {
			t.Errorf("sanitizeTitle(%q) = %q, expected %q", test.in, got, test.want)
		}
	}
}
