package ytdlp

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"downloader/internal/core/fetch"
	"downloader/internal/core/job"
)

// flatDump mirrors the fields we use from `yt-dlp --flat-playlist -J`.
type flatDump struct {
	Type          string      `json:"_type"`
	Title         string      `json:"title"`
	PlaylistCount int         `json:"playlist_count"`
	Entries       []flatEntry `json:"entries"`
}

type flatEntry struct {
	URL           string  `json:"url"`
	Title         string  `json:"title"`
	Duration      float64 `json:"duration"`
	PlaylistIndex int     `json:"playlist_index"`
}

type playlistEntry struct {
	URL      string
	Title    string
	Duration int
	Index    int
}

type videoMetadata struct {
	Title    string
	Duration int
}

func parseResolution(data []byte) (*fetch.Resolution, error) {
	var dump flatDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, err
	}
	if dump.Type == "playlist" {
		count := dump.PlaylistCount
		if count == 0 {
			count = len(dump.Entries)
		}
		return &fetch.Resolution{Kind: job.KindPlaylist, ItemCountHint: count, Title: dump.Title}, nil
	}
	if dump.Title == "" {
		return nil, errors.New("ytdlp: dump has no title")
	}
	return &fetch.Resolution{Kind: job.KindVideo, ItemCountHint: 1, Title: dump.Title}, nil
}

func parsePlaylistEntries(data []byte) ([]playlistEntry, error) {
	var dump flatDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, err
	}
	entries := make([]playlistEntry, 0, len(dump.Entries))
	for _, e := range dump.Entries {
		if e.URL == "" {
			continue
		}
		entries = append(entries, playlistEntry{
			URL:      e.URL,
			Title:    e.Title,
			Duration: int(e.Duration),
			Index:    e.PlaylistIndex,
		})
	}
	if len(entries) == 0 {
		return nil, errors.New("ytdlp: no entries in playlist dump")
	}
	return entries, nil
}

func parseVideoMetadata(data []byte) (*videoMetadata, error) {
	var raw struct {
		Title    string  `json:"title"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Title == "" {
		raw.Title = "unknown"
	}
	return &videoMetadata{Title: raw.Title, Duration: int(raw.Duration)}, nil
}

var progressRe = regexp.MustCompile(`\[download\]\s+([0-9.]+)%`)

// parseProgressLine extracts the percentage from a `[download]  42.3% ...`
// line emitted with --progress --newline.
func parseProgressLine(line string) (float64, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// scanDownloadOutput consumes a download's stdout line by line, reporting
// each progress percentage. It returns the final file path emitted by
// `--print after_move:filepath`, or "" when no such line appeared. Bracketed
// status lines are yt-dlp's own logging and never a path.
func scanDownloadOutput(r io.Reader, onPercent func(float64)) string {
	scanner := bufio.NewScanner(r)
	var dest string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if pct, ok := parseProgressLine(line); ok {
			onPercent(pct)
			continue
		}
		if line != "" && !strings.HasPrefix(line, "[") {
			dest = line
		}
	}
	return dest
}

var invalidPathChars = strings.NewReplacer(
	"/", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
	"<", "_", ">", "_", "\"", "_", ":", "_",
)

// sanitizeTitle approximates yt-dlp's filename sanitization so the stored
// file path matches what the tool writes.
func sanitizeTitle(title string) string {
	return invalidPathChars.Replace(title)
}
