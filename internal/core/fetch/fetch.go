// Package fetch defines the boundary to the media retrieval engine. The
// scheduler only sees this interface; the concrete yt-dlp adapter lives in
// internal/platform/ytdlp.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"downloader/internal/core/job"
)

// ErrUnresolvable means the source URL could not even be probed.
var ErrUnresolvable = errors.New("fetch: unresolvable source")

// ErrorKind classifies unrecoverable fetch failures.
type ErrorKind string

const (
	KindNetwork  ErrorKind = "network"
	KindNotFound ErrorKind = "not_found"
	KindQuota    ErrorKind = "quota"
	KindDisk     ErrorKind = "disk"
)

// Error is an unrecoverable retrieval failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("fetch: %s: %s", e.Kind, e.Message) }

// Resolution is the result of a cheap metadata probe.
type Resolution struct {
	Kind          job.Kind `json:"kind"`
	ItemCountHint int      `json:"item_count_hint"`
	Title         string   `json:"title,omitempty"`
}

// Request describes one retrieval run.
type Request struct {
	URL       string
	OutputDir string
	Kind      job.Kind
	// MaxItems caps how many playlist entries are downloaded; 0 means no cap.
	MaxItems int
}

// Progress is a partial update reported while a fetch runs. Completed counts
// fully downloaded items; Total may be 0 until known.
type Progress struct {
	Completed int
	Total     int
	BytesDone int64
	Message   string
}

// Item is one successfully retrieved piece of media.
type Item struct {
	SourceURL       string
	Title           string
	DurationSeconds int
	FilePath        string
	SizeBytes       int64
	// SequenceIndex is the playlist position, nil for single videos.
	SequenceIndex *int
}

// Fetcher retrieves media. Implementations must observe ctx cancellation
// promptly and return the items completed so far when interrupted.
type Fetcher interface {
	// Resolve probes url without downloading. Returns ErrUnresolvable when
	// the source cannot be inspected.
	Resolve(ctx context.Context, url string) (*Resolution, error)

	// Fetch retrieves the media described by req, invoking onProgress zero or
	// more times. On an unrecoverable failure it returns a *Error; individual
	// unavailable playlist entries are skipped, not treated as failure.
	Fetch(ctx context.Context, req Request, onProgress func(Progress)) ([]Item, error)
}
