package job

import "time"

// Kind classifies what a job downloads: one video or a whole playlist.
type Kind string

const (
	KindVideo    Kind = "video"
	KindPlaylist Kind = "playlist"
)

// Status tracks a job through its lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is a legal transition.
// Queued may go to Running or straight to Cancelled; Running may reach any
// terminal state; terminal states are final.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// ErrorKind classifies job failures for callers that switch on them.
type ErrorKind string

const (
	ErrKindUnresolvable ErrorKind = "unresolvable_source"
	ErrKindFetch        ErrorKind = "fetch_error"
	ErrKindStore        ErrorKind = "store_error"
	ErrKindInterrupted  ErrorKind = "interrupted"
)

// Error is the structured failure recorded on a failed job.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Progress holds the counters a worker advances while fetching.
// ItemsTotal is nil until the source has been resolved.
type Progress struct {
	ItemsTotal     *int   `json:"items_total,omitempty"`
	ItemsCompleted int    `json:"items_completed"`
	BytesDone      int64  `json:"bytes_done,omitempty"`
	LastMessage    string `json:"last_message,omitempty"`
}

// Job is one tracked unit of requested work.
type Job struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	SourceURL  string     `json:"source_url"`
	OutputDir  string     `json:"output_dir"`
	Status     Status     `json:"status"`
	Progress   Progress   `json:"progress"`
	Error      *Error     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Item is one downloaded piece of media belonging to a job. SequenceIndex is
// the position within a playlist, nil for single videos.
type Item struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	SourceURL       string    `json:"source_url"`
	Title           string    `json:"title"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	FilePath        string    `json:"file_path"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
	SequenceIndex   *int      `json:"sequence_index,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
