package store

import "time"

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// File result statuses
const (
	FileStatusAdded  = "added"
	FileStatusFailed = "failed"
)

// Run is one analyze invocation
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  *time.Time
	OutputPath  string
	Separation  bool
	FilesTotal  int
	FilesAdded  int
	FilesFailed int
	Status      string
	Error       string
}

// Duration returns the wall time of a finished run, or zero
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FileResult is the outcome of analyzing one input within a run
type FileResult struct {
	RunID          string
	Seq            int
	InputPath      string // argument as given
	SourcePath     string // canonical path, empty when the file was missing
	FileKey        string
	Status         string
	Reason         string
	UsedSeparation bool
	TagTitle       string
	TagArtist      string
	VoicedFrames   int
	MelodyLowMIDI  int
	MelodyHighMIDI int
	HighNoteCount  int
	DurationMs     int64
	ElapsedMs      int64
}
