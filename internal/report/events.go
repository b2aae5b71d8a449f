package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventRun      EventType = "run"
	EventSeparate EventType = "separate"
	EventDecode   EventType = "decode"
	EventPitch    EventType = "pitch"
	EventAnalyze  EventType = "analyze"
	EventSkip     EventType = "skip"
	EventSave     EventType = "save"
	EventError    EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in an analysis run
type Event struct {
	Timestamp      time.Time         `json:"ts"`
	Level          EventLevel        `json:"level"`
	Event          EventType         `json:"event"`
	RunID          string            `json:"run_id,omitempty"`
	FileKey        string            `json:"file_key,omitempty"`
	SrcPath        string            `json:"src_path,omitempty"`
	AudioPath      string            `json:"audio_path,omitempty"`
	UsedSeparation bool              `json:"used_separation,omitempty"`
	Message        string            `json:"message,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Duration       int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error          string            `json:"error,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
	runID    string
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Generate filename with timestamp
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	// Open file for writing
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	// Filter by minimum level
	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil // Skip events below minimum level
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// SetRunID tags every subsequent event with the given run id
func (l *EventLogger) SetRunID(runID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.runID = runID
	l.mu.Unlock()
}

// LogRun logs the start or end of a run
func (l *EventLogger) LogRun(phase, outputPath string, files int) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   EventRun,
		SrcPath: outputPath,
		Message: phase,
		Extra: map[string]string{
			"files": fmt.Sprintf("%d", files),
		},
	})
}

// LogSkip logs an input rejected before analysis
func (l *EventLogger) LogSkip(srcPath, reason string) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventSkip,
		SrcPath: srcPath,
		Reason:  reason,
	})
}

// LogSeparation logs the outcome of vocal separation for one file
func (l *EventLogger) LogSeparation(srcPath, audioPath string, used bool, message string, duration time.Duration) error {
	level := LevelInfo
	if !used {
		level = LevelWarning
	}

	return l.Log(&Event{
		Level:          level,
		Event:          EventSeparate,
		SrcPath:        srcPath,
		AudioPath:      audioPath,
		UsedSeparation: used,
		Message:        message,
		Duration:       duration.Milliseconds(),
	})
}

// LogPitch logs pitch tracking statistics for one file
func (l *EventLogger) LogPitch(srcPath string, frames, voiced int, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventPitch,
		SrcPath:  srcPath,
		Duration: duration.Milliseconds(),
		Extra: map[string]string{
			"frames": fmt.Sprintf("%d", frames),
			"voiced": fmt.Sprintf("%d", voiced),
		},
	})
}

// LogAnalyze logs a successfully analyzed file
func (l *EventLogger) LogAnalyze(fileKey, srcPath string, usedSeparation bool, low, high, highNotes int, duration time.Duration) error {
	return l.Log(&Event{
		Level:          LevelInfo,
		Event:          EventAnalyze,
		FileKey:        fileKey,
		SrcPath:        srcPath,
		UsedSeparation: usedSeparation,
		Duration:       duration.Milliseconds(),
		Extra: map[string]string{
			"melody_low_midi":  fmt.Sprintf("%d", low),
			"melody_high_midi": fmt.Sprintf("%d", high),
			"high_note_count":  fmt.Sprintf("%d", highNotes),
		},
	})
}

// LogSave logs the result table write
func (l *EventLogger) LogSave(outputPath string, rows int, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:   level,
		Event:   EventSave,
		SrcPath: outputPath,
		Error:   errMsg,
		Extra: map[string]string{
			"rows": fmt.Sprintf("%d", rows),
		},
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, srcPath string, err error) error {
	return l.Log(&Event{
		Level:   LevelError,
		Event:   event,
		SrcPath: srcPath,
		Error:   err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
