package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrFileNotFound indicates an input path does not exist
	ErrFileNotFound = errors.New("file not found")

	// ErrUnsupportedFormat indicates an input extension is not analyzable
	ErrUnsupportedFormat = errors.New("unsupported extension")

	// ErrSeparationUnavailable indicates vocal isolation could not be used.
	// It is always recovered by falling back to the original audio.
	ErrSeparationUnavailable = errors.New("separation unavailable")

	// ErrInsufficientData indicates too few confidently voiced frames
	ErrInsufficientData = errors.New("too few voiced frames for stable analysis")

	// ErrPitchExtraction indicates the pitch tracker produced no usable output
	ErrPitchExtraction = errors.New("pitch tracker returned no output")

	// ErrDecode indicates audio could not be decoded into a waveform
	ErrDecode = errors.New("audio decode failed")

	// ErrCorrupt indicates a persisted file is corrupt or unreadable
	ErrCorrupt = errors.New("corrupt file")

	// ErrNotFound indicates a required resource (usually an executable) was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
