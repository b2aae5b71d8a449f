// Package pitch turns a mono waveform into a per-frame fundamental
// frequency curve with voicing flags and voicing confidence.
package pitch

import (
	"context"
	"math"
)

// Default tracking parameters
const (
	DefaultSampleRate  = 22050
	DefaultFrameLength = 2048
	DefaultHopLength   = 256
)

// Analysis range: C2 to C7
var (
	DefaultFMin = NoteToHz(36)
	DefaultFMax = NoteToHz(96)
)

// Curve is the output of a pitch source. All slices have one entry per frame.
type Curve struct {
	F0         []float64 // Hz, NaN where undefined
	Voiced     []bool
	VoicedProb []float64 // [0, 1]
	SampleRate int
	HopLength  int
}

// Frames returns the number of frames in the curve
func (c *Curve) Frames() int {
	if c == nil {
		return 0
	}
	return len(c.F0)
}

// Source extracts a pitch curve from mono samples
type Source interface {
	Extract(ctx context.Context, samples []float64, sampleRate int) (*Curve, error)
}

// Config holds pitch tracker configuration
type Config struct {
	FrameLength int
	HopLength   int
	FMin        float64
	FMax        float64

	// Threshold on the normalized difference function below which a frame is voiced
	Threshold float64

	// Frames with RMS below this floor are treated as silence (unvoiced)
	SilenceRMS float64
}

// DefaultConfig returns the tracker configuration used by the analyzer
func DefaultConfig() Config {
	return Config{
		FrameLength: DefaultFrameLength,
		HopLength:   DefaultHopLength,
		FMin:        DefaultFMin,
		FMax:        DefaultFMax,
		Threshold:   0.15,
		SilenceRMS:  1e-3,
	}
}

// NoteToHz converts a MIDI note number to frequency (A4 = 69 = 440 Hz)
func NoteToHz(midi float64) float64 {
	return 440 * math.Pow(2, (midi-69)/12)
}
