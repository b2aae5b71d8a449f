// Package melody converts a voiced pitch curve into the vocal-range
// statistics stored for each song: percentile range, high-note threshold,
// and sustained high-note segments.
package melody

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/peterliang117/MyPitch/internal/pitch"
	"github.com/peterliang117/MyPitch/internal/util"
)

// AnalysisVersion tags rows produced by this algorithm
const AnalysisVersion = "v1.0-pyin"

// Fixed analysis constants. They are not exposed as configuration yet;
// changing any of them should bump AnalysisVersion.
const (
	// VoicedProbThreshold is the minimum voicing confidence for a frame to count
	VoicedProbThreshold = 0.7

	// MinVoicedFrames is the minimum number of retained frames for stable statistics
	MinVoicedFrames = 20

	// HighNoteOffset is how many semitones below melody_high a frame still counts as high
	HighNoteOffset = 2

	// GapTolerance is the longest run of non-high frames merged into a segment
	GapTolerance = 80 * time.Millisecond

	// MinSegmentDuration is the shortest span that counts as a sustained high note
	MinSegmentDuration = 200 * time.Millisecond

	referenceMIDI = 69.0
	referenceHz   = 440.0
)

// Stats holds the vocal-range statistics of one song
type Stats struct {
	MelodyLowMIDI   int
	MelodyHighMIDI  int
	ChorusLowMIDI   int
	ChorusHighMIDI  int
	HighNoteCount   int
	HighNoteMaxMIDI int
	HighNoteTotalMs int

	VoicedFrames int
	FrameMs      float64
}

// HzToMIDI converts a frequency to a fractional MIDI pitch
func HzToMIDI(hz float64) float64 {
	return referenceMIDI + 12*math.Log2(hz/referenceHz)
}

// VoicedMIDI applies the voicing filter to curve and returns the MIDI pitch
// of each retained frame, in frame order
func VoicedMIDI(curve *pitch.Curve) []float64 {
	midi := make([]float64, 0, curve.Frames())
	for i, f := range curve.F0 {
		if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
			continue
		}
		if i >= len(curve.Voiced) || !curve.Voiced[i] {
			continue
		}
		if i >= len(curve.VoicedProb) || curve.VoicedProb[i] < VoicedProbThreshold {
			continue
		}
		midi = append(midi, HzToMIDI(f))
	}
	return midi
}

// Analyze computes Stats for curve. It fails with util.ErrInsufficientData
// when fewer than MinVoicedFrames frames survive the voicing filter.
func Analyze(curve *pitch.Curve) (*Stats, error) {
	if curve == nil || curve.Frames() == 0 {
		return nil, util.ErrPitchExtraction
	}
	if curve.SampleRate <= 0 || curve.HopLength <= 0 {
		return nil, fmt.Errorf("%w: curve has no timing information", util.ErrPitchExtraction)
	}

	midi := VoicedMIDI(curve)
	if len(midi) < MinVoicedFrames {
		util.DebugLog("%d of %d frames voiced, need %d", len(midi), curve.Frames(), MinVoicedFrames)
		return nil, util.ErrInsufficientData
	}

	sorted := make([]float64, len(midi))
	copy(sorted, midi)
	sort.Float64s(sorted)

	low := Round(Percentile(sorted, 1))
	high := Round(Percentile(sorted, 99))
	peak := Round(Percentile(sorted, 99.5))

	threshold := float64(high - HighNoteOffset)
	isHigh := make([]bool, len(midi))
	highFrames := 0
	for i, m := range midi {
		if m >= threshold {
			isHigh[i] = true
			highFrames++
		}
	}

	frameMs := FrameMs(curve.HopLength, curve.SampleRate)

	return &Stats{
		MelodyLowMIDI:   low,
		MelodyHighMIDI:  high,
		ChorusLowMIDI:   low,
		ChorusHighMIDI:  high,
		HighNoteCount:   ContiguousHighNoteSegments(isHigh, frameMs),
		HighNoteMaxMIDI: peak,
		HighNoteTotalMs: Round(float64(highFrames) * frameMs),
		VoicedFrames:    len(midi),
		FrameMs:         frameMs,
	}, nil
}

// FrameMs returns the duration of one hop in milliseconds
func FrameMs(hopLength, sampleRate int) float64 {
	return float64(hopLength) / float64(sampleRate) * 1000
}

// Round rounds half away from zero and converts to int
func Round(x float64) int {
	return int(math.Round(x))
}
