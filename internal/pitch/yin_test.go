package pitch

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/peterliang117/MyPitch/internal/util"
)

func sine(freq float64, seconds float64, sampleRate int) []float64 {
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker(DefaultConfig())
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	return tracker
}

func TestTrackerSine(t *testing.T) {
	tests := []struct {
		name string
		freq float64
	}{
		{"A3", 220},
		{"A4", 440},
		{"C6", NoteToHz(84)},
	}

	tracker := newTestTracker(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := sine(tt.freq, 1.0, DefaultSampleRate)
			curve, err := tracker.Extract(context.Background(), samples, DefaultSampleRate)
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}

			wantFrames := 1 + len(samples)/DefaultHopLength
			if curve.Frames() != wantFrames {
				t.Fatalf("Expected %d frames, got %d", wantFrames, curve.Frames())
			}
			if len(curve.Voiced) != wantFrames || len(curve.VoicedProb) != wantFrames {
				t.Fatalf("curve slices have mismatched lengths")
			}

			// Skip frames that overlap the zero padding
			edge := DefaultFrameLength / DefaultHopLength
			for i := edge; i < wantFrames-edge; i++ {
				if !curve.Voiced[i] {
					t.Fatalf("frame %d: expected voiced", i)
				}
				if math.Abs(curve.F0[i]-tt.freq)/tt.freq > 0.01 {
					t.Fatalf("frame %d: expected ~%.2f Hz, got %.2f Hz", i, tt.freq, curve.F0[i])
				}
				if curve.VoicedProb[i] < 0.9 {
					t.Fatalf("frame %d: expected high voicing confidence, got %.3f", i, curve.VoicedProb[i])
				}
			}
		})
	}
}

func TestTrackerSilence(t *testing.T) {
	tracker := newTestTracker(t)
	samples := make([]float64, DefaultSampleRate/2)

	curve, err := tracker.Extract(context.Background(), samples, DefaultSampleRate)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	for i := range curve.F0 {
		if curve.Voiced[i] {
			t.Fatalf("frame %d: silence should be unvoiced", i)
		}
		if !math.IsNaN(curve.F0[i]) {
			t.Fatalf("frame %d: expected NaN f0, got %f", i, curve.F0[i])
		}
		if curve.VoicedProb[i] != 0 {
			t.Fatalf("frame %d: expected zero confidence, got %f", i, curve.VoicedProb[i])
		}
	}
}

func TestTrackerErrors(t *testing.T) {
	tracker := newTestTracker(t)

	if _, err := tracker.Extract(context.Background(), nil, DefaultSampleRate); !errors.Is(err, util.ErrPitchExtraction) {
		t.Errorf("Expected ErrPitchExtraction for empty input, got %v", err)
	}

	if _, err := tracker.Extract(context.Background(), []float64{0.1}, 0); !errors.Is(err, util.ErrPitchExtraction) {
		t.Errorf("Expected ErrPitchExtraction for zero sample rate, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tracker.Extract(ctx, sine(220, 0.5, DefaultSampleRate), DefaultSampleRate); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNewTrackerValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FMax = cfg.FMin / 2
	if _, err := NewTracker(cfg); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for inverted range, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.HopLength = 0
	if _, err := NewTracker(cfg); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for zero hop, got %v", err)
	}
}

func TestNoteToHz(t *testing.T) {
	if got := NoteToHz(69); got != 440 {
		t.Errorf("NoteToHz(69) = %f, expected 440", got)
	}
	if got := DefaultFMin; math.Abs(got-65.406) > 0.01 {
		t.Errorf("C2 = %f, expected ~65.406", got)
	}
	if got := DefaultFMax; math.Abs(got-2093.005) > 0.01 {
		t.Errorf("C7 = %f, expected ~2093.005", got)
	}
}
