package pitch

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/peterliang117/MyPitch/internal/util"
	"gonum.org/v1/gonum/floats"
)

// Tracker is a YIN pitch tracker. The difference function of each frame is
// computed through an FFT cross-correlation, so the cost per frame is
// O(N log N) rather than O(N * maxLag).
type Tracker struct {
	cfg Config
}

// NewTracker creates a Tracker, validating cfg
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.FrameLength <= 0 || cfg.HopLength <= 0 {
		return nil, fmt.Errorf("%w: frame length %d and hop length %d must be positive",
			util.ErrInvalidConfig, cfg.FrameLength, cfg.HopLength)
	}
	if cfg.FMin <= 0 || cfg.FMax <= cfg.FMin {
		return nil, fmt.Errorf("%w: pitch range %.2f-%.2f Hz", util.ErrInvalidConfig, cfg.FMin, cfg.FMax)
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("%w: threshold %.3f must be in (0, 1)", util.ErrInvalidConfig, cfg.Threshold)
	}
	return &Tracker{cfg: cfg}, nil
}

// Extract implements Source. Frames are centered: the signal is zero-padded
// by half a frame on both ends, giving 1 + len(samples)/hop frames.
func (t *Tracker) Extract(ctx context.Context, samples []float64, sampleRate int) (*Curve, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty waveform", util.ErrPitchExtraction)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", util.ErrPitchExtraction, sampleRate)
	}

	n := t.cfg.FrameLength
	window := n / 2
	minLag := int(math.Floor(float64(sampleRate) / t.cfg.FMax))
	maxLag := int(math.Ceil(float64(sampleRate) / t.cfg.FMin))
	if minLag < 2 {
		minLag = 2
	}
	if maxLag >= n-window {
		return nil, fmt.Errorf("%w: frame length %d too short for %.2f Hz at %d Hz",
			util.ErrPitchExtraction, n, t.cfg.FMin, sampleRate)
	}

	padded := make([]float64, len(samples)+n)
	copy(padded[n/2:], samples)

	frames := 1 + len(samples)/t.cfg.HopLength
	curve := &Curve{
		F0:         make([]float64, frames),
		Voiced:     make([]bool, frames),
		VoicedProb: make([]float64, frames),
		SampleRate: sampleRate,
		HopLength:  t.cfg.HopLength,
	}

	diff := newDifference(n, window, maxLag)

	for i := 0; i < frames; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		start := i * t.cfg.HopLength
		frame := padded[start : start+n]

		curve.F0[i] = math.NaN()
		if floats.Norm(frame, 2)/math.Sqrt(float64(n)) < t.cfg.SilenceRMS {
			continue
		}

		cmnd := diff.cmnd(frame)
		lag, voiced := pickLag(cmnd, minLag, maxLag, t.cfg.Threshold)

		prob := 1 - cmnd[lag]
		curve.VoicedProb[i] = math.Max(0, math.Min(1, prob))
		if voiced {
			curve.Voiced[i] = true
			curve.F0[i] = float64(sampleRate) / refineLag(cmnd, lag, minLag, maxLag)
		}
	}

	return curve, nil
}

// difference holds scratch buffers for the cumulative mean normalized
// difference function of one frame
type difference struct {
	n, window, maxLag int
	fftLen            int
	head              []float64
	body              []float64
	prefix            []float64
	out               []float64
}

func newDifference(n, window, maxLag int) *difference {
	fftLen := 1
	for fftLen < n+window {
		fftLen <<= 1
	}
	return &difference{
		n:      n,
		window: window,
		maxLag: maxLag,
		fftLen: fftLen,
		head:   make([]float64, fftLen),
		body:   make([]float64, fftLen),
		prefix: make([]float64, n+1),
		out:    make([]float64, maxLag+1),
	}
}

// cmnd returns d'(tau) for tau in [0, maxLag]:
//
//	d(tau)  = sum_{j<W} (x[j] - x[j+tau])^2
//	d'(tau) = d(tau) * tau / sum_{k=1..tau} d(k), d'(0) = 1
func (d *difference) cmnd(frame []float64) []float64 {
	copy(d.head, frame[:d.window])
	copy(d.body, frame)

	// cross[tau] = sum_j head[j] * body[j+tau]
	a := fft.FFTReal(d.head)
	b := fft.FFTReal(d.body)
	for k := range a {
		a[k] = cmplx.Conj(a[k]) * b[k]
	}
	cross := fft.IFFT(a)

	d.prefix[0] = 0
	for j, v := range frame {
		d.prefix[j+1] = d.prefix[j] + v*v
	}
	headEnergy := d.prefix[d.window]

	d.out[0] = 1
	running := 0.0
	for tau := 1; tau <= d.maxLag; tau++ {
		tailEnergy := d.prefix[tau+d.window] - d.prefix[tau]
		v := headEnergy + tailEnergy - 2*real(cross[tau])
		if v < 0 {
			v = 0
		}
		running += v
		if running == 0 {
			d.out[tau] = 1
			continue
		}
		d.out[tau] = v * float64(tau) / running
	}

	return d.out
}

// pickLag returns the first lag whose normalized difference dips below
// threshold (descended to the bottom of that dip), or the global minimum in
// range with voiced=false when no dip qualifies.
func pickLag(cmnd []float64, minLag, maxLag int, threshold float64) (int, bool) {
	for tau := minLag; tau <= maxLag; tau++ {
		if cmnd[tau] < threshold {
			for tau+1 <= maxLag && cmnd[tau+1] < cmnd[tau] {
				tau++
			}
			return tau, true
		}
	}

	best := minLag
	for tau := minLag + 1; tau <= maxLag; tau++ {
		if cmnd[tau] < cmnd[best] {
			best = tau
		}
	}
	return best, false
}

// refineLag applies parabolic interpolation around lag
func refineLag(cmnd []float64, lag, minLag, maxLag int) float64 {
	if lag <= minLag || lag >= maxLag {
		return float64(lag)
	}
	s0, s1, s2 := cmnd[lag-1], cmnd[lag], cmnd[lag+1]
	denom := s0 - 2*s1 + s2
	if denom == 0 {
		return float64(lag)
	}
	shift := 0.5 * (s0 - s2) / denom
	if math.Abs(shift) > 1 {
		return float64(lag)
	}
	return float64(lag) + shift
}
