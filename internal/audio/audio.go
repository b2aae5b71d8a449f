// Package audio loads recordings as mono float waveforms at the analysis
// sample rate and reads their descriptive tags.
package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/peterliang117/MyPitch/internal/util"
)

// Waveform is mono audio with samples in [-1, 1]
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the waveform length in seconds
func (w *Waveform) Duration() float64 {
	if w == nil || w.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Loader decodes an audio file into a Waveform
type Loader interface {
	Load(ctx context.Context, path string) (*Waveform, error)
}

// FileLoader decodes WAV files in-process and hands everything else, or WAV
// files at another sample rate, to ffmpeg first
type FileLoader struct {
	SampleRate int
	FFmpeg     string
	TempDir    string // where ffmpeg intermediates go; os.TempDir() when empty
}

// NewFileLoader creates a FileLoader targeting sampleRate
func NewFileLoader(sampleRate int, ffmpegBin string) *FileLoader {
	if ffmpegBin == "" {
		ffmpegBin = DefaultFFmpeg
	}
	return &FileLoader{SampleRate: sampleRate, FFmpeg: ffmpegBin}
}

// Load implements Loader
func (l *FileLoader) Load(ctx context.Context, path string) (*Waveform, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		w, err := ReadWAV(path)
		if err == nil && w.SampleRate == l.SampleRate {
			return w, nil
		}
		if err != nil {
			util.DebugLog("In-process WAV decode of %s failed, trying ffmpeg: %v", path, err)
		}
	}

	tmp, err := os.CreateTemp(l.TempDir, "mypitch-decode-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create decode buffer: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := Resample(ctx, l.FFmpeg, path, tmp.Name(), l.SampleRate); err != nil {
		return nil, err
	}

	w, err := ReadWAV(tmp.Name())
	if err != nil {
		return nil, err
	}
	if w.SampleRate != l.SampleRate {
		return nil, fmt.Errorf("%w: ffmpeg produced %d Hz, expected %d Hz", util.ErrDecode, w.SampleRate, l.SampleRate)
	}
	return w, nil
}

// ReadWAV decodes a PCM WAV file, averaging channels down to mono
func ReadWAV(path string) (*Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return DecodeWAV(f)
}

// DecodeWAV decodes PCM WAV data from r
func DecodeWAV(r io.ReadSeeker) (*Waveform, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid PCM WAV stream", util.ErrDecode)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrDecode, err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("%w: missing format chunk", util.ErrDecode)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, fmt.Errorf("%w: invalid channel count %d", util.ErrDecode, channels)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", util.ErrDecode, bitDepth)
	}
	scale := float64(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += buf.Data[i*channels+c]
		}
		samples[i] = float64(sum) / float64(channels) / scale
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no audio frames", util.ErrDecode)
	}

	return &Waveform{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}
