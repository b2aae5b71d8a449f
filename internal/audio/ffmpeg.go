package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/peterliang117/MyPitch/internal/util"
)

// DefaultFFmpeg is the ffmpeg executable looked up in PATH
const DefaultFFmpeg = "ffmpeg"

// Resample decodes in with ffmpeg into a mono 16-bit PCM WAV at sampleRate
func Resample(ctx context.Context, ffmpegBin, in, out string, sampleRate int) error {
	bin, err := exec.LookPath(ffmpegBin)
	if err != nil {
		return fmt.Errorf("%w: %s not found in PATH", util.ErrDecode, ffmpegBin)
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%w: ffmpeg: %s", util.ErrDecode, msg)
	}

	return nil
}

// CheckFFmpegAvailable checks if ffmpeg is available in PATH
func CheckFFmpegAvailable(ffmpegBin string) bool {
	_, err := exec.LookPath(ffmpegBin)
	return err == nil
}
