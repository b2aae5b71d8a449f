// Package separate isolates the vocal stem of a recording with an external
// source-separation tool. Separation is best effort: every failure falls
// back to the original mixed audio.
package separate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterliang117/MyPitch/internal/util"
)

// Defaults for the demucs invocation
const (
	DefaultBinary = "demucs"
	DefaultModel  = "htdemucs"
	DefaultStem   = "vocals"

	// stderrLimit bounds how much tool output ends up in a log line
	stderrLimit = 200
)

// Result describes the audio chosen for pitch tracking
type Result struct {
	Path    string // isolated vocals, or the original input on fallback
	Used    bool   // true when Path is the isolated stem
	Message string // one diagnostic line for the run log
	Err     error  // wraps util.ErrSeparationUnavailable on fallback
}

// Separator isolates vocals from inputPath, writing under scratchRoot.
// Implementations never fail: they fall back to inputPath instead.
type Separator interface {
	Separate(ctx context.Context, inputPath, scratchRoot string) Result
}

// Demucs runs the demucs CLI in two-stem mode
type Demucs struct {
	Binary  string
	Model   string
	Timeout time.Duration // 0 means wait for the tool indefinitely
}

// NewDemucs creates a Demucs separator, filling in defaults for empty fields
func NewDemucs(binary, model string, timeout time.Duration) *Demucs {
	if binary == "" {
		binary = DefaultBinary
	}
	if model == "" {
		model = DefaultModel
	}
	return &Demucs{Binary: binary, Model: model, Timeout: timeout}
}

// OutputPath returns where demucs writes the vocal stem for inputPath
func (d *Demucs) OutputPath(inputPath, scratchRoot string) string {
	return filepath.Join(scratchRoot, d.Model, util.FileStem(inputPath), DefaultStem+".wav")
}

// Separate implements Separator
func (d *Demucs) Separate(ctx context.Context, inputPath, scratchRoot string) Result {
	name := filepath.Base(inputPath)

	if err := os.MkdirAll(scratchRoot, 0755); err != nil {
		return fallback(inputPath,
			fmt.Sprintf("demucs scratch dir unavailable for %s, fallback to original audio: %v", name, err), err)
	}

	bin, err := exec.LookPath(d.Binary)
	if err != nil {
		return fallback(inputPath,
			fmt.Sprintf("demucs not found, fallback to original audio: %s", name), util.ErrNotFound)
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin,
		"--two-stems", DefaultStem,
		"-n", d.Model,
		"-o", scratchRoot,
		inputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	util.DebugLog("Running %s", strings.Join(cmd.Args, " "))

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Start failures (permissions, vanished binary) look like a missing tool
			return fallback(inputPath,
				fmt.Sprintf("demucs not found, fallback to original audio: %s", name), err)
		}
		return fallback(inputPath,
			fmt.Sprintf("demucs failed for %s, fallback to original audio: %s", name, truncate(stderr.String(), stderrLimit)),
			err)
	}

	vocals := d.OutputPath(inputPath, scratchRoot)
	if _, err := os.Stat(vocals); err != nil {
		return fallback(inputPath,
			fmt.Sprintf("demucs output missing %s.wav for %s, fallback to original", DefaultStem, name), err)
	}

	return Result{
		Path:    vocals,
		Used:    true,
		Message: fmt.Sprintf("demucs ok: %s", name),
	}
}

// Available reports whether the demucs binary can be found
func (d *Demucs) Available() bool {
	_, err := exec.LookPath(d.Binary)
	return err == nil
}

func fallback(inputPath, message string, cause error) Result {
	return Result{
		Path:    inputPath,
		Used:    false,
		Message: message,
		Err:     fmt.Errorf("%w: %v", util.ErrSeparationUnavailable, cause),
	}
}

// truncate trims s and keeps at most limit characters
func truncate(s string, limit int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > limit {
		r = r[:limit]
	}
	return string(r)
}
