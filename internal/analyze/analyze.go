// Package analyze runs a batch of recordings through separation, pitch
// tracking and melody statistics, and merges the results into the
// persisted result table.
package analyze

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/peterliang117/MyPitch/internal/audio"
	"github.com/peterliang117/MyPitch/internal/melody"
	"github.com/peterliang117/MyPitch/internal/pitch"
	"github.com/peterliang117/MyPitch/internal/report"
	"github.com/peterliang117/MyPitch/internal/separate"
	"github.com/peterliang117/MyPitch/internal/store"
	"github.com/peterliang117/MyPitch/internal/table"
	"github.com/peterliang117/MyPitch/internal/util"
)

// SupportedExtensions are the input formats accepted for analysis
var SupportedExtensions = []string{".mp3", ".wav"}

// ScratchPrefix names the per-run directory holding separation output
const ScratchPrefix = "mypitch_sep_"

// TimestampLayout formats analyzed_at as UTC with microseconds and an
// explicit offset, e.g. 2024-05-01T09:30:00.123456+00:00
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// Config holds analyzer configuration
type Config struct {
	Loader            audio.Loader
	Pitch             pitch.Source
	Separator         separate.Separator
	DisableSeparation bool

	Store    *store.Store        // optional run ledger
	Logger   *report.EventLogger // optional JSONL event log
	Progress bool                // draw a progress bar when stderr is a terminal

	ScratchDir string // parent of the per-run scratch dir; os.TempDir() when empty
	Now        func() time.Time
}

// Analyzer processes batches of input files
type Analyzer struct {
	loader     audio.Loader
	pitch      pitch.Source
	separator  separate.Separator
	separation bool
	store      *store.Store
	logger     *report.EventLogger
	progress   bool
	scratchDir string
	now        func() time.Time
	extensions map[string]bool
}

// New creates a new Analyzer
func New(cfg *Config) *Analyzer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	extMap := make(map[string]bool)
	for _, ext := range SupportedExtensions {
		extMap[ext] = true
	}

	return &Analyzer{
		loader:     cfg.Loader,
		pitch:      cfg.Pitch,
		separator:  cfg.Separator,
		separation: !cfg.DisableSeparation && cfg.Separator != nil,
		store:      cfg.Store,
		logger:     cfg.Logger,
		progress:   cfg.Progress,
		scratchDir: cfg.ScratchDir,
		now:        now,
		extensions: extMap,
	}
}

// Outcome is the result of one input file
type Outcome struct {
	Input          string // argument as given
	SourcePath     string // canonical path; empty when the input was rejected
	Row            *table.Row
	Stats          *melody.Stats
	UsedSeparation bool
	Tags           audio.Tags
	Duration       float64 // seconds of decoded audio
	Elapsed        time.Duration
	Err            error
	Reason         string // "<name>: <cause>" for failures
}

// OK reports whether the file produced a row
func (o *Outcome) OK() bool {
	return o.Err == nil
}

// Result is the outcome of a batch
type Result struct {
	RunID    string
	Output   string // resolved output table path
	Summary  *report.Summary
	Outcomes []*Outcome
}

// Run analyzes files in order and merges successful rows into the table at
// outputPath. Per-file problems become failure entries in the summary; only
// table I/O, scratch setup and cancellation return an error.
func (a *Analyzer) Run(ctx context.Context, files []string, outputPath string) (*Result, error) {
	rows, err := table.Load(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load result table: %w", err)
	}
	util.DebugLog("Loaded %d existing rows from %s", len(rows), outputPath)

	scratch, err := os.MkdirTemp(a.scratchDir, ScratchPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			util.WarnLog("Failed to remove scratch directory %s: %v", scratch, err)
		}
	}()

	summary := report.NewSummary(outputPath)
	result := &Result{
		Summary:  summary,
		Outcomes: make([]*Outcome, 0, len(files)),
	}

	runID := a.beginRun(outputPath, len(files))
	result.RunID = runID
	a.logger.SetRunID(runID)
	a.logger.LogRun("start", outputPath, len(files))

	bar := a.newProgressBar(len(files))

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			a.finishRun(runID, summary, err)
			return nil, err
		}
		if bar != nil {
			bar.Describe(filepath.Base(f))
		}

		outcome := a.processFile(ctx, f, scratch, summary)
		result.Outcomes = append(result.Outcomes, outcome)

		if outcome.OK() {
			rows.Merge(outcome.Row)
			summary.Added++
			summary.Logf("analyzed: %s", filepath.Base(f))
			util.InfoLog("analyzed: %s", filepath.Base(f))
		} else {
			summary.Fail(outcome.Reason)
			util.WarnLog("%s", outcome.Reason)
		}

		a.recordOutcome(runID, outcome)

		if bar != nil {
			bar.Add(1)
		}
	}

	if bar != nil {
		bar.Finish()
	}

	if err := table.Save(outputPath, rows); err != nil {
		a.logger.LogSave(outputPath, len(rows), err)
		a.finishRun(runID, summary, err)
		return nil, fmt.Errorf("failed to write result table: %w", err)
	}
	a.logger.LogSave(outputPath, len(rows), nil)

	resolved, err := util.CanonicalPath(outputPath)
	if err != nil {
		resolved = outputPath
	}
	summary.Output = resolved
	result.Output = resolved

	a.finishRun(runID, summary, nil)
	a.logger.LogRun("finish", resolved, len(files))

	return result, nil
}

// processFile validates and analyzes one input. It never returns a nil outcome.
func (a *Analyzer) processFile(ctx context.Context, input, scratch string, summary *report.Summary) *Outcome {
	start := time.Now()
	outcome := &Outcome{Input: input}
	name := filepath.Base(input)

	fail := func(reason string, err error) *Outcome {
		outcome.Err = err
		outcome.Reason = reason
		outcome.Elapsed = time.Since(start)
		return outcome
	}

	if !util.FileExists(input) {
		a.logger.LogSkip(input, input+": file not found")
		return fail(input+": file not found", util.ErrFileNotFound)
	}

	if !a.isSupported(input) {
		a.logger.LogSkip(input, name+": unsupported extension")
		return fail(name+": unsupported extension", util.ErrUnsupportedFormat)
	}

	sourcePath, err := util.CanonicalPath(input)
	if err != nil {
		return fail(fmt.Sprintf("%s: %v", name, err), err)
	}
	outcome.SourcePath = sourcePath

	pitchInput := sourcePath
	if a.separation {
		sepStart := time.Now()
		res := a.separator.Separate(ctx, sourcePath, scratch)
		summary.Logs = append(summary.Logs, res.Message)
		if res.Used {
			util.InfoLog("%s", res.Message)
		} else {
			util.WarnLog("%s", res.Message)
			util.DebugLog("Separation fallback for %s: %v", name, res.Err)
		}
		a.logger.LogSeparation(sourcePath, res.Path, res.Used, res.Message, time.Since(sepStart))
		pitchInput = res.Path
		outcome.UsedSeparation = res.Used
	} else {
		summary.Logf("skip separation (--no-sep): %s", name)
		util.InfoLog("skip separation (--no-sep): %s", name)
	}

	stats, duration, err := a.analyzeAudio(ctx, sourcePath, pitchInput)
	if err != nil {
		return fail(fmt.Sprintf("%s: %v", name, err), err)
	}

	outcome.Stats = stats
	outcome.Duration = duration
	outcome.Row = table.NewRow(util.FileStem(input), sourcePath, stats, a.now().UTC().Format(TimestampLayout))
	outcome.Elapsed = time.Since(start)

	if a.store != nil {
		tags, err := audio.ReadTags(sourcePath)
		if err != nil {
			util.DebugLog("No tags for %s: %v", name, err)
		}
		outcome.Tags = tags
	}

	fileKey, _ := util.GenerateFileKey(sourcePath)
	a.logger.LogAnalyze(fileKey, sourcePath, outcome.UsedSeparation,
		stats.MelodyLowMIDI, stats.MelodyHighMIDI, stats.HighNoteCount, outcome.Elapsed)

	return outcome
}

// analyzeAudio decodes pitchInput and computes its melody statistics
func (a *Analyzer) analyzeAudio(ctx context.Context, sourcePath, pitchInput string) (*melody.Stats, float64, error) {
	waveform, err := a.loader.Load(ctx, pitchInput)
	if err != nil {
		a.logger.LogError(report.EventDecode, sourcePath, err)
		return nil, 0, err
	}

	pitchStart := time.Now()
	curve, err := a.pitch.Extract(ctx, waveform.Samples, waveform.SampleRate)
	if err == nil && curve == nil {
		err = util.ErrPitchExtraction
	}
	if err != nil {
		a.logger.LogError(report.EventPitch, sourcePath, err)
		return nil, 0, err
	}

	stats, err := melody.Analyze(curve)
	voiced := 0
	if stats != nil {
		voiced = stats.VoicedFrames
	}
	a.logger.LogPitch(sourcePath, curve.Frames(), voiced, time.Since(pitchStart))
	if err != nil {
		a.logger.LogError(report.EventAnalyze, sourcePath, err)
		return nil, 0, err
	}

	return stats, waveform.Duration(), nil
}

// isSupported checks the extension, ignoring case
func (a *Analyzer) isSupported(path string) bool {
	return a.extensions[strings.ToLower(filepath.Ext(path))]
}

func (a *Analyzer) newProgressBar(total int) *progressbar.ProgressBar {
	if !a.progress || total == 0 || util.IsQuiet() || !util.IsTerminal(os.Stderr.Fd()) {
		return nil
	}

	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Analyzing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// beginRun opens a ledger run; ledger failures only cost history
func (a *Analyzer) beginRun(outputPath string, total int) string {
	if a.store == nil {
		return ""
	}
	run, err := a.store.BeginRun(outputPath, a.separation, total)
	if err != nil {
		util.WarnLog("Run history unavailable: %v", err)
		return ""
	}
	return run.ID
}

func (a *Analyzer) recordOutcome(runID string, o *Outcome) {
	if a.store == nil || runID == "" {
		return
	}

	fr := &store.FileResult{
		RunID:          runID,
		InputPath:      o.Input,
		SourcePath:     o.SourcePath,
		Status:         store.FileStatusAdded,
		Reason:         o.Reason,
		UsedSeparation: o.UsedSeparation,
		TagTitle:       o.Tags.Title,
		TagArtist:      o.Tags.Artist,
		DurationMs:     int64(o.Duration * 1000),
		ElapsedMs:      o.Elapsed.Milliseconds(),
	}
	if !o.OK() {
		fr.Status = store.FileStatusFailed
	}
	if o.Stats != nil {
		fr.VoicedFrames = o.Stats.VoicedFrames
		fr.MelodyLowMIDI = o.Stats.MelodyLowMIDI
		fr.MelodyHighMIDI = o.Stats.MelodyHighMIDI
		fr.HighNoteCount = o.Stats.HighNoteCount
	}
	if o.SourcePath != "" {
		fr.FileKey, _ = util.GenerateFileKey(o.SourcePath)
	}

	if err := a.store.RecordFileResult(fr); err != nil {
		util.WarnLog("Failed to record %s in run history: %v", o.Input, err)
	}
}

func (a *Analyzer) finishRun(runID string, summary *report.Summary, runErr error) {
	if a.store == nil || runID == "" {
		return
	}
	if err := a.store.FinishRun(runID, summary.Added, len(summary.Failed), runErr); err != nil {
		util.WarnLog("Failed to close run %s: %v", runID, err)
	}
}
