package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/peterliang117/MyPitch/internal/melody"
	"github.com/peterliang117/MyPitch/internal/store"
	"github.com/peterliang117/MyPitch/internal/util"
)

// RunReport is the markdown summary of one analysis run
type RunReport struct {
	GeneratedAt time.Time
	Run         *store.Run

	FilesAdded     int
	FilesFailed    int
	SeparatedCount int
	FallbackCount  int
	AnalysisTime   time.Duration

	// Vocal range across analyzed files, as MIDI numbers
	LowestNote  int
	HighestNote int

	Analyzed  []store.FileResult
	TopErrors []ErrorSummary

	DatabasePath string
	EventLogPath string
}

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// GenerateRunReport builds a report for the run with the given id or prefix.
// An empty id selects the latest run.
func GenerateRunReport(db *store.Store, runID string) (*RunReport, error) {
	var run *store.Run
	var err error
	if runID == "" {
		run, err = db.LatestRun()
		if err == nil && run == nil {
			err = fmt.Errorf("no runs recorded: %w", util.ErrNotFound)
		}
	} else {
		run, err = db.FindRun(runID)
	}
	if err != nil {
		return nil, err
	}

	results, err := db.GetFileResults(run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load file results: %w", err)
	}

	report := &RunReport{
		GeneratedAt: time.Now(),
		Run:         run,
		Analyzed:    make([]store.FileResult, 0),
	}

	reasons := make([]string, 0)
	for _, fr := range results {
		if fr.Status != store.FileStatusAdded {
			report.FilesFailed++
			reasons = append(reasons, stripFileName(fr.Reason))
			continue
		}

		report.FilesAdded++
		report.AnalysisTime += time.Duration(fr.ElapsedMs) * time.Millisecond
		if fr.UsedSeparation {
			report.SeparatedCount++
		} else {
			report.FallbackCount++
		}
		if report.LowestNote == 0 || fr.MelodyLowMIDI < report.LowestNote {
			report.LowestNote = fr.MelodyLowMIDI
		}
		if fr.MelodyHighMIDI > report.HighestNote {
			report.HighestNote = fr.MelodyHighMIDI
		}
		report.Analyzed = append(report.Analyzed, *fr)
	}

	// Highest first
	sort.SliceStable(report.Analyzed, func(i, j int) bool {
		return report.Analyzed[i].MelodyHighMIDI > report.Analyzed[j].MelodyHighMIDI
	})

	report.TopErrors = gatherTopErrors(reasons, 10)
	return report, nil
}

// stripFileName drops the "<name>: " prefix so equal causes group together
func stripFileName(reason string) string {
	if i := strings.Index(reason, ": "); i >= 0 {
		return reason[i+2:]
	}
	return reason
}

// gatherTopErrors counts failure causes, most common first
func gatherTopErrors(reasons []string, limit int) []ErrorSummary {
	errorCounts := make(map[string]int)
	for _, r := range reasons {
		if r != "" {
			errorCounts[r]++
		}
	}

	errors := make([]ErrorSummary, 0, len(errorCounts))
	for err, count := range errorCounts {
		errors = append(errors, ErrorSummary{Error: err, Count: count})
	}

	sort.Slice(errors, func(i, j int) bool {
		if errors[i].Count != errors[j].Count {
			return errors[i].Count > errors[j].Count
		}
		return errors[i].Error < errors[j].Error
	})

	if len(errors) > limit {
		errors = errors[:limit]
	}

	return errors
}

// NoteName renders a MIDI number as scientific pitch notation, e.g. 60 -> C4
func NoteName(midi int) string {
	names := [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	octave := midi/12 - 1
	idx := midi % 12
	if idx < 0 {
		idx += 12
		octave--
	}
	return fmt.Sprintf("%s%d", names[idx], octave)
}

// ReportFileName returns the default report file name for a run
func ReportFileName(run *store.Run) string {
	id := run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("run-%s-%s.md", run.StartedAt.Format("20060102-150405"), id)
}

// WriteMarkdownReport writes the run report as Markdown
func WriteMarkdownReport(report *RunReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	run := report.Run
	var md strings.Builder

	md.WriteString("# MyPitch Analyzer - Run Report\n\n")
	md.WriteString(fmt.Sprintf("**Run:** `%s`\n\n", run.ID))
	md.WriteString(fmt.Sprintf("**Started:** %s (%s)\n\n",
		run.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt)))
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Status | %s |\n", run.Status))
	md.WriteString(fmt.Sprintf("| Output Table | `%s` |\n", run.OutputPath))
	md.WriteString(fmt.Sprintf("| Files Submitted | %s |\n", humanize.Comma(int64(run.FilesTotal))))
	md.WriteString(fmt.Sprintf("| Files Added | %s |\n", humanize.Comma(int64(report.FilesAdded))))
	if report.FilesFailed > 0 {
		md.WriteString(fmt.Sprintf("| Files Failed | %s |\n", humanize.Comma(int64(report.FilesFailed))))
	}
	if run.Separation {
		md.WriteString(fmt.Sprintf("| Vocal Separation | %d separated, %d fallback |\n",
			report.SeparatedCount, report.FallbackCount))
	} else {
		md.WriteString("| Vocal Separation | disabled |\n")
	}
	if d := run.Duration(); d > 0 {
		md.WriteString(fmt.Sprintf("| Wall Time | %s |\n", d.Round(time.Millisecond)))
	}
	if report.AnalysisTime > 0 {
		md.WriteString(fmt.Sprintf("| Analysis Time | %s |\n", report.AnalysisTime.Round(time.Millisecond)))
	}
	if run.Error != "" {
		md.WriteString(fmt.Sprintf("| Error | %s |\n", run.Error))
	}
	md.WriteString("\n")

	if len(report.Analyzed) > 0 {
		md.WriteString("## Vocal Ranges\n\n")
		md.WriteString(fmt.Sprintf("Overall span: **%s - %s** (MIDI %d - %d)\n\n",
			NoteName(report.LowestNote), NoteName(report.HighestNote), report.LowestNote, report.HighestNote))
		md.WriteString("| Title | Low | High | High Notes | Voiced Frames | Separated |\n")
		md.WriteString("|-------|-----|------|------------|---------------|-----------|\n")
		for _, fr := range report.Analyzed {
			title := fr.TagTitle
			if title == "" {
				title = util.FileStem(util.DisplayName(fr.InputPath))
			}
			sep := "no"
			if fr.UsedSeparation {
				sep = "yes"
			}
			md.WriteString(fmt.Sprintf("| %s | %s (%d) | %s (%d) | %d | %s | %s |\n",
				escapeCell(title),
				NoteName(fr.MelodyLowMIDI), fr.MelodyLowMIDI,
				NoteName(fr.MelodyHighMIDI), fr.MelodyHighMIDI,
				fr.HighNoteCount, humanize.Comma(int64(fr.VoicedFrames)), sep))
		}
		md.WriteString("\n")
	}

	if len(report.TopErrors) > 0 {
		md.WriteString("## Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, err := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", err.Count, escapeCell(err.Error)))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString(fmt.Sprintf("*Generated by mpa, analysis %s*\n", melody.AnalysisVersion))

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
