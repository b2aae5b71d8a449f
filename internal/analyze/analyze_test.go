package analyze

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterliang117/MyPitch/internal/audio"
	"github.com/peterliang117/MyPitch/internal/pitch"
	"github.com/peterliang117/MyPitch/internal/separate"
	"github.com/peterliang117/MyPitch/internal/store"
	"github.com/peterliang117/MyPitch/internal/table"
	"github.com/peterliang117/MyPitch/internal/util"
)

type fakeLoader struct {
	fail   map[string]error // keyed by base name
	loaded []string

	// statFiles makes Load fail like a real decoder when path cannot be opened
	statFiles bool
}

func (l *fakeLoader) Load(ctx context.Context, path string) (*audio.Waveform, error) {
	l.loaded = append(l.loaded, path)
	if l.statFiles {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	}
	if err, ok := l.fail[filepath.Base(path)]; ok {
		return nil, err
	}
	return &audio.Waveform{Samples: make([]float64, pitch.DefaultSampleRate), SampleRate: pitch.DefaultSampleRate}, nil
}

type fakePitch struct {
	curve *pitch.Curve
}

func (p *fakePitch) Extract(ctx context.Context, samples []float64, sampleRate int) (*pitch.Curve, error) {
	return p.curve, nil
}

type fakeSeparator struct {
	used     bool
	vocals   string // returned path when used
	scratchs []string
}

func (s *fakeSeparator) Separate(ctx context.Context, inputPath, scratchRoot string) separate.Result {
	s.scratchs = append(s.scratchs, scratchRoot)
	name := filepath.Base(inputPath)
	if !s.used {
		return separate.Result{
			Path:    inputPath,
			Message: fmt.Sprintf("demucs not found, fallback to original audio: %s", name),
			Err:     util.ErrSeparationUnavailable,
		}
	}
	return separate.Result{Path: s.vocals, Used: true, Message: fmt.Sprintf("demucs ok: %s", name)}
}

// steadyCurve returns frames fully voiced frames at hz
func steadyCurve(frames int, hz float64) *pitch.Curve {
	c := &pitch.Curve{
		F0:         make([]float64, frames),
		Voiced:     make([]bool, frames),
		VoicedProb: make([]float64, frames),
		SampleRate: pitch.DefaultSampleRate,
		HopLength:  pitch.DefaultHopLength,
	}
	for i := range c.F0 {
		c.F0[i] = hz
		c.Voiced[i] = true
		c.VoicedProb[i] = 1
	}
	return c
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
	return path
}

func fixedNow(ts string) func() time.Time {
	return func() time.Time {
		t, _ := time.Parse(time.RFC3339, ts)
		return t
	}
}

func newTestAnalyzer(t *testing.T, loader *fakeLoader, curve *pitch.Curve, sep separate.Separator) *Analyzer {
	t.Helper()
	return New(&Config{
		Loader:            loader,
		Pitch:             &fakePitch{curve: curve},
		Separator:         sep,
		DisableSeparation: sep == nil,
		ScratchDir:        t.TempDir(),
		Now:               fixedNow("2024-05-01T09:30:00Z"),
	})
}

func TestRunMixedBatch(t *testing.T) {
	dir := t.TempDir()
	wav := touch(t, dir, "a.wav")
	flac := touch(t, dir, "c.flac")
	missing := filepath.Join(dir, "missing.mp3")
	output := filepath.Join(dir, "out", "songs_generated.csv")

	a := newTestAnalyzer(t, &fakeLoader{}, steadyCurve(100, 440), nil)
	result, err := a.Run(context.Background(), []string{wav, missing, flac}, output)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	s := result.Summary
	if s.Added != 1 {
		t.Errorf("Expected 1 added, got %d", s.Added)
	}
	wantFailed := []string{missing + ": file not found", "c.flac: unsupported extension"}
	if len(s.Failed) != len(wantFailed) {
		t.Fatalf("Expected failures %v, got %v", wantFailed, s.Failed)
	}
	for i, want := range wantFailed {
		if s.Failed[i] != want {
			t.Errorf("Failed[%d] = %q, want %q", i, s.Failed[i], want)
		}
	}
	wantLogs := []string{"skip separation (--no-sep): a.wav", "analyzed: a.wav"}
	if strings.Join(s.Logs, "\n") != strings.Join(wantLogs, "\n") {
		t.Errorf("Expected logs %v, got %v", wantLogs, s.Logs)
	}

	resolved, _ := util.CanonicalPath(output)
	if s.Output != resolved {
		t.Errorf("Expected output %s, got %s", resolved, s.Output)
	}

	rows, err := table.Load(output)
	if err != nil {
		t.Fatalf("Failed to load table: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}

	source, _ := util.CanonicalPath(wav)
	row := rows[source]
	if row == nil {
		t.Fatalf("Expected row keyed by %s, got keys %v", source, rows.Keys())
	}
	if row.Title != "a" || row.Artist != "" {
		t.Errorf("Unexpected title/artist: %q/%q", row.Title, row.Artist)
	}
	if row.MelodyLowMIDI != 69 || row.MelodyHighMIDI != 69 || row.HighNoteMaxMIDI != 69 {
		t.Errorf("Expected range 69-69, got %+v", row)
	}
	if row.ChorusLowMIDI != row.MelodyLowMIDI || row.ChorusHighMIDI != row.MelodyHighMIDI {
		t.Errorf("Expected chorus range to mirror melody range, got %+v", row)
	}
	if row.HighNoteCount != 1 || row.HighNoteTotalMs != 1161 {
		t.Errorf("Expected 1 segment of 1161 ms, got %d / %d", row.HighNoteCount, row.HighNoteTotalMs)
	}
	if row.AnalyzedAt != "2024-05-01T09:30:00.000000+00:00" {
		t.Errorf("Unexpected analyzed_at %q", row.AnalyzedAt)
	}
	if row.AnalysisVersion != "v1.0-pyin" {
		t.Errorf("Unexpected analysis_version %q", row.AnalysisVersion)
	}

	if len(result.Outcomes) != 3 || !result.Outcomes[0].OK() {
		t.Fatalf("Unexpected outcomes: %+v", result.Outcomes)
	}
	if !errors.Is(result.Outcomes[1].Err, util.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", result.Outcomes[1].Err)
	}
	if !errors.Is(result.Outcomes[2].Err, util.ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", result.Outcomes[2].Err)
	}
}

func TestRunEmptyBatchWritesHeader(t *testing.T) {
	output := filepath.Join(t.TempDir(), "songs.csv")

	a := newTestAnalyzer(t, &fakeLoader{}, steadyCurve(100, 440), nil)
	result, err := a.Run(context.Background(), nil, output)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Summary.Added != 0 || len(result.Summary.Failed) != 0 {
		t.Errorf("Expected empty summary, got %+v", result.Summary)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("Expected table to be written: %v", err)
	}
	if !strings.HasPrefix(string(data), "title,artist,") {
		t.Errorf("Expected header row, got %q", string(data))
	}
}

func TestRunUppercaseExtension(t *testing.T) {
	dir := t.TempDir()
	wav := touch(t, dir, "B.WAV")

	a := newTestAnalyzer(t, &fakeLoader{}, steadyCurve(100, 440), nil)
	result, err := a.Run(context.Background(), []string{wav}, filepath.Join(dir, "out.csv"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Summary.Added != 1 {
		t.Errorf("Expected uppercase extension to be accepted, failures: %v", result.Summary.Failed)
	}
}

func TestRunDecomposedFileName(t *testing.T) {
	dir := t.TempDir()
	// "é" as e + combining acute accent, as files copied from macOS are named
	wav := touch(t, dir, "Cafe\u0301.wav")
	output := filepath.Join(dir, "out.csv")

	loader := &fakeLoader{statFiles: true}
	a := newTestAnalyzer(t, loader, steadyCurve(100, 440), nil)
	result, err := a.Run(context.Background(), []string{wav}, output)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Summary.Added != 1 {
		t.Fatalf("Expected decomposed name to be analyzed, failures: %v", result.Summary.Failed)
	}

	source := result.Outcomes[0].SourcePath
	if _, err := os.Stat(source); err != nil {
		t.Errorf("Recorded source path must exist on disk: %v", err)
	}

	tbl, err := table.Load(output)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	row, ok := tbl[source]
	if !ok {
		t.Fatalf("Expected row keyed by %q, got keys %v", source, tbl.Keys())
	}
	if row.Title != "Cafe\u0301" {
		t.Errorf("Expected title with on-disk spelling, got %q", row.Title)
	}
}

func TestRunSymlinkTitleFromInput(t *testing.T) {
	dir := t.TempDir()
	target := touch(t, dir, "take-07.wav")
	link := filepath.Join(dir, "Favourite Song.wav")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	output := filepath.Join(dir, "out.csv")

	a := newTestAnalyzer(t, &fakeLoader{statFiles: true}, steadyCurve(100, 440), nil)
	result, err := a.Run(context.Background(), []string{link}, output)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Summary.Added != 1 {
		t.Fatalf("Expected symlinked input to be analyzed, failures: %v", result.Summary.Failed)
	}

	source, _ := util.CanonicalPath(target)
	tbl, err := table.Load(output)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	row, ok := tbl[source]
	if !ok {
		t.Fatalf("Expected row keyed by resolved target %q, got keys %v", source, tbl.Keys())
	}
	if row.Title != "Favourite Song" {
		t.Errorf("Expected title from the input name, got %q", row.Title)
	}
}

func TestRunSeparationFallback(t *testing.T) {
	dir := t.TempDir()
	wav := touch(t, dir, "a.wav")
	loader := &fakeLoader{}

	a := newTestAnalyzer(t, loader, steadyCurve(100, 440), &fakeSeparator{used: false})
	result, err := a.Run(context.Background(), []string{wav}, filepath.Join(dir, "out.csv"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Summary.Added != 1 {
		t.Fatalf("Expected fallback file to succeed, failures: %v", result.Summary.Failed)
	}
	if result.Summary.Logs[0] != "demucs not found, fallback to original audio: a.wav" {
		t.Errorf("Unexpected first log %q", result.Summary.Logs[0])
	}
	if result.Outcomes[0].UsedSeparation {
		t.Error("Expected UsedSeparation to be false")
	}

	source, _ := util.CanonicalPath(wav)
	if len(loader.loaded) != 1 || loader.loaded[0] != source {
		t.Errorf("Expected original audio to be loaded, got %v", loader.loaded)
	}
}

func TestRunSeparationUsed(t *testing.T) {
	dir := t.TempDir()
	wav := touch(t, dir, "a.wav")
	vocals := touch(t, dir, "vocals.wav")
	loader := &fakeLoader{}
	sep := &fakeSeparator{used: true, vocals: vocals}
	output := filepath.Join(dir, "out.csv")

	a := newTestAnalyzer(t, loader, steadyCurve(100, 440), sep)
	result, err := a.Run(context.Background(), []string{wav}, output)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.Outcomes[0].UsedSeparation {
		t.Error("Expected UsedSeparation to be true")
	}
	if len(loader.loaded) != 1 || loader.loaded[0] != vocals {
		t.Errorf("Expected vocal stem to be loaded, got %v", loader.loaded)
	}
	if result.Summary.Logs[0] != "demucs ok: a.wav" {
		t.Errorf("Unexpected first log %q", result.Summary.Logs[0])
	}

	// The row is keyed by the source, not the stem
	rows, _ := table.Load(output)
	source, _ := util.CanonicalPath(wav)
	if rows[source] == nil {
		t.Errorf("Expected row for %s, got %v", source, rows.Keys())
	}
}

func TestRunScratchDirectoryRemoved(t *testing.T) {
	dir := t.TempDir()
	scratchParent := t.TempDir()
	wav := touch(t, dir, "a.wav")
	sep := &fakeSeparator{used: false}

	a := New(&Config{
		Loader:     &fakeLoader{},
		Pitch:      &fakePitch{curve: steadyCurve(100, 440)},
		Separator:  sep,
		ScratchDir: scratchParent,
	})
	if _, err := a.Run(context.Background(), []string{wav}, filepath.Join(dir, "out.csv")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sep.scratchs) != 1 || !strings.HasPrefix(filepath.Base(sep.scratchs[0]), ScratchPrefix) {
		t.Fatalf("Expected scratch dir with prefix %s, got %v", ScratchPrefix, sep.scratchs)
	}
	entries, _ := os.ReadDir(scratchParent)
	if len(entries) != 0 {
		t.Errorf("Expected scratch dir to be removed, found %d entries", len(entries))
	}
}

func TestRunRerunOverwritesRow(t *testing.T) {
	dir := t.TempDir()
	wav := touch(t, dir, "a.wav")
	output := filepath.Join(dir, "out.csv")

	first := newTestAnalyzer(t, &fakeLoader{}, steadyCurve(100, 440), nil)
	if _, err := first.Run(context.Background(), []string{wav}, output); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	second := New(&Config{
		Loader:            &fakeLoader{},
		Pitch:             &fakePitch{curve: steadyCurve(100, 880)},
		DisableSeparation: true,
		ScratchDir:        t.TempDir(),
		Now:               fixedNow("2024-06-01T00:00:00Z"),
	})
	// Relative and absolute spellings collapse to the same row
	rel, err := filepath.Rel(mustGetwd(t), wav)
	if err != nil {
		rel = wav
	}
	if _, err := second.Run(context.Background(), []string{rel}, output); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	rows, _ := table.Load(output)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row after re-run, got %d", len(rows))
	}
	for _, row := range rows {
		if row.MelodyHighMIDI != 81 {
			t.Errorf("Expected re-run to replace row with MIDI 81, got %d", row.MelodyHighMIDI)
		}
		if row.AnalyzedAt != "2024-06-01T00:00:00.000000+00:00" {
			t.Errorf("Expected new analyzed_at, got %q", row.AnalyzedAt)
		}
	}
}

func TestRunFailurePreservesPriorRow(t *testing.T) {
	dir := t.TempDir()
	wav := touch(t, dir, "a.wav")
	other := touch(t, dir, "b.wav")
	output := filepath.Join(dir, "out.csv")

	first := newTestAnalyzer(t, &fakeLoader{}, steadyCurve(100, 440), nil)
	if _, err := first.Run(context.Background(), []string{wav, other}, output); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	loader := &fakeLoader{fail: map[string]error{"a.wav": errors.New("decode failed")}}
	second := newTestAnalyzer(t, loader, steadyCurve(100, 880), nil)
	result, err := second.Run(context.Background(), []string{wav}, output)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if len(result.Summary.Failed) != 1 || result.Summary.Failed[0] != "a.wav: decode failed" {
		t.Errorf("Unexpected failures %v", result.Summary.Failed)
	}

	rows, _ := table.Load(output)
	if len(rows) != 2 {
		t.Fatalf("Expected both prior rows to survive, got %d", len(rows))
	}
	source, _ := util.CanonicalPath(wav)
	if rows[source].MelodyHighMIDI != 69 {
		t.Errorf("Expected prior row to be untouched, got %+v", rows[source])
	}
}

func TestRunInsufficientVoicedFrames(t *testing.T) {
	dir := t.TempDir()
	wav := touch(t, dir, "quiet.wav")

	a := newTestAnalyzer(t, &fakeLoader{}, steadyCurve(19, 440), nil)
	result, err := a.Run(context.Background(), []string{wav}, filepath.Join(dir, "out.csv"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := "quiet.wav: too few voiced frames for stable analysis"
	if len(result.Summary.Failed) != 1 || result.Summary.Failed[0] != want {
		t.Errorf("Expected %q, got %v", want, result.Summary.Failed)
	}
	if !errors.Is(result.Outcomes[0].Err, util.ErrInsufficientData) {
		t.Errorf("Expected ErrInsufficientData, got %v", result.Outcomes[0].Err)
	}
}

func TestRunCorruptTableIsFatal(t *testing.T) {
	dir := t.TempDir()
	wav := touch(t, dir, "a.wav")
	output := filepath.Join(dir, "out.csv")

	corrupt := strings.Join(table.Fields, ",") + "\nx,ab\"c,60,70,60,70,1,71,300,/music/x.wav,2024,v1.0-pyin\n"
	if err := os.WriteFile(output, []byte(corrupt), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	a := newTestAnalyzer(t, &fakeLoader{}, steadyCurve(100, 440), nil)
	if _, err := a.Run(context.Background(), []string{wav}, output); !errors.Is(err, util.ErrCorrupt) {
		t.Fatalf("Expected ErrCorrupt, got %v", err)
	}

	data, _ := os.ReadFile(output)
	if string(data) != corrupt {
		t.Error("Expected corrupt table to be left untouched")
	}
}

func TestRunCancelledContext(t *testing.T) {
	dir := t.TempDir()
	wav := touch(t, dir, "a.wav")
	output := filepath.Join(dir, "out.csv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newTestAnalyzer(t, &fakeLoader{}, steadyCurve(100, 440), nil)
	if _, err := a.Run(ctx, []string{wav}, output); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if util.FileExists(output) {
		t.Error("Expected no table to be written after cancellation")
	}
}

func TestRunRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	wav := touch(t, dir, "a.wav")
	missing := filepath.Join(dir, "gone.mp3")

	db, err := store.Open(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	a := New(&Config{
		Loader:            &fakeLoader{},
		Pitch:             &fakePitch{curve: steadyCurve(100, 440)},
		DisableSeparation: true,
		Store:             db,
		ScratchDir:        t.TempDir(),
	})
	result, err := a.Run(context.Background(), []string{wav, missing}, filepath.Join(dir, "out.csv"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RunID == "" {
		t.Fatal("Expected a run id")
	}

	run, err := db.GetRun(result.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun = %+v, %v", run, err)
	}
	if run.Status != store.RunStatusCompleted || run.FilesAdded != 1 || run.FilesFailed != 1 || run.Separation {
		t.Errorf("Unexpected run record %+v", run)
	}

	results, err := db.GetFileResults(result.RunID)
	if err != nil {
		t.Fatalf("GetFileResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 file results, got %d", len(results))
	}
	if results[0].Status != store.FileStatusAdded || results[0].MelodyHighMIDI != 69 || results[0].FileKey == "" {
		t.Errorf("Unexpected first result %+v", results[0])
	}
	if results[1].Status != store.FileStatusFailed || results[1].Reason != missing+": file not found" {
		t.Errorf("Unexpected second result %+v", results[1])
	}
}

func mustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	return wd
}
