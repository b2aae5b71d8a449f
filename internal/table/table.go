// Package table persists analysis rows as a CSV table keyed by absolute
// source path. The table is loaded once per run, merged in memory, and
// rewritten in full, sorted by key.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/peterliang117/MyPitch/internal/melody"
	"github.com/peterliang117/MyPitch/internal/util"
)

// Fields is the fixed column order of the persisted table
var Fields = []string{
	"title",
	"artist",
	"melody_low_midi",
	"melody_high_midi",
	"chorus_low_midi",
	"chorus_high_midi",
	"high_note_count",
	"high_note_max_midi",
	"high_note_total_ms",
	"source_path",
	"analyzed_at",
	"analysis_version",
}

// Row is one analyzed source file
type Row struct {
	Title           string
	Artist          string
	MelodyLowMIDI   int
	MelodyHighMIDI  int
	ChorusLowMIDI   int
	ChorusHighMIDI  int
	HighNoteCount   int
	HighNoteMaxMIDI int
	HighNoteTotalMs int
	SourcePath      string
	AnalyzedAt      string
	AnalysisVersion string

	// raw holds the cells of a loaded row whose numbers did not parse.
	// Such rows are written back exactly as read.
	raw []string
}

// NewRow builds a row from melody statistics. sourcePath must already be
// canonical; title is the stem of the input as the caller named it.
func NewRow(title, sourcePath string, stats *melody.Stats, analyzedAt string) *Row {
	return &Row{
		Title:           title,
		Artist:          "",
		MelodyLowMIDI:   stats.MelodyLowMIDI,
		MelodyHighMIDI:  stats.MelodyHighMIDI,
		ChorusLowMIDI:   stats.ChorusLowMIDI,
		ChorusHighMIDI:  stats.ChorusHighMIDI,
		HighNoteCount:   stats.HighNoteCount,
		HighNoteMaxMIDI: stats.HighNoteMaxMIDI,
		HighNoteTotalMs: stats.HighNoteTotalMs,
		SourcePath:      sourcePath,
		AnalyzedAt:      analyzedAt,
		AnalysisVersion: melody.AnalysisVersion,
	}
}

// Record returns the row's cells in Fields order
func (r *Row) Record() []string {
	if r.raw != nil {
		return append([]string(nil), r.raw...)
	}
	return []string{
		r.Title,
		r.Artist,
		strconv.Itoa(r.MelodyLowMIDI),
		strconv.Itoa(r.MelodyHighMIDI),
		strconv.Itoa(r.ChorusLowMIDI),
		strconv.Itoa(r.ChorusHighMIDI),
		strconv.Itoa(r.HighNoteCount),
		strconv.Itoa(r.HighNoteMaxMIDI),
		strconv.Itoa(r.HighNoteTotalMs),
		r.SourcePath,
		r.AnalyzedAt,
		r.AnalysisVersion,
	}
}

// Table maps source_path to its row
type Table map[string]*Row

// Merge inserts row, replacing any existing row with the same source path
func (t Table) Merge(row *Row) {
	t[row.SourcePath] = row
}

// Keys returns the source paths in ascending order
func (t Table) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load reads the table at path. A missing file yields an empty table.
// Columns are matched by header name; rows with a blank source_path are
// skipped. A row with a malformed integer cell is kept verbatim with a
// warning. A table that is not valid CSV fails with util.ErrCorrupt so that
// it is never silently rewritten.
func Load(path string) (Table, error) {
	t := make(Table)

	f, err := util.RetryableOpen(path, nil)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open result table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read header: %v", util.ErrCorrupt, path, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", util.ErrCorrupt, path, err)
		}

		row, err := parseRecord(record, columns)
		if err != nil {
			util.WarnLog("%s line %d: %v (row kept as is)", path, line, err)
		}
		if row == nil {
			continue
		}
		t[row.SourcePath] = row
	}

	return t, nil
}

func parseRecord(record []string, columns map[string]int) (*Row, error) {
	get := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	key := strings.TrimSpace(get("source_path"))
	if key == "" {
		return nil, nil
	}

	ints := make([]int, 0, 7)
	for _, name := range Fields[2:9] {
		cell := strings.TrimSpace(get(name))
		v, err := strconv.Atoi(cell)
		if err != nil {
			raw := make([]string, len(Fields))
			for i, field := range Fields {
				raw[i] = get(field)
			}
			row := &Row{SourcePath: key, raw: raw}
			return row, fmt.Errorf("column %s: invalid integer %q", name, cell)
		}
		ints = append(ints, v)
	}

	return &Row{
		Title:           get("title"),
		Artist:          get("artist"),
		MelodyLowMIDI:   ints[0],
		MelodyHighMIDI:  ints[1],
		ChorusLowMIDI:   ints[2],
		ChorusHighMIDI:  ints[3],
		HighNoteCount:   ints[4],
		HighNoteMaxMIDI: ints[5],
		HighNoteTotalMs: ints[6],
		SourcePath:      key,
		AnalyzedAt:      get("analyzed_at"),
		AnalysisVersion: get("analysis_version"),
	}, nil
}

// Save writes t to path: a header row followed by every row sorted by
// source path. The file is written next to its destination and renamed into
// place, replacing any existing table in full.
func Save(path string, t Table) error {
	dir := filepath.Dir(path)
	if err := util.RetryableMkdirAll(dir, 0755, nil); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := util.RetryableCreateTemp(dir, "."+filepath.Base(path)+".*.tmp", nil)
	if err != nil {
		return fmt.Errorf("failed to create temp table: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set table permissions: %w", err)
	}

	w := csv.NewWriter(tmp)
	if err := w.Write(Fields); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, key := range t.Keys() {
		if err := w.Write(t[key].Record()); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write row %s: %w", key, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp table: %w", err)
	}

	if err := util.RetryableRename(tmp.Name(), path, nil); err != nil {
		return fmt.Errorf("failed to replace result table: %w", err)
	}

	return nil
}
