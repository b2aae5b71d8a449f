package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/peterliang117/MyPitch/internal/util"
)

// BeginRun inserts a new run in the running state
func (s *Store) BeginRun(outputPath string, separation bool, filesTotal int) (*Run, error) {
	run := &Run{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		OutputPath: outputPath,
		Separation: separation,
		FilesTotal: filesTotal,
		Status:     RunStatusRunning,
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, output_path, separation, files_total, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.OutputPath, boolToInt(separation), filesTotal, run.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return run, nil
}

// RecordFileResult stores one per-file outcome. Seq is assigned when zero.
func (s *Store) RecordFileResult(fr *FileResult) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if fr.Seq == 0 {
			err := tx.QueryRow(`
				SELECT COALESCE(MAX(seq), 0) + 1 FROM file_results WHERE run_id = ?
			`, fr.RunID).Scan(&fr.Seq)
			if err != nil {
				return err
			}
		}

		_, err := tx.Exec(`
			INSERT INTO file_results
			(run_id, seq, input_path, source_path, file_key, status, reason, used_separation,
			 tag_title, tag_artist, voiced_frames, melody_low_midi, melody_high_midi,
			 high_note_count, duration_ms, elapsed_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, fr.RunID, fr.Seq, fr.InputPath, fr.SourcePath, fr.FileKey, fr.Status, fr.Reason,
			boolToInt(fr.UsedSeparation), fr.TagTitle, fr.TagArtist, fr.VoicedFrames,
			fr.MelodyLowMIDI, fr.MelodyHighMIDI, fr.HighNoteCount, fr.DurationMs, fr.ElapsedMs)
		return err
	})
}

// FinishRun closes a run with its final counts. A non-nil runErr marks it failed.
func (s *Store) FinishRun(id string, added, failed int, runErr error) error {
	status := RunStatusCompleted
	var errMsg any
	if runErr != nil {
		status = RunStatusFailed
		errMsg = runErr.Error()
	}

	res, err := s.db.Exec(`
		UPDATE runs
		SET finished_at = ?, files_added = ?, files_failed = ?, status = ?, error = ?
		WHERE id = ?
	`, time.Now().UTC(), added, failed, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, util.ErrNotFound)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, output_path, separation,
	files_total, files_added, files_failed, status, COALESCE(error, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (*Run, error) {
	var run Run
	var finished sql.NullTime
	var separation int

	err := sc.Scan(&run.ID, &run.StartedAt, &finished, &run.OutputPath, &separation,
		&run.FilesTotal, &run.FilesAdded, &run.FilesFailed, &run.Status, &run.Error)
	if err != nil {
		return nil, err
	}

	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	run.Separation = separation == 1
	return &run, nil
}

// GetRun returns the run with the given id, or nil if it does not exist
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// FindRun resolves a full run id or a unique id prefix
func (s *Store) FindRun(idOrPrefix string) (*Run, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return nil, fmt.Errorf("empty run id: %w", util.ErrNotFound)
	}

	run, err := s.GetRun(idOrPrefix)
	if err != nil || run != nil {
		return run, err
	}

	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs WHERE id LIKE ? || '%' LIMIT 2`, idOrPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run %s: %w", idOrPrefix, util.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("run prefix %q is ambiguous", idOrPrefix)
	}
}

// LatestRun returns the most recently started run, or nil if there are none
func (s *Store) LatestRun() (*Run, error) {
	runs, err := s.RecentRuns(1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// RecentRuns returns up to limit runs, newest first
func (s *Store) RecentRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

const fileResultColumns = `run_id, seq, input_path, COALESCE(source_path, ''), COALESCE(file_key, ''),
	status, COALESCE(reason, ''), used_separation, COALESCE(tag_title, ''), COALESCE(tag_artist, ''),
	COALESCE(voiced_frames, 0), COALESCE(melody_low_midi, 0), COALESCE(melody_high_midi, 0),
	COALESCE(high_note_count, 0), COALESCE(duration_ms, 0), COALESCE(elapsed_ms, 0)`

func scanFileResult(sc rowScanner) (*FileResult, error) {
	var fr FileResult
	var usedSep int

	err := sc.Scan(&fr.RunID, &fr.Seq, &fr.InputPath, &fr.SourcePath, &fr.FileKey,
		&fr.Status, &fr.Reason, &usedSep, &fr.TagTitle, &fr.TagArtist,
		&fr.VoicedFrames, &fr.MelodyLowMIDI, &fr.MelodyHighMIDI,
		&fr.HighNoteCount, &fr.DurationMs, &fr.ElapsedMs)
	if err != nil {
		return nil, err
	}

	fr.UsedSeparation = usedSep == 1
	return &fr, nil
}

// GetFileResults returns the outcomes of a run in input order
func (s *Store) GetFileResults(runID string) ([]*FileResult, error) {
	rows, err := s.db.Query(`
		SELECT `+fileResultColumns+`
		FROM file_results
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*FileResult
	for rows.Next() {
		fr, err := scanFileResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, fr)
	}

	return results, rows.Err()
}

// LatestResultForPath returns the newest outcome recorded for a canonical
// source path, or nil if the path was never analyzed
func (s *Store) LatestResultForPath(sourcePath string) (*FileResult, error) {
	row := s.db.QueryRow(`
		SELECT `+fileResultColumns+`
		FROM file_results
		WHERE source_path = ?
		ORDER BY (SELECT started_at FROM runs WHERE runs.id = file_results.run_id) DESC, rowid DESC
		LIMIT 1
	`, sourcePath)

	fr, err := scanFileResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return fr, err
}

// CountRuns returns the number of recorded runs
func (s *Store) CountRuns() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count)
	return count, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
