package store

// Schema v1 - run ledger
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per analyze invocation
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  started_at DATETIME NOT NULL,
  finished_at DATETIME,
  output_path TEXT NOT NULL,
  separation INTEGER DEFAULT 1,
  files_total INTEGER DEFAULT 0,
  files_added INTEGER DEFAULT 0,
  files_failed INTEGER DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'running',
  error TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

-- Per-file outcome within a run
CREATE TABLE IF NOT EXISTS file_results (
  run_id TEXT REFERENCES runs(id) ON DELETE CASCADE,
  seq INTEGER NOT NULL,
  input_path TEXT NOT NULL,
  source_path TEXT,
  file_key TEXT,
  status TEXT NOT NULL,
  reason TEXT,
  used_separation INTEGER DEFAULT 0,
  tag_title TEXT,
  tag_artist TEXT,
  voiced_frames INTEGER,
  melody_low_midi INTEGER,
  melody_high_midi INTEGER,
  high_note_count INTEGER,
  duration_ms INTEGER,
  PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_file_results_source_path ON file_results(source_path);
CREATE INDEX IF NOT EXISTS idx_file_results_status ON file_results(status);
`

// Schema v2 - analysis timing
const schemaV2 = `
ALTER TABLE file_results ADD COLUMN elapsed_ms INTEGER DEFAULT 0;
`
