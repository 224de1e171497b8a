package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
  session_id TEXT PRIMARY KEY,
  ts_start INTEGER NOT NULL,
  ts_end INTEGER NOT NULL,
  sport TEXT NOT NULL,
  distance_m REAL NOT NULL DEFAULT 0,
  duration_s REAL NOT NULL DEFAULT 0,
  kcal REAL NOT NULL DEFAULT 0,
  avg_hr INTEGER,
  max_hr INTEGER,
  device TEXT NOT NULL DEFAULT '',
  training_load REAL,
  CHECK (ts_end >= ts_start),
  CHECK (distance_m >= 0),
  CHECK (duration_s >= 0),
  CHECK (kcal >= 0),
  CHECK (avg_hr IS NULL OR avg_hr >= 0),
  CHECK (max_hr IS NULL OR max_hr >= 0),
  CHECK (training_load IS NULL OR training_load >= 0)
);

CREATE TABLE IF NOT EXISTS daily_metrics (
  date TEXT PRIMARY KEY,
  resting_hr INTEGER,
  hrv_rmssd REAL,
  vo2max REAL,
  weight_kg REAL,
  sleep_hours REAL,
  CHECK (resting_hr IS NULL OR resting_hr >= 0),
  CHECK (hrv_rmssd IS NULL OR hrv_rmssd >= 0),
  CHECK (vo2max IS NULL OR vo2max >= 0),
  CHECK (weight_kg IS NULL OR weight_kg > 0),
  CHECK (sleep_hours IS NULL OR (sleep_hours >= 0 AND sleep_hours <= 24))
);

CREATE TABLE IF NOT EXISTS weekly_aggregates (
  year_week TEXT PRIMARY KEY,
  km REAL NOT NULL DEFAULT 0,
  load_7d REAL NOT NULL DEFAULT 0,
  load_28d REAL NOT NULL DEFAULT 0,
  acwr REAL,
  monotony REAL,
  strain REAL,
  computed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL UNIQUE,
  run_ts INTEGER NOT NULL,
  ok INTEGER NOT NULL DEFAULT 0,
  notes TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions (ts_start);
CREATE INDEX IF NOT EXISTS idx_metrics_date ON daily_metrics (date DESC);
CREATE INDEX IF NOT EXISTS idx_runs_ok_ts ON sync_runs (ok, run_ts);
`
