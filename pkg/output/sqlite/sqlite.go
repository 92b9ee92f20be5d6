package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ericogr/emfsense/pkg/telemetry"
)

// tables holds the detailed log table of each mode.
var tables = map[telemetry.Mode]string{
	telemetry.LF: "lf_detailed",
	telemetry.HF: "hf_detailed",
}

const schema = `
CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	value REAL NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%s_run ON %s(run_id);
`

type Record struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	DeviceID   string    `json:"device_id"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store is a persistent logger writing one row per reading.
type Store struct {
	db       *sql.DB
	runID    string
	deviceID string
	now      func() time.Time
}

// Open creates or opens the database at path and tags every row with
// runID and deviceID.
func Open(path, runID, deviceID string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, t := range tables {
		if _, err := db.Exec(fmt.Sprintf(schema, t, t, t)); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema %s: %w", t, err)
		}
	}
	return &Store{db: db, runID: runID, deviceID: deviceID, now: time.Now}, nil
}

func tableFor(mode telemetry.Mode) (string, error) {
	t, ok := tables[mode]
	if !ok {
		return "", fmt.Errorf("no log table for mode %v", mode)
	}
	return t, nil
}

func (s *Store) Store(value float64, mode telemetry.Mode) error {
	t, err := tableFor(mode)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO "+t+" (run_id, device_id, value, recorded_at) VALUES (?, ?, ?, ?)",
		s.runID, s.deviceID, value, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", t, err)
	}
	return nil
}

// Recent returns up to limit rows of mode, newest first.
func (s *Store) Recent(mode telemetry.Mode, limit int) ([]Record, error) {
	t, err := tableFor(mode)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		"SELECT id, run_id, device_id, value, recorded_at FROM "+t+" ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t, err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var r Record
		var ms int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.DeviceID, &r.Value, &ms); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t, err)
		}
		r.RecordedAt = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Count(mode telemetry.Mode) (int, error) {
	t, err := tableFor(mode)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + t).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t, err)
	}
	return n, nil
}

func (s *Store) Close() error { return s.db.Close() }
