// Package journal records scan runs, the tiles they captured and the outcome
// of every stacking job in a SQLite database, so an interrupted or partly
// failed scan can be audited and resumed by hand.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microfossil/particle-scanner/stack"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite" // database/sql driver "sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	scan_dir TEXT NOT NULL,
	total_pictures INTEGER NOT NULL,
	pictures INTEGER NOT NULL DEFAULT 0,
	interrupted INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	ended_at INTEGER
);

CREATE TABLE IF NOT EXISTS tiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	zone INTEGER NOT NULL,
	dir TEXT NOT NULL,
	pictures INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	raw_dir TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	ok INTEGER NOT NULL,
	error TEXT,
	duration_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tiles_run ON tiles(run_id);
CREATE INDEX IF NOT EXISTS idx_jobs_run ON jobs(run_id);
`

// Run is one row of the runs table
type Run struct {
	ID            string     `json:"id"`
	ScanDir       string     `json:"scanDir"`
	TotalPictures int        `json:"totalPictures"`
	Pictures      int        `json:"pictures"`
	Interrupted   bool       `json:"interrupted"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

// Tile is one row of the tiles table
type Tile struct {
	Zone     int       `json:"zone"`
	Dir      string    `json:"dir"`
	Pictures int       `json:"pictures"`
	At       time.Time `json:"at"`
}

// Job is one row of the jobs table
type Job struct {
	RawDir    string        `json:"rawDir"`
	OutputDir string        `json:"outputDir"`
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

// Journal is an open journal database.  It is safe for concurrent use; the
// scanner and the stack worker write to it from different goroutines.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the journal at path
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginRun records the start of a run and returns its ID
func (j *Journal) BeginRun(scanDir string, totalPictures int) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := uuid.New().String()
	_, err := j.db.Exec(
		"INSERT INTO runs (id, scan_dir, total_pictures, started_at) VALUES (?, ?, ?, ?)",
		id, scanDir, totalPictures, time.Now().UnixNano())
	return id, errors.Wrap(err, "recording run start")
}

// EndRun records the end of a run
func (j *Journal) EndRun(id string, pictures int, interrupted bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	res, err := j.db.Exec(
		"UPDATE runs SET pictures = ?, interrupted = ?, ended_at = ? WHERE id = ?",
		pictures, interrupted, time.Now().UnixNano(), id)
	if err != nil {
		return errors.Wrap(err, "recording run end")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("no run %s", id)
	}
	return nil
}

// RecordTile records a completed tile
func (j *Journal) RecordTile(runID string, zone int, dir string, pictures int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		"INSERT INTO tiles (run_id, zone, dir, pictures, created_at) VALUES (?, ?, ?, ?, ?)",
		runID, zone, dir, pictures, time.Now().UnixNano())
	return errors.Wrap(err, "recording tile")
}

// RecordJob records the outcome of a stacking job
func (j *Journal) RecordJob(runID string, r stack.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var msg sql.NullString
	if r.Err != nil {
		msg = sql.NullString{String: r.Err.Error(), Valid: true}
	}
	_, err := j.db.Exec(
		"INSERT INTO jobs (run_id, raw_dir, output_dir, ok, error, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		runID, r.Job.RawDir, r.Job.OutputDir, r.Err == nil, msg, r.Duration.Milliseconds(), time.Now().UnixNano())
	return errors.Wrap(err, "recording job")
}

// Runs returns the most recent runs, newest first
func (j *Journal) Runs(limit int) ([]Run, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(
		"SELECT id, scan_dir, total_pictures, pictures, interrupted, started_at, ended_at FROM runs ORDER BY started_at DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r       Run
			started int64
			ended   sql.NullInt64
		)
		if err = rows.Scan(&r.ID, &r.ScanDir, &r.TotalPictures, &r.Pictures, &r.Interrupted, &started, &ended); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Tiles returns the tiles of a run in capture order
func (j *Journal) Tiles(runID string) ([]Tile, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query("SELECT zone, dir, pictures, created_at FROM tiles WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tile
	for rows.Next() {
		var (
			t  Tile
			at int64
		)
		if err = rows.Scan(&t.Zone, &t.Dir, &t.Pictures, &at); err != nil {
			return nil, err
		}
		t.At = time.Unix(0, at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Jobs returns the stacking jobs of a run in completion order
func (j *Journal) Jobs(runID string) ([]Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query("SELECT raw_dir, output_dir, ok, error, duration_ms, created_at FROM jobs WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		var (
			jb  Job
			msg sql.NullString
			ms  int64
			at  int64
		)
		if err = rows.Scan(&jb.RawDir, &jb.OutputDir, &jb.OK, &msg, &ms, &at); err != nil {
			return nil, err
		}
		jb.Error = msg.String
		jb.Duration = time.Duration(ms) * time.Millisecond
		jb.At = time.Unix(0, at)
		out = append(out, jb)
	}
	return out, rows.Err()
}
