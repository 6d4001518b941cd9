package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// EventsFilename is the summary database written to the eval directory.
const EventsFilename = "events.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	checkpoint  TEXT NOT NULL,
	dataset     TEXT NOT NULL,
	split       TEXT NOT NULL,
	model       TEXT NOT NULL,
	num_batches INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scalars (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	step       INTEGER NOT NULL,
	tag        TEXT NOT NULL,
	value      REAL NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// Run describes one evaluation pass for the event store.
type Run struct {
	ID         string
	Checkpoint string
	Dataset    string
	Split      string
	Model      string
	NumBatches int
	CreatedAt  time.Time
}

// NewRun stamps a run with a fresh id.
func NewRun(checkpoint, dataset, split, model string, numBatches int) Run {
	return Run{
		ID:         uuid.New().String(),
		Checkpoint: checkpoint,
		Dataset:    dataset,
		Split:      split,
		Model:      model,
		NumBatches: numBatches,
		CreatedAt:  time.Now().UTC(),
	}
}

// Store persists summaries in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) dir/events.db.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create eval dir")
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, EventsFilename))
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pragma fk")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteSummaries stores run and its scalars in one transaction.
func (s *Store) WriteSummaries(run Run, scalars []Scalar) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	created := run.CreatedAt.Format(time.RFC3339Nano)
	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, checkpoint, dataset, split, model, num_batches, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Checkpoint, run.Dataset, run.Split, run.Model, run.NumBatches, created,
	); err != nil {
		return errors.Wrap(err, "insert run")
	}
	for _, sc := range scalars {
		if _, err := tx.Exec(
			`INSERT INTO scalars (run_id, step, tag, value, created_at) VALUES (?, ?, ?, ?, ?)`,
			run.ID, sc.Step, sc.Tag, sc.Value, created,
		); err != nil {
			return errors.Wrap(err, "insert scalar")
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Scalars returns the scalars recorded for runID ordered by tag.
func (s *Store) Scalars(runID string) ([]Scalar, error) {
	rows, err := s.db.Query(`SELECT tag, value, step FROM scalars WHERE run_id = ? ORDER BY tag`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query scalars")
	}
	defer rows.Close()

	var out []Scalar
	for rows.Next() {
		var sc Scalar
		if err := rows.Scan(&sc.Tag, &sc.Value, &sc.Step); err != nil {
			return nil, errors.Wrap(err, "scan scalar")
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
