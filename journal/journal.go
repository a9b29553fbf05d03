// Package journal keeps a SQLite history of reduce rounds
// so that runs can be compared and failed rounds audited
// after the fact.
package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/winstonquock/deeplearning4j/iterreduce"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS rounds(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	run_id TEXT NOT NULL,
	round_id TEXT NOT NULL,
	round INTEGER NOT NULL,
	workers INTEGER NOT NULL,
	weight REAL NOT NULL,
	elapsed_ns INTEGER NOT NULL,
	err TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS rounds_run ON rounds(run_id, round);
`

// A Journal is an iterreduce.Journal backed by a SQLite
// database file.
type Journal struct {
	db *sql.DB
}

// Open opens or creates a journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "journal: open %s", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "journal: create schema in %s", path)
	}
	return &Journal{db: db}, nil
}

// RecordRound appends an entry.
func (j *Journal) RecordRound(ctx context.Context, e *iterreduce.RoundEntry) error {
	_, err := j.db.ExecContext(
		ctx,
		`INSERT INTO rounds(ts, run_id, round_id, round, workers, weight, elapsed_ns, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), e.RunID, e.RoundID, e.Round, e.Workers, e.Weight,
		int64(e.Elapsed), e.Err,
	)
	return errors.Wrap(err, "journal: record round")
}

// Rounds lists a run's entries in the order they were
// recorded.
func (j *Journal) Rounds(ctx context.Context, runID string) ([]*iterreduce.RoundEntry, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT run_id, round_id, round, workers, weight, elapsed_ns, err
		 FROM rounds WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "journal: query rounds")
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Runs lists every run ID, oldest first.
func (j *Journal) Runs(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT run_id FROM rounds GROUP BY run_id ORDER BY MIN(id) ASC")
	if err != nil {
		return nil, errors.Wrap(err, "journal: query runs")
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "journal: scan run")
		}
		res = append(res, id)
	}
	return res, errors.Wrap(rows.Err(), "journal: query runs")
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func scanEntries(rows *sql.Rows) ([]*iterreduce.RoundEntry, error) {
	var res []*iterreduce.RoundEntry
	for rows.Next() {
		var e iterreduce.RoundEntry
		var elapsed int64
		err := rows.Scan(&e.RunID, &e.RoundID, &e.Round, &e.Workers, &e.Weight, &elapsed, &e.Err)
		if err != nil {
			return nil, errors.Wrap(err, "journal: scan round")
		}
		e.Elapsed = time.Duration(elapsed)
		res = append(res, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "journal: scan rounds")
	}
	return res, nil
}
