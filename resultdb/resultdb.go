// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package resultdb persists runs, results, metrics, network status, alerts
// and contract deployments in a single sqlite database.
package resultdb

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/log"
)

var logger = log.WithContext("pkg", "resultdb")

// DefaultPath is where the store lives relative to the data directory.
const DefaultPath = "data/test-results.db"

// Store is the sqlite-backed result store. Safe for concurrent use.
type Store struct {
	path  string
	db    *sql.DB
	stmts *stmtCache
}

// New creates or opens the store at path, applying schema and pragmas.
// Parent directories are created as needed.
func New(path string) (store *Store, err error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "resultdb: mkdir")
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", path)
	if path == ":memory:" {
		// WAL is meaningless in ram; foreign keys still matter
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: open")
	}
	defer func() {
		if store == nil {
			db.Close()
		}
	}()

	if path == ":memory:" {
		// a second connection would see an empty, separate database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "resultdb: apply schema")
	}

	logger.Debug("store opened", "path", path)
	return &Store{path: path, db: db, stmts: newStmtCache(db)}, nil
}

// NewMem creates a throwaway in-memory store.
func NewMem() (*Store, error) {
	return New(":memory:")
}

// Path is where the database file lives.
func (s *Store) Path() string { return s.path }

// Close releases prepared statements and the connection.
func (s *Store) Close() error {
	s.stmts.Clear()
	return s.db.Close()
}

// Vacuum rebuilds the database file, reclaiming free pages.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	return errors.Wrap(err, "resultdb: vacuum")
}

// Optimize refreshes planner statistics.
func (s *Store) Optimize() error {
	if _, err := s.db.Exec("PRAGMA optimize"); err != nil {
		return errors.Wrap(err, "resultdb: optimize")
	}
	_, err := s.db.Exec("ANALYZE")
	return errors.Wrap(err, "resultdb: analyze")
}

// Backup copies the database file to dst. The WAL is checkpointed first so
// the copy is self-contained.
func (s *Store) Backup(dst string) error {
	if s.path == ":memory:" {
		return errors.New("resultdb: cannot back up an in-memory store")
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.Wrap(err, "resultdb: checkpoint")
	}
	src, err := os.Open(s.path)
	if err != nil {
		return errors.Wrap(err, "resultdb: backup open")
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, "resultdb: backup mkdir")
	}
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "resultdb: backup create")
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return errors.Wrap(err, "resultdb: backup copy")
	}
	return out.Sync()
}

// Stats reports row counts and the on-disk size.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{Path: s.path}
	if s.path != ":memory:" {
		if fi, err := os.Stat(s.path); err == nil {
			st.SizeBytes = fi.Size()
		}
	}
	for _, c := range []struct {
		table string
		dst   *int64
	}{
		{"test_runs", &st.TestRuns},
		{"test_results", &st.TestResults},
		{"performance_metrics", &st.Metrics},
		{"network_status", &st.StatusRows},
		{"alerts", &st.Alerts},
		{"contract_deployments", &st.Deployments},
		{"contract_health_checks", &st.HealthChecks},
	} {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dst); err != nil {
			return nil, errors.Wrapf(err, "resultdb: count %s", c.table)
		}
	}
	return st, nil
}

// runFK resolves the external run id to the internal row id.
func (s *Store) runFK(runID string) (int64, error) {
	stmt, err := s.stmts.Prepare("SELECT id FROM test_runs WHERE run_id = ?")
	if err != nil {
		return 0, err
	}
	var id int64
	if err := stmt.QueryRow(runID).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, errors.Errorf("resultdb: unknown run %s", runID)
		}
		return 0, err
	}
	return id, nil
}
