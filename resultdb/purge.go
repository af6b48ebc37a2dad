// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package resultdb

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// ErrConfirmRequired guards destructive purges behind an explicit flag.
var ErrConfirmRequired = errors.New("resultdb: purge requires confirm")

// PurgeReport counts rows removed per table.
type PurgeReport struct {
	TestRuns     int64
	TestResults  int64
	Metrics      int64
	StatusRows   int64
	Alerts       int64
	Deployments  int64
	HealthChecks int64
}

// Total sums the removed rows.
func (r *PurgeReport) Total() int64 {
	return r.TestRuns + r.TestResults + r.Metrics + r.StatusRows +
		r.Alerts + r.Deployments + r.HealthChecks
}

// PurgeAll deletes everything. One transaction, children before parents,
// then a vacuum to return the pages to the filesystem.
func (s *Store) PurgeAll(confirm bool) (*PurgeReport, error) {
	if !confirm {
		return nil, ErrConfirmRequired
	}
	return s.purge(func(tx *sql.Tx, rep *PurgeReport) error {
		steps := []struct {
			query string
			dst   *int64
		}{
			{"DELETE FROM contract_health_checks", &rep.HealthChecks},
			{"DELETE FROM contract_deployments", &rep.Deployments},
			{"DELETE FROM performance_metrics", &rep.Metrics},
			{"DELETE FROM test_results", &rep.TestResults},
			{"DELETE FROM network_results", nil},
			{"DELETE FROM network_status", &rep.StatusRows},
			{"DELETE FROM alerts", &rep.Alerts},
			{"DELETE FROM test_runs", &rep.TestRuns},
		}
		for _, step := range steps {
			if err := execCount(tx, step.dst, step.query); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeOlderThan deletes runs that started before now minus the retention
// window, with their children, plus status rows, alerts and health checks
// older than the cutoff. Deployments are kept; only their probe history ages
// out.
func (s *Store) PurgeOlderThan(retention time.Duration, confirm bool) (*PurgeReport, error) {
	if !confirm {
		return nil, ErrConfirmRequired
	}
	cutoff := millis(time.Now().Add(-retention))
	return s.purge(func(tx *sql.Tx, rep *PurgeReport) error {
		old := "SELECT id FROM test_runs WHERE start_time < ?"
		steps := []struct {
			query string
			dst   *int64
			args  []any
		}{
			{"DELETE FROM performance_metrics WHERE run_fk IN (" + old + ")", &rep.Metrics, []any{cutoff}},
			{"DELETE FROM test_results WHERE run_fk IN (" + old + ")", &rep.TestResults, []any{cutoff}},
			{"DELETE FROM network_results WHERE run_fk IN (" + old + ")", nil, []any{cutoff}},
			{"DELETE FROM test_runs WHERE start_time < ?", &rep.TestRuns, []any{cutoff}},
			{"DELETE FROM network_status WHERE timestamp < ?", &rep.StatusRows, []any{cutoff}},
			{"DELETE FROM alerts WHERE triggered_at < ?", &rep.Alerts, []any{cutoff}},
			{"DELETE FROM contract_health_checks WHERE check_time < ?", &rep.HealthChecks, []any{cutoff}},
		}
		for _, step := range steps {
			if err := execCount(tx, step.dst, step.query, step.args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeByNetwork deletes one network's results, status rows, alerts,
// deployments and probe history. Runs spanning other networks stay; runs left
// without any children are removed in the same transaction.
func (s *Store) PurgeByNetwork(network string, confirm bool) (*PurgeReport, error) {
	if !confirm {
		return nil, ErrConfirmRequired
	}
	return s.purge(func(tx *sql.Tx, rep *PurgeReport) error {
		steps := []struct {
			query string
			dst   *int64
		}{
			{`DELETE FROM contract_health_checks WHERE deployment_fk IN
				(SELECT id FROM contract_deployments WHERE network = ?)`, &rep.HealthChecks},
			{"DELETE FROM contract_deployments WHERE network = ?", &rep.Deployments},
			{"DELETE FROM performance_metrics WHERE network = ?", &rep.Metrics},
			{"DELETE FROM test_results WHERE network = ?", &rep.TestResults},
			{"DELETE FROM network_results WHERE network = ?", nil},
			{"DELETE FROM network_status WHERE network = ?", &rep.StatusRows},
			{"DELETE FROM alerts WHERE network = ?", &rep.Alerts},
		}
		for _, step := range steps {
			if err := execCount(tx, step.dst, step.query, network); err != nil {
				return err
			}
		}
		return execCount(tx, &rep.TestRuns,
			`DELETE FROM test_runs WHERE id NOT IN
				(SELECT DISTINCT run_fk FROM test_results
				 UNION SELECT run_fk FROM network_results
				 UNION SELECT run_fk FROM performance_metrics)`)
	})
}

func (s *Store) purge(fn func(*sql.Tx, *PurgeReport) error) (*PurgeReport, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var rep PurgeReport
	if err := fn(tx, &rep); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "resultdb: commit purge")
	}

	if err := s.Vacuum(); err != nil {
		return nil, err
	}
	logger.Info("purge complete", "rows", rep.Total())
	return &rep, nil
}

func execCount(tx *sql.Tx, dst *int64, query string, args ...any) error {
	res, err := tx.Exec(query, args...)
	if err != nil {
		return errors.Wrap(err, "resultdb: purge step")
	}
	if dst != nil {
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		*dst += n
	}
	return nil
}
