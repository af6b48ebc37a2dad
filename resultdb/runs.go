// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package resultdb

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/wei"
)

// InsertTestRun records a new run. Counters start at zero and are settled by
// UpdateTestRun when the run finishes.
func (s *Store) InsertTestRun(run *TestRun) error {
	networks, err := json.Marshal(run.Networks)
	if err != nil {
		return errors.Wrap(err, "resultdb: encode networks")
	}
	testTypes, err := json.Marshal(run.TestTypes)
	if err != nil {
		return errors.Wrap(err, "resultdb: encode test types")
	}

	stmt, err := s.stmts.Prepare(`INSERT INTO test_runs
		(run_id, start_time, mode, parallel, networks, test_types, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	now := millis(time.Now())
	_, err = stmt.Exec(run.RunID, millis(run.StartTime), run.Mode, run.Parallel,
		string(networks), string(testTypes), run.Config, now, now)
	return errors.Wrap(err, "resultdb: insert run")
}

// UpdateTestRun settles the run's end time and totals.
func (s *Store) UpdateTestRun(run *TestRun) error {
	durationMS := int64(0)
	if !run.EndTime.IsZero() && !run.StartTime.IsZero() {
		durationMS = run.EndTime.Sub(run.StartTime).Milliseconds()
	}
	stmt, err := s.stmts.Prepare(`UPDATE test_runs SET
		end_time = ?, duration_ms = ?,
		total_tests = ?, successful_tests = ?, failed_tests = ?,
		total_gas_used = ?, total_cost_native = ?, total_cost_usd = ?,
		updated_at = ?
		WHERE run_id = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(millis(run.EndTime), durationMS,
		run.Totals.Total, run.Totals.Successful, run.Totals.Failed,
		int64(run.Totals.GasUsed), run.Totals.CostNative, run.Totals.CostUSD,
		millis(time.Now()), run.RunID)
	if err != nil {
		return errors.Wrap(err, "resultdb: update run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("resultdb: unknown run %s", run.RunID)
	}
	return nil
}

// GetTestRun loads one run by its external id.
func (s *Store) GetTestRun(runID string) (*TestRun, error) {
	stmt, err := s.stmts.Prepare(`SELECT run_id, start_time, end_time, mode, parallel,
		networks, test_types, total_tests, successful_tests, failed_tests,
		total_gas_used, total_cost_native, total_cost_usd, config
		FROM test_runs WHERE run_id = ?`)
	if err != nil {
		return nil, err
	}
	run, err := scanTestRun(stmt.QueryRow(runID))
	if err == sql.ErrNoRows {
		return nil, errors.Errorf("resultdb: unknown run %s", runID)
	}
	return run, err
}

// RunFilter narrows GetTestRuns. Zero values mean "no constraint".
type RunFilter struct {
	Mode    string
	Network string
	Since   time.Time
	Limit   int
}

// GetTestRuns lists runs newest first.
func (s *Store) GetTestRuns(filter RunFilter) ([]*TestRun, error) {
	query := `SELECT run_id, start_time, end_time, mode, parallel,
		networks, test_types, total_tests, successful_tests, failed_tests,
		total_gas_used, total_cost_native, total_cost_usd, config
		FROM test_runs WHERE 1`
	var args []any
	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, filter.Mode)
	}
	if filter.Network != "" {
		// networks is a JSON array of quoted names
		query += " AND networks LIKE ?"
		args = append(args, `%"`+filter.Network+`"%`)
	}
	if !filter.Since.IsZero() {
		query += " AND start_time >= ?"
		args = append(args, millis(filter.Since))
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: query runs")
	}
	defer rows.Close()

	var runs []*TestRun
	for rows.Next() {
		run, err := scanTestRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTestRun(row rowScanner) (*TestRun, error) {
	var run TestRun
	var start int64
	var end sql.NullInt64
	var networks, testTypes string
	var gasUsed int64
	var config sql.NullString
	if err := row.Scan(&run.RunID, &start, &end, &run.Mode, &run.Parallel,
		&networks, &testTypes, &run.Totals.Total, &run.Totals.Successful, &run.Totals.Failed,
		&gasUsed, &run.Totals.CostNative, &run.Totals.CostUSD, &config); err != nil {
		return nil, err
	}
	run.StartTime = fromMillis(start)
	run.EndTime = fromMillis(end.Int64)
	run.Totals.GasUsed = uint64(gasUsed)
	run.Config = config.String
	if err := json.Unmarshal([]byte(networks), &run.Networks); err != nil {
		return nil, errors.Wrap(err, "resultdb: decode networks")
	}
	if err := json.Unmarshal([]byte(testTypes), &run.TestTypes); err != nil {
		return nil, errors.Wrap(err, "resultdb: decode test types")
	}
	return &run, nil
}

// InsertNetworkResult attaches a per-network rollup to a run.
func (s *Store) InsertNetworkResult(runID string, r *NetworkResult) error {
	fk, err := s.runFK(runID)
	if err != nil {
		return err
	}
	stmt, err := s.stmts.Prepare(`INSERT INTO network_results
		(run_fk, network, chain_id, total_tests, successful_tests, failed_tests,
		 total_gas_used, total_cost_native, total_cost_usd,
		 block_number_start, block_number_end, average_gas_price, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(fk, r.Network, int64(r.ChainID),
		r.Totals.Total, r.Totals.Successful, r.Totals.Failed,
		int64(r.Totals.GasUsed), r.Totals.CostNative, r.Totals.CostUSD,
		int64(r.BlockStart), int64(r.BlockEnd), r.AverageGasPrice.String(), r.Success, r.Error)
	return errors.Wrap(err, "resultdb: insert network result")
}

// GetNetworkResults lists the per-network rollups of a run.
func (s *Store) GetNetworkResults(runID string) ([]*NetworkResult, error) {
	fk, err := s.runFK(runID)
	if err != nil {
		return nil, err
	}
	stmt, err := s.stmts.Prepare(`SELECT network, chain_id, total_tests, successful_tests,
		failed_tests, total_gas_used, total_cost_native, total_cost_usd,
		block_number_start, block_number_end, average_gas_price, success, error
		FROM network_results WHERE run_fk = ? ORDER BY id`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(fk)
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: query network results")
	}
	defer rows.Close()

	var out []*NetworkResult
	for rows.Next() {
		var r NetworkResult
		var chainID, gas, bStart, bEnd int64
		var avgGasPrice, networkErr sql.NullString
		if err := rows.Scan(&r.Network, &chainID, &r.Totals.Total, &r.Totals.Successful,
			&r.Totals.Failed, &gas, &r.Totals.CostNative, &r.Totals.CostUSD,
			&bStart, &bEnd, &avgGasPrice, &r.Success, &networkErr); err != nil {
			return nil, err
		}
		r.ChainID = uint64(chainID)
		r.Totals.GasUsed = uint64(gas)
		r.BlockStart = uint64(bStart)
		r.BlockEnd = uint64(bEnd)
		r.Error = networkErr.String
		if avgGasPrice.Valid {
			if amt, err := wei.Parse(avgGasPrice.String); err == nil {
				r.AverageGasPrice = amt
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// InsertTestResult attaches one test execution to a run.
func (s *Store) InsertTestResult(runID string, r *TestResult) error {
	fk, err := s.runFK(runID)
	if err != nil {
		return err
	}
	return s.insertTestResult(fk, r)
}

// InsertTestResults writes a batch in one transaction.
func (s *Store) InsertTestResults(runID string, results []*TestResult) error {
	fk, err := s.runFK(runID)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "resultdb: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(insertTestResultQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.Exec(testResultArgs(fk, r)...); err != nil {
			return errors.Wrap(err, "resultdb: insert test result")
		}
	}
	return tx.Commit()
}

const insertTestResultQuery = `INSERT INTO test_results
	(run_fk, network, test_type, test_name, success, start_time, end_time, duration_ms,
	 gas_used, gas_price, tx_hash, block_number, error, error_category,
	 cost_native, cost_usd, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func testResultArgs(fk int64, r *TestResult) []any {
	return []any{fk, r.Network, r.TestType, r.TestName, r.Success,
		millis(r.StartTime), millis(r.EndTime), r.Duration().Milliseconds(),
		int64(r.GasUsed), r.GasPrice.String(), r.TxHash, int64(r.BlockNumber),
		r.Error, string(r.ErrorCategory), r.CostNative, r.CostUSD, r.Metadata}
}

func (s *Store) insertTestResult(fk int64, r *TestResult) error {
	stmt, err := s.stmts.Prepare(insertTestResultQuery)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(testResultArgs(fk, r)...)
	return errors.Wrap(err, "resultdb: insert test result")
}

// ResultFilter narrows GetTestResults.
type ResultFilter struct {
	Network  string
	TestType string
	OnlyFail bool
	Limit    int
}

// GetTestResults lists a run's test executions in insert order.
func (s *Store) GetTestResults(runID string, filter ResultFilter) ([]*TestResult, error) {
	fk, err := s.runFK(runID)
	if err != nil {
		return nil, err
	}
	query := `SELECT network, test_type, test_name, success, start_time, end_time,
		gas_used, gas_price, tx_hash, block_number, error, error_category,
		cost_native, cost_usd, metadata
		FROM test_results WHERE run_fk = ?`
	args := []any{fk}
	if filter.Network != "" {
		query += " AND network = ?"
		args = append(args, filter.Network)
	}
	if filter.TestType != "" {
		query += " AND test_type = ?"
		args = append(args, filter.TestType)
	}
	if filter.OnlyFail {
		query += " AND success = 0"
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: query test results")
	}
	defer rows.Close()

	var out []*TestResult
	for rows.Next() {
		var r TestResult
		var start, end, gas, blockNo int64
		var gasPrice, txHash, testErr, cat, metadata sql.NullString
		if err := rows.Scan(&r.Network, &r.TestType, &r.TestName, &r.Success,
			&start, &end, &gas, &gasPrice, &txHash, &blockNo, &testErr, &cat,
			&r.CostNative, &r.CostUSD, &metadata); err != nil {
			return nil, err
		}
		r.StartTime = fromMillis(start)
		r.EndTime = fromMillis(end)
		r.GasUsed = uint64(gas)
		r.BlockNumber = uint64(blockNo)
		r.TxHash = txHash.String
		r.Error = testErr.String
		r.ErrorCategory = errs.Category(cat.String)
		r.Metadata = metadata.String
		if gasPrice.Valid {
			if amt, err := wei.Parse(gasPrice.String); err == nil {
				r.GasPrice = amt
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// InsertMetrics writes performance samples for a run in one transaction.
func (s *Store) InsertMetrics(runID string, metrics []*Metric) error {
	fk, err := s.runFK(runID)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "resultdb: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO performance_metrics
		(run_fk, network, name, value, unit, timestamp, test_type, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range metrics {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.Exec(fk, m.Network, m.Name, m.Value, m.Unit,
			millis(ts), m.TestType, m.Extra); err != nil {
			return errors.Wrap(err, "resultdb: insert metric")
		}
	}
	return tx.Commit()
}

// MetricFilter narrows GetMetrics. Name and Network are required by most
// time-series consumers but optional here.
type MetricFilter struct {
	Network  string
	Name     string
	TestType string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// GetMetrics returns samples in ascending time order.
func (s *Store) GetMetrics(filter MetricFilter) ([]*Metric, error) {
	query := `SELECT network, name, value, unit, timestamp, test_type, extra
		FROM performance_metrics WHERE 1`
	var args []any
	if filter.Network != "" {
		query += " AND network = ?"
		args = append(args, filter.Network)
	}
	if filter.Name != "" {
		query += " AND name = ?"
		args = append(args, filter.Name)
	}
	if filter.TestType != "" {
		query += " AND test_type = ?"
		args = append(args, filter.TestType)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, millis(filter.Since))
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, millis(filter.Until))
	}
	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: query metrics")
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		var ts int64
		var unit, tt, extra sql.NullString
		if err := rows.Scan(&m.Network, &m.Name, &m.Value, &unit, &ts, &tt, &extra); err != nil {
			return nil, err
		}
		m.Timestamp = fromMillis(ts)
		m.Unit = unit.String
		m.TestType = tt.String
		m.Extra = extra.String
		out = append(out, &m)
	}
	return out, rows.Err()
}

// InsertNetworkStatus records one probe sample.
func (s *Store) InsertNetworkStatus(st *NetworkStatus) error {
	ts := st.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	stmt, err := s.stmts.Prepare(`INSERT INTO network_status
		(network, chain_id, block_number, gas_price, response_time_ms, online, timestamp, rpc_url, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(st.Network, int64(st.ChainID), int64(st.BlockNumber),
		st.GasPrice.String(), st.ResponseTime.Milliseconds(), st.Online,
		millis(ts), st.RPCURL, st.Error)
	return errors.Wrap(err, "resultdb: insert network status")
}

// GetNetworkStatus returns the latest samples per network, newest first.
func (s *Store) GetNetworkStatus(network string, limit int) ([]*NetworkStatus, error) {
	query := `SELECT network, chain_id, block_number, gas_price, response_time_ms,
		online, timestamp, rpc_url, error
		FROM network_status WHERE 1`
	var args []any
	if network != "" {
		query += " AND network = ?"
		args = append(args, network)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: query network status")
	}
	defer rows.Close()

	var out []*NetworkStatus
	for rows.Next() {
		var st NetworkStatus
		var chainID, blockNo, ts, respMS int64
		var gasPrice, url, probeErr sql.NullString
		if err := rows.Scan(&st.Network, &chainID, &blockNo, &gasPrice, &respMS,
			&st.Online, &ts, &url, &probeErr); err != nil {
			return nil, err
		}
		st.ChainID = uint64(chainID)
		st.BlockNumber = uint64(blockNo)
		st.ResponseTime = time.Duration(respMS) * time.Millisecond
		st.Timestamp = fromMillis(ts)
		st.RPCURL = url.String
		st.Error = probeErr.String
		if gasPrice.Valid {
			if amt, err := wei.Parse(gasPrice.String); err == nil {
				st.GasPrice = amt
			}
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// InsertAlert persists an alert and returns its id.
func (s *Store) InsertAlert(a *Alert) (int64, error) {
	ts := a.TriggeredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	stmt, err := s.stmts.Prepare(`INSERT INTO alerts
		(kind, severity, network, test_type, message, details, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	res, err := stmt.Exec(a.Kind, a.Severity, a.Network, a.TestType, a.Message, a.Details, millis(ts))
	if err != nil {
		return 0, errors.Wrap(err, "resultdb: insert alert")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	a.ID = id
	a.TriggeredAt = ts
	return id, nil
}

// ResolveAlert marks an alert resolved.
func (s *Store) ResolveAlert(id int64) error {
	stmt, err := s.stmts.Prepare("UPDATE alerts SET resolved = 1, resolved_at = ? WHERE id = ?")
	if err != nil {
		return err
	}
	res, err := stmt.Exec(millis(time.Now()), id)
	if err != nil {
		return errors.Wrap(err, "resultdb: resolve alert")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("resultdb: unknown alert %d", id)
	}
	return nil
}

// GetAlerts lists alerts newest first. unresolvedOnly skips resolved ones.
func (s *Store) GetAlerts(network string, unresolvedOnly bool, limit int) ([]*Alert, error) {
	query := `SELECT id, kind, severity, network, test_type, message, details,
		resolved, resolved_at, triggered_at FROM alerts WHERE 1`
	var args []any
	if network != "" {
		query += " AND network = ?"
		args = append(args, network)
	}
	if unresolvedOnly {
		query += " AND resolved = 0"
	}
	query += " ORDER BY triggered_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: query alerts")
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		var a Alert
		var network, tt, details sql.NullString
		var resolvedAt sql.NullInt64
		var triggeredAt int64
		if err := rows.Scan(&a.ID, &a.Kind, &a.Severity, &network, &tt, &a.Message,
			&details, &a.Resolved, &resolvedAt, &triggeredAt); err != nil {
			return nil, err
		}
		a.Network = network.String
		a.TestType = tt.String
		a.Details = details.String
		a.ResolvedAt = fromMillis(resolvedAt.Int64)
		a.TriggeredAt = fromMillis(triggeredAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}
