// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package resultdb

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/wei"
)

// ErrDeploymentNotFound is returned by lookups that require an existing row.
var ErrDeploymentNotFound = errors.New("resultdb: deployment not found")

const deploymentColumns = `deployment_id, network, chain_id, name, type, address,
	tx_hash, block_number, gas_used, gas_price, deployed_at, deployer,
	constructor_args, abi, bytecode_hash, version, active, verified,
	health_status, last_health_check, metadata`

// SaveDeployment inserts d as the active deployment for its (chainID, type,
// name), deactivating any previous active row in the same transaction. The
// new row's version is one past the highest existing version.
func (s *Store) SaveDeployment(d *Deployment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "resultdb: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`UPDATE contract_deployments SET active = 0
		WHERE chain_id = ? AND type = ? AND name = ? AND active = 1`,
		int64(d.ChainID), d.Type, d.Name); err != nil {
		return errors.Wrap(err, "resultdb: deactivate previous")
	}

	var maxVersion sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(version) FROM contract_deployments
		WHERE chain_id = ? AND type = ? AND name = ?`,
		int64(d.ChainID), d.Type, d.Name).Scan(&maxVersion); err != nil {
		return errors.Wrap(err, "resultdb: max version")
	}
	d.Version = int(maxVersion.Int64) + 1
	d.Active = true
	if d.HealthStatus == "" {
		d.HealthStatus = "healthy"
	}
	if d.DeployedAt.IsZero() {
		d.DeployedAt = time.Now()
	}

	if _, err := tx.Exec(`INSERT INTO contract_deployments
		(deployment_id, network, chain_id, name, type, address, tx_hash, block_number,
		 gas_used, gas_price, deployed_at, deployer, constructor_args, abi,
		 bytecode_hash, version, active, verified, health_status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		d.DeploymentID, d.Network, int64(d.ChainID), d.Name, d.Type, d.Address,
		d.TxHash, int64(d.BlockNumber), int64(d.GasUsed), d.GasPrice.String(),
		millis(d.DeployedAt), d.Deployer, d.ConstructorArgs, d.ABI,
		d.BytecodeHash, d.Version, d.Verified, d.HealthStatus, d.Metadata); err != nil {
		return errors.Wrap(err, "resultdb: insert deployment")
	}
	return tx.Commit()
}

// GetDeployment loads one deployment by its external id.
func (s *Store) GetDeployment(deploymentID string) (*Deployment, error) {
	stmt, err := s.stmts.Prepare(`SELECT ` + deploymentColumns + `
		FROM contract_deployments WHERE deployment_id = ?`)
	if err != nil {
		return nil, err
	}
	d, err := scanDeployment(stmt.QueryRow(deploymentID))
	if err == sql.ErrNoRows {
		return nil, ErrDeploymentNotFound
	}
	return d, err
}

// GetActiveDeployment returns the single active deployment for the triple,
// or ErrDeploymentNotFound.
func (s *Store) GetActiveDeployment(chainID uint64, contractType, name string) (*Deployment, error) {
	stmt, err := s.stmts.Prepare(`SELECT ` + deploymentColumns + `
		FROM contract_deployments
		WHERE chain_id = ? AND type = ? AND name = ? AND active = 1`)
	if err != nil {
		return nil, err
	}
	d, err := scanDeployment(stmt.QueryRow(int64(chainID), contractType, name))
	if err == sql.ErrNoRows {
		return nil, ErrDeploymentNotFound
	}
	return d, err
}

// GetActiveDeploymentsByType lists the network's active deployments of one type.
func (s *Store) GetActiveDeploymentsByType(chainID uint64, contractType string) ([]*Deployment, error) {
	stmt, err := s.stmts.Prepare(`SELECT ` + deploymentColumns + `
		FROM contract_deployments
		WHERE chain_id = ? AND type = ? AND active = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(int64(chainID), contractType)
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: query deployments")
	}
	return scanDeployments(rows)
}

// GetDeploymentsByNetwork lists all of a network's deployments, active first,
// then newest first.
func (s *Store) GetDeploymentsByNetwork(chainID uint64, activeOnly bool) ([]*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM contract_deployments WHERE chain_id = ?`
	if activeOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY active DESC, deployed_at DESC"
	rows, err := s.db.Query(query, int64(chainID))
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: query deployments")
	}
	return scanDeployments(rows)
}

// MarkDeploymentInactive retires a deployment without replacing it.
func (s *Store) MarkDeploymentInactive(deploymentID string) error {
	stmt, err := s.stmts.Prepare("UPDATE contract_deployments SET active = 0 WHERE deployment_id = ?")
	if err != nil {
		return err
	}
	res, err := stmt.Exec(deploymentID)
	if err != nil {
		return errors.Wrap(err, "resultdb: mark inactive")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeploymentNotFound
	}
	return nil
}

// MarkDeploymentVerified flags a deployment as source-verified on an explorer.
func (s *Store) MarkDeploymentVerified(deploymentID string) error {
	stmt, err := s.stmts.Prepare("UPDATE contract_deployments SET verified = 1 WHERE deployment_id = ?")
	if err != nil {
		return err
	}
	res, err := stmt.Exec(deploymentID)
	if err != nil {
		return errors.Wrap(err, "resultdb: mark verified")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeploymentNotFound
	}
	return nil
}

// GetDeploymentABI returns the stored ABI JSON for a deployment.
func (s *Store) GetDeploymentABI(deploymentID string) (string, error) {
	stmt, err := s.stmts.Prepare("SELECT abi FROM contract_deployments WHERE deployment_id = ?")
	if err != nil {
		return "", err
	}
	var abiJSON sql.NullString
	if err := stmt.QueryRow(deploymentID).Scan(&abiJSON); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrDeploymentNotFound
		}
		return "", err
	}
	return abiJSON.String, nil
}

// InsertHealthCheck records a probe of a deployment and refreshes the
// deployment's health summary. A check against an unknown deployment id is a
// silent no-op: the deployment may have been purged while a probe was in
// flight.
func (s *Store) InsertHealthCheck(hc *HealthCheck) error {
	var fk int64
	err := s.db.QueryRow("SELECT id FROM contract_deployments WHERE deployment_id = ?",
		hc.DeploymentID).Scan(&fk)
	if err == sql.ErrNoRows {
		logger.Debug("health check for unknown deployment dropped", "deployment", hc.DeploymentID)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "resultdb: resolve deployment")
	}

	ts := hc.CheckTime
	if ts.IsZero() {
		ts = time.Now()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "resultdb: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`INSERT INTO contract_health_checks
		(deployment_fk, check_time, status, response_time_ms, gas_price, error, checks)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fk, millis(ts), hc.Status, hc.ResponseTime.Milliseconds(),
		hc.GasPrice.String(), hc.Error, hc.Checks); err != nil {
		return errors.Wrap(err, "resultdb: insert health check")
	}
	if _, err := tx.Exec(`UPDATE contract_deployments
		SET health_status = ?, last_health_check = ? WHERE id = ?`,
		hc.Status, millis(ts), fk); err != nil {
		return errors.Wrap(err, "resultdb: update health summary")
	}
	return tx.Commit()
}

// GetHealthChecks lists a deployment's probes, newest first.
func (s *Store) GetHealthChecks(deploymentID string, limit int) ([]*HealthCheck, error) {
	query := `SELECT d.deployment_id, h.check_time, h.status, h.response_time_ms,
		h.gas_price, h.error, h.checks
		FROM contract_health_checks h
		JOIN contract_deployments d ON d.id = h.deployment_fk
		WHERE d.deployment_id = ? ORDER BY h.check_time DESC`
	args := []any{deploymentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "resultdb: query health checks")
	}
	defer rows.Close()

	var out []*HealthCheck
	for rows.Next() {
		var hc HealthCheck
		var checkTime, respMS int64
		var gasPrice, checkErr, checks sql.NullString
		if err := rows.Scan(&hc.DeploymentID, &checkTime, &hc.Status, &respMS,
			&gasPrice, &checkErr, &checks); err != nil {
			return nil, err
		}
		hc.CheckTime = fromMillis(checkTime)
		hc.ResponseTime = time.Duration(respMS) * time.Millisecond
		hc.Error = checkErr.String
		hc.Checks = checks.String
		if gasPrice.Valid {
			if amt, err := wei.Parse(gasPrice.String); err == nil {
				hc.GasPrice = amt
			}
		}
		out = append(out, &hc)
	}
	return out, rows.Err()
}

// DeleteHealthChecksBefore drops probe history older than cutoff and returns
// how many rows went away.
func (s *Store) DeleteHealthChecksBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM contract_health_checks WHERE check_time < ?", millis(cutoff))
	if err != nil {
		return 0, errors.Wrap(err, "resultdb: delete health checks")
	}
	return res.RowsAffected()
}

// DeploymentStats counts deployments per network and health state.
type DeploymentStats struct {
	Total     int64
	Active    int64
	Unhealthy int64
}

// GetDeploymentStats summarizes one network's deployments; chainID 0 means all.
func (s *Store) GetDeploymentStats(chainID uint64) (*DeploymentStats, error) {
	query := `SELECT COUNT(*),
		COALESCE(SUM(active), 0),
		COALESCE(SUM(CASE WHEN active = 1 AND health_status != 'healthy' THEN 1 ELSE 0 END), 0)
		FROM contract_deployments`
	var args []any
	if chainID != 0 {
		query += " WHERE chain_id = ?"
		args = append(args, int64(chainID))
	}
	var st DeploymentStats
	if err := s.db.QueryRow(query, args...).Scan(&st.Total, &st.Active, &st.Unhealthy); err != nil {
		return nil, errors.Wrap(err, "resultdb: deployment stats")
	}
	return &st, nil
}

func scanDeployment(row rowScanner) (*Deployment, error) {
	var d Deployment
	var chainID, blockNo, gasUsed, deployedAt int64
	var lastCheck sql.NullInt64
	var txHash, gasPrice, deployer, args, abiJSON, bytecodeHash, metadata sql.NullString
	if err := row.Scan(&d.DeploymentID, &d.Network, &chainID, &d.Name, &d.Type, &d.Address,
		&txHash, &blockNo, &gasUsed, &gasPrice, &deployedAt, &deployer,
		&args, &abiJSON, &bytecodeHash, &d.Version, &d.Active, &d.Verified,
		&d.HealthStatus, &lastCheck, &metadata); err != nil {
		return nil, err
	}
	d.ChainID = uint64(chainID)
	d.BlockNumber = uint64(blockNo)
	d.GasUsed = uint64(gasUsed)
	d.DeployedAt = fromMillis(deployedAt)
	d.LastHealthCheck = fromMillis(lastCheck.Int64)
	d.TxHash = txHash.String
	d.Deployer = deployer.String
	d.ConstructorArgs = args.String
	d.ABI = abiJSON.String
	d.BytecodeHash = bytecodeHash.String
	d.Metadata = metadata.String
	if gasPrice.Valid {
		if amt, err := wei.Parse(gasPrice.String); err == nil {
			d.GasPrice = amt
		}
	}
	return &d, nil
}

func scanDeployments(rows *sql.Rows) ([]*Deployment, error) {
	defer rows.Close()
	var out []*Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
