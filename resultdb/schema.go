// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package resultdb

// Relational schema. Wei amounts are stored as base-10 text so they survive
// values beyond 2^63; timestamps are unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS test_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL UNIQUE,
	start_time INTEGER NOT NULL,
	end_time INTEGER,
	duration_ms INTEGER,
	mode TEXT NOT NULL,
	parallel INTEGER NOT NULL DEFAULT 0,
	networks TEXT NOT NULL,
	test_types TEXT NOT NULL,
	total_tests INTEGER NOT NULL DEFAULT 0,
	successful_tests INTEGER NOT NULL DEFAULT 0,
	failed_tests INTEGER NOT NULL DEFAULT 0,
	total_gas_used INTEGER NOT NULL DEFAULT 0,
	total_cost_native REAL NOT NULL DEFAULT 0,
	total_cost_usd REAL NOT NULL DEFAULT 0,
	config TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS network_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_fk INTEGER NOT NULL REFERENCES test_runs(id) ON DELETE CASCADE,
	network TEXT NOT NULL,
	chain_id INTEGER NOT NULL,
	total_tests INTEGER NOT NULL DEFAULT 0,
	successful_tests INTEGER NOT NULL DEFAULT 0,
	failed_tests INTEGER NOT NULL DEFAULT 0,
	total_gas_used INTEGER NOT NULL DEFAULT 0,
	total_cost_native REAL NOT NULL DEFAULT 0,
	total_cost_usd REAL NOT NULL DEFAULT 0,
	block_number_start INTEGER,
	block_number_end INTEGER,
	average_gas_price TEXT,
	success INTEGER NOT NULL DEFAULT 0,
	error TEXT
);
CREATE INDEX IF NOT EXISTS network_results_run ON network_results(run_fk);

CREATE TABLE IF NOT EXISTS test_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_fk INTEGER NOT NULL REFERENCES test_runs(id) ON DELETE CASCADE,
	network TEXT NOT NULL,
	test_type TEXT NOT NULL,
	test_name TEXT NOT NULL,
	success INTEGER NOT NULL,
	start_time INTEGER,
	end_time INTEGER,
	duration_ms INTEGER,
	gas_used INTEGER NOT NULL DEFAULT 0,
	gas_price TEXT,
	tx_hash TEXT,
	block_number INTEGER,
	error TEXT,
	error_category TEXT,
	cost_native REAL NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS test_results_run ON test_results(run_fk);
CREATE INDEX IF NOT EXISTS test_results_network ON test_results(network);

CREATE TABLE IF NOT EXISTS performance_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_fk INTEGER NOT NULL REFERENCES test_runs(id) ON DELETE CASCADE,
	network TEXT NOT NULL,
	name TEXT NOT NULL,
	value REAL NOT NULL,
	unit TEXT,
	timestamp INTEGER NOT NULL,
	test_type TEXT,
	extra TEXT
);
CREATE INDEX IF NOT EXISTS performance_metrics_run ON performance_metrics(run_fk);
CREATE INDEX IF NOT EXISTS performance_metrics_series ON performance_metrics(network, name, timestamp);

CREATE TABLE IF NOT EXISTS network_status (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	network TEXT NOT NULL,
	chain_id INTEGER NOT NULL,
	block_number INTEGER,
	gas_price TEXT,
	response_time_ms INTEGER,
	online INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	rpc_url TEXT,
	error TEXT
);
CREATE INDEX IF NOT EXISTS network_status_series ON network_status(network, timestamp);

CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	network TEXT,
	test_type TEXT,
	message TEXT NOT NULL,
	details TEXT,
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_at INTEGER,
	triggered_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS alerts_network ON alerts(network);

CREATE TABLE IF NOT EXISTS contract_deployments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	deployment_id TEXT NOT NULL UNIQUE,
	network TEXT NOT NULL,
	chain_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	address TEXT NOT NULL,
	tx_hash TEXT,
	block_number INTEGER,
	gas_used INTEGER NOT NULL DEFAULT 0,
	gas_price TEXT,
	deployed_at INTEGER NOT NULL,
	deployer TEXT,
	constructor_args TEXT,
	abi TEXT,
	bytecode_hash TEXT,
	version INTEGER NOT NULL DEFAULT 1,
	active INTEGER NOT NULL DEFAULT 1,
	verified INTEGER NOT NULL DEFAULT 0,
	health_status TEXT NOT NULL DEFAULT 'healthy',
	last_health_check INTEGER,
	metadata TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS deployments_unique_active
	ON contract_deployments(chain_id, type, name) WHERE active = 1;
CREATE INDEX IF NOT EXISTS deployments_lookup ON contract_deployments(chain_id, type, name, active);

CREATE TABLE IF NOT EXISTS contract_health_checks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	deployment_fk INTEGER NOT NULL REFERENCES contract_deployments(id) ON DELETE CASCADE,
	check_time INTEGER NOT NULL,
	status TEXT NOT NULL,
	response_time_ms INTEGER,
	gas_price TEXT,
	error TEXT,
	checks TEXT
);
CREATE INDEX IF NOT EXISTS health_checks_deployment ON contract_health_checks(deployment_fk);
`
