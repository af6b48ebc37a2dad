// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"time"

	cli "gopkg.in/urfave/cli.v1"
)

var (
	configDirFlag = cli.StringFlag{
		Name:  "config-dir",
		Value: "networks",
		Usage: "directory of network spec files",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Value: "data",
		Usage: "directory for the result database",
	}
	artifactsDirFlag = cli.StringFlag{
		Name:  "artifacts-dir",
		Value: ".",
		Usage: "base directory of compiled contract artifacts",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Value: 3,
		Usage: "log verbosity (0-5)",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "Prometheus metrics listening address (disabled when empty)",
	}

	networksFlag = cli.StringFlag{
		Name:  "networks",
		Usage: "comma separated network ids (default: all configured)",
	}
	testsFlag = cli.StringFlag{
		Name:  "tests",
		Value: "evm",
		Usage: "comma separated test phases (evm|defi|load|finality)",
	}
	modeFlag = cli.StringFlag{
		Name:  "mode",
		Value: "standard",
		Usage: "run mode (standard|sequential|parallel|diversified|stress|deployment)",
	}
	parallelFlag = cli.BoolFlag{
		Name:  "parallel",
		Usage: "run networks concurrently",
	}
	maxConcurrentFlag = cli.IntFlag{
		Name:  "max-concurrent",
		Value: 5,
		Usage: "worker pool size inside the load phase",
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Usage: "overall run deadline (0 = none)",
	}
	verboseFlag = cli.BoolFlag{
		Name:  "verbose",
		Usage: "log every test instead of showing a progress bar",
	}
	retryUntilSuccessFlag = cli.BoolFlag{
		Name:  "retry-until-success",
		Usage: "rerun failing sub-tests until the phase floor is met",
	}
	contractTypeFlag = cli.StringFlag{
		Name:  "contract-type",
		Usage: "restrict deployment to one contract type (evm|defi|load)",
	}

	watchFlag = cli.BoolFlag{
		Name:  "watch",
		Usage: "keep probing and redrawing the status table",
	}
	watchIntervalFlag = cli.DurationFlag{
		Name:  "watch-interval",
		Value: 30 * time.Second,
		Usage: "probe interval in watch mode",
	}
)
