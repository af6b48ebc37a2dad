// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"fmt"
	"os"

	cli "gopkg.in/urfave/cli.v1"
)

var (
	version   string
	gitCommit string
	gitTag    string
)

// Exit codes: 0 success, 1 floor miss or runtime failure, 2 bad configuration.
const (
	exitFailure = 1
	exitConfig  = 2
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "Gauntlet",
		Usage:     "multi-network EVM test orchestrator",
		Copyright: "2025 The Gauntlet developers",
		Flags: []cli.Flag{
			configDirFlag,
			dataDirFlag,
			artifactsDirFlag,
			verbosityFlag,
			metricsAddrFlag,
		},
		Commands: []cli.Command{
			{
				Name:  "run",
				Usage: "execute test phases against the selected networks",
				Flags: []cli.Flag{
					networksFlag,
					testsFlag,
					modeFlag,
					parallelFlag,
					maxConcurrentFlag,
					timeoutFlag,
					verboseFlag,
					retryUntilSuccessFlag,
					artifactsDirFlag,
				},
				Action: runAction,
			},
			{
				Name:  "deploy",
				Usage: "deploy missing test contracts to the selected networks",
				Flags: []cli.Flag{
					networksFlag,
					contractTypeFlag,
					timeoutFlag,
					verboseFlag,
					artifactsDirFlag,
				},
				Action: deployAction,
			},
			{
				Name:  "status",
				Usage: "probe configured networks and print a status table",
				Flags: []cli.Flag{
					networksFlag,
					watchFlag,
					watchIntervalFlag,
				},
				Action: statusAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFailure)
	}
}
