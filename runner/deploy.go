// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package runner

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/resultdb"
)

// expectedContracts is the target set per contract type. Deployment mode
// deploys whichever of these the registry does not already have active.
var expectedContracts = map[string][]string{
	"evm":  {"PrecompileTest", "AssemblyTest"},
	"defi": {"TestToken", "RewardToken", "DEX", "LendingProtocol", "YieldFarm", "NFTCollection", "MultiSigWallet"},
	"load": {"SimpleStorage"},
}

// phase is one schedulable unit of work on one network.
type phase interface {
	name() string
	floor(opts *Options) float64
	// run executes the phase's sub-tests. A non-nil only set restricts the
	// pass to those sub-test names. The returned error is reserved for
	// phase-fatal conditions; individual sub-test failures are rows.
	run(ctx context.Context, nc *netCtx, only map[string]bool) ([]*resultdb.TestResult, error)
}

type deployPhase struct {
	contractType string
}

func (p *deployPhase) name() string           { return "deployment" }
func (p *deployPhase) floor(*Options) float64 { return 1.0 }

func (p *deployPhase) run(ctx context.Context, nc *netCtx, only map[string]bool) ([]*resultdb.TestResult, error) {
	types := []string{p.contractType}
	if p.contractType == "" {
		types = types[:0]
		for t := range expectedContracts {
			types = append(types, t)
		}
		sort.Strings(types)
	}

	var rows []*resultdb.TestResult
	for _, contractType := range types {
		expected, ok := expectedContracts[contractType]
		if !ok {
			return nil, errors.Wrapf(ErrConfig, "unknown contract type %q", contractType)
		}

		active, err := nc.runner.contracts.ActiveByType(nc.spec.ChainID, contractType)
		if err != nil {
			return nil, err
		}
		have := make(map[string]bool, len(active))
		for _, d := range active {
			have[d.Name] = true
		}

		for _, name := range expected {
			testName := "deploy-" + name
			if only != nil && !only[testName] {
				continue
			}
			if have[name] && only == nil {
				logger.Debug("already deployed", "network", nc.spec.ID, "contract", name)
				continue
			}
			rows = append(rows, p.deployOne(ctx, nc, contractType, name))
		}
	}
	return rows, nil
}

func (p *deployPhase) deployOne(ctx context.Context, nc *netCtx, contractType, name string) *resultdb.TestResult {
	start := time.Now()
	testName := "deploy-" + name

	art, err := nc.runner.artifacts.Load(name)
	if err != nil {
		return &resultdb.TestResult{
			Network: nc.spec.ID, TestType: "deployment", TestName: testName,
			StartTime: start, EndTime: time.Now(),
			Error: err.Error(), ErrorCategory: errs.CategoryUnknown,
		}
	}

	out := nc.sendAndConfirm(ctx, nil, big.NewInt(0), art.Bytecode, true)
	row := nc.result("deployment", testName, start, out)
	if !out.success() {
		return row
	}

	if err := nc.runner.contracts.Save(&resultdb.Deployment{
		Network:     nc.spec.ID,
		ChainID:     nc.spec.ChainID,
		Name:        name,
		Type:        contractType,
		Address:     out.contractAddress.Hex(),
		TxHash:      out.hash.Hex(),
		BlockNumber: out.blockNumber,
		GasUsed:     out.gasUsed,
		GasPrice:    out.effectivePrice,
		Deployer:    nc.signer.Address().Hex(),
		ABI:         string(art.RawABI),
	}); err != nil {
		row.Success = false
		row.Error = err.Error()
		row.ErrorCategory = errs.CategoryUnknown
	}
	return row
}
