// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package runner

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/resultdb"
)

// selector is the 4-byte method id of a canonical signature.
func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// packCall encodes selector plus 32-byte-padded words.
func packCall(sig string, words ...[]byte) []byte {
	data := selector(sig)
	for _, w := range words {
		data = append(data, common.LeftPadBytes(w, 32)...)
	}
	return data
}

type defiPhase struct{}

func (p *defiPhase) name() string { return TestDeFi }

func (p *defiPhase) floor(opts *Options) float64 { return opts.DeFiFloor }

// run walks the scripted DeFi sequence: token transfers and approvals, a DEX
// trade, lending, yield, NFT and multisig operations, each against the
// registry's active deployment of the matching contract. A sub-test whose
// contract is not deployed fails with a configuration error; the floor
// decides whether the phase survives.
func (p *defiPhase) run(ctx context.Context, nc *netCtx, only map[string]bool) ([]*resultdb.TestResult, error) {
	active, err := nc.runner.contracts.ActiveByType(nc.spec.ChainID, "defi")
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, errors.Wrapf(ErrConfig, "network %s has no defi deployments", nc.spec.ID)
	}
	byName := make(map[string]common.Address, len(active))
	for _, d := range active {
		byName[d.Name] = common.HexToAddress(d.Address)
	}

	recipient := nc.sender()
	one := big.NewInt(1).Bytes()

	steps := []struct {
		name     string
		contract string
		data     func(addr common.Address) []byte
	}{
		{"token-transfer", "TestToken", func(common.Address) []byte {
			return packCall("transfer(address,uint256)", recipient.Bytes(), one)
		}},
		{"token-approve", "TestToken", func(addr common.Address) []byte {
			spender := byName["DEX"]
			return packCall("approve(address,uint256)", spender.Bytes(), one)
		}},
		{"reward-transfer", "RewardToken", func(common.Address) []byte {
			return packCall("transfer(address,uint256)", recipient.Bytes(), one)
		}},
		{"dex-swap", "DEX", func(addr common.Address) []byte {
			tokenIn := byName["TestToken"]
			tokenOut := byName["RewardToken"]
			return packCall("swap(address,address,uint256)", tokenIn.Bytes(), tokenOut.Bytes(), one)
		}},
		{"lending-deposit", "LendingProtocol", func(common.Address) []byte {
			token := byName["TestToken"]
			return packCall("deposit(address,uint256)", token.Bytes(), one)
		}},
		{"yield-stake", "YieldFarm", func(common.Address) []byte {
			return packCall("stake(uint256)", one)
		}},
		{"nft-mint", "NFTCollection", func(common.Address) []byte {
			return packCall("mint(address)", recipient.Bytes())
		}},
		{"multisig-submit", "MultiSigWallet", func(common.Address) []byte {
			return packCall("submitTransaction(address,uint256)", recipient.Bytes(), one)
		}},
	}

	var rows []*resultdb.TestResult
	for _, step := range steps {
		if only != nil && !only[step.name] {
			continue
		}
		start := time.Now()
		addr, ok := byName[step.contract]
		if !ok {
			rows = append(rows, &resultdb.TestResult{
				Network: nc.spec.ID, TestType: TestDeFi, TestName: step.name,
				StartTime: start, EndTime: time.Now(),
				Error:         step.contract + " not deployed",
				ErrorCategory: errs.CategoryUnknown,
			})
			continue
		}
		out := nc.sendAndConfirm(ctx, &addr, big.NewInt(0), step.data(addr), false)
		rows = append(rows, nc.result(TestDeFi, step.name, start, out))
	}
	return rows, nil
}
