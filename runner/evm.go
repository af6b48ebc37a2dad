// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package runner

import (
	"bytes"
	"context"
	"math/big"
	"os"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/resultdb"
)

// Fixed precompile addresses exercised by the compatibility checks.
var (
	precompileEcrecover = common.BytesToAddress([]byte{0x01})
	precompileSha256    = common.BytesToAddress([]byte{0x02})
	precompileIdentity  = common.BytesToAddress([]byte{0x04})
)

type evmPhase struct{}

func (p *evmPhase) name() string           { return TestEVM }
func (p *evmPhase) floor(*Options) float64 { return 1.0 }

// resolveContract finds the network's active test contract of the given name,
// falling back to the legacy per-network env override (<ID>_PRECOMPILE_TEST
// style) when the registry is empty.
func (nc *netCtx) resolveContract(contractType, name, envSuffix string) (common.Address, bool) {
	if d, err := nc.runner.contracts.Active(nc.spec.ChainID, contractType, name); err == nil {
		return common.HexToAddress(d.Address), true
	}
	envKey := strings.ToUpper(strings.ReplaceAll(nc.spec.ID, "-", "_")) + "_" + envSuffix
	if v := os.Getenv(envKey); common.IsHexAddress(v) {
		logger.Warn("registry empty, using env fallback", "network", nc.spec.ID, "env", envKey)
		return common.HexToAddress(v), true
	}
	return common.Address{}, false
}

func (p *evmPhase) run(ctx context.Context, nc *netCtx, only map[string]bool) ([]*resultdb.TestResult, error) {
	target, ok := nc.resolveContract("evm", "PrecompileTest", "PRECOMPILE_TEST")
	if !ok {
		return nil, errors.Wrapf(ErrConfig, "network %s has no evm test contracts and no env fallback", nc.spec.ID)
	}

	tests := []struct {
		name string
		run  func(context.Context) error
	}{
		{"eth-transfer", func(ctx context.Context) error { return p.ethTransfer(ctx, nc) }},
		{"precompile-ecrecover", func(ctx context.Context) error {
			_, err := p.call(ctx, nc, precompileEcrecover, make([]byte, 128))
			return err
		}},
		{"precompile-sha256", func(ctx context.Context) error {
			out, err := p.call(ctx, nc, precompileSha256, []byte("gauntlet"))
			if err != nil {
				return err
			}
			if len(out) != 32 {
				return errors.Errorf("sha256 precompile returned %d bytes, want 32", len(out))
			}
			return nil
		}},
		{"precompile-identity", func(ctx context.Context) error {
			payload := make([]byte, 32)
			out, err := p.call(ctx, nc, precompileIdentity, payload)
			if err != nil {
				return err
			}
			if !bytes.Equal(out, payload) {
				return errors.New("identity precompile did not echo its input")
			}
			return nil
		}},
		{"contract-code", func(ctx context.Context) error {
			code, err := nc.prov.Client().CodeAt(ctx, target, nil)
			if err != nil {
				return errs.Classify(err)
			}
			if len(code) == 0 {
				return errors.Errorf("no code at %s", target.Hex())
			}
			return nil
		}},
		{"assembly-ops", func(ctx context.Context) error { return p.assemblyOps(ctx, nc, target) }},
	}

	var rows []*resultdb.TestResult
	for _, test := range tests {
		if only != nil && !only[test.name] {
			continue
		}
		start := time.Now()
		err := test.run(ctx)
		row := &resultdb.TestResult{
			Network:   nc.spec.ID,
			TestType:  TestEVM,
			TestName:  test.name,
			Success:   err == nil,
			StartTime: start,
			EndTime:   time.Now(),
		}
		if err != nil {
			row.Error = err.Error()
			row.ErrorCategory = errs.CategoryOf(err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ethTransfer sends one wei to the signer itself, exercising the full
// submit-to-receipt path including nonce handling.
func (p *evmPhase) ethTransfer(ctx context.Context, nc *netCtx) error {
	self := nc.sender()
	out := nc.sendAndConfirm(ctx, &self, big.NewInt(1), nil, false)
	if !out.success() {
		return out.err
	}
	return nil
}

func (p *evmPhase) call(ctx context.Context, nc *netCtx, to common.Address, data []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, nc.sendTimeout())
	defer cancel()
	out, err := nc.prov.Client().CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errs.Classify(err)
	}
	return out, nil
}

// assemblyOps calls the assembly test contract's entry points by selector,
// falling back to the precompile test contract when none is deployed.
func (p *evmPhase) assemblyOps(ctx context.Context, nc *netCtx, fallback common.Address) error {
	target := fallback
	if addr, ok := nc.resolveContract("evm", "AssemblyTest", "ASSEMBLY_TEST"); ok {
		target = addr
	}
	for _, sig := range []string{"testMemoryOps()", "testStorageOps()", "testCallOps()"} {
		if _, err := p.call(ctx, nc, target, selector(sig)); err != nil {
			return errors.Wrapf(err, "assembly op %s", sig)
		}
	}
	return nil
}
