// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package runner

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmgauntlet/gauntlet/artifact"
	"github.com/evmgauntlet/gauntlet/bus"
	"github.com/evmgauntlet/gauntlet/fortest"
	"github.com/evmgauntlet/gauntlet/gas"
	"github.com/evmgauntlet/gauntlet/netreg"
	"github.com/evmgauntlet/gauntlet/pool"
	"github.com/evmgauntlet/gauntlet/registry"
	"github.com/evmgauntlet/gauntlet/resultdb"
	"github.com/evmgauntlet/gauntlet/retry"
)

const specDoc = `
id: %s
name: %s
chainId: %d
symbol: ETH
type: local
rpc:
  public:
    - %s
gas:
  strategy: fixed
  requiredGwei: 1
timeouts:
  send: 5s
  receipt: 5s
  deployment: 5s
  confirmation: 5s
finalityBlocks: 2
pollInterval: 25ms
`

type netDef struct {
	id      string
	chainID uint64
	url     string
}

type harness struct {
	runner    *Runner
	store     *resultdb.Store
	pool      *pool.Pool
	contracts *registry.Registry
	networks  *netreg.Registry
}

func newHarness(t *testing.T, artifactDir string, nets []netDef) *harness {
	t.Helper()

	dir := t.TempDir()
	for _, n := range nets {
		doc := fmt.Sprintf(specDoc, n.id, n.id, n.chainID, n.url)
		require.NoError(t, os.WriteFile(filepath.Join(dir, n.id+".yaml"), []byte(doc), 0o600))
	}
	networks := netreg.New(dir)
	require.NoError(t, networks.Load())

	store, err := resultdb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := pool.New()
	t.Cleanup(p.Cleanup)

	retryMgr := retry.NewManager()
	contracts := registry.New(store, p, retryMgr)

	r := New(Deps{
		Networks:  networks,
		Pool:      p,
		Gas:       gas.NewManager(),
		Retry:     retryMgr,
		Store:     store,
		Contracts: contracts,
		Artifacts: artifact.NewLoader(artifactDir),
		Bus:       bus.New(),
	})
	return &harness{runner: r, store: store, pool: p, contracts: contracts, networks: networks}
}

func writeArtifact(t *testing.T, dir, name string) {
	t.Helper()
	sub := filepath.Join(dir, "artifacts", "contracts", name+".sol")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	doc := fmt.Sprintf(`{"contractName":%q,"abi":[],"bytecode":"0x600a80600c6000396000f3fe6001600055"}`, name)
	require.NoError(t, os.WriteFile(filepath.Join(sub, name+".json"), []byte(doc), 0o600))
}

// seedEVMContracts makes the evm phase all-green on node: an active
// PrecompileTest deployment with code behind it, and 32-byte call results that
// satisfy both the sha256 length check and the identity echo check.
func seedEVMContracts(t *testing.T, h *harness, node *fortest.Node, network string, chainID uint64) {
	t.Helper()
	addr := fortest.Accounts[2].Address
	node.SetCode(addr, []byte{0x60, 0x0a})
	node.SetCallResult(make([]byte, 32))
	require.NoError(t, h.contracts.Save(&resultdb.Deployment{
		Network: network,
		ChainID: chainID,
		Name:    "PrecompileTest",
		Type:    "evm",
		Address: addr.Hex(),
		ABI:     "[]",
	}))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("stress")
	require.NoError(t, err)
	assert.Equal(t, ModeStress, m)

	_, err = ParseMode("chaos")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestOptionsNormalize(t *testing.T) {
	var o Options
	assert.ErrorIs(t, o.normalize(), ErrConfig)

	o = Options{Networks: []string{"a"}, Mode: ModeParallel}
	require.NoError(t, o.normalize())
	assert.True(t, o.Parallel)
	assert.Equal(t, []string{TestEVM}, o.Tests)
	assert.Equal(t, 5, o.MaxConcurrent)
	assert.InDelta(t, 0.9, o.DeFiFloor, 1e-9)

	o = Options{Networks: []string{"a"}, Tests: []string{"bogus"}}
	assert.ErrorIs(t, o.normalize(), ErrConfig)

	// fixed phase order regardless of selection order
	o = Options{Networks: []string{"a"}, Tests: []string{TestLoad, TestEVM}}
	require.NoError(t, o.normalize())
	assert.Equal(t, []string{TestEVM, TestLoad}, o.orderedTests())
}

func TestDeploymentModeDeploysMissing(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	artDir := t.TempDir()
	writeArtifact(t, artDir, "SimpleStorage")
	h := newHarness(t, artDir, []netDef{{"alpha", 31337, node.URL()}})

	summary, err := h.runner.Run(context.Background(), Options{
		Networks:     []string{"alpha"},
		Mode:         ModeDeployment,
		ContractType: "load",
		PrivateKey:   fortest.Accounts[0].Hex,
	})
	require.NoError(t, err)
	assert.True(t, summary.FloorMet)
	assert.Equal(t, 1, summary.Totals.Total)
	assert.Equal(t, 1, summary.Totals.Successful)

	d, err := h.contracts.Active(31337, "load", "SimpleStorage")
	require.NoError(t, err)
	assert.NotEmpty(t, d.Address)
	sent := node.SentCount()

	// second run finds everything deployed and sends nothing
	summary, err = h.runner.Run(context.Background(), Options{
		Networks:     []string{"alpha"},
		Mode:         ModeDeployment,
		ContractType: "load",
		PrivateKey:   fortest.Accounts[0].Hex,
	})
	require.NoError(t, err)
	assert.True(t, summary.FloorMet)
	assert.Equal(t, 0, summary.Totals.Total)
	assert.Equal(t, sent, node.SentCount())
}

func TestEVMPhaseAllGreen(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	h := newHarness(t, t.TempDir(), []netDef{{"alpha", 31337, node.URL()}})
	seedEVMContracts(t, h, node, "alpha", 31337)

	summary, err := h.runner.Run(context.Background(), Options{
		Networks:   []string{"alpha"},
		Tests:      []string{TestEVM},
		PrivateKey: fortest.Accounts[0].Hex,
	})
	require.NoError(t, err)
	assert.True(t, summary.FloorMet)
	assert.Equal(t, 6, summary.Totals.Total)
	assert.Equal(t, 6, summary.Totals.Successful)

	run, err := h.store.GetTestRun(summary.RunID)
	require.NoError(t, err)
	assert.False(t, run.EndTime.IsZero())
	assert.Equal(t, []string{TestEVM}, run.TestTypes)
}

func TestMissingContractsFailsNetwork(t *testing.T) {
	alpha := fortest.NewNode(t, 31337)
	beta := fortest.NewNode(t, 31338)
	h := newHarness(t, t.TempDir(), []netDef{
		{"alpha", 31337, alpha.URL()},
		{"beta", 31338, beta.URL()},
	})
	seedEVMContracts(t, h, alpha, "alpha", 31337)
	// beta has no deployments and no env fallback

	summary, err := h.runner.Run(context.Background(), Options{
		Networks:   []string{"alpha", "beta"},
		Tests:      []string{TestEVM},
		Mode:       ModeSequential,
		PrivateKey: fortest.Accounts[0].Hex,
	})
	require.NoError(t, err)
	assert.False(t, summary.FloorMet)

	require.Contains(t, summary.PerNetwork, "alpha")
	require.Contains(t, summary.PerNetwork, "beta")
	assert.True(t, summary.PerNetwork["alpha"].Success)
	assert.False(t, summary.PerNetwork["beta"].Success)
	assert.Contains(t, summary.PerNetwork["beta"].Error, "no evm test contracts")
	assert.Equal(t, 0, summary.PerNetwork["beta"].Totals.Total)
}

func TestRetryUntilSuccessRerunsFailures(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	h := newHarness(t, t.TempDir(), []netDef{{"alpha", 31337, node.URL()}})
	seedEVMContracts(t, h, node, "alpha", 31337)
	node.FailNextSends(1, "boom")

	summary, err := h.runner.Run(context.Background(), Options{
		Networks:          []string{"alpha"},
		Tests:             []string{TestEVM},
		PrivateKey:        fortest.Accounts[0].Hex,
		RetryUntilSuccess: true,
	})
	require.NoError(t, err)
	assert.True(t, summary.FloorMet)
	// 6 first-attempt rows plus the one rerun of eth-transfer
	assert.Equal(t, 7, summary.Totals.Total)
	assert.Equal(t, 1, summary.Totals.Failed)

	failed, err := h.runner.FailedTests(summary.RunID, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"eth-transfer"}, failed)
}

func TestReplacedTransactionIsSuccess(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	h := newHarness(t, t.TempDir(), []netDef{{"alpha", 31337, node.URL()}})
	loaded, ok := h.networks.Get("alpha")
	require.True(t, ok)
	specCopy := *loaded
	specCopy.Timeouts.Receipt = 2 * time.Second
	specCopy.PollInterval = 50 * time.Millisecond
	spec := &specCopy

	prov, err := h.pool.Provider(context.Background(), spec)
	require.NoError(t, err)
	defer h.pool.Release(prov)
	signer, err := h.pool.Signer(context.Background(), spec, fortest.Accounts[0].Hex)
	require.NoError(t, err)

	nc := &netCtx{
		runner: h.runner,
		spec:   spec,
		prov:   prov,
		signer: signer,
		opts:   &Options{GraceWindow: 5 * time.Second},
		runID:  "test",
	}

	node.HoldReceipts(true)
	go func() {
		time.Sleep(1300 * time.Millisecond)
		node.ReleaseReceipts()
	}()

	self := signer.Address()
	start := time.Now()
	out := nc.sendAndConfirm(context.Background(), &self, big.NewInt(1), nil, false)
	assert.Equal(t, txReplaced, out.state)
	assert.True(t, out.success())
	assert.True(t, out.replaced)
	assert.Equal(t, 2, node.SentCount())

	row := nc.result(TestEVM, "eth-transfer", start, out)
	assert.True(t, row.Success)
	assert.Contains(t, row.Metadata, `"replaced":true`)
}

func TestCancelledContextSkipsPhases(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	h := newHarness(t, t.TempDir(), []netDef{{"alpha", 31337, node.URL()}})
	seedEVMContracts(t, h, node, "alpha", 31337)

	// warm the pool so the cancelled run does not fail at dial
	spec, _ := h.networks.Get("alpha")
	prov, err := h.pool.Provider(context.Background(), spec)
	require.NoError(t, err)
	defer h.pool.Release(prov)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := h.runner.Run(ctx, Options{
		Networks:   []string{"alpha"},
		Tests:      []string{TestEVM},
		PrivateKey: fortest.Accounts[0].Hex,
	})
	require.NoError(t, err)
	assert.False(t, summary.FloorMet)
	assert.False(t, summary.PerNetwork["alpha"].Success)
	assert.Equal(t, 0, summary.Totals.Total)
}

func TestParallelNetworksAreIndependent(t *testing.T) {
	alpha := fortest.NewNode(t, 31337)
	h := newHarness(t, t.TempDir(), []netDef{
		{"alpha", 31337, alpha.URL()},
		{"beta", 31338, "http://127.0.0.1:1"},
	})
	seedEVMContracts(t, h, alpha, "alpha", 31337)

	summary, err := h.runner.Run(context.Background(), Options{
		Networks:   []string{"alpha", "beta"},
		Tests:      []string{TestEVM},
		Mode:       ModeParallel,
		PrivateKey: fortest.Accounts[0].Hex,
	})
	require.NoError(t, err)
	assert.False(t, summary.FloorMet)
	assert.True(t, summary.PerNetwork["alpha"].Success)
	assert.False(t, summary.PerNetwork["beta"].Success)
	assert.NotEmpty(t, summary.PerNetwork["beta"].Error)
}

func TestLoadPhaseFallsBackToTransfers(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	h := newHarness(t, t.TempDir(), []netDef{{"alpha", 31337, node.URL()}})

	summary, err := h.runner.Run(context.Background(), Options{
		Networks:      []string{"alpha"},
		Tests:         []string{TestLoad},
		PrivateKey:    fortest.Accounts[0].Hex,
		LoadTxCount:   3,
		MaxConcurrent: 1,
	})
	require.NoError(t, err)
	assert.True(t, summary.FloorMet)
	assert.Equal(t, 3, summary.Totals.Total)
	assert.Equal(t, 3, summary.Totals.Successful)

	tps, err := h.store.GetMetrics(resultdb.MetricFilter{Network: "alpha", Name: "tps"})
	require.NoError(t, err)
	require.Len(t, tps, 1)
	assert.Greater(t, tps[0].Value, 0.0)
}

func TestFinalityPhaseMeasuresDepth(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	node.SetAutoAdvance(true)
	h := newHarness(t, t.TempDir(), []netDef{{"alpha", 31337, node.URL()}})

	summary, err := h.runner.Run(context.Background(), Options{
		Networks:        []string{"alpha"},
		Tests:           []string{TestFinality},
		PrivateKey:      fortest.Accounts[0].Hex,
		FinalityTxCount: 1,
	})
	require.NoError(t, err)
	assert.True(t, summary.FloorMet)
	assert.Equal(t, 1, summary.Totals.Total)
	assert.Equal(t, 1, summary.Totals.Successful)

	for _, name := range []string{"confirmation_time", "finality_time"} {
		samples, err := h.store.GetMetrics(resultdb.MetricFilter{Network: "alpha", Name: name})
		require.NoError(t, err)
		require.Len(t, samples, 1, name)
		assert.GreaterOrEqual(t, samples[0].Value, 0.0)
	}
}

func TestProbeNetworks(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	h := newHarness(t, t.TempDir(), []netDef{
		{"alpha", 31337, node.URL()},
		{"ghost", 31338, "http://127.0.0.1:1"},
	})

	statuses, err := h.runner.ProbeNetworks(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byID := make(map[string]*resultdb.NetworkStatus)
	for _, s := range statuses {
		byID[s.Network] = s
	}
	require.Contains(t, byID, "alpha")
	require.Contains(t, byID, "ghost")
	assert.True(t, byID["alpha"].Online)
	assert.Greater(t, byID["alpha"].BlockNumber, uint64(0))
	assert.False(t, byID["alpha"].GasPrice.IsZero())
	assert.False(t, byID["ghost"].Online)
	assert.NotEmpty(t, byID["ghost"].Error)

	persisted, err := h.store.GetNetworkStatus("alpha", 10)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, byID["alpha"].BlockNumber, persisted[0].BlockNumber)

	_, err = h.runner.ProbeNetworks(context.Background(), []string{"nope"})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestUnknownNetworkIsConfigError(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	h := newHarness(t, t.TempDir(), []netDef{{"alpha", 31337, node.URL()}})

	_, err := h.runner.Run(context.Background(), Options{
		Networks:   []string{"missing"},
		PrivateKey: fortest.Accounts[0].Hex,
	})
	assert.ErrorIs(t, err, ErrConfig)
}
