// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package netreg loads and indexes declarative network specs. A spec file is
// a YAML document named after the network id; ${VAR} placeholders are
// expanded against the process environment at load time. Loaded specs are
// immutable; Refresh publishes a whole new snapshot.
package netreg

import (
	"fmt"
	"strings"
	"time"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/wei"
)

// NetworkType tells how careful the orchestrator should be with funds.
type NetworkType string

const (
	TypeMainnet NetworkType = "mainnet"
	TypeTestnet NetworkType = "testnet"
	TypeLocal   NetworkType = "local"
)

// GasStrategy selects the pricing rule in the gas manager.
type GasStrategy string

const (
	GasFixed    GasStrategy = "fixed"
	GasAdaptive GasStrategy = "adaptive"
	GasDynamic  GasStrategy = "dynamic"
)

// Feature is a bit in the network feature set.
type Feature uint32

const (
	FeatureEIP1559 Feature = 1 << iota
	FeatureCreate2
	FeaturePUSH0
	FeatureBlobTx
)

var featureNames = map[string]Feature{
	"eip1559": FeatureEIP1559,
	"create2": FeatureCreate2,
	"push0":   FeaturePUSH0,
	"blobtx":  FeatureBlobTx,
}

// Has reports whether all bits of f2 are present in f.
func (f Feature) Has(f2 Feature) bool { return f&f2 == f2 }

// Explorer builds block-explorer links for reports.
type Explorer struct {
	URL         string
	TxPath      string
	AddressPath string
}

// TxURL renders the explorer link for a transaction hash.
func (e Explorer) TxURL(hash string) string {
	if e.URL == "" {
		return ""
	}
	path := e.TxPath
	if path == "" {
		path = "/tx/{hash}"
	}
	return e.URL + strings.ReplaceAll(path, "{hash}", hash)
}

// AddressURL renders the explorer link for an address.
func (e Explorer) AddressURL(addr string) string {
	if e.URL == "" {
		return ""
	}
	path := e.AddressPath
	if path == "" {
		path = "/address/{address}"
	}
	return e.URL + strings.ReplaceAll(path, "{address}", addr)
}

// Faucet describes where test funds come from on testnets.
type Faucet struct {
	URL      string
	Amount   string
	Cooldown time.Duration
}

// GasConfig is the tagged gas pricing rule. Which fields are required
// depends on Strategy; Validate enforces that.
type GasConfig struct {
	Strategy GasStrategy
	// fixed
	Required  wei.Amount
	Tolerance wei.Amount
	// adaptive
	Base wei.Amount
	// adaptive + dynamic
	Fallback wei.Amount
	// dynamic; zero means uncapped
	MaxGasPrice wei.Amount
	// optional mainnet reference for cost comparison
	MainnetGasPrice wei.Amount
}

// Validate checks strategy-specific required fields. A failure here is a
// programmer/config error, never retried.
func (g GasConfig) Validate() error {
	switch g.Strategy {
	case GasFixed:
		if g.Required.IsZero() {
			return fmt.Errorf("gas: fixed strategy requires a price")
		}
	case GasAdaptive:
		if g.Base.IsZero() {
			return fmt.Errorf("gas: adaptive strategy requires a base price")
		}
		if g.Fallback.IsZero() {
			return fmt.Errorf("gas: adaptive strategy requires a fallback price")
		}
	case GasDynamic:
		if g.Fallback.IsZero() {
			return fmt.Errorf("gas: dynamic strategy requires a fallback price")
		}
	default:
		return fmt.Errorf("gas: unknown strategy %q", g.Strategy)
	}
	return nil
}

// Timeouts are the per-operation deadlines for a network.
type Timeouts struct {
	Send         time.Duration
	Receipt      time.Duration
	Deployment   time.Duration
	Confirmation time.Duration
}

// RetryOverride tunes retry behavior for one error class on one network.
type RetryOverride struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Spec is the immutable description of one network. Values are fully derived
// at load time (gwei converted to wei, env templates expanded).
type Spec struct {
	ID       string
	Name     string
	ChainID  uint64
	Symbol   string
	Type     NetworkType
	Features Feature

	// RPCEndpoints is non-empty and ordered by preference.
	RPCEndpoints []string
	WSEndpoints  []string

	Explorer Explorer
	Faucet   *Faucet

	Gas      GasConfig
	Timeouts Timeouts

	// FinalityBlocks is how many blocks past inclusion count as final.
	FinalityBlocks uint64
	PollInterval   time.Duration

	Retry map[errs.Category]RetryOverride
}

// PrimaryEndpoint returns the first usable RPC URL.
func (s *Spec) PrimaryEndpoint() string {
	return s.RPCEndpoints[0]
}

// IsTestnet reports whether it is safe to burn funds on this network.
func (s *Spec) IsTestnet() bool {
	return s.Type == TypeTestnet || s.Type == TypeLocal
}

const (
	defaultSendTimeout    = 30 * time.Second
	defaultReceiptTimeout = 2 * time.Minute
	defaultDeployTimeout  = 5 * time.Minute
	defaultConfirmTimeout = 3 * time.Minute
	defaultPollInterval   = 4 * time.Second
	defaultFinalityBlocks = 3
)
