// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package pool manages reusable RPC providers and signers per network.
// Providers are cached by (chainID, endpoint) and reference counted; a signer
// always shares its network's pooled connection.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/co"
	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/log"
	"github.com/evmgauntlet/gauntlet/netreg"
)

var logger = log.WithContext("pkg", "pool")

// ErrChainIDMismatch is fatal: the node answered with a chain id different
// from the spec, so the spec (or the endpoint) is wrong.
var ErrChainIDMismatch = errors.New("pool: rpc chain id does not match spec")

const (
	dialTimeout       = 15 * time.Second
	defaultIdleWindow = 2 * time.Minute
	maintenanceTick   = 30 * time.Second
)

type provKey struct {
	chainID uint64
	url     string
}

// Provider is a pooled connection to one endpoint of one network.
type Provider struct {
	spec *netreg.Spec
	url  string
	rpc  *rpc.Client
	eth  *ethclient.Client
}

// Client exposes the typed RPC client.
func (p *Provider) Client() *ethclient.Client { return p.eth }

// Raw exposes the underlying rpc client for non-standard calls.
func (p *Provider) Raw() *rpc.Client { return p.rpc }

func (p *Provider) URL() string        { return p.url }
func (p *Provider) Spec() *netreg.Spec { return p.spec }
func (p *Provider) ChainID() uint64    { return p.spec.ChainID }

type entry struct {
	prov     *Provider
	refs     int
	idleFrom time.Time
}

// Pool caches providers and signers. Create one per process; Cleanup tears
// everything down.
type Pool struct {
	idleWindow time.Duration

	mu        sync.Mutex
	providers map[provKey]*entry
	signers   map[uint64]*Signer
	closed    bool

	cancel context.CancelFunc
	goes   co.Goes
	// woken by Release when a provider goes idle, so eviction happens at the
	// idle window rather than the next maintenance tick
	wake co.Signal

	// injectable for tests
	dial func(ctx context.Context, url string) (*rpc.Client, error)
}

// Option tweaks a Pool.
type Option func(*Pool)

// WithIdleWindow sets how long an unreferenced provider survives before the
// maintenance tick may evict it.
func WithIdleWindow(d time.Duration) Option {
	return func(p *Pool) { p.idleWindow = d }
}

func New(opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		idleWindow: defaultIdleWindow,
		providers:  make(map[provKey]*entry),
		signers:    make(map[uint64]*Signer),
		cancel:     cancel,
		dial: func(ctx context.Context, url string) (*rpc.Client, error) {
			return rpc.DialContext(ctx, url)
		},
	}
	for _, o := range opts {
		o(p)
	}
	p.goes.Go(func() { p.maintenanceLoop(ctx) })
	return p
}

// Provider returns the pooled provider for spec's primary endpoint, dialing
// and performing the chain-id handshake on first use. Each successful call
// increments the reference count; pair with Release.
func (p *Pool) Provider(ctx context.Context, spec *netreg.Spec) (*Provider, error) {
	url := spec.PrimaryEndpoint()
	key := provKey{spec.ChainID, url}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("pool: closed")
	}
	if e, ok := p.providers[key]; ok {
		e.refs++
		p.mu.Unlock()
		return e.prov, nil
	}
	p.mu.Unlock()

	// Dial outside the lock; a racing duplicate is resolved below.
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	rpcClient, err := p.dial(dctx, url)
	if err != nil {
		return nil, errs.Wrap(errs.CategoryConnection, errors.Wrapf(err, "pool: dial %s", url))
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(dctx)
	if err != nil {
		rpcClient.Close()
		return nil, errs.Wrap(errs.CategoryConnection, errors.Wrap(err, "pool: chain id handshake"))
	}
	if !chainID.IsUint64() || chainID.Uint64() != spec.ChainID {
		rpcClient.Close()
		return nil, errors.Wrapf(ErrChainIDMismatch, "network %s: config %d, rpc %s", spec.ID, spec.ChainID, chainID)
	}

	prov := &Provider{spec: spec, url: url, rpc: rpcClient, eth: eth}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		rpcClient.Close()
		return nil, errors.New("pool: closed")
	}
	if e, ok := p.providers[key]; ok {
		rpcClient.Close()
		e.refs++
		return e.prov, nil
	}
	p.providers[key] = &entry{prov: prov, refs: 1}
	logger.Info("provider created", "network", spec.ID, "endpoint", url)
	return prov, nil
}

// Release decrements the provider's reference count. At zero the provider
// becomes eligible for eviction after the idle window, not sooner.
func (p *Pool) Release(prov *Provider) {
	if prov == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.providers[provKey{prov.ChainID(), prov.url}]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
	if e.refs == 0 {
		e.idleFrom = time.Now()
		p.wake.Signal()
	}
}

func (p *Pool) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(maintenanceTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake.Waiter():
			// a provider just went idle; check again once its window elapsed
			timer := time.NewTimer(p.idleWindow)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		p.evictIdle()
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for key, e := range p.providers {
		if e.refs == 0 && now.Sub(e.idleFrom) >= p.idleWindow {
			e.prov.rpc.Close()
			delete(p.providers, key)
			logger.Debug("idle provider evicted", "network", e.prov.spec.ID, "endpoint", key.url)
		}
	}
}

// Cleanup closes every provider and signer. Safe to call more than once.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
	for key, e := range p.providers {
		e.prov.rpc.Close()
		delete(p.providers, key)
	}
	p.signers = make(map[uint64]*Signer)
	logger.Debug("pool cleaned up")
}

// stats for tests and the status surface
func (p *Pool) providerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.providers)
}
