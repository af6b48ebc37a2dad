// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/netreg"
)

// Signer owns a private key and a pending-nonce tracker for one network. It
// shares the pool's provider for that network, so nonce state and connection
// state stay consistent. Nonces are handed out strictly monotonically; a
// nonce once returned is never reissued unless Resync is called after a
// chain-side nonce error.
type Signer struct {
	key      *ecdsa.PrivateKey
	addr     common.Address
	chainID  *big.Int
	provider *Provider

	mu        sync.Mutex
	nonce     uint64
	nonceInit bool
}

// ErrSignerKeyMismatch means a signer for the network already exists under a
// different key. Nonce tracking is per account, so a silent key swap would
// sign with the wrong account.
var ErrSignerKeyMismatch = errors.New("pool: network already has a signer with a different key")

// Signer returns a signer for spec bound to the pool's provider. The key is
// a hex-encoded secp256k1 private key, with or without 0x prefix. The same
// signer is reused for repeat calls with the same network and key; a repeat
// call with a different key is an error.
func (p *Pool) Signer(ctx context.Context, spec *netreg.Spec, privateKeyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "pool: parse private key")
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	p.mu.Lock()
	if s, ok := p.signers[spec.ChainID]; ok {
		p.mu.Unlock()
		if s.addr != addr {
			return nil, errors.Wrapf(ErrSignerKeyMismatch, "network %s: cached %s, requested %s",
				spec.ID, s.addr, addr)
		}
		return s, nil
	}
	p.mu.Unlock()

	prov, err := p.Provider(ctx, spec)
	if err != nil {
		return nil, err
	}

	s := &Signer{
		key:      key,
		addr:     addr,
		chainID:  new(big.Int).SetUint64(spec.ChainID),
		provider: prov,
	}

	p.mu.Lock()
	if existing, ok := p.signers[spec.ChainID]; ok {
		p.mu.Unlock()
		// lost the race; drop our extra provider reference
		p.Release(prov)
		if existing.addr != addr {
			return nil, errors.Wrapf(ErrSignerKeyMismatch, "network %s: cached %s, requested %s",
				spec.ID, existing.addr, addr)
		}
		return existing, nil
	}
	p.signers[spec.ChainID] = s
	p.mu.Unlock()
	return s, nil
}

// Address is the account the signer sends from.
func (s *Signer) Address() common.Address { return s.addr }

// Provider is the pooled provider the signer is bound to.
func (s *Signer) Provider() *Provider { return s.provider }

// NextNonce returns the next pending nonce, fetching from the chain only on
// first use. Subsequent calls increment locally, avoiding an RPC round trip
// per transaction.
func (s *Signer) NextNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.nonceInit {
		n, err := s.provider.Client().PendingNonceAt(ctx, s.addr)
		if err != nil {
			return 0, errs.Classify(errors.Wrap(err, "pool: fetch pending nonce"))
		}
		s.nonce = n
		s.nonceInit = true
	}
	n := s.nonce
	s.nonce++
	return n, nil
}

// PeekNonce returns the nonce the next NextNonce call would hand out.
func (s *Signer) PeekNonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce
}

// Resync refetches the pending nonce from the chain. Call after a nonce-class
// error; the local counter is replaced wholesale.
func (s *Signer) Resync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.provider.Client().PendingNonceAt(ctx, s.addr)
	if err != nil {
		return errs.Classify(errors.Wrap(err, "pool: resync nonce"))
	}
	s.nonce = n
	s.nonceInit = true
	return nil
}

// SignTx signs tx for the signer's chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
}

// SendTx signs and submits tx, returning the signed transaction whose hash
// callers track for the receipt.
func (s *Signer) SendTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signed, err := s.SignTx(tx)
	if err != nil {
		return nil, errors.Wrap(err, "pool: sign tx")
	}
	if err := s.provider.Client().SendTransaction(ctx, signed); err != nil {
		return nil, errs.Classify(err)
	}
	return signed, nil
}
