// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package fortest carries fixtures shared by package tests: throwaway dev
// accounts and an in-process fake JSON-RPC node.
package fortest

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is a throwaway dev key. Never fund these on a real network.
type Account struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
	// Hex is the raw key as it would appear in the PRIVATE_KEY env var.
	Hex string
}

// Accounts are the standard local-devnet keys (hardhat/anvil account set).
var Accounts = []Account{
	hexToAccount("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"),
	hexToAccount("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"),
	hexToAccount("5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"),
}

func hexToAccount(hexKey string) Account {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		panic(err)
	}
	return Account{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
		Hex:        hexKey,
	}
}
