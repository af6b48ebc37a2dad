// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package fortest

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Node is an in-process fake EVM JSON-RPC node. Transactions are "mined"
// instantly: a send advances the head and makes the receipt available.
type Node struct {
	chainID uint64

	mu          sync.Mutex
	gasPrice    *big.Int
	block       uint64
	autoAdvance bool
	nonces      map[common.Address]uint64
	code        map[common.Address][]byte
	receipts    map[common.Hash]map[string]any
	callResult  []byte
	callErr     string
	sendErr     string
	sendErrLeft int
	sentCount   int
	hold        bool
	pending     map[string]*types.Transaction

	srv *httptest.Server
}

// NewNode starts a fake node for the given chain id, torn down with the test.
func NewNode(t *testing.T, chainID uint64) *Node {
	n := &Node{
		chainID:  chainID,
		gasPrice: big.NewInt(1_000_000_000),
		block:    100,
		nonces:   make(map[common.Address]uint64),
		code:     make(map[common.Address][]byte),
		receipts: make(map[common.Hash]map[string]any),
		pending:  make(map[string]*types.Transaction),
	}
	n.srv = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.srv.Close)
	return n
}

// URL is the HTTP endpoint to dial.
func (n *Node) URL() string { return n.srv.URL }

func (n *Node) SetGasPrice(p *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gasPrice = new(big.Int).Set(p)
}

// SetCode installs contract code at addr, as eth_getCode reports it.
func (n *Node) SetCode(addr common.Address, code []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.code[addr] = code
}

// SetCallResult fixes what eth_call returns.
func (n *Node) SetCallResult(data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callResult = data
	n.callErr = ""
}

// FailCalls makes eth_call fail with msg until SetCallResult is called.
func (n *Node) FailCalls(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callErr = msg
}

// FailNextSends injects an error for the next count eth_sendRawTransaction
// calls, then behavior returns to normal.
func (n *Node) FailNextSends(count int, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendErr = msg
	n.sendErrLeft = count
}

// AdvanceBlocks moves the head forward, as finality tests need.
func (n *Node) AdvanceBlocks(k uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.block += k
}

// SetAutoAdvance makes every eth_blockNumber call advance the head by one.
func (n *Node) SetAutoAdvance(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.autoAdvance = on
}

// HoldReceipts keeps accepted transactions unmined so re-sends with the same
// nonce replace them, until ReleaseReceipts mines whatever is pending.
func (n *Node) HoldReceipts(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hold = on
}

// ReleaseReceipts mines every pending transaction. The latest transaction per
// (sender, nonce) wins; earlier replaced ones never get a receipt.
func (n *Node) ReleaseReceipts() {
	n.mu.Lock()
	defer n.mu.Unlock()
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(n.chainID))
	for _, tx := range n.pending {
		from, err := types.Sender(signer, tx)
		if err != nil {
			continue
		}
		n.mine(tx, from)
	}
	n.pending = make(map[string]*types.Transaction)
}

// SentCount reports how many transactions were accepted.
func (n *Node) SentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sentCount
}

type rpcReq struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (n *Node) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, rpcErr := n.dispatch(&req)

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != "" {
		resp["error"] = map[string]any{"code": -32000, "message": rpcErr}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

func (n *Node) dispatch(req *rpcReq) (any, string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch req.Method {
	case "eth_chainId":
		return hexutil.Uint64(n.chainID), ""

	case "eth_gasPrice":
		return hexutil.EncodeBig(n.gasPrice), ""

	case "eth_blockNumber":
		if n.autoAdvance {
			n.block++
		}
		return hexutil.Uint64(n.block), ""

	case "eth_getTransactionCount":
		var addr common.Address
		if err := json.Unmarshal(req.Params[0], &addr); err != nil {
			return nil, err.Error()
		}
		return hexutil.Uint64(n.nonces[addr]), ""

	case "eth_getCode":
		var addr common.Address
		if err := json.Unmarshal(req.Params[0], &addr); err != nil {
			return nil, err.Error()
		}
		return hexutil.Encode(n.code[addr]), ""

	case "eth_call":
		if n.callErr != "" {
			return nil, n.callErr
		}
		return hexutil.Encode(n.callResult), ""

	case "eth_estimateGas":
		return hexutil.Uint64(50000), ""

	case "eth_sendRawTransaction":
		return n.sendRawTransaction(req.Params[0])

	case "eth_getTransactionReceipt":
		var hash common.Hash
		if err := json.Unmarshal(req.Params[0], &hash); err != nil {
			return nil, err.Error()
		}
		if rec, ok := n.receipts[hash]; ok {
			return rec, ""
		}
		return nil, ""

	default:
		return nil, fmt.Sprintf("method %s not supported", req.Method)
	}
}

func (n *Node) sendRawTransaction(raw json.RawMessage) (any, string) {
	if n.sendErrLeft != 0 {
		n.sendErrLeft--
		return nil, n.sendErr
	}

	var rawHex string
	if err := json.Unmarshal(raw, &rawHex); err != nil {
		return nil, err.Error()
	}
	data, err := hexutil.Decode(rawHex)
	if err != nil {
		return nil, err.Error()
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return nil, err.Error()
	}

	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(n.chainID))
	from, err := types.Sender(signer, tx)
	if err != nil {
		return nil, err.Error()
	}
	if tx.Nonce() < n.nonces[from] {
		return nil, "nonce too low"
	}
	n.sentCount++

	if n.hold {
		n.pending[fmt.Sprintf("%s-%d", from.Hex(), tx.Nonce())] = tx
		return tx.Hash(), ""
	}
	n.mine(tx, from)
	return tx.Hash(), ""
}

// mine makes the receipt available. Caller holds the lock.
func (n *Node) mine(tx *types.Transaction, from common.Address) {
	if tx.Nonce()+1 > n.nonces[from] {
		n.nonces[from] = tx.Nonce() + 1
	}
	n.block++

	gasUsed := uint64(21000)
	rec := map[string]any{
		"transactionHash":   tx.Hash(),
		"transactionIndex":  "0x0",
		"blockHash":         common.BigToHash(new(big.Int).SetUint64(n.block)),
		"blockNumber":       hexutil.Uint64(n.block),
		"from":              from,
		"gasUsed":           hexutil.Uint64(gasUsed),
		"cumulativeGasUsed": hexutil.Uint64(gasUsed),
		"effectiveGasPrice": hexutil.EncodeBig(n.gasPrice),
		"status":            "0x1",
		"type":              hexutil.Uint64(tx.Type()),
		"logs":              []any{},
		"logsBloom":         "0x" + strings.Repeat("00", 256),
	}
	if tx.To() == nil {
		contract := crypto.CreateAddress(from, tx.Nonce())
		rec["contractAddress"] = contract
		// deployed code: everything after the first byte of the init code
		code := tx.Data()
		if len(code) > 1 {
			n.code[contract] = code[1:]
		} else {
			n.code[contract] = []byte{0x60}
		}
		gasUsed = 300000
		rec["gasUsed"] = hexutil.Uint64(gasUsed)
		rec["cumulativeGasUsed"] = hexutil.Uint64(gasUsed)
	}
	n.receipts[tx.Hash()] = rec
}

// MarkReverted flips an existing receipt to status 0.
func (n *Node) MarkReverted(hash common.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if rec, ok := n.receipts[hash]; ok {
		rec["status"] = "0x0"
	}
}
