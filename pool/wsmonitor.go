// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/bus"
	"github.com/evmgauntlet/gauntlet/netreg"
	"github.com/evmgauntlet/gauntlet/wei"
)

// ErrNoWSEndpoint means the network spec carries no websocket URL.
var ErrNoWSEndpoint = errors.New("pool: network has no ws endpoint")

// WSMonitor follows a network's new heads over its websocket endpoint and
// publishes status changes on the event bus. It is best-effort: networks
// without a ws endpoint simply are not monitored this way.
type WSMonitor struct {
	spec   *netreg.Spec
	events *bus.Bus
	dialer *websocket.Dialer
}

func NewWSMonitor(spec *netreg.Spec, events *bus.Bus) (*WSMonitor, error) {
	if len(spec.WSEndpoints) == 0 {
		return nil, ErrNoWSEndpoint
	}
	return &WSMonitor{
		spec:   spec,
		events: events,
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
	}, nil
}

type wsRequest struct {
	ID     int
	Method string
	Params []any
}

// MarshalJSON renders the standard JSON-RPC envelope.
func (r wsRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      r.ID,
		"method":  r.Method,
		"params":  r.Params,
	})
}

type wsMessage struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
	Params *struct {
		Result struct {
			Number        string `json:"number"`
			BaseFeePerGas string `json:"baseFeePerGas"`
		} `json:"result"`
	} `json:"params"`
}

// Run subscribes to newHeads and publishes a NetworkStatusChanged event per
// head until ctx is done or the connection drops. On a drop it publishes an
// offline status and returns the transport error.
func (m *WSMonitor) Run(ctx context.Context) error {
	start := time.Now()
	conn, _, err := m.dialer.DialContext(ctx, m.spec.WSEndpoints[0], nil)
	if err != nil {
		m.publishOffline()
		return errors.Wrapf(err, "pool: ws dial %s", m.spec.WSEndpoints[0])
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsRequest{ID: 1, Method: "eth_subscribe", Params: []any{"newHeads"}}); err != nil {
		m.publishOffline()
		return errors.Wrap(err, "pool: ws subscribe")
	}

	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		m.publishOffline()
		return errors.Wrap(err, "pool: ws subscribe ack")
	}
	if ack.Error != nil {
		m.publishOffline()
		return errors.Errorf("pool: ws subscribe rejected: %s", ack.Error.Message)
	}
	responseTime := time.Since(start).Milliseconds()
	logger.Debug("ws subscription live", "network", m.spec.ID, "responseTime", responseTime)

	// unblock reads when ctx is cancelled
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.publishOffline()
			return errors.Wrap(err, "pool: ws read")
		}
		if msg.Method != "eth_subscription" || msg.Params == nil {
			continue
		}
		m.events.PublishNetworkStatusChanged(bus.NetworkStatusChanged{
			NetworkID:      m.spec.ID,
			Online:         true,
			BlockNumber:    parseHexUint(msg.Params.Result.Number),
			GasPrice:       wei.New(parseHexUint(msg.Params.Result.BaseFeePerGas)),
			ResponseTimeMs: responseTime,
		})
	}
}

func (m *WSMonitor) publishOffline() {
	m.events.PublishNetworkStatusChanged(bus.NetworkStatusChanged{
		NetworkID: m.spec.ID,
		Online:    false,
	})
}

func parseHexUint(s string) uint64 {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return v
}
