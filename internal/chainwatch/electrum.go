package chainwatch

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ElectrumWatcher is the production BitcoinWatcher: a raw Electrum
// JSON-RPC client over TCP/TLS, newline-delimited per request. It is the
// only non-fake adapter in this package; everything the driver needs from
// Bitcoin (broadcast, status, fee rate, tip height, confirmation wait,
// raw tx fetch) maps onto a handful of Electrum server methods.
type ElectrumWatcher struct {
	servers []string // host:port, tried in order until one handshakes
	useTLS  bool

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool
	requestID atomic.Uint64
	timeout   time.Duration

	pollEvery time.Duration
}

// NewElectrumWatcher returns a watcher that dials servers lazily on first
// use. servers are host:port pairs, tried in order on each (re)connect.
func NewElectrumWatcher(servers []string, useTLS bool) *ElectrumWatcher {
	return &ElectrumWatcher{
		servers:   servers,
		useTLS:    useTLS,
		timeout:   30 * time.Second,
		pollEvery: 10 * time.Second,
	}
}

func (e *ElectrumWatcher) connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connected {
		return nil
	}

	var lastErr error
	for _, server := range e.servers {
		dialer := &net.Dialer{Timeout: e.timeout}

		var conn net.Conn
		var err error
		if e.useTLS {
			conn, err = tls.DialWithDialer(dialer, "tcp", server, &tls.Config{MinVersion: tls.VersionTLS12})
		} else {
			conn, err = dialer.DialContext(ctx, "tcp", server)
		}
		if err != nil {
			lastErr = err
			continue
		}

		e.conn = conn
		e.reader = bufio.NewReader(conn)
		if _, err := e.callLocked("server.version", []interface{}{"xmrbtc-swap", "1.4"}); err != nil {
			conn.Close()
			e.conn = nil
			e.reader = nil
			lastErr = err
			continue
		}

		e.connected = true
		return nil
	}
	return fmt.Errorf("%w: %v", ErrNotConnected, lastErr)
}

// call connects on demand, then issues a JSON-RPC request.
func (e *ElectrumWatcher) call(ctx context.Context, method string, params []interface{}) (interface{}, error) {
	if err := e.connect(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callLocked(method, params)
}

// callLocked assumes e.mu is held and e.conn is non-nil.
func (e *ElectrumWatcher) callLocked(method string, params []interface{}) (interface{}, error) {
	if e.conn == nil {
		return nil, ErrNotConnected
	}

	id := e.requestID.Add(1)
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	e.conn.SetDeadline(time.Now().Add(e.timeout))
	if _, err := e.conn.Write(append(data, '\n')); err != nil {
		e.connected = false
		return nil, err
	}

	line, err := e.reader.ReadBytes('\n')
	if err != nil {
		e.connected = false
		return nil, err
	}

	var resp struct {
		Result interface{} `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("electrum: %d %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// Broadcast relays a signed transaction. An already-known transaction
// returns the server's "already in mempool"/"already have"-style error as
// success, since the driver's contract is idempotent broadcast.
func (e *ElectrumWatcher) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	_, err := e.call(ctx, "blockchain.transaction.broadcast", []interface{}{hex.EncodeToString(buf.Bytes())})
	if err != nil {
		if state, statusErr := e.Status(ctx, tx.TxHash()); statusErr == nil && state.Status != StatusNotFound {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	return nil
}

// Status reports a transaction's inclusion state via
// blockchain.transaction.get's verbose confirmations field.
func (e *ElectrumWatcher) Status(ctx context.Context, txid chainhash.Hash) (TxState, error) {
	result, err := e.call(ctx, "blockchain.transaction.get", []interface{}{txid.String(), true})
	if err != nil {
		return TxState{Status: StatusNotFound}, nil
	}
	if result == nil {
		return TxState{Status: StatusNotFound}, nil
	}

	txMap, ok := result.(map[string]interface{})
	if !ok {
		return TxState{}, fmt.Errorf("chainwatch: unexpected transaction.get response")
	}

	confs, _ := txMap["confirmations"].(float64)
	if confs <= 0 {
		return TxState{Status: StatusMempool}, nil
	}
	return TxState{Status: StatusConfirmed, Confirmations: uint32(confs)}, nil
}

// FeeRate estimates sat/vbyte via blockchain.estimatefee, which returns
// BTC per kilobyte.
func (e *ElectrumWatcher) FeeRate(ctx context.Context, targetBlocks uint32) (int64, error) {
	result, err := e.call(ctx, "blockchain.estimatefee", []interface{}{int(targetBlocks)})
	if err != nil {
		return 0, err
	}
	btcPerKB, ok := result.(float64)
	if !ok || btcPerKB <= 0 {
		return 1, nil // server has no opinion; floor at the relay minimum
	}
	satPerVByte := int64(btcPerKB * 1e8 / 1000)
	if satPerVByte < 1 {
		satPerVByte = 1
	}
	return satPerVByte, nil
}

// BestHeight returns the chain tip height via blockchain.headers.subscribe.
func (e *ElectrumWatcher) BestHeight(ctx context.Context) (uint32, error) {
	result, err := e.call(ctx, "blockchain.headers.subscribe", []interface{}{})
	if err != nil {
		return 0, err
	}
	headerMap, ok := result.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("chainwatch: unexpected headers.subscribe response")
	}
	height, ok := headerMap["height"].(float64)
	if !ok {
		return 0, fmt.Errorf("chainwatch: headers.subscribe response has no height")
	}
	return uint32(height), nil
}

// WaitForConfirmations polls Status until txid reaches n confirmations or
// ctx is cancelled, the same cancellation contract FakeBitcoinWatcher
// implements for tests.
func (e *ElectrumWatcher) WaitForConfirmations(ctx context.Context, txid chainhash.Hash, n uint32) error {
	for {
		state, err := e.Status(ctx, txid)
		if err != nil {
			return err
		}
		if state.Status == StatusConfirmed && state.Confirmations >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.pollEvery):
		}
	}
}

// FetchTx returns the full transaction behind txid, deserialized from the
// server's non-verbose hex response.
func (e *ElectrumWatcher) FetchTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	result, err := e.call(ctx, "blockchain.transaction.get", []interface{}{txid.String(), false})
	if err != nil {
		return nil, ErrTxNotFound
	}
	rawHex, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("chainwatch: unexpected transaction.get response")
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("chainwatch: decode raw tx: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("chainwatch: deserialize raw tx: %w", err)
	}
	return tx, nil
}

// Close tears down the underlying connection, if any.
func (e *ElectrumWatcher) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connected = false
	return nil
}

var _ BitcoinWatcher = (*ElectrumWatcher)(nil)
