// Package chainwatch defines the Bitcoin and Monero adapter contracts the
// swap driver polls and calls through (spec §6's external interfaces), plus
// in-memory fakes satisfying those contracts for tests. The only
// production adapter is ElectrumWatcher (electrum.go) on the Bitcoin side;
// no wallet-RPC-backed MoneroWallet is implemented here, so the Monero side
// has only FakeMoneroWallet.
package chainwatch

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrTxNotFound      = errors.New("chainwatch: transaction not found")
	ErrBroadcastFailed = errors.New("chainwatch: broadcast failed")
	ErrNotConnected    = errors.New("chainwatch: adapter not connected")
)

// TxStatus is the Bitcoin adapter's three-valued inclusion state.
type TxStatus int

const (
	StatusNotFound TxStatus = iota
	StatusMempool
	StatusConfirmed
)

func (s TxStatus) String() string {
	switch s {
	case StatusNotFound:
		return "NotFound"
	case StatusMempool:
		return "Mempool"
	case StatusConfirmed:
		return "Confirmed"
	default:
		return "Unknown"
	}
}

// TxState is status plus, when Confirmed, the confirmation count.
type TxState struct {
	Status        TxStatus
	Confirmations uint32
}

// BitcoinWatcher is the Bitcoin half of spec §6's adapter contract:
// broadcast, status, fee_rate, best_height, and a wait_for_confirmations
// subscription. The driver never touches an Electrum connection directly;
// every suspension point in internal/swap that involves Bitcoin goes
// through this interface so it can be driven by a fake in tests.
type BitcoinWatcher interface {
	// Broadcast relays a signed transaction to the network. Broadcasting an
	// already-known transaction must succeed (idempotence, spec §5).
	Broadcast(ctx context.Context, tx *wire.MsgTx) error

	// Status reports a transaction's current inclusion state.
	Status(ctx context.Context, txid chainhash.Hash) (TxState, error)

	// FeeRate estimates a fee rate, in satoshis per vbyte, that confirms
	// within targetBlocks.
	FeeRate(ctx context.Context, targetBlocks uint32) (int64, error)

	// BestHeight returns the current chain tip height.
	BestHeight(ctx context.Context) (uint32, error)

	// WaitForConfirmations blocks until txid reaches n confirmations or ctx
	// is cancelled. Cancelling ctx is how the driver's abort signal (spec
	// §5's suspension-point cancellation) interrupts this call.
	WaitForConfirmations(ctx context.Context, txid chainhash.Hash, n uint32) error

	// FetchTx returns the full transaction behind txid, once seen. The
	// driver needs this once, on the refund path: the witness Bob actually
	// broadcast is what reveals his adaptor secret, and a broadcast
	// transaction's witness isn't recoverable from Status alone.
	FetchTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)
}
