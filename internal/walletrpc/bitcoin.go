// Package walletrpc defines the signing-wallet capability boundary: the
// operations a swap driver needs from a key-holding Bitcoin wallet (fund a
// lock transaction, hand back a change address) without owning key
// derivation itself. HD derivation, BIP39 seed phrases, and UTXO bookkeeping
// are a wallet concern external to this module (spec.md §1/§6); this
// package only names the calls the driver makes and what it expects back,
// the way internal/chainwatch does for chain observation.
package walletrpc

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrInsufficientFunds = errors.New("walletrpc: insufficient funds")
	ErrSignFailed        = errors.New("walletrpc: signing failed")
)

// UTXO is a spendable output the wallet controls, trimmed to what fee and
// signing logic needs.
type UTXO struct {
	TxID         wire.OutPoint
	Value        int64 // satoshis
	ScriptPubKey []byte
	PrivKey      *btcec.PrivateKey
}

// BitcoinWallet is the capability interface the driver calls to fund and
// sign its own side of a lock transaction. It never sees the counterparty's
// keys; State3's cancel/refund/punish transactions are assembled and
// partially signed by internal/swap using internal/cryptoprovider, not this
// interface.
type BitcoinWallet interface {
	// NewAddress returns a fresh address for change or for a lock script
	// pubkey hash.
	NewAddress(ctx context.Context) (btcutil.Address, error)

	// SelectUTXOs picks inputs covering at least amount satoshis plus fee,
	// at the given fee rate (sat/vbyte).
	SelectUTXOs(ctx context.Context, amount int64, feeRate int64) ([]UTXO, error)

	// SignInput produces a signature for the given input of tx using the
	// private key controlling utxo, for a P2WPKH/P2WSH sighash.
	SignInput(ctx context.Context, tx *wire.MsgTx, inputIndex int, utxo UTXO) ([]byte, error)

	// Balance reports the wallet's total confirmed spendable balance.
	Balance(ctx context.Context) (int64, error)
}
