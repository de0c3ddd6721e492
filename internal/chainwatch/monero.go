package chainwatch

import (
	"context"
	"errors"

	"filippo.io/edwards25519"
)

var ErrTxKeyInvalid = errors.New("chainwatch: invalid monero tx key")

// TransferProof is the receipt a Monero transfer returns: enough for the
// counterparty to independently check the transfer landed, per spec §6's
// check_tx_key.
type TransferProof struct {
	TxID   string
	TxKey  string
	Dest   string
	Amount uint64
}

// MoneroWallet is the Monero half of spec §6's adapter contract:
// create_wallet, transfer, check_tx_key, sweep_all.
type MoneroWallet interface {
	// CreateWallet opens (creating if necessary) a view-only or full wallet
	// from a restore height and the joint spend/view key material. Called
	// both to watch the 2-of-2 lock address and, after recovery, to sweep
	// a fully-recovered spend key.
	CreateWallet(ctx context.Context, restoreHeight uint64, viewKey *edwards25519.Scalar, spendKey *edwards25519.Scalar) (WalletHandle, error)

	// Transfer sends amount piconero to dest and returns a proof the
	// counterparty can verify without trusting this wallet.
	Transfer(ctx context.Context, wallet WalletHandle, dest string, amount uint64) (*TransferProof, error)

	// CheckTxKey reports how many confirmations a transfer proof's
	// transaction has, verifying the tx key against the destination
	// address and amount rather than trusting the sender.
	CheckTxKey(ctx context.Context, wallet WalletHandle, proof *TransferProof) (uint32, error)

	// SweepAll sends the wallet's entire spendable balance to dest. Used by
	// Alice once she has recovered the full joint spend key (AliceBtcRefunded).
	SweepAll(ctx context.Context, wallet WalletHandle, dest string) (*TransferProof, error)
}

// WalletHandle identifies an open wallet session; adapters define its
// concrete representation (e.g. a monero-wallet-rpc JSON-RPC client plus
// wallet filename).
type WalletHandle interface {
	Address() string
}
