package swapstate

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"filippo.io/edwards25519"

	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
)

// State3 is the immutable record produced by execution setup (C3's
// execution_setup protocol). Every later runtime and persisted state
// variant carries a reference to the same State3; nothing but Done ever
// loses access to it.
type State3 struct {
	SwapID ID

	// Counterparty addressing.
	CounterpartyPeerID string

	// Bitcoin key material (secp256k1), one key per party.
	AliceBtcPubKey *btcec.PublicKey
	BobBtcPubKey   *btcec.PublicKey

	// Monero key material (ed25519): each party holds a half of the
	// eventual joint spend key plus the shared view key.
	AliceMoneroSpendPubHalf *edwards25519.Point
	BobMoneroSpendPubHalf   *edwards25519.Point
	MoneroViewKey           *edwards25519.Scalar

	// Amounts.
	BtcAmount int64  // satoshis
	XmrAmount uint64 // piconero

	// Timelocks, in blocks.
	CancelTimelock uint32 // T1
	PunishTimelock uint32 // T2

	// Pre-signed Bitcoin transactions. Cancel, valid once T1 has matured
	// on tx_lock, moves funds to the cancel script (Alice's punish branch
	// after T2, or Bob's refund branch); refund returns BTC to Bob after cancel
	// (revealing Bob's adaptor secret); punish moves BTC to Alice after T2.
	// Redeem is the cooperative spend of tx_lock's 2-of-2 branch, paying out
	// to Alice; its outpoint and destination are fixed at setup so both
	// parties hold byte-identical unsigned transactions.
	CancelTx *wire.MsgTx
	RefundTx *wire.MsgTx
	PunishTx *wire.MsgTx
	RedeemTx *wire.MsgTx

	// AliceEncPubKey is the secp256k1 point derived from Alice's own Monero
	// spend-key half that Bob's encrypted redeem signature is encrypted
	// under; see internal/swap.SignBobEncSig.
	AliceEncPubKey *btcec.PublicKey

	// BobRefundPubKey is the secp256k1 point derived from Bob's own Monero
	// spend-key half, embedded in the cancel script's refund branch so that
	// broadcasting RefundTx reveals that half. Bob computes and sends this
	// at setup; see SetupParams.BobRefundPubKey.
	BobRefundPubKey *btcec.PublicKey

	// Monero lock transaction parameters, not yet broadcast.
	MoneroLock MoneroLockParams

	// BobRefundEncSig is Bob's adaptor signature over RefundTx, committed
	// during execution setup and encrypted under a point derived from his
	// own Monero spend-key half. Bob already holds the secret needed to
	// decrypt it; broadcasting the decrypted signature on RefundTx is what
	// lets Alice recover that secret (see AliceBtcRefunded).
	BobRefundEncSig *cryptoprovider.AdaptorSignature
}

// MoneroLockParams describes the not-yet-broadcast Monero lock transaction
// that pays into the 2-of-2 viewable address derived from both parties'
// spend-key halves and the shared view key.
type MoneroLockParams struct {
	Amount    uint64
	LockAddr  string
	ViewKey   *edwards25519.Scalar
	SpendPub  *edwards25519.Point // aggregated spend public key
}

// Validate checks the invariants spec.md §3 places on State3: T1 < T2, both
// strictly positive, amounts within range is a maker policy concern checked
// at quote time (see internal/p2pnet), not here.
func (s *State3) Validate() error {
	if s == nil {
		return fmt.Errorf("swapstate: nil State3")
	}
	if s.CancelTimelock == 0 || s.PunishTimelock == 0 {
		return fmt.Errorf("swapstate: timelocks must be strictly positive")
	}
	if s.CancelTimelock >= s.PunishTimelock {
		return fmt.Errorf("swapstate: cancel timelock T1 (%d) must be less than punish timelock T2 (%d)", s.CancelTimelock, s.PunishTimelock)
	}
	if s.BtcAmount <= 0 {
		return fmt.Errorf("swapstate: btc amount must be positive")
	}
	if s.XmrAmount == 0 {
		return fmt.Errorf("swapstate: xmr amount must be positive")
	}
	if s.CancelTx == nil || s.RefundTx == nil || s.PunishTx == nil || s.RedeemTx == nil {
		return fmt.Errorf("swapstate: missing pre-signed bitcoin transaction")
	}
	return nil
}
