// Package swap implements the BTC<->XMR atomic-swap protocol core: Bitcoin
// lock/cancel scripts, execution setup, and the Alice/Bob state-machine
// drivers described in spec.md §4.
package swap

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// BuildLockScript returns the script tx_lock's output pays into. The IF
// branch is the cooperative 2-of-2 redeem (Alice's signature plus Bob's
// decrypted adaptor signature); the ELSE branch lets Alice move the funds
// unilaterally into tx_cancel once the cancel timelock has matured,
// guaranteeing she can always force progress if Bob disappears.
//
//	OP_IF
//	    OP_2 <alice_pub> <bob_pub> OP_2 OP_CHECKMULTISIG
//	OP_ELSE
//	    <cancel_timelock> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    <alice_pub> OP_CHECKSIG
//	OP_ENDIF
func BuildLockScript(alicePub, bobPub *btcec.PublicKey, cancelTimelock uint32) ([]byte, error) {
	if cancelTimelock == 0 {
		return nil, fmt.Errorf("swap: cancel timelock must be positive")
	}
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_IF)
	b.AddOp(txscript.OP_2)
	b.AddData(alicePub.SerializeCompressed())
	b.AddData(bobPub.SerializeCompressed())
	b.AddOp(txscript.OP_2)
	b.AddOp(txscript.OP_CHECKMULTISIG)
	b.AddOp(txscript.OP_ELSE)
	b.AddInt64(int64(cancelTimelock))
	b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(alicePub.SerializeCompressed())
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_ENDIF)
	return b.Script()
}

// BuildCancelScript returns the script tx_cancel's output pays into. The IF
// branch lets Alice punish Bob once the punish timelock has matured on top
// of the cancel confirmation; the ELSE branch lets Bob refund himself at any
// time, using a refund key tied to his Monero spend-key half so that
// broadcasting this branch also reveals that half to Alice (see
// moneroHalfEncryptionKey).
//
//	OP_IF
//	    <punish_timelock> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    <alice_pub> OP_CHECKSIG
//	OP_ELSE
//	    <bob_refund_pub> OP_CHECKSIG
//	OP_ENDIF
func BuildCancelScript(alicePub, bobRefundPub *btcec.PublicKey, punishTimelock uint32) ([]byte, error) {
	if punishTimelock == 0 {
		return nil, fmt.Errorf("swap: punish timelock must be positive")
	}
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_IF)
	b.AddInt64(int64(punishTimelock))
	b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(alicePub.SerializeCompressed())
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_ELSE)
	b.AddData(bobRefundPub.SerializeCompressed())
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_ENDIF)
	return b.Script()
}

// P2WSHScriptPubKey returns the OP_0 <script-hash> output script for script.
func P2WSHScriptPubKey(script []byte) ([]byte, error) {
	hash := sha256.Sum256(script)
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_0)
	b.AddData(hash[:])
	return b.Script()
}

// P2WSHAddress derives the witness-script-hash address for script, useful
// for logging/diagnostics.
func P2WSHAddress(script []byte, params *chaincfg.Params) (*btcutil.AddressWitnessScriptHash, error) {
	hash := sha256.Sum256(script)
	return btcutil.NewAddressWitnessScriptHash(hash[:], params)
}

// RedeemWitness builds the witness stack for the cooperative redeem spend of
// tx_lock (the OP_IF, 2-of-2 branch). OP_CHECKMULTISIG's well-known off-by-
// one bug requires a leading dummy element.
func RedeemWitness(aliceSig, bobSig, script []byte) [][]byte {
	return [][]byte{nil, aliceSig, bobSig, {0x01}, script}
}

// LockCancelWitness builds the witness stack for Alice's unilateral cancel
// spend of tx_lock (the OP_ELSE branch).
func LockCancelWitness(aliceSig, script []byte) [][]byte {
	return [][]byte{aliceSig, {}, script}
}

// PunishWitness builds the witness stack for Alice's punish spend of
// tx_cancel (the OP_IF branch), valid only once the punish timelock has
// matured.
func PunishWitness(aliceSig, script []byte) [][]byte {
	return [][]byte{aliceSig, {0x01}, script}
}

// RefundWitness builds the witness stack for Bob's refund spend of
// tx_cancel (the OP_ELSE branch).
func RefundWitness(bobSig, script []byte) [][]byte {
	return [][]byte{bobSig, {}, script}
}
