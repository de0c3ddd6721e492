package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"filippo.io/edwards25519"

	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
)

// SignBobEncSig produces Bob's adaptor-encrypted signature over RedeemTx's
// 2-of-2 branch, encrypted under Alice's AliceEncPubKey. Sent to Alice via
// the encrypted_signature protocol once Bob has independently confirmed the
// XMR lock.
func SignBobEncSig(provider cryptoprovider.Provider, bobPriv *btcec.PrivateKey, s3 *swapstate.State3, lockScript []byte) (*cryptoprovider.AdaptorSignature, error) {
	h, err := redeemSigHash(s3, lockScript)
	if err != nil {
		return nil, err
	}
	if s3.AliceEncPubKey == nil {
		return nil, fmt.Errorf("swap: state3 missing alice enc pubkey")
	}
	sig, err := provider.SignAdaptor(bobPriv, h, s3.AliceEncPubKey)
	if err != nil {
		return nil, fmt.Errorf("swap: sign bob enc sig: %w", err)
	}
	return sig, nil
}

// FinalizeRedeemWitness decrypts Bob's encrypted signature with Alice's own
// Monero spend-key half (the secret behind AliceEncPubKey, which Alice
// already knows — decrypting it reveals nothing new), adds Alice's own
// signature share, and attaches the completed 2-of-2 witness to RedeemTx.
func FinalizeRedeemWitness(provider cryptoprovider.Provider, alicePriv *btcec.PrivateKey, aliceMoneroHalf *edwards25519.Scalar, s3 *swapstate.State3, lockScript []byte, bobEncSig *cryptoprovider.AdaptorSignature) error {
	h, err := redeemSigHash(s3, lockScript)
	if err != nil {
		return err
	}

	aliceSig, err := selfSign(provider, alicePriv, h)
	if err != nil {
		return fmt.Errorf("swap: sign alice redeem share: %w", err)
	}

	secretPriv, _ := moneroHalfEncryptionKey(aliceMoneroHalf)
	dec, err := provider.DecryptSignature(bobEncSig, &secretPriv.Key)
	if err != nil {
		return fmt.Errorf("swap: decrypt bob redeem sig: %w", err)
	}
	bobSig := serializeDecryptedSignature(dec)

	s3.RedeemTx.TxIn[0].Witness = RedeemWitness(aliceSig, bobSig, lockScript)
	return nil
}

func redeemSigHash(s3 *swapstate.State3, lockScript []byte) ([32]byte, error) {
	var h [32]byte
	sigHashes := txscript.NewTxSigHashes(s3.RedeemTx, nil)
	hash, err := txscript.CalcWitnessSigHash(lockScript, sigHashes, txscript.SigHashAll, s3.RedeemTx, 0, s3.BtcAmount)
	if err != nil {
		return h, fmt.Errorf("swap: redeem tx sighash: %w", err)
	}
	copy(h[:], hash)
	return h, nil
}
