// Package cryptoprovider defines the cryptographic capability boundary the
// swap driver calls through: adaptor-signature sign/verify/decrypt/recover
// and Monero spend-key-half combination. The driver only ever sees this
// interface, never a curve library directly, so it stays unit-testable
// against a provider that has no secret-dependent timing or network calls.
package cryptoprovider

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"filippo.io/edwards25519"
)

var (
	// ErrInvalidSignature is returned when a signature or adaptor signature
	// fails to verify against the claimed key material.
	ErrInvalidSignature = errors.New("cryptoprovider: invalid signature")

	// ErrRecoveryFailed is returned when an adaptor secret cannot be
	// extracted from a decrypted/encrypted signature pair.
	ErrRecoveryFailed = errors.New("cryptoprovider: adaptor secret recovery failed")
)

// AdaptorSignature is Bob's ECDSA signature on Alice's BTC redeem
// transaction, encrypted under Alice's adaptor point so that it only
// becomes a valid signature once Alice's adaptor secret is known.
//
// Wire naming follows the "encrypted signature" terminology in the swap
// protocol: RHat is the encrypted nonce point, SHat the encrypted s value.
type AdaptorSignature struct {
	RHat *btcec.PublicKey
	SHat *secp256k1.ModNScalar
}

// DecryptedSignature is a standard ECDSA signature recovered from an
// AdaptorSignature once the adaptor secret is known.
type DecryptedSignature struct {
	R *secp256k1.ModNScalar
	S *secp256k1.ModNScalar
}

// Provider is the crypto capability set a swap driver is built against.
// It names five operations; sign_adaptor/verify_adaptor/decrypt_signature/
// recover_adaptor_secret/derive_monero_key map to the methods below.
type Provider interface {
	// SignAdaptor produces an adaptor signature on msgHash under priv,
	// encrypted so it only decrypts to a valid signature once the scalar
	// behind encryptionPoint is known.
	SignAdaptor(priv *btcec.PrivateKey, msgHash [32]byte, encryptionPoint *btcec.PublicKey) (*AdaptorSignature, error)

	// VerifyAdaptor checks that sig is a well-formed adaptor signature on
	// msgHash for pub, under encryptionPoint.
	VerifyAdaptor(pub *btcec.PublicKey, msgHash [32]byte, encryptionPoint *btcec.PublicKey, sig *AdaptorSignature) (bool, error)

	// DecryptSignature decrypts sig into a standard ECDSA signature using
	// the adaptor secret scalar.
	DecryptSignature(sig *AdaptorSignature, secret *secp256k1.ModNScalar) (*DecryptedSignature, error)

	// RecoverAdaptorSecret extracts the adaptor secret scalar by comparing
	// a decrypted signature against the adaptor signature it came from.
	// This is the step Alice performs after observing Bob's refund
	// transaction on-chain: the revealed signature, combined with the
	// adaptor signature she holds, yields the scalar she needs.
	RecoverAdaptorSecret(encrypted *AdaptorSignature, decrypted *DecryptedSignature, encryptionPoint *btcec.PublicKey) (*secp256k1.ModNScalar, error)

	// DeriveMoneroKey combines two Monero spend-key halves (Alice's and
	// Bob's) into the full spend key scalar, once one party has recovered
	// the counterparty's half via the BTC-side adaptor secret.
	DeriveMoneroKey(myHalf, theirHalf *edwards25519.Scalar) (*edwards25519.Scalar, error)
}
