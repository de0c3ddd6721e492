package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"filippo.io/edwards25519"
)

// moneroHalfEncryptionKey derives the secp256k1 keypair used as an adaptor
// encryption point from a Monero spend-key half, by reinterpreting the
// scalar's canonical 32-byte encoding as a secp256k1 scalar. A canonical
// ed25519 scalar is below 2^253, well under secp256k1's group order, so the
// value is never reduced and round trips exactly; it is not a zero-knowledge-proven discrete
// log equivalence (see internal/cryptoprovider's DLEQ scope note), only a
// byte-identity convention both drivers rely on consistently.
func moneroHalfEncryptionKey(half *edwards25519.Scalar) (*btcec.PrivateKey, *btcec.PublicKey) {
	b := half.Bytes()
	var arr [32]byte
	copy(arr[:], b)
	priv := secp256k1.NewPrivateKey(new(secp256k1.ModNScalar).SetBytes(&arr))
	return priv, priv.PubKey()
}

// adaptorSecretToMoneroHalf reinterprets a recovered secp256k1 adaptor
// secret as an ed25519 scalar, the inverse of moneroHalfEncryptionKey.
func adaptorSecretToMoneroHalf(secret *secp256k1.ModNScalar) (*edwards25519.Scalar, error) {
	b := secret.Bytes()
	s, err := (&edwards25519.Scalar{}).SetCanonicalBytes(b[:])
	if err != nil {
		return nil, fmt.Errorf("swap: recovered adaptor secret is not a canonical ed25519 scalar: %w", err)
	}
	return s, nil
}
