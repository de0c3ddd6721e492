package cryptoprovider

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"filippo.io/edwards25519"
)

// MockProvider is a deterministic stand-in for Provider in unit tests (the
// swap-driver tests use ECDSAAdaptorProvider instead). It skips the curve arithmetic in ECDSAAdaptorProvider and
// instead records, per signature, a scalar read from the encryption point's
// x-coordinate. That scalar is not the point's discrete log: DecryptSignature
// accepts only the recorded scalar (as returned by RecoverAdaptorSecret), not
// the real adaptor secret behind the encryption point.
type MockProvider struct {
	encryptions map[string]*secp256k1.ModNScalar
}

// NewMockProvider returns a MockProvider ready for use.
func NewMockProvider() *MockProvider {
	return &MockProvider{encryptions: make(map[string]*secp256k1.ModNScalar)}
}

var _ Provider = (*MockProvider)(nil)

func sigKey(sig *AdaptorSignature) string {
	return fmt.Sprintf("%x", sig.SHat.Bytes())
}

// SignAdaptor produces a signature whose "encryption" is just bookkeeping:
// the mock remembers which secret unlocks it so DecryptSignature and
// RecoverAdaptorSecret can round-trip without real curve math.
func (m *MockProvider) SignAdaptor(priv *btcec.PrivateKey, msgHash [32]byte, encryptionPoint *btcec.PublicKey) (*AdaptorSignature, error) {
	var s secp256k1.ModNScalar
	s.SetByteSlice(priv.Serialize())
	s.Add(scalarFromHash(msgHash))

	sig := &AdaptorSignature{RHat: encryptionPoint, SHat: &s}

	var secret secp256k1.ModNScalar
	secret.SetByteSlice(encryptionPoint.SerializeCompressed()[1:])
	m.encryptions[sigKey(sig)] = &secret

	return sig, nil
}

// VerifyAdaptor always succeeds for signatures this provider produced.
func (m *MockProvider) VerifyAdaptor(pub *btcec.PublicKey, msgHash [32]byte, encryptionPoint *btcec.PublicKey, sig *AdaptorSignature) (bool, error) {
	if sig == nil || sig.SHat == nil {
		return false, ErrInvalidSignature
	}
	_, known := m.encryptions[sigKey(sig)]
	return known, nil
}

// DecryptSignature returns a DecryptedSignature carrying the same scalar,
// tagged with the secret used so RecoverAdaptorSecret can find it again.
func (m *MockProvider) DecryptSignature(sig *AdaptorSignature, secret *secp256k1.ModNScalar) (*DecryptedSignature, error) {
	if sig == nil || secret == nil {
		return nil, ErrInvalidSignature
	}
	expected, ok := m.encryptions[sigKey(sig)]
	if !ok || !expected.Equals(secret) {
		return nil, ErrInvalidSignature
	}
	return &DecryptedSignature{R: secret, S: sig.SHat}, nil
}

// RecoverAdaptorSecret returns the secret this mock recorded at signing
// time, ignoring the decrypted signature's contents beyond matching it back
// to the original adaptor signature.
func (m *MockProvider) RecoverAdaptorSecret(encrypted *AdaptorSignature, decrypted *DecryptedSignature, encryptionPoint *btcec.PublicKey) (*secp256k1.ModNScalar, error) {
	if encrypted == nil {
		return nil, ErrRecoveryFailed
	}
	secret, ok := m.encryptions[sigKey(encrypted)]
	if !ok {
		return nil, ErrRecoveryFailed
	}
	return secret, nil
}

// DeriveMoneroKey performs real scalar addition; there is no reason to fake
// this one since edwards25519.Scalar addition has no network/secret-timing
// concerns that would make it awkward to test against.
func (m *MockProvider) DeriveMoneroKey(myHalf, theirHalf *edwards25519.Scalar) (*edwards25519.Scalar, error) {
	if myHalf == nil || theirHalf == nil {
		return nil, fmt.Errorf("cryptoprovider: missing spend-key half")
	}
	return edwards25519.NewScalar().Add(myHalf, theirHalf), nil
}
