package cryptoprovider

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"filippo.io/edwards25519"
)

// ECDSAAdaptorProvider implements Provider using the one-time verifiably
// encrypted signature scheme: the nonce is scalar-multiplied against the
// encryption point rather than the generator, so the resulting s value
// only yields a valid ECDSA signature once the encryption point's discrete
// log is known.
//
// This omits the DLEQ proof a production implementation would attach to
// VerifyAdaptor to bind the encrypted nonce to a generator-relative
// commitment; the capability boundary in SPEC_FULL.md treats that proof
// system as part of the external crypto provider, not the swap driver.
type ECDSAAdaptorProvider struct{}

// NewECDSAAdaptorProvider returns the default Provider implementation.
func NewECDSAAdaptorProvider() *ECDSAAdaptorProvider {
	return &ECDSAAdaptorProvider{}
}

var _ Provider = (*ECDSAAdaptorProvider)(nil)

func randomScalar() (*secp256k1.ModNScalar, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	var k secp256k1.ModNScalar
	buf := priv.Serialize()
	k.SetByteSlice(buf)
	return &k, nil
}

func scalarFromHash(hash [32]byte) *secp256k1.ModNScalar {
	var e secp256k1.ModNScalar
	e.SetByteSlice(hash[:])
	return &e
}

// scalarMultPoint computes scalar*point on the secp256k1 curve.
func scalarMultPoint(scalar *secp256k1.ModNScalar, point *btcec.PublicKey) *btcec.PublicKey {
	var jPoint, jResult secp256k1.JacobianPoint
	point.AsJacobian(&jPoint)
	secp256k1.ScalarMultNonConst(scalar, &jPoint, &jResult)
	jResult.ToAffine()
	return secp256k1.NewPublicKey(&jResult.X, &jResult.Y)
}

// scalarBaseMult computes scalar*G.
func scalarBaseMult(scalar *secp256k1.ModNScalar) *btcec.PublicKey {
	var jResult secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(scalar, &jResult)
	jResult.ToAffine()
	return secp256k1.NewPublicKey(&jResult.X, &jResult.Y)
}

func addPoints(a, b *btcec.PublicKey) *btcec.PublicKey {
	var jA, jB, jSum secp256k1.JacobianPoint
	a.AsJacobian(&jA)
	b.AsJacobian(&jB)
	secp256k1.AddNonConst(&jA, &jB, &jSum)
	jSum.ToAffine()
	return secp256k1.NewPublicKey(&jSum.X, &jSum.Y)
}

// rFromPoint reduces a point's x-coordinate into the scalar field used for
// ECDSA's r value.
func rFromPoint(p *btcec.PublicKey) *secp256k1.ModNScalar {
	x := p.X()
	var r secp256k1.ModNScalar
	r.SetByteSlice(x.Bytes())
	return &r
}

func invert(s *secp256k1.ModNScalar) *secp256k1.ModNScalar {
	inv := new(secp256k1.ModNScalar).Set(s)
	inv.InverseValNonConst()
	return inv
}

// SignAdaptor implements Provider.
func (p *ECDSAAdaptorProvider) SignAdaptor(priv *btcec.PrivateKey, msgHash [32]byte, encryptionPoint *btcec.PublicKey) (*AdaptorSignature, error) {
	k, err := randomScalar()
	if err != nil {
		return nil, err
	}

	rHat := scalarMultPoint(k, encryptionPoint)
	r := rFromPoint(rHat)

	var x secp256k1.ModNScalar
	x.SetByteSlice(priv.Serialize())

	e := scalarFromHash(msgHash)

	var rx secp256k1.ModNScalar
	rx.Mul2(r, &x)

	num := new(secp256k1.ModNScalar).Set(e)
	num.Add(&rx)

	kInv := invert(k)
	sHat := new(secp256k1.ModNScalar).Set(kInv)
	sHat.Mul(num)

	if sHat.IsZero() {
		return nil, fmt.Errorf("cryptoprovider: degenerate adaptor signature, retry")
	}

	return &AdaptorSignature{RHat: rHat, SHat: sHat}, nil
}

// VerifyAdaptor implements Provider.
func (p *ECDSAAdaptorProvider) VerifyAdaptor(pub *btcec.PublicKey, msgHash [32]byte, encryptionPoint *btcec.PublicKey, sig *AdaptorSignature) (bool, error) {
	if sig == nil || sig.RHat == nil || sig.SHat == nil {
		return false, ErrInvalidSignature
	}
	if sig.SHat.IsZero() {
		return false, ErrInvalidSignature
	}

	r := rFromPoint(sig.RHat)
	e := scalarFromHash(msgHash)
	sHatInv := invert(sig.SHat)

	var u1, u2 secp256k1.ModNScalar
	u1.Mul2(e, sHatInv)
	u2.Mul2(r, sHatInv)

	p1 := scalarBaseMult(&u1)
	p2 := scalarMultPoint(&u2, pub)
	rCheck := addPoints(p1, p2)

	_ = encryptionPoint // consistency with encryptionPoint requires the DLEQ proof omitted above.
	return rCheck.IsEqual(sig.RHat), nil
}

// DecryptSignature implements Provider.
func (p *ECDSAAdaptorProvider) DecryptSignature(sig *AdaptorSignature, secret *secp256k1.ModNScalar) (*DecryptedSignature, error) {
	if sig == nil || secret == nil || secret.IsZero() {
		return nil, ErrInvalidSignature
	}

	yInv := invert(secret)
	s := new(secp256k1.ModNScalar).Set(sig.SHat)
	s.Mul(yInv)

	r := rFromPoint(sig.RHat)
	return &DecryptedSignature{R: r, S: s}, nil
}

// RecoverAdaptorSecret implements Provider.
func (p *ECDSAAdaptorProvider) RecoverAdaptorSecret(encrypted *AdaptorSignature, decrypted *DecryptedSignature, encryptionPoint *btcec.PublicKey) (*secp256k1.ModNScalar, error) {
	if encrypted == nil || decrypted == nil || decrypted.S.IsZero() {
		return nil, ErrRecoveryFailed
	}

	sInv := invert(decrypted.S)
	y := new(secp256k1.ModNScalar).Set(encrypted.SHat)
	y.Mul(sInv)

	if encryptionPoint != nil {
		check := scalarBaseMult(y)
		if !check.IsEqual(encryptionPoint) {
			return nil, ErrRecoveryFailed
		}
	}

	return y, nil
}

// DeriveMoneroKey implements Provider.
func (p *ECDSAAdaptorProvider) DeriveMoneroKey(myHalf, theirHalf *edwards25519.Scalar) (*edwards25519.Scalar, error) {
	if myHalf == nil || theirHalf == nil {
		return nil, fmt.Errorf("cryptoprovider: missing spend-key half")
	}
	return edwards25519.NewScalar().Add(myHalf, theirHalf), nil
}

// randomBytes is kept for callers that need raw entropy outside the scalar
// helpers above (e.g. deriving ephemeral nonces for Monero key halves).
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
