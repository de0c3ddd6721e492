package cryptoprovider

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestECDSAAdaptorRoundTrip(t *testing.T) {
	p := NewECDSAAdaptorProvider()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	secret, err := randomScalar()
	require.NoError(t, err)
	encryptionPoint := scalarBaseMult(secret)

	msgHash := sha256.Sum256([]byte("redeem tx sighash"))

	sig, err := p.SignAdaptor(priv, msgHash, encryptionPoint)
	require.NoError(t, err)
	require.NotNil(t, sig.RHat)
	require.False(t, sig.SHat.IsZero())

	ok, err := p.VerifyAdaptor(priv.PubKey(), msgHash, encryptionPoint, sig)
	require.NoError(t, err)
	require.True(t, ok, "adaptor signature should verify before decryption")

	decrypted, err := p.DecryptSignature(sig, secret)
	require.NoError(t, err)

	recovered, err := p.RecoverAdaptorSecret(sig, decrypted, encryptionPoint)
	require.NoError(t, err)
	require.True(t, recovered.Equals(secret), "recovered secret must match original adaptor secret")
}

func TestECDSAAdaptorVerifyRejectsWrongKey(t *testing.T) {
	p := NewECDSAAdaptorProvider()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wrongPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	secret, err := randomScalar()
	require.NoError(t, err)
	encryptionPoint := scalarBaseMult(secret)

	msgHash := sha256.Sum256([]byte("redeem tx sighash"))

	sig, err := p.SignAdaptor(priv, msgHash, encryptionPoint)
	require.NoError(t, err)

	ok, err := p.VerifyAdaptor(wrongPriv.PubKey(), msgHash, encryptionPoint, sig)
	require.NoError(t, err)
	require.False(t, ok, "adaptor signature must not verify against an unrelated public key")
}

func TestECDSAAdaptorDecryptWrongSecretFails(t *testing.T) {
	p := NewECDSAAdaptorProvider()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	secret, err := randomScalar()
	require.NoError(t, err)
	encryptionPoint := scalarBaseMult(secret)

	wrongSecret, err := randomScalar()
	require.NoError(t, err)

	msgHash := sha256.Sum256([]byte("redeem tx sighash"))

	sig, err := p.SignAdaptor(priv, msgHash, encryptionPoint)
	require.NoError(t, err)

	decrypted, err := p.DecryptSignature(sig, wrongSecret)
	require.NoError(t, err)

	recovered, err := p.RecoverAdaptorSecret(sig, decrypted, encryptionPoint)
	require.Error(t, err, "recovery should fail: the decrypted signature used the wrong secret")
	require.Nil(t, recovered)
}
