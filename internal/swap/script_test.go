package swap

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

func TestBuildLockScriptRejectsZeroTimelock(t *testing.T) {
	alice, bob := testKeyPair(t), testKeyPair(t)
	_, err := BuildLockScript(alice, bob, 0)
	require.Error(t, err)
}

func TestBuildCancelScriptRejectsZeroTimelock(t *testing.T) {
	alice, bobRefund := testKeyPair(t), testKeyPair(t)
	_, err := BuildCancelScript(alice, bobRefund, 0)
	require.Error(t, err)
}

func TestBuildLockScriptDeterministic(t *testing.T) {
	alice, bob := testKeyPair(t), testKeyPair(t)

	s1, err := BuildLockScript(alice, bob, 72)
	require.NoError(t, err)
	s2, err := BuildLockScript(alice, bob, 72)
	require.NoError(t, err)
	require.Equal(t, s1, s2)

	s3, err := BuildLockScript(alice, bob, 73)
	require.NoError(t, err)
	require.NotEqual(t, s1, s3, "a different cancel timelock must produce a different script")
}

func TestBuildCancelScriptDeterministic(t *testing.T) {
	alice, bobRefund := testKeyPair(t), testKeyPair(t)

	s1, err := BuildCancelScript(alice, bobRefund, 144)
	require.NoError(t, err)
	s2, err := BuildCancelScript(alice, bobRefund, 144)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func TestP2WSHScriptPubKeyShape(t *testing.T) {
	alice, bob := testKeyPair(t), testKeyPair(t)
	script, err := BuildLockScript(alice, bob, 72)
	require.NoError(t, err)

	spk, err := P2WSHScriptPubKey(script)
	require.NoError(t, err)

	// OP_0 <32-byte sha256> = 1 + 1 + 32 bytes.
	require.Len(t, spk, 34)
	require.Equal(t, byte(0x00), spk[0])
	require.Equal(t, byte(0x20), spk[1])
}

func TestP2WSHAddressMatchesScriptPubKey(t *testing.T) {
	alice, bob := testKeyPair(t), testKeyPair(t)
	script, err := BuildLockScript(alice, bob, 72)
	require.NoError(t, err)

	addr, err := P2WSHAddress(script, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	spk, err := P2WSHScriptPubKey(script)
	require.NoError(t, err)
	require.Equal(t, spk[2:], addr.ScriptAddress(), "the address's witness program must be the same sha256(script) P2WSHScriptPubKey embeds")
}

func TestRedeemWitnessStackShape(t *testing.T) {
	aliceSig, bobSig, script := []byte("alice-sig"), []byte("bob-sig"), []byte("script")
	w := RedeemWitness(aliceSig, bobSig, script)
	require.Len(t, w, 5)
	require.Nil(t, w[0], "OP_CHECKMULTISIG's off-by-one bug requires a leading dummy element")
	require.Equal(t, aliceSig, w[1])
	require.Equal(t, bobSig, w[2])
	require.Equal(t, []byte{0x01}, w[3], "selects the IF (2-of-2) branch")
	require.Equal(t, script, w[4])
}

func TestLockCancelWitnessStackShape(t *testing.T) {
	aliceSig, script := []byte("alice-sig"), []byte("script")
	w := LockCancelWitness(aliceSig, script)
	require.Len(t, w, 3)
	require.Equal(t, aliceSig, w[0])
	require.Equal(t, []byte{}, w[1], "empty element selects the OP_ELSE branch")
	require.Equal(t, script, w[2])
}

func TestPunishWitnessStackShape(t *testing.T) {
	aliceSig, script := []byte("alice-sig"), []byte("script")
	w := PunishWitness(aliceSig, script)
	require.Len(t, w, 3)
	require.Equal(t, aliceSig, w[0])
	require.Equal(t, []byte{0x01}, w[1], "selects the IF (punish) branch")
	require.Equal(t, script, w[2])
}

func TestRefundWitnessStackShape(t *testing.T) {
	bobSig, script := []byte("bob-sig"), []byte("script")
	w := RefundWitness(bobSig, script)
	require.Len(t, w, 3)
	require.Equal(t, bobSig, w[0])
	require.Equal(t, []byte{}, w[1], "empty element selects the OP_ELSE (refund) branch")
	require.Equal(t, script, w[2])
}
