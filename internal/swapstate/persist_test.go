package swapstate

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"filippo.io/edwards25519"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
)

func testState3(t *testing.T) *State3 {
	t.Helper()

	alicePriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bobPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	aliceHalf := edwards25519.NewScalar()
	viewKey := edwards25519.NewScalar()
	spendPub := (&edwards25519.Point{}).ScalarBaseMult(aliceHalf)

	return &State3{
		SwapID:                  NewID(),
		CounterpartyPeerID:      "12D3KooWtest",
		AliceBtcPubKey:          alicePriv.PubKey(),
		BobBtcPubKey:            bobPriv.PubKey(),
		AliceMoneroSpendPubHalf: spendPub,
		BobMoneroSpendPubHalf:   spendPub,
		MoneroViewKey:           viewKey,
		BtcAmount:               100_000,
		XmrAmount:               1_500_000_000_000,
		CancelTimelock:          72,
		PunishTimelock:          144,
		CancelTx:                wire.NewMsgTx(wire.TxVersion),
		RefundTx:                wire.NewMsgTx(wire.TxVersion),
		PunishTx:                wire.NewMsgTx(wire.TxVersion),
		MoneroLock: MoneroLockParams{
			Amount:   1_500_000_000_000,
			LockAddr: "4test",
			ViewKey:  viewKey,
			SpendPub: spendPub,
		},
	}
}

func TestAliceRoundTripAllVariants(t *testing.T) {
	s3 := testState3(t)

	cases := []AliceState{
		AliceWatchingForTxLockInMempool{State3: s3},
		AliceWaitingForTxLockConfirmations{State3: s3},
		AliceWaitingForEncSig{State3: s3, MoneroRestoreHeight: 1000},
		AliceCancelTimelockExpired{State3: s3, MoneroRestoreHeight: 1000},
		AliceBtcCancelled{State3: s3, MoneroRestoreHeight: 1000},
		AliceBtcPunishable{State3: s3, MoneroRestoreHeight: 1000},
		AliceBtcRefunded{State3: s3, MoneroRestoreHeight: 1000, XmrSpendKey: make([]byte, 32)},
		AliceDone{End: EndBtcRedeemed},
	}

	for _, want := range cases {
		p := ToPersisted(want)
		got, err := FromPersisted(p, &AliceRuntimeContext{})
		require.NoError(t, err)
		require.Equal(t, want.Tag(), got.Tag())
		require.IsType(t, want, got)
	}
}

// TestAliceWaitingForTxLockConfirmationsResumesIdentity is the regression
// test for the persisted-to-runtime conversion bug: a crash while in
// WaitingForTxLockConfirmations must resume in that same state, not replay
// the mempool wait by resuming as WatchingForTxLockInMempool.
func TestAliceWaitingForTxLockConfirmationsResumesIdentity(t *testing.T) {
	s3 := testState3(t)
	original := AliceWaitingForTxLockConfirmations{State3: s3}

	persisted := ToPersisted(original)
	require.Equal(t, TagWaitingForTxLockConfirmations, persisted.Tag)

	resumed, err := FromPersisted(persisted, &AliceRuntimeContext{})
	require.NoError(t, err)

	require.IsType(t, AliceWaitingForTxLockConfirmations{}, resumed)
	require.NotEqual(t, TagWatchingForTxLockInMempool, resumed.Tag())
	require.Equal(t, original.Tag(), resumed.Tag())
	require.Equal(t, s3, resumed.(AliceWaitingForTxLockConfirmations).State3)
}

func TestAliceEncSigLearnedRoundTripsSignature(t *testing.T) {
	s3 := testState3(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	encryptionPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	p := cryptoprovider.NewECDSAAdaptorProvider()
	sig, err := p.SignAdaptor(priv, [32]byte{1, 2, 3}, encryptionPriv.PubKey())
	require.NoError(t, err)

	original := AliceEncSigLearned{State3: s3, MoneroRestoreHeight: 2000, EncSig: sig}

	persisted := ToPersisted(original)
	require.NotNil(t, persisted.EncSig)

	resumed, err := FromPersisted(persisted, &AliceRuntimeContext{})
	require.NoError(t, err)

	got, ok := resumed.(AliceEncSigLearned)
	require.True(t, ok)
	require.True(t, got.EncSig.SHat.Equals(sig.SHat))
	require.Equal(t, sig.RHat.SerializeCompressed(), got.EncSig.RHat.SerializeCompressed())
}

func TestBobRoundTripAllVariants(t *testing.T) {
	s3 := testState3(t)

	cases := []BobState{
		BobStarted{},
		BobExecutionSetupDone{State3: s3},
		BobBtcLocked{State3: s3},
		BobXmrLockProofReceived{State3: s3, TransferProof: []byte("proof")},
		BobXmrLocked{State3: s3},
		BobEncSigSent{State3: s3},
		BobCancelTimelockExpired{State3: s3},
		BobBtcCancelled{State3: s3},
		BobDone{End: EndBtcRefunded},
	}

	for _, want := range cases {
		p := ToPersistedBob(want)
		got, err := FromPersistedBob(p, &BobRuntimeContext{})
		require.NoError(t, err)
		require.Equal(t, want.Tag(), got.Tag())
		require.IsType(t, want, got)
	}
}

func TestFromPersistedRejectsUnknownTag(t *testing.T) {
	_, err := FromPersisted(&PersistedAliceState{Tag: "not_a_real_tag", State3: testState3(t)}, nil)
	require.Error(t, err)
}

func TestFromPersistedBobRejectsUnknownTag(t *testing.T) {
	_, err := FromPersistedBob(&PersistedBobState{Tag: "not_a_real_tag"}, nil)
	require.Error(t, err)
}
