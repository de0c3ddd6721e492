package storage

import (
	"os"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"filippo.io/edwards25519"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
)

func testStorageState3(t *testing.T, id swapstate.ID) *swapstate.State3 {
	t.Helper()

	alicePriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bobPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	half := edwards25519.NewScalar()
	viewKey := edwards25519.NewScalar()
	spendPub := (&edwards25519.Point{}).ScalarBaseMult(half)

	return &swapstate.State3{
		SwapID:                  id,
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
		MoneroLock: swapstate.MoneroLockParams{
			Amount:   1_500_000_000_000,
			LockAddr: "4test",
			ViewKey:  viewKey,
			SpendPub: spendPub,
		},
	}
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "xmrbtc-swap-storage-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := New(&Config{DataDir: tmpDir})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBobSwapInsertGetUpdate(t *testing.T) {
	store := newTestStorage(t)
	id := swapstate.NewID()

	require.NoError(t, store.InsertBobSwap(id, swapstate.BobStarted{}))

	rec, err := store.GetSwap(id)
	require.NoError(t, err)
	require.Equal(t, RoleBob, rec.Role)
	require.False(t, rec.Done)
	require.Equal(t, string(swapstate.TagBobStarted), rec.Tag)

	state, err := rec.DecodeBob(&swapstate.BobRuntimeContext{})
	require.NoError(t, err)
	require.Equal(t, swapstate.TagBobStarted, state.Tag())

	require.NoError(t, store.UpdateBobSwap(id, swapstate.BobDone{End: swapstate.EndBtcRedeemed}))

	rec, err = store.GetSwap(id)
	require.NoError(t, err)
	require.True(t, rec.Done)
	require.Equal(t, string(swapstate.TagBobDone), rec.Tag)
}

func TestInsertFailsIfSwapExists(t *testing.T) {
	store := newTestStorage(t)
	id := swapstate.NewID()

	require.NoError(t, store.InsertBobSwap(id, swapstate.BobStarted{}))
	err := store.InsertBobSwap(id, swapstate.BobStarted{})
	require.ErrorIs(t, err, ErrSwapExists)
}

func TestUpdateFailsIfSwapMissing(t *testing.T) {
	store := newTestStorage(t)
	err := store.UpdateBobSwap(swapstate.NewID(), swapstate.BobStarted{})
	require.ErrorIs(t, err, ErrSwapNotFound)
}

func TestGetSwapNotFound(t *testing.T) {
	store := newTestStorage(t)
	_, err := store.GetSwap(swapstate.NewID())
	require.ErrorIs(t, err, ErrSwapNotFound)
}

func TestListUnfinishedSwapsExcludesDone(t *testing.T) {
	store := newTestStorage(t)

	unfinished := swapstate.NewID()
	require.NoError(t, store.InsertBobSwap(unfinished, swapstate.BobStarted{}))

	done := swapstate.NewID()
	require.NoError(t, store.InsertBobSwap(done, swapstate.BobDone{End: swapstate.EndSafelyAborted}))

	recs, err := store.ListUnfinishedSwaps()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, unfinished, recs[0].SwapID)
}

func TestAliceSwapRoundTripsState3(t *testing.T) {
	store := newTestStorage(t)
	id := swapstate.NewID()
	s3 := testStorageState3(t, id)

	require.NoError(t, store.InsertAliceSwap(id, swapstate.AliceWatchingForTxLockInMempool{State3: s3}))

	rec, err := store.GetSwap(id)
	require.NoError(t, err)

	state, err := rec.DecodeAlice(&swapstate.AliceRuntimeContext{})
	require.NoError(t, err)
	locked, ok := state.(swapstate.AliceWatchingForTxLockInMempool)
	require.True(t, ok)
	require.Equal(t, s3.BtcAmount, locked.State3.BtcAmount)
	require.Equal(t, s3.CancelTimelock, locked.State3.CancelTimelock)
}

func TestDecodeAliceRejectsBobRecord(t *testing.T) {
	store := newTestStorage(t)
	id := swapstate.NewID()
	require.NoError(t, store.InsertBobSwap(id, swapstate.BobStarted{}))

	rec, err := store.GetSwap(id)
	require.NoError(t, err)

	_, err = rec.DecodeAlice(&swapstate.AliceRuntimeContext{})
	require.Error(t, err)
}
