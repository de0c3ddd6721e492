package chainwatch

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"filippo.io/edwards25519"
	"github.com/stretchr/testify/require"
)

func TestFakeBitcoinWatcherBroadcastIsIdempotent(t *testing.T) {
	w := NewFakeBitcoinWatcher(100)
	tx := wire.NewMsgTx(wire.TxVersion)

	ctx := context.Background()
	require.NoError(t, w.Broadcast(ctx, tx))
	require.NoError(t, w.Broadcast(ctx, tx))

	state, err := w.Status(ctx, tx.TxHash())
	require.NoError(t, err)
	require.Equal(t, StatusMempool, state.Status)
}

func TestFakeBitcoinWatcherWaitForConfirmations(t *testing.T) {
	w := NewFakeBitcoinWatcher(100)
	tx := wire.NewMsgTx(wire.TxVersion)
	ctx := context.Background()
	require.NoError(t, w.Broadcast(ctx, tx))

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- w.WaitForConfirmations(ctx, tx.TxHash(), 3)
	}()

	require.NoError(t, w.ConfirmInBlock(tx.TxHash(), 101))
	w.AdvanceHeight(2) // now at 103: 101..103 = 3 confirmations

	select {
	case err := <-waitErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForConfirmations did not return after reaching target depth")
	}
}

func TestFakeBitcoinWatcherWaitForConfirmationsRespectsContext(t *testing.T) {
	w := NewFakeBitcoinWatcher(100)
	tx := wire.NewMsgTx(wire.TxVersion)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Broadcast(ctx, tx))

	cancel()
	err := w.WaitForConfirmations(ctx, tx.TxHash(), 3)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFakeMoneroWalletTransferAndCheckTxKey(t *testing.T) {
	w := NewFakeMoneroWallet()
	ctx := context.Background()

	viewKey := edwards25519.NewScalar()
	spendKey := edwards25519.NewScalar()
	wallet, err := w.CreateWallet(ctx, 0, viewKey, spendKey)
	require.NoError(t, err)

	w.Fund(wallet.Address(), 2_000_000_000_000)

	proof, err := w.Transfer(ctx, wallet, "4destaddr", 1_000_000_000_000)
	require.NoError(t, err)

	confs, err := w.CheckTxKey(ctx, wallet, proof)
	require.NoError(t, err)
	require.Equal(t, uint32(0), confs)

	w.ConfirmTransfer(proof.TxID, 10)
	confs, err = w.CheckTxKey(ctx, wallet, proof)
	require.NoError(t, err)
	require.Equal(t, uint32(10), confs)
}

func TestFakeMoneroWalletTransferInsufficientBalance(t *testing.T) {
	w := NewFakeMoneroWallet()
	ctx := context.Background()

	wallet, err := w.CreateWallet(ctx, 0, edwards25519.NewScalar(), edwards25519.NewScalar())
	require.NoError(t, err)

	_, err = w.Transfer(ctx, wallet, "4destaddr", 1)
	require.Error(t, err)
}

func TestFakeMoneroWalletSweepAll(t *testing.T) {
	w := NewFakeMoneroWallet()
	ctx := context.Background()

	wallet, err := w.CreateWallet(ctx, 0, edwards25519.NewScalar(), edwards25519.NewScalar())
	require.NoError(t, err)
	w.Fund(wallet.Address(), 500)

	proof, err := w.SweepAll(ctx, wallet, "4destaddr")
	require.NoError(t, err)
	require.Equal(t, uint64(500), proof.Amount)
}
