package swap

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/xmrbtc-swap/internal/chainwatch"
	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
	"github.com/klingon-exchange/xmrbtc-swap/internal/p2pnet"
	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
)

func newAliceDeps(t *testing.T, fx *testSwapFixture, bitcoin chainwatch.BitcoinWatcher, monero chainwatch.MoneroWallet) AliceDeps {
	t.Helper()
	return AliceDeps{
		Bitcoin:                bitcoin,
		Monero:                 monero,
		Provider:               cryptoprovider.NewECDSAAdaptorProvider(),
		Log:                    testLogger(t),
		AliceBtcPriv:           fx.alicePriv,
		AliceMoneroHalf:        fx.aliceMoneroHalf,
		RefundSweepAddr:        "fake-sweep-addr",
		SetupTimeout:           time.Minute,
		FinalityConfirmations:  1,
		PunishSafetyMarginBlks: 0,
	}
}

// TestAliceStepWatchingMempoolSeesLock covers the common-case transition out
// of the initial state: tx_lock appears in the mempool before setup_timeout.
func TestAliceStepWatchingMempoolSeesLock(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	watcher := chainwatch.NewFakeBitcoinWatcher(100)
	require.NoError(t, watcher.Broadcast(context.Background(), fx.lockTx))

	deps := newAliceDeps(t, fx, watcher, chainwatch.NewFakeMoneroWallet())
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceWatchingForTxLockInMempool{State3: fx.s3}, deps)

	next, err := driver.step(context.Background(), swapstate.AliceWatchingForTxLockInMempool{State3: fx.s3})
	require.NoError(t, err)
	require.IsType(t, swapstate.AliceWaitingForTxLockConfirmations{}, next)
}

// TestAliceStepWatchingMempoolSetupTimeoutAbortsBeforeLock is the
// Bob-aborts-before-lock seed scenario: Bob never broadcasts tx_lock, so
// Alice's setup_timeout fires and she walks away without having put BTC or
// XMR at risk.
func TestAliceStepWatchingMempoolSetupTimeoutAbortsBeforeLock(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	watcher := chainwatch.NewFakeBitcoinWatcher(100) // tx_lock never broadcast

	deps := newAliceDeps(t, fx, watcher, chainwatch.NewFakeMoneroWallet())
	deps.SetupTimeout = 10 * time.Millisecond
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceWatchingForTxLockInMempool{State3: fx.s3}, deps)

	next, err := driver.step(context.Background(), swapstate.AliceWatchingForTxLockInMempool{State3: fx.s3})
	require.NoError(t, err)
	require.Equal(t, swapstate.AliceDone{End: swapstate.EndSafelyAborted}, next)
}

// TestAliceStepWaitingConfirmationsHappyPath exercises the real wire path:
// once tx_lock is final, Alice funds the joint Monero address and proves it
// to Bob over a live Router, not just a captured callback.
func TestAliceStepWaitingConfirmationsHappyPath(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	watcher := chainwatch.NewFakeBitcoinWatcher(100)
	require.NoError(t, watcher.Broadcast(context.Background(), fx.lockTx))
	require.NoError(t, watcher.ConfirmInBlock(fx.lockTx.TxHash(), 100))

	monero := chainwatch.NewFakeMoneroWallet()
	fundingWallet, err := monero.CreateWallet(context.Background(), 0, fx.s3.MoneroViewKey, fx.aliceMoneroHalf)
	require.NoError(t, err)
	monero.Fund(fundingWallet.Address(), fx.s3.XmrAmount)

	aliceID, bobID := testPeerID(t), testPeerID(t)
	aliceTransport := newLoopbackTransport(aliceID)
	bobTransport := newLoopbackTransport(bobID)
	linkLoopback(aliceTransport, bobTransport)
	aliceRouter := p2pnet.NewRouter(aliceTransport, true)
	bobRouter := p2pnet.NewRouter(bobTransport, false)

	var received *p2pnet.TransferProofMessage
	bobRouter.OnTransferProof(func(ctx context.Context, from peer.ID, msg *p2pnet.TransferProofMessage) error {
		received = msg
		return nil
	})

	deps := newAliceDeps(t, fx, watcher, monero)
	deps.Router = aliceRouter
	deps.FundingWallet = fundingWallet
	deps.CounterpartyPeerID = bobID
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceWaitingForTxLockConfirmations{State3: fx.s3}, deps)

	next, err := driver.step(context.Background(), swapstate.AliceWaitingForTxLockConfirmations{State3: fx.s3})
	require.NoError(t, err)
	waiting, ok := next.(swapstate.AliceWaitingForEncSig)
	require.True(t, ok, "expected AliceWaitingForEncSig, got %T", next)
	require.Equal(t, uint64(100), waiting.MoneroRestoreHeight)

	require.NotNil(t, received)
	require.Equal(t, fx.s3.SwapID.String(), received.SwapID)
}

// TestAliceStepWaitingEncSigReceivesSignature is the cooperative branch: Bob
// delivers his encrypted redeem signature before T1 matures.
func TestAliceStepWaitingEncSigReceivesSignature(t *testing.T) {
	fx := newTestSwapFixture(t, 1000, 2000) // never matures within this test
	watcher := chainwatch.NewFakeBitcoinWatcher(100)

	deps := newAliceDeps(t, fx, watcher, chainwatch.NewFakeMoneroWallet())
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceWaitingForEncSig{State3: fx.s3, MoneroRestoreHeight: 100}, deps)

	lockScript, err := BuildLockScript(fx.s3.AliceBtcPubKey, fx.s3.BobBtcPubKey, fx.s3.CancelTimelock)
	require.NoError(t, err)
	encSig, err := SignBobEncSig(cryptoprovider.NewECDSAAdaptorProvider(), fx.bobPriv, fx.s3, lockScript)
	require.NoError(t, err)
	sBytes := encSig.SHat.Bytes()
	driver.DeliverEncSig(&p2pnet.EncryptedSignatureMessage{
		SwapID:         fx.s3.SwapID.String(),
		RHatCompressed: encSig.RHat.SerializeCompressed(),
		SHatBytes:      sBytes[:],
	})

	next, err := driver.step(context.Background(), swapstate.AliceWaitingForEncSig{State3: fx.s3, MoneroRestoreHeight: 100})
	require.NoError(t, err)
	learned, ok := next.(swapstate.AliceEncSigLearned)
	require.True(t, ok, "expected AliceEncSigLearned, got %T", next)
	require.Equal(t, encSig.SHat.Bytes(), learned.EncSig.SHat.Bytes())
}

// TestAliceStepWaitingEncSigTimelockExpires: Bob never sends his encrypted
// signature and T1 matures first.
func TestAliceStepWaitingEncSigTimelockExpires(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	watcher := chainwatch.NewFakeBitcoinWatcher(100)
	require.NoError(t, watcher.Broadcast(context.Background(), fx.lockTx))
	require.NoError(t, watcher.ConfirmInBlock(fx.lockTx.TxHash(), 99)) // height 100, confirmedAt 99 -> 2 confs

	deps := newAliceDeps(t, fx, watcher, chainwatch.NewFakeMoneroWallet())
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceWaitingForEncSig{State3: fx.s3, MoneroRestoreHeight: 100}, deps)

	next, err := driver.step(context.Background(), swapstate.AliceWaitingForEncSig{State3: fx.s3, MoneroRestoreHeight: 100})
	require.NoError(t, err)
	require.Equal(t, swapstate.AliceCancelTimelockExpired{State3: fx.s3, MoneroRestoreHeight: 100}, next)
}

// TestAliceStepEncSigLearnedRedeemHappyPath is the canonical happy path's
// final hop: Alice combines Bob's encrypted signature with her own Monero
// half and redeems tx_lock.
func TestAliceStepEncSigLearnedRedeemHappyPath(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	watcher := chainwatch.NewFakeBitcoinWatcher(100)

	// Pre-broadcast+confirm tx_redeem so the driver's own Broadcast call
	// becomes a no-op and the confirmation race resolves instantly instead
	// of racing against the 1-second timelock poll ticker.
	require.NoError(t, watcher.Broadcast(context.Background(), fx.s3.RedeemTx))
	require.NoError(t, watcher.ConfirmInBlock(fx.s3.RedeemTx.TxHash(), 100))

	lockScript, err := BuildLockScript(fx.s3.AliceBtcPubKey, fx.s3.BobBtcPubKey, fx.s3.CancelTimelock)
	require.NoError(t, err)
	provider := cryptoprovider.NewECDSAAdaptorProvider()
	encSig, err := SignBobEncSig(provider, fx.bobPriv, fx.s3, lockScript)
	require.NoError(t, err)

	deps := newAliceDeps(t, fx, watcher, chainwatch.NewFakeMoneroWallet())
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceEncSigLearned{}, deps)

	v := swapstate.AliceEncSigLearned{State3: fx.s3, MoneroRestoreHeight: 100, EncSig: encSig}
	next, err := driver.step(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, swapstate.AliceDone{End: swapstate.EndBtcRedeemed}, next)
	require.NotEmpty(t, fx.s3.RedeemTx.TxIn[0].Witness, "redeem must carry a finalized witness once broadcast")
}

// TestAliceStepEncSigLearnedTimelockExpiresBeforeRedeem: the redeem never
// confirms and T1 matures first, sending Alice into the cancel branch.
func TestAliceStepEncSigLearnedTimelockExpiresBeforeRedeem(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	watcher := chainwatch.NewFakeBitcoinWatcher(100)
	// tx_lock itself matured past T1 already; tx_redeem is never broadcast
	// by the watcher side (FakeBitcoinWatcher.Broadcast from the driver call
	// succeeds but nothing ever confirms it).
	require.NoError(t, watcher.Broadcast(context.Background(), fx.lockTx))
	require.NoError(t, watcher.ConfirmInBlock(fx.lockTx.TxHash(), 99))

	lockScript, err := BuildLockScript(fx.s3.AliceBtcPubKey, fx.s3.BobBtcPubKey, fx.s3.CancelTimelock)
	require.NoError(t, err)
	provider := cryptoprovider.NewECDSAAdaptorProvider()
	encSig, err := SignBobEncSig(provider, fx.bobPriv, fx.s3, lockScript)
	require.NoError(t, err)

	deps := newAliceDeps(t, fx, watcher, chainwatch.NewFakeMoneroWallet())
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceEncSigLearned{}, deps)

	v := swapstate.AliceEncSigLearned{State3: fx.s3, MoneroRestoreHeight: 100, EncSig: encSig}
	next, err := driver.step(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, swapstate.AliceCancelTimelockExpired{State3: fx.s3, MoneroRestoreHeight: 100}, next)
}

// TestAliceStepCancelTimelockExpiredPublishesCancel covers the unhappy-path
// pivot every refund/punish scenario starts from.
func TestAliceStepCancelTimelockExpiredPublishesCancel(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	watcher := chainwatch.NewFakeBitcoinWatcher(100)
	autoConfirmOnBroadcast(watcher, cancelTxid(fx.s3), 101)

	deps := newAliceDeps(t, fx, watcher, chainwatch.NewFakeMoneroWallet())
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceCancelTimelockExpired{}, deps)

	v := swapstate.AliceCancelTimelockExpired{State3: fx.s3, MoneroRestoreHeight: 100}
	next, err := driver.step(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, swapstate.AliceBtcCancelled{State3: fx.s3, MoneroRestoreHeight: 100}, next)
	require.NotEmpty(t, fx.s3.CancelTx.TxIn[0].Witness)
}

// TestAliceStepBtcCancelledRefundWins is the refund path's pivot: Bob
// reveals his refund first, so Alice recognizes the cooperative outcome even
// though T2 may also have matured.
func TestAliceStepBtcCancelledRefundWins(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	watcher := chainwatch.NewFakeBitcoinWatcher(100)
	require.NoError(t, watcher.Broadcast(context.Background(), fx.s3.RefundTx))
	require.NoError(t, watcher.ConfirmInBlock(fx.s3.RefundTx.TxHash(), 100)) // instantly satisfied

	deps := newAliceDeps(t, fx, watcher, chainwatch.NewFakeMoneroWallet())
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceBtcCancelled{}, deps)

	v := swapstate.AliceBtcCancelled{State3: fx.s3, MoneroRestoreHeight: 100}
	next, err := driver.step(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, swapstate.AliceBtcRefunded{State3: fx.s3, MoneroRestoreHeight: 100}, next)
}

// TestAliceStepBtcCancelledPunishWins is the punish path's pivot: T2 matures
// and Bob never reveals a refund.
func TestAliceStepBtcCancelledPunishWins(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	watcher := chainwatch.NewFakeBitcoinWatcher(100)
	// tx_cancel confirmed far enough in the past that T2 (4 blocks) has
	// already matured; tx_refund is never broadcast.
	require.NoError(t, watcher.Broadcast(context.Background(), fx.s3.CancelTx))
	require.NoError(t, watcher.ConfirmInBlock(fx.s3.CancelTx.TxHash(), 97)) // 100-97+1 = 4 confs

	deps := newAliceDeps(t, fx, watcher, chainwatch.NewFakeMoneroWallet())
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceBtcCancelled{}, deps)

	v := swapstate.AliceBtcCancelled{State3: fx.s3, MoneroRestoreHeight: 100}
	next, err := driver.step(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, swapstate.AliceBtcPunishable{State3: fx.s3, MoneroRestoreHeight: 100}, next)
}

// TestAliceStepBtcPunishablePublishesPunish is the punish seed scenario's
// terminal hop.
func TestAliceStepBtcPunishablePublishesPunish(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	watcher := chainwatch.NewFakeBitcoinWatcher(100)
	require.NoError(t, watcher.Broadcast(context.Background(), fx.s3.CancelTx))
	require.NoError(t, watcher.ConfirmInBlock(fx.s3.CancelTx.TxHash(), 97)) // T2 already matured
	autoConfirmOnBroadcast(watcher, fx.s3.PunishTx.TxHash(), 101)

	deps := newAliceDeps(t, fx, watcher, chainwatch.NewFakeMoneroWallet())
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceBtcPunishable{}, deps)

	v := swapstate.AliceBtcPunishable{State3: fx.s3, MoneroRestoreHeight: 100}
	next, err := driver.step(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, swapstate.AliceDone{End: swapstate.EndBtcPunished}, next)
	require.NotEmpty(t, fx.s3.PunishTx.TxIn[0].Witness)
}

// TestAliceStepBtcRefundedRecoversAndSweeps is the refund seed scenario end
// to end: Bob's real broadcast refund witness leaks his Monero half, and
// Alice recovers the full joint spend key from it.
func TestAliceStepBtcRefundedRecoversAndSweeps(t *testing.T) {
	fx := newTestSwapFixture(t, 2, 4)
	provider := cryptoprovider.NewECDSAAdaptorProvider()

	cancelScript, err := BuildCancelScript(fx.s3.AliceBtcPubKey, fx.s3.BobRefundPubKey, fx.s3.PunishTimelock)
	require.NoError(t, err)
	require.NoError(t, CommitBobRefundSig(provider, fx.bobPriv, fx.bobMoneroHalf, fx.s3, cancelScript))
	require.NoError(t, RevealBobRefund(provider, fx.bobMoneroHalf, fx.s3, cancelScript))

	watcher := chainwatch.NewFakeBitcoinWatcher(100)
	require.NoError(t, watcher.Broadcast(context.Background(), fx.s3.RefundTx))
	require.NoError(t, watcher.ConfirmInBlock(fx.s3.RefundTx.TxHash(), 100))

	monero := chainwatch.NewFakeMoneroWallet()
	deps := newAliceDeps(t, fx, watcher, monero)
	driver := NewAliceDriver(fx.s3.SwapID, swapstate.AliceBtcRefunded{}, deps)

	v := swapstate.AliceBtcRefunded{State3: fx.s3, MoneroRestoreHeight: 50}
	next, err := driver.step(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, swapstate.AliceDone{End: swapstate.EndXmrRefunded}, next)
}
