package swap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/libp2p/go-libp2p/core/peer"
	"filippo.io/edwards25519"

	"github.com/klingon-exchange/xmrbtc-swap/internal/chainwatch"
	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
	"github.com/klingon-exchange/xmrbtc-swap/internal/p2pnet"
	"github.com/klingon-exchange/xmrbtc-swap/internal/storage"
	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
	"github.com/klingon-exchange/xmrbtc-swap/pkg/logging"
)

// AliceDeps are the handles an AliceDriver needs reattached to run: wallet
// and chain adapters, the crypto capability provider, the wire router, and
// Alice's own key material. None of it is persisted; it is supplied fresh on
// every process start, the runtime-context reattachment spec.md §9 calls
// for.
type AliceDeps struct {
	Storage  *storage.Storage
	Bitcoin  chainwatch.BitcoinWatcher
	Monero   chainwatch.MoneroWallet
	Provider cryptoprovider.Provider
	Router   *p2pnet.Router
	Log      *logging.Logger

	AliceBtcPriv    *btcec.PrivateKey
	AliceMoneroHalf *edwards25519.Scalar

	// FundingWallet is the wallet handle Alice's own XMR balance lives in,
	// the source of the funds she transfers into the 2-of-2 lock address.
	FundingWallet chainwatch.WalletHandle
	// RefundSweepAddr is where Alice sweeps the joint Monero wallet to once
	// she recovers the full spend key on the refund path.
	RefundSweepAddr string

	CounterpartyPeerID peer.ID

	SetupTimeout           time.Duration
	FinalityConfirmations  uint32
	PunishSafetyMarginBlks uint32

	OnEvent EventHandler
}

// AliceDriver runs the C5 event-sourced loop for the maker's side of one
// swap: load state, compute the observations the state awaits, race them,
// compute the next state, persist, repeat until terminal.
type AliceDriver struct {
	deps   AliceDeps
	swapID swapstate.ID

	mu    sync.Mutex
	state swapstate.AliceState

	encSigCh chan *p2pnet.EncryptedSignatureMessage
}

// NewAliceDriver wraps deps and an already-persisted initial state (normally
// AliceWatchingForTxLockInMempool, produced right after execution setup, or
// whatever tag storage.ListUnfinishedSwaps resumed) into a runnable driver.
func NewAliceDriver(swapID swapstate.ID, initial swapstate.AliceState, deps AliceDeps) *AliceDriver {
	return &AliceDriver{
		deps:     deps,
		swapID:   swapID,
		state:    initial,
		encSigCh: make(chan *p2pnet.EncryptedSignatureMessage, 1),
	}
}

// DeliverEncSig hands the driver Bob's encrypted_signature message, received
// out of band by the Manager's router dispatch. Non-blocking: only the
// latest delivery matters if more than one somehow arrives before the
// driver's WaitingForEncSig step consumes it.
func (d *AliceDriver) DeliverEncSig(msg *p2pnet.EncryptedSignatureMessage) {
	select {
	case d.encSigCh <- msg:
	default:
		select {
		case <-d.encSigCh:
		default:
		}
		d.encSigCh <- msg
	}
}

// CurrentState returns a snapshot of the driver's in-memory state.
func (d *AliceDriver) CurrentState() swapstate.AliceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run drives the loop until the swap reaches Done or ctx is cancelled.
func (d *AliceDriver) Run(ctx context.Context) error {
	for {
		cur := d.CurrentState()
		if swapstate.IsAliceDone(cur) {
			return nil
		}

		next, err := d.step(ctx, cur)
		if err != nil {
			return fmt.Errorf("swap: alice driver %s: %w", d.swapID, err)
		}

		if err := d.deps.Storage.UpdateAliceSwap(d.swapID, next); err != nil {
			// spec.md §7: a failed DB write halts the task without advancing
			// in-memory state, so the next Run call re-observes and retries.
			return fmt.Errorf("swap: persist alice state %s: %w", d.swapID, err)
		}

		d.mu.Lock()
		d.state = next
		d.mu.Unlock()
		d.emit(next)
	}
}

func (d *AliceDriver) emit(s swapstate.AliceState) {
	if d.deps.OnEvent == nil {
		return
	}
	ev := SwapEvent{SwapID: d.swapID, Tag: string(s.Tag()), Timestamp: time.Now()}
	if done, ok := s.(swapstate.AliceDone); ok {
		ev.End = done.End.String()
	}
	go d.deps.OnEvent(ev)
}

func (d *AliceDriver) step(ctx context.Context, s swapstate.AliceState) (swapstate.AliceState, error) {
	switch v := s.(type) {
	case swapstate.AliceWatchingForTxLockInMempool:
		return d.stepWatchingMempool(ctx, v)
	case swapstate.AliceWaitingForTxLockConfirmations:
		return d.stepWaitingConfirmations(ctx, v)
	case swapstate.AliceWaitingForEncSig:
		return d.stepWaitingEncSig(ctx, v)
	case swapstate.AliceEncSigLearned:
		return d.stepEncSigLearned(ctx, v)
	case swapstate.AliceCancelTimelockExpired:
		return d.stepCancelTimelockExpired(ctx, v)
	case swapstate.AliceBtcCancelled:
		return d.stepBtcCancelled(ctx, v)
	case swapstate.AliceBtcPunishable:
		return d.stepBtcPunishable(ctx, v)
	case swapstate.AliceBtcRefunded:
		return d.stepBtcRefunded(ctx, v)
	default:
		return nil, fmt.Errorf("unexpected alice state %T", s)
	}
}

// lockTxid recovers tx_lock's id from the outpoint tx_cancel spends, since
// State3 never stores it separately.
func lockTxid(s3 *swapstate.State3) chainhash.Hash {
	return s3.CancelTx.TxIn[0].PreviousOutPoint.Hash
}

func cancelTxid(s3 *swapstate.State3) chainhash.Hash {
	return s3.CancelTx.TxHash()
}

// | WatchingForTxLockInMempool | BTC lock seen in mempool | WaitingForTxLockConfirmations |
// | WatchingForTxLockInMempool | setup timeout            | Done::SafelyAborted           |
func (d *AliceDriver) stepWatchingMempool(ctx context.Context, v swapstate.AliceWatchingForTxLockInMempool) (swapstate.AliceState, error) {
	txid := lockTxid(v.State3)
	winner, err := raceObservations(ctx, map[string]observation{
		"mempool": func(ctx context.Context) error { return d.waitSeen(ctx, txid) },
		"timeout": waitTimeout(d.deps.SetupTimeout),
	})
	if err != nil {
		return nil, err
	}
	switch winner {
	case "mempool":
		return swapstate.AliceWaitingForTxLockConfirmations{State3: v.State3}, nil
	default:
		return swapstate.AliceDone{End: swapstate.EndSafelyAborted}, nil
	}
}

func (d *AliceDriver) waitSeen(ctx context.Context, txid chainhash.Hash) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		state, err := d.deps.Bitcoin.Status(ctx, txid)
		if err != nil {
			return err
		}
		if state.Status != chainwatch.StatusNotFound {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *AliceDriver) waitDropped(ctx context.Context, txid chainhash.Hash) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		state, err := d.deps.Bitcoin.Status(ctx, txid)
		if err != nil {
			return err
		}
		if state.Status == chainwatch.StatusNotFound {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// | WaitingForTxLockConfirmations | >= finality_confirmations | publish XMR lock; WaitingForEncSig |
// | WaitingForTxLockConfirmations | reorg drops tx            | Done::SafelyAborted                |
func (d *AliceDriver) stepWaitingConfirmations(ctx context.Context, v swapstate.AliceWaitingForTxLockConfirmations) (swapstate.AliceState, error) {
	txid := lockTxid(v.State3)
	winner, err := raceObservations(ctx, map[string]observation{
		"confirmed": func(ctx context.Context) error {
			return d.deps.Bitcoin.WaitForConfirmations(ctx, txid, d.deps.FinalityConfirmations)
		},
		"reorg": func(ctx context.Context) error { return d.waitDropped(ctx, txid) },
	})
	if err != nil {
		return nil, err
	}
	if winner == "reorg" {
		return swapstate.AliceDone{End: swapstate.EndSafelyAborted}, nil
	}

	restoreHeight, err := d.deps.Bitcoin.BestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("read restore height: %w", err)
	}
	proof, err := d.deps.Monero.Transfer(ctx, d.deps.FundingWallet, v.State3.MoneroLock.LockAddr, v.State3.XmrAmount)
	if err != nil {
		return nil, fmt.Errorf("publish xmr lock: %w", err)
	}
	msg := &p2pnet.TransferProofMessage{SwapID: d.swapID.String(), TxID: proof.TxID, TxKey: proof.TxKey}
	if err := d.deps.Router.SendTransferProof(ctx, d.deps.CounterpartyPeerID, d.swapID.String(), msg); err != nil {
		return nil, fmt.Errorf("send transfer proof: %w", err)
	}
	return swapstate.AliceWaitingForEncSig{State3: v.State3, MoneroRestoreHeight: uint64(restoreHeight)}, nil
}

// | WaitingForEncSig | encrypted-signature message from Bob | EncSigLearned          |
// | WaitingForEncSig | T1 expires on BTC                    | CancelTimelockExpired  |
func (d *AliceDriver) stepWaitingEncSig(ctx context.Context, v swapstate.AliceWaitingForEncSig) (swapstate.AliceState, error) {
	var received *p2pnet.EncryptedSignatureMessage
	winner, err := raceObservations(ctx, map[string]observation{
		"encsig": func(ctx context.Context) error {
			select {
			case m := <-d.encSigCh:
				received = m
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		"t1": func(ctx context.Context) error {
			return d.waitTimelockMatured(ctx, lockTxid(v.State3), v.State3.CancelTimelock)
		},
	})
	if err != nil {
		return nil, err
	}
	if winner == "t1" {
		return swapstate.AliceCancelTimelockExpired{State3: v.State3, MoneroRestoreHeight: v.MoneroRestoreHeight}, nil
	}

	sig, err := parseEncSigMessage(received)
	if err != nil {
		return nil, fmt.Errorf("parse encrypted signature: %w", err)
	}
	return swapstate.AliceEncSigLearned{State3: v.State3, MoneroRestoreHeight: v.MoneroRestoreHeight, EncSig: sig}, nil
}

func (d *AliceDriver) waitTimelockMatured(ctx context.Context, txid chainhash.Hash, timelockBlocks uint32) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		state, err := d.deps.Bitcoin.Status(ctx, txid)
		if err != nil {
			return err
		}
		if state.Status == chainwatch.StatusConfirmed && state.Confirmations >= timelockBlocks {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// | EncSigLearned | publish+confirm BTC redeem     | Done::BtcRedeemed     |
// | EncSigLearned | T1 expires before redeem lands | CancelTimelockExpired |
func (d *AliceDriver) stepEncSigLearned(ctx context.Context, v swapstate.AliceEncSigLearned) (swapstate.AliceState, error) {
	lockScript, err := BuildLockScript(v.State3.AliceBtcPubKey, v.State3.BobBtcPubKey, v.State3.CancelTimelock)
	if err != nil {
		return nil, err
	}
	if err := FinalizeRedeemWitness(d.deps.Provider, d.deps.AliceBtcPriv, d.deps.AliceMoneroHalf, v.State3, lockScript, v.EncSig); err != nil {
		return nil, fmt.Errorf("finalize redeem witness: %w", err)
	}
	if err := d.deps.Bitcoin.Broadcast(ctx, v.State3.RedeemTx); err != nil {
		return nil, fmt.Errorf("broadcast redeem tx: %w", err)
	}

	redeemTxid := v.State3.RedeemTx.TxHash()
	winner, err := raceObservations(ctx, map[string]observation{
		"redeemed": func(ctx context.Context) error {
			return d.deps.Bitcoin.WaitForConfirmations(ctx, redeemTxid, 1)
		},
		"t1": func(ctx context.Context) error {
			return d.waitTimelockMatured(ctx, lockTxid(v.State3), v.State3.CancelTimelock)
		},
	})
	if err != nil {
		return nil, err
	}
	if winner == "redeemed" {
		return swapstate.AliceDone{End: swapstate.EndBtcRedeemed}, nil
	}
	return swapstate.AliceCancelTimelockExpired{State3: v.State3, MoneroRestoreHeight: v.MoneroRestoreHeight}, nil
}

// | CancelTimelockExpired | publish BTC cancel confirmed | BtcCancelled |
func (d *AliceDriver) stepCancelTimelockExpired(ctx context.Context, v swapstate.AliceCancelTimelockExpired) (swapstate.AliceState, error) {
	lockScript, err := BuildLockScript(v.State3.AliceBtcPubKey, v.State3.BobBtcPubKey, v.State3.CancelTimelock)
	if err != nil {
		return nil, err
	}
	if len(v.State3.CancelTx.TxIn[0].Witness) == 0 {
		if err := SignAliceCancelShare(d.deps.Provider, d.deps.AliceBtcPriv, v.State3, lockScript); err != nil {
			return nil, fmt.Errorf("sign cancel share: %w", err)
		}
	}
	if err := d.deps.Bitcoin.Broadcast(ctx, v.State3.CancelTx); err != nil {
		return nil, fmt.Errorf("broadcast cancel tx: %w", err)
	}
	if err := d.deps.Bitcoin.WaitForConfirmations(ctx, cancelTxid(v.State3), 1); err != nil {
		return nil, fmt.Errorf("confirm cancel tx: %w", err)
	}
	return swapstate.AliceBtcCancelled{State3: v.State3, MoneroRestoreHeight: v.MoneroRestoreHeight}, nil
}

// | BtcCancelled | counterparty publishes refund | BtcRefunded    |
// | BtcCancelled | T2 expires                    | BtcPunishable  |
// Tie-break: when both are observable in the same epoch, refund wins (it
// yields Bob's XMR-half recovery, the cooperative outcome).
func (d *AliceDriver) stepBtcCancelled(ctx context.Context, v swapstate.AliceBtcCancelled) (swapstate.AliceState, error) {
	refundTxid := v.State3.RefundTx.TxHash()
	winner, err := raceObservations(ctx, map[string]observation{
		"refund": func(ctx context.Context) error {
			return d.deps.Bitcoin.WaitForConfirmations(ctx, refundTxid, 1)
		},
		"t2": func(ctx context.Context) error {
			return d.waitTimelockMatured(ctx, cancelTxid(v.State3), v.State3.PunishTimelock)
		},
	})
	if err != nil {
		return nil, err
	}

	// Tie-break: re-check the refund branch even if T2 won the race, since
	// both may have become true in the same epoch.
	if winner == "t2" {
		if state, _ := d.deps.Bitcoin.Status(ctx, refundTxid); state.Status == chainwatch.StatusConfirmed {
			winner = "refund"
		}
	}

	if winner == "refund" {
		return swapstate.AliceBtcRefunded{State3: v.State3, MoneroRestoreHeight: v.MoneroRestoreHeight}, nil
	}
	return swapstate.AliceBtcPunishable{State3: v.State3, MoneroRestoreHeight: v.MoneroRestoreHeight}, nil
}

// | BtcPunishable | publish+confirm BTC punish | Done::BtcPunished |
func (d *AliceDriver) stepBtcPunishable(ctx context.Context, v swapstate.AliceBtcPunishable) (swapstate.AliceState, error) {
	// Wait out the configured safety margin on top of T2's maturity before
	// broadcasting, so a refund that confirms just after T2 still wins.
	if d.deps.PunishSafetyMarginBlks > 0 {
		if err := d.waitTimelockMatured(ctx, cancelTxid(v.State3), v.State3.PunishTimelock+d.deps.PunishSafetyMarginBlks); err != nil {
			return nil, err
		}
	}

	cancelScript, err := BuildCancelScript(v.State3.AliceBtcPubKey, v.State3.BobRefundPubKey, v.State3.PunishTimelock)
	if err != nil {
		return nil, err
	}
	if len(v.State3.PunishTx.TxIn[0].Witness) == 0 {
		sigHash, err := punishSigHash(v.State3, cancelScript)
		if err != nil {
			return nil, err
		}
		sigBytes, err := selfSign(d.deps.Provider, d.deps.AliceBtcPriv, sigHash)
		if err != nil {
			return nil, fmt.Errorf("sign punish tx: %w", err)
		}
		v.State3.PunishTx.TxIn[0].Witness = PunishWitness(sigBytes, cancelScript)
	}
	if err := d.deps.Bitcoin.Broadcast(ctx, v.State3.PunishTx); err != nil {
		return nil, fmt.Errorf("broadcast punish tx: %w", err)
	}
	if err := d.deps.Bitcoin.WaitForConfirmations(ctx, v.State3.PunishTx.TxHash(), 1); err != nil {
		return nil, fmt.Errorf("confirm punish tx: %w", err)
	}
	return swapstate.AliceDone{End: swapstate.EndBtcPunished}, nil
}

// | BtcRefunded | publish+confirm XMR refund | Done::XmrRefunded |
func (d *AliceDriver) stepBtcRefunded(ctx context.Context, v swapstate.AliceBtcRefunded) (swapstate.AliceState, error) {
	cancelScript, err := BuildCancelScript(v.State3.AliceBtcPubKey, v.State3.BobRefundPubKey, v.State3.PunishTimelock)
	if err != nil {
		return nil, err
	}
	broadcastRefundTx, err := d.deps.Bitcoin.FetchTx(ctx, v.State3.RefundTx.TxHash())
	if err != nil {
		return nil, fmt.Errorf("fetch broadcast refund tx: %w", err)
	}
	bobHalf, err := RecoverBobMoneroHalf(d.deps.Provider, v.State3, cancelScript, broadcastRefundTx)
	if err != nil {
		return nil, fmt.Errorf("recover bob monero half: %w", err)
	}
	fullKey, err := d.deps.Provider.DeriveMoneroKey(d.deps.AliceMoneroHalf, bobHalf)
	if err != nil {
		return nil, fmt.Errorf("derive full monero key: %w", err)
	}

	wallet, err := d.deps.Monero.CreateWallet(ctx, v.MoneroRestoreHeight, v.State3.MoneroLock.ViewKey, fullKey)
	if err != nil {
		return nil, fmt.Errorf("open joint monero wallet: %w", err)
	}
	if _, err := d.deps.Monero.SweepAll(ctx, wallet, d.deps.RefundSweepAddr); err != nil {
		return nil, fmt.Errorf("sweep recovered xmr: %w", err)
	}

	d.deps.Log.Info("recovered full monero spend key via bob's refund broadcast", "swap_id", d.swapID.String())
	return swapstate.AliceDone{End: swapstate.EndXmrRefunded}, nil
}

// punishSigHash computes the sighash for PunishTx's IF branch (Alice's
// punish spend of tx_cancel, valid once T2 has matured).
func punishSigHash(s3 *swapstate.State3, cancelScript []byte) ([32]byte, error) {
	var h [32]byte
	sigHashes := txscript.NewTxSigHashes(s3.PunishTx, nil)
	hash, err := txscript.CalcWitnessSigHash(cancelScript, sigHashes, txscript.SigHashAll, s3.PunishTx, 0, s3.BtcAmount)
	if err != nil {
		return h, fmt.Errorf("swap: punish tx sighash: %w", err)
	}
	copy(h[:], hash)
	return h, nil
}

func parseEncSigMessage(msg *p2pnet.EncryptedSignatureMessage) (*cryptoprovider.AdaptorSignature, error) {
	rHat, err := btcec.ParsePubKey(msg.RHatCompressed)
	if err != nil {
		return nil, fmt.Errorf("swap: parse encrypted signature r_hat: %w", err)
	}
	if len(msg.SHatBytes) != 32 {
		return nil, fmt.Errorf("swap: encrypted signature s_hat must be 32 bytes, got %d", len(msg.SHatBytes))
	}
	var arr [32]byte
	copy(arr[:], msg.SHatBytes)
	var sHat secp256k1.ModNScalar
	sHat.SetBytes(&arr)
	return &cryptoprovider.AdaptorSignature{RHat: rHat, SHat: &sHat}, nil
}
