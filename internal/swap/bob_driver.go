package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"
	"filippo.io/edwards25519"

	"github.com/klingon-exchange/xmrbtc-swap/internal/chainwatch"
	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
	"github.com/klingon-exchange/xmrbtc-swap/internal/p2pnet"
	"github.com/klingon-exchange/xmrbtc-swap/internal/storage"
	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
	"github.com/klingon-exchange/xmrbtc-swap/pkg/logging"
)

// BobDeps is the taker-side mirror of AliceDeps.
type BobDeps struct {
	Storage  *storage.Storage
	Bitcoin  chainwatch.BitcoinWatcher
	Monero   chainwatch.MoneroWallet
	Provider cryptoprovider.Provider
	Router   *p2pnet.Router
	Log      *logging.Logger

	BobBtcPriv    *btcec.PrivateKey
	BobMoneroHalf *edwards25519.Scalar

	// FundingWallet is Bob's own view-only watcher on the joint Monero
	// address, opened once to check Alice's transfer proof.
	FundingWallet chainwatch.WalletHandle
	MoneroRestoreHeight uint64

	CounterpartyPeerID peer.ID // Alice

	FinalityConfirmations uint32
	OnEvent               EventHandler
}

// BobDriver runs the C5 loop for the taker's side. Unlike Alice's, it
// carries LockTx directly: Bob is the one who builds and signs it (via
// FundLockTx, before the driver starts) and broadcasts it when leaving
// ExecutionSetupDone, and State3 never stores it, only the outpoint
// CancelTx spends.
type BobDriver struct {
	deps   BobDeps
	swapID swapstate.ID
	lockTx *wire.MsgTx

	mu    sync.Mutex
	state swapstate.BobState

	proofCh chan *p2pnet.TransferProofMessage
}

// NewBobDriver wraps deps, the signed lock transaction (broadcast by the
// driver itself in ExecutionSetupDone), and an initial state into a
// runnable driver.
func NewBobDriver(swapID swapstate.ID, initial swapstate.BobState, lockTx *wire.MsgTx, deps BobDeps) *BobDriver {
	return &BobDriver{
		deps:    deps,
		swapID:  swapID,
		lockTx:  lockTx,
		state:   initial,
		proofCh: make(chan *p2pnet.TransferProofMessage, 1),
	}
}

// DeliverTransferProof hands the driver Alice's transfer_proof message.
func (d *BobDriver) DeliverTransferProof(msg *p2pnet.TransferProofMessage) {
	select {
	case d.proofCh <- msg:
	default:
		select {
		case <-d.proofCh:
		default:
		}
		d.proofCh <- msg
	}
}

// CurrentState returns a snapshot of the driver's in-memory state.
func (d *BobDriver) CurrentState() swapstate.BobState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run drives the loop until the swap reaches Done or ctx is cancelled.
func (d *BobDriver) Run(ctx context.Context) error {
	for {
		cur := d.CurrentState()
		if swapstate.IsBobDone(cur) {
			return nil
		}

		next, err := d.step(ctx, cur)
		if err != nil {
			return fmt.Errorf("swap: bob driver %s: %w", d.swapID, err)
		}

		if err := d.deps.Storage.UpdateBobSwap(d.swapID, next); err != nil {
			return fmt.Errorf("swap: persist bob state %s: %w", d.swapID, err)
		}

		d.mu.Lock()
		d.state = next
		d.mu.Unlock()
		d.emit(next)
	}
}

func (d *BobDriver) emit(s swapstate.BobState) {
	if d.deps.OnEvent == nil {
		return
	}
	ev := SwapEvent{SwapID: d.swapID, Tag: string(s.Tag()), Timestamp: time.Now()}
	if done, ok := s.(swapstate.BobDone); ok {
		ev.End = done.End.String()
	}
	go d.deps.OnEvent(ev)
}

func (d *BobDriver) step(ctx context.Context, s swapstate.BobState) (swapstate.BobState, error) {
	switch v := s.(type) {
	case swapstate.BobExecutionSetupDone:
		return d.stepExecutionSetupDone(ctx, v)
	case swapstate.BobBtcLocked:
		return d.stepBtcLocked(ctx, v)
	case swapstate.BobXmrLockProofReceived:
		return d.stepXmrLockProofReceived(ctx, v)
	case swapstate.BobXmrLocked:
		return d.stepXmrLocked(ctx, v)
	case swapstate.BobEncSigSent:
		return d.stepEncSigSent(ctx, v)
	case swapstate.BobCancelTimelockExpired:
		return d.stepCancelTimelockExpired(ctx, v)
	case swapstate.BobBtcCancelled:
		return d.stepBtcCancelled(ctx, v)
	default:
		return nil, fmt.Errorf("unexpected bob state %T", s)
	}
}

func (d *BobDriver) waitTimelockMatured(ctx context.Context, timelockBlocks uint32) error {
	txid := d.lockTx.TxHash()
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

// BobExecutionSetupDone -> broadcast tx_lock, commit the refund signature,
// hand it to Alice -> BobBtcLocked.
func (d *BobDriver) stepExecutionSetupDone(ctx context.Context, v swapstate.BobExecutionSetupDone) (swapstate.BobState, error) {
	if err := d.deps.Bitcoin.Broadcast(ctx, d.lockTx); err != nil {
		return nil, fmt.Errorf("broadcast lock tx: %w", err)
	}

	cancelScript, err := BuildCancelScript(v.State3.AliceBtcPubKey, v.State3.BobRefundPubKey, v.State3.PunishTimelock)
	if err != nil {
		return nil, err
	}
	if v.State3.BobRefundEncSig == nil {
		if err := CommitBobRefundSig(d.deps.Provider, d.deps.BobBtcPriv, d.deps.BobMoneroHalf, v.State3, cancelScript); err != nil {
			return nil, fmt.Errorf("commit refund signature: %w", err)
		}
	}

	msg := &p2pnet.RefundCommitmentMessage{
		SwapID:         d.swapID.String(),
		RHatCompressed: v.State3.BobRefundEncSig.RHat.SerializeCompressed(),
		SHatBytes:      shatBytes(v.State3.BobRefundEncSig),
	}
	if err := d.deps.Router.SendRefundCommitment(ctx, d.deps.CounterpartyPeerID, d.swapID.String(), msg); err != nil {
		return nil, fmt.Errorf("send refund commitment: %w", err)
	}

	return swapstate.BobBtcLocked{State3: v.State3}, nil
}

// BobBtcLocked: wait for tx_lock's finality confirmations, then race
// Alice's transfer_proof against T1 expiry.
func (d *BobDriver) stepBtcLocked(ctx context.Context, v swapstate.BobBtcLocked) (swapstate.BobState, error) {
	if err := d.deps.Bitcoin.WaitForConfirmations(ctx, d.lockTx.TxHash(), d.deps.FinalityConfirmations); err != nil {
		return nil, fmt.Errorf("confirm lock tx: %w", err)
	}

	var proof *p2pnet.TransferProofMessage
	winner, err := raceObservations(ctx, map[string]observation{
		"proof": func(ctx context.Context) error {
			select {
			case m := <-d.proofCh:
				proof = m
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		"t1": func(ctx context.Context) error { return d.waitTimelockMatured(ctx, v.State3.CancelTimelock) },
	})
	if err != nil {
		return nil, err
	}
	if winner == "t1" {
		return swapstate.BobCancelTimelockExpired{State3: v.State3}, nil
	}

	blob, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("encode transfer proof: %w", err)
	}
	return swapstate.BobXmrLockProofReceived{State3: v.State3, TransferProof: blob}, nil
}

// BobXmrLockProofReceived: independently verify Alice's proof rather than
// trusting it, racing T1 expiry the whole time.
func (d *BobDriver) stepXmrLockProofReceived(ctx context.Context, v swapstate.BobXmrLockProofReceived) (swapstate.BobState, error) {
	var msg p2pnet.TransferProofMessage
	if err := json.Unmarshal(v.TransferProof, &msg); err != nil {
		return nil, fmt.Errorf("decode transfer proof: %w", err)
	}
	proof := &chainwatch.TransferProof{
		TxID:   msg.TxID,
		TxKey:  msg.TxKey,
		Dest:   v.State3.MoneroLock.LockAddr,
		Amount: v.State3.XmrAmount,
	}

	winner, err := raceObservations(ctx, map[string]observation{
		"verified": func(ctx context.Context) error {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				confs, err := d.deps.Monero.CheckTxKey(ctx, d.deps.FundingWallet, proof)
				if err != nil {
					return err
				}
				if confs >= 1 {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
		"t1": func(ctx context.Context) error { return d.waitTimelockMatured(ctx, v.State3.CancelTimelock) },
	})
	if err != nil {
		return nil, err
	}
	if winner == "t1" {
		return swapstate.BobCancelTimelockExpired{State3: v.State3}, nil
	}
	return swapstate.BobXmrLocked{State3: v.State3}, nil
}

// BobXmrLocked: sign and send the encrypted redeem signature -> EncSigSent.
func (d *BobDriver) stepXmrLocked(ctx context.Context, v swapstate.BobXmrLocked) (swapstate.BobState, error) {
	lockScript, err := BuildLockScript(v.State3.AliceBtcPubKey, v.State3.BobBtcPubKey, v.State3.CancelTimelock)
	if err != nil {
		return nil, err
	}
	encSig, err := SignBobEncSig(d.deps.Provider, d.deps.BobBtcPriv, v.State3, lockScript)
	if err != nil {
		return nil, fmt.Errorf("sign encrypted redeem signature: %w", err)
	}
	sBytes := encSig.SHat.Bytes()
	msg := &p2pnet.EncryptedSignatureMessage{
		SwapID:         d.swapID.String(),
		RHatCompressed: encSig.RHat.SerializeCompressed(),
		SHatBytes:      sBytes[:],
	}
	if err := d.deps.Router.SendEncryptedSignature(ctx, d.deps.CounterpartyPeerID, d.swapID.String(), msg); err != nil {
		return nil, fmt.Errorf("send encrypted signature: %w", err)
	}
	return swapstate.BobEncSigSent{State3: v.State3}, nil
}

// BobEncSigSent races Alice's redeem landing on-chain (the cooperative
// terminal) against T1's expiry.
func (d *BobDriver) stepEncSigSent(ctx context.Context, v swapstate.BobEncSigSent) (swapstate.BobState, error) {
	redeemTxid := v.State3.RedeemTx.TxHash()
	winner, err := raceObservations(ctx, map[string]observation{
		"redeemed": func(ctx context.Context) error {
			return d.deps.Bitcoin.WaitForConfirmations(ctx, redeemTxid, 1)
		},
		"t1": func(ctx context.Context) error { return d.waitTimelockMatured(ctx, v.State3.CancelTimelock) },
	})
	if err != nil {
		return nil, err
	}
	if winner == "redeemed" {
		return swapstate.BobDone{End: swapstate.EndBtcRedeemed}, nil
	}
	return swapstate.BobCancelTimelockExpired{State3: v.State3}, nil
}

// BobCancelTimelockExpired: only Alice's signature spends tx_lock's cancel
// branch, so Bob just waits for her to publish it.
func (d *BobDriver) stepCancelTimelockExpired(ctx context.Context, v swapstate.BobCancelTimelockExpired) (swapstate.BobState, error) {
	if err := d.deps.Bitcoin.WaitForConfirmations(ctx, v.State3.CancelTx.TxHash(), 1); err != nil {
		return nil, fmt.Errorf("confirm cancel tx: %w", err)
	}
	return swapstate.BobBtcCancelled{State3: v.State3}, nil
}

// BobBtcCancelled: reveal and broadcast the refund transaction, racing
// Alice's punish transaction (she may have moved first if Bob was slow).
func (d *BobDriver) stepBtcCancelled(ctx context.Context, v swapstate.BobBtcCancelled) (swapstate.BobState, error) {
	cancelScript, err := BuildCancelScript(v.State3.AliceBtcPubKey, v.State3.BobRefundPubKey, v.State3.PunishTimelock)
	if err != nil {
		return nil, err
	}
	if len(v.State3.RefundTx.TxIn[0].Witness) == 0 {
		if err := RevealBobRefund(d.deps.Provider, d.deps.BobMoneroHalf, v.State3, cancelScript); err != nil {
			return nil, fmt.Errorf("reveal refund signature: %w", err)
		}
	}
	if err := d.deps.Bitcoin.Broadcast(ctx, v.State3.RefundTx); err != nil {
		return nil, fmt.Errorf("broadcast refund tx: %w", err)
	}

	winner, err := raceObservations(ctx, map[string]observation{
		"refunded": func(ctx context.Context) error {
			return d.deps.Bitcoin.WaitForConfirmations(ctx, v.State3.RefundTx.TxHash(), 1)
		},
		"punished": func(ctx context.Context) error {
			return d.deps.Bitcoin.WaitForConfirmations(ctx, v.State3.PunishTx.TxHash(), 1)
		},
	})
	if err != nil {
		return nil, err
	}
	if winner == "punished" {
		return swapstate.BobDone{End: swapstate.EndBtcPunished}, nil
	}
	return swapstate.BobDone{End: swapstate.EndBtcRefunded}, nil
}

func shatBytes(sig *cryptoprovider.AdaptorSignature) []byte {
	b := sig.SHat.Bytes()
	return b[:]
}
