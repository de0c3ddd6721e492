package swap

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/libp2p/go-libp2p/core/peer"
	"filippo.io/edwards25519"

	"github.com/klingon-exchange/xmrbtc-swap/internal/chainwatch"
	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
	"github.com/klingon-exchange/xmrbtc-swap/internal/p2pnet"
	"github.com/klingon-exchange/xmrbtc-swap/internal/storage"
	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
	"github.com/klingon-exchange/xmrbtc-swap/internal/walletrpc"
	"github.com/klingon-exchange/xmrbtc-swap/pkg/logging"
)

// Default timelocks, in blocks. Neither spec.md nor config.go pins a
// specific value; these are this module's negotiated defaults (roughly
// half a day and a full day of Bitcoin blocks) until a swap's
// counterparties agree to something else via ExecutionSetupRequest.
const (
	DefaultCancelTimelockBlocks uint32 = 72
	DefaultPunishTimelockBlocks uint32 = 144

	defaultLockFeeRate   int64 = 10 // sat/vbyte
	defaultRedeemFeeSats int64 = 500
)

// ManagerDeps are the handles shared by every swap the Manager runs,
// reattached once at process start and handed to each driver it launches.
type ManagerDeps struct {
	Storage  *storage.Storage
	Bitcoin  chainwatch.BitcoinWatcher
	Monero   chainwatch.MoneroWallet
	Provider cryptoprovider.Provider
	Router   *p2pnet.Router
	Log      *logging.Logger

	// Wallet is Alice's own signing wallet, used only to mint the address
	// tx_redeem pays out to during execution setup.
	Wallet walletrpc.BitcoinWallet

	FinalityConfirmations  uint32
	PunishSafetyMarginBlks uint32
	SetupTimeout           time.Duration
}

// Manager runs the C5 driver loop for every swap this node is a party to,
// dispatching Router sink callbacks to the right driver by swap id. Its
// shape follows the teacher's Coordinator: a mutex-guarded registry plus
// event fan-out, not a supervisor tree.
type Manager struct {
	deps ManagerDeps

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	alice   map[string]*AliceDriver
	bob     map[string]*BobDriver
	handler EventHandler
}

// NewManager wires deps and registers the Manager's sinks on deps.Router so
// incoming execution_setup/refund_commitment/transfer_proof/
// encrypted_signature messages reach the right driver.
func NewManager(ctx context.Context, deps ManagerDeps) *Manager {
	mctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		deps:   deps,
		ctx:    mctx,
		cancel: cancel,
		alice:  make(map[string]*AliceDriver),
		bob:    make(map[string]*BobDriver),
	}

	deps.Router.OnExecutionSetup(m.handleExecutionSetup)
	deps.Router.OnRefundCommitment(m.handleRefundCommitment)
	deps.Router.OnTransferProof(m.handleTransferProof)
	deps.Router.OnEncryptedSignature(m.handleEncryptedSignature)

	return m
}

// OnEvent registers a handler fired on every swap state transition, across
// every driver this Manager runs.
func (m *Manager) OnEvent(fn EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

func (m *Manager) fanOut(ev SwapEvent) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Close stops every driver this Manager is running. Drivers persist their
// last-completed state before returning, so a later NewManager plus
// ResumeUnfinished picks up exactly where they left off.
func (m *Manager) Close() error {
	m.cancel()
	return nil
}

// AliceKeyLookup and BobKeyLookup hand a resumed swap back its key material,
// sourced from whatever keystore a deployment's cmd layer owns. This module
// never persists private keys itself; see ResumeUnfinished.
type AliceKeyLookup func(swapstate.ID) (*btcec.PrivateKey, *edwards25519.Scalar, error)
type BobKeyLookup func(swapstate.ID) (*btcec.PrivateKey, *edwards25519.Scalar, *wire.MsgTx, error)

// ResumeUnfinished relaunches a driver for every swap storage has recorded
// as not-yet-done, per spec.md §4.4's crash-resume contract. Call once at
// startup, after NewManager.
func (m *Manager) ResumeUnfinished(aliceKeys AliceKeyLookup, bobKeys BobKeyLookup) error {
	records, err := m.deps.Storage.ListUnfinishedSwaps()
	if err != nil {
		return fmt.Errorf("swap: list unfinished swaps: %w", err)
	}
	for _, rec := range records {
		switch rec.Role {
		case storage.RoleAlice:
			state, err := rec.DecodeAlice(&swapstate.AliceRuntimeContext{})
			if err != nil {
				return fmt.Errorf("swap: resume alice swap %s: %w", rec.SwapID, err)
			}
			priv, half, err := aliceKeys(rec.SwapID)
			if err != nil {
				return fmt.Errorf("swap: recover alice keys %s: %w", rec.SwapID, err)
			}
			m.launchAlice(rec.SwapID, state, priv, half)
		case storage.RoleBob:
			state, err := rec.DecodeBob(&swapstate.BobRuntimeContext{})
			if err != nil {
				return fmt.Errorf("swap: resume bob swap %s: %w", rec.SwapID, err)
			}
			priv, half, lockTx, err := bobKeys(rec.SwapID)
			if err != nil {
				return fmt.Errorf("swap: recover bob keys %s: %w", rec.SwapID, err)
			}
			m.launchBob(rec.SwapID, state, lockTx, priv, half)
		default:
			m.deps.Log.Warn("unknown swap role on resume", "swap_id", rec.SwapID.String(), "role", string(rec.Role))
		}
	}
	return nil
}

func (m *Manager) launchAlice(id swapstate.ID, initial swapstate.AliceState, priv *btcec.PrivateKey, moneroHalf *edwards25519.Scalar) {
	var cp peer.ID
	var fundingWallet chainwatch.WalletHandle
	var refundSweepAddr string
	if s3 := stateOfAlice(initial); s3 != nil {
		cp, _ = peer.Decode(s3.CounterpartyPeerID)
		if w, err := FundingWalletFor(m.ctx, m.deps.Monero, 0, s3.MoneroLock, moneroHalf); err != nil {
			m.deps.Log.Error("open alice funding wallet", "swap_id", id.String(), "error", err)
		} else {
			fundingWallet = w
		}
		if m.deps.Wallet != nil {
			if addr, err := m.deps.Wallet.NewAddress(m.ctx); err != nil {
				m.deps.Log.Error("alice refund sweep address", "swap_id", id.String(), "error", err)
			} else {
				refundSweepAddr = addr.String()
			}
		}
	}

	d := NewAliceDriver(id, initial, AliceDeps{
		Storage:                m.deps.Storage,
		Bitcoin:                m.deps.Bitcoin,
		Monero:                 m.deps.Monero,
		Provider:               m.deps.Provider,
		Router:                 m.deps.Router,
		Log:                    m.deps.Log,
		AliceBtcPriv:           priv,
		AliceMoneroHalf:        moneroHalf,
		FundingWallet:          fundingWallet,
		RefundSweepAddr:        refundSweepAddr,
		CounterpartyPeerID:     cp,
		SetupTimeout:           m.deps.SetupTimeout,
		FinalityConfirmations:  m.deps.FinalityConfirmations,
		PunishSafetyMarginBlks: m.deps.PunishSafetyMarginBlks,
		OnEvent:                m.fanOut,
	})

	m.mu.Lock()
	m.alice[id.String()] = d
	m.mu.Unlock()

	go func() {
		if err := d.Run(m.ctx); err != nil {
			m.deps.Log.Error("alice driver exited", "swap_id", id.String(), "error", err)
		}
	}()
}

func (m *Manager) launchBob(id swapstate.ID, initial swapstate.BobState, lockTx *wire.MsgTx, priv *btcec.PrivateKey, moneroHalf *edwards25519.Scalar) {
	var cp peer.ID
	var fundingWallet chainwatch.WalletHandle
	var restoreHeight uint64
	if s3 := stateOfBob(initial); s3 != nil {
		cp, _ = peer.Decode(s3.CounterpartyPeerID)
		if h, err := m.deps.Bitcoin.BestHeight(m.ctx); err == nil {
			restoreHeight = uint64(h)
		}
		if w, err := FundingWalletFor(m.ctx, m.deps.Monero, restoreHeight, s3.MoneroLock, moneroHalf); err != nil {
			m.deps.Log.Error("open bob funding wallet", "swap_id", id.String(), "error", err)
		} else {
			fundingWallet = w
		}
	}

	d := NewBobDriver(id, initial, lockTx, BobDeps{
		Storage:               m.deps.Storage,
		Bitcoin:               m.deps.Bitcoin,
		Monero:                m.deps.Monero,
		Provider:              m.deps.Provider,
		Router:                m.deps.Router,
		Log:                   m.deps.Log,
		BobBtcPriv:            priv,
		BobMoneroHalf:         moneroHalf,
		FundingWallet:         fundingWallet,
		MoneroRestoreHeight:   restoreHeight,
		CounterpartyPeerID:    cp,
		FinalityConfirmations: m.deps.FinalityConfirmations,
		OnEvent:               m.fanOut,
	})

	m.mu.Lock()
	m.bob[id.String()] = d
	m.mu.Unlock()

	go func() {
		if err := d.Run(m.ctx); err != nil {
			m.deps.Log.Error("bob driver exited", "swap_id", id.String(), "error", err)
		}
	}()
}

// handleExecutionSetup is Alice's responder: it derives her key material,
// builds the unsigned State3 both sides agree on, persists it, and starts
// her driver watching for Bob's lock transaction.
func (m *Manager) handleExecutionSetup(ctx context.Context, from peer.ID, req *p2pnet.ExecutionSetupRequest) (*p2pnet.ExecutionSetupResponse, error) {
	id, err := swapstate.ParseID(req.SwapID)
	if err != nil {
		return nil, fmt.Errorf("swap: parse swap id: %w", err)
	}

	alicePriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("swap: generate alice btc key: %w", err)
	}
	aliceMoneroHalf, err := randomMoneroScalar()
	if err != nil {
		return nil, fmt.Errorf("swap: generate alice monero half: %w", err)
	}
	_, aliceEncPub := moneroHalfEncryptionKey(aliceMoneroHalf)
	aliceMoneroSpendPub := (&edwards25519.Point{}).ScalarBaseMult(aliceMoneroHalf)

	bobBtcPubKey, err := btcec.ParsePubKey(req.BobBtcPubKey)
	if err != nil {
		return nil, fmt.Errorf("swap: parse bob btc pubkey: %w", err)
	}
	bobMoneroSpendPub, err := (&edwards25519.Point{}).SetBytes(req.BobMoneroSpendHalf)
	if err != nil {
		return nil, fmt.Errorf("swap: parse bob monero spend half: %w", err)
	}
	bobRefundPubKey, err := btcec.ParsePubKey(req.BobRefundPubKey)
	if err != nil {
		return nil, fmt.Errorf("swap: parse bob refund pubkey: %w", err)
	}

	viewKey, err := randomMoneroScalar()
	if err != nil {
		return nil, fmt.Errorf("swap: generate monero view key: %w", err)
	}

	aliceAddr, err := m.deps.Wallet.NewAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("swap: alice redeem address: %w", err)
	}

	combined := combinedMoneroSpendPub(aliceMoneroSpendPub, bobMoneroSpendPub)
	lockAddr := deriveMoneroLockAddr(swapstate.MoneroLockParams{ViewKey: viewKey, SpendPub: combined})

	lockHash, err := chainhash.NewHashFromStr(req.LockTxID)
	if err != nil {
		return nil, fmt.Errorf("swap: parse lock txid: %w", err)
	}

	params := SetupParams{
		SwapID:                  id,
		CounterpartyPeerID:      from.String(),
		AliceBtcPubKey:          alicePriv.PubKey(),
		BobBtcPubKey:            bobBtcPubKey,
		AliceMoneroSpendPubHalf: aliceMoneroSpendPub,
		BobMoneroSpendPubHalf:   bobMoneroSpendPub,
		MoneroViewKey:           viewKey,
		BtcAmount:               req.BtcAmountSats,
		XmrAmount:               req.XmrAmountPiconero,
		CancelTimelock:          DefaultCancelTimelockBlocks,
		PunishTimelock:          DefaultPunishTimelockBlocks,
		BobRefundPubKey:         bobRefundPubKey,
		AliceEncPubKey:          aliceEncPub,
		AliceRedeemScriptPubKey: aliceAddr.ScriptAddress(),
		RedeemFeeSats:           defaultRedeemFeeSats,
		LockOutpoint:            wire.OutPoint{Hash: *lockHash, Index: req.LockVout},
		LockValue:               req.BtcAmountSats,
		MoneroLockAddr:          lockAddr,
	}

	s3, err := BuildUnsignedState3(params)
	if err != nil {
		return nil, fmt.Errorf("swap: build state3: %w", err)
	}

	initial := swapstate.AliceWatchingForTxLockInMempool{State3: s3}
	if err := m.deps.Storage.InsertAliceSwap(id, initial); err != nil {
		return nil, fmt.Errorf("swap: persist alice swap: %w", err)
	}
	m.launchAlice(id, initial, alicePriv, aliceMoneroHalf)

	cancelRaw, err := txBytes(s3.CancelTx)
	if err != nil {
		return nil, err
	}
	refundRaw, err := txBytes(s3.RefundTx)
	if err != nil {
		return nil, err
	}
	punishRaw, err := txBytes(s3.PunishTx)
	if err != nil {
		return nil, err
	}
	redeemRaw, err := txBytes(s3.RedeemTx)
	if err != nil {
		return nil, err
	}

	return &p2pnet.ExecutionSetupResponse{
		AliceBtcPubKey:          alicePriv.PubKey().SerializeCompressed(),
		AliceMoneroSpendHalf:    aliceMoneroSpendPub.Bytes(),
		MoneroViewKey:           viewKey.Bytes(),
		CancelTimelock:          params.CancelTimelock,
		PunishTimelock:          params.PunishTimelock,
		CancelTxRaw:             cancelRaw,
		RefundTxRaw:             refundRaw,
		PunishTxRaw:             punishRaw,
		RedeemTxRaw:             redeemRaw,
		AliceEncPubKey:          aliceEncPub.SerializeCompressed(),
		AliceRedeemScriptPubKey: params.AliceRedeemScriptPubKey,
	}, nil
}

// InitiateSwap is Bob's side of execution setup: generate his keys, fund
// (but don't yet broadcast) the lock transaction, request setup from the
// maker, build the shared State3, persist, and start his driver.
func (m *Manager) InitiateSwap(ctx context.Context, maker peer.ID, wallet walletrpc.BitcoinWallet, btcAmountSats int64, xmrAmountPiconero uint64) (swapstate.ID, error) {
	id := swapstate.NewID()

	bobPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return id, fmt.Errorf("swap: generate bob btc key: %w", err)
	}
	bobMoneroHalf, err := randomMoneroScalar()
	if err != nil {
		return id, fmt.Errorf("swap: generate bob monero half: %w", err)
	}
	bobMoneroSpendPub := (&edwards25519.Point{}).ScalarBaseMult(bobMoneroHalf)
	_, bobRefundPub := moneroHalfEncryptionKey(bobMoneroHalf)

	req := &p2pnet.ExecutionSetupRequest{
		SwapID:             id.String(),
		BtcAmountSats:      btcAmountSats,
		XmrAmountPiconero:  xmrAmountPiconero,
		BobBtcPubKey:       bobPriv.PubKey().SerializeCompressed(),
		BobMoneroSpendHalf: bobMoneroSpendPub.Bytes(),
		BobRefundPubKey:    bobRefundPub.SerializeCompressed(),
	}

	resp, err := m.deps.Router.RequestExecutionSetup(ctx, maker, id.String(), req)
	if err != nil {
		return id, fmt.Errorf("swap: request execution setup: %w", err)
	}

	alicePubKey, err := btcec.ParsePubKey(resp.AliceBtcPubKey)
	if err != nil {
		return id, fmt.Errorf("swap: parse alice btc pubkey: %w", err)
	}
	lockScript, err := BuildLockScript(alicePubKey, bobPriv.PubKey(), resp.CancelTimelock)
	if err != nil {
		return id, fmt.Errorf("swap: build lock script: %w", err)
	}
	lockSPK, err := P2WSHScriptPubKey(lockScript)
	if err != nil {
		return id, err
	}

	lockTx, err := FundLockTx(ctx, wallet, btcAmountSats, defaultLockFeeRate, lockSPK)
	if err != nil {
		return id, fmt.Errorf("swap: fund lock tx: %w", err)
	}

	aliceMoneroSpendPub, err := (&edwards25519.Point{}).SetBytes(resp.AliceMoneroSpendHalf)
	if err != nil {
		return id, fmt.Errorf("swap: parse alice monero spend half: %w", err)
	}
	viewKey, err := (&edwards25519.Scalar{}).SetCanonicalBytes(resp.MoneroViewKey)
	if err != nil {
		return id, fmt.Errorf("swap: parse monero view key: %w", err)
	}
	aliceEncPub, err := btcec.ParsePubKey(resp.AliceEncPubKey)
	if err != nil {
		return id, fmt.Errorf("swap: parse alice enc pubkey: %w", err)
	}

	combined := combinedMoneroSpendPub(aliceMoneroSpendPub, bobMoneroSpendPub)
	lockAddr := deriveMoneroLockAddr(swapstate.MoneroLockParams{ViewKey: viewKey, SpendPub: combined})

	params := SetupParams{
		SwapID:                  id,
		CounterpartyPeerID:      maker.String(),
		AliceBtcPubKey:          alicePubKey,
		BobBtcPubKey:            bobPriv.PubKey(),
		AliceMoneroSpendPubHalf: aliceMoneroSpendPub,
		BobMoneroSpendPubHalf:   bobMoneroSpendPub,
		MoneroViewKey:           viewKey,
		BtcAmount:               btcAmountSats,
		XmrAmount:               xmrAmountPiconero,
		CancelTimelock:          resp.CancelTimelock,
		PunishTimelock:          resp.PunishTimelock,
		BobRefundPubKey:         bobRefundPub,
		AliceEncPubKey:          aliceEncPub,
		AliceRedeemScriptPubKey: resp.AliceRedeemScriptPubKey,
		RedeemFeeSats:           defaultRedeemFeeSats,
		LockOutpoint:            wire.OutPoint{Hash: lockTx.TxHash(), Index: 0},
		LockValue:               btcAmountSats,
		MoneroLockAddr:          lockAddr,
	}

	s3, err := BuildUnsignedState3(params)
	if err != nil {
		return id, fmt.Errorf("swap: build state3: %w", err)
	}

	cancelScript, err := BuildCancelScript(s3.AliceBtcPubKey, s3.BobRefundPubKey, s3.PunishTimelock)
	if err != nil {
		return id, err
	}
	if err := CommitBobRefundSig(m.deps.Provider, bobPriv, bobMoneroHalf, s3, cancelScript); err != nil {
		return id, fmt.Errorf("swap: commit bob refund sig: %w", err)
	}

	initial := swapstate.BobExecutionSetupDone{State3: s3}
	if err := m.deps.Storage.InsertBobSwap(id, initial); err != nil {
		return id, fmt.Errorf("swap: persist bob swap: %w", err)
	}
	m.launchBob(id, initial, lockTx, bobPriv, bobMoneroHalf)

	return id, nil
}

func (m *Manager) handleRefundCommitment(ctx context.Context, from peer.ID, msg *p2pnet.RefundCommitmentMessage) error {
	m.mu.Lock()
	d, ok := m.alice[msg.SwapID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("swap: refund commitment for unknown swap %s", msg.SwapID)
	}
	sig, err := parseAdaptorSigFields(msg.RHatCompressed, msg.SHatBytes)
	if err != nil {
		return err
	}
	s3 := stateOfAlice(d.CurrentState())
	if s3 == nil {
		return fmt.Errorf("swap: swap %s has no state3 yet", msg.SwapID)
	}
	s3.BobRefundEncSig = sig
	return nil
}

func (m *Manager) handleTransferProof(ctx context.Context, from peer.ID, msg *p2pnet.TransferProofMessage) error {
	m.mu.Lock()
	d, ok := m.bob[msg.SwapID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("swap: transfer proof for unknown swap %s", msg.SwapID)
	}
	d.DeliverTransferProof(msg)
	return nil
}

func (m *Manager) handleEncryptedSignature(ctx context.Context, from peer.ID, msg *p2pnet.EncryptedSignatureMessage) error {
	m.mu.Lock()
	d, ok := m.alice[msg.SwapID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("swap: encrypted signature for unknown swap %s", msg.SwapID)
	}
	d.DeliverEncSig(msg)
	return nil
}

func parseAdaptorSigFields(rHatCompressed, sHatBytes []byte) (*cryptoprovider.AdaptorSignature, error) {
	rHat, err := btcec.ParsePubKey(rHatCompressed)
	if err != nil {
		return nil, fmt.Errorf("swap: parse r_hat: %w", err)
	}
	if len(sHatBytes) != 32 {
		return nil, fmt.Errorf("swap: s_hat must be 32 bytes, got %d", len(sHatBytes))
	}
	var arr [32]byte
	copy(arr[:], sHatBytes)
	var sHat secp256k1.ModNScalar
	sHat.SetBytes(&arr)
	return &cryptoprovider.AdaptorSignature{RHat: rHat, SHat: &sHat}, nil
}

func stateOfAlice(s swapstate.AliceState) *swapstate.State3 {
	switch v := s.(type) {
	case swapstate.AliceWatchingForTxLockInMempool:
		return v.State3
	case swapstate.AliceWaitingForTxLockConfirmations:
		return v.State3
	case swapstate.AliceWaitingForEncSig:
		return v.State3
	case swapstate.AliceEncSigLearned:
		return v.State3
	case swapstate.AliceCancelTimelockExpired:
		return v.State3
	case swapstate.AliceBtcCancelled:
		return v.State3
	case swapstate.AliceBtcPunishable:
		return v.State3
	case swapstate.AliceBtcRefunded:
		return v.State3
	default:
		return nil
	}
}

func stateOfBob(s swapstate.BobState) *swapstate.State3 {
	switch v := s.(type) {
	case swapstate.BobExecutionSetupDone:
		return v.State3
	case swapstate.BobBtcLocked:
		return v.State3
	case swapstate.BobXmrLockProofReceived:
		return v.State3
	case swapstate.BobXmrLocked:
		return v.State3
	case swapstate.BobEncSigSent:
		return v.State3
	case swapstate.BobCancelTimelockExpired:
		return v.State3
	case swapstate.BobBtcCancelled:
		return v.State3
	default:
		return nil
	}
}

// randomMoneroScalar draws a fresh ed25519 scalar, used both as a Monero
// spend-key half and as a shared view key.
func randomMoneroScalar() (*edwards25519.Scalar, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("swap: read randomness: %w", err)
	}
	return (&edwards25519.Scalar{}).SetUniformBytes(buf[:])
}

// deriveMoneroLockAddr synthesizes the joint lock wallet's address string
// from its spend/view public material. No real CryptoNote base58 address
// encoder exists anywhere in this module's dependency set, and computing
// one properly requires a handful of Monero-specific conventions (network
// byte, Keccak checksum, an alternate base58 alphabet) that aren't
// exercised anywhere else in this codebase. A live deployment's actual
// lock address comes from chainwatch.MoneroWallet.CreateWallet/
// WalletHandle.Address() talking to a real monero-wallet-rpc; this hex
// form is a placeholder used only for logging, persistence, and this
// module's fake watchers.
func deriveMoneroLockAddr(lock swapstate.MoneroLockParams) string {
	var spendBytes, viewBytes []byte
	if lock.SpendPub != nil {
		spendBytes = lock.SpendPub.Bytes()
	}
	if lock.ViewKey != nil {
		viewBytes = lock.ViewKey.Bytes()
	}
	return "4" + hex.EncodeToString(spendBytes) + hex.EncodeToString(viewBytes)
}

// FundingWalletFor opens (or re-opens) the view-only wallet tracking a
// swap's joint lock address, the handle both AliceDeps.FundingWallet and
// BobDeps.FundingWallet expect.
func FundingWalletFor(ctx context.Context, monero chainwatch.MoneroWallet, restoreHeight uint64, lock swapstate.MoneroLockParams, myHalf *edwards25519.Scalar) (chainwatch.WalletHandle, error) {
	return monero.CreateWallet(ctx, restoreHeight, lock.ViewKey, myHalf)
}

func txBytes(tx *wire.MsgTx) ([]byte, error) {
	if tx == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("swap: serialize tx: %w", err)
	}
	return buf.Bytes(), nil
}
