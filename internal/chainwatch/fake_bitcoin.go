package chainwatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// FakeBitcoinWatcher is an in-memory BitcoinWatcher for driver tests: tests
// control confirmation progress directly via Confirm/Advance rather than
// waiting on a real chain, mirroring how internal/backend's MempoolBackend
// keeps all state behind a mutex for safe concurrent polling.
type FakeBitcoinWatcher struct {
	mu            sync.Mutex
	height        uint32
	feeRate       int64
	txs           map[chainhash.Hash]*fakeTx
	confPollEvery time.Duration
}

type fakeTx struct {
	tx            *wire.MsgTx
	confirmedAt   uint32 // height at which it reached 1 confirmation, 0 = still in mempool
}

// NewFakeBitcoinWatcher returns a watcher seeded at the given chain height.
func NewFakeBitcoinWatcher(height uint32) *FakeBitcoinWatcher {
	return &FakeBitcoinWatcher{
		height:        height,
		feeRate:       10,
		txs:           make(map[chainhash.Hash]*fakeTx),
		confPollEvery: time.Millisecond,
	}
}

func (f *FakeBitcoinWatcher) Broadcast(_ context.Context, tx *wire.MsgTx) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	txid := tx.TxHash()
	if _, ok := f.txs[txid]; ok {
		return nil // already known: broadcasting is idempotent
	}
	f.txs[txid] = &fakeTx{tx: tx}
	return nil
}

func (f *FakeBitcoinWatcher) Status(_ context.Context, txid chainhash.Hash) (TxState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.txs[txid]
	if !ok {
		return TxState{Status: StatusNotFound}, nil
	}
	if t.confirmedAt == 0 {
		return TxState{Status: StatusMempool}, nil
	}
	confs := f.height - t.confirmedAt + 1
	return TxState{Status: StatusConfirmed, Confirmations: confs}, nil
}

func (f *FakeBitcoinWatcher) FeeRate(_ context.Context, _ uint32) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feeRate, nil
}

func (f *FakeBitcoinWatcher) BestHeight(_ context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *FakeBitcoinWatcher) WaitForConfirmations(ctx context.Context, txid chainhash.Hash, n uint32) error {
	for {
		state, err := f.Status(ctx, txid)
		if err != nil {
			return err
		}
		if state.Status == StatusConfirmed && state.Confirmations >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.confPollEvery):
		}
	}
}

func (f *FakeBitcoinWatcher) FetchTx(_ context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.txs[txid]
	if !ok {
		return nil, ErrTxNotFound
	}
	return t.tx, nil
}

// ConfirmInBlock marks txid as included starting at the given height. The
// transaction must already have been broadcast.
func (f *FakeBitcoinWatcher) ConfirmInBlock(txid chainhash.Hash, height uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.txs[txid]
	if !ok {
		return fmt.Errorf("chainwatch: fake confirm of unknown tx %s", txid)
	}
	t.confirmedAt = height
	if height > f.height {
		f.height = height
	}
	return nil
}

// AdvanceHeight moves the fake chain tip forward by n blocks.
func (f *FakeBitcoinWatcher) AdvanceHeight(n uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height += n
}

// SetFeeRate overrides the fee rate FeeRate reports.
func (f *FakeBitcoinWatcher) SetFeeRate(rate int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeRate = rate
}
