package chainwatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"filippo.io/edwards25519"
)

// FakeMoneroWallet is an in-memory MoneroWallet. Every transfer it issues
// is immediately known to CheckTxKey at zero confirmations; tests advance
// the count explicitly via ConfirmTransfer, the Monero-side analogue of
// FakeBitcoinWatcher.ConfirmInBlock.
type FakeMoneroWallet struct {
	mu        sync.Mutex
	wallets   map[string]*fakeWalletHandle
	transfers map[string]uint32 // txid -> confirmations
	balances  map[string]uint64 // address -> piconero
}

type fakeWalletHandle struct {
	addr         string
	restoreHeight uint64
}

func (h *fakeWalletHandle) Address() string { return h.addr }

// NewFakeMoneroWallet returns an empty fake wallet RPC.
func NewFakeMoneroWallet() *FakeMoneroWallet {
	return &FakeMoneroWallet{
		wallets:   make(map[string]*fakeWalletHandle),
		transfers: make(map[string]uint32),
		balances:  make(map[string]uint64),
	}
}

func (f *FakeMoneroWallet) CreateWallet(_ context.Context, restoreHeight uint64, viewKey, spendKey *edwards25519.Scalar) (WalletHandle, error) {
	addr, err := fakeMoneroAddress(viewKey, spendKey)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeWalletHandle{addr: addr, restoreHeight: restoreHeight}
	f.wallets[addr] = h
	return h, nil
}

// Fund credits addr with amount piconero, for test setup (e.g. seeding
// Alice's wallet before she locks XMR).
func (f *FakeMoneroWallet) Fund(addr string, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] += amount
}

func (f *FakeMoneroWallet) Transfer(_ context.Context, wallet WalletHandle, dest string, amount uint64) (*TransferProof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.balances[wallet.Address()] < amount {
		return nil, fmt.Errorf("chainwatch: fake wallet %s has insufficient balance", wallet.Address())
	}
	f.balances[wallet.Address()] -= amount
	f.balances[dest] += amount

	txid, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	txKey, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	f.transfers[txid] = 0

	return &TransferProof{TxID: txid, TxKey: txKey, Dest: dest, Amount: amount}, nil
}

func (f *FakeMoneroWallet) CheckTxKey(_ context.Context, _ WalletHandle, proof *TransferProof) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	confs, ok := f.transfers[proof.TxID]
	if !ok {
		return 0, ErrTxNotFound
	}
	return confs, nil
}

// ConfirmTransfer sets a transfer's confirmation count.
func (f *FakeMoneroWallet) ConfirmTransfer(txid string, confirmations uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[txid] = confirmations
}

func (f *FakeMoneroWallet) SweepAll(ctx context.Context, wallet WalletHandle, dest string) (*TransferProof, error) {
	f.mu.Lock()
	balance := f.balances[wallet.Address()]
	f.mu.Unlock()
	return f.Transfer(ctx, wallet, dest, balance)
}

func fakeMoneroAddress(viewKey, spendKey *edwards25519.Scalar) (string, error) {
	if viewKey == nil || spendKey == nil {
		return "", fmt.Errorf("chainwatch: nil monero key material")
	}
	vb := viewKey.Bytes()
	sb := spendKey.Bytes()
	return "4" + hex.EncodeToString(sb[:4]) + hex.EncodeToString(vb[:4]), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
