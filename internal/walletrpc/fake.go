package walletrpc

import (
	"context"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// FakeBitcoinWallet is an in-memory BitcoinWallet backed by a fixed set of
// keys, seeded directly by tests rather than derived from a mnemonic (HD
// derivation is out of scope here, see the package doc).
type FakeBitcoinWallet struct {
	mu     sync.Mutex
	params *chaincfg.Params
	utxos  []UTXO
}

// NewFakeBitcoinWallet returns an empty wallet for the given network.
func NewFakeBitcoinWallet(params *chaincfg.Params) *FakeBitcoinWallet {
	return &FakeBitcoinWallet{params: params}
}

// AddUTXO seeds the wallet with a spendable output, for test setup.
func (w *FakeBitcoinWallet) AddUTXO(u UTXO) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.utxos = append(w.utxos, u)
}

func (w *FakeBitcoinWallet) NewAddress(_ context.Context) (btcutil.Address, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	return btcutil.NewAddressWitnessPubKeyHash(pkHash, w.params)
}

func (w *FakeBitcoinWallet) SelectUTXOs(_ context.Context, amount int64, feeRate int64) ([]UTXO, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sorted := append([]UTXO(nil), w.utxos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })

	const estimatedVBytesPerInput = 110
	var selected []UTXO
	var total int64
	for _, u := range sorted {
		selected = append(selected, u)
		total += u.Value
		fee := int64(len(selected)) * estimatedVBytesPerInput * feeRate
		if total >= amount+fee {
			return selected, nil
		}
	}
	return nil, ErrInsufficientFunds
}

func (w *FakeBitcoinWallet) SignInput(_ context.Context, tx *wire.MsgTx, inputIndex int, utxo UTXO) ([]byte, error) {
	if utxo.PrivKey == nil {
		return nil, ErrSignFailed
	}
	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(utxo.ScriptPubKey, utxo.Value)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)
	sig, err := txscript.RawTxInWitnessSignature(
		tx, sigHashes, inputIndex, utxo.Value, utxo.ScriptPubKey,
		txscript.SigHashAll, utxo.PrivKey,
	)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

func (w *FakeBitcoinWallet) Balance(_ context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, u := range w.utxos {
		total += u.Value
	}
	return total, nil
}
