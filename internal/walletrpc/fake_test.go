package walletrpc

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestFakeBitcoinWalletSelectUTXOs(t *testing.T) {
	w := NewFakeBitcoinWallet(&chaincfg.RegressionNetParams)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(mustAddr(t, w, priv))
	require.NoError(t, err)

	w.AddUTXO(UTXO{TxID: wire.OutPoint{Index: 0}, Value: 50_000, ScriptPubKey: pkScript, PrivKey: priv})
	w.AddUTXO(UTXO{TxID: wire.OutPoint{Index: 1}, Value: 60_000, ScriptPubKey: pkScript, PrivKey: priv})

	ctx := context.Background()
	selected, err := w.SelectUTXOs(ctx, 55_000, 1)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.Equal(t, int64(60_000), selected[0].Value)
}

func TestFakeBitcoinWalletSelectUTXOsInsufficientFunds(t *testing.T) {
	w := NewFakeBitcoinWallet(&chaincfg.RegressionNetParams)
	_, err := w.SelectUTXOs(context.Background(), 1_000_000, 1)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestFakeBitcoinWalletSignInput(t *testing.T) {
	w := NewFakeBitcoinWallet(&chaincfg.RegressionNetParams)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(mustAddr(t, w, priv))
	require.NoError(t, err)

	utxo := UTXO{TxID: wire.OutPoint{Index: 0}, Value: 50_000, ScriptPubKey: pkScript, PrivKey: priv}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&utxo.TxID, nil, nil))
	tx.AddTxOut(wire.NewTxOut(40_000, pkScript))

	sig, err := w.SignInput(context.Background(), tx, 0, utxo)
	require.NoError(t, err)
	require.NotEmpty(t, sig)
}

func mustAddr(t *testing.T, w *FakeBitcoinWallet, priv *btcec.PrivateKey) *btcutil.AddressWitnessPubKeyHash {
	t.Helper()
	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, w.params)
	require.NoError(t, err)
	return addr
}
