package swap

import (
	"io"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"filippo.io/edwards25519"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
	"github.com/klingon-exchange/xmrbtc-swap/pkg/logging"
)

// testLogger is a Logger that discards output, for drivers that log on
// every step but whose test assertions only care about state transitions.
func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(&logging.Config{Level: "error", Output: io.Discard})
}

// testPeerID mints a real, independently decodable peer ID, the way
// internal/node's own tests do, since Router round-trips FromPeer through
// peer.Decode on every dispatched request.
func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

// testSwapFixture holds one negotiated swap's full key material plus the
// State3 both sides would have produced, for driver and setup tests that
// need a realistic, internally-consistent swap rather than a bare struct
// literal.
type testSwapFixture struct {
	alicePriv *btcec.PrivateKey
	bobPriv   *btcec.PrivateKey

	aliceMoneroHalf *edwards25519.Scalar
	bobMoneroHalf   *edwards25519.Scalar

	lockTx *wire.MsgTx
	s3     *swapstate.State3
}

// newTestSwapFixture builds a swap exactly as BuildUnsignedState3 would from
// a real execution_setup exchange, with a placeholder lockTx standing in for
// Bob's funded-but-not-yet-broadcast transaction (see FundLockTx, which
// actual wallets call; these tests don't need a real signed input, only a
// stable txid to key the fake chain watcher's state on).
func newTestSwapFixture(t *testing.T, cancelTimelock, punishTimelock uint32) *testSwapFixture {
	t.Helper()

	alicePriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bobPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	aliceMoneroHalf, err := randomMoneroScalar()
	require.NoError(t, err)
	bobMoneroHalf, err := randomMoneroScalar()
	require.NoError(t, err)
	viewKey, err := randomMoneroScalar()
	require.NoError(t, err)

	aliceSpendPub := (&edwards25519.Point{}).ScalarBaseMult(aliceMoneroHalf)
	bobSpendPub := (&edwards25519.Point{}).ScalarBaseMult(bobMoneroHalf)

	_, bobRefundPub := moneroHalfEncryptionKey(bobMoneroHalf)
	_, aliceEncPub := moneroHalfEncryptionKey(aliceMoneroHalf)

	lockTx := wire.NewMsgTx(2)
	lockTx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0}})
	lockTx.AddTxOut(wire.NewTxOut(100_000, []byte{0x00, 0x14}))

	params := SetupParams{
		SwapID:                  swapstate.NewID(),
		CounterpartyPeerID:      "",
		AliceBtcPubKey:          alicePriv.PubKey(),
		BobBtcPubKey:            bobPriv.PubKey(),
		AliceMoneroSpendPubHalf: aliceSpendPub,
		BobMoneroSpendPubHalf:   bobSpendPub,
		MoneroViewKey:           viewKey,
		BtcAmount:               100_000,
		XmrAmount:               1_000_000_000_000,
		CancelTimelock:          cancelTimelock,
		PunishTimelock:          punishTimelock,
		BobRefundPubKey:         bobRefundPub,
		AliceEncPubKey:          aliceEncPub,
		AliceRedeemScriptPubKey: []byte{0x00, 0x14},
		RedeemFeeSats:           500,
		LockOutpoint:            wire.OutPoint{Hash: lockTx.TxHash(), Index: 0},
		LockValue:               100_000,
		MoneroLockAddr:          "fake-lock-addr",
	}

	s3, err := BuildUnsignedState3(params)
	require.NoError(t, err)

	return &testSwapFixture{
		alicePriv:       alicePriv,
		bobPriv:         bobPriv,
		aliceMoneroHalf: aliceMoneroHalf,
		bobMoneroHalf:   bobMoneroHalf,
		lockTx:          lockTx,
		s3:              s3,
	}
}

// regtestParams is the chain params used throughout this package's Bitcoin
// address tests, chosen over mainnet so a stray misuse can never resemble a
// real address.
func regtestParams() *chaincfg.Params {
	return &chaincfg.RegressionNetParams
}

func mustNewPrivKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv
}

// p2wpkhScript returns the P2WPKH scriptPubKey for priv's public key, the
// shape walletrpc.FakeBitcoinWallet's SignInput expects its seeded UTXOs to
// carry.
func p2wpkhScript(priv *btcec.PrivateKey) ([]byte, error) {
	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, regtestParams())
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}
