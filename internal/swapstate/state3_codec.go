package swapstate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
)

// wireState3 is State3's byte-encoded projection. The btcec/edwards25519/
// wire types in State3 hold their field state privately, so the standard
// library's reflection-based json.Marshal silently produces "{}" for them;
// this type makes every field's encoding explicit so persistence round
// trips instead of quietly losing key material.
type wireState3 struct {
	SwapID ID

	CounterpartyPeerID string

	AliceBtcPubKey []byte
	BobBtcPubKey   []byte

	AliceMoneroSpendPubHalf []byte
	BobMoneroSpendPubHalf   []byte
	MoneroViewKey           []byte

	BtcAmount int64
	XmrAmount uint64

	CancelTimelock uint32
	PunishTimelock uint32

	CancelTx []byte
	RefundTx []byte
	PunishTx []byte
	RedeemTx []byte

	AliceEncPubKey  []byte
	BobRefundPubKey []byte

	MoneroLockAmount   uint64
	MoneroLockAddr     string
	MoneroLockViewKey  []byte
	MoneroLockSpendPub []byte

	BobRefundEncSigRHat []byte
	BobRefundEncSigSHat []byte
}

// MarshalJSON implements json.Marshaler for State3.
func (s *State3) MarshalJSON() ([]byte, error) {
	w := wireState3{
		SwapID:             s.SwapID,
		CounterpartyPeerID: s.CounterpartyPeerID,
		BtcAmount:          s.BtcAmount,
		XmrAmount:          s.XmrAmount,
		CancelTimelock:     s.CancelTimelock,
		PunishTimelock:     s.PunishTimelock,
		MoneroLockAmount:   s.MoneroLock.Amount,
		MoneroLockAddr:     s.MoneroLock.LockAddr,
	}
	if s.AliceBtcPubKey != nil {
		w.AliceBtcPubKey = s.AliceBtcPubKey.SerializeCompressed()
	}
	if s.BobBtcPubKey != nil {
		w.BobBtcPubKey = s.BobBtcPubKey.SerializeCompressed()
	}
	if s.AliceEncPubKey != nil {
		w.AliceEncPubKey = s.AliceEncPubKey.SerializeCompressed()
	}
	if s.BobRefundPubKey != nil {
		w.BobRefundPubKey = s.BobRefundPubKey.SerializeCompressed()
	}
	if s.AliceMoneroSpendPubHalf != nil {
		w.AliceMoneroSpendPubHalf = s.AliceMoneroSpendPubHalf.Bytes()
	}
	if s.BobMoneroSpendPubHalf != nil {
		w.BobMoneroSpendPubHalf = s.BobMoneroSpendPubHalf.Bytes()
	}
	if s.MoneroViewKey != nil {
		w.MoneroViewKey = s.MoneroViewKey.Bytes()
	}
	if s.MoneroLock.ViewKey != nil {
		w.MoneroLockViewKey = s.MoneroLock.ViewKey.Bytes()
	}
	if s.MoneroLock.SpendPub != nil {
		w.MoneroLockSpendPub = s.MoneroLock.SpendPub.Bytes()
	}

	if s.BobRefundEncSig != nil {
		w.BobRefundEncSigRHat = s.BobRefundEncSig.RHat.SerializeCompressed()
		sBytes := s.BobRefundEncSig.SHat.Bytes()
		w.BobRefundEncSigSHat = sBytes[:]
	}

	var err error
	if w.CancelTx, err = serializeTx(s.CancelTx); err != nil {
		return nil, fmt.Errorf("swapstate: serialize cancel tx: %w", err)
	}
	if w.RefundTx, err = serializeTx(s.RefundTx); err != nil {
		return nil, fmt.Errorf("swapstate: serialize refund tx: %w", err)
	}
	if w.PunishTx, err = serializeTx(s.PunishTx); err != nil {
		return nil, fmt.Errorf("swapstate: serialize punish tx: %w", err)
	}
	if w.RedeemTx, err = serializeTx(s.RedeemTx); err != nil {
		return nil, fmt.Errorf("swapstate: serialize redeem tx: %w", err)
	}

	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler for State3.
func (s *State3) UnmarshalJSON(data []byte) error {
	var w wireState3
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	s.SwapID = w.SwapID
	s.CounterpartyPeerID = w.CounterpartyPeerID
	s.BtcAmount = w.BtcAmount
	s.XmrAmount = w.XmrAmount
	s.CancelTimelock = w.CancelTimelock
	s.PunishTimelock = w.PunishTimelock
	s.MoneroLock = MoneroLockParams{Amount: w.MoneroLockAmount, LockAddr: w.MoneroLockAddr}

	var err error
	if s.AliceBtcPubKey, err = parsePubKey(w.AliceBtcPubKey); err != nil {
		return fmt.Errorf("swapstate: alice btc pubkey: %w", err)
	}
	if s.BobBtcPubKey, err = parsePubKey(w.BobBtcPubKey); err != nil {
		return fmt.Errorf("swapstate: bob btc pubkey: %w", err)
	}
	if s.AliceEncPubKey, err = parsePubKey(w.AliceEncPubKey); err != nil {
		return fmt.Errorf("swapstate: alice enc pubkey: %w", err)
	}
	if s.BobRefundPubKey, err = parsePubKey(w.BobRefundPubKey); err != nil {
		return fmt.Errorf("swapstate: bob refund pubkey: %w", err)
	}
	if s.AliceMoneroSpendPubHalf, err = parsePoint(w.AliceMoneroSpendPubHalf); err != nil {
		return fmt.Errorf("swapstate: alice monero spend half: %w", err)
	}
	if s.BobMoneroSpendPubHalf, err = parsePoint(w.BobMoneroSpendPubHalf); err != nil {
		return fmt.Errorf("swapstate: bob monero spend half: %w", err)
	}
	if s.MoneroViewKey, err = parseScalar(w.MoneroViewKey); err != nil {
		return fmt.Errorf("swapstate: monero view key: %w", err)
	}
	if s.MoneroLock.ViewKey, err = parseScalar(w.MoneroLockViewKey); err != nil {
		return fmt.Errorf("swapstate: monero lock view key: %w", err)
	}
	if s.MoneroLock.SpendPub, err = parsePoint(w.MoneroLockSpendPub); err != nil {
		return fmt.Errorf("swapstate: monero lock spend pub: %w", err)
	}

	if s.CancelTx, err = deserializeTx(w.CancelTx); err != nil {
		return fmt.Errorf("swapstate: deserialize cancel tx: %w", err)
	}
	if s.RefundTx, err = deserializeTx(w.RefundTx); err != nil {
		return fmt.Errorf("swapstate: deserialize refund tx: %w", err)
	}
	if s.PunishTx, err = deserializeTx(w.PunishTx); err != nil {
		return fmt.Errorf("swapstate: deserialize punish tx: %w", err)
	}
	if s.RedeemTx, err = deserializeTx(w.RedeemTx); err != nil {
		return fmt.Errorf("swapstate: deserialize redeem tx: %w", err)
	}

	if s.BobRefundEncSig, err = parseAdaptorSig(w.BobRefundEncSigRHat, w.BobRefundEncSigSHat); err != nil {
		return fmt.Errorf("swapstate: bob refund enc sig: %w", err)
	}

	return nil
}

func parseAdaptorSig(rHatCompressed, sHatBytes []byte) (*cryptoprovider.AdaptorSignature, error) {
	if len(rHatCompressed) == 0 {
		return nil, nil
	}
	rHat, err := btcec.ParsePubKey(rHatCompressed)
	if err != nil {
		return nil, fmt.Errorf("invalid RHat: %w", err)
	}
	if len(sHatBytes) != 32 {
		return nil, fmt.Errorf("invalid SHat length %d", len(sHatBytes))
	}
	var arr [32]byte
	copy(arr[:], sHatBytes)
	var sHat secp256k1.ModNScalar
	sHat.SetBytes(&arr)
	return &cryptoprovider.AdaptorSignature{RHat: rHat, SHat: &sHat}, nil
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	if tx == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeTx(b []byte) (*wire.MsgTx, error) {
	if len(b) == 0 {
		return nil, nil
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return tx, nil
}

func parsePubKey(b []byte) (*btcec.PublicKey, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return btcec.ParsePubKey(b)
}

func parsePoint(b []byte) (*edwards25519.Point, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return (&edwards25519.Point{}).SetBytes(b)
}

func parseScalar(b []byte) (*edwards25519.Scalar, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return (&edwards25519.Scalar{}).SetCanonicalBytes(b)
}
