package p2pnet

// QuoteResponse is the maker's current trading terms, the payload of a
// quote protocol response.
type QuoteResponse struct {
	MinBuySats int64   `json:"min_buy_sats"`
	MaxBuySats int64   `json:"max_buy_sats"`
	AskPrice   float64 `json:"ask_price"` // XMR per BTC, spread-adjusted
}

// SpotPriceRequest is the spot_price protocol's request payload.
type SpotPriceRequest struct {
	BtcAmountSats int64 `json:"btc_amount_sats"`
}

// SpotPriceResponse carries either a quoted XMR amount or a structured
// rejection, never both.
type SpotPriceResponse struct {
	XmrAmountPiconero uint64            `json:"xmr_amount_piconero,omitempty"`
	Rejection         *SpotPriceError   `json:"rejection,omitempty"`
}

// SpotPriceErrorReason is one of the rejection reasons from the original
// implementation, restored here since spec.md's distilled table dropped
// them (see SPEC_FULL.md §C).
type SpotPriceErrorReason string

const (
	ReasonAmountBelowMinimum  SpotPriceErrorReason = "amount_below_minimum"
	ReasonAmountAboveMaximum  SpotPriceErrorReason = "amount_above_maximum"
	ReasonNoSpotPriceAvailable SpotPriceErrorReason = "no_spot_price_available"
)

// SpotPriceError is the structured rejection a spot_price request can
// receive instead of a quoted amount.
type SpotPriceError struct {
	Reason SpotPriceErrorReason `json:"reason"`
}

func (e *SpotPriceError) Error() string {
	return "p2pnet: spot price rejected: " + string(e.Reason)
}

// ExecutionSetupRequest is Bob's opening proposal: the amounts and his half
// of the key material needed to build State3.
type ExecutionSetupRequest struct {
	SwapID             string `json:"swap_id"`
	BtcAmountSats      int64  `json:"btc_amount_sats"`
	XmrAmountPiconero  uint64 `json:"xmr_amount_piconero"`
	BobBtcPubKey       []byte `json:"bob_btc_pubkey"`        // compressed secp256k1
	BobMoneroSpendHalf []byte `json:"bob_monero_spend_half"` // canonical ed25519 scalar encoding
	BobRefundPubKey    []byte `json:"bob_refund_pubkey"`     // compressed secp256k1, see internal/swap.SetupParams
	LockTxID           []byte `json:"lock_txid"`             // Bob's not-yet-broadcast tx_lock, computed deterministically before broadcast
	LockVout           uint32 `json:"lock_vout"`
}

// ExecutionSetupResponse is Alice's counter-proposal: her half of the key
// material, the timelocks she requires, and the three pre-signed Bitcoin
// transactions. Once Bob accepts this (by locking BTC), both sides hold an
// identical State3.
type ExecutionSetupResponse struct {
	AliceBtcPubKey       []byte `json:"alice_btc_pubkey"`
	AliceMoneroSpendHalf []byte `json:"alice_monero_spend_half"`
	MoneroViewKey        []byte `json:"monero_view_key"`
	CancelTimelock       uint32 `json:"cancel_timelock"`
	PunishTimelock       uint32 `json:"punish_timelock"`
	CancelTxRaw          []byte `json:"cancel_tx_raw"`
	RefundTxRaw          []byte `json:"refund_tx_raw"`
	PunishTxRaw          []byte `json:"punish_tx_raw"`
	RedeemTxRaw          []byte `json:"redeem_tx_raw"`

	// AliceEncPubKey is moneroHalfEncryptionKey's public half of Alice's own
	// Monero spend-key half. Bob needs a secp256k1 point to encrypt his
	// redeem signature under, and cannot derive one from Alice's ed25519
	// spend-key-half point, so Alice sends it directly (the redeem-path
	// mirror of ExecutionSetupRequest.BobRefundPubKey).
	AliceEncPubKey []byte `json:"alice_enc_pubkey"`

	// AliceRedeemScriptPubKey is where the BTC redeem transaction pays out;
	// fixed at setup so both parties build byte-identical unsigned
	// transactions without a further round trip.
	AliceRedeemScriptPubKey []byte `json:"alice_redeem_script_pubkey"`
}

// RefundCommitmentMessage carries Bob's adaptor-encrypted signature over the
// refund transaction. Sent right after Bob broadcasts the BTC lock, so the
// commitment is in Alice's hands before any timelock risk window opens, even
// if Bob disappears immediately afterward. Bob encrypts it under a point
// derived from his own Monero spend-key half; publishing the refund
// transaction later reveals that half to Alice (see internal/swap's
// adaptor-secret recovery on the refund path).
type RefundCommitmentMessage struct {
	SwapID         string `json:"swap_id"`
	RHatCompressed []byte `json:"r_hat_compressed"`
	SHatBytes      []byte `json:"s_hat_bytes"`
}

// TransferProofMessage carries Alice's proof that she broadcast the XMR
// lock transaction.
type TransferProofMessage struct {
	SwapID string `json:"swap_id"`
	TxID   string `json:"tx_id"`
	TxKey  string `json:"tx_key"`
}

// EncryptedSignatureMessage carries Bob's adaptor-encrypted signature over
// the BTC redeem transaction.
type EncryptedSignatureMessage struct {
	SwapID         string `json:"swap_id"`
	RHatCompressed []byte `json:"r_hat_compressed"`
	SHatBytes      []byte `json:"s_hat_bytes"`
}
