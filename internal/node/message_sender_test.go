package node

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// bitcoinBlockInterval is Bitcoin's target block time, used below to turn
// this package's swap-expiry buffer into the same block-count terms the
// swap driver's cancel/punish timelocks are expressed in.
const bitcoinBlockInterval = 10 * time.Minute

// cancelTimelockBlocks and punishTimelockBlocks mirror the swap driver's
// default T1/T2 windows (72 and 144 Bitcoin blocks): the message sender's
// retry policy must give up on a stalled envelope well before either
// on-chain timelock matures, or it would keep retrying a handshake message
// for a swap whose Bitcoin side has already moved to the cancel/punish path.
const (
	cancelTimelockBlocks = 72
	punishTimelockBlocks = 144
)

func TestDefaultMessageSenderConfig(t *testing.T) {
	cfg := DefaultMessageSenderConfig()

	require.Equal(t, 10*time.Second, cfg.InitialRetryInterval)
	require.Equal(t, 10*time.Minute, cfg.MaxRetryInterval)
	require.Equal(t, 2.0, cfg.BackoffMultiplier)
	require.Equal(t, 30*time.Second, cfg.AckTimeout)
	require.Equal(t, 1*time.Hour, cfg.StopBeforeExpiry)
	require.Equal(t, 50, cfg.MaxRetries)
}

func TestStopBeforeExpiryFitsWithinCancelTimelockWindow(t *testing.T) {
	cfg := DefaultMessageSenderConfig()

	cancelWindow := time.Duration(cancelTimelockBlocks) * bitcoinBlockInterval
	require.Less(t, cfg.StopBeforeExpiry, cancelWindow,
		"retry buffer must stop well short of T1 maturing, or a stuck envelope keeps retrying after the swap has already moved to the cancel path")
}

func TestMessageSenderConfigCustom(t *testing.T) {
	cfg := MessageSenderConfig{
		InitialRetryInterval: 5 * time.Second,
		MaxRetryInterval:     5 * time.Minute,
		BackoffMultiplier:    1.5,
		AckTimeout:           15 * time.Second,
		StopBeforeExpiry:     30 * time.Minute,
		MaxRetries:           20,
	}

	require.Equal(t, 5*time.Second, cfg.InitialRetryInterval)
	require.Equal(t, 5*time.Minute, cfg.MaxRetryInterval)
	require.Equal(t, 1.5, cfg.BackoffMultiplier)
	require.Equal(t, 15*time.Second, cfg.AckTimeout)
	require.Equal(t, 30*time.Minute, cfg.StopBeforeExpiry)
	require.Equal(t, 20, cfg.MaxRetries)
}

func TestBackoffCalculation(t *testing.T) {
	cfg := DefaultMessageSenderConfig()

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{3, 80 * time.Second},
		{4, 160 * time.Second},
		{5, 320 * time.Second},
		{6, 10 * time.Minute}, // 640s would overshoot, capped at MaxRetryInterval
		{7, 10 * time.Minute},
		{100, 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			require.Equal(t, tt.want, calculateBackoff(cfg, tt.retryCount))
		})
	}
}

// calculateBackoff mimics the backoff logic from MessageSender.scheduleRetry.
func calculateBackoff(cfg MessageSenderConfig, retryCount int) time.Duration {
	backoff := cfg.InitialRetryInterval
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxRetryInterval {
			backoff = cfg.MaxRetryInterval
			break
		}
	}
	return backoff
}

func TestMaxRetriesExhaustBeforePunishTimelockMatures(t *testing.T) {
	cfg := DefaultMessageSenderConfig()

	// An envelope that never delivers keeps retrying for MaxRetries attempts;
	// that whole run must finish comfortably before the punish window (T2)
	// matures, since by then Bob's refund path has already taken over and
	// redelivering a handshake message no longer serves any purpose.
	totalRetryTime := time.Duration(0)
	for i := 0; i < cfg.MaxRetries; i++ {
		totalRetryTime += calculateBackoff(cfg, i)
	}

	punishWindow := time.Duration(punishTimelockBlocks) * bitcoinBlockInterval
	require.Less(t, totalRetryTime, punishWindow)
}

func TestSwapTimeoutCheckBeforeCancelWindow(t *testing.T) {
	cfg := DefaultMessageSenderConfig()

	// swapExpiry set to the start of the cancel window, as attemptDelivery
	// receives it from Envelope.SwapExpiry.
	swapExpiry := time.Now().Add(time.Duration(cancelTimelockBlocks) * bitcoinBlockInterval).Unix()
	deadline := time.Unix(swapExpiry, 0).Add(-cfg.StopBeforeExpiry)

	require.False(t, time.Now().After(deadline), "deadline should still be in the future this far from expiry")
}

func TestSwapTimeoutCheckExpired(t *testing.T) {
	cfg := DefaultMessageSenderConfig()

	swapExpiry := time.Now().Add(-30 * time.Minute).Unix()
	deadline := time.Unix(swapExpiry, 0).Add(-cfg.StopBeforeExpiry)

	require.True(t, time.Now().After(deadline))
}

func TestSwapTimeoutCheckWithinBuffer(t *testing.T) {
	cfg := DefaultMessageSenderConfig()

	// Swap expires in 30 minutes, inside the 1h StopBeforeExpiry buffer:
	// attemptDelivery must already treat this as expired and stop retrying.
	swapExpiry := time.Now().Add(30 * time.Minute).Unix()
	deadline := time.Unix(swapExpiry, 0).Add(-cfg.StopBeforeExpiry)

	require.True(t, time.Now().After(deadline))
}

func TestEnvelopeRoundTripPreservesSwapFields(t *testing.T) {
	// Shaped the way SendDirect populates an outbound envelope for one of
	// the five swap-protocol message types riding inside Payload.
	type quoteRequestPayload struct {
		MinBuySats int64 `json:"min_buy_sats"`
	}
	payload, err := json.Marshal(quoteRequestPayload{MinBuySats: 100000})
	require.NoError(t, err)

	original := &Envelope{
		Type:        "quote_request",
		MessageID:   "11111111-1111-1111-1111-111111111111",
		SwapID:      "swap-abc",
		SequenceNum: 3,
		Timestamp:   time.Now().Unix(),
		FromPeer:    "12D3KooWTestPeer",
		RequiresAck: true,
		SwapExpiry:  time.Now().Add(time.Duration(cancelTimelockBlocks) * bitcoinBlockInterval).Unix(),
		Payload:     payload,
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var roundTripped Envelope
	require.NoError(t, json.Unmarshal(raw, &roundTripped))
	require.Equal(t, *original, roundTripped)

	var decodedPayload quoteRequestPayload
	require.NoError(t, json.Unmarshal(roundTripped.Payload, &decodedPayload))
	require.Equal(t, int64(100000), decodedPayload.MinBuySats)
}

func TestAckPayloadRoundTrip(t *testing.T) {
	ack := AckPayload{MessageID: "msg-1", SequenceNum: 7, Success: false, Error: "peer rejected swap_id"}

	raw, err := json.Marshal(ack)
	require.NoError(t, err)

	var decoded AckPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, ack, decoded)
}
