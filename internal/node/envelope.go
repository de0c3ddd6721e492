// Package node - Generic transport envelope for encrypted P2P delivery.
//
// The node package is a transport layer: it moves opaque, typed payloads
// between peers over a direct stream or, when that fails, an encrypted
// PubSub topic. It knows nothing about swap semantics - the five
// swap-protocol message types live above this layer and ride inside
// Envelope.Payload.
package node

import "context"

// EncryptedTopic is the PubSub topic used for the encrypted fallback path
// when a direct stream to a peer cannot be established.
const EncryptedTopic = "/xmrbtc-swap/encrypted/1.0.0"

// MsgAck is the envelope type used for acknowledgments sent back over a
// direct stream.
const MsgAck = "ack"

// Envelope is the wire unit exchanged between nodes, either over a direct
// libp2p stream or inside an EncryptedEnvelope published to EncryptedTopic.
type Envelope struct {
	Type        string `json:"type"`
	MessageID   string `json:"message_id"`
	SwapID      string `json:"swap_id"`
	SequenceNum uint64 `json:"sequence_num"`
	Timestamp   int64  `json:"timestamp"`
	FromPeer    string `json:"from_peer"`
	RequiresAck bool   `json:"requires_ack"`
	SwapExpiry  int64  `json:"swap_expiry,omitempty"`
	Payload     []byte `json:"payload,omitempty"`
}

// MessageHandler processes an inbound envelope for a registered message type.
// A non-nil error is reported back to the sender in the ACK when the
// envelope requires one.
type MessageHandler func(ctx context.Context, msg *Envelope) error

// AckPayload is the payload carried by a MsgAck envelope.
type AckPayload struct {
	MessageID   string `json:"message_id"`
	SequenceNum uint64 `json:"sequence_num"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}
