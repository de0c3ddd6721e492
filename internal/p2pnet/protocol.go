// Package p2pnet implements the five per-swap request/response protocols of
// spec.md §4.1 (quote, spot_price, execution_setup, transfer_proof,
// encrypted_signature), plus one supplemental protocol (refund_commitment,
// see SPEC_FULL.md §C) that completes execution_setup's second leg, on top
// of internal/node's generic envelope transport. internal/node already
// multiplexes typed payloads over one
// libp2p stream protocol (node.DirectProtocol) keyed by Envelope.Type; this
// package gives each swap protocol its own versioned type string and a
// directional-correctness check, rather than registering five separate
// libp2p stream protocols — the dispatch internal/node already provides is
// the "one libp2p stream protocol ID per purpose" the domain-stack wiring
// calls for, expressed as envelope types instead of raw protocol.ID values.
package p2pnet

import "fmt"

// Purpose names one of the six swap protocols (the five above plus
// refund_commitment).
type Purpose string

const (
	PurposeQuote               Purpose = "quote"
	PurposeSpotPrice           Purpose = "spot_price"
	PurposeExecutionSetup      Purpose = "execution_setup"
	PurposeRefundCommitment    Purpose = "refund_commitment"
	PurposeTransferProof       Purpose = "transfer_proof"
	PurposeEncryptedSignature  Purpose = "encrypted_signature"
)

// version is the major.minor.patch suffix for every protocol type string
// below. A peer advertising only an older major is incompatible; since
// envelope types are matched exactly (not negotiated like libp2p
// multistream-select), an unknown or mismatched type is simply logged and
// dropped as a protocol violation, which has the same effect.
const version = "1.0.0"

// EnvelopeType returns the versioned identifier used as Envelope.Type for a
// request on the given protocol, of the form
// /comit/xmr/btc/<purpose>/<major.minor.patch>.
func EnvelopeType(p Purpose) string {
	return fmt.Sprintf("/comit/xmr/btc/%s/%s", p, version)
}

// AckType returns the envelope type used for a protocol's response, when
// the protocol has one distinct from node.MsgAck.
func AckType(p Purpose) string {
	return EnvelopeType(p) + "/ack"
}

// Role is which side of a protocol a peer plays for a given purpose.
type Role int

const (
	RoleResponder Role = iota
	RoleInitiator
)

// makerRoles maps each purpose to which role the maker (Alice) plays; the taker
// (Bob) plays the other role. Matches the Maker role / Taker role columns
// of spec.md §4.1's protocol table.
var makerRoles = map[Purpose]Role{
	PurposeQuote:              RoleResponder,
	PurposeSpotPrice:          RoleResponder,
	PurposeExecutionSetup:     RoleResponder,
	PurposeRefundCommitment:   RoleResponder,
	PurposeTransferProof:      RoleInitiator,
	PurposeEncryptedSignature: RoleResponder,
}

// MakerRole reports the maker's (Alice's) role for a purpose; the taker
// (Bob) always plays the other role. Alice initiates transfer_proof (she
// proves her XMR lock to Bob); Bob initiates encrypted_signature (only he
// can produce the redeem adaptor signature).
func MakerRole(p Purpose) Role {
	return makerRoles[p]
}

// TakerRole reports the taker's role for a purpose.
func TakerRole(p Purpose) Role {
	if makerRoles[p] == RoleResponder {
		return RoleInitiator
	}
	return RoleResponder
}

// IsUnexpectedRequest reports whether receiving a request on a purpose for
// which the local peer plays localRole is a protocol violation per
// spec.md §4.1: "if a peer receives a request on a protocol where it is not
// the responder, it emits an unexpected request event."
func IsUnexpectedRequest(localRole Role) bool {
	return localRole != RoleResponder
}
