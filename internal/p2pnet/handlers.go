package p2pnet

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/xmrbtc-swap/internal/node"
)

// OnQuote registers the maker's quote responder.
func (r *Router) OnQuote(fn func(ctx context.Context, from peer.ID) (*QuoteResponse, error)) {
	r.quoteResponder = fn
}

// OnSpotPrice registers the maker's spot_price responder.
func (r *Router) OnSpotPrice(fn func(ctx context.Context, from peer.ID, req *SpotPriceRequest) (*SpotPriceResponse, error)) {
	r.spotPriceResponder = fn
}

// OnExecutionSetup registers the maker's execution_setup responder.
func (r *Router) OnExecutionSetup(fn func(ctx context.Context, from peer.ID, req *ExecutionSetupRequest) (*ExecutionSetupResponse, error)) {
	r.setupResponder = fn
}

// OnRefundCommitment registers the maker's refund_commitment sink.
func (r *Router) OnRefundCommitment(fn func(ctx context.Context, from peer.ID, msg *RefundCommitmentMessage) error) {
	r.refundCommitSink = fn
}

// OnTransferProof registers the taker's transfer_proof sink.
func (r *Router) OnTransferProof(fn func(ctx context.Context, from peer.ID, msg *TransferProofMessage) error) {
	r.transferProofSink = fn
}

// OnEncryptedSignature registers the maker's encrypted_signature sink.
func (r *Router) OnEncryptedSignature(fn func(ctx context.Context, from peer.ID, msg *EncryptedSignatureMessage) error) {
	r.encSigSink = fn
}

func (r *Router) dispatchQuote(ctx context.Context, from peer.ID, env *node.Envelope) error {
	if r.quoteResponder == nil {
		return fmt.Errorf("p2pnet: no quote responder registered")
	}
	resp, err := r.quoteResponder(ctx, from)
	if err != nil {
		return err
	}
	return r.respond(ctx, from, env, PurposeQuote, resp)
}

func (r *Router) dispatchSpotPrice(ctx context.Context, from peer.ID, env *node.Envelope) error {
	if r.spotPriceResponder == nil {
		return fmt.Errorf("p2pnet: no spot_price responder registered")
	}
	var req SpotPriceRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("p2pnet: decode spot_price request: %w", err)
	}
	resp, err := r.spotPriceResponder(ctx, from, &req)
	if err != nil {
		return err
	}
	return r.respond(ctx, from, env, PurposeSpotPrice, resp)
}

func (r *Router) dispatchExecutionSetup(ctx context.Context, from peer.ID, env *node.Envelope) error {
	if r.setupResponder == nil {
		return fmt.Errorf("p2pnet: no execution_setup responder registered")
	}
	var req ExecutionSetupRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("p2pnet: decode execution_setup request: %w", err)
	}
	resp, err := r.setupResponder(ctx, from, &req)
	if err != nil {
		return err
	}
	return r.respond(ctx, from, env, PurposeExecutionSetup, resp)
}

func (r *Router) dispatchRefundCommitment(ctx context.Context, from peer.ID, env *node.Envelope) error {
	if r.refundCommitSink == nil {
		return fmt.Errorf("p2pnet: no refund_commitment sink registered")
	}
	var msg RefundCommitmentMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return fmt.Errorf("p2pnet: decode refund_commitment: %w", err)
	}
	if err := r.refundCommitSink(ctx, from, &msg); err != nil {
		return err
	}
	return r.respond(ctx, from, env, PurposeRefundCommitment, struct{}{})
}

func (r *Router) dispatchTransferProof(ctx context.Context, from peer.ID, env *node.Envelope) error {
	if r.transferProofSink == nil {
		return fmt.Errorf("p2pnet: no transfer_proof sink registered")
	}
	var msg TransferProofMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return fmt.Errorf("p2pnet: decode transfer_proof: %w", err)
	}
	if err := r.transferProofSink(ctx, from, &msg); err != nil {
		return err
	}
	return r.respond(ctx, from, env, PurposeTransferProof, struct{}{})
}

func (r *Router) dispatchEncSig(ctx context.Context, from peer.ID, env *node.Envelope) error {
	if r.encSigSink == nil {
		return fmt.Errorf("p2pnet: no encrypted_signature sink registered")
	}
	var msg EncryptedSignatureMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return fmt.Errorf("p2pnet: decode encrypted_signature: %w", err)
	}
	if err := r.encSigSink(ctx, from, &msg); err != nil {
		return err
	}
	return r.respond(ctx, from, env, PurposeEncryptedSignature, struct{}{})
}

// RequestQuote is the taker's call into the quote protocol.
func (r *Router) RequestQuote(ctx context.Context, maker peer.ID) (*QuoteResponse, error) {
	var resp QuoteResponse
	if err := r.call(ctx, maker, "", PurposeQuote, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestSpotPrice is the taker's call into the spot_price protocol. A
// structured rejection is returned as an error of type *SpotPriceError.
func (r *Router) RequestSpotPrice(ctx context.Context, maker peer.ID, req *SpotPriceRequest) (uint64, error) {
	var resp SpotPriceResponse
	if err := r.call(ctx, maker, "", PurposeSpotPrice, req, &resp); err != nil {
		return 0, err
	}
	if resp.Rejection != nil {
		return 0, resp.Rejection
	}
	return resp.XmrAmountPiconero, nil
}

// RequestExecutionSetup is the taker's call into the execution_setup
// protocol, the request that ultimately produces State3 on both sides.
func (r *Router) RequestExecutionSetup(ctx context.Context, maker peer.ID, swapID string, req *ExecutionSetupRequest) (*ExecutionSetupResponse, error) {
	var resp ExecutionSetupResponse
	if err := r.call(ctx, maker, swapID, PurposeExecutionSetup, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendRefundCommitment is Bob's call delivering his refund adaptor-signature
// commitment, sent right after locking BTC.
func (r *Router) SendRefundCommitment(ctx context.Context, maker peer.ID, swapID string, msg *RefundCommitmentMessage) error {
	return r.call(ctx, maker, swapID, PurposeRefundCommitment, msg, nil)
}

// SendTransferProof is Alice's call proving her XMR lock broadcast.
func (r *Router) SendTransferProof(ctx context.Context, taker peer.ID, swapID string, msg *TransferProofMessage) error {
	return r.call(ctx, taker, swapID, PurposeTransferProof, msg, nil)
}

// SendEncryptedSignature is Bob's call delivering the redeem adaptor
// signature.
func (r *Router) SendEncryptedSignature(ctx context.Context, maker peer.ID, swapID string, msg *EncryptedSignatureMessage) error {
	return r.call(ctx, maker, swapID, PurposeEncryptedSignature, msg, nil)
}
