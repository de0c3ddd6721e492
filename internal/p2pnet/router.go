package p2pnet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/xmrbtc-swap/internal/node"
	"github.com/klingon-exchange/xmrbtc-swap/pkg/logging"
)

// defaultReplyTimeout is the bounded reply window spec.md §5 requires for
// every protocol request; exceeding it is a retryable transport error, not
// a state transition.
const defaultReplyTimeout = 30 * time.Second

// Transport is the subset of *node.Node a Router needs, narrowed so this
// package depends on behavior, not the concrete node type.
type Transport interface {
	SendDirect(ctx context.Context, peerID peer.ID, swapID string, swapExpiry int64, msg *node.Envelope) error
	RegisterDirectHandler(msgType string, handler node.MessageHandler)
	ID() peer.ID
}

// Router dispatches the six swap protocols over a Transport, correlating
// requests to responses by reusing Envelope.MessageID as the reply key
// (internal/node's envelope has no separate "in reply to" field, so the
// responder echoes the request's MessageID back on its reply envelope).
type Router struct {
	transport Transport
	log       *logging.Logger
	isMaker   bool // role varies per purpose; see localRole

	mu      sync.Mutex
	pending map[string]chan *node.Envelope

	quoteResponder     func(ctx context.Context, from peer.ID) (*QuoteResponse, error)
	spotPriceResponder func(ctx context.Context, from peer.ID, req *SpotPriceRequest) (*SpotPriceResponse, error)
	setupResponder     func(ctx context.Context, from peer.ID, req *ExecutionSetupRequest) (*ExecutionSetupResponse, error)
	refundCommitSink   func(ctx context.Context, from peer.ID, msg *RefundCommitmentMessage) error
	transferProofSink  func(ctx context.Context, from peer.ID, msg *TransferProofMessage) error
	encSigSink         func(ctx context.Context, from peer.ID, msg *EncryptedSignatureMessage) error
}

// NewRouter builds a Router for a node playing either the maker or the
// taker side of the swap. Which role (Initiator/Responder) that implies
// for a given purpose varies — see MakerRole/TakerRole — so Router tracks
// maker-or-taker, not a single fixed Role.
func NewRouter(transport Transport, isMaker bool) *Router {
	r := &Router{
		transport: transport,
		log:       logging.GetDefault().Component("p2pnet"),
		isMaker:   isMaker,
		pending:   make(map[string]chan *node.Envelope),
	}
	r.registerHandlers()
	return r
}

// localRole returns which role this node plays for purpose p.
func (r *Router) localRole(p Purpose) Role {
	if r.isMaker {
		return MakerRole(p)
	}
	return TakerRole(p)
}

func (r *Router) registerHandlers() {
	r.transport.RegisterDirectHandler(EnvelopeType(PurposeQuote), r.handleRequest(PurposeQuote, r.dispatchQuote))
	r.transport.RegisterDirectHandler(AckType(PurposeQuote), r.handleReply)

	r.transport.RegisterDirectHandler(EnvelopeType(PurposeSpotPrice), r.handleRequest(PurposeSpotPrice, r.dispatchSpotPrice))
	r.transport.RegisterDirectHandler(AckType(PurposeSpotPrice), r.handleReply)

	r.transport.RegisterDirectHandler(EnvelopeType(PurposeExecutionSetup), r.handleRequest(PurposeExecutionSetup, r.dispatchExecutionSetup))
	r.transport.RegisterDirectHandler(AckType(PurposeExecutionSetup), r.handleReply)

	r.transport.RegisterDirectHandler(EnvelopeType(PurposeRefundCommitment), r.handleRequest(PurposeRefundCommitment, r.dispatchRefundCommitment))
	r.transport.RegisterDirectHandler(AckType(PurposeRefundCommitment), r.handleReply)

	r.transport.RegisterDirectHandler(EnvelopeType(PurposeTransferProof), r.handleRequest(PurposeTransferProof, r.dispatchTransferProof))
	r.transport.RegisterDirectHandler(AckType(PurposeTransferProof), r.handleReply)

	r.transport.RegisterDirectHandler(EnvelopeType(PurposeEncryptedSignature), r.handleRequest(PurposeEncryptedSignature, r.dispatchEncSig))
	r.transport.RegisterDirectHandler(AckType(PurposeEncryptedSignature), r.handleReply)
}

// handleRequest wraps a purpose-specific dispatch function with the
// directional-correctness check spec.md §4.1 requires: if this node is not
// the Responder for a purpose that arrived as a request, it's a protocol
// violation — logged and ignored, no response sent, peer not banned.
func (r *Router) handleRequest(p Purpose, dispatch func(ctx context.Context, from peer.ID, env *node.Envelope) error) node.MessageHandler {
	return func(ctx context.Context, env *node.Envelope) error {
		from, err := peer.Decode(env.FromPeer)
		if err != nil {
			return fmt.Errorf("p2pnet: bad from_peer %q: %w", env.FromPeer, err)
		}
		if IsUnexpectedRequest(r.localRole(p)) {
			r.log.Warn("unexpected request: protocol violation", "purpose", p, "from", from.String())
			return nil
		}
		return dispatch(ctx, from, env)
	}
}

// handleReply delivers a response envelope to the goroutine awaiting it, by
// MessageID.
func (r *Router) handleReply(_ context.Context, env *node.Envelope) error {
	r.mu.Lock()
	ch, ok := r.pending[env.MessageID]
	if ok {
		delete(r.pending, env.MessageID)
	}
	r.mu.Unlock()

	if !ok {
		r.log.Warn("reply with no matching request", "message_id", env.MessageID, "type", env.Type)
		return nil
	}
	select {
	case ch <- env:
	default:
	}
	return nil
}

// call sends a request envelope for purpose p and blocks for its reply,
// honoring ctx and the bounded reply window.
func (r *Router) call(ctx context.Context, to peer.ID, swapID string, p Purpose, reqPayload any, respPayload any) error {
	payload, err := json.Marshal(reqPayload)
	if err != nil {
		return fmt.Errorf("p2pnet: encode %s request: %w", p, err)
	}

	messageID := uuid.New().String()
	reply := make(chan *node.Envelope, 1)
	r.mu.Lock()
	r.pending[messageID] = reply
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, messageID)
		r.mu.Unlock()
	}()

	env := &node.Envelope{
		Type:        EnvelopeType(p),
		MessageID:   messageID,
		SwapID:      swapID,
		Timestamp:   0,
		FromPeer:    r.transport.ID().String(),
		RequiresAck: false,
		Payload:     payload,
	}

	if err := r.transport.SendDirect(ctx, to, swapID, 0, env); err != nil {
		return fmt.Errorf("p2pnet: send %s request: %w", p, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultReplyTimeout)
	defer cancel()

	select {
	case resp := <-reply:
		if respPayload == nil {
			return nil
		}
		return json.Unmarshal(resp.Payload, respPayload)
	case <-timeoutCtx.Done():
		return fmt.Errorf("p2pnet: %s request to %s timed out: %w", p, to.String(), timeoutCtx.Err())
	}
}

// respond sends a reply envelope correlated to the given request's
// MessageID.
func (r *Router) respond(ctx context.Context, to peer.ID, req *node.Envelope, p Purpose, respPayload any) error {
	payload, err := json.Marshal(respPayload)
	if err != nil {
		return fmt.Errorf("p2pnet: encode %s response: %w", p, err)
	}
	env := &node.Envelope{
		Type:        AckType(p),
		MessageID:   req.MessageID,
		SwapID:      req.SwapID,
		FromPeer:    r.transport.ID().String(),
		RequiresAck: false,
		Payload:     payload,
	}
	return r.transport.SendDirect(ctx, to, req.SwapID, 0, env)
}
