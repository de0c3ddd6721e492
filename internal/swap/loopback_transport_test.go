package swap

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/xmrbtc-swap/internal/node"
)

// loopbackTransport wires two in-process p2pnet.Router instances together
// without a real libp2p host, the same technique internal/p2pnet's own
// router_test.go uses for its fakeTransport — driver tests need the same
// trick one package up, since Router.call blocks on a reply that only a
// second Router's dispatch can produce.
type loopbackTransport struct {
	id peer.ID

	mu       sync.Mutex
	handlers map[string]node.MessageHandler
	peerOf   map[peer.ID]*loopbackTransport
}

func newLoopbackTransport(id peer.ID) *loopbackTransport {
	return &loopbackTransport{
		id:       id,
		handlers: make(map[string]node.MessageHandler),
		peerOf:   make(map[peer.ID]*loopbackTransport),
	}
}

// linkLoopback connects a and b so SendDirect on either reaches the other.
func linkLoopback(a, b *loopbackTransport) {
	a.mu.Lock()
	a.peerOf[b.id] = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peerOf[a.id] = a
	b.mu.Unlock()
}

func (t *loopbackTransport) ID() peer.ID { return t.id }

func (t *loopbackTransport) RegisterDirectHandler(msgType string, handler node.MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[msgType] = handler
}

func (t *loopbackTransport) SendDirect(ctx context.Context, peerID peer.ID, _ string, _ int64, msg *node.Envelope) error {
	t.mu.Lock()
	dest, ok := t.peerOf[peerID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("swap: loopback transport %s has no peer %s", t.id, peerID)
	}

	dest.mu.Lock()
	handler, ok := dest.handlers[msg.Type]
	dest.mu.Unlock()
	if !ok {
		return fmt.Errorf("swap: loopback peer %s has no handler for %s", peerID, msg.Type)
	}
	return handler(ctx, msg)
}
