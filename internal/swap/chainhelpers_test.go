package swap

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/klingon-exchange/xmrbtc-swap/internal/chainwatch"
)

// autoConfirmOnBroadcast starts a background poller that confirms txid in
// the given block as soon as it first appears on watcher (mempool or
// already confirmed), for driver steps that broadcast a transaction
// themselves and then block waiting for its confirmation within the same
// step call. It gives up silently after a couple of seconds; a test that
// never sees its transaction broadcast will instead time out on its own
// context, which is the more informative failure.
func autoConfirmOnBroadcast(watcher *chainwatch.FakeBitcoinWatcher, txid chainhash.Hash, height uint32) {
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			state, err := watcher.Status(context.Background(), txid)
			if err == nil && state.Status != chainwatch.StatusNotFound {
				_ = watcher.ConfirmInBlock(txid, height)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
}
