package swap

import (
	"time"

	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
)

// SwapEvent reports a driver's state transition to anything watching
// (logs, a UI, tests). One fires after every successful persist.
type SwapEvent struct {
	SwapID    swapstate.ID
	Tag       string
	End       string // non-empty only once the swap reaches a terminal tag
	Timestamp time.Time
}

// EventHandler is called when a swap event occurs. Handlers run in their
// own goroutine and must not block the driver.
type EventHandler func(event SwapEvent)
