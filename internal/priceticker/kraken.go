// Package priceticker feeds the maker's quoting policy (internal/swap's
// pricing logic) a live XMR/BTC spot price over a websocket ticker feed,
// the way noot-atomic-swap's rpcclient/wsclient dials a long-lived
// websocket connection and the teacher's internal/rpc hub keeps a
// mutex-guarded last-known value for concurrent readers.
package priceticker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/xmrbtc-swap/pkg/logging"
)

// staleAfter is how long a cached price is still trusted once the feed
// stops updating, before Price starts reporting !ok.
const staleAfter = 2 * time.Minute

// KrakenTicker maintains the latest XMR/BTC price from Kraken's public
// ticker websocket feed (wss://ws.kraken.com), reconnecting with backoff
// for as long as Run's context stays alive.
type KrakenTicker struct {
	wsURL string
	pair  string // Kraken pair name, e.g. "XMR/XBT"
	log   *logging.Logger

	mu      sync.RWMutex
	price   float64
	updated time.Time
}

// NewKrakenTicker returns a ticker for pair over wsURL. Run must be called
// (typically in its own goroutine) before Price reports anything useful.
func NewKrakenTicker(wsURL, pair string) *KrakenTicker {
	return &KrakenTicker{
		wsURL: wsURL,
		pair:  pair,
		log:   logging.GetDefault().Component("priceticker"),
	}
}

// Price returns the last observed price (units of quote currency per unit
// of base currency, i.e. BTC per XMR for pair "XMR/XBT") and whether it is
// still fresh enough to trust.
func (k *KrakenTicker) Price() (float64, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.price <= 0 || time.Since(k.updated) > staleAfter {
		return 0, false
	}
	return k.price, true
}

// Run dials the feed and processes ticker updates until ctx is cancelled,
// reconnecting after any read/dial error with a backoff that starts at 1s
// and doubles up to 30s. It returns only
// when ctx is done.
func (k *KrakenTicker) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := k.runOnce(ctx); err != nil {
			k.log.Warn("price feed disconnected", "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (k *KrakenTicker) runOnce(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, k.wsURL, nil)
	if err != nil {
		return fmt.Errorf("priceticker: dial %s: %w", k.wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"event": "subscribe",
		"pair":  []string{k.pair},
		"subscription": map[string]string{
			"name": "ticker",
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("priceticker: subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		price, ok, err := parseTickerPrice(raw)
		if err != nil {
			k.log.Debug("priceticker: skipping unparseable frame", "error", err)
			continue
		}
		if !ok {
			continue
		}
		k.mu.Lock()
		k.price = price
		k.updated = time.Now()
		k.mu.Unlock()
	}
}

// parseTickerPrice extracts the last-trade price from a Kraken ticker
// frame. Kraken's websocket API sends two shapes down the same
// connection: JSON objects for system/subscription-status events, and
// JSON arrays of [channelID, data, channelName, pair] for market data.
// Only the array shape with channelName "ticker" carries a price, in
// data.c[0] (last trade closed price, as a string).
func parseTickerPrice(raw []byte) (price float64, ok bool, err error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return 0, false, nil // not an array: a system/heartbeat event, ignore
	}
	if len(frame) < 3 {
		return 0, false, nil
	}

	var channelName string
	if err := json.Unmarshal(frame[len(frame)-2], &channelName); err != nil || channelName != "ticker" {
		return 0, false, nil
	}

	var data struct {
		Close []string `json:"c"`
	}
	if err := json.Unmarshal(frame[1], &data); err != nil {
		return 0, false, fmt.Errorf("priceticker: decode ticker payload: %w", err)
	}
	if len(data.Close) == 0 {
		return 0, false, nil
	}

	p, err := strconv.ParseFloat(data.Close[0], 64)
	if err != nil {
		return 0, false, fmt.Errorf("priceticker: parse last price %q: %w", data.Close[0], err)
	}
	return p, true, nil
}
