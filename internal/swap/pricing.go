package swap

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/xmrbtc-swap/internal/config"
	"github.com/klingon-exchange/xmrbtc-swap/internal/p2pnet"
)

// piconerosPerXMR is the fixed-point scale of Monero's atomic unit, the
// same constant spec.md §2's XmrAmountPiconero field assumes throughout.
const piconerosPerXMR = 1e12

// satsPerBTC is Bitcoin's atomic-unit scale.
const satsPerBTC = 1e8

// PriceSource is the live spot price internal/priceticker feeds the
// quoter: BTC per XMR, the unit Kraken's XMR/XBT ticker pair quotes
// natively. ok is false while no price has been observed yet or the feed
// has gone stale.
type PriceSource interface {
	Price() (btcPerXMR float64, ok bool)
}

// MakerQuoter implements the maker-side pricing logic behind the quote and
// spot_price protocols: it turns config.MakerConfig's policy plus a live
// spot price into the ask_price spec.md §3/§4.1 calls for, and validates
// spot_price requests against the configured buy-size band.
type MakerQuoter struct {
	cfg   config.MakerConfig
	price PriceSource
}

// NewMakerQuoter builds a quoter reading cfg's policy and price's live feed.
func NewMakerQuoter(cfg config.MakerConfig, price PriceSource) *MakerQuoter {
	return &MakerQuoter{cfg: cfg, price: price}
}

// askXMRPerBTC converts the feed's BTC-per-XMR price to XMR-per-BTC and
// applies the configured spread: the maker quotes a taker slightly fewer
// XMR per BTC than raw spot implies, the spread being the maker's margin.
func (q *MakerQuoter) askXMRPerBTC() (float64, bool) {
	btcPerXMR, ok := q.price.Price()
	if !ok || btcPerXMR <= 0 {
		return 0, false
	}
	xmrPerBTC := 1 / btcPerXMR
	return xmrPerBTC * (1 - q.cfg.AskSpread), true
}

// Quote answers the quote protocol: the maker's current buy-size band and
// ask price. Suitable for registration as Router.OnQuote's responder.
func (q *MakerQuoter) Quote(_ context.Context, _ peer.ID) (*p2pnet.QuoteResponse, error) {
	ask, ok := q.askXMRPerBTC()
	if !ok {
		return nil, fmt.Errorf("swap: no spot price available for quote")
	}
	return &p2pnet.QuoteResponse{
		MinBuySats: btcToSats(q.cfg.MinBuyBTC),
		MaxBuySats: btcToSats(q.cfg.MaxBuyBTC),
		AskPrice:   ask,
	}, nil
}

// SpotPrice answers the spot_price protocol: validates the requested BTC
// amount against the configured band, then converts it to an XMR amount at
// the current ask price. Suitable for registration as Router.OnSpotPrice's
// responder. A rejection is a successful response carrying
// SpotPriceResponse.Rejection, never a returned error — spec.md §3 treats
// "amount out of band" and "no price available" as structured outcomes of
// the protocol, not transport failures.
func (q *MakerQuoter) SpotPrice(_ context.Context, _ peer.ID, req *p2pnet.SpotPriceRequest) (*p2pnet.SpotPriceResponse, error) {
	minSats := btcToSats(q.cfg.MinBuyBTC)
	maxSats := btcToSats(q.cfg.MaxBuyBTC)

	if req.BtcAmountSats < minSats {
		return &p2pnet.SpotPriceResponse{Rejection: &p2pnet.SpotPriceError{Reason: p2pnet.ReasonAmountBelowMinimum}}, nil
	}
	if req.BtcAmountSats > maxSats {
		return &p2pnet.SpotPriceResponse{Rejection: &p2pnet.SpotPriceError{Reason: p2pnet.ReasonAmountAboveMaximum}}, nil
	}

	ask, ok := q.askXMRPerBTC()
	if !ok {
		return &p2pnet.SpotPriceResponse{Rejection: &p2pnet.SpotPriceError{Reason: p2pnet.ReasonNoSpotPriceAvailable}}, nil
	}

	btc := float64(req.BtcAmountSats) / satsPerBTC
	xmr := btc * ask
	return &p2pnet.SpotPriceResponse{XmrAmountPiconero: uint64(xmr * piconerosPerXMR)}, nil
}

func btcToSats(btc float64) int64 {
	return int64(btc * satsPerBTC)
}
