package notify

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// Units describes the payment token so alerts can show whole-token amounts.
// The zero value prints raw base units.
type Units struct {
	Symbol   string
	Decimals int32
}

// Format renders v in whole tokens, e.g. 1050 with two decimals as "10.5 USD".
func (u Units) Format(v *big.Int) string {
	s := decimal.NewFromBigInt(v, -u.Decimals).String()
	if u.Symbol == "" {
		return s
	}
	return s + " " + u.Symbol
}

// Render formats a market event as an alert title and body.
func Render(ev domain.MarketEvent, u Units) (title, message string) {
	var b strings.Builder
	switch {
	case ev.Listing != nil:
		l := ev.Listing
		title = fmt.Sprintf("Listing #%d %s", l.ID, humanize(ev.Type))
		fmt.Fprintf(&b, "asset: %s #%d x%d\n", l.AssetKind, l.AssetID, l.QuantityOffered)
		fmt.Fprintf(&b, "seller: %s\n", l.Seller.Hex())
		if l.UnitPrice != nil {
			fmt.Fprintf(&b, "unit price: %s\n", u.Format(l.UnitPrice))
		}
	case ev.Lot != nil:
		lot := ev.Lot
		title = fmt.Sprintf("Lot #%d %s", lot.ID, humanize(ev.Type))
		fmt.Fprintf(&b, "asset: %s #%d x%d\n", lot.AssetKind, lot.AssetID, lot.Quantity)
		fmt.Fprintf(&b, "seller: %s\n", lot.Seller.Hex())
		if lot.HasBid() {
			fmt.Fprintf(&b, "high bid: %s by %s\n", u.Format(lot.CurrentBid), lot.CurrentBidder.Hex())
		} else {
			b.WriteString("no bids\n")
		}
	case ev.Blacklist != nil:
		e := ev.Blacklist
		title = humanize(ev.Type)
		fmt.Fprintf(&b, "address: %s\nstrikes: %d\n", e.Address.Hex(), e.Strikes)
	default:
		title = humanize(ev.Type)
	}
	if ev.Amount != nil && ev.Amount.Sign() > 0 {
		fmt.Fprintf(&b, "amount: %s\n", u.Format(ev.Amount))
	}
	fmt.Fprintf(&b, "by: %s", ev.Actor.Hex())
	return title, b.String()
}

var titles = map[domain.EventType]string{
	domain.EventListingCreated:   "listed",
	domain.EventListingSold:      "sold",
	domain.EventListingCancelled: "cancelled",
	domain.EventLotCreated:       "opened",
	domain.EventBidPlaced:        "new bid",
	domain.EventBidRefunded:      "bid refunded",
	domain.EventLotFinished:      "finished",
	domain.EventLotCancelled:     "cancelled",
	domain.EventStrikeRecorded:   "Cancellation strike recorded",
	domain.EventBlacklisted:      "Address blacklisted",
}

func humanize(t domain.EventType) string {
	if s, ok := titles[t]; ok {
		return s
	}
	return strings.ReplaceAll(string(t), "_", " ")
}
