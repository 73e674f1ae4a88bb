package domain

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a committed marketplace state change.
type EventType string

const (
	EventListingCreated   EventType = "listing_created"
	EventListingSold      EventType = "listing_sold"
	EventListingCancelled EventType = "listing_cancelled"
	EventLotCreated       EventType = "lot_created"
	EventBidPlaced        EventType = "bid_placed"
	EventBidRefunded      EventType = "bid_refunded"
	EventLotFinished      EventType = "lot_finished"
	EventLotCancelled     EventType = "lot_cancelled"
	EventStrikeRecorded   EventType = "strike_recorded"
	EventBlacklisted      EventType = "blacklisted"
)

// MarketEvent is emitted once per state change after the operation commits.
// Exactly one of Listing, Lot or Blacklist is set.
type MarketEvent struct {
	Type         EventType       `json:"type"`
	Actor        common.Address  `json:"actor"`
	Counterparty common.Address  `json:"counterparty,omitempty"`
	Amount       *big.Int        `json:"amount,omitempty"`
	Listing      *Listing        `json:"listing,omitempty"`
	Lot          *AuctionLot     `json:"lot,omitempty"`
	Blacklist    *BlacklistEntry `json:"blacklist,omitempty"`
	At           time.Time       `json:"at"`
}

// EventSink receives committed events. Implementations must not call back
// into the engine.
type EventSink interface {
	Record(ctx context.Context, events []MarketEvent)
}

// Bus names. Every event is published on EventsChannel and appended to
// EventsStream; Channel gives the additional per-listing or per-lot channel.
const (
	EventsChannel = "market:events"
	EventsStream  = "market:events:log"
)

// Channel returns the per-entity channel for e, or "" for blacklist events.
func (e MarketEvent) Channel() string {
	switch {
	case e.Listing != nil:
		return "market:listing:" + strconv.FormatUint(e.Listing.ID, 10)
	case e.Lot != nil:
		return "market:lot:" + strconv.FormatUint(e.Lot.ID, 10)
	default:
		return ""
	}
}
