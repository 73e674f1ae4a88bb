package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LotStatus tracks the auction lifecycle.
type LotStatus string

const (
	LotActive    LotStatus = "active"
	LotFinished  LotStatus = "finished"
	LotCancelled LotStatus = "cancelled"
)

// AuctionLot is an English auction for a single asset position.
type AuctionLot struct {
	ID            uint64         `json:"id"`
	AssetKind     AssetKind      `json:"asset_kind"`
	AssetID       uint64         `json:"asset_id"`
	AssetRef      common.Address `json:"asset_ref"`
	Seller        common.Address `json:"seller"`
	Quantity      uint64         `json:"quantity"`
	StartPrice    *big.Int       `json:"start_price"`
	CurrentBid    *big.Int       `json:"current_bid"`
	CurrentBidder common.Address `json:"current_bidder"`
	BidCount      int            `json:"bid_count"`
	StartTime     time.Time      `json:"start_time"`
	Duration      time.Duration  `json:"duration_ns"`
	Status        LotStatus      `json:"status"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// EndTime is the instant after which bids are rejected.
func (l AuctionLot) EndTime() time.Time {
	return l.StartTime.Add(l.Duration)
}

// HasBid reports whether anyone currently holds escrowed funds on the lot.
func (l AuctionLot) HasBid() bool {
	return l.CurrentBidder != (common.Address{})
}

func (l AuctionLot) Clone() AuctionLot {
	out := l
	out.StartPrice = cloneInt(l.StartPrice)
	out.CurrentBid = cloneInt(l.CurrentBid)
	return out
}

// LotView is the read-only projection returned by GetLotInfo.
type LotView struct {
	ID            uint64         `json:"id"`
	AssetKind     AssetKind      `json:"asset_kind"`
	AssetID       uint64         `json:"asset_id"`
	AssetRef      common.Address `json:"asset_ref"`
	Seller        common.Address `json:"seller"`
	Quantity      uint64         `json:"quantity"`
	StartPrice    *big.Int       `json:"start_price"`
	CurrentBid    *big.Int       `json:"current_bid"`
	CurrentBidder common.Address `json:"current_bidder"`
	BidCount      int            `json:"bid_count"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Status        LotStatus      `json:"status"`
}

// View projects the lot for external callers.
func (l AuctionLot) View() LotView {
	c := l.Clone()
	return LotView{
		ID:            c.ID,
		AssetKind:     c.AssetKind,
		AssetID:       c.AssetID,
		AssetRef:      c.AssetRef,
		Seller:        c.Seller,
		Quantity:      c.Quantity,
		StartPrice:    c.StartPrice,
		CurrentBid:    c.CurrentBid,
		CurrentBidder: c.CurrentBidder,
		BidCount:      c.BidCount,
		StartTime:     c.StartTime,
		EndTime:       c.EndTime(),
		Status:        c.Status,
	}
}
