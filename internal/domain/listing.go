package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListingStatus tracks the fixed-price listing lifecycle.
type ListingStatus string

const (
	ListingOpen      ListingStatus = "open"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
)

// SaleKind is reserved for future sale variants. Only SaleFixedPrice is
// settled today.
type SaleKind int

const SaleFixedPrice SaleKind = 0

// Listing is a fixed-price sale offer.
type Listing struct {
	ID              uint64         `json:"id"`
	AssetKind       AssetKind      `json:"asset_kind"`
	AssetID         uint64         `json:"asset_id"`
	AssetRef        common.Address `json:"asset_ref"`
	Seller          common.Address `json:"seller"`
	QuantityOffered uint64         `json:"quantity"`
	UnitPrice       *big.Int       `json:"unit_price"`
	ListingTime     time.Time      `json:"listing_time"`
	ExpirationTime  time.Time      `json:"expiration_time"`
	ReservePrice    *big.Int       `json:"reserve_price"`
	Lazy            bool           `json:"lazy"`
	TokenURI        string         `json:"token_uri,omitempty"` // lazy listings only
	SaleKind        SaleKind       `json:"sale_kind"`
	Status          ListingStatus  `json:"status"`
	Buyer           common.Address `json:"buyer,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Total returns UnitPrice * QuantityOffered.
func (l Listing) Total() *big.Int {
	return new(big.Int).Mul(l.UnitPrice, new(big.Int).SetUint64(l.QuantityOffered))
}

// Clone returns a deep copy so callers cannot mutate registry state through
// shared big.Int pointers.
func (l Listing) Clone() Listing {
	out := l
	out.UnitPrice = cloneInt(l.UnitPrice)
	out.ReservePrice = cloneInt(l.ReservePrice)
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
