package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingFilter narrows listing projection queries.
type ListingFilter struct {
	Seller *common.Address
	Status ListingStatus
	ListOpts
}

// LotFilter narrows lot projection queries.
type LotFilter struct {
	Seller *common.Address
	Status LotStatus
	ListOpts
}

// ListingStore persists the read projection of listings.
type ListingStore interface {
	Upsert(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id uint64) (Listing, error)
	List(ctx context.Context, f ListingFilter) ([]Listing, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Listing, error)
	// MaxID returns the highest persisted id; ok is false for an empty table.
	MaxID(ctx context.Context) (id uint64, ok bool, err error)
}

// LotStore persists the read projection of auction lots.
type LotStore interface {
	Upsert(ctx context.Context, l AuctionLot) error
	GetByID(ctx context.Context, id uint64) (AuctionLot, error)
	List(ctx context.Context, f LotFilter) ([]AuctionLot, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]AuctionLot, error)
	MaxID(ctx context.Context) (id uint64, ok bool, err error)
}

// BlacklistStore persists strike state for reporting.
type BlacklistStore interface {
	Upsert(ctx context.Context, e BlacklistEntry) error
	List(ctx context.Context, bannedOnly bool) ([]BlacklistEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
