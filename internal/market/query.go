package market

import (
	"context"
	"slices"
	"time"

	"github.com/alanyoungcy/lazymarket/internal/crypto"
	"github.com/alanyoungcy/lazymarket/internal/domain"
)

const defaultPageSize = 50

// Payment returns the payment ledger the engine settles in.
func (e *Engine) Payment() domain.PaymentLedger { return e.payment }

// Verifier returns the voucher verifier bound to the engine's domain.
func (e *Engine) Verifier() *crypto.VoucherVerifier { return e.verifier }

// Assets returns the registered asset ledgers in registration order.
func (e *Engine) Assets() []domain.AssetLedger { return slices.Clone(e.assets) }

// Listings returns listings matching f, newest first.
func (e *Engine) Listings(f domain.ListingFilter) []domain.Listing {
	e.mu.Lock()
	out := make([]domain.Listing, 0, len(e.listings))
	for _, l := range e.listings {
		if f.Seller != nil && l.Seller != *f.Seller {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if !inRange(l.ListingTime, f.ListOpts) {
			continue
		}
		out = append(out, l.Clone())
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.Listing) int { return compareDesc(a.ID, b.ID) })
	return page(out, f.ListOpts)
}

// Lots returns lot projections matching f, newest first.
func (e *Engine) Lots(f domain.LotFilter) []domain.LotView {
	e.mu.Lock()
	out := make([]domain.LotView, 0, len(e.lots))
	for _, l := range e.lots {
		if f.Seller != nil && l.Seller != *f.Seller {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if !inRange(l.StartTime, f.ListOpts) {
			continue
		}
		out = append(out, l.View())
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.LotView) int { return compareDesc(a.ID, b.ID) })
	return page(out, f.ListOpts)
}

// Apply runs fn with the writer lock held and ledger checkpoints taken, so
// out-of-band ledger changes such as approvals or faucet mints are
// serialised with settlement and roll back as a unit.
func (e *Engine) Apply(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return e.atomically(ctx, op, func(*txn) error { return fn(ctx) })
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}

func compareDesc(a, b uint64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

func page[T any](items []T, opts domain.ListOpts) []T {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if opts.Offset >= len(items) {
		return []T{}
	}
	items = items[max(opts.Offset, 0):]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
