package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// LotStore implements domain.LotStore.
type LotStore struct {
	pool *pgxpool.Pool
}

func NewLotStore(pool *pgxpool.Pool) *LotStore {
	return &LotStore{pool: pool}
}

const lotCols = `id, asset_kind, asset_id::text, asset_ref, seller, quantity,
	start_price::text, current_bid::text, current_bidder, bid_count,
	start_time, duration_seconds, status, updated_at`

// Upsert writes the latest state of a lot. Settled rows and snapshots with
// fewer bids than the stored row are ignored.
func (s *LotStore) Upsert(ctx context.Context, l domain.AuctionLot) error {
	const q = `
		INSERT INTO auction_lots (
			id, asset_kind, asset_id, asset_ref, seller, quantity,
			start_price, current_bid, current_bidder, bid_count,
			start_time, duration_seconds, status, updated_at
		) VALUES (
			$1, $2, $3::numeric, $4, $5, $6,
			$7::numeric, $8::numeric, $9, $10,
			$11, $12, $13, $14
		)
		ON CONFLICT (id) DO UPDATE SET
			current_bid    = EXCLUDED.current_bid,
			current_bidder = EXCLUDED.current_bidder,
			bid_count      = EXCLUDED.bid_count,
			status         = EXCLUDED.status,
			updated_at     = EXCLUDED.updated_at
		WHERE auction_lots.status = 'active' AND auction_lots.bid_count <= EXCLUDED.bid_count`

	_, err := s.pool.Exec(ctx, q,
		int64(l.ID), int(l.AssetKind), uintText(l.AssetID), addressText(l.AssetRef), addressText(l.Seller),
		int64(l.Quantity), numericText(l.StartPrice), numericText(l.CurrentBid),
		addressText(l.CurrentBidder), l.BidCount, l.StartTime, int64(l.Duration/time.Second),
		string(l.Status), l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert lot %d: %w", l.ID, err)
	}
	return nil
}

func (s *LotStore) GetByID(ctx context.Context, id uint64) (domain.AuctionLot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+lotCols+` FROM auction_lots WHERE id = $1`, int64(id))
	l, err := scanLot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuctionLot{}, domain.ErrNotFound
		}
		return domain.AuctionLot{}, fmt.Errorf("postgres: get lot %d: %w", id, err)
	}
	return l, nil
}

// List returns lots newest first.
func (s *LotStore) List(ctx context.Context, f domain.LotFilter) ([]domain.AuctionLot, error) {
	q := newQuery(`SELECT ` + lotCols + ` FROM auction_lots WHERE 1=1`)
	if f.Seller != nil {
		q.where("seller", "=", f.Seller.Hex())
	}
	if f.Status != "" {
		q.where("status", "=", string(f.Status))
	}
	q.timeRange("updated_at", f.ListOpts)
	q.add(" ORDER BY id DESC")
	q.page(f.ListOpts)
	return s.query(ctx, q)
}

// ListSettledBefore returns finished or cancelled lots last touched before
// the cutoff.
func (s *LotStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.AuctionLot, error) {
	q := newQuery(`SELECT ` + lotCols + ` FROM auction_lots WHERE status <> 'active'`)
	q.where("updated_at", "<", before)
	q.add(" ORDER BY id")
	return s.query(ctx, q)
}

// MaxID lets the engine continue numbering after a restart.
func (s *LotStore) MaxID(ctx context.Context) (uint64, bool, error) {
	return maxID(ctx, s.pool, "auction_lots")
}

func (s *LotStore) query(ctx context.Context, q *query) ([]domain.AuctionLot, error) {
	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lots: %w", err)
	}
	defer rows.Close()

	var out []domain.AuctionLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan lot: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: lot rows: %w", err)
	}
	return out, nil
}

func scanLot(row pgx.Row) (domain.AuctionLot, error) {
	var (
		l                             domain.AuctionLot
		id, quantity, durationSeconds int64
		kind                          int
		assetID, startPrice, bid      string
		assetRef, seller, bidder      string
		status                        string
	)
	err := row.Scan(
		&id, &kind, &assetID, &assetRef, &seller, &quantity,
		&startPrice, &bid, &bidder, &l.BidCount,
		&l.StartTime, &durationSeconds, &status, &l.UpdatedAt,
	)
	if err != nil {
		return domain.AuctionLot{}, err
	}
	if l.AssetID, err = parseUint(assetID); err != nil {
		return domain.AuctionLot{}, err
	}
	if l.StartPrice, err = parseNumeric(startPrice); err != nil {
		return domain.AuctionLot{}, err
	}
	if l.CurrentBid, err = parseNumeric(bid); err != nil {
		return domain.AuctionLot{}, err
	}
	l.ID = uint64(id)
	l.Quantity = uint64(quantity)
	l.Duration = time.Duration(durationSeconds) * time.Second
	l.AssetKind = domain.AssetKind(kind)
	l.Status = domain.LotStatus(status)
	l.AssetRef = parseAddress(assetRef)
	l.Seller = parseAddress(seller)
	l.CurrentBidder = parseAddress(bidder)
	return l, nil
}
