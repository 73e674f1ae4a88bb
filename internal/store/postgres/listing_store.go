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

// ListingStore implements domain.ListingStore.
type ListingStore struct {
	pool *pgxpool.Pool
}

func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingCols = `id, asset_kind, asset_id::text, asset_ref, seller, quantity,
	unit_price::text, listing_time, expiration_time, reserve_price::text,
	lazy, token_uri, sale_kind, status, buyer, updated_at`

// Upsert writes the latest state of a listing. A settled row is never
// overwritten and an older snapshot never replaces a newer one.
func (s *ListingStore) Upsert(ctx context.Context, l domain.Listing) error {
	const q = `
		INSERT INTO listings (
			id, asset_kind, asset_id, asset_ref, seller, quantity,
			unit_price, listing_time, expiration_time, reserve_price,
			lazy, token_uri, sale_kind, status, buyer, updated_at
		) VALUES (
			$1, $2, $3::numeric, $4, $5, $6,
			$7::numeric, $8, $9, $10::numeric,
			$11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			buyer      = EXCLUDED.buyer,
			updated_at = EXCLUDED.updated_at
		WHERE listings.status = 'open'
		  AND EXCLUDED.updated_at >= listings.updated_at`

	_, err := s.pool.Exec(ctx, q,
		int64(l.ID), int(l.AssetKind), uintText(l.AssetID), addressText(l.AssetRef), addressText(l.Seller),
		int64(l.QuantityOffered), numericText(l.UnitPrice), l.ListingTime, l.ExpirationTime,
		numericText(l.ReservePrice), l.Lazy, l.TokenURI, int(l.SaleKind), string(l.Status),
		addressText(l.Buyer), l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %d: %w", l.ID, err)
	}
	return nil
}

func (s *ListingStore) GetByID(ctx context.Context, id uint64) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingCols+` FROM listings WHERE id = $1`, int64(id))
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}
	return l, nil
}

// List returns listings newest first.
func (s *ListingStore) List(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	q := newQuery(`SELECT ` + listingCols + ` FROM listings WHERE 1=1`)
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

// ListSettledBefore returns sold or cancelled listings last touched before
// the cutoff.
func (s *ListingStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Listing, error) {
	q := newQuery(`SELECT ` + listingCols + ` FROM listings WHERE status <> 'open'`)
	q.where("updated_at", "<", before)
	q.add(" ORDER BY id")
	return s.query(ctx, q)
}

// MaxID lets the engine continue numbering after a restart.
func (s *ListingStore) MaxID(ctx context.Context) (uint64, bool, error) {
	return maxID(ctx, s.pool, "listings")
}

func (s *ListingStore) query(ctx context.Context, q *query) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: listing rows: %w", err)
	}
	return out, nil
}

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l                       domain.Listing
		id, quantity            int64
		kind, saleKind          int
		assetID, price, reserve string
		assetRef, seller, buyer string
		status                  string
	)
	err := row.Scan(
		&id, &kind, &assetID, &assetRef, &seller, &quantity,
		&price, &l.ListingTime, &l.ExpirationTime, &reserve,
		&l.Lazy, &l.TokenURI, &saleKind, &status, &buyer, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.AssetID, err = parseUint(assetID); err != nil {
		return domain.Listing{}, err
	}
	if l.UnitPrice, err = parseNumeric(price); err != nil {
		return domain.Listing{}, err
	}
	if l.ReservePrice, err = parseNumeric(reserve); err != nil {
		return domain.Listing{}, err
	}
	l.ID = uint64(id)
	l.QuantityOffered = uint64(quantity)
	l.AssetKind = domain.AssetKind(kind)
	l.SaleKind = domain.SaleKind(saleKind)
	l.Status = domain.ListingStatus(status)
	l.AssetRef = parseAddress(assetRef)
	l.Seller = parseAddress(seller)
	l.Buyer = parseAddress(buyer)
	return l, nil
}
