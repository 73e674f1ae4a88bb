package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// BlacklistStore implements domain.BlacklistStore.
type BlacklistStore struct {
	pool *pgxpool.Pool
}

func NewBlacklistStore(pool *pgxpool.Pool) *BlacklistStore {
	return &BlacklistStore{pool: pool}
}

// Upsert keeps the highest strike count seen for an address.
func (s *BlacklistStore) Upsert(ctx context.Context, e domain.BlacklistEntry) error {
	const q = `
		INSERT INTO blacklist (address, strikes, banned, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			strikes    = EXCLUDED.strikes,
			banned     = EXCLUDED.banned,
			updated_at = EXCLUDED.updated_at
		WHERE blacklist.strikes <= EXCLUDED.strikes`
	if _, err := s.pool.Exec(ctx, q, e.Address.Hex(), e.Strikes, e.Banned, e.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: upsert blacklist %s: %w", e.Address.Hex(), err)
	}
	return nil
}

// List returns entries with the most strikes first.
func (s *BlacklistStore) List(ctx context.Context, bannedOnly bool) ([]domain.BlacklistEntry, error) {
	q := newQuery(`SELECT address, strikes, banned, updated_at FROM blacklist WHERE 1=1`)
	if bannedOnly {
		q.where("banned", "=", true)
	}
	q.add(" ORDER BY strikes DESC, address")

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list blacklist: %w", err)
	}
	defer rows.Close()

	var out []domain.BlacklistEntry
	for rows.Next() {
		var e domain.BlacklistEntry
		var addr string
		if err := rows.Scan(&addr, &e.Strikes, &e.Banned, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan blacklist: %w", err)
		}
		e.Address = parseAddress(addr)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: blacklist rows: %w", err)
	}
	return out, nil
}
