package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// query accumulates SQL with positional arguments.
type query struct {
	sql  string
	args []any
}

func newQuery(base string) *query {
	return &query{sql: base}
}

func (q *query) add(fragment string) { q.sql += fragment }

// where appends " AND <col> <op> $n" and binds v.
func (q *query) where(col, op string, v any) {
	q.args = append(q.args, v)
	q.sql += fmt.Sprintf(" AND %s %s $%d", col, op, len(q.args))
}

func (q *query) timeRange(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(col, ">=", *opts.Since)
	}
	if opts.Until != nil {
		q.where(col, "<=", *opts.Until)
	}
}

func (q *query) page(opts domain.ListOpts) {
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		q.sql += fmt.Sprintf(" LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		q.sql += fmt.Sprintf(" OFFSET $%d", len(q.args))
	}
}

// Token amounts and asset ids travel as decimal text and are cast to
// NUMERIC in SQL, so values wider than 64 bits survive.

func numericText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: bad numeric %q", s)
	}
	return v, nil
}

func uintText(v uint64) string { return strconv.FormatUint(v, 10) }

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: bad unsigned %q: %w", s, err)
	}
	return v, nil
}

func addressText(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func parseAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

// maxID reads the highest id of a projection table. table is a constant
// supplied by the caller.
func maxID(ctx context.Context, pool *pgxpool.Pool, table string) (uint64, bool, error) {
	var id *int64
	if err := pool.QueryRow(ctx, `SELECT MAX(id) FROM `+table).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("postgres: max id of %s: %w", table, err)
	}
	if id == nil {
		return 0, false, nil
	}
	return uint64(*id), true, nil
}
