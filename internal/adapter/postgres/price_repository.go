package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// PriceRepo reads the instrument tables. It implements domain.PriceSource.
type PriceRepo struct {
	pool *pgxpool.Pool
}

func NewPriceRepo(pool *pgxpool.Pool) *PriceRepo {
	return &PriceRepo{pool: pool}
}

const fetchQuotesSQL = `
SELECT symbol, 'stock' AS kind, name, current_price AS price, change, change_percent, volume, updated_at
FROM stocks
UNION ALL
SELECT symbol, 'commodity' AS kind, name, current_price AS price, change, change_percent, 0::bigint AS volume, updated_at
FROM commodities
UNION ALL
SELECT symbol, 'index' AS kind, name, current_value AS price, change, change_percent, volume, updated_at
FROM market_indices
ORDER BY kind, symbol`

// FetchQuotes returns the full price table across stocks, commodities and
// indices.
func (r *PriceRepo) FetchQuotes(ctx context.Context) ([]domain.Quote, error) {
	rows, err := r.pool.Query(ctx, fetchQuotesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	quotes, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.Quote])
	if err != nil {
		return nil, fmt.Errorf("failed to scan quotes: %w", err)
	}
	return quotes, nil
}
