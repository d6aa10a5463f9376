package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WatchlistRepo implements domain.WatchlistRepository.
type WatchlistRepo struct {
	pool *pgxpool.Pool
}

func NewWatchlistRepo(pool *pgxpool.Pool) *WatchlistRepo {
	return &WatchlistRepo{pool: pool}
}

func (r *WatchlistRepo) WatchersOf(ctx context.Context, symbols []string) (map[string][]string, error) {
	if len(symbols) == 0 {
		return map[string][]string{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT user_id, symbol
		FROM watchlist_items
		WHERE symbol = ANY($1)
		ORDER BY user_id, symbol`, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchers: %w", err)
	}
	defer rows.Close()

	watchers := make(map[string][]string)
	for rows.Next() {
		var identity, symbol string
		if err := rows.Scan(&identity, &symbol); err != nil {
			return nil, fmt.Errorf("failed to scan watcher: %w", err)
		}
		watchers[identity] = append(watchers[identity], symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate watchers: %w", err)
	}
	return watchers, nil
}
