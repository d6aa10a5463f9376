package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// NewsRepo reads analysed articles. It implements domain.NewsSource.
type NewsRepo struct {
	pool *pgxpool.Pool
}

func NewNewsRepo(pool *pgxpool.Pool) *NewsRepo {
	return &NewsRepo{pool: pool}
}

const fetchArticlesSQL = `
SELECT id::text AS id, title, summary, source, url, symbols, sentiment, impact_score, created_at
FROM news_articles
WHERE created_at > $1
   OR (created_at = $1 AND id::text COLLATE "C" > $2)
ORDER BY created_at, id::text COLLATE "C"
LIMIT $3`

func (r *NewsRepo) FetchArticlesAfter(ctx context.Context, cursor domain.NewsCursor, limit int) ([]domain.Article, error) {
	rows, err := r.pool.Query(ctx, fetchArticlesSQL, cursor.CreatedAt, cursor.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	articles, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.Article])
	if err != nil {
		return nil, fmt.Errorf("failed to scan articles: %w", err)
	}
	return articles, nil
}
