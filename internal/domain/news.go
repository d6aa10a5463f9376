package domain

import (
	"context"
	"time"
)

// Article is an analysed news item.
type Article struct {
	ID          string    `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Summary     string    `json:"summary,omitempty" db:"summary"`
	Source      string    `json:"source,omitempty" db:"source"`
	URL         string    `json:"url,omitempty" db:"url"`
	Symbols     []string  `json:"symbols,omitempty" db:"symbols"`
	Sentiment   string    `json:"sentiment,omitempty" db:"sentiment"`
	ImpactScore int       `json:"impact_score" db:"impact_score"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NewsCursor is a keyset position in (created_at, id) order. An empty ID
// makes CreatedAt inclusive.
type NewsCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter positions a cursor just past a.
func CursorAfter(a Article) NewsCursor {
	return NewsCursor{CreatedAt: a.CreatedAt, ID: a.ID}
}

// NewsSource returns articles positioned after cursor in (created_at, id)
// order, at most limit rows.
type NewsSource interface {
	FetchArticlesAfter(ctx context.Context, cursor NewsCursor, limit int) ([]Article, error)
}

// WatchlistRepository resolves which identities watch any of the given
// symbols. The result maps identity to the matching symbols.
type WatchlistRepository interface {
	WatchersOf(ctx context.Context, symbols []string) (map[string][]string, error)
}
