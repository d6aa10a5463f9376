package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/postgres"
	"github.com/pscheid92/marketpulse/internal/platform/logging"
)

const defaultRetention = 30 * 24 * time.Hour

type purger interface {
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

func main() {
	var (
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		olderThan   = flag.Duration("older-than", retentionFromEnv(), "Delete request logs older than this (or set REQUEST_LOG_RETENTION env)")
		dryRun      = flag.Bool("dry-run", false, "Dry run mode (count rows, don't delete)")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("Database URL required (--database or DATABASE_URL env)")
	}
	if *olderThan <= 0 {
		log.Fatalf("--older-than must be positive, got %s", *olderThan)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, "text")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := postgres.Connect(ctx, *databaseURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	slog.Info("Connected to database", "url", sanitizeURL(*databaseURL))

	repo := postgres.NewRequestLogRepo(pool)
	if _, err := purge(ctx, repo, clockwork.NewRealClock(), *olderThan, *dryRun); err != nil {
		log.Fatalf("Purge failed: %v", err)
	}

	slog.Info("Purge complete")
}

// purge deletes (or in dry-run mode counts) the rows older than olderThan
// and returns how many were affected.
func purge(ctx context.Context, repo purger, clock clockwork.Clock, olderThan time.Duration, dryRun bool) (int64, error) {
	start := clock.Now()
	cutoff := start.Add(-olderThan).UTC()
	slog.Info("Starting purge", "cutoff", cutoff.Format(time.RFC3339), "dry_run", dryRun)

	if dryRun {
		count, err := repo.CountOlderThan(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("count failed: %w", err)
		}
		slog.Info("Purge summary (dry run)", "would_delete", count)
		return count, nil
	}

	deleted, err := repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete failed: %w", err)
	}
	slog.Info("Purge summary",
		"deleted", deleted,
		"duration_ms", clock.Since(start).Milliseconds())
	return deleted, nil
}

func retentionFromEnv() time.Duration {
	raw := os.Getenv("REQUEST_LOG_RETENTION")
	if raw == "" {
		return defaultRetention
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultRetention
	}
	return d
}

// sanitizeURL hides the password of a connection URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
