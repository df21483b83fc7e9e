package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionSweepInterval = 1 * time.Hour

// StartRetentionWorker runs a background goroutine that periodically
// archives closed sessions older than archiveAfter. Archived sessions
// never return to active.
func StartRetentionWorker(ctx context.Context, repo Repository, archiveAfter time.Duration) {
	ticker := time.NewTicker(retentionSweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", retentionSweepInterval, "archive_after", archiveAfter)

		for {
			select {
			case <-ticker.C:
				sweepClosedSessions(ctx, repo, archiveAfter)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepClosedSessions(ctx context.Context, repo Repository, archiveAfter time.Duration) {
	cutoff := time.Now().Add(-archiveAfter).Unix()

	archived, err := repo.ArchiveClosedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention worker failed to archive sessions", "error", err)
		return
	}

	if archived > 0 {
		slog.Info("Retention worker archived sessions", "count", archived)
	}
}
