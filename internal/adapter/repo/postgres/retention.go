package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RetentionService prunes settled jobs and their journal rows older than a
// configured retention window, mirroring the teacher's CleanupService
// periodic-delete pattern, generalized from the CV-pipeline's
// jobs/results/uploads tables to this domain's jobs/transactions/outbox
// tables.
type RetentionService struct {
	Pool          *pgxpool.Pool
	RetentionDays int
}

// NewRetentionService creates a new retention service.
func NewRetentionService(pool *pgxpool.Pool, retentionDays int) *RetentionService {
	if retentionDays <= 0 {
		retentionDays = 365
	}
	return &RetentionService{Pool: pool, RetentionDays: retentionDays}
}

// PruneOldData removes settled jobs (and their journal rows, via FK
// cascade) and published outbox rows older than the retention period.
// Pending jobs are never pruned, regardless of age; that's the sweeper's
// job, not retention's.
func (s *RetentionService) PruneOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=retention.begin_tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var deletedJobs int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM jobs
			WHERE status IN ('done', 'failed') AND updated_at < $1
			RETURNING id
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedJobs)
	if err != nil {
		slog.Debug("retention: no settled jobs to delete", slog.Any("error", err))
	}

	var deletedOutbox int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM outbox WHERE status = 'published' AND created_at < $1
			RETURNING id
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedOutbox)
	if err != nil {
		slog.Debug("retention: no outbox rows to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=retention.commit: %w", err)
	}

	slog.Info("retention prune completed",
		slog.Int64("deleted_jobs", deletedJobs),
		slog.Int64("deleted_outbox", deletedOutbox),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic starts a periodic prune loop.
func (s *RetentionService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.PruneOldData(ctx); err != nil {
		slog.Error("initial retention prune failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention service stopping")
			return
		case <-ticker.C:
			if err := s.PruneOldData(ctx); err != nil {
				slog.Error("periodic retention prune failed", slog.Any("error", err))
			}
		}
	}
}
