package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/domain"
)

// OutboxRepo implements domain.OutboxRepository: the claim/update surface
// the OutboxPublisher uses outside of the unit of work that wrote the rows.
// ClaimBatch is grounded directly on the other_examples outbox worker's
// FOR UPDATE SKIP LOCKED batch-claim query.
type OutboxRepo struct{ Pool PgxPool }

// NewOutboxRepo constructs an OutboxRepo with the given pool.
func NewOutboxRepo(p PgxPool) *OutboxRepo { return &OutboxRepo{Pool: p} }

func (r *OutboxRepo) ClaimBatch(ctx domain.Context, limit int) ([]domain.OutboxMessage, error) {
	tracer := otel.Tracer("repo.outbox")
	ctx, span := tracer.Start(ctx, "outbox.ClaimBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "outbox"),
		attribute.Int("outbox.batch_size", limit),
	)

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=outbox.claim_begin: %w", mapPgError(err))
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, task_id, exchange, routing_key, payload, headers, status, attempt, next_retry_at, created_at
		 FROM outbox
		 WHERE status = $1 AND next_retry_at <= now()
		 ORDER BY created_at
		 FOR UPDATE SKIP LOCKED
		 LIMIT $2`, domain.OutboxPending, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("op=outbox.claim_query: %w", mapPgError(err))
	}

	var out []domain.OutboxMessage
	var ids []string
	for rows.Next() {
		var m domain.OutboxMessage
		var headers []byte
		if err := rows.Scan(&m.ID, &m.TaskID, &m.Exchange, &m.RoutingKey, &m.Payload, &headers, &m.Status, &m.Attempt, &m.NextRetryAt, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("op=outbox.claim_scan: %w", mapPgError(err))
		}
		m.Headers = headersFromJSON(headers)
		out = append(out, m)
		ids = append(ids, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=outbox.claim_rows: %w", mapPgError(err))
	}

	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `UPDATE outbox SET attempt = attempt + 1 WHERE id = ANY($1)`, ids); err != nil {
			return nil, fmt.Errorf("op=outbox.claim_mark_attempt: %w", mapPgError(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=outbox.claim_commit: %w", mapPgError(err))
	}
	return out, nil
}

func (r *OutboxRepo) MarkPublished(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.outbox")
	ctx, span := tracer.Start(ctx, "outbox.MarkPublished")
	defer span.End()

	_, err := r.Pool.Exec(ctx, `UPDATE outbox SET status = $2 WHERE id = $1`, id, domain.OutboxPublished)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=outbox.mark_published: %w", mapPgError(err))
	}
	return nil
}

// computeNextRetry applies exponential backoff without jitter (500ms doubled
// per attempt, capped at 30s), grounded on the other_examples outbox
// worker's retry computation.
func computeNextRetry(attempt int) time.Time {
	base := 500 * time.Millisecond
	delay := base << attempt
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return time.Now().Add(delay)
}

// NextRetryAt exposes computeNextRetry to the OutboxPublisher, which runs
// outside this package.
func NextRetryAt(attempt int) time.Time { return computeNextRetry(attempt) }

func (r *OutboxRepo) MarkFailed(ctx domain.Context, id string, nextRetryAt time.Time) error {
	tracer := otel.Tracer("repo.outbox")
	ctx, span := tracer.Start(ctx, "outbox.MarkFailed")
	defer span.End()

	_, err := r.Pool.Exec(ctx,
		`UPDATE outbox SET status = $2, next_retry_at = $3 WHERE id = $1`,
		id, domain.OutboxPending, nextRetryAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=outbox.mark_failed: %w", mapPgError(err))
	}
	return nil
}
