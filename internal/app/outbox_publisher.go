package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
	"github.com/creditdispatch/inference-broker/internal/adapter/repo/postgres"
	"github.com/creditdispatch/inference-broker/internal/domain"
)

// OutboxPublisher drains the outbox table written inside the same unit of
// work as a dispatch's debit/job insert, publishing each claimed row to the
// bus and retrying with exponential backoff on failure. Grounded on the
// other_examples outbox worker's claim-publish-ack loop, adapted to the
// FOR UPDATE SKIP LOCKED batch claim already implemented in
// adapter/repo/postgres/outbox_repo.go.
type OutboxPublisher struct {
	repo         domain.OutboxRepository
	bus          domain.Bus
	pollInterval time.Duration
	batchSize    int
}

// NewOutboxPublisher constructs an OutboxPublisher. Returns nil if repo or
// bus is nil, so callers can unconditionally call Run on the result.
func NewOutboxPublisher(repo domain.OutboxRepository, bus domain.Bus, pollInterval time.Duration, batchSize int) *OutboxPublisher {
	if repo == nil || bus == nil {
		return nil
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxPublisher{repo: repo, bus: bus, pollInterval: pollInterval, batchSize: batchSize}
}

// Run blocks, draining a batch on every tick until ctx is cancelled.
func (p *OutboxPublisher) Run(ctx context.Context) {
	if p == nil || p.repo == nil || p.bus == nil {
		return
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox publisher stopping")
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

func (p *OutboxPublisher) drainOnce(ctx context.Context) {
	tracer := otel.Tracer("outbox.publisher")
	ctx, span := tracer.Start(ctx, "OutboxPublisher.drainOnce")
	defer span.End()

	msgs, err := p.repo.ClaimBatch(ctx, p.batchSize)
	if err != nil {
		span.RecordError(err)
		slog.Error("outbox claim failed", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int("outbox.claimed", len(msgs)))
	observability.SetOutboxBacklog(len(msgs))

	for _, m := range msgs {
		msgCtx, msgSpan := tracer.Start(ctx, "OutboxPublisher.publishOne")
		msgSpan.SetAttributes(attribute.String("outbox.id", m.ID), attribute.String("outbox.task_id", m.TaskID))

		if err := p.bus.PublishRaw(msgCtx, m.Exchange, m.RoutingKey, m.TaskID, m.Payload, m.Headers); err != nil {
			msgSpan.RecordError(err)
			nextRetry := postgres.NextRetryAt(m.Attempt)
			if markErr := p.repo.MarkFailed(msgCtx, m.ID, nextRetry); markErr != nil {
				slog.Error("outbox mark-failed also failed", slog.String("outbox_id", m.ID), slog.Any("error", markErr))
			}
			slog.Warn("outbox publish failed, rescheduled", slog.String("outbox_id", m.ID), slog.Time("next_retry_at", nextRetry), slog.Any("error", err))
		} else if err := p.repo.MarkPublished(msgCtx, m.ID); err != nil {
			slog.Error("outbox mark-published failed", slog.String("outbox_id", m.ID), slog.Any("error", err))
		}

		msgSpan.End()
	}
}
