// Package app wires background tasks and the HTTP surface on top of the
// usecase layer.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/domain"
	"github.com/creditdispatch/inference-broker/internal/usecase"
)

// PendingJobSweeper pages through jobs stuck in pending past a configurable
// age and settles each as a timeout failure, refunding the debit. This is
// the backstop for a job whose outbox row itself never got claimed (e.g.
// the OutboxPublisher crashed mid-batch) — belt-and-suspenders alongside
// outbox redelivery, not a replacement for it.
type PendingJobSweeper struct {
	store            domain.LedgerStore
	settlement       *usecase.SettlementService
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewPendingJobSweeper constructs a PendingJobSweeper. Returns nil if store
// is nil, so callers can unconditionally call Run on the result.
func NewPendingJobSweeper(store domain.LedgerStore, settlement *usecase.SettlementService, maxProcessingAge, interval time.Duration) *PendingJobSweeper {
	if store == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 3 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &PendingJobSweeper{store: store, settlement: settlement, maxProcessingAge: maxProcessingAge, interval: interval}
}

// Run blocks, sweeping once immediately and then on every tick, until ctx
// is cancelled.
func (s *PendingJobSweeper) Run(ctx context.Context) {
	if s == nil || s.store == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("pending job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *PendingJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "PendingJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxProcessingAge)
	const pageSize = 100
	span.SetAttributes(
		attribute.Int("jobs.page_size", pageSize),
		attribute.Float64("jobs.max_processing_age_seconds", s.maxProcessingAge.Seconds()),
	)

	totalChecked := 0
	totalSettled := 0

	for offset := 0; ; offset += pageSize {
		pageCtx, pageSpan := tracer.Start(ctx, "PendingJobSweeper.sweepPage")
		pageSpan.SetAttributes(attribute.Int("jobs.offset", offset))

		jobs, err := s.store.ListPendingJobsOlderThan(pageCtx, cutoff, offset, pageSize)
		if err != nil {
			pageSpan.RecordError(err)
			pageSpan.End()
			slog.Error("pending job sweep failed to list jobs", slog.Any("error", err))
			return
		}
		totalChecked += len(jobs)
		if len(jobs) == 0 {
			pageSpan.End()
			break
		}

		for _, j := range jobs {
			jobCtx, jobSpan := tracer.Start(pageCtx, "PendingJobSweeper.settleTimeout")
			jobSpan.SetAttributes(attribute.String("job.id", j.ID))

			reason := fmt.Sprintf("job pending exceeded maximum processing age %v; settled by sweeper", s.maxProcessingAge)
			if err := s.settlement.SettleTimeout(jobCtx, j.ID, reason); err != nil {
				jobSpan.RecordError(err)
				slog.Error("pending job sweep failed to settle job", slog.String("job_id", j.ID), slog.Any("error", err))
			} else {
				totalSettled++
			}
			jobSpan.End()
		}

		pageSpan.End()
	}

	span.SetAttributes(
		attribute.Int("jobs.total_checked", totalChecked),
		attribute.Int("jobs.total_settled", totalSettled),
	)
}
