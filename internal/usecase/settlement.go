// Package usecase implements the dispatch orchestrator, settlement engine,
// and admin surface on top of the domain ports.
package usecase

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
	"github.com/creditdispatch/inference-broker/internal/domain"
	obslog "github.com/creditdispatch/inference-broker/internal/observability"
)

// SettlementService settles a worker's ResultEnvelope against the job it
// answers, inside one unit of work. Grounded on the teacher's
// ResultService.Fetch error-mapping shape, generalized from a read-path
// status lookup to the write-path that actually closes out the job.
type SettlementService struct {
	uow domain.UnitOfWork
}

// NewSettlementService constructs a SettlementService.
func NewSettlementService(uow domain.UnitOfWork) *SettlementService {
	return &SettlementService{uow: uow}
}

// Settle applies result to the job it answers. Settlement is idempotent:
// a job not in the pending state returns ErrAlreadySettled rather than
// mutating it again, so at-least-once result delivery never double-credits
// or double-marks a job.
func (s *SettlementService) Settle(ctx domain.Context, result domain.ResultEnvelope) error {
	tracer := otel.Tracer("settlement.settle")
	ctx, span := tracer.Start(ctx, "settlement.settle")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", result.JobID),
		attribute.String("job.result_status", string(result.Status)),
	)

	log := obslog.LoggerFromContext(ctx)

	err := s.uow.Do(ctx, func(tx domain.Tx) error {
		job, err := tx.GetJobForUpdate(ctx, result.JobID)
		if err != nil {
			return err
		}
		if job.Status != domain.JobPending {
			return fmt.Errorf("op=settlement.settle job=%s: %w", job.ID, domain.ErrAlreadySettled)
		}

		switch result.Status {
		case domain.JobDone:
			if err := tx.UpdateJobStatus(ctx, job.ID, domain.JobDone, result.WorkerID, result.Output, ""); err != nil {
				return err
			}
			observability.RecordSettlement("done")
		case domain.JobFailed:
			if err := tx.UpdateJobStatus(ctx, job.ID, domain.JobFailed, result.WorkerID, nil, result.Error); err != nil {
				return err
			}
			observability.RecordSettlement("failed")
			if job.Cost > 0 {
				balanceAfter, err := tx.Credit(ctx, job.UserID, job.Cost)
				if err != nil {
					return err
				}
				if err := tx.AppendJournal(ctx, domain.Transaction{
					ID:           ulid.Make().String(),
					UserID:       job.UserID,
					JobID:        job.ID,
					Kind:         domain.TxCredit,
					Amount:       job.Cost,
					BalanceAfter: balanceAfter,
					Status:       domain.TxApproved,
					Description:  "refund: job failed",
					CreatedAt:    time.Now().UTC(),
				}); err != nil {
					return err
				}
				observability.RecordRefund("job_failed")
				observability.RecordCredit("refund")
			}
		default:
			return fmt.Errorf("op=settlement.settle job=%s: unrecognized result status %q", job.ID, result.Status)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		log.Error("settlement failed", "job_id", result.JobID, "error", err)
		return err
	}

	log.Info("job settled", "job_id", result.JobID, "status", result.Status)
	return nil
}

// SettleTimeout is used by the pending-job sweeper: a job stuck in pending
// past its max processing age is marked failed and refunded exactly like a
// worker-reported failure, since from the ledger's perspective a timed-out
// job and a worker-reported failure are the same event — the debit never
// produced a usable result.
func (s *SettlementService) SettleTimeout(ctx domain.Context, jobID, reason string) error {
	return s.Settle(ctx, domain.ResultEnvelope{JobID: jobID, Status: domain.JobFailed, Error: reason})
}
