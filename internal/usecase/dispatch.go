package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
	"github.com/creditdispatch/inference-broker/internal/config"
	"github.com/creditdispatch/inference-broker/internal/domain"
	obslog "github.com/creditdispatch/inference-broker/internal/observability"
)

// SubmitRequest is the validated shape of an inbound dispatch request.
// Struct-tag validation runs before any unit of work opens, so
// ErrValidation is always surfaced before any state change.
type SubmitRequest struct {
	UserID         string         `validate:"required"`
	ModelID        string         `validate:"required"`
	IdempotencyKey string         `validate:"required"`
	Input          map[string]any `validate:"required"`
}

var validate = validator.New()

// DispatchOrchestrator implements submitAsync and submitRPC: debit the
// wallet and create the job in one unit of work, then hand the task to the
// bus. Grounded on the teacher's EvaluateService.Enqueue idempotency-key
// lookup and rollback-on-publish-failure shape, adapted so the unit of
// work commits before the bus is ever called — never the other way
// around.
type DispatchOrchestrator struct {
	store  domain.LedgerStore
	uow    domain.UnitOfWork
	bus    domain.Bus
	models domain.ModelRepository
	cfg    config.Config
}

// NewDispatchOrchestrator constructs a DispatchOrchestrator.
func NewDispatchOrchestrator(store domain.LedgerStore, uow domain.UnitOfWork, bus domain.Bus, models domain.ModelRepository, cfg config.Config) *DispatchOrchestrator {
	return &DispatchOrchestrator{store: store, uow: uow, bus: bus, models: models, cfg: cfg}
}

// SubmitAsync dispatches req in "send" mode: debit, create the job as
// pending, write an outbox row, commit, then publish. A publish failure
// after commit is surfaced to the caller as ErrBusUnavailable, but the job
// is not rolled back — the outbox row written in the same unit of work
// will be redelivered by the OutboxPublisher.
func (d *DispatchOrchestrator) SubmitAsync(ctx domain.Context, req SubmitRequest) (string, error) {
	tracer := otel.Tracer("dispatch.submit_async")
	ctx, span := tracer.Start(ctx, "dispatch.submit_async")
	defer span.End()

	if err := validate.Struct(req); err != nil {
		return "", fmt.Errorf("op=dispatch.submit_async: %w: %v", domain.ErrValidation, err)
	}

	if existing, err := d.store.GetJobByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey); err == nil {
		return existing.ID, nil
	}

	cost, err := d.resolveCost(ctx, req.ModelID)
	if err != nil {
		return "", err
	}

	jobID := uuid.New().String()
	task := domain.TaskEnvelope{
		JobID:     jobID,
		UserID:    req.UserID,
		ModelID:   req.ModelID,
		Input:     req.Input,
		Attempt:   1,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("op=dispatch.submit_async_marshal: %w", err)
	}

	err = d.uow.Do(ctx, func(tx domain.Tx) error {
		ok, balanceAfter, err := tx.ConditionalDebit(ctx, req.UserID, cost)
		if err != nil {
			return err
		}
		if !ok {
			observability.RecordDebit("insufficient_funds")
			return fmt.Errorf("op=dispatch.submit_async user=%s: %w", req.UserID, domain.ErrInsufficientFunds)
		}
		observability.RecordDebit("ok")
		if err := tx.AppendJournal(ctx, domain.Transaction{
			ID:           ulid.Make().String(),
			UserID:       req.UserID,
			JobID:        jobID,
			Kind:         domain.TxDebit,
			Amount:       cost,
			BalanceAfter: balanceAfter,
			Status:       domain.TxApproved,
			Description:  "pending debit for dispatch",
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := tx.InsertJob(ctx, domain.InferenceJob{
			ID:             jobID,
			UserID:         req.UserID,
			IdempotencyKey: req.IdempotencyKey,
			ModelID:        req.ModelID,
			Cost:           cost,
			Status:         domain.JobPending,
			Attempt:        1,
			InputData:      req.Input,
			CreatedAt:      time.Now().UTC(),
		}); err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, domain.OutboxMessage{
			ID:         ulid.Make().String(),
			TaskID:     jobID,
			Exchange:   d.cfg.TasksExchange,
			RoutingKey: d.cfg.TasksRoutingKey,
			Payload:    payload,
			Headers:    map[string]string{"user_id": req.UserID},
		})
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	log := obslog.LoggerFromContext(ctx)
	if err := d.bus.PublishTask(ctx, task); err != nil {
		log.Warn("direct publish failed after commit, relying on outbox redelivery",
			"job_id", jobID, "error", err)
		return jobID, fmt.Errorf("op=dispatch.submit_async_publish job=%s: %w", jobID, domain.ErrBusUnavailable)
	}

	span.SetAttributes(attribute.String("job.id", jobID))
	observability.RecordDispatch("async")
	log.Info("job dispatched (async)", "job_id", jobID, "user_id", req.UserID)
	return jobID, nil
}

// SubmitRPC dispatches req in synchronous "rpc" mode: debit, create the
// job, commit, then call the bus and wait for a correlated reply. A
// successful reply is settled immediately since it never travels through
// the results queue; a timeout leaves the job pending for the sweeper.
func (d *DispatchOrchestrator) SubmitRPC(ctx domain.Context, req SubmitRequest, settlement *SettlementService, timeout time.Duration) (domain.ResultEnvelope, error) {
	tracer := otel.Tracer("dispatch.submit_rpc")
	ctx, span := tracer.Start(ctx, "dispatch.submit_rpc")
	defer span.End()

	if err := validate.Struct(req); err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("op=dispatch.submit_rpc: %w: %v", domain.ErrValidation, err)
	}

	if existing, err := d.store.GetJobByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey); err == nil {
		return domain.ResultEnvelope{
			JobID:    existing.ID,
			Status:   existing.Status,
			WorkerID: existing.WorkerID,
			Output:   existing.Prediction,
			Error:    lastError(existing.Errors),
		}, nil
	}

	cost, err := d.resolveCost(ctx, req.ModelID)
	if err != nil {
		return domain.ResultEnvelope{}, err
	}

	jobID := uuid.New().String()
	task := domain.TaskEnvelope{
		JobID:     jobID,
		UserID:    req.UserID,
		ModelID:   req.ModelID,
		Input:     req.Input,
		Attempt:   1,
		CreatedAt: time.Now().UTC(),
	}

	err = d.uow.Do(ctx, func(tx domain.Tx) error {
		ok, balanceAfter, err := tx.ConditionalDebit(ctx, req.UserID, cost)
		if err != nil {
			return err
		}
		if !ok {
			observability.RecordDebit("insufficient_funds")
			return fmt.Errorf("op=dispatch.submit_rpc user=%s: %w", req.UserID, domain.ErrInsufficientFunds)
		}
		observability.RecordDebit("ok")
		if err := tx.AppendJournal(ctx, domain.Transaction{
			ID:           ulid.Make().String(),
			UserID:       req.UserID,
			JobID:        jobID,
			Kind:         domain.TxDebit,
			Amount:       cost,
			BalanceAfter: balanceAfter,
			Status:       domain.TxApproved,
			Description:  "pending debit for dispatch",
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			return err
		}
		return tx.InsertJob(ctx, domain.InferenceJob{
			ID:             jobID,
			UserID:         req.UserID,
			IdempotencyKey: req.IdempotencyKey,
			ModelID:        req.ModelID,
			Cost:           cost,
			Status:         domain.JobPending,
			Attempt:        1,
			InputData:      req.Input,
			CreatedAt:      time.Now().UTC(),
		})
	})
	if err != nil {
		span.RecordError(err)
		return domain.ResultEnvelope{}, err
	}

	observability.RecordDispatch("rpc")
	result, err := d.bus.CallRPC(ctx, task, timeout)
	if err != nil {
		span.RecordError(err)
		return domain.ResultEnvelope{}, err
	}

	if err := settlement.Settle(ctx, result); err != nil {
		span.RecordError(err)
		return result, err
	}
	return result, nil
}

// resolveCost confirms modelID names an active catalog entry and returns the
// fixed default request cost. The catalog's own per-model Cost field is
// informational only, shown in the admin listing — every dispatch, refund,
// and journal entry is priced at the same default_request_cost so a model's
// cost can change in the catalog without altering what's already been
// debited or what a refund repays.
func (d *DispatchOrchestrator) resolveCost(ctx domain.Context, modelID string) (int64, error) {
	if d.models == nil {
		return d.cfg.DefaultRequestCost, nil
	}
	if _, err := d.models.GetActiveModel(ctx, modelID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("op=dispatch.resolve_cost model=%s: %w", modelID, domain.ErrValidation)
		}
		return 0, err
	}
	return d.cfg.DefaultRequestCost, nil
}

// lastError returns the most recent entry of a job's accumulated error
// list, or "" if it has none.
func lastError(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[len(errs)-1]
}
