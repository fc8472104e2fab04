package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
	"github.com/creditdispatch/inference-broker/internal/domain"
	obslog "github.com/creditdispatch/inference-broker/internal/observability"
)

// AdminService implements the thin admin surface: direct credits, and
// approve/reject of pending replenishment requests, each within a single
// unit of work, plus read views over the Ledger Store. Grounded on the
// teacher's admin-facing usecase methods, which stay one unit-of-work call
// deep and push every list/detail query straight to the read store.
type AdminService struct {
	uow   domain.UnitOfWork
	store domain.LedgerStore
}

// NewAdminService constructs an AdminService.
func NewAdminService(uow domain.UnitOfWork, store domain.LedgerStore) *AdminService {
	return &AdminService{uow: uow, store: store}
}

// DirectCredit unconditionally credits userID and appends an already-
// approved replenish journal row.
func (a *AdminService) DirectCredit(ctx domain.Context, userID string, amount int64) error {
	tracer := otel.Tracer("admin.direct_credit")
	ctx, span := tracer.Start(ctx, "admin.direct_credit")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int64("amount", amount))

	if amount <= 0 {
		return fmt.Errorf("op=admin.direct_credit: %w: amount must be positive", domain.ErrValidation)
	}

	err := a.uow.Do(ctx, func(tx domain.Tx) error {
		balanceAfter, err := tx.Credit(ctx, userID, amount)
		if err != nil {
			return err
		}
		return tx.AppendJournal(ctx, domain.Transaction{
			ID:           ulid.Make().String(),
			UserID:       userID,
			Kind:         domain.TxCredit,
			Amount:       amount,
			BalanceAfter: balanceAfter,
			Status:       domain.TxApproved,
			Description:  "admin direct credit",
			CreatedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	observability.RecordCredit("admin_direct")
	obslog.LoggerFromContext(ctx).Info("direct credit applied", "user_id", userID, "amount", amount)
	return nil
}

// ApprovePending approves a pending replenishment row: unconditional
// credit of the row's amount, then the row transitions to Approved. A row
// not currently Pending returns ErrConflict rather than being reprocessed,
// so a double-click or retried request never double-credits.
func (a *AdminService) ApprovePending(ctx domain.Context, txID string) error {
	tracer := otel.Tracer("admin.approve_pending")
	ctx, span := tracer.Start(ctx, "admin.approve_pending")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", txID))

	err := a.uow.Do(ctx, func(tx domain.Tx) error {
		row, err := tx.GetTransactionForUpdate(ctx, txID)
		if err != nil {
			return err
		}
		if row.Status != domain.TxPending {
			return fmt.Errorf("op=admin.approve_pending tx=%s: %w", txID, domain.ErrConflict)
		}
		if _, err := tx.Credit(ctx, row.UserID, row.Amount); err != nil {
			return err
		}
		return tx.UpdateTransactionStatus(ctx, txID, domain.TxApproved)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	observability.RecordCredit("replenish_approved")
	obslog.LoggerFromContext(ctx).Info("pending transaction approved", "transaction_id", txID)
	return nil
}

// RejectPending transitions a pending replenishment row to Rejected
// without touching the balance. A row not currently Pending returns
// ErrConflict.
func (a *AdminService) RejectPending(ctx domain.Context, txID string) error {
	tracer := otel.Tracer("admin.reject_pending")
	ctx, span := tracer.Start(ctx, "admin.reject_pending")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", txID))

	err := a.uow.Do(ctx, func(tx domain.Tx) error {
		row, err := tx.GetTransactionForUpdate(ctx, txID)
		if err != nil {
			return err
		}
		if row.Status != domain.TxPending {
			return fmt.Errorf("op=admin.reject_pending tx=%s: %w", txID, domain.ErrConflict)
		}
		return tx.UpdateTransactionStatus(ctx, txID, domain.TxRejected)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	obslog.LoggerFromContext(ctx).Info("pending transaction rejected", "transaction_id", txID)
	return nil
}

// GetUser is a thin pass-through read view.
func (a *AdminService) GetUser(ctx domain.Context, userID string) (domain.User, error) {
	return a.store.GetUser(ctx, userID)
}

// ListUserJournal is a thin pass-through read view.
func (a *AdminService) ListUserJournal(ctx domain.Context, userID, cursor string, limit int) ([]domain.Transaction, string, error) {
	return a.store.ListJournalForUser(ctx, userID, cursor, limit)
}

// GetJob is a thin pass-through read view.
func (a *AdminService) GetJob(ctx domain.Context, jobID string) (domain.InferenceJob, error) {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil && errors.Is(err, domain.ErrNotFound) {
		return domain.InferenceJob{}, fmt.Errorf("op=admin.get_job job=%s: %w", jobID, err)
	}
	return job, err
}
