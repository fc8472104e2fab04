package usecase

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
	"github.com/creditdispatch/inference-broker/internal/config"
	"github.com/creditdispatch/inference-broker/internal/domain"
	obslog "github.com/creditdispatch/inference-broker/internal/observability"
)

// replenishBucket is the rate-limiter bucket name a user's requests are
// scoped under: "replenish:<user_id>" gives every user an independent
// token bucket while sharing one configured capacity/refill rate.
const replenishBucket = "replenish"

// ReplenishmentService implements replenishmentRequest: a user-initiated
// top-up that is auto-approved in DEV mode and left Pending for an admin
// otherwise. Grounded on original_source's replenishment-request flow,
// re-added here with the rate limiter consulted before any unit of work
// opens, matching how validation is checked before state changes elsewhere
// in this package.
type ReplenishmentService struct {
	uow     domain.UnitOfWork
	limiter domain.RateLimiter
	cfg     config.Config
}

// NewReplenishmentService constructs a ReplenishmentService.
func NewReplenishmentService(uow domain.UnitOfWork, limiter domain.RateLimiter, cfg config.Config) *ReplenishmentService {
	return &ReplenishmentService{uow: uow, limiter: limiter, cfg: cfg}
}

// Request validates amount against max_replenish_amount, checks the
// per-user rate limit, then either auto-approves (MODE=DEV) or inserts a
// Pending row awaiting admin action.
func (r *ReplenishmentService) Request(ctx domain.Context, userID string, amount int64) (domain.Transaction, error) {
	tracer := otel.Tracer("replenishment.request")
	ctx, span := tracer.Start(ctx, "replenishment.request")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int64("amount", amount))

	if amount <= 0 || amount > r.cfg.MaxReplenishAmount {
		return domain.Transaction{}, fmt.Errorf("op=replenishment.request user=%s: %w: amount must be in (0, %d]",
			userID, domain.ErrValidation, r.cfg.MaxReplenishAmount)
	}

	if r.limiter != nil {
		allowed, retryAfter, err := r.limiter.Allow(ctx, replenishBucket+":"+userID, 1)
		if err != nil {
			obslog.LoggerFromContext(ctx).Warn("rate limiter error, failing open", "user_id", userID, "error", err)
		} else if !allowed {
			return domain.Transaction{}, fmt.Errorf("op=replenishment.request user=%s retry_after=%s: %w",
				userID, retryAfter, domain.ErrRateLimited)
		}
	}

	txn := domain.Transaction{
		ID:          ulid.Make().String(),
		UserID:      userID,
		Kind:        domain.TxCredit,
		Amount:      amount,
		Description: "user-initiated replenishment",
		CreatedAt:   time.Now().UTC(),
	}

	err := r.uow.Do(ctx, func(tx domain.Tx) error {
		if r.cfg.AutoApprovePending() {
			balanceAfter, err := tx.Credit(ctx, userID, amount)
			if err != nil {
				return err
			}
			txn.Status = domain.TxApproved
			txn.BalanceAfter = balanceAfter
			return tx.AppendJournal(ctx, txn)
		}
		txn.Status = domain.TxPending
		return tx.InsertPendingTransaction(ctx, txn)
	})
	if err != nil {
		span.RecordError(err)
		return domain.Transaction{}, err
	}

	if txn.Status == domain.TxApproved {
		observability.RecordCredit("replenish_auto")
	}
	obslog.LoggerFromContext(ctx).Info("replenishment requested", "user_id", userID, "amount", amount, "status", txn.Status)
	return txn, nil
}
