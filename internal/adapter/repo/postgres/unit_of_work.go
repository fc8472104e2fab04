// Package postgres provides PostgreSQL database adapters.
//
// It implements the domain's LedgerStore/UnitOfWork/ModelRepository/
// OutboxRepository ports with pooled, traced Postgres access.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/domain"
)

// PgxPool is the subset of *pgxpool.Pool used by the repos in this package,
// narrow enough that a *pgx.Conn or a test double can stand in for it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// UnitOfWork wraps a *pgxpool.Pool and runs caller closures inside a single
// pgx.Tx, read-committed, mirroring jobs_repo.go's UpdateStatus transaction
// pattern generalized from one table to the whole wallet+journal+job
// mutation.
type UnitOfWork struct {
	Pool *pgxpool.Pool
}

// NewUnitOfWork constructs a UnitOfWork over the given pool.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork { return &UnitOfWork{Pool: pool} }

// Do opens a pgx.Tx, read-committed, runs fn against it, and commits iff fn
// returns nil. A deferred rollback runs whenever the commit was not
// reached, so an error from fn, a failed commit, or a panic in fn all leave
// the transaction rolled back; a panic is not recovered.
func (u *UnitOfWork) Do(ctx domain.Context, fn func(domain.Tx) error) (err error) {
	tracer := otel.Tracer("ledger.unit_of_work")
	ctx, span := tracer.Start(ctx, "UnitOfWork.Do")
	defer span.End()

	tx, err := u.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=ledger.begin_tx: %w", mapPgError(err))
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				span.RecordError(rbErr)
			}
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=ledger.commit: %w", mapPgError(err))
	}
	committed = true
	span.SetAttributes(attribute.Bool("tx.committed", true))
	return nil
}

// mapPgError maps driver-level errors to domain sentinels. pgx.ErrNoRows
// becomes ErrNotFound, a unique_violation (23505) becomes ErrConflict,
// anything else is wrapped as ErrStorage.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrStorage, err)
}
