package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/domain"
)

// LedgerStore implements domain.LedgerStore: read-only queries that don't
// need their own transaction.
type LedgerStore struct{ Pool PgxPool }

// NewLedgerStore constructs a LedgerStore over the given pool.
func NewLedgerStore(p PgxPool) *LedgerStore { return &LedgerStore{Pool: p} }

func (s *LedgerStore) GetUser(ctx domain.Context, userID string) (domain.User, error) {
	tracer := otel.Tracer("repo.ledger_store")
	ctx, span := tracer.Start(ctx, "ledger_store.GetUser")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	)

	var u domain.User
	row := s.Pool.QueryRow(ctx,
		`SELECT id, username, email, role, balance, created_at, updated_at FROM users WHERE id = $1`, userID)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("op=ledger_store.get_user: %w", mapPgError(err))
	}
	return u, nil
}

func (s *LedgerStore) GetJob(ctx domain.Context, jobID string) (domain.InferenceJob, error) {
	tracer := otel.Tracer("repo.ledger_store")
	ctx, span := tracer.Start(ctx, "ledger_store.GetJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)

	return scanJob(s.Pool.QueryRow(ctx,
		`SELECT id, user_id, idempotency_key, model_id, cost, status, worker_id, attempt, input_data, prediction, errors, created_at, updated_at
		 FROM jobs WHERE id = $1`, jobID))
}

func (s *LedgerStore) GetJobByIdempotencyKey(ctx domain.Context, userID, key string) (domain.InferenceJob, error) {
	tracer := otel.Tracer("repo.ledger_store")
	ctx, span := tracer.Start(ctx, "ledger_store.GetJobByIdempotencyKey")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)

	return scanJob(s.Pool.QueryRow(ctx,
		`SELECT id, user_id, idempotency_key, model_id, cost, status, worker_id, attempt, input_data, prediction, errors, created_at, updated_at
		 FROM jobs WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
}

func (s *LedgerStore) ListJournalForUser(ctx domain.Context, userID, cursor string, limit int) ([]domain.Transaction, string, error) {
	tracer := otel.Tracer("repo.ledger_store")
	ctx, span := tracer.Start(ctx, "ledger_store.ListJournalForUser")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "transactions"),
	)

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	// Cursor is a ULID; rows are paginated by id, which is monotonic and
	// sortable, so no secondary ORDER BY timestamp is needed.
	var rows pgx.Rows
	var err error
	if cursor == "" {
		r, qerr := s.Pool.Query(ctx,
			`SELECT id, user_id, job_id, kind, amount, balance_after, status, description, created_at
			 FROM transactions WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, limit+1)
		rows, err = r, qerr
	} else {
		r, qerr := s.Pool.Query(ctx,
			`SELECT id, user_id, job_id, kind, amount, balance_after, status, description, created_at
			 FROM transactions WHERE user_id = $1 AND id < $2 ORDER BY id DESC LIMIT $3`, userID, cursor, limit+1)
		rows, err = r, qerr
	}
	if err != nil {
		span.RecordError(err)
		return nil, "", fmt.Errorf("op=ledger_store.list_journal: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var jobID *string
		if err := rows.Scan(&t.ID, &t.UserID, &jobID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.Status, &t.Description, &t.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("op=ledger_store.list_journal_scan: %w", mapPgError(err))
		}
		if jobID != nil {
			t.JobID = *jobID
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("op=ledger_store.list_journal_rows: %w", mapPgError(err))
	}

	nextCursor := ""
	if len(out) > limit {
		nextCursor = out[limit-1].ID
		out = out[:limit]
	}
	return out, nextCursor, nil
}

func (s *LedgerStore) ListPendingJobsOlderThan(ctx domain.Context, cutoff time.Time, offset, limit int) ([]domain.InferenceJob, error) {
	tracer := otel.Tracer("repo.ledger_store")
	ctx, span := tracer.Start(ctx, "ledger_store.ListPendingJobsOlderThan")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
		attribute.Int("jobs.offset", offset),
		attribute.Int("jobs.limit", limit),
	)

	rows, err := s.Pool.Query(ctx,
		`SELECT id, user_id, idempotency_key, model_id, cost, status, worker_id, attempt, input_data, prediction, errors, created_at, updated_at
		 FROM jobs WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC OFFSET $3 LIMIT $4`,
		domain.JobPending, cutoff, offset, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("op=ledger_store.list_pending: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []domain.InferenceJob
	for rows.Next() {
		var j domain.InferenceJob
		var workerID *string
		var inputData, prediction, errs []byte
		if err := rows.Scan(&j.ID, &j.UserID, &j.IdempotencyKey, &j.ModelID, &j.Cost, &j.Status,
			&workerID, &j.Attempt, &inputData, &prediction, &errs, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=ledger_store.list_pending_scan: %w", mapPgError(err))
		}
		if workerID != nil {
			j.WorkerID = *workerID
		}
		j.InputData = jsonMapFromJSON(inputData)
		j.Prediction = jsonMapFromJSON(prediction)
		j.Errors = stringsFromJSON(errs)
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.InferenceJob, error) {
	var j domain.InferenceJob
	var workerID *string
	var inputData, prediction, errs []byte
	if err := row.Scan(&j.ID, &j.UserID, &j.IdempotencyKey, &j.ModelID, &j.Cost, &j.Status,
		&workerID, &j.Attempt, &inputData, &prediction, &errs, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.InferenceJob{}, fmt.Errorf("op=ledger_store.scan_job: %w", mapPgError(err))
	}
	if workerID != nil {
		j.WorkerID = *workerID
	}
	j.InputData = jsonMapFromJSON(inputData)
	j.Prediction = jsonMapFromJSON(prediction)
	j.Errors = stringsFromJSON(errs)
	return j, nil
}
