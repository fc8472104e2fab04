package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/domain"
)

// pgTx implements domain.Tx over a live pgx.Tx. Every method here runs
// inside the single transaction opened by UnitOfWork.Do.
type pgTx struct {
	tx pgx.Tx
}

// ConditionalDebit applies the guarded UPDATE users SET balance = balance -
// $2 WHERE id = $1 AND balance >= $2 RETURNING balance. Whether the UPDATE
// returned a row, not a prior read, is the signal for whether the debit
// applied.
func (t *pgTx) ConditionalDebit(ctx domain.Context, userID string, amount int64) (bool, int64, error) {
	tracer := otel.Tracer("ledger.tx")
	ctx, span := tracer.Start(ctx, "tx.ConditionalDebit")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
	)

	var balanceAfter int64
	row := t.tx.QueryRow(ctx,
		`UPDATE users SET balance = balance - $2, updated_at = now()
		 WHERE id = $1 AND balance >= $2
		 RETURNING balance`, userID, amount)
	if err := row.Scan(&balanceAfter); err != nil {
		if err == pgx.ErrNoRows {
			// Either the user doesn't exist or the guard failed; callers
			// distinguish by checking GetUser separately if they need to.
			return false, 0, nil
		}
		span.RecordError(err)
		return false, 0, fmt.Errorf("op=tx.conditional_debit: %w", mapPgError(err))
	}
	return true, balanceAfter, nil
}

// Credit unconditionally increases a user's balance.
func (t *pgTx) Credit(ctx domain.Context, userID string, amount int64) (int64, error) {
	tracer := otel.Tracer("ledger.tx")
	ctx, span := tracer.Start(ctx, "tx.Credit")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
	)

	var balanceAfter int64
	row := t.tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2, updated_at = now()
		 WHERE id = $1
		 RETURNING balance`, userID, amount)
	if err := row.Scan(&balanceAfter); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("op=tx.credit: %w", mapPgError(err))
	}
	return balanceAfter, nil
}

// AppendJournal writes one transaction row. A written row's amount is never
// changed afterwards; only a pending row's status is later moved by
// UpdateTransactionStatus.
func (t *pgTx) AppendJournal(ctx domain.Context, txn domain.Transaction) error {
	tracer := otel.Tracer("ledger.tx")
	ctx, span := tracer.Start(ctx, "tx.AppendJournal")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "transactions"),
	)

	var jobID any
	if txn.JobID != "" {
		jobID = txn.JobID
	}
	status := txn.Status
	if status == "" {
		status = domain.TxApproved
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, job_id, kind, amount, balance_after, status, description, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		txn.ID, txn.UserID, jobID, txn.Kind, txn.Amount, txn.BalanceAfter, status, txn.Description, txn.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=tx.append_journal: %w", mapPgError(err))
	}
	return nil
}

// InsertPendingTransaction writes a transaction row with status Pending
// and no balance effect, used by replenishmentRequest in non-DEV mode.
func (t *pgTx) InsertPendingTransaction(ctx domain.Context, txn domain.Transaction) error {
	tracer := otel.Tracer("ledger.tx")
	ctx, span := tracer.Start(ctx, "tx.InsertPendingTransaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "transactions"),
	)

	var jobID any
	if txn.JobID != "" {
		jobID = txn.JobID
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, job_id, kind, amount, balance_after, status, description, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		txn.ID, txn.UserID, jobID, txn.Kind, txn.Amount, int64(0), domain.TxPending, txn.Description, txn.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=tx.insert_pending_transaction: %w", mapPgError(err))
	}
	return nil
}

// GetTransactionForUpdate loads a transaction row locked FOR UPDATE so
// approvePending/rejectPending can check its current status before
// mutating it.
func (t *pgTx) GetTransactionForUpdate(ctx domain.Context, txID string) (domain.Transaction, error) {
	tracer := otel.Tracer("ledger.tx")
	ctx, span := tracer.Start(ctx, "tx.GetTransactionForUpdate")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "transactions"),
	)

	var txn domain.Transaction
	var jobID *string
	row := t.tx.QueryRow(ctx,
		`SELECT id, user_id, job_id, kind, amount, balance_after, status, description, created_at
		 FROM transactions WHERE id = $1 FOR UPDATE`, txID)
	if err := row.Scan(&txn.ID, &txn.UserID, &jobID, &txn.Kind, &txn.Amount, &txn.BalanceAfter,
		&txn.Status, &txn.Description, &txn.CreatedAt); err != nil {
		span.RecordError(err)
		return domain.Transaction{}, fmt.Errorf("op=tx.get_transaction_for_update: %w", mapPgError(err))
	}
	if jobID != nil {
		txn.JobID = *jobID
	}
	return txn, nil
}

// UpdateTransactionStatus transitions a transaction row's status.
func (t *pgTx) UpdateTransactionStatus(ctx domain.Context, txID string, status domain.TransactionStatus) error {
	tracer := otel.Tracer("ledger.tx")
	ctx, span := tracer.Start(ctx, "tx.UpdateTransactionStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "transactions"),
		attribute.String("transaction.status", string(status)),
	)

	tag, err := t.tx.Exec(ctx, `UPDATE transactions SET status = $2 WHERE id = $1`, txID, status)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=tx.update_transaction_status: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=tx.update_transaction_status: %w", domain.ErrNotFound)
	}
	return nil
}

// InsertJob writes a new InferenceJob row, enforcing idempotency via the
// unique (user_id, idempotency_key) constraint.
func (t *pgTx) InsertJob(ctx domain.Context, job domain.InferenceJob) error {
	tracer := otel.Tracer("ledger.tx")
	ctx, span := tracer.Start(ctx, "tx.InsertJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs"),
	)

	inputData := jsonMapToJSON(job.InputData)
	_, err := t.tx.Exec(ctx,
		`INSERT INTO jobs (id, user_id, idempotency_key, model_id, cost, status, attempt, input_data, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`,
		job.ID, job.UserID, job.IdempotencyKey, job.ModelID, job.Cost, job.Status, job.Attempt, inputData, job.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=tx.insert_job: %w", mapPgError(err))
	}
	return nil
}

// UpdateJobStatus transitions a job's status. A non-empty prediction is
// stored as the job's result; a non-empty errMsg is appended to the job's
// running errors list rather than overwriting it, so a retried job's
// earlier failures stay visible alongside its terminal state.
func (t *pgTx) UpdateJobStatus(ctx domain.Context, jobID string, status domain.JobStatus, workerID string, prediction map[string]any, errMsg string) error {
	tracer := otel.Tracer("ledger.tx")
	ctx, span := tracer.Start(ctx, "tx.UpdateJobStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
		attribute.String("job.status", string(status)),
	)

	var workerArg any
	if workerID != "" {
		workerArg = workerID
	}
	var predictionArg any
	if len(prediction) > 0 {
		predictionArg = jsonMapToJSON(prediction)
	}
	var errArg any
	if errMsg != "" {
		errArg = errMsg
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE jobs SET status = $2, worker_id = COALESCE($3, worker_id),
		        prediction = COALESCE($4, prediction),
		        errors = CASE WHEN $5::text IS NOT NULL THEN COALESCE(errors, '[]'::jsonb) || to_jsonb($5::text) ELSE errors END,
		        updated_at = now()
		 WHERE id = $1`, jobID, status, workerArg, predictionArg, errArg)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=tx.update_job_status: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=tx.update_job_status: %w", domain.ErrNotFound)
	}
	return nil
}

// GetJobForUpdate loads a job row locked FOR UPDATE so the settlement
// engine can inspect its current status before mutating it, inside the
// same transaction that will perform the mutation.
func (t *pgTx) GetJobForUpdate(ctx domain.Context, jobID string) (domain.InferenceJob, error) {
	tracer := otel.Tracer("ledger.tx")
	ctx, span := tracer.Start(ctx, "tx.GetJobForUpdate")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)

	var job domain.InferenceJob
	var workerID *string
	var inputData, prediction, errs []byte
	row := t.tx.QueryRow(ctx,
		`SELECT id, user_id, idempotency_key, model_id, cost, status, worker_id, attempt, input_data, prediction, errors, created_at, updated_at
		 FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err := row.Scan(&job.ID, &job.UserID, &job.IdempotencyKey, &job.ModelID, &job.Cost, &job.Status,
		&workerID, &job.Attempt, &inputData, &prediction, &errs, &job.CreatedAt, &job.UpdatedAt); err != nil {
		span.RecordError(err)
		return domain.InferenceJob{}, fmt.Errorf("op=tx.get_job_for_update: %w", mapPgError(err))
	}
	if workerID != nil {
		job.WorkerID = *workerID
	}
	job.InputData = jsonMapFromJSON(inputData)
	job.Prediction = jsonMapFromJSON(prediction)
	job.Errors = stringsFromJSON(errs)
	return job, nil
}

// EnqueueOutbox writes a durable publish intent in the same transaction as
// the business mutation it accompanies.
func (t *pgTx) EnqueueOutbox(ctx domain.Context, msg domain.OutboxMessage) error {
	tracer := otel.Tracer("ledger.tx")
	ctx, span := tracer.Start(ctx, "tx.EnqueueOutbox")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "outbox"),
	)

	headers := headersToJSON(msg.Headers)
	_, err := t.tx.Exec(ctx,
		`INSERT INTO outbox (id, task_id, exchange, routing_key, payload, headers, status, attempt, next_retry_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		msg.ID, msg.TaskID, msg.Exchange, msg.RoutingKey, msg.Payload, headers, domain.OutboxPending, 0, time.Now().UTC(), time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=tx.enqueue_outbox: %w", mapPgError(err))
	}
	return nil
}
