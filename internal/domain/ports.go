package domain

import "time"

//go:generate mockery --name UnitOfWork --output mocks --outpkg mocks --filename unit_of_work_mock.go
//go:generate mockery --name LedgerStore --output mocks --outpkg mocks --filename ledger_store_mock.go
//go:generate mockery --name Bus --output mocks --outpkg mocks --filename bus_mock.go
//go:generate mockery --name ModelRepository --output mocks --outpkg mocks --filename model_repository_mock.go
//go:generate mockery --name RateLimiter --output mocks --outpkg mocks --filename rate_limiter_mock.go

// Tx is the set of operations available inside one unit of work. All calls
// made against a Tx commit or abort together.
type Tx interface {
	// ConditionalDebit applies `balance = balance - amount` only if the
	// current balance is >= amount, in a single guarded UPDATE. ok is false
	// (with a nil error) when the guard failed; ErrInsufficientFunds is
	// left for the caller to return from its unit-of-work function, which
	// aborts the unit.
	ConditionalDebit(ctx Context, userID string, amount int64) (ok bool, balanceAfter int64, err error)
	// Credit unconditionally increases a user's balance.
	Credit(ctx Context, userID string, amount int64) (balanceAfter int64, err error)
	// AppendJournal writes one transaction row.
	AppendJournal(ctx Context, tx Transaction) error
	// InsertJob writes a new InferenceJob row.
	InsertJob(ctx Context, job InferenceJob) error
	// UpdateJobStatus transitions a job's status, optionally recording a
	// worker id, the worker's prediction (on success), and an error message
	// appended to the job's running error list (on failure).
	UpdateJobStatus(ctx Context, jobID string, status JobStatus, workerID string, prediction map[string]any, errMsg string) error
	// GetJobForUpdate loads a job row locked FOR UPDATE, so the settlement
	// engine can check its current status before mutating it.
	GetJobForUpdate(ctx Context, jobID string) (InferenceJob, error)
	// EnqueueOutbox writes a durable publish intent in the same unit of
	// work as the business mutation it accompanies.
	EnqueueOutbox(ctx Context, msg OutboxMessage) error
	// InsertPendingTransaction writes a transaction row with status
	// Pending and no balance effect, used by a non-DEV-mode replenishment
	// request awaiting admin approval.
	InsertPendingTransaction(ctx Context, tx Transaction) error
	// GetTransactionForUpdate loads a transaction row locked FOR UPDATE, so
	// approvePending/rejectPending can check its current status before
	// mutating it.
	GetTransactionForUpdate(ctx Context, txID string) (Transaction, error)
	// UpdateTransactionStatus transitions a transaction row's status.
	UpdateTransactionStatus(ctx Context, txID string, status TransactionStatus) error
}

// UnitOfWork runs fn inside one database transaction; fn's error aborts the
// transaction, a nil error commits it.
type UnitOfWork interface {
	Do(ctx Context, fn func(tx Tx) error) error
}

// LedgerStore is the read-side companion to UnitOfWork: queries that don't
// need transactional guarantees of their own.
type LedgerStore interface {
	GetUser(ctx Context, userID string) (User, error)
	GetJob(ctx Context, jobID string) (InferenceJob, error)
	GetJobByIdempotencyKey(ctx Context, userID, key string) (InferenceJob, error)
	ListJournalForUser(ctx Context, userID string, cursor string, limit int) ([]Transaction, string, error)
	ListPendingJobsOlderThan(ctx Context, cutoff time.Time, offset, limit int) ([]InferenceJob, error)
}

// ModelRepository reads the model catalog loaded from the YAML seed file.
type ModelRepository interface {
	GetActiveModel(ctx Context, modelID string) (Model, error)
	ListModels(ctx Context) ([]Model, error)
}

// Bus is the message bus port: publish to the tasks exchange, perform a
// synchronous RPC call, and consume from the results queue.
type Bus interface {
	// PublishTask publishes a TaskEnvelope to the tasks exchange (async
	// "send" mode). Returns ErrBusUnavailable if the publish could not be
	// confirmed after retrying.
	PublishTask(ctx Context, task TaskEnvelope) error
	// CallRPC publishes a TaskEnvelope to the rpc exchange and waits for a
	// correlated reply on the private reply queue, or ErrTimeout.
	CallRPC(ctx Context, task TaskEnvelope, timeout time.Duration) (ResultEnvelope, error)
	// ConsumeResults starts a long-lived consumer on the results queue,
	// invoking handle for every delivery until ctx is cancelled.
	ConsumeResults(ctx Context, handle func(Context, ResultEnvelope) error) error
	// PublishRaw publishes an already-serialized outbox row's payload to a
	// specific exchange/routing key, used by the OutboxPublisher. messageID
	// is set as the AMQP message id so a redelivered outbox row carries the
	// same stable id as the original publish attempt.
	PublishRaw(ctx Context, exchange, routingKey, messageID string, payload []byte, headers map[string]string) error
	// Ping reports whether the broker connection is reachable.
	Ping(ctx Context) error
}

// OutboxRepository is the claim-and-update surface the OutboxPublisher uses
// outside of the unit of work that created the rows.
type OutboxRepository interface {
	ClaimBatch(ctx Context, limit int) ([]OutboxMessage, error)
	MarkPublished(ctx Context, id string) error
	MarkFailed(ctx Context, id string, nextRetryAt time.Time) error
}

// RateLimiter gates an action keyed by an arbitrary string (here, a user
// id) against a token-bucket budget.
type RateLimiter interface {
	Allow(ctx Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}
