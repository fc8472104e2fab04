// Package domain holds the core types, sentinel errors, and port
// interfaces of the credit-metered inference dispatch service. Nothing in
// this package imports an adapter; adapters import domain.
package domain

import (
	"context"
	"time"
)

// Context is an alias kept for parity with the port signatures used
// throughout the adapter layer.
type Context = context.Context

// Role distinguishes a regular wallet holder from an operator who can
// directly credit accounts or approve/reject pending replenishment
// transactions.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is a wallet holder. Username/email are owned by the out-of-scope
// account subsystem but the row is shared, so the columns are carried here.
type User struct {
	ID        string
	Username  string
	Email     string
	Role      Role
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionKind distinguishes ledger entry types.
type TransactionKind string

const (
	TxDebit  TransactionKind = "debit"
	TxCredit TransactionKind = "credit"
)

// TransactionStatus tracks whether a journal row has taken effect on the
// balance yet. Debits and settlement credits are always created already
// Approved, since they mutate the balance in the same unit of work as the
// insert. A user-initiated replenishment outside DEV mode is created
// Pending and carries no balance effect until an admin approves it.
type TransactionStatus string

const (
	TxPending  TransactionStatus = "pending"
	TxApproved TransactionStatus = "approved"
	TxRejected TransactionStatus = "rejected"
)

// Transaction is one append-only journal row. BalanceAfter is an optional
// snapshot populated in the same unit of work as the balance mutation; it
// is never the source of truth for the wallet balance.
type Transaction struct {
	ID           string
	UserID       string
	JobID        string // empty for direct credits/replenishments
	Kind         TransactionKind
	Amount       int64
	BalanceAfter int64
	Status       TransactionStatus
	Description  string
	CreatedAt    time.Time
}

// JobStatus is the lifecycle state of an InferenceJob.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// InferenceJob tracks one dispatched request from debit through settlement.
// WorkerID and Attempt are observability-only fields and never affect
// settlement semantics. InputData and Prediction let a caller recover a
// job's request and result after the fact, via history poll or admin
// lookup, instead of only seeing the prediction transiently in a
// synchronous RPC response.
type InferenceJob struct {
	ID             string
	UserID         string
	IdempotencyKey string
	ModelID        string
	Cost           int64
	Status         JobStatus
	WorkerID       string
	Attempt        int
	InputData      map[string]any
	Prediction     map[string]any
	Errors         []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Model is a row in the inference model catalog, loaded from the YAML seed
// file at boot. Cost is informational only; the Dispatch Orchestrator
// always uses the fixed default_request_cost.
type Model struct {
	ID          string
	Name        string
	Description string
	Cost        int64
	Active      bool
}

// TaskEnvelope is the payload published to the tasks exchange (async mode)
// or carried on an RPC request (sync mode).
type TaskEnvelope struct {
	JobID     string            `json:"job_id"`
	UserID    string            `json:"user_id"`
	ModelID   string            `json:"model_id"`
	Input     map[string]any    `json:"input"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Attempt   int               `json:"attempt"`
	CreatedAt time.Time         `json:"created_at"`
}

// ResultEnvelope is the payload a worker publishes to the results queue, or
// returns directly on an RPC reply.
type ResultEnvelope struct {
	JobID    string         `json:"job_id"`
	WorkerID string         `json:"worker_id"`
	Status   JobStatus      `json:"status"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// OutboxStatus is the lifecycle state of an outbox row.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxMessage is a durable record of an intended publish, written in the
// same unit of work as the business mutation it accompanies.
type OutboxMessage struct {
	ID           string
	TaskID       string
	Exchange     string
	RoutingKey   string
	Payload      []byte
	Headers      map[string]string
	Status       OutboxStatus
	Attempt      int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
