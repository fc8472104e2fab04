// Package mocks contains hand-written testify mocks for the domain ports.
// The shape matches what `mockery --with-expecter` would generate for
// these interfaces; they are hand-authored here only because code
// generation isn't run as part of this exercise.
package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/creditdispatch/inference-broker/internal/domain"
)

// MockTx implements domain.Tx.
type MockTx struct{ mock.Mock }

func (m *MockTx) ConditionalDebit(ctx domain.Context, userID string, amount int64) (bool, int64, error) {
	args := m.Called(ctx, userID, amount)
	return args.Bool(0), args.Get(1).(int64), args.Error(2)
}

func (m *MockTx) Credit(ctx domain.Context, userID string, amount int64) (int64, error) {
	args := m.Called(ctx, userID, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) AppendJournal(ctx domain.Context, tx domain.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockTx) InsertJob(ctx domain.Context, job domain.InferenceJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockTx) UpdateJobStatus(ctx domain.Context, jobID string, status domain.JobStatus, workerID string, prediction map[string]any, errMsg string) error {
	return m.Called(ctx, jobID, status, workerID, prediction, errMsg).Error(0)
}

func (m *MockTx) GetJobForUpdate(ctx domain.Context, jobID string) (domain.InferenceJob, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(domain.InferenceJob)
	return job, args.Error(1)
}

func (m *MockTx) EnqueueOutbox(ctx domain.Context, msg domain.OutboxMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockTx) InsertPendingTransaction(ctx domain.Context, tx domain.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockTx) GetTransactionForUpdate(ctx domain.Context, txID string) (domain.Transaction, error) {
	args := m.Called(ctx, txID)
	tx, _ := args.Get(0).(domain.Transaction)
	return tx, args.Error(1)
}

func (m *MockTx) UpdateTransactionStatus(ctx domain.Context, txID string, status domain.TransactionStatus) error {
	return m.Called(ctx, txID, status).Error(0)
}

// MockUnitOfWork implements domain.UnitOfWork. Do invokes fn against a
// caller-supplied MockTx registered as the "tx" argument.
type MockUnitOfWork struct {
	mock.Mock
	Tx *MockTx
}

func NewMockUnitOfWork() *MockUnitOfWork {
	return &MockUnitOfWork{Tx: &MockTx{}}
}

func (m *MockUnitOfWork) Do(ctx domain.Context, fn func(domain.Tx) error) error {
	m.Called(ctx)
	return fn(m.Tx)
}

// MockLedgerStore implements domain.LedgerStore.
type MockLedgerStore struct{ mock.Mock }

func (m *MockLedgerStore) GetUser(ctx domain.Context, userID string) (domain.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(domain.User)
	return u, args.Error(1)
}

func (m *MockLedgerStore) GetJob(ctx domain.Context, jobID string) (domain.InferenceJob, error) {
	args := m.Called(ctx, jobID)
	j, _ := args.Get(0).(domain.InferenceJob)
	return j, args.Error(1)
}

func (m *MockLedgerStore) GetJobByIdempotencyKey(ctx domain.Context, userID, key string) (domain.InferenceJob, error) {
	args := m.Called(ctx, userID, key)
	j, _ := args.Get(0).(domain.InferenceJob)
	return j, args.Error(1)
}

func (m *MockLedgerStore) ListJournalForUser(ctx domain.Context, userID, cursor string, limit int) ([]domain.Transaction, string, error) {
	args := m.Called(ctx, userID, cursor, limit)
	txs, _ := args.Get(0).([]domain.Transaction)
	return txs, args.String(1), args.Error(2)
}

func (m *MockLedgerStore) ListPendingJobsOlderThan(ctx domain.Context, cutoff time.Time, offset, limit int) ([]domain.InferenceJob, error) {
	args := m.Called(ctx, cutoff, offset, limit)
	jobs, _ := args.Get(0).([]domain.InferenceJob)
	return jobs, args.Error(1)
}

// MockModelRepository implements domain.ModelRepository.
type MockModelRepository struct{ mock.Mock }

func (m *MockModelRepository) GetActiveModel(ctx domain.Context, modelID string) (domain.Model, error) {
	args := m.Called(ctx, modelID)
	mo, _ := args.Get(0).(domain.Model)
	return mo, args.Error(1)
}

func (m *MockModelRepository) ListModels(ctx domain.Context) ([]domain.Model, error) {
	args := m.Called(ctx)
	models, _ := args.Get(0).([]domain.Model)
	return models, args.Error(1)
}

// MockBus implements domain.Bus.
type MockBus struct{ mock.Mock }

func (m *MockBus) PublishTask(ctx domain.Context, task domain.TaskEnvelope) error {
	return m.Called(ctx, task).Error(0)
}

func (m *MockBus) CallRPC(ctx domain.Context, task domain.TaskEnvelope, timeout time.Duration) (domain.ResultEnvelope, error) {
	args := m.Called(ctx, task, timeout)
	r, _ := args.Get(0).(domain.ResultEnvelope)
	return r, args.Error(1)
}

func (m *MockBus) ConsumeResults(ctx domain.Context, handle func(domain.Context, domain.ResultEnvelope) error) error {
	return m.Called(ctx, handle).Error(0)
}

func (m *MockBus) PublishRaw(ctx domain.Context, exchange, routingKey, messageID string, payload []byte, headers map[string]string) error {
	return m.Called(ctx, exchange, routingKey, messageID, payload, headers).Error(0)
}

func (m *MockBus) Ping(ctx domain.Context) error {
	return m.Called(ctx).Error(0)
}

// MockOutboxRepository implements domain.OutboxRepository.
type MockOutboxRepository struct{ mock.Mock }

func (m *MockOutboxRepository) ClaimBatch(ctx domain.Context, limit int) ([]domain.OutboxMessage, error) {
	args := m.Called(ctx, limit)
	msgs, _ := args.Get(0).([]domain.OutboxMessage)
	return msgs, args.Error(1)
}

func (m *MockOutboxRepository) MarkPublished(ctx domain.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx domain.Context, id string, nextRetryAt time.Time) error {
	return m.Called(ctx, id, nextRetryAt).Error(0)
}

// MockRateLimiter implements domain.RateLimiter.
type MockRateLimiter struct{ mock.Mock }

func (m *MockRateLimiter) Allow(ctx domain.Context, key string, cost int64) (bool, time.Duration, error) {
	args := m.Called(ctx, key, cost)
	return args.Bool(0), args.Get(1).(time.Duration), args.Error(2)
}
