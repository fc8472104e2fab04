package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/creditdispatch/inference-broker/internal/config"
	"github.com/creditdispatch/inference-broker/internal/domain"
	"github.com/creditdispatch/inference-broker/internal/domain/mocks"
	"github.com/creditdispatch/inference-broker/internal/usecase"
)

func testCfg() config.Config {
	return config.Config{DefaultRequestCost: 5, TasksExchange: "tasks", TasksRoutingKey: "tasks.dispatch"}
}

func validReq() usecase.SubmitRequest {
	return usecase.SubmitRequest{
		UserID:         "user-1",
		ModelID:        "model-1",
		IdempotencyKey: "idem-1",
		Input:          map[string]any{"prompt": "hello"},
	}
}

func TestDispatchOrchestrator_SubmitAsync_Validation(t *testing.T) {
	store := new(mocks.MockLedgerStore)
	uow := mocks.NewMockUnitOfWork()
	bus := new(mocks.MockBus)
	models := new(mocks.MockModelRepository)

	d := usecase.NewDispatchOrchestrator(store, uow, bus, models, testCfg())
	_, err := d.SubmitAsync(context.Background(), usecase.SubmitRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestDispatchOrchestrator_SubmitAsync_IdempotentReplay(t *testing.T) {
	store := new(mocks.MockLedgerStore)
	uow := mocks.NewMockUnitOfWork()
	bus := new(mocks.MockBus)
	models := new(mocks.MockModelRepository)

	store.On("GetJobByIdempotencyKey", mock.Anything, "user-1", "idem-1").
		Return(domain.InferenceJob{ID: "job-existing"}, nil)

	d := usecase.NewDispatchOrchestrator(store, uow, bus, models, testCfg())
	jobID, err := d.SubmitAsync(context.Background(), validReq())
	require.NoError(t, err)
	assert.Equal(t, "job-existing", jobID)
	store.AssertExpectations(t)
}

func TestDispatchOrchestrator_SubmitAsync_InsufficientFunds(t *testing.T) {
	store := new(mocks.MockLedgerStore)
	uow := mocks.NewMockUnitOfWork()
	bus := new(mocks.MockBus)
	models := new(mocks.MockModelRepository)

	store.On("GetJobByIdempotencyKey", mock.Anything, "user-1", "idem-1").
		Return(domain.InferenceJob{}, domain.ErrNotFound)
	models.On("GetActiveModel", mock.Anything, "model-1").
		Return(domain.Model{ID: "model-1", Cost: 5, Active: true}, nil)
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("ConditionalDebit", mock.Anything, "user-1", int64(5)).
		Return(false, int64(0), nil)

	d := usecase.NewDispatchOrchestrator(store, uow, bus, models, testCfg())
	_, err := d.SubmitAsync(context.Background(), validReq())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))
	uow.Tx.AssertExpectations(t)
}

func TestDispatchOrchestrator_SubmitAsync_CommitsThenPublishes(t *testing.T) {
	store := new(mocks.MockLedgerStore)
	uow := mocks.NewMockUnitOfWork()
	bus := new(mocks.MockBus)
	models := new(mocks.MockModelRepository)

	store.On("GetJobByIdempotencyKey", mock.Anything, "user-1", "idem-1").
		Return(domain.InferenceJob{}, domain.ErrNotFound)
	models.On("GetActiveModel", mock.Anything, "model-1").
		Return(domain.Model{ID: "model-1", Cost: 5, Active: true}, nil)
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("ConditionalDebit", mock.Anything, "user-1", int64(5)).
		Return(true, int64(95), nil)
	uow.Tx.On("AppendJournal", mock.Anything, mock.Anything).Return(nil)
	uow.Tx.On("InsertJob", mock.Anything, mock.Anything).Return(nil)
	uow.Tx.On("EnqueueOutbox", mock.Anything, mock.Anything).Return(nil)
	bus.On("PublishTask", mock.Anything, mock.Anything).Return(nil)

	d := usecase.NewDispatchOrchestrator(store, uow, bus, models, testCfg())
	jobID, err := d.SubmitAsync(context.Background(), validReq())
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	uow.Tx.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestDispatchOrchestrator_SubmitAsync_PublishFailureStillReturnsJobID(t *testing.T) {
	store := new(mocks.MockLedgerStore)
	uow := mocks.NewMockUnitOfWork()
	bus := new(mocks.MockBus)
	models := new(mocks.MockModelRepository)

	store.On("GetJobByIdempotencyKey", mock.Anything, "user-1", "idem-1").
		Return(domain.InferenceJob{}, domain.ErrNotFound)
	models.On("GetActiveModel", mock.Anything, "model-1").
		Return(domain.Model{ID: "model-1", Cost: 5, Active: true}, nil)
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("ConditionalDebit", mock.Anything, "user-1", int64(5)).
		Return(true, int64(95), nil)
	uow.Tx.On("AppendJournal", mock.Anything, mock.Anything).Return(nil)
	uow.Tx.On("InsertJob", mock.Anything, mock.Anything).Return(nil)
	uow.Tx.On("EnqueueOutbox", mock.Anything, mock.Anything).Return(nil)
	bus.On("PublishTask", mock.Anything, mock.Anything).Return(domain.ErrBusUnavailable)

	d := usecase.NewDispatchOrchestrator(store, uow, bus, models, testCfg())
	jobID, err := d.SubmitAsync(context.Background(), validReq())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBusUnavailable))
	assert.NotEmpty(t, jobID)
}

func TestDispatchOrchestrator_SubmitRPC_SettlesOnReply(t *testing.T) {
	store := new(mocks.MockLedgerStore)
	uow := mocks.NewMockUnitOfWork()
	bus := new(mocks.MockBus)
	models := new(mocks.MockModelRepository)

	store.On("GetJobByIdempotencyKey", mock.Anything, "user-1", "idem-1").
		Return(domain.InferenceJob{}, domain.ErrNotFound)
	models.On("GetActiveModel", mock.Anything, "model-1").
		Return(domain.Model{ID: "model-1", Cost: 5, Active: true}, nil)
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("ConditionalDebit", mock.Anything, "user-1", int64(5)).
		Return(true, int64(95), nil)
	uow.Tx.On("AppendJournal", mock.Anything, mock.Anything).Return(nil)
	uow.Tx.On("InsertJob", mock.Anything, mock.Anything).Return(nil)

	bus.On("CallRPC", mock.Anything, mock.Anything, 30*time.Second).
		Return(domain.ResultEnvelope{Status: domain.JobDone, WorkerID: "worker-a"}, nil)

	settleUOW := mocks.NewMockUnitOfWork()
	settleUOW.On("Do", mock.Anything).Return(nil)
	settleUOW.Tx.On("GetJobForUpdate", mock.Anything, mock.Anything).
		Return(domain.InferenceJob{ID: "job-x", UserID: "user-1", Status: domain.JobPending}, nil)
	settleUOW.Tx.On("UpdateJobStatus", mock.Anything, "job-x", domain.JobDone, "worker-a", mock.Anything, "").Return(nil)
	settlement := usecase.NewSettlementService(settleUOW)

	d := usecase.NewDispatchOrchestrator(store, uow, bus, models, testCfg())
	result, err := d.SubmitRPC(context.Background(), validReq(), settlement, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, result.Status)
	uow.Tx.AssertExpectations(t)
	bus.AssertExpectations(t)
}
