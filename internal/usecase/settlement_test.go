package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/creditdispatch/inference-broker/internal/domain"
	"github.com/creditdispatch/inference-broker/internal/domain/mocks"
	"github.com/creditdispatch/inference-broker/internal/usecase"
)

func TestSettlementService_Settle_Done(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("GetJobForUpdate", mock.Anything, "job-1").
		Return(domain.InferenceJob{ID: "job-1", UserID: "user-1", Cost: 2, Status: domain.JobPending}, nil)
	uow.Tx.On("UpdateJobStatus", mock.Anything, "job-1", domain.JobDone, "worker-a", mock.Anything, "").Return(nil)

	svc := usecase.NewSettlementService(uow)
	err := svc.Settle(context.Background(), domain.ResultEnvelope{JobID: "job-1", WorkerID: "worker-a", Status: domain.JobDone})
	require.NoError(t, err)
	uow.Tx.AssertExpectations(t)
}

func TestSettlementService_Settle_FailedRefunds(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("GetJobForUpdate", mock.Anything, "job-2").
		Return(domain.InferenceJob{ID: "job-2", UserID: "user-1", Cost: 3, Status: domain.JobPending}, nil)
	uow.Tx.On("UpdateJobStatus", mock.Anything, "job-2", domain.JobFailed, "worker-a", mock.Anything, "model blew up").Return(nil)
	uow.Tx.On("Credit", mock.Anything, "user-1", int64(3)).Return(int64(10), nil)
	uow.Tx.On("AppendJournal", mock.Anything, mock.MatchedBy(func(tx domain.Transaction) bool {
		return tx.UserID == "user-1" && tx.JobID == "job-2" && tx.Kind == domain.TxCredit && tx.Amount == 3
	})).Return(nil)

	svc := usecase.NewSettlementService(uow)
	err := svc.Settle(context.Background(), domain.ResultEnvelope{JobID: "job-2", WorkerID: "worker-a", Status: domain.JobFailed, Error: "model blew up"})
	require.NoError(t, err)
	uow.Tx.AssertExpectations(t)
}

func TestSettlementService_Settle_AlreadySettled(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("GetJobForUpdate", mock.Anything, "job-3").
		Return(domain.InferenceJob{ID: "job-3", UserID: "user-1", Cost: 1, Status: domain.JobDone}, nil)

	svc := usecase.NewSettlementService(uow)
	err := svc.Settle(context.Background(), domain.ResultEnvelope{JobID: "job-3", Status: domain.JobDone})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadySettled))
	uow.Tx.AssertExpectations(t)
}

func TestSettlementService_Settle_NotFound(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("GetJobForUpdate", mock.Anything, "job-missing").
		Return(domain.InferenceJob{}, domain.ErrNotFound)

	svc := usecase.NewSettlementService(uow)
	err := svc.Settle(context.Background(), domain.ResultEnvelope{JobID: "job-missing", Status: domain.JobDone})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
