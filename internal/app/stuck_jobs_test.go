package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/creditdispatch/inference-broker/internal/app"
	"github.com/creditdispatch/inference-broker/internal/domain"
	"github.com/creditdispatch/inference-broker/internal/domain/mocks"
	"github.com/creditdispatch/inference-broker/internal/usecase"
)

func TestNewPendingJobSweeper_NilStoreReturnsNil(t *testing.T) {
	s := app.NewPendingJobSweeper(nil, nil, time.Minute, time.Minute)
	require.Nil(t, s)
	s.Run(context.Background()) // must not panic
}

func TestPendingJobSweeper_SweepSettlesStaleJobs(t *testing.T) {
	store := new(mocks.MockLedgerStore)
	uow := mocks.NewMockUnitOfWork()

	store.On("ListPendingJobsOlderThan", mock.Anything, mock.Anything, 0, 100).
		Return([]domain.InferenceJob{{ID: "job-1", UserID: "user-1", Cost: 5, Status: domain.JobPending}}, nil).Once()
	store.On("ListPendingJobsOlderThan", mock.Anything, mock.Anything, 100, 100).
		Return([]domain.InferenceJob{}, nil).Once()

	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("GetJobForUpdate", mock.Anything, "job-1").
		Return(domain.InferenceJob{ID: "job-1", UserID: "user-1", Cost: 5, Status: domain.JobPending}, nil)
	uow.Tx.On("UpdateJobStatus", mock.Anything, "job-1", domain.JobFailed, "", mock.Anything, mock.Anything).Return(nil)
	uow.Tx.On("Credit", mock.Anything, "user-1", int64(5)).Return(int64(10), nil)
	uow.Tx.On("AppendJournal", mock.Anything, mock.Anything).Return(nil)

	settlement := usecase.NewSettlementService(uow)
	sweeper := app.NewPendingJobSweeper(store, settlement, time.Minute, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sweeper.Run(ctx)

	store.AssertExpectations(t)
	uow.Tx.AssertExpectations(t)
}
