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

func replenishCfg(mode string) config.Config {
	return config.Config{Mode: mode, MaxReplenishAmount: 1000}
}

func TestReplenishmentService_Request_RejectsOutOfRange(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	limiter := new(mocks.MockRateLimiter)

	svc := usecase.NewReplenishmentService(uow, limiter, replenishCfg("PROD"))
	_, err := svc.Request(context.Background(), "user-1", 5000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestReplenishmentService_Request_RateLimited(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	limiter := new(mocks.MockRateLimiter)
	limiter.On("Allow", mock.Anything, "replenish:user-1", int64(1)).
		Return(false, 30*time.Second, nil)

	svc := usecase.NewReplenishmentService(uow, limiter, replenishCfg("PROD"))
	_, err := svc.Request(context.Background(), "user-1", 40)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
	limiter.AssertExpectations(t)
}

func TestReplenishmentService_Request_DevModeAutoApproves(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	limiter := new(mocks.MockRateLimiter)
	limiter.On("Allow", mock.Anything, "replenish:user-1", int64(1)).Return(true, time.Duration(0), nil)
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("Credit", mock.Anything, "user-1", int64(40)).Return(int64(65), nil)
	uow.Tx.On("AppendJournal", mock.Anything, mock.MatchedBy(func(tx domain.Transaction) bool {
		return tx.Status == domain.TxApproved && tx.Amount == 40
	})).Return(nil)

	svc := usecase.NewReplenishmentService(uow, limiter, replenishCfg("DEV"))
	txn, err := svc.Request(context.Background(), "user-1", 40)
	require.NoError(t, err)
	assert.Equal(t, domain.TxApproved, txn.Status)
	uow.Tx.AssertExpectations(t)
}

func TestReplenishmentService_Request_ProdModeStaysPending(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	limiter := new(mocks.MockRateLimiter)
	limiter.On("Allow", mock.Anything, "replenish:user-1", int64(1)).Return(true, time.Duration(0), nil)
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("InsertPendingTransaction", mock.Anything, mock.MatchedBy(func(tx domain.Transaction) bool {
		return tx.Status == domain.TxPending && tx.Amount == 40
	})).Return(nil)

	svc := usecase.NewReplenishmentService(uow, limiter, replenishCfg("PROD"))
	txn, err := svc.Request(context.Background(), "user-1", 40)
	require.NoError(t, err)
	assert.Equal(t, domain.TxPending, txn.Status)
	uow.Tx.AssertExpectations(t)
	uow.Tx.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
}
