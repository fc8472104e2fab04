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

func TestAdminService_DirectCredit(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	store := new(mocks.MockLedgerStore)
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("Credit", mock.Anything, "user-1", int64(50)).Return(int64(150), nil)
	uow.Tx.On("AppendJournal", mock.Anything, mock.MatchedBy(func(tx domain.Transaction) bool {
		return tx.UserID == "user-1" && tx.Amount == 50 && tx.Status == domain.TxApproved && tx.Kind == domain.TxCredit
	})).Return(nil)

	svc := usecase.NewAdminService(uow, store)
	err := svc.DirectCredit(context.Background(), "user-1", 50)
	require.NoError(t, err)
	uow.Tx.AssertExpectations(t)
}

func TestAdminService_DirectCredit_RejectsNonPositive(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	store := new(mocks.MockLedgerStore)

	svc := usecase.NewAdminService(uow, store)
	err := svc.DirectCredit(context.Background(), "user-1", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestAdminService_ApprovePending(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	store := new(mocks.MockLedgerStore)
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("GetTransactionForUpdate", mock.Anything, "tx-1").
		Return(domain.Transaction{ID: "tx-1", UserID: "user-1", Amount: 40, Status: domain.TxPending}, nil)
	uow.Tx.On("Credit", mock.Anything, "user-1", int64(40)).Return(int64(65), nil)
	uow.Tx.On("UpdateTransactionStatus", mock.Anything, "tx-1", domain.TxApproved).Return(nil)

	svc := usecase.NewAdminService(uow, store)
	err := svc.ApprovePending(context.Background(), "tx-1")
	require.NoError(t, err)
	uow.Tx.AssertExpectations(t)
}

func TestAdminService_ApprovePending_NotPendingIsConflict(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	store := new(mocks.MockLedgerStore)
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("GetTransactionForUpdate", mock.Anything, "tx-2").
		Return(domain.Transaction{ID: "tx-2", Status: domain.TxApproved}, nil)

	svc := usecase.NewAdminService(uow, store)
	err := svc.ApprovePending(context.Background(), "tx-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	uow.Tx.AssertExpectations(t)
}

func TestAdminService_RejectPending(t *testing.T) {
	uow := mocks.NewMockUnitOfWork()
	store := new(mocks.MockLedgerStore)
	uow.On("Do", mock.Anything).Return(nil)
	uow.Tx.On("GetTransactionForUpdate", mock.Anything, "tx-3").
		Return(domain.Transaction{ID: "tx-3", UserID: "user-1", Amount: 10, Status: domain.TxPending}, nil)
	uow.Tx.On("UpdateTransactionStatus", mock.Anything, "tx-3", domain.TxRejected).Return(nil)

	svc := usecase.NewAdminService(uow, store)
	err := svc.RejectPending(context.Background(), "tx-3")
	require.NoError(t, err)
	uow.Tx.AssertExpectations(t)
	uow.Tx.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
}
