package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/creditdispatch/inference-broker/internal/domain"
)

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{domain.ErrInsufficientFunds, "insufficient_funds"},
		{domain.ErrNotFound, "not_found"},
		{domain.ErrConflict, "conflict"},
		{domain.ErrAlreadySettled, "already_settled"},
		{domain.ErrBusUnavailable, "bus_unavailable"},
		{domain.ErrTimeout, "timeout"},
		{domain.ErrValidation, "validation"},
		{domain.ErrRateLimited, "rate_limited"},
		{domain.ErrStorage, "storage"},
		{errors.New("boom"), "internal"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, domain.ErrorCode(c.err))
	}
}

func TestErrorCode_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("op=users.debit: %w", domain.ErrInsufficientFunds)
	assert.Equal(t, "insufficient_funds", domain.ErrorCode(wrapped))
	assert.True(t, errors.Is(wrapped, domain.ErrInsufficientFunds))
}
