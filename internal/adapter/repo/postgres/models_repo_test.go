package postgres_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdispatch/inference-broker/internal/adapter/repo/postgres"
	"github.com/creditdispatch/inference-broker/internal/domain"
)

func TestModelRepo_GetActiveModel_NotFound(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewModelRepo(pool)

	_, err := repo.GetActiveModel(context.Background(), "gpt-nope")
	require.Error(t, err)
}

func TestModelRepo_GetActiveModel_Found(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*dest[0].(*string) = "gpt-mini"
		*dest[1].(*string) = "GPT Mini"
		*dest[2].(*string) = "cheap default model"
		*dest[3].(*int64) = 1
		*dest[4].(*bool) = true
		return nil
	}}}
	repo := postgres.NewModelRepo(pool)

	m, err := repo.GetActiveModel(context.Background(), "gpt-mini")
	require.NoError(t, err)
	assert.Equal(t, domain.Model{ID: "gpt-mini", Name: "GPT Mini", Description: "cheap default model", Cost: 1, Active: true}, m)
}
