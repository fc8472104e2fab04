package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdispatch/inference-broker/internal/adapter/repo/postgres"
	"github.com/creditdispatch/inference-broker/internal/domain"
)

func TestLedgerStore_GetUser_NotFound(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	store := postgres.NewLedgerStore(pool)

	_, err := store.GetUser(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLedgerStore_GetJob_Scan(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*dest[0].(*string) = "job-1"
		*dest[1].(*string) = "user-1"
		*dest[2].(*string) = "idem-1"
		*dest[3].(*string) = "model-1"
		*dest[4].(*int64) = 3
		*dest[5].(*domain.JobStatus) = domain.JobDone
		return nil
	}}}
	store := postgres.NewLedgerStore(pool)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, domain.JobDone, job.Status)
	assert.Equal(t, int64(3), job.Cost)
}
