package modelseed_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/creditdispatch/inference-broker/internal/domain"
	"github.com/creditdispatch/inference-broker/internal/service/modelseed"
)

type fakeModelRepo struct {
	mock.Mock
}

func (f *fakeModelRepo) GetActiveModel(ctx domain.Context, modelID string) (domain.Model, error) {
	args := f.Called(ctx, modelID)
	m, _ := args.Get(0).(domain.Model)
	return m, args.Error(1)
}

func (f *fakeModelRepo) ListModels(ctx domain.Context) ([]domain.Model, error) {
	args := f.Called(ctx)
	m, _ := args.Get(0).([]domain.Model)
	return m, args.Error(1)
}

func (f *fakeModelRepo) UpsertSeed(ctx domain.Context, models []domain.Model) error {
	args := f.Called(ctx, models)
	return args.Error(0)
}

func writeSeedFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFile_ParsesModels(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.True(t, filepath.IsAbs(dir))
	// LoadFile constrains to the working directory, so point it relative to
	// wd via a temp dir under it.
	sub, err := os.MkdirTemp(wd, "seedtest-*")
	require.NoError(t, err)
	defer os.RemoveAll(sub)

	path := writeSeedFile(t, sub, `
models:
  - id: m1
    name: Model One
    description: test model
    cost: 5
    active: true
`)
	rel, err := filepath.Rel(wd, path)
	require.NoError(t, err)

	models, err := modelseed.LoadFile(rel)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "m1", models[0].ID)
	assert.Equal(t, int64(5), models[0].Cost)
	assert.True(t, models[0].Active)
}

func TestLoadFile_RejectsPathOutsideWorkingDir(t *testing.T) {
	_, err := modelseed.LoadFile("/etc/passwd")
	assert.Error(t, err)
}

func TestLoadAndSeed_MissingFileIsNotAnError(t *testing.T) {
	repo := &fakeModelRepo{}
	err := modelseed.LoadAndSeed(context.Background(), "does/not/exist-xyz.yaml", repo)
	require.NoError(t, err)
	repo.AssertNotCalled(t, "UpsertSeed", mock.Anything, mock.Anything)
}

func TestLoadAndSeed_UpsertsParsedModels(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	sub, err := os.MkdirTemp(wd, "seedtest-*")
	require.NoError(t, err)
	defer os.RemoveAll(sub)

	path := writeSeedFile(t, sub, `
models:
  - id: m1
    name: Model One
    cost: 2
    active: true
`)
	rel, err := filepath.Rel(wd, path)
	require.NoError(t, err)

	repo := &fakeModelRepo{}
	repo.On("UpsertSeed", mock.Anything, mock.MatchedBy(func(models []domain.Model) bool {
		return len(models) == 1 && models[0].ID == "m1"
	})).Return(nil)

	require.NoError(t, modelseed.LoadAndSeed(context.Background(), rel, repo))
	repo.AssertExpectations(t)
}
