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
)

func TestNewOutboxPublisher_NilDepsReturnsNil(t *testing.T) {
	require.Nil(t, app.NewOutboxPublisher(nil, nil, time.Second, 10))
	repo := new(mocks.MockOutboxRepository)
	require.Nil(t, app.NewOutboxPublisher(repo, nil, time.Second, 10))
}

func TestOutboxPublisher_PublishesAndMarksPublished(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	bus := new(mocks.MockBus)

	msg := domain.OutboxMessage{ID: "out-1", TaskID: "job-1", Exchange: "tasks", RoutingKey: "task.dispatch", Payload: []byte(`{}`)}
	repo.On("ClaimBatch", mock.Anything, 10).Return([]domain.OutboxMessage{msg}, nil).Once()
	repo.On("ClaimBatch", mock.Anything, 10).Return([]domain.OutboxMessage{}, nil).Maybe()
	bus.On("PublishRaw", mock.Anything, "tasks", "task.dispatch", msg.TaskID, msg.Payload, msg.Headers).Return(nil)
	repo.On("MarkPublished", mock.Anything, "out-1").Return(nil)

	pub := app.NewOutboxPublisher(repo, bus, 10*time.Millisecond, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	pub.Run(ctx)

	bus.AssertCalled(t, "PublishRaw", mock.Anything, "tasks", "task.dispatch", msg.TaskID, msg.Payload, msg.Headers)
	repo.AssertCalled(t, "MarkPublished", mock.Anything, "out-1")
}

func TestOutboxPublisher_PublishFailureReschedules(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	bus := new(mocks.MockBus)

	msg := domain.OutboxMessage{ID: "out-2", TaskID: "job-2", Exchange: "tasks", RoutingKey: "task.dispatch", Payload: []byte(`{}`)}
	repo.On("ClaimBatch", mock.Anything, 10).Return([]domain.OutboxMessage{msg}, nil).Once()
	repo.On("ClaimBatch", mock.Anything, 10).Return([]domain.OutboxMessage{}, nil).Maybe()
	bus.On("PublishRaw", mock.Anything, "tasks", "task.dispatch", msg.TaskID, msg.Payload, msg.Headers).Return(domain.ErrBusUnavailable)
	repo.On("MarkFailed", mock.Anything, "out-2", mock.Anything).Return(nil)

	pub := app.NewOutboxPublisher(repo, bus, 10*time.Millisecond, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	pub.Run(ctx)

	repo.AssertCalled(t, "MarkFailed", mock.Anything, "out-2", mock.Anything)
	repo.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything)
}
