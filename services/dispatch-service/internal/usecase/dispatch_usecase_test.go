package usecase

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ErrandDispatchPlatform/pkg/config"
	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/pkg/mocks"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/metrics"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository/memory"
	"ErrandDispatchPlatform/services/dispatch-service/internal/service"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TaskEvent
	err    error
}

func (p *recordingPublisher) PublishTaskEvent(_ context.Context, event domain.TaskEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type fixture struct {
	uc        *DispatchUseCase
	store     *memory.Store
	publisher *recordingPublisher
	limiter   *mocks.MockRateLimiter
}

func setup(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	log := logger.NewNop()

	store := memory.NewStore()
	store.PutProfile(domain.WorkerProfile{WorkerID: "worker", SubscriptionStatus: domain.SubscriptionActive})

	tasks := service.NewTaskService(store, store.Applications(), service.NewApplicationPolicy(cfg.Dispatch), log)
	locations := service.NewLocationService(memory.NewLocationStore(), store, cfg.Dispatch, log)

	reg := prometheus.NewRegistry()
	publisher := &recordingPublisher{}
	limiter := &mocks.MockRateLimiter{}

	uc := NewDispatchUseCase(tasks, locations, publisher, limiter, metrics.NewDispatchMetrics("dispatch", reg, reg), cfg, log)
	return &fixture{uc: uc, store: store, publisher: publisher, limiter: limiter}
}

func (f *fixture) createTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := f.uc.CreateTask(context.Background(), "requester", service.CreateTaskInput{
		Title:         "Отвезти документы",
		BasePrice:     8000,
		DistancePrice: 2000,
	})
	require.NoError(t, err)
	return task
}

func TestDispatchUseCase_TransitionPublishesEvent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	task := f.createTask(t)

	updated, err := f.uc.RequestTransition(ctx, "worker", task.ID, "MATCHED", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusMatched, updated.Status)

	require.Len(t, f.publisher.events, 1)
	event := f.publisher.events[0]
	assert.Equal(t, "task.matched", event.RoutingKey())
	assert.Equal(t, domain.TaskStatusOpen, event.From)
	assert.Equal(t, "requester", event.RequesterID)
	require.NotNil(t, event.WorkerID)
	assert.Equal(t, "worker", *event.WorkerID)
}

func TestDispatchUseCase_PublishFailureDoesNotSurface(t *testing.T) {
	f := setup(t)
	f.publisher.err = stderrors.New("broker down")
	task := f.createTask(t)

	_, err := f.uc.RequestTransition(context.Background(), "requester", task.ID, "CANCELLED", nil)
	require.NoError(t, err)

	stored, err := f.uc.GetTask(context.Background(), "requester", task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, stored.Status)
}

func TestDispatchUseCase_RejectedTransitionPublishesNothing(t *testing.T) {
	f := setup(t)
	task := f.createTask(t)

	_, err := f.uc.RequestTransition(context.Background(), "worker", task.ID, "COMPLETED", nil)
	assert.Equal(t, errors.ErrInvalidTransition, errors.CodeOf(err))

	_, err = f.uc.RequestTransition(context.Background(), "worker", task.ID, "done", nil)
	assert.Equal(t, errors.ErrValidation, errors.CodeOf(err))

	assert.Empty(t, f.publisher.events)
}

func TestDispatchUseCase_RequiresActor(t *testing.T) {
	f := setup(t)

	_, err := f.uc.GetTask(context.Background(), "", "any")
	assert.Equal(t, errors.ErrUnauthorized, errors.CodeOf(err))

	err = f.uc.SetWorkerOffline(context.Background(), "")
	assert.Equal(t, errors.ErrUnauthorized, errors.CodeOf(err))
}

func TestDispatchUseCase_AcceptApplicationPublishesMatched(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	task := f.createTask(t)

	app, err := f.uc.ApplyToTask(ctx, "worker", task.ID, service.ApplyInput{})
	require.NoError(t, err)

	res, err := f.uc.AcceptApplication(ctx, "requester", task.ID, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusMatched, res.Task.Status)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "task.matched", f.publisher.events[0].RoutingKey())
	assert.Equal(t, "requester", f.publisher.events[0].ActorID)
}

func TestDispatchUseCase_PositionRateLimit(t *testing.T) {
	ctx := context.Background()
	online := true

	t.Run("allowed", func(t *testing.T) {
		f := setup(t)
		f.limiter.On("Allow", mock.Anything, "position:worker", 30, time.Minute).Return(true, nil)

		ack, err := f.uc.ReportWorkerPosition(ctx, "worker", service.PositionInput{Lat: 55.75, Lng: 37.61, SetOnline: &online})
		require.NoError(t, err)
		assert.True(t, ack.IsOnline)

		require.NoError(t, f.uc.SetWorkerOffline(ctx, "worker"))
		loc, err := f.uc.GetWorkerPosition(ctx, "worker")
		require.NoError(t, err)
		assert.False(t, loc.IsOnline)
	})

	t.Run("limited", func(t *testing.T) {
		f := setup(t)
		f.limiter.On("Allow", mock.Anything, "position:worker", 30, time.Minute).Return(false, nil)

		_, err := f.uc.ReportWorkerPosition(ctx, "worker", service.PositionInput{Lat: 55.75, Lng: 37.61})
		assert.Equal(t, errors.ErrTooManyRequests, errors.CodeOf(err))
	})

	t.Run("limiter unavailable", func(t *testing.T) {
		f := setup(t)
		f.limiter.On("Allow", mock.Anything, "position:worker", 30, time.Minute).Return(false, stderrors.New("redis down"))

		_, err := f.uc.ReportWorkerPosition(ctx, "worker", service.PositionInput{Lat: 55.75, Lng: 37.61})
		assert.NoError(t, err)
	})
}

func TestDispatchUseCase_CountNearbyWorkers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	online := true
	f.limiter.On("Allow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	_, err := f.uc.ReportWorkerPosition(ctx, "worker", service.PositionInput{Lat: 55.75, Lng: 37.61, SetOnline: &online})
	require.NoError(t, err)

	n, err := f.uc.CountNearbyWorkers(ctx, "requester", service.NearbyInput{Lat: 55.751, Lng: 37.61})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
