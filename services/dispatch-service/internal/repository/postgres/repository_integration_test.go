//go:build integration

package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"ErrandDispatchPlatform/pkg/database"
	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/migrations"
)

func setupTestDB(t *testing.T) *database.Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("errands"),
		tcpostgres.WithUsername("errands"),
		tcpostgres.WithPassword("errands"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := database.NewConfig()
	cfg.DSN = dsn
	db, err := database.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx, migrations.FS, "."))
	return db
}

func newOpenTask(requester string) *domain.Task {
	now := time.Now().UTC().Truncate(time.Microsecond)
	task := &domain.Task{
		ID:            uuid.NewString(),
		RequesterID:   requester,
		Status:        domain.TaskStatusOpen,
		Title:         "Забрать посылку",
		BasePrice:     8000,
		DistancePrice: 2000,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	task.ComputeTotal()
	return task
}

func TestTaskRepository_CreateAndCAS(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaskRepository(db.Pool)
	ctx := context.Background()

	task := newOpenTask("req-1")
	require.NoError(t, repo.Create(ctx, task))
	assert.Equal(t, int64(1), task.Version)

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.TotalPrice)
	assert.Nil(t, got.WorkerID)

	worker := "worker-1"
	got.WorkerID = &worker
	got.Status = domain.TaskStatusMatched
	updated, err := repo.CompareAndSwap(ctx, got, domain.TaskStatusOpen, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, domain.TaskStatusMatched, updated.Status)

	_, err = repo.CompareAndSwap(ctx, got, domain.TaskStatusOpen, 1)
	assert.Equal(t, errors.ErrConflict, errors.CodeOf(err))

	_, err = repo.GetByID(ctx, "missing")
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))

	missing := newOpenTask("req-1")
	_, err = repo.CompareAndSwap(ctx, missing, domain.TaskStatusOpen, 1)
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))
}

func TestTaskRepository_RejectsInconsistentTotal(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaskRepository(db.Pool)
	ctx := context.Background()

	task := newOpenTask("req-1")
	task.TotalPrice = -1
	require.Error(t, repo.Create(ctx, task))

	task = newOpenTask("req-1")
	require.NoError(t, repo.Create(ctx, task))
	broken := task.Clone()
	broken.Tip = 500
	_, err := repo.CompareAndSwap(ctx, broken, domain.TaskStatusOpen, task.Version)
	require.Error(t, err)

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.TotalPrice)
}

func TestTaskRepository_ConcurrentCASSingleWinner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaskRepository(db.Pool)
	ctx := context.Background()

	task := newOpenTask("req-1")
	require.NoError(t, repo.Create(ctx, task))

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidate := task.Clone()
			worker := uuid.NewString()
			candidate.WorkerID = &worker
			candidate.Status = domain.TaskStatusMatched
			_, err := repo.CompareAndSwap(ctx, candidate, domain.TaskStatusOpen, 1)
			if err == nil {
				wins.Add(1)
			} else if errors.CodeOf(err) == errors.ErrConflict {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), conflicts.Load())
}

func TestTaskRepository_MatchWithApplication(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepository(db.Pool)
	apps := NewApplicationRepository(db.Pool)
	ctx := context.Background()

	task := newOpenTask("req-1")
	require.NoError(t, tasks.Create(ctx, task))

	first := &domain.Application{ID: uuid.NewString(), TaskID: task.ID, WorkerID: "w1", Status: domain.ApplicationStatusPending, CreatedAt: time.Now().UTC()}
	second := &domain.Application{ID: uuid.NewString(), TaskID: task.ID, WorkerID: "w2", Status: domain.ApplicationStatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, apps.Create(ctx, first))
	require.NoError(t, apps.Create(ctx, second))

	dup := &domain.Application{ID: uuid.NewString(), TaskID: task.ID, WorkerID: "w1", Status: domain.ApplicationStatusPending, CreatedAt: time.Now().UTC()}
	assert.Equal(t, errors.ErrConflict, errors.CodeOf(apps.Create(ctx, dup)))

	matched := task.Clone()
	matched.WorkerID = &first.WorkerID
	matched.Status = domain.TaskStatusMatched

	_, err := tasks.MatchWithApplication(ctx, matched, task.Version, "ghost")
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))

	// откат транзакции не должен сдвинуть версию
	stored, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusOpen, stored.Status)
	assert.Equal(t, int64(1), stored.Version)

	updated, err := tasks.MatchWithApplication(ctx, matched, task.Version, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusMatched, updated.Status)

	accepted, err := apps.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusAccepted, accepted.Status)

	sibling, err := apps.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusPending, sibling.Status)
	assert.True(t, sibling.IsClosed(updated))
}

func TestApplicationRepository_RejectAndResubmit(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepository(db.Pool)
	apps := NewApplicationRepository(db.Pool)
	ctx := context.Background()

	task := newOpenTask("req-1")
	require.NoError(t, tasks.Create(ctx, task))

	app := &domain.Application{ID: uuid.NewString(), TaskID: task.ID, WorkerID: "w1", Status: domain.ApplicationStatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, apps.Create(ctx, app))

	require.NoError(t, apps.UpdateStatus(ctx, app.ID, domain.ApplicationStatusPending, domain.ApplicationStatusRejected))
	assert.Equal(t, errors.ErrConflict, errors.CodeOf(
		apps.UpdateStatus(ctx, app.ID, domain.ApplicationStatusPending, domain.ApplicationStatusRejected)))

	price := int64(9000)
	app.ProposedPrice = &price
	require.NoError(t, apps.Resubmit(ctx, app))

	found, err := apps.FindByTaskAndWorker(ctx, task.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusPending, found.Status)
	require.NotNil(t, found.ProposedPrice)
	assert.Equal(t, price, *found.ProposedPrice)

	list, err := apps.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTaskRepository_DeleteIfCascades(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepository(db.Pool)
	apps := NewApplicationRepository(db.Pool)
	ctx := context.Background()

	task := newOpenTask("req-1")
	require.NoError(t, tasks.Create(ctx, task))
	app := &domain.Application{ID: uuid.NewString(), TaskID: task.ID, WorkerID: "w1", Status: domain.ApplicationStatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, apps.Create(ctx, app))

	assert.Equal(t, errors.ErrConflict, errors.CodeOf(tasks.DeleteIf(ctx, task.ID, domain.TaskStatusOpen, 7)))
	require.NoError(t, tasks.DeleteIf(ctx, task.ID, domain.TaskStatusOpen, 1))

	_, err := apps.GetByID(ctx, app.ID)
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(tasks.DeleteIf(ctx, task.ID, domain.TaskStatusOpen, 1)))
}

// saveProfile пишет профиль напрямую: профили ведет внешний сервис подписок
func saveProfile(t *testing.T, db *database.Postgres, workerID string, status domain.SubscriptionStatus) {
	t.Helper()
	_, err := db.Pool.Exec(context.Background(),
		`INSERT INTO worker_profiles (worker_id, subscription_status, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET subscription_status = EXCLUDED.subscription_status, updated_at = NOW()`,
		workerID, status)
	require.NoError(t, err)
}

func TestWorkerProfileRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewWorkerProfileRepository(db.Pool)
	ctx := context.Background()

	_, err := repo.GetByWorkerID(ctx, "w1")
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))

	saveProfile(t, db, "w1", domain.SubscriptionExpired)
	p, err := repo.GetByWorkerID(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, p.CanReportPosition())

	saveProfile(t, db, "w1", domain.SubscriptionActive)

	p, err = repo.GetByWorkerID(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, p.CanReportPosition())
	assert.Equal(t, domain.SubscriptionActive, p.SubscriptionStatus)
}
