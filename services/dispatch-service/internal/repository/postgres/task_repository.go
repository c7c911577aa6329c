package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository"
)

const taskColumns = `id, requester_id, worker_id, status, title, description,
	base_price, distance_price, tip, total_price,
	started_at, completed_at, cancelled_at, cancel_reason,
	created_at, updated_at, version`

// TaskRepository реализация репозитория поручений для PostgreSQL
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository создает новый экземпляр TaskRepository
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

var _ repository.TaskRepository = (*TaskRepository)(nil)

// Create сохраняет новое поручение с версией 1
func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)`

	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.RequesterID,
		task.WorkerID,
		task.Status,
		task.Title,
		task.Description,
		task.BasePrice,
		task.DistancePrice,
		task.Tip,
		task.TotalPrice,
		task.StartedAt,
		task.CompletedAt,
		task.CancelledAt,
		task.CancelReason,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict.WithDetails(fmt.Sprintf("task_id: %s already exists", task.ID)).WithContext(ctx)
		}
		return errors.Wrap(err, errors.ErrInternal, "failed to create task").
			WithDetails(fmt.Sprintf("task_id: %s", task.ID)).
			WithContext(ctx)
	}

	task.Version = 1
	return nil
}

// GetByID возвращает поручение по ID
func (r *TaskRepository) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(r.pool.QueryRow(ctx, query, taskID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrTaskNotFound.WithDetails(fmt.Sprintf("task_id: %s", taskID)).WithContext(ctx)
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get task").
			WithDetails(fmt.Sprintf("task_id: %s", taskID)).
			WithContext(ctx)
	}
	return task, nil
}

// CompareAndSwap обновляет поручение при совпадении статуса и версии
func (r *TaskRepository) CompareAndSwap(ctx context.Context, task *domain.Task, expectedStatus domain.TaskStatus, expectedVersion int64) (*domain.Task, error) {
	return compareAndSwap(ctx, r.pool, task, expectedStatus, expectedVersion)
}

// MatchWithApplication в одной транзакции переводит поручение в MATCHED и принимает отклик
func (r *TaskRepository) MatchWithApplication(ctx context.Context, task *domain.Task, expectedVersion int64, applicationID string) (*domain.Task, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to begin transaction").WithContext(ctx)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, err := compareAndSwap(ctx, tx, task, domain.TaskStatusOpen, expectedVersion)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE applications SET status = $3 WHERE id = $1 AND task_id = $2 AND status = $4`,
		applicationID, task.ID, domain.ApplicationStatusAccepted, domain.ApplicationStatusPending)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to accept application").
			WithDetails(fmt.Sprintf("application_id: %s", applicationID)).
			WithContext(ctx)
	}
	if tag.RowsAffected() == 0 {
		found, err := exists(ctx, tx, `SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1 AND task_id = $2)`, applicationID, task.ID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to check application").WithContext(ctx)
		}
		if !found {
			return nil, domain.ErrApplicationNotFound.WithDetails(fmt.Sprintf("application_id: %s", applicationID)).WithContext(ctx)
		}
		return nil, domain.ErrConflict.WithDetails(fmt.Sprintf("application %s is not pending", applicationID)).WithContext(ctx)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to commit transaction").WithContext(ctx)
	}
	return updated, nil
}

// DeleteIf удаляет поручение при совпадении статуса и версии. Отклики удаляются каскадно.
func (r *TaskRepository) DeleteIf(ctx context.Context, taskID string, expectedStatus domain.TaskStatus, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM tasks WHERE id = $1 AND status = $2 AND version = $3`,
		taskID, expectedStatus, expectedVersion)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to delete task").
			WithDetails(fmt.Sprintf("task_id: %s", taskID)).
			WithContext(ctx)
	}
	if tag.RowsAffected() == 0 {
		return missOrConflict(ctx, r.pool, taskID, expectedStatus, expectedVersion)
	}
	return nil
}

func compareAndSwap(ctx context.Context, q querier, task *domain.Task, expectedStatus domain.TaskStatus, expectedVersion int64) (*domain.Task, error) {
	query := `UPDATE tasks SET
		worker_id = $4,
		status = $5,
		title = $6,
		description = $7,
		tip = $8,
		total_price = $9,
		started_at = $10,
		completed_at = $11,
		cancelled_at = $12,
		cancel_reason = $13,
		updated_at = $14,
		version = version + 1
	WHERE id = $1 AND status = $2 AND version = $3
	RETURNING ` + taskColumns

	updated, err := scanTask(q.QueryRow(ctx, query,
		task.ID,
		expectedStatus,
		expectedVersion,
		task.WorkerID,
		task.Status,
		task.Title,
		task.Description,
		task.Tip,
		task.TotalPrice,
		task.StartedAt,
		task.CompletedAt,
		task.CancelledAt,
		task.CancelReason,
		task.UpdatedAt,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, missOrConflict(ctx, q, task.ID, expectedStatus, expectedVersion)
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to update task").
			WithDetails(fmt.Sprintf("task_id: %s", task.ID)).
			WithContext(ctx)
	}
	return updated, nil
}

// missOrConflict различает отсутствующее поручение и проигранную гонку
func missOrConflict(ctx context.Context, q querier, taskID string, expectedStatus domain.TaskStatus, expectedVersion int64) error {
	found, err := exists(ctx, q, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, taskID)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to check task").
			WithDetails(fmt.Sprintf("task_id: %s", taskID)).
			WithContext(ctx)
	}
	if !found {
		return domain.ErrTaskNotFound.WithDetails(fmt.Sprintf("task_id: %s", taskID)).WithContext(ctx)
	}
	return domain.ErrConflict.
		WithDetails(fmt.Sprintf("task_id: %s, expected %s@%d", taskID, expectedStatus, expectedVersion)).
		WithContext(ctx)
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	err := row.Scan(
		&task.ID,
		&task.RequesterID,
		&task.WorkerID,
		&task.Status,
		&task.Title,
		&task.Description,
		&task.BasePrice,
		&task.DistancePrice,
		&task.Tip,
		&task.TotalPrice,
		&task.StartedAt,
		&task.CompletedAt,
		&task.CancelledAt,
		&task.CancelReason,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.Version,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}
