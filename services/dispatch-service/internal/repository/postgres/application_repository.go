package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository"
)

const applicationColumns = `id, task_id, worker_id, proposed_price, message, status, created_at`

// ApplicationRepository реализация репозитория откликов для PostgreSQL
type ApplicationRepository struct {
	pool *pgxpool.Pool
}

// NewApplicationRepository создает новый экземпляр ApplicationRepository
func NewApplicationRepository(pool *pgxpool.Pool) *ApplicationRepository {
	return &ApplicationRepository{pool: pool}
}

var _ repository.ApplicationRepository = (*ApplicationRepository)(nil)

// Create сохраняет отклик
func (r *ApplicationRepository) Create(ctx context.Context, app *domain.Application) error {
	query := `INSERT INTO applications (` + applicationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		app.ID,
		app.TaskID,
		app.WorkerID,
		app.ProposedPrice,
		app.Message,
		app.Status,
		app.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict.
				WithDetails(fmt.Sprintf("worker %s already applied to task %s", app.WorkerID, app.TaskID)).
				WithContext(ctx)
		}
		return errors.Wrap(err, errors.ErrInternal, "failed to create application").
			WithDetails(fmt.Sprintf("task_id: %s, worker_id: %s", app.TaskID, app.WorkerID)).
			WithContext(ctx)
	}
	return nil
}

// Resubmit возвращает отклоненный отклик в pending
func (r *ApplicationRepository) Resubmit(ctx context.Context, app *domain.Application) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE applications SET proposed_price = $2, message = $3, status = $4, created_at = $5
		WHERE id = $1 AND status = $6`,
		app.ID, app.ProposedPrice, app.Message, domain.ApplicationStatusPending, app.CreatedAt, domain.ApplicationStatusRejected)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to resubmit application").
			WithDetails(fmt.Sprintf("application_id: %s", app.ID)).
			WithContext(ctx)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, app.ID)
	}
	app.Status = domain.ApplicationStatusPending
	return nil
}

// GetByID возвращает отклик по ID
func (r *ApplicationRepository) GetByID(ctx context.Context, applicationID string) (*domain.Application, error) {
	app, err := scanApplication(r.pool.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, applicationID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrApplicationNotFound.WithDetails(fmt.Sprintf("application_id: %s", applicationID)).WithContext(ctx)
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get application").
			WithDetails(fmt.Sprintf("application_id: %s", applicationID)).
			WithContext(ctx)
	}
	return app, nil
}

// FindByTaskAndWorker возвращает отклик исполнителя на поручение
func (r *ApplicationRepository) FindByTaskAndWorker(ctx context.Context, taskID, workerID string) (*domain.Application, error) {
	app, err := scanApplication(r.pool.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE task_id = $1 AND worker_id = $2`, taskID, workerID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrApplicationNotFound.
				WithDetails(fmt.Sprintf("task_id: %s, worker_id: %s", taskID, workerID)).
				WithContext(ctx)
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to find application").
			WithDetails(fmt.Sprintf("task_id: %s, worker_id: %s", taskID, workerID)).
			WithContext(ctx)
	}
	return app, nil
}

// ListByTask возвращает отклики на поручение в порядке подачи
func (r *ApplicationRepository) ListByTask(ctx context.Context, taskID string) ([]*domain.Application, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE task_id = $1 ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to list applications").
			WithDetails(fmt.Sprintf("task_id: %s", taskID)).
			WithContext(ctx)
	}
	defer rows.Close()

	var apps []*domain.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan application").WithContext(ctx)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to iterate applications").WithContext(ctx)
	}
	return apps, nil
}

// UpdateStatus меняет статус отклика при совпадении текущего
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, applicationID string, from, to domain.ApplicationStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE applications SET status = $3 WHERE id = $1 AND status = $2`,
		applicationID, from, to)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to update application status").
			WithDetails(fmt.Sprintf("application_id: %s", applicationID)).
			WithContext(ctx)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, applicationID)
	}
	return nil
}

func (r *ApplicationRepository) missOrConflict(ctx context.Context, applicationID string) error {
	found, err := exists(ctx, r.pool, `SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)`, applicationID)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to check application").WithContext(ctx)
	}
	if !found {
		return domain.ErrApplicationNotFound.WithDetails(fmt.Sprintf("application_id: %s", applicationID)).WithContext(ctx)
	}
	return domain.ErrConflict.WithDetails(fmt.Sprintf("application %s changed concurrently", applicationID)).WithContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*domain.Application, error) {
	var app domain.Application
	err := row.Scan(
		&app.ID,
		&app.TaskID,
		&app.WorkerID,
		&app.ProposedPrice,
		&app.Message,
		&app.Status,
		&app.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &app, nil
}
