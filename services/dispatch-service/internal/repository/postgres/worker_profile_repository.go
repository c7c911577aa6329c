package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository"
)

// WorkerProfileRepository читает подписки исполнителей
type WorkerProfileRepository struct {
	pool *pgxpool.Pool
}

// NewWorkerProfileRepository создает новый экземпляр WorkerProfileRepository
func NewWorkerProfileRepository(pool *pgxpool.Pool) *WorkerProfileRepository {
	return &WorkerProfileRepository{pool: pool}
}

var _ repository.WorkerProfileRepository = (*WorkerProfileRepository)(nil)

func (r *WorkerProfileRepository) GetByWorkerID(ctx context.Context, workerID string) (*domain.WorkerProfile, error) {
	var p domain.WorkerProfile
	err := r.pool.QueryRow(ctx,
		`SELECT worker_id, subscription_status FROM worker_profiles WHERE worker_id = $1`, workerID).
		Scan(&p.WorkerID, &p.SubscriptionStatus)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrWorkerNotFound.WithDetails(fmt.Sprintf("worker_id: %s", workerID)).WithContext(ctx)
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get worker profile").
			WithDetails(fmt.Sprintf("worker_id: %s", workerID)).
			WithContext(ctx)
	}
	return &p, nil
}
