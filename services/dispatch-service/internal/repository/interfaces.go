package repository

import (
	"context"

	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
)

// TaskRepository хранилище поручений.
// Любая запись статуса выполняется только через условное обновление по статусу и версии.
type TaskRepository interface {
	// Create сохраняет новое поручение с версией 1
	Create(ctx context.Context, task *domain.Task) error

	// GetByID возвращает поручение или domain.ErrTaskNotFound
	GetByID(ctx context.Context, taskID string) (*domain.Task, error)

	// CompareAndSwap записывает task, только если сохраненные статус и версия совпадают
	// с ожидаемыми. Проигравший получает domain.ErrConflict.
	CompareAndSwap(ctx context.Context, task *domain.Task, expectedStatus domain.TaskStatus, expectedVersion int64) (*domain.Task, error)

	// MatchWithApplication атомарно переводит поручение в MATCHED и помечает отклик принятым
	MatchWithApplication(ctx context.Context, task *domain.Task, expectedVersion int64, applicationID string) (*domain.Task, error)

	// DeleteIf удаляет поручение при совпадении статуса и версии
	DeleteIf(ctx context.Context, taskID string, expectedStatus domain.TaskStatus, expectedVersion int64) error
}

// ApplicationRepository хранилище откликов
type ApplicationRepository interface {
	// Create сохраняет отклик; повторный отклик того же исполнителя дает domain.ErrConflict
	Create(ctx context.Context, app *domain.Application) error

	// Resubmit возвращает отклоненный отклик в pending с новыми условиями
	Resubmit(ctx context.Context, app *domain.Application) error

	GetByID(ctx context.Context, applicationID string) (*domain.Application, error)

	// FindByTaskAndWorker возвращает domain.ErrApplicationNotFound, если отклика нет
	FindByTaskAndWorker(ctx context.Context, taskID, workerID string) (*domain.Application, error)

	ListByTask(ctx context.Context, taskID string) ([]*domain.Application, error)

	// UpdateStatus меняет статус отклика при совпадении текущего статуса
	UpdateStatus(ctx context.Context, applicationID string, from, to domain.ApplicationStatus) error
}

// WorkerProfileRepository чтение профилей исполнителей из внешнего хранилища
type WorkerProfileRepository interface {
	GetByWorkerID(ctx context.Context, workerID string) (*domain.WorkerProfile, error)
}

// LocationRepository хранилище последних известных позиций исполнителей
type LocationRepository interface {
	// Upsert атомарно записывает позицию и возвращает предыдущую (nil для первого отчета).
	// Если report.SetOnline == nil, признак онлайн не меняется.
	Upsert(ctx context.Context, report domain.PositionReport) (prev, cur *domain.WorkerLocation, err error)

	// SetOffline снимает признак онлайн, не трогая координаты
	SetOffline(ctx context.Context, workerID string) error

	// Get возвращает позицию или domain.ErrLocationNotFound
	Get(ctx context.Context, workerID string) (*domain.WorkerLocation, error)

	// CountOnlineNearby считает исполнителей онлайн в радиусе со свежей позицией
	CountOnlineNearby(ctx context.Context, q domain.NearbyQuery) (int, error)
}
