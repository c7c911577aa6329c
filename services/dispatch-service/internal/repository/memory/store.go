// Package memory содержит потокобезопасные хранилища в памяти для тестов и локального запуска.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository"
)

// Store хранит поручения, отклики и профили под одной блокировкой,
// поэтому MatchWithApplication атомарен так же, как транзакция в PostgreSQL.
type Store struct {
	mu           sync.Mutex
	tasks        map[string]*domain.Task
	applications map[string]*domain.Application
	profiles     map[string]*domain.WorkerProfile
}

var (
	_ repository.TaskRepository          = (*Store)(nil)
	_ repository.WorkerProfileRepository = (*Store)(nil)
)

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{
		tasks:        make(map[string]*domain.Task),
		applications: make(map[string]*domain.Application),
		profiles:     make(map[string]*domain.WorkerProfile),
	}
}

// Applications возвращает представление хранилища как ApplicationRepository
func (s *Store) Applications() repository.ApplicationRepository {
	return &applicationStore{s: s}
}

// PutProfile добавляет или заменяет профиль исполнителя
func (s *Store) PutProfile(p domain.WorkerProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.WorkerID] = &p
}

func (s *Store) GetByWorkerID(_ context.Context, workerID string) (*domain.WorkerProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[workerID]
	if !ok {
		return nil, domain.ErrWorkerNotFound.WithDetails(fmt.Sprintf("worker_id: %s", workerID))
	}
	cp := *p
	return &cp, nil
}

func (s *Store) Create(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return domain.ErrConflict.WithDetails(fmt.Sprintf("task_id: %s already exists", task.ID))
	}
	stored := task.Clone()
	stored.Version = 1
	s.tasks[task.ID] = stored
	task.Version = 1
	return nil
}

func (s *Store) GetByID(_ context.Context, taskID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound.WithDetails(fmt.Sprintf("task_id: %s", taskID))
	}
	return t.Clone(), nil
}

func (s *Store) CompareAndSwap(_ context.Context, task *domain.Task, expectedStatus domain.TaskStatus, expectedVersion int64) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(task.ID, expectedStatus, expectedVersion); err != nil {
		return nil, err
	}
	return s.writeLocked(task, expectedVersion), nil
}

func (s *Store) MatchWithApplication(_ context.Context, task *domain.Task, expectedVersion int64, applicationID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(task.ID, domain.TaskStatusOpen, expectedVersion); err != nil {
		return nil, err
	}
	app, ok := s.applications[applicationID]
	if !ok || app.TaskID != task.ID {
		return nil, domain.ErrApplicationNotFound.WithDetails(fmt.Sprintf("application_id: %s", applicationID))
	}
	if app.Status != domain.ApplicationStatusPending {
		return nil, domain.ErrConflict.WithDetails(fmt.Sprintf("application %s is %s", applicationID, app.Status))
	}

	app.Status = domain.ApplicationStatusAccepted
	return s.writeLocked(task, expectedVersion), nil
}

func (s *Store) DeleteIf(_ context.Context, taskID string, expectedStatus domain.TaskStatus, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(taskID, expectedStatus, expectedVersion); err != nil {
		return err
	}
	delete(s.tasks, taskID)
	for id, app := range s.applications {
		if app.TaskID == taskID {
			delete(s.applications, id)
		}
	}
	return nil
}

func (s *Store) checkLocked(taskID string, expectedStatus domain.TaskStatus, expectedVersion int64) error {
	current, ok := s.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound.WithDetails(fmt.Sprintf("task_id: %s", taskID))
	}
	if current.Status != expectedStatus || current.Version != expectedVersion {
		return domain.ErrConflict.WithDetails(fmt.Sprintf("task_id: %s, expected %s@%d, found %s@%d",
			taskID, expectedStatus, expectedVersion, current.Status, current.Version))
	}
	return nil
}

func (s *Store) writeLocked(task *domain.Task, expectedVersion int64) *domain.Task {
	stored := task.Clone()
	stored.Version = expectedVersion + 1
	s.tasks[task.ID] = stored
	return stored.Clone()
}

type applicationStore struct {
	s *Store
}

func (a *applicationStore) Create(_ context.Context, app *domain.Application) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	for _, existing := range a.s.applications {
		if existing.TaskID == app.TaskID && existing.WorkerID == app.WorkerID {
			return domain.ErrConflict.WithDetails("worker already applied to this task")
		}
	}
	cp := *app
	a.s.applications[app.ID] = &cp
	return nil
}

func (a *applicationStore) Resubmit(_ context.Context, app *domain.Application) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	existing, ok := a.s.applications[app.ID]
	if !ok {
		return domain.ErrApplicationNotFound.WithDetails(fmt.Sprintf("application_id: %s", app.ID))
	}
	if existing.Status != domain.ApplicationStatusRejected {
		return domain.ErrConflict.WithDetails(fmt.Sprintf("application %s is %s", app.ID, existing.Status))
	}
	cp := *app
	cp.Status = domain.ApplicationStatusPending
	a.s.applications[app.ID] = &cp
	return nil
}

func (a *applicationStore) GetByID(_ context.Context, applicationID string) (*domain.Application, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	app, ok := a.s.applications[applicationID]
	if !ok {
		return nil, domain.ErrApplicationNotFound.WithDetails(fmt.Sprintf("application_id: %s", applicationID))
	}
	cp := *app
	return &cp, nil
}

func (a *applicationStore) FindByTaskAndWorker(_ context.Context, taskID, workerID string) (*domain.Application, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	for _, app := range a.s.applications {
		if app.TaskID == taskID && app.WorkerID == workerID {
			cp := *app
			return &cp, nil
		}
	}
	return nil, domain.ErrApplicationNotFound
}

func (a *applicationStore) ListByTask(_ context.Context, taskID string) ([]*domain.Application, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	var out []*domain.Application
	for _, app := range a.s.applications {
		if app.TaskID == taskID {
			cp := *app
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (a *applicationStore) UpdateStatus(_ context.Context, applicationID string, from, to domain.ApplicationStatus) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	app, ok := a.s.applications[applicationID]
	if !ok {
		return domain.ErrApplicationNotFound.WithDetails(fmt.Sprintf("application_id: %s", applicationID))
	}
	if app.Status != from {
		return domain.ErrConflict.WithDetails(fmt.Sprintf("application %s is %s", applicationID, app.Status))
	}
	app.Status = to
	return nil
}
