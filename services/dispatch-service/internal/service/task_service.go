package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/pkg/validation"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/policy"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository"
)

const (
	maxTitleLength        = 100
	maxDescriptionLength  = 2000
	maxCancelReasonLength = 500
	maxMessageLength      = 1000
)

// CreateTaskInput данные нового поручения. Итоговая цена считается на сервере.
type CreateTaskInput struct {
	Title         string
	Description   string
	BasePrice     int64
	DistancePrice int64
	Tip           int64
}

// ApplyInput условия отклика исполнителя
type ApplyInput struct {
	ProposedPrice *int64
	Message       *string
}

// TransitionResult принятая смена статуса
type TransitionResult struct {
	Task *domain.Task
	From domain.TaskStatus
}

// AcceptResult принятый отклик вместе с назначенным поручением
type AcceptResult struct {
	TransitionResult
	Application *domain.Application
}

// TaskService управляет жизненным циклом поручений и откликами.
// Статус меняется только через policy и условную запись в хранилище.
type TaskService struct {
	tasks     repository.TaskRepository
	apps      repository.ApplicationRepository
	appPolicy ApplicationPolicy
	validator *validation.Validator
	logger    logger.Logger
	now       func() time.Time
	newID     func() string
}

// Option настраивает сервис
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func buildOptions(opts []Option) options {
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewTaskService создает новый экземпляр TaskService
func NewTaskService(
	tasks repository.TaskRepository,
	apps repository.ApplicationRepository,
	appPolicy ApplicationPolicy,
	log logger.Logger,
	opts ...Option,
) *TaskService {
	o := buildOptions(opts)
	return &TaskService{
		tasks:     tasks,
		apps:      apps,
		appPolicy: appPolicy,
		validator: validation.NewValidator(),
		logger:    log,
		now:       o.now,
		newID:     o.newID,
	}
}

// CreateTask создает поручение в статусе OPEN
func (s *TaskService) CreateTask(ctx context.Context, requesterID string, in CreateTaskInput) (*domain.Task, error) {
	title := strings.TrimSpace(in.Title)
	if err := s.validator.ValidateStringLength(title, "title", 1, maxTitleLength); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateStringLength(in.Description, "description", 0, maxDescriptionLength); err != nil {
		return nil, err
	}
	for field, value := range map[string]int64{
		"base_price":     in.BasePrice,
		"distance_price": in.DistancePrice,
		"tip":            in.Tip,
	} {
		if err := s.validator.ValidateAmount(value, field, domain.MaxPrice); err != nil {
			return nil, err
		}
	}

	now := s.now()
	task := &domain.Task{
		ID:            s.newID(),
		RequesterID:   requesterID,
		Status:        domain.TaskStatusOpen,
		Title:         title,
		Description:   in.Description,
		BasePrice:     in.BasePrice,
		DistancePrice: in.DistancePrice,
		Tip:           in.Tip,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	task.ComputeTotal()

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Info("Task created",
		logger.CtxField(ctx),
		logger.String("task_id", task.ID),
		logger.String("requester_id", requesterID),
		logger.Int64("total_price", task.TotalPrice),
	)
	return task, nil
}

// GetTask возвращает поручение по ID
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.tasks.GetByID(ctx, taskID)
}

// ApplyTransition проверяет и применяет смену статуса от имени actorID
func (s *TaskService) ApplyTransition(ctx context.Context, taskID string, requested domain.TaskStatus, actorID string, cancelReason *string) (*TransitionResult, error) {
	if !requested.IsValid() {
		return nil, domain.ErrValidation.WithDetails(fmt.Sprintf("unknown status: %q", requested))
	}
	if cancelReason != nil {
		if err := s.validator.ValidateStringLength(*cancelReason, "cancel_reason", 0, maxCancelReasonLength); err != nil {
			return nil, err
		}
	}

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	role := task.RoleOf(actorID)
	decision := policy.CanTransition(task.Status, requested, role, policy.Options{})
	if !decision.Allowed {
		s.logger.Warn("Transition rejected",
			logger.CtxField(ctx),
			logger.String("task_id", taskID),
			logger.String("from", string(task.Status)),
			logger.String("to", string(requested)),
			logger.String("role", string(role)),
			logger.String("reason", decision.Reason),
		)
		return nil, decision.Err()
	}

	next := task.Clone()
	s.applyEffects(next, requested, actorID, decision.Effects, cancelReason)

	updated, err := s.tasks.CompareAndSwap(ctx, next, task.Status, task.Version)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Task transitioned",
		logger.CtxField(ctx),
		logger.String("task_id", taskID),
		logger.String("from", string(task.Status)),
		logger.String("to", string(updated.Status)),
		logger.String("actor_id", actorID),
	)
	return &TransitionResult{Task: updated, From: task.Status}, nil
}

func (s *TaskService) applyEffects(task *domain.Task, requested domain.TaskStatus, workerID string, effects policy.Effects, cancelReason *string) {
	now := s.now()
	task.Status = requested
	task.UpdatedAt = now

	if effects.AssignWorker {
		task.WorkerID = &workerID
	}
	if effects.SetStartedAt {
		task.StartedAt = &now
	}
	if effects.SetCompletedAt {
		task.CompletedAt = &now
	}
	if effects.SetCancelledAt {
		task.CancelledAt = &now
	}
	if effects.StoreCancelReason && cancelReason != nil {
		if reason := strings.TrimSpace(*cancelReason); reason != "" {
			task.CancelReason = &reason
		}
	}
}

// UpdateContent меняет заголовок, описание и чаевые открытого поручения
func (s *TaskService) UpdateContent(ctx context.Context, taskID, actorID string, patch domain.ContentPatch) (*domain.Task, error) {
	if patch.IsEmpty() {
		return nil, domain.ErrValidation.WithDetails("nothing to update")
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if err := s.validator.ValidateStringLength(title, "title", 1, maxTitleLength); err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if patch.Description != nil {
		if err := s.validator.ValidateStringLength(*patch.Description, "description", 0, maxDescriptionLength); err != nil {
			return nil, err
		}
	}
	if patch.Tip != nil {
		if err := s.validator.ValidateAmount(*patch.Tip, "tip", domain.MaxPrice); err != nil {
			return nil, err
		}
	}

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanEditContent(task.Status, task.RoleOf(actorID)).Err(); err != nil {
		return nil, err
	}

	next := task.Clone()
	patch.Apply(next)
	next.UpdatedAt = s.now()

	updated, err := s.tasks.CompareAndSwap(ctx, next, task.Status, task.Version)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Task content updated",
		logger.CtxField(ctx),
		logger.String("task_id", taskID),
		logger.Int64("total_price", updated.TotalPrice),
	)
	return updated, nil
}

// DeleteTask физически удаляет поручение заказчика в статусе OPEN или CANCELLED
func (s *TaskService) DeleteTask(ctx context.Context, taskID, actorID string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if err := policy.CanDelete(task.Status, task.RoleOf(actorID)).Err(); err != nil {
		return err
	}

	if err := s.tasks.DeleteIf(ctx, task.ID, task.Status, task.Version); err != nil {
		return err
	}

	s.logger.Info("Task deleted",
		logger.CtxField(ctx),
		logger.String("task_id", taskID),
		logger.String("status", string(task.Status)),
	)
	return nil
}

// ApplyToTask подает отклик исполнителя на открытое поручение
func (s *TaskService) ApplyToTask(ctx context.Context, taskID, workerID string, in ApplyInput) (*domain.Application, error) {
	if in.Message != nil {
		if err := s.validator.ValidateStringLength(*in.Message, "message", 0, maxMessageLength); err != nil {
			return nil, err
		}
	}

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.RoleOf(workerID) == domain.RoleRequester {
		return nil, domain.ErrForbidden.WithDetails("requester cannot apply to own task")
	}
	if task.Status != domain.TaskStatusOpen {
		return nil, domain.ErrInvalidState.WithDetails(fmt.Sprintf("task is %s, applications are accepted only while OPEN", task.Status))
	}
	if err := s.appPolicy.ValidateProposedPrice(ctx, task, in.ProposedPrice); err != nil {
		return nil, err
	}

	existing, err := s.apps.FindByTaskAndWorker(ctx, taskID, workerID)
	switch {
	case err == nil:
		if !s.appPolicy.CanReapply(ctx, task, existing) {
			return nil, domain.ErrConflict.WithDetails(fmt.Sprintf("worker already applied, application is %s", existing.Status))
		}
		existing.ProposedPrice = in.ProposedPrice
		existing.Message = in.Message
		existing.CreatedAt = s.now()
		if err := s.apps.Resubmit(ctx, existing); err != nil {
			return nil, err
		}
		existing.Status = domain.ApplicationStatusPending

		s.logger.Info("Application resubmitted",
			logger.CtxField(ctx),
			logger.String("task_id", taskID),
			logger.String("application_id", existing.ID),
			logger.String("worker_id", workerID),
		)
		return existing, nil

	case !errors.Is(err, domain.ErrApplicationNotFound):
		return nil, err
	}

	app := &domain.Application{
		ID:            s.newID(),
		TaskID:        taskID,
		WorkerID:      workerID,
		ProposedPrice: in.ProposedPrice,
		Message:       in.Message,
		Status:        domain.ApplicationStatusPending,
		CreatedAt:     s.now(),
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return nil, err
	}

	s.logger.Info("Application created",
		logger.CtxField(ctx),
		logger.String("task_id", taskID),
		logger.String("application_id", app.ID),
		logger.String("worker_id", workerID),
	)
	return app, nil
}

// AcceptApplication назначает исполнителя по отклику: OPEN -> MATCHED одной условной записью
func (s *TaskService) AcceptApplication(ctx context.Context, taskID, applicationID, actorID string) (*AcceptResult, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	app, err := s.loadApplication(ctx, taskID, applicationID)
	if err != nil {
		return nil, err
	}

	role := task.RoleOf(actorID)
	decision := policy.CanTransition(task.Status, domain.TaskStatusMatched, role, policy.Options{ViaApplication: true})
	if !decision.Allowed {
		return nil, decision.Err()
	}
	if role != domain.RoleRequester {
		return nil, domain.ErrForbidden.WithDetails("only the requester may accept applications")
	}
	if app.Status != domain.ApplicationStatusPending {
		return nil, domain.ErrInvalidState.WithDetails(fmt.Sprintf("application is %s", app.Status))
	}

	next := task.Clone()
	s.applyEffects(next, domain.TaskStatusMatched, app.WorkerID, decision.Effects, nil)

	updated, err := s.tasks.MatchWithApplication(ctx, next, task.Version, app.ID)
	if err != nil {
		return nil, err
	}
	app.Status = domain.ApplicationStatusAccepted

	s.logger.Info("Application accepted",
		logger.CtxField(ctx),
		logger.String("task_id", taskID),
		logger.String("application_id", applicationID),
		logger.String("worker_id", app.WorkerID),
	)
	return &AcceptResult{
		TransitionResult: TransitionResult{Task: updated, From: task.Status},
		Application:      app,
	}, nil
}

// RejectApplication отклоняет ожидающий отклик
func (s *TaskService) RejectApplication(ctx context.Context, taskID, applicationID, actorID string) (*domain.Application, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.RoleOf(actorID) != domain.RoleRequester {
		return nil, domain.ErrForbidden.WithDetails("only the requester may reject applications")
	}
	if task.Status != domain.TaskStatusOpen {
		return nil, domain.ErrInvalidState.WithDetails(fmt.Sprintf("task is %s", task.Status))
	}

	app, err := s.loadApplication(ctx, taskID, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != domain.ApplicationStatusPending {
		return nil, domain.ErrInvalidState.WithDetails(fmt.Sprintf("application is %s", app.Status))
	}

	if err := s.apps.UpdateStatus(ctx, app.ID, domain.ApplicationStatusPending, domain.ApplicationStatusRejected); err != nil {
		return nil, err
	}
	app.Status = domain.ApplicationStatusRejected

	s.logger.Info("Application rejected",
		logger.CtxField(ctx),
		logger.String("task_id", taskID),
		logger.String("application_id", applicationID),
	)
	return app, nil
}

// ListApplications возвращает отклики заказчику; закрытие конкурирующих откликов вычисляется по статусу поручения
func (s *TaskService) ListApplications(ctx context.Context, taskID, actorID string) ([]domain.ApplicationView, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.RoleOf(actorID) != domain.RoleRequester {
		return nil, domain.ErrForbidden.WithDetails("only the requester may list applications")
	}

	apps, err := s.apps.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	views := make([]domain.ApplicationView, 0, len(apps))
	for _, app := range apps {
		views = append(views, domain.ApplicationView{Application: app, Closed: app.IsClosed(task)})
	}
	return views, nil
}

func (s *TaskService) loadApplication(ctx context.Context, taskID, applicationID string) (*domain.Application, error) {
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.TaskID != taskID {
		return nil, domain.ErrApplicationNotFound.WithDetails(fmt.Sprintf("application %s does not belong to task %s", applicationID, taskID))
	}
	return app, nil
}
