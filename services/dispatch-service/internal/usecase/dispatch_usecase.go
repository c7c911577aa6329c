// Package usecase содержит фасад диспетчеризации: определение роли, трассировку,
// ограничение частоты отчетов и публикацию событий после принятых переходов.
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ErrandDispatchPlatform/pkg/config"
	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/pkg/ratelimit"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/metrics"
	"ErrandDispatchPlatform/services/dispatch-service/internal/producer"
	"ErrandDispatchPlatform/services/dispatch-service/internal/service"
)

const positionRateWindow = time.Minute

// DispatchUseCase единая точка входа для транспортного слоя
type DispatchUseCase struct {
	tasks     *service.TaskService
	locations *service.LocationService
	events    producer.EventPublisher
	limiter   ratelimit.RateLimiter
	metrics   *metrics.DispatchMetrics
	tracer    trace.Tracer
	logger    logger.Logger

	positionLimit  int
	publishTimeout time.Duration
	now            func() time.Time
}

// NewDispatchUseCase создает новый экземпляр DispatchUseCase
func NewDispatchUseCase(
	tasks *service.TaskService,
	locations *service.LocationService,
	events producer.EventPublisher,
	limiter ratelimit.RateLimiter,
	m *metrics.DispatchMetrics,
	cfg *config.Config,
	log logger.Logger,
) *DispatchUseCase {
	return &DispatchUseCase{
		tasks:          tasks,
		locations:      locations,
		events:         events,
		limiter:        limiter,
		metrics:        m,
		tracer:         m.Base().Tracer,
		logger:         log,
		positionLimit:  cfg.RateLimiting.PositionReportsPerMinute,
		publishTimeout: cfg.Dispatch.EventPublishTimeout.Std(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CreateTask создает поручение от имени заказчика
func (uc *DispatchUseCase) CreateTask(ctx context.Context, actorID string, in service.CreateTaskInput) (task *domain.Task, err error) {
	ctx, span := uc.start(ctx, "CreateTask", actorID)
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	return uc.tasks.CreateTask(ctx, actorID, in)
}

// GetTask возвращает поручение
func (uc *DispatchUseCase) GetTask(ctx context.Context, actorID, taskID string) (task *domain.Task, err error) {
	ctx, span := uc.start(ctx, "GetTask", actorID, attribute.String("task.id", taskID))
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	return uc.tasks.GetTask(ctx, taskID)
}

// EditTask меняет содержимое открытого поручения
func (uc *DispatchUseCase) EditTask(ctx context.Context, actorID, taskID string, patch domain.ContentPatch) (task *domain.Task, err error) {
	ctx, span := uc.start(ctx, "EditTask", actorID, attribute.String("task.id", taskID))
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	task, err = uc.tasks.UpdateContent(ctx, taskID, actorID, patch)
	if err != nil {
		uc.countConflict(err)
		return nil, err
	}
	return task, nil
}

// RequestTransition запрашивает смену статуса и публикует событие после успешной записи
func (uc *DispatchUseCase) RequestTransition(ctx context.Context, actorID, taskID, status string, cancelReason *string) (task *domain.Task, err error) {
	ctx, span := uc.start(ctx, "RequestTransition", actorID,
		attribute.String("task.id", taskID),
		attribute.String("task.requested_status", status),
	)
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	requested, err := domain.ParseTaskStatus(status)
	if err != nil {
		return nil, err
	}

	res, err := uc.tasks.ApplyTransition(ctx, taskID, requested, actorID, cancelReason)
	if err != nil {
		uc.metrics.RecordTransition("unknown", string(requested), string(errors.CodeOf(err)))
		uc.countConflict(err)
		return nil, err
	}

	uc.metrics.RecordTransition(string(res.From), string(res.Task.Status), "ok")
	uc.publish(ctx, res.From, res.Task, actorID)
	return res.Task, nil
}

// DeleteTask удаляет поручение
func (uc *DispatchUseCase) DeleteTask(ctx context.Context, actorID, taskID string) (err error) {
	ctx, span := uc.start(ctx, "DeleteTask", actorID, attribute.String("task.id", taskID))
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return err
	}
	if err := uc.tasks.DeleteTask(ctx, taskID, actorID); err != nil {
		uc.countConflict(err)
		return err
	}
	return nil
}

// ApplyToTask подает отклик исполнителя
func (uc *DispatchUseCase) ApplyToTask(ctx context.Context, actorID, taskID string, in service.ApplyInput) (app *domain.Application, err error) {
	ctx, span := uc.start(ctx, "ApplyToTask", actorID, attribute.String("task.id", taskID))
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	return uc.tasks.ApplyToTask(ctx, taskID, actorID, in)
}

// AcceptApplication назначает исполнителя по отклику
func (uc *DispatchUseCase) AcceptApplication(ctx context.Context, actorID, taskID, applicationID string) (res *service.AcceptResult, err error) {
	ctx, span := uc.start(ctx, "AcceptApplication", actorID,
		attribute.String("task.id", taskID),
		attribute.String("application.id", applicationID),
	)
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	res, err = uc.tasks.AcceptApplication(ctx, taskID, applicationID, actorID)
	if err != nil {
		uc.metrics.RecordTransition(string(domain.TaskStatusOpen), string(domain.TaskStatusMatched), string(errors.CodeOf(err)))
		uc.countConflict(err)
		return nil, err
	}

	uc.metrics.RecordTransition(string(res.From), string(res.Task.Status), "ok")
	uc.publish(ctx, res.From, res.Task, actorID)
	return res, nil
}

// RejectApplication отклоняет отклик
func (uc *DispatchUseCase) RejectApplication(ctx context.Context, actorID, taskID, applicationID string) (app *domain.Application, err error) {
	ctx, span := uc.start(ctx, "RejectApplication", actorID,
		attribute.String("task.id", taskID),
		attribute.String("application.id", applicationID),
	)
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	return uc.tasks.RejectApplication(ctx, taskID, applicationID, actorID)
}

// ListApplications возвращает отклики на поручение
func (uc *DispatchUseCase) ListApplications(ctx context.Context, actorID, taskID string) (views []domain.ApplicationView, err error) {
	ctx, span := uc.start(ctx, "ListApplications", actorID, attribute.String("task.id", taskID))
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	return uc.tasks.ListApplications(ctx, taskID, actorID)
}

// ReportWorkerPosition принимает отчет исполнителя о местоположении
func (uc *DispatchUseCase) ReportWorkerPosition(ctx context.Context, actorID string, in service.PositionInput) (ack *domain.PositionAck, err error) {
	ctx, span := uc.start(ctx, "ReportWorkerPosition", actorID)
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if err := uc.allowPositionReport(ctx, actorID); err != nil {
		uc.metrics.RecordPositionReport(string(errors.CodeOf(err)))
		return nil, err
	}

	ack, err = uc.locations.ReportPosition(ctx, actorID, in)
	if err != nil {
		uc.metrics.RecordPositionReport(string(errors.CodeOf(err)))
		return nil, err
	}

	uc.metrics.RecordPositionReport("ok")
	uc.metrics.WorkerOnlineChanged(ack.WasOnline, ack.IsOnline)
	return ack, nil
}

// SetWorkerOffline снимает признак онлайн
func (uc *DispatchUseCase) SetWorkerOffline(ctx context.Context, actorID string) (err error) {
	ctx, span := uc.start(ctx, "SetWorkerOffline", actorID)
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return err
	}

	wasOnline := false
	if loc, err := uc.locations.GetPosition(ctx, actorID); err == nil {
		wasOnline = loc.IsOnline
	}
	if err := uc.locations.SetOffline(ctx, actorID); err != nil {
		return err
	}
	uc.metrics.WorkerOnlineChanged(wasOnline, false)
	return nil
}

// GetWorkerPosition возвращает собственную последнюю позицию исполнителя
func (uc *DispatchUseCase) GetWorkerPosition(ctx context.Context, actorID string) (loc *domain.WorkerLocation, err error) {
	ctx, span := uc.start(ctx, "GetWorkerPosition", actorID)
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	return uc.locations.GetPosition(ctx, actorID)
}

// CountNearbyWorkers считает исполнителей онлайн рядом с точкой
func (uc *DispatchUseCase) CountNearbyWorkers(ctx context.Context, actorID string, in service.NearbyInput) (count int, err error) {
	ctx, span := uc.start(ctx, "CountNearbyWorkers", actorID)
	defer func() { err = uc.finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return 0, err
	}
	return uc.locations.CountNearbyOnline(ctx, in)
}

// allowPositionReport ограничивает частоту отчетов. Недоступный Redis не блокирует отчеты.
func (uc *DispatchUseCase) allowPositionReport(ctx context.Context, workerID string) error {
	if uc.limiter == nil || uc.positionLimit <= 0 {
		return nil
	}

	allowed, err := uc.limiter.Allow(ctx, "position:"+workerID, uc.positionLimit, positionRateWindow)
	if err != nil {
		uc.logger.Warn("Rate limiter unavailable",
			logger.CtxField(ctx),
			logger.String("worker_id", workerID),
			logger.Error(err),
		)
		return nil
	}
	if !allowed {
		return errors.New(errors.ErrTooManyRequests, "too many position reports").
			WithDetails(fmt.Sprintf("limit: %d per %s", uc.positionLimit, positionRateWindow))
	}
	return nil
}

// publish отправляет событие после записи. Ошибка только логируется: переход уже зафиксирован.
func (uc *DispatchUseCase) publish(ctx context.Context, from domain.TaskStatus, task *domain.Task, actorID string) {
	event := domain.TaskEvent{
		EventID:     uuid.NewString(),
		TaskID:      task.ID,
		From:        from,
		To:          task.Status,
		ActorID:     actorID,
		RequesterID: task.RequesterID,
		WorkerID:    task.WorkerID,
		OccurredAt:  uc.now(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.publishTimeout)
	defer cancel()

	if err := uc.events.PublishTaskEvent(pubCtx, event); err != nil {
		uc.metrics.RecordEvent(event.RoutingKey(), "error")
		uc.logger.Error("Failed to publish task event",
			logger.CtxField(ctx),
			logger.String("task_id", task.ID),
			logger.String("routing_key", event.RoutingKey()),
			logger.Error(err),
		)
		return
	}
	uc.metrics.RecordEvent(event.RoutingKey(), "ok")
}

func (uc *DispatchUseCase) countConflict(err error) {
	if errors.CodeOf(err) == errors.ErrConflict {
		uc.metrics.RecordConflict()
	}
}

func (uc *DispatchUseCase) start(ctx context.Context, op, actorID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("actor.id", actorID))
	return uc.tracer.Start(ctx, "DispatchUseCase."+op, trace.WithAttributes(attrs...))
}

// finish закрывает спан и приводит ошибку к *errors.Error
func (uc *DispatchUseCase) finish(span trace.Span, err error) error {
	defer span.End()
	if err == nil {
		return nil
	}

	out, ok := errors.As(err)
	if !ok {
		out = errors.Wrap(err, errors.ErrInternal, "unexpected error")
	}
	span.SetAttributes(attribute.String("error.code", string(out.Code)))
	if out.Code == errors.ErrInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, out.Message)
	}
	return out
}

func requireActor(actorID string) error {
	if actorID == "" {
		return errors.New(errors.ErrUnauthorized, "actor is not authenticated")
	}
	return nil
}
