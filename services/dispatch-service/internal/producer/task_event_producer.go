package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/pkg/rabbitmq"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
)

// EventPublisher отправляет уведомления о смене статуса поручения
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, event domain.TaskEvent) error
}

// TaskEventProducer публикует события поручений в RabbitMQ с ключом task.<status>
type TaskEventProducer struct {
	publisher rabbitmq.Publisher
	logger    logger.Logger
}

// NewTaskEventProducer создает новый экземпляр TaskEventProducer
func NewTaskEventProducer(publisher rabbitmq.Publisher, log logger.Logger) *TaskEventProducer {
	return &TaskEventProducer{publisher: publisher, logger: log}
}

func (p *TaskEventProducer) PublishTaskEvent(ctx context.Context, event domain.TaskEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to marshal task event").
			WithDetails(fmt.Sprintf("task_id: %s", event.TaskID)).
			WithContext(ctx)
	}

	err = p.publisher.Publish(ctx, body,
		rabbitmq.WithRoutingKey(event.RoutingKey()),
		rabbitmq.WithMessageID(event.EventID),
		rabbitmq.WithHeaders(amqp091.Table{
			"task_id":  event.TaskID,
			"trace_id": logger.TraceID(ctx),
		}),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to publish task event").
			WithDetails(fmt.Sprintf("task_id: %s, routing_key: %s", event.TaskID, event.RoutingKey())).
			WithContext(ctx)
	}

	p.logger.Debug("Task event published",
		logger.CtxField(ctx),
		logger.String("task_id", event.TaskID),
		logger.String("routing_key", event.RoutingKey()),
	)
	return nil
}

// NoopProducer используется, когда канал уведомлений отключен
type NoopProducer struct {
	logger logger.Logger
}

func NewNoopProducer(log logger.Logger) *NoopProducer {
	return &NoopProducer{logger: log}
}

func (p *NoopProducer) PublishTaskEvent(ctx context.Context, event domain.TaskEvent) error {
	p.logger.Debug("Notification channel disabled, event dropped",
		logger.CtxField(ctx),
		logger.String("task_id", event.TaskID),
		logger.String("routing_key", event.RoutingKey()),
	)
	return nil
}
