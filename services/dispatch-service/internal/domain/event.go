package domain

import (
	"strings"
	"time"
)

// TaskEvent уведомление о смене статуса поручения для канала push-уведомлений
type TaskEvent struct {
	EventID     string     `json:"event_id"`
	TaskID      string     `json:"task_id"`
	From        TaskStatus `json:"from"`
	To          TaskStatus `json:"to"`
	ActorID     string     `json:"actor_id"`
	RequesterID string     `json:"requester_id"`
	WorkerID    *string    `json:"worker_id,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// RoutingKey ключ маршрутизации вида task.matched
func (e TaskEvent) RoutingKey() string {
	return "task." + strings.ToLower(string(e.To))
}
