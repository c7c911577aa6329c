package domain

import "time"

// ApplicationStatus статус отклика исполнителя
type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "pending"
	ApplicationStatusAccepted ApplicationStatus = "accepted"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// Application отклик исполнителя на открытое поручение
type Application struct {
	ID            string            `json:"id"`
	TaskID        string            `json:"task_id"`
	WorkerID      string            `json:"worker_id"`
	ProposedPrice *int64            `json:"proposed_price,omitempty"`
	Message       *string           `json:"message,omitempty"`
	Status        ApplicationStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

// EffectivePrice возвращает предложенную цену или итоговую цену поручения
func (a *Application) EffectivePrice(task *Task) int64 {
	if a.ProposedPrice != nil {
		return *a.ProposedPrice
	}
	return task.TotalPrice
}

// IsClosed вычисляет закрытие отклика по состоянию поручения.
// Конкурирующие отклики не переписываются при назначении исполнителя.
func (a *Application) IsClosed(task *Task) bool {
	if a.Status != ApplicationStatusPending {
		return true
	}
	return task.Status != TaskStatusOpen
}

// ApplicationView отклик вместе с производным признаком закрытия
type ApplicationView struct {
	*Application
	Closed bool `json:"closed"`
}
