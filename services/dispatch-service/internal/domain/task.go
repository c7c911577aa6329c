package domain

import (
	"time"

	"ErrandDispatchPlatform/pkg/validation"
)

// MaxPrice предел для каждой составляющей цены в минимальных единицах.
// Сумма трех составляющих не переполняет int64.
const MaxPrice int64 = 100_000_000_000

// TaskStatus представляет статус поручения
type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "OPEN"
	TaskStatusMatched    TaskStatus = "MATCHED"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// AllTaskStatuses перечисляет статусы в порядке жизненного цикла
var AllTaskStatuses = []TaskStatus{
	TaskStatusOpen,
	TaskStatusMatched,
	TaskStatusInProgress,
	TaskStatusCompleted,
	TaskStatusCancelled,
}

// IsTerminal сообщает, что из статуса нет переходов
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// IsValid проверяет, что статус входит в перечисление
func (s TaskStatus) IsValid() bool {
	for _, known := range AllTaskStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseTaskStatus разбирает статус из внешнего представления.
// Ошибка имеет код VALIDATION_ERROR и перечисляет допустимые значения.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	names := make([]string, len(AllTaskStatuses))
	for i, s := range AllTaskStatuses {
		names[i] = string(s)
	}
	if err := validation.NewValidator().ValidateEnum(raw, names, "status"); err != nil {
		return "", err
	}
	return TaskStatus(raw), nil
}

// Role роль участника относительно конкретного поручения
type Role string

const (
	// RoleRequester автор поручения
	RoleRequester Role = "requester"
	// RoleWorker назначенный исполнитель
	RoleWorker Role = "worker"
	// RoleCandidate любой другой пользователь, пока исполнитель не назначен
	RoleCandidate Role = "candidate"
	// RoleNone посторонний пользователь для уже назначенного поручения
	RoleNone Role = "none"
)

// Task представляет поручение заказчика. Цены хранятся в минимальных денежных единицах.
type Task struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requester_id"`
	WorkerID    *string    `json:"worker_id,omitempty"`
	Status      TaskStatus `json:"status"`

	Title       string `json:"title"`
	Description string `json:"description"`

	BasePrice     int64 `json:"base_price"`
	DistancePrice int64 `json:"distance_price"`
	Tip           int64 `json:"tip"`
	TotalPrice    int64 `json:"total_price"`

	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason *string    `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version увеличивается при каждой записи и служит ключом compare-and-swap
	Version int64 `json:"-"`
}

// ComputeTotal пересчитывает итоговую цену
func (t *Task) ComputeTotal() {
	t.TotalPrice = t.BasePrice + t.DistancePrice + t.Tip
}

// RoleOf определяет роль пользователя для поручения
func (t *Task) RoleOf(actorID string) Role {
	switch {
	case actorID == t.RequesterID:
		return RoleRequester
	case t.WorkerID != nil && actorID == *t.WorkerID:
		return RoleWorker
	case t.WorkerID == nil:
		return RoleCandidate
	default:
		return RoleNone
	}
}

// IsDeletable сообщает, допускает ли статус физическое удаление
func (t *Task) IsDeletable() bool {
	return t.Status == TaskStatusOpen || t.Status == TaskStatusCancelled
}

// Clone возвращает глубокую копию поручения
func (t *Task) Clone() *Task {
	cp := *t
	cp.WorkerID = clonePtr(t.WorkerID)
	cp.StartedAt = clonePtr(t.StartedAt)
	cp.CompletedAt = clonePtr(t.CompletedAt)
	cp.CancelledAt = clonePtr(t.CancelledAt)
	cp.CancelReason = clonePtr(t.CancelReason)
	return &cp
}

// ContentPatch частичное изменение содержимого поручения
type ContentPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Tip         *int64  `json:"tip,omitempty"`
}

// IsEmpty сообщает, что патч ничего не меняет
func (p ContentPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Tip == nil
}

// Apply применяет патч и пересчитывает итоговую цену
func (p ContentPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Tip != nil {
		t.Tip = *p.Tip
	}
	t.ComputeTotal()
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
