// Package policy решает, допустима ли смена статуса поручения и правка его содержимого.
// Пакет не обращается к хранилищам и не знает о времени.
package policy

import (
	"fmt"

	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
)

// FailureKind вид отказа
type FailureKind string

const (
	// KindInvalidTransition переход отсутствует в таблице
	KindInvalidTransition FailureKind = "InvalidTransition"
	// KindForbidden переход есть в таблице, но роль не позволяет его выполнить
	KindForbidden FailureKind = "Forbidden"
	// KindInvalidState операция не допускается в текущем статусе
	KindInvalidState FailureKind = "InvalidState"
)

// Effects побочные эффекты принятого перехода
type Effects struct {
	AssignWorker      bool
	SetStartedAt      bool
	SetCompletedAt    bool
	SetCancelledAt    bool
	StoreCancelReason bool
}

// Decision результат проверки
type Decision struct {
	Allowed bool
	Kind    FailureKind
	Reason  string
	Effects Effects
}

// Options дополнительные сведения о запросе
type Options struct {
	// ViaApplication заказчик принимает отклик исполнителя
	ViaApplication bool
}

var transitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskStatusOpen:       {domain.TaskStatusMatched, domain.TaskStatusCancelled},
	domain.TaskStatusMatched:    {domain.TaskStatusInProgress, domain.TaskStatusCancelled},
	domain.TaskStatusInProgress: {domain.TaskStatusCompleted, domain.TaskStatusCancelled},
}

// IsLegal сообщает, есть ли переход в таблице
func IsLegal(from, to domain.TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransition проверяет переход current -> requested для роли.
// Сначала проверяется таблица, затем роль: переход вне таблицы всегда InvalidTransition.
func CanTransition(current, requested domain.TaskStatus, role domain.Role, opts Options) Decision {
	if !IsLegal(current, requested) {
		return deny(KindInvalidTransition, fmt.Sprintf("%s -> %s is not a legal transition", current, requested))
	}

	switch requested {
	case domain.TaskStatusMatched:
		switch {
		case role == domain.RoleCandidate:
			return allow(Effects{AssignWorker: true})
		case role == domain.RoleRequester && opts.ViaApplication:
			return allow(Effects{AssignWorker: true})
		case role == domain.RoleRequester:
			return deny(KindForbidden, "requester assigns a worker only by accepting an application")
		default:
			return deny(KindForbidden, "task already has an assigned worker")
		}

	case domain.TaskStatusInProgress:
		if role != domain.RoleWorker {
			return deny(KindForbidden, "only the assigned worker may start the task")
		}
		return allow(Effects{SetStartedAt: true})

	case domain.TaskStatusCompleted:
		if role != domain.RoleWorker {
			return deny(KindForbidden, "only the assigned worker may complete the task")
		}
		return allow(Effects{SetCompletedAt: true})

	case domain.TaskStatusCancelled:
		// исполнитель появляется только после MATCHED, поэтому отмена из OPEN ему недоступна
		if role != domain.RoleRequester && role != domain.RoleWorker {
			return deny(KindForbidden, "only the requester or the assigned worker may cancel")
		}
		return allow(Effects{SetCancelledAt: true, StoreCancelReason: true})
	}

	return deny(KindInvalidTransition, fmt.Sprintf("%s -> %s is not a legal transition", current, requested))
}

// CanEditContent проверяет правку заголовка, описания и чаевых
func CanEditContent(current domain.TaskStatus, role domain.Role) Decision {
	if role != domain.RoleRequester {
		return deny(KindForbidden, "only the requester may edit the task")
	}
	if current != domain.TaskStatusOpen {
		return deny(KindInvalidState, fmt.Sprintf("task content is editable only while OPEN, current status %s", current))
	}
	return allow(Effects{})
}

// CanDelete проверяет физическое удаление поручения
func CanDelete(current domain.TaskStatus, role domain.Role) Decision {
	if role != domain.RoleRequester {
		return deny(KindForbidden, "only the requester may delete the task")
	}
	if current != domain.TaskStatusOpen && current != domain.TaskStatusCancelled {
		return deny(KindInvalidState, fmt.Sprintf("task in status %s cannot be deleted", current))
	}
	return allow(Effects{})
}

// Err возвращает ошибку предметной области для отказа или nil
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Kind {
	case KindForbidden:
		return domain.ErrForbidden.WithDetails(d.Reason)
	case KindInvalidState:
		return domain.ErrInvalidState.WithDetails(d.Reason)
	default:
		return domain.ErrInvalidTransition.WithDetails(d.Reason)
	}
}

func allow(e Effects) Decision {
	return Decision{Allowed: true, Effects: e}
}

func deny(kind FailureKind, reason string) Decision {
	return Decision{Kind: kind, Reason: reason}
}
