package domain

import "ErrandDispatchPlatform/pkg/errors"

// Ошибки предметной области. Сравниваются через errors.Is по коду.
var (
	ErrTaskNotFound        = errors.New(errors.ErrNotFound, "task not found")
	ErrApplicationNotFound = errors.New(errors.ErrNotFound, "application not found")
	ErrWorkerNotFound      = errors.New(errors.ErrNotFound, "worker profile not found")
	ErrLocationNotFound    = errors.New(errors.ErrNotFound, "worker location not found")

	ErrInvalidTransition = errors.New(errors.ErrInvalidTransition, "transition is not allowed")
	ErrForbidden         = errors.New(errors.ErrForbidden, "actor is not allowed to perform this action")
	ErrConflict          = errors.New(errors.ErrConflict, "task was changed concurrently")
	ErrInvalidState      = errors.New(errors.ErrInvalidState, "operation is not allowed in current task status")
	ErrInvalidPosition   = errors.New(errors.ErrInvalidPosition, "invalid position")
	ErrValidation        = errors.New(errors.ErrValidation, "validation failed")
)
