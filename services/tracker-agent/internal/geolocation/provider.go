package geolocation

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// Fix одно определение местоположения устройства
type Fix struct {
	Lat       float64   `json:"lat" yaml:"lat"`
	Lng       float64   `json:"lng" yaml:"lng"`
	Accuracy  *float64  `json:"accuracy,omitempty" yaml:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"-"`
}

// Options параметры запроса местоположения
type Options struct {
	// HighAccuracy запрашивает точный (и более дорогой по энергии) источник
	HighAccuracy bool
}

// Update очередное событие непрерывного отслеживания: либо Fix, либо Err
type Update struct {
	Fix Fix
	Err error
}

// Watch подписка на изменения местоположения
type Watch interface {
	Updates() <-chan Update
	Close() error
}

// Provider источник местоположения устройства
type Provider interface {
	// CurrentPosition возвращает одно определение. Время ожидания ограничивается ctx.
	CurrentPosition(ctx context.Context, opts Options) (Fix, error)
	// Watch открывает непрерывную подписку, живущую до Close или отмены ctx
	Watch(ctx context.Context, opts Options) (Watch, error)
}

// Cause класс ошибки геолокации
type Cause string

const (
	CausePermissionDenied    Cause = "PERMISSION_DENIED"
	CausePositionUnavailable Cause = "POSITION_UNAVAILABLE"
	CauseTimeout             Cause = "TIMEOUT"
	CauseUnsupported         Cause = "UNSUPPORTED"
)

// FixError ошибка определения местоположения с классифицированной причиной
type FixError struct {
	Cause Cause
	Err   error
}

// NewFixError создает ошибку с причиной cause
func NewFixError(cause Cause, err error) *FixError {
	return &FixError{Cause: cause, Err: err}
}

func (e *FixError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geolocation %s: %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("geolocation %s", e.Cause)
}

func (e *FixError) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по причине
func (e *FixError) Is(target error) bool {
	if t, ok := target.(*FixError); ok {
		return e.Cause == t.Cause
	}
	return false
}

// UserMessage сообщение, которое показывается исполнителю
func (e *FixError) UserMessage() string {
	switch e.Cause {
	case CausePermissionDenied:
		return "Доступ к геолокации запрещен. Разрешите его в настройках, чтобы выйти на линию."
	case CausePositionUnavailable:
		return "Не удалось определить местоположение. Проверьте GPS и подключение к сети."
	case CauseTimeout:
		return "Определение местоположения заняло слишком много времени. Попробуйте еще раз."
	case CauseUnsupported:
		return "Устройство не поддерживает геолокацию."
	default:
		return "Ошибка геолокации."
	}
}

// Fatal сообщает, что ошибка требует остановки отслеживания
func (e *FixError) Fatal() bool {
	return e.Cause == CausePermissionDenied || e.Cause == CauseUnsupported
}

var (
	ErrPermissionDenied    = NewFixError(CausePermissionDenied, nil)
	ErrPositionUnavailable = NewFixError(CausePositionUnavailable, nil)
	ErrTimeout             = NewFixError(CauseTimeout, nil)
	ErrUnsupported         = NewFixError(CauseUnsupported, nil)
)

// Classify приводит произвольную ошибку провайдера к *FixError.
// Истекший дедлайн считается таймаутом, неизвестные ошибки недоступностью позиции.
func Classify(err error) *FixError {
	if err == nil {
		return nil
	}
	var fe *FixError
	if stderrors.As(err, &fe) {
		return fe
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewFixError(CauseTimeout, err)
	}
	return NewFixError(CausePositionUnavailable, err)
}
