package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ErrandDispatchPlatform/pkg/logger"
)

// Error представляет ошибку платформы с кодом и деталями
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Details string          `json:"details,omitempty"`
	Cause   error           `json:"-"`
	Context context.Context `json:"-"`
}

// ErrorCode представляет код ошибки
type ErrorCode string

const (
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrValidation        ErrorCode = "VALIDATION_ERROR"
	ErrUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrForbidden         ErrorCode = "FORBIDDEN"
	ErrInternal          ErrorCode = "INTERNAL_ERROR"
	ErrConflict          ErrorCode = "CONFLICT"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrInvalidState      ErrorCode = "INVALID_STATE"
	ErrInvalidPosition   ErrorCode = "INVALID_POSITION"
	ErrTooManyRequests   ErrorCode = "TOO_MANY_REQUESTS"
)

// errorDomain попадает в ErrorInfo.Domain для gRPC ответов
const errorDomain = "errand-dispatch"

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую ошибку
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap оборачивает существующую ошибку. Для nil возвращает nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithDetails возвращает копию ошибки с деталями
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Details = details
	return &cp
}

// WithContext возвращает копию ошибки с контекстом запроса
func (e *Error) WithContext(ctx context.Context) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Context = ctx
	return &cp
}

// As извлекает *Error из цепочки ошибок
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is сообщает, есть ли в цепочке err ошибка с кодом target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// CodeOf возвращает код ошибки или ErrInternal для посторонних ошибок
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrInternal
}

// ToGRPCErr переводит ошибку в gRPC статус
func (e *Error) ToGRPCErr() error {
	if e == nil {
		return nil
	}

	st := status.New(e.grpcCode(), e.Message)

	metadata := map[string]string{}
	if e.Details != "" {
		metadata["details"] = e.Details
	}
	if traceID := logger.TraceID(e.Context); traceID != "" {
		metadata["trace_id"] = traceID
	}

	withDetails, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   errorDomain,
		Metadata: metadata,
	})
	if err == nil {
		st = withDetails
	}

	return st.Err()
}

func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case ErrNotFound:
		return codes.NotFound
	case ErrValidation, ErrInvalidTransition, ErrInvalidPosition:
		return codes.InvalidArgument
	case ErrInvalidState:
		return codes.FailedPrecondition
	case ErrUnauthorized:
		return codes.Unauthenticated
	case ErrForbidden:
		return codes.PermissionDenied
	case ErrConflict:
		return codes.Aborted
	case ErrTooManyRequests:
		return codes.ResourceExhausted
	case ErrInternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// HTTPStatus возвращает HTTP статус для ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}

	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation, ErrInvalidTransition, ErrInvalidState, ErrInvalidPosition:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// GetUserMessage возвращает сообщение для конечного пользователя
func (e *Error) GetUserMessage() string {
	if e == nil {
		return ""
	}

	switch e.Code {
	case ErrNotFound:
		return "Ресурс не найден"
	case ErrValidation:
		return "Ошибка валидации данных"
	case ErrUnauthorized:
		return "Не авторизован"
	case ErrForbidden:
		return "Доступ запрещен"
	case ErrConflict:
		return "Задание уже изменено или занято другим исполнителем"
	case ErrInvalidTransition:
		return "Недопустимая смена статуса"
	case ErrInvalidState:
		return "Операция недоступна в текущем статусе"
	case ErrInvalidPosition:
		return "Некорректные координаты"
	case ErrTooManyRequests:
		return "Слишком много запросов"
	case ErrInternal:
		return "Внутренняя ошибка сервера"
	default:
		return "Произошла ошибка"
	}
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// WriteHTTP пишет ошибку в формате {"error":{"code","message","details"}}.
// Ошибки, не являющиеся *Error, отдаются как INTERNAL_ERROR без подробностей.
func WriteHTTP(w http.ResponseWriter, err error) {
	e, ok := As(err)
	if !ok {
		e = New(ErrInternal, "internal error")
	}

	details := e.Details
	if details == "" && e.Code != ErrInternal {
		details = e.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorPayload{
		Code:    e.Code,
		Message: e.GetUserMessage(),
		Details: details,
	}})
}

// Middleware перехватывает панику обработчика и отвечает INTERNAL_ERROR
func Middleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					log.Error("panic in http handler",
						logger.CtxField(r.Context()),
						logger.String("path", r.URL.Path),
						logger.Any("panic", recovered),
					)
					WriteHTTP(w, New(ErrInternal, "internal server error").
						WithDetails(fmt.Sprintf("panic: %v", recovered)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
