package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ErrandDispatchPlatform/pkg/logger"
)

// TestWrap проверяет оборачивание ошибки драйвера
func TestWrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	e := Wrap(cause, ErrInternal, "failed to load task")

	require.NotNil(t, e)
	assert.Equal(t, ErrInternal, e.Code)
	assert.Equal(t, "failed to load task: connection reset", e.Error())
	assert.True(t, stderrors.Is(e, cause))
	assert.Nil(t, Wrap(nil, ErrInternal, "noop"))
}

func TestWithDetailsDoesNotMutateOriginal(t *testing.T) {
	e := New(ErrForbidden, "only the requester may delete")
	withDetails := e.WithDetails("task_id: t-1")

	assert.Equal(t, "task_id: t-1", withDetails.Details)
	assert.Empty(t, e.Details)
}

// TestIs проверяет сравнение по коду через цепочку fmt.Errorf
func TestIs(t *testing.T) {
	sentinel := New(ErrConflict, "task changed concurrently")
	wrapped := fmt.Errorf("apply transition: %w", New(ErrConflict, "status mismatch"))

	assert.True(t, stderrors.Is(wrapped, sentinel))
	assert.False(t, stderrors.Is(wrapped, New(ErrNotFound, "x")))
	assert.True(t, Is(wrapped, sentinel))
	assert.Equal(t, ErrConflict, CodeOf(wrapped))
	assert.Equal(t, ErrInternal, CodeOf(fmt.Errorf("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrNotFound:          http.StatusNotFound,
		ErrInvalidTransition: http.StatusBadRequest,
		ErrInvalidState:      http.StatusBadRequest,
		ErrInvalidPosition:   http.StatusBadRequest,
		ErrValidation:        http.StatusBadRequest,
		ErrForbidden:         http.StatusForbidden,
		ErrUnauthorized:      http.StatusUnauthorized,
		ErrConflict:          http.StatusConflict,
		ErrTooManyRequests:   http.StatusTooManyRequests,
		ErrInternal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, New(code, "x").HTTPStatus(), code)
	}
}

// TestToGRPCErr проверяет, что код и детали передаются в ErrorInfo
func TestToGRPCErr(t *testing.T) {
	ctx := logger.ContextWithTraceID(context.Background(), "trace-1")
	e := New(ErrInvalidTransition, "COMPLETED -> CANCELLED").WithDetails("terminal").WithContext(ctx)

	grpcErr := e.ToGRPCErr()
	st, ok := status.FromError(grpcErr)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())

	require.Len(t, st.Details(), 1)
	info, ok := st.Details()[0].(*errdetails.ErrorInfo)
	require.True(t, ok)
	assert.Equal(t, string(ErrInvalidTransition), info.GetReason())
	assert.Equal(t, errorDomain, info.GetDomain())
	assert.Equal(t, "terminal", info.GetMetadata()["details"])
	assert.Equal(t, "trace-1", info.GetMetadata()["trace_id"])
}

func TestWriteHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, fmt.Errorf("wrap: %w", New(ErrConflict, "task already taken")))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrConflict, body.Error.Code)
	assert.Equal(t, "task already taken", body.Error.Details)

	rec = httptest.NewRecorder()
	WriteHTTP(rec, fmt.Errorf("raw driver error"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "raw driver error")
}

// TestMiddleware_RecoversPanic проверяет восстановление после паники
func TestMiddleware_RecoversPanic(t *testing.T) {
	h := Middleware(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/1", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(ErrInternal))
}
