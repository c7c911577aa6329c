package auth

import (
	"context"
	"net/http"
	"strings"

	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/pkg/logger"
)

type actorKey struct{}

// ContextWithActor сохраняет ID аутентифицированного пользователя
func ContextWithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext возвращает ID пользователя, положенный middleware
func ActorFromContext(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorKey{}).(string)
	return actorID, ok && actorID != ""
}

// Middleware аутентифицирует запросы по заголовку Authorization: Bearer
type Middleware struct {
	validator TokenValidator
	logger    logger.Logger
}

// NewMiddleware создает новый middleware для аутентификации
func NewMiddleware(validator TokenValidator, log logger.Logger) *Middleware {
	return &Middleware{validator: validator, logger: log}
}

// Authenticate пропускает запрос дальше только с валидным access-токеном
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			errors.WriteHTTP(w, errors.New(errors.ErrUnauthorized, "missing Authorization header"))
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			errors.WriteHTTP(w, errors.New(errors.ErrUnauthorized, "invalid Authorization header format"))
			return
		}

		claims, err := m.validator.ValidateAccessToken(strings.TrimSpace(token))
		if err != nil {
			m.logger.Warn("Token validation failed",
				logger.CtxField(r.Context()),
				logger.String("path", r.URL.Path),
				logger.Error(err),
			)
			errors.WriteHTTP(w, errors.New(errors.ErrUnauthorized, "invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), claims.UserID)))
	})
}
