// Package middleware содержит HTTP middleware кассового сервиса.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const operatorIDKey contextKey = "operatorID"

// OperatorHeader содержит идентификатор кассира, выполняющего операцию.
const OperatorHeader = "X-Operator-ID"

// Operator переносит идентификатор кассира из заголовка запроса в контекст.
func Operator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(OperatorHeader))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), operatorIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireOperator отклоняет запросы без идентификатора кассира.
func RequireOperator(next http.Handler) http.Handler {
	return Operator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetOperatorIDFromContext(r.Context()); !ok {
			http.Error(w, "operator id required", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// GetOperatorIDFromContext извлекает идентификатор кассира из контекста запроса.
func GetOperatorIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(operatorIDKey).(string)
	return id, ok && id != ""
}

// WithOperatorID добавляет идентификатор кассира в контекст.
func WithOperatorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operatorIDKey, id)
}
