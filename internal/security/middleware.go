package security

import (
	"log"
	"net/http"
	"tariff-auth/internal/model"
	"tariff-auth/internal/util"
)

// UnauthorizedMessage : одинаковый ответ для невалидного, просроченного и отозванного токена
const UnauthorizedMessage = "необходимо войти заново"

type Authenticator interface {
	Authenticate(r *http.Request, expected model.TokenType) (*model.Principal, error)
}

// AuthMiddleware проверяет bearer-токен и кладет субъекта в контекст запроса.
// Запрос без токена проходит дальше неаутентифицированным, отказ выносит RequireAuth.
func AuthMiddleware(authenticator Authenticator, expected model.TokenType) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			principal, err := authenticator.Authenticate(request, expected)
			if err != nil {
				log.Printf("[Auth] отказ в аутентификации (%s): %v", TokenErrorKind(err), err)
				util.HandleError(writer, UnauthorizedMessage, http.StatusUnauthorized)
				return
			}

			if principal == nil {
				next.ServeHTTP(writer, request)
				return
			}

			next.ServeHTTP(writer, request.WithContext(WithPrincipal(request.Context(), principal)))
		})
	}
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if _, ok := PrincipalFromContext(request.Context()); !ok {
			util.HandleError(writer, UnauthorizedMessage, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(writer, request)
	})
}

func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			principal, ok := PrincipalFromContext(request.Context())
			if !ok {
				util.HandleError(writer, UnauthorizedMessage, http.StatusUnauthorized)
				return
			}
			if principal.Role != role {
				util.HandleError(writer, "доступ запрещён", http.StatusForbidden)
				return
			}
			next.ServeHTTP(writer, request)
		})
	}
}
