package security

import (
	"context"
	"net"
	"net/http"
	"strings"
	"tariff-auth/internal/model"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
)

func WithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, principal)
}

func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	principal, ok := ctx.Value(PrincipalContextKey).(*model.Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

// ExtractBearerToken : второй результат false, если заголовка Authorization
// со схемой Bearer нет вовсе. Это не ошибка.
func ExtractBearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	if !found {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// ClientIP : адрес клиента. Заголовкам прокси доверяем только если это
// включено в конфигурации, иначе их легко подделать и обойти лимиты.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
