package handler

import (
	"log"
	"net/http"
	"strconv"
	"tariff-auth/config"
	"tariff-auth/internal/model"
	"tariff-auth/internal/ports"
	"tariff-auth/internal/security"
	"tariff-auth/internal/util"
	"time"

	"github.com/go-chi/httprate"
)

const (
	HeaderRateLimitLimit     = "X-Rate-Limit-Limit"
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	HeaderRateLimitReset     = "X-Rate-Limit-Reset"
)

// RateLimitMiddleware : лимит по IP клиента для области scope.
// Заголовки X-Rate-Limit-* выставляются на каждый ответ, при отказе добавляется Retry-After.
func RateLimitMiddleware(limiter ports.RateLimiter, scope model.RateLimitScope, trustProxyHeaders bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := security.ClientIP(r, trustProxyHeaders)
			status := limiter.CheckScope(r.Context(), scope, ip)
			setRateLimitHeaders(w, status)

			if !status.Allowed {
				log.Printf("[RateLimit] отказ: scope=%s ip=%s count=%d", scope.Name, ip, status.Count)
				util.HandleRetryableError(w, "слишком много запросов, попробуйте позже", http.StatusTooManyRequests, status.ResetAfter, time.Now())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BurstLimitMiddleware : лимит всплесков по IP в памяти инстанса (скользящее окно httprate).
// Отсекает поток запросов до обращения к общему хранилищу лимитов.
func BurstLimitMiddleware(rule config.RateLimitRule, trustProxyHeaders bool) func(next http.Handler) http.Handler {
	window := rule.WindowDuration()

	return httprate.Limit(rule.Limit, window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return security.ClientIP(r, trustProxyHeaders), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("[RateLimit] всплеск запросов: ip=%s", security.ClientIP(r, trustProxyHeaders))
			util.HandleRetryableError(w, "слишком много запросов, попробуйте позже", http.StatusTooManyRequests, window, time.Now())
		}),
	)
}

func setRateLimitHeaders(w http.ResponseWriter, status model.RateLimitStatus) {
	if status.Limit <= 0 {
		return
	}
	w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(status.Limit))
	w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(status.Remaining))
	w.Header().Set(HeaderRateLimitReset, strconv.FormatInt(status.ResetSeconds(), 10))
}
