package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"tariff-auth/config"
	"tariff-auth/internal/metrics"
	"tariff-auth/internal/model"
	"tariff-auth/internal/ports"
	"tariff-auth/internal/util"
	"time"
)

const (
	ScopeLogin         = "login"
	ScopeRegistration  = "registration"
	ScopePasswordReset = "password_reset"
	ScopeGlobalIP      = "global_ip"
	ScopeUser          = "user"

	rateLimitComponent = "RateLimit"
	customScope        = "custom"
)

// Scopes : встроенные области лимитов
type Scopes struct {
	Login         model.RateLimitScope
	Registration  model.RateLimitScope
	PasswordReset model.RateLimitScope
	GlobalIP      model.RateLimitScope
	User          model.RateLimitScope
}

func NewScopes(cfg config.RateLimitConfig) Scopes {
	return Scopes{
		Login:         newScope(ScopeLogin, "rate_limit:login:", cfg.Login),
		Registration:  newScope(ScopeRegistration, "rate_limit:register:", cfg.Registration),
		PasswordReset: newScope(ScopePasswordReset, "rate_limit:password_reset:", cfg.PasswordReset),
		GlobalIP:      newScope(ScopeGlobalIP, "rate_limit:ip:", cfg.GlobalIP),
		User:          newScope(ScopeUser, "rate_limit:user:", cfg.User),
	}
}

func newScope(name, prefix string, rule config.RateLimitRule) model.RateLimitScope {
	return model.RateLimitScope{
		Name:   name,
		Prefix: prefix,
		Limit:  rule.Limit,
		Window: rule.WindowDuration(),
	}
}

// PerIP : области, где идентификатор это IP клиента
func (s Scopes) PerIP() []model.RateLimitScope {
	return []model.RateLimitScope{s.Login, s.Registration, s.PasswordReset, s.GlobalIP}
}

func (s Scopes) All() []model.RateLimitScope {
	return append(s.PerIP(), s.User)
}

// RateLimitService : счетчики с фиксированным окном в общем KV хранилище
type RateLimitService struct {
	store   ports.KeyValueStore
	metrics *metrics.Metrics
	scopes  Scopes
	enabled bool
}

func NewRateLimitService(store ports.KeyValueStore, m *metrics.Metrics, cfg config.RateLimitConfig) *RateLimitService {
	return &RateLimitService{
		store:   store,
		metrics: m,
		scopes:  NewScopes(cfg),
		enabled: cfg.IsEnabled(),
	}
}

func (s *RateLimitService) Scopes() Scopes {
	return s.scopes
}

func (s *RateLimitService) Enabled() bool {
	return s.enabled
}

// CheckAndConsume увеличивает счетчик ключа и решает, пропускать ли запрос.
//
// Первый инкремент в окне выставляет TTL = window. Запрос разрешен, пока
// count <= limit. Гонка двух "первых" запросов допускает максимум один лишний.
//
// При недоступном хранилище запрос пропускается (fail-open): лимитер не должен
// сам становиться причиной отказа в обслуживании. Поврежденное значение
// удаляется, и окно начинается заново с 1.
func (s *RateLimitService) CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) model.RateLimitStatus {
	return s.consume(ctx, s.scopeName(key), key, limit, window)
}

// CheckScope : CheckAndConsume для ключа области
func (s *RateLimitService) CheckScope(ctx context.Context, scope model.RateLimitScope, identity string) model.RateLimitStatus {
	return s.consume(ctx, scope.Name, scope.Key(identity), scope.Limit, scope.Window)
}

func (s *RateLimitService) consume(ctx context.Context, scopeName, key string, limit int, window time.Duration) model.RateLimitStatus {
	status := model.RateLimitStatus{Key: key, Limit: limit, Allowed: true, Remaining: limit, ResetAfter: window}
	if !s.enabled || limit <= 0 {
		return status
	}

	count, ttl, err := s.store.IncrementWithExpiry(ctx, key, window)
	if errors.Is(err, ports.ErrCorruptedValue) {
		log.Printf("[RateLimit] поврежденный счетчик %s, окно начинается заново", key)
		if err = s.store.Delete(ctx, key); err == nil {
			count, ttl, err = s.store.IncrementWithExpiry(ctx, key, window)
		}
	}
	if err != nil {
		securityDegraded(s.metrics, rateLimitComponent, "лимит "+key+" не проверен, запрос пропущен", err)
		return status
	}

	status.Count = count
	status.Allowed = count <= int64(limit)
	status.Remaining = max(0, limit-int(count))
	status.ResetAfter = ttl

	s.metrics.RateLimitDecision(scopeName, status.Allowed)
	if !status.Allowed {
		log.Printf("[RateLimit] лимит исчерпан: key=%s count=%d limit=%d", key, count, limit)
	}
	return status
}

// Peek : состояние счетчика без инкремента. Нечисловое значение читается как 0.
func (s *RateLimitService) Peek(ctx context.Context, key string, limit int) model.RateLimitStatus {
	status := model.RateLimitStatus{Key: key, Limit: limit, Allowed: true, Remaining: limit}

	value, found, err := s.store.Get(ctx, key)
	if err != nil {
		log.Printf("[RateLimit] не удалось прочитать счетчик %s: %v", key, err)
		return status
	}
	if !found {
		return status
	}

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return status
	}

	ttl, err := s.store.TTL(ctx, key)
	if err != nil {
		log.Printf("[RateLimit] не удалось прочитать TTL %s: %v", key, err)
	}

	status.Count = count
	status.Allowed = limit <= 0 || count < int64(limit)
	status.Remaining = max(0, limit-int(count))
	status.ResetAfter = ttl
	return status
}

// Reset : административный сброс счетчика
func (s *RateLimitService) Reset(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return util.LogError("[RateLimit] не удалось сбросить счетчик", err)
	}
	log.Printf("[RateLimit] счетчик %s сброшен", key)
	return nil
}

// StatusForIP : сводка по всем IP-областям
func (s *RateLimitService) StatusForIP(ctx context.Context, ip string) model.IPRateLimitStatus {
	result := model.IPRateLimitStatus{
		IPAddress: ip,
		Scopes:    make(map[string]model.RateLimitStatus),
	}
	for _, scope := range s.scopes.PerIP() {
		result.Scopes[scope.Name] = s.Peek(ctx, scope.Key(ip), scope.Limit)
	}
	return result
}

// ClearIP : сбрасывает все IP-счетчики одного адреса
func (s *RateLimitService) ClearIP(ctx context.Context, ip string) error {
	scopes := s.scopes.PerIP()
	keys := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		keys = append(keys, scope.Key(ip))
	}

	if err := s.store.Delete(ctx, keys...); err != nil {
		return util.LogError("[RateLimit] не удалось сбросить лимиты IP", err)
	}
	log.Printf("[RateLimit] лимиты для IP %s сброшены", ip)
	return nil
}

// IsSuspicious : IP выбрал лимит сразу в двух и более областях
func (s *RateLimitService) IsSuspicious(ctx context.Context, ip string) bool {
	exhausted := 0
	for _, status := range s.StatusForIP(ctx, ip).Scopes {
		if status.Exhausted() {
			exhausted++
		}
	}

	if exhausted >= 2 {
		log.Printf("[RateLimit] подозрительная активность с IP %s: исчерпано областей %d", ip, exhausted)
		return true
	}
	return false
}

func (s *RateLimitService) scopeName(key string) string {
	for _, scope := range s.scopes.All() {
		if strings.HasPrefix(key, scope.Prefix) {
			return scope.Name
		}
	}
	return customScope
}
