package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics : счетчики слоя безопасности, отдаются на /metrics
type Metrics struct {
	RateLimitDecisions *prometheus.CounterVec
	StoreDegraded      *prometheus.CounterVec
	RevokedTokens      *prometheus.GaugeVec
	AccountLockouts    prometheus.Counter
	LoginAttempts      *prometheus.CounterVec
	TokenRejections    *prometheus.CounterVec
	TokensIssued       *prometheus.CounterVec
	Revocations        *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RateLimitDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "rate_limit_decisions_total",
			Help:      "Решения rate limiter по областям.",
		}, []string{"scope", "decision"}),
		StoreDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "store_degraded_total",
			Help:      "Операции, выполненные в режиме fail-open из-за недоступного хранилища.",
		}, []string{"component"}),
		RevokedTokens: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "auth",
			Name:      "revoked_tokens",
			Help:      "Количество токенов в черном списке по типам.",
		}, []string{"type"}),
		AccountLockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "account_lockouts_total",
			Help:      "Количество блокировок учетных записей.",
		}),
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "login_attempts_total",
			Help:      "Попытки входа по результату.",
		}, []string{"outcome"}),
		TokenRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "token_rejections_total",
			Help:      "Отклоненные токены по причине.",
		}, []string{"kind"}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "tokens_issued_total",
			Help:      "Выпущенные токены по типам.",
		}, []string{"type"}),
		Revocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "revocations_total",
			Help:      "Записи, добавленные в черный список, по типам токенов.",
		}, []string{"type"}),
	}
}

// Noop : метрики на отдельном реестре, который никто не читает (тесты, CLI)
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) RateLimitDecision(scope string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	m.RateLimitDecisions.WithLabelValues(scope, decision).Inc()
}

func (m *Metrics) Degraded(component string) {
	m.StoreDegraded.WithLabelValues(component).Inc()
}

func (m *Metrics) LoginAttempt(outcome string) {
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenRejected(kind string) {
	m.TokenRejections.WithLabelValues(kind).Inc()
}

// TokenPairIssued : access + refresh одной выдачей
func (m *Metrics) TokenPairIssued() {
	m.TokensIssued.WithLabelValues("access").Inc()
	m.TokensIssued.WithLabelValues("refresh").Inc()
}

func (m *Metrics) Revoked(tokenType string) {
	if tokenType == "" {
		tokenType = "unknown"
	}
	m.Revocations.WithLabelValues(tokenType).Inc()
}
