package service

import (
	"log"
	"math"
	"tariff-auth/internal/metrics"
	"tariff-auth/internal/observability"
	"time"
)

// securityDegraded : хранилище отказало, и проверка пропущена (fail-open) или запись
// безопасности не сделана
func securityDegraded(m *metrics.Metrics, component, action string, err error) {
	log.Printf("[%s] SECURITY DEGRADED: %s: %v", component, action, err)
	m.Degraded(component)
	observability.ReportDegradation(component, err)
}

// ceilSeconds : округление вверх, запись не должна истечь раньше токена
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
