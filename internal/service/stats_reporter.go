package service

import (
	"context"
	"log"
	"tariff-auth/internal/metrics"
	"tariff-auth/internal/model"
	"tariff-auth/internal/ports"
	"time"
)

// StatsReporter : периодически пишет в лог размер черного списка и обновляет
// gauge auth_revoked_tokens. Останавливается при отмене контекста.
type StatsReporter struct {
	revocations ports.RevocationStore
	metrics     *metrics.Metrics
	interval    time.Duration
}

func NewStatsReporter(revocations ports.RevocationStore, m *metrics.Metrics, interval time.Duration) *StatsReporter {
	return &StatsReporter{revocations: revocations, metrics: m, interval: interval}
}

func (r *StatsReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Report(ctx)
	for {
		select {
		case <-ticker.C:
			r.Report(ctx)
		case <-ctx.Done():
			log.Println("[Stats] остановлен")
			return
		}
	}
}

func (r *StatsReporter) Report(ctx context.Context) {
	stats, err := r.revocations.Stats(ctx)
	if err != nil {
		log.Printf("[Stats] не удалось получить статистику черного списка: %v", err)
		return
	}

	log.Printf("[Stats] черный список: всего %d, access %d, refresh %d, custom %d",
		stats.Total, stats.Access, stats.Refresh, stats.Custom)

	r.metrics.RevokedTokens.WithLabelValues(string(model.TokenTypeAccess)).Set(float64(stats.Access))
	r.metrics.RevokedTokens.WithLabelValues(string(model.TokenTypeRefresh)).Set(float64(stats.Refresh))
	r.metrics.RevokedTokens.WithLabelValues(string(model.TokenTypeCustom)).Set(float64(stats.Custom))
}
