package main

import (
	"errors"
	"fmt"
	"log"
	"tariff-auth/config"
	"tariff-auth/internal/metrics"
	"tariff-auth/internal/notifier"
	"tariff-auth/internal/ports"
	"tariff-auth/internal/repository"
	"tariff-auth/internal/security"
	"tariff-auth/internal/service"

	"github.com/nats-io/nats.go"
)

// application : собранные зависимости сервиса, общие для HTTP и CLI команд
type application struct {
	cfg *config.AppConfig

	db     *config.Database
	redis  *config.RedisClient
	memory *repository.MemoryStore
	nats   *notifier.NATSNotifier

	store       ports.KeyValueStore
	users       *repository.UserRepository
	audit       ports.AuditNotifier
	metrics     *metrics.Metrics
	codec       *security.JWTService
	revocations *service.RevocationService
	limiter     *service.RateLimitService
	lockout     *service.LockoutService
	auth        *service.AuthenticationService
}

func newApplication(cfg *config.AppConfig, m *metrics.Metrics) (*application, error) {
	app := &application{cfg: cfg, metrics: m}

	db, err := newDatabase(cfg)
	if err != nil {
		return nil, err
	}
	app.db = db

	if err := app.setupStore(); err != nil {
		app.Close()
		return nil, err
	}

	app.setupNotifier()

	app.users = repository.NewUserRepository(db, cfg.DatabaseConfig.Timeout())
	app.codec = security.NewJWTService(&cfg.JWT)
	app.revocations = service.NewRevocationService(app.store, app.audit, m, app.codec.RefreshTTL())
	app.limiter = service.NewRateLimitService(app.store, m, cfg.RateLimit)
	app.lockout = service.NewLockoutService(app.users, app.store, app.audit, m, cfg.Lockout)
	app.auth = service.NewAuthenticationService(app.codec, app.users, app.revocations, app.limiter, app.lockout, m, app.limiter.Scopes())

	return app, nil
}

func newDatabase(cfg *config.AppConfig) (*config.Database, error) {
	db, err := config.SetupDatabase(cfg.DatabaseConfig.DSN)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к БД: %w", err)
	}
	return db, nil
}

func (a *application) setupStore() error {
	switch a.cfg.Store.Driver {
	case "memory":
		log.Println("[Store] используется память процесса, состояние не разделяется между инстансами")
		a.memory = repository.NewMemoryStore(a.cfg.Store.MaxEntries)
		a.memory.StartJanitor(a.cfg.Store.Cleanup())
		a.store = a.memory
	default:
		rdb, err := config.SetupRedis(&a.cfg.RedisConfig)
		if err != nil {
			return fmt.Errorf("ошибка подключения к Redis: %w", err)
		}
		a.redis = rdb
		a.store = repository.NewRedisStore(rdb, a.cfg.RedisConfig.Timeout())
	}
	return nil
}

// setupNotifier : аудит всегда пишется в лог, в NATS только если задан url.
// Недоступный NATS не мешает запуску.
func (a *application) setupNotifier() {
	audit := notifier.MultiNotifier{notifier.LogNotifier{}}

	if a.cfg.NATS.URL != "" {
		nc, err := notifier.NewNATSNotifier(a.cfg.NATS.URL, a.cfg.NATS.AuditSubject,
			nats.Name(a.cfg.Tracing.ServiceName),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Printf("[Audit] NATS недоступен, события пишутся только в лог: %v", err)
		} else {
			a.nats = nc
			audit = append(audit, nc)
		}
	}

	a.audit = audit
}

func (a *application) Close() {
	a.nats.Close()

	var errs []error
	if a.memory != nil {
		errs = append(errs, a.memory.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}

	if err := errors.Join(errs...); err != nil {
		log.Printf("Ошибка при закрытии соединений: %v", err)
	}
}
