package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"tariff-auth/config"
	_ "tariff-auth/docs"
	"tariff-auth/internal/handler"
	"tariff-auth/internal/metrics"
	"tariff-auth/internal/observability"
	"tariff-auth/internal/service"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title tariff-auth
// @version 1.0
// @description REST API подсистемы аутентификации: токены, отзыв, лимиты запросов, блокировки

// @host localhost:8080

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ошибка: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "tariff-auth",
		Short:         "Сервис аутентификации: токены, черный список, лимиты, блокировки",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Путь к файлу конфигурации")

	load := func() (*config.AppConfig, error) {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
		}
		return cfg, nil
	}

	serveCmd := newServeCommand(load)
	cmd.RunE = serveCmd.RunE

	cmd.AddCommand(serveCmd)
	cmd.AddCommand(newMigrateCommand(load))
	cmd.AddCommand(newUnlockCommand(load))
	cmd.AddCommand(newRevokeUserCommand(load))
	cmd.AddCommand(newPurposeTokenCommand(load))
	cmd.AddCommand(newRateLimitCommand(load))
	return cmd
}

type configLoader func() (*config.AppConfig, error)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newServeCommand(load configLoader) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP сервер",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(commandContext(cmd), cfg, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Применить миграции перед запуском")
	return cmd
}

func serve(parent context.Context, cfg *config.AppConfig, migrate bool) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := observability.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment); err != nil {
		log.Printf("Sentry не инициализирован: %v", err)
	}
	defer observability.FlushSentry()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		return fmt.Errorf("ошибка инициализации трассировки: %w", err)
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	m := metrics.New(prometheus.DefaultRegisterer)
	app, err := newApplication(cfg, m)
	if err != nil {
		return err
	}
	defer app.Close()

	if migrate {
		if err := app.db.Migrate(); err != nil {
			return err
		}
	}

	srv, router := config.SetupServer(cfg.ServerAddr)

	router.Use(observability.RecoverMiddleware)
	router.Use(observability.HTTPMiddleware(cfg.Tracing.ServiceName))

	router.Get("/health", health)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/swagger/*", httpSwagger.WrapHandler)

	router.Group(func(r chi.Router) {
		if cfg.RateLimit.IsEnabled() {
			r.Use(handler.BurstLimitMiddleware(cfg.RateLimit.Burst, cfg.TrustProxyHeaders))
		}
		r.Use(handler.RateLimitMiddleware(app.limiter, app.limiter.Scopes().GlobalIP, cfg.TrustProxyHeaders))
		handler.RegisterAuthRoutes(r, handler.NewAuthenticationHandler(app.auth, cfg.TrustProxyHeaders), app.auth)
		handler.RegisterAdminRoutes(r, handler.NewAdminHandler(app.auth, app.lockout, app.revocations, app.limiter), app.auth)
	})

	go service.NewStatsReporter(app.revocations, m, cfg.Stats.Every()).Run(ctx)

	return runServer(ctx, srv)
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

const shutdownTimeout = 5 * time.Second

// runServer : обслуживает запросы до ошибки сервера, сигнала SIGINT/SIGTERM или отмены ctx
func runServer(ctx context.Context, server *http.Server) error {
	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		log.Println("сервер запущен на " + server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка работы сервера: %w", err)
		}
		return nil
	case <-stopCtx.Done():
		log.Printf("остановка сервера: %v", context.Cause(stopCtx))
	}

	// ctx уже отменен, на остановку дается отдельный таймаут
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при остановке сервера: %w", err)
	}
	log.Println("Сервер успешно остановлен")
	return nil
}
