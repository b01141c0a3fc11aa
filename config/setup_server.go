package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	DatabaseConfig DatabaseConfig  `yaml:"databaseConfig"`
	RedisConfig    RedisConfig     `yaml:"redisConfig"`
	Store          StoreConfig     `yaml:"store"`
	ServerAddr     string          `yaml:"serverAddr"`
	JWT            JWTConfig       `yaml:"jwt"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Lockout        LockoutConfig   `yaml:"lockout"`
	Sentry         SentryConfig    `yaml:"sentry"`
	Tracing        TracingConfig   `yaml:"tracing"`
	NATS           NATSConfig      `yaml:"nats"`
	Stats          StatsConfig     `yaml:"stats"`

	// TrustProxyHeaders : брать IP клиента из X-Forwarded-For / X-Real-IP.
	// Включать только за доверенным балансировщиком.
	TrustProxyHeaders bool `yaml:"trustProxyHeaders"`
}

// LoadConfig читает config.yaml, подмешивает переменные окружения (.env тоже)
// и проставляет значения по умолчанию.
//
// Отсутствующий файл не считается ошибкой: сервис можно полностью
// сконфигурировать через окружение.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	var cfg AppConfig

	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Finalize : значения по умолчанию и проверка, без чтения файла и окружения
func (c *AppConfig) Finalize() error {
	c.applyDefaults()
	return c.Validate()
}

func SetupServer(serverAddress string) (*http.Server, *chi.Mux) {
	router := chi.NewRouter()
	server := &http.Server{
		Addr:              serverAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server, router
}

func SetupDatabase(dsn string) (*Database, error) {
	return NewDatabaseConnection("postgres", dsn)
}

func SetupRedis(cfg *RedisConfig) (*RedisClient, error) {
	return NewRedisClient(cfg)
}
