package config_test

import (
	"os"
	"path/filepath"
	"tariff-auth/config"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// clearEnv : окружение машины не должно влиять на тест
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"JWT_SECRET", "REDIS_ADDR", "STORE_DRIVER", "SERVER_ADDR", "DATABASE_DSN"} {
		t.Setenv(name, "")
	}
}

func TestFinalize_Defaults(t *testing.T) {
	cfg := &config.AppConfig{JWT: config.JWTConfig{SecretKey: "secret"}}
	require.NoError(t, cfg.Finalize())

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "tariff-auth", cfg.JWT.Issuer)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL())
	assert.Equal(t, 168*time.Hour, cfg.JWT.RefreshTTL())

	assert.Equal(t, 5, cfg.RateLimit.Login.Limit)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Login.WindowDuration())
	assert.Equal(t, 3, cfg.RateLimit.Registration.Limit)
	assert.Equal(t, 100, cfg.RateLimit.GlobalIP.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.User.WindowDuration())
	assert.Equal(t, 20, cfg.RateLimit.Burst.Limit)
	assert.Equal(t, time.Second, cfg.RateLimit.Burst.WindowDuration())
	assert.True(t, cfg.RateLimit.IsEnabled())

	assert.Equal(t, 5, cfg.Lockout.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.Base())
	assert.Equal(t, 2.0, cfg.Lockout.Multiplier)
	assert.Equal(t, 24*time.Hour, cfg.Lockout.Max())
	assert.True(t, cfg.Lockout.IsEnabled())

	assert.Equal(t, config.DefaultStoreTimeout, cfg.RedisConfig.Timeout())
	assert.Equal(t, config.DefaultQueryTimeout, cfg.DatabaseConfig.Timeout())
	assert.Equal(t, time.Hour, cfg.Stats.Every())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.AppConfig)
	}{
		{name: "no secret", mutate: func(cfg *config.AppConfig) { cfg.JWT.SecretKey = "" }},
		{name: "unknown driver", mutate: func(cfg *config.AppConfig) { cfg.Store.Driver = "etcd" }},
		{name: "bad window", mutate: func(cfg *config.AppConfig) { cfg.RateLimit.Login.Window = "soon" }},
		{name: "negative window", mutate: func(cfg *config.AppConfig) { cfg.RateLimit.User.Window = "-1m" }},
		{name: "negative limit", mutate: func(cfg *config.AppConfig) { cfg.RateLimit.GlobalIP.Limit = -1 }},
		{name: "multiplier below one", mutate: func(cfg *config.AppConfig) { cfg.Lockout.Multiplier = 0.5 }},
		{name: "max below base", mutate: func(cfg *config.AppConfig) { cfg.Lockout.MaxDuration = "1m" }},
		{name: "refresh shorter than access", mutate: func(cfg *config.AppConfig) { cfg.JWT.RefreshTokenTTL = "10m" }},
		{name: "bad optional timeout", mutate: func(cfg *config.AppConfig) { cfg.RedisConfig.OpTimeout = "fast" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.AppConfig{JWT: config.JWTConfig{SecretKey: "secret"}}
			require.NoError(t, cfg.Finalize())

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
serverAddr: ":9090"
trustProxyHeaders: true
jwt:
  secret_key: "from-file"
store:
  driver: "memory"
rateLimit:
  enabled: false
  login: { limit: 10, window: "5m" }
lockout:
  max_attempts: 3
`)

	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("REDIS_ADDR", "redis:6380")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.True(t, cfg.TrustProxyHeaders)
	assert.Equal(t, "from-env", cfg.JWT.SecretKey, "окружение важнее файла")
	assert.Equal(t, "redis:6380", cfg.RedisConfig.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.False(t, cfg.RateLimit.IsEnabled())
	assert.Equal(t, 10, cfg.RateLimit.Login.Limit)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.Login.WindowDuration())
	assert.Equal(t, 3, cfg.RateLimit.Registration.Limit, "незаданные правила получают значения по умолчанию")
	assert.Equal(t, 3, cfg.Lockout.MaxAttempts)
}

func TestLoadConfig_MissingFileUsesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "env-only")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env-only", cfg.JWT.SecretKey)
}

func TestLoadConfig_Invalid(t *testing.T) {
	clearEnv(t)

	_, err := config.LoadConfig(writeConfig(t, "jwt: [unclosed"))
	assert.Error(t, err)

	_, err = config.LoadConfig(writeConfig(t, `store: { driver: "memory" }`))
	assert.Error(t, err, "без секрета конфигурация невалидна")
}
