package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 168 * time.Hour
	DefaultStoreTimeout    = 500 * time.Millisecond
	DefaultQueryTimeout    = 2 * time.Second
	DefaultStatsInterval   = time.Hour
	DefaultCleanupInterval = 30 * time.Second

	DefaultLockoutAttempts   = 5
	DefaultLockoutBase       = 15 * time.Minute
	DefaultLockoutMultiplier = 2.0
	DefaultLockoutMax        = 24 * time.Hour
)

func (c *AppConfig) applyEnv() {
	overrides := map[string]*string{
		"JWT_SECRET":                  &c.JWT.SecretKey,
		"DATABASE_DSN":                &c.DatabaseConfig.DSN,
		"REDIS_ADDR":                  &c.RedisConfig.Addr,
		"REDIS_PASSWORD":              &c.RedisConfig.Password,
		"SENTRY_DSN":                  &c.Sentry.DSN,
		"NATS_URL":                    &c.NATS.URL,
		"OTEL_EXPORTER_OTLP_ENDPOINT": &c.Tracing.Endpoint,
		"SERVER_ADDR":                 &c.ServerAddr,
		"STORE_DRIVER":                &c.Store.Driver,
	}

	for name, target := range overrides {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			*target = value
		}
	}
}

func (c *AppConfig) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "redis"
	}
	if c.Store.MaxEntries <= 0 {
		c.Store.MaxEntries = 100_000
	}
	if c.RedisConfig.Addr == "" {
		c.RedisConfig.Addr = "localhost:6379"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "tariff-auth"
	}
	if c.JWT.AccessTokenTTL == "" {
		c.JWT.AccessTokenTTL = DefaultAccessTokenTTL.String()
	}
	if c.JWT.RefreshTokenTTL == "" {
		c.JWT.RefreshTokenTTL = DefaultRefreshTokenTTL.String()
	}

	defaultRule(&c.RateLimit.Login, 5, 15*time.Minute)
	defaultRule(&c.RateLimit.Registration, 3, time.Hour)
	defaultRule(&c.RateLimit.PasswordReset, 3, time.Hour)
	defaultRule(&c.RateLimit.GlobalIP, 100, time.Hour)
	defaultRule(&c.RateLimit.User, 60, time.Minute)
	defaultRule(&c.RateLimit.Burst, 20, time.Second)

	if c.Lockout.MaxAttempts <= 0 {
		c.Lockout.MaxAttempts = DefaultLockoutAttempts
	}
	if c.Lockout.BaseDuration == "" {
		c.Lockout.BaseDuration = DefaultLockoutBase.String()
	}
	if c.Lockout.Multiplier == 0 {
		c.Lockout.Multiplier = DefaultLockoutMultiplier
	}
	if c.Lockout.MaxDuration == "" {
		c.Lockout.MaxDuration = DefaultLockoutMax.String()
	}

	if c.NATS.AuditSubject == "" {
		c.NATS.AuditSubject = "auth.audit"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "tariff-auth"
	}
	if c.Sentry.Environment == "" {
		c.Sentry.Environment = "development"
	}
}

func defaultRule(rule *RateLimitRule, limit int, window time.Duration) {
	if rule.Limit == 0 {
		rule.Limit = limit
	}
	if rule.Window == "" {
		rule.Window = window.String()
	}
}

// Validate : проверяет конфигурацию после применения значений по умолчанию
func (c *AppConfig) Validate() error {
	var errs []error

	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key не задан (или JWT_SECRET)"))
	}
	if c.Store.Driver != "redis" && c.Store.Driver != "memory" {
		errs = append(errs, fmt.Errorf("store.driver: неизвестный драйвер %q", c.Store.Driver))
	}

	durations := map[string]string{
		"jwt.access_token_ttl":            c.JWT.AccessTokenTTL,
		"jwt.refresh_token_ttl":           c.JWT.RefreshTokenTTL,
		"rateLimit.login.window":          c.RateLimit.Login.Window,
		"rateLimit.registration.window":   c.RateLimit.Registration.Window,
		"rateLimit.password_reset.window": c.RateLimit.PasswordReset.Window,
		"rateLimit.global_ip.window":      c.RateLimit.GlobalIP.Window,
		"rateLimit.user.window":           c.RateLimit.User.Window,
		"rateLimit.burst.window":          c.RateLimit.Burst.Window,
		"lockout.base_duration":           c.Lockout.BaseDuration,
		"lockout.max_duration":            c.Lockout.MaxDuration,
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: должно быть больше нуля", name))
		}
	}

	optional := map[string]string{
		"redisConfig.op_timeout":       c.RedisConfig.OpTimeout,
		"databaseConfig.query_timeout": c.DatabaseConfig.QueryTimeout,
		"store.cleanup_interval":       c.Store.CleanupInterval,
		"stats.interval":               c.Stats.Interval,
	}
	for name, value := range optional {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	rules := map[string]RateLimitRule{
		"login":          c.RateLimit.Login,
		"registration":   c.RateLimit.Registration,
		"password_reset": c.RateLimit.PasswordReset,
		"global_ip":      c.RateLimit.GlobalIP,
		"user":           c.RateLimit.User,
		"burst":          c.RateLimit.Burst,
	}
	for name, rule := range rules {
		if rule.Limit < 0 {
			errs = append(errs, fmt.Errorf("rateLimit.%s.limit: должно быть положительным", name))
		}
	}

	if c.Lockout.Multiplier < 1 {
		errs = append(errs, errors.New("lockout.multiplier должен быть >= 1"))
	}
	if durationOr(c.Lockout.MaxDuration, 0) < durationOr(c.Lockout.BaseDuration, 0) {
		errs = append(errs, errors.New("lockout.max_duration меньше lockout.base_duration"))
	}
	if durationOr(c.JWT.RefreshTokenTTL, 0) <= durationOr(c.JWT.AccessTokenTTL, 0) {
		errs = append(errs, errors.New("jwt.refresh_token_ttl должен быть больше access_token_ttl"))
	}

	return errors.Join(errs...)
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func (c JWTConfig) AccessTTL() time.Duration {
	return durationOr(c.AccessTokenTTL, DefaultAccessTokenTTL)
}

func (c JWTConfig) RefreshTTL() time.Duration {
	return durationOr(c.RefreshTokenTTL, DefaultRefreshTokenTTL)
}

func (r RateLimitRule) WindowDuration() time.Duration {
	return durationOr(r.Window, time.Hour)
}

func (c RateLimitConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c LockoutConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c LockoutConfig) Base() time.Duration {
	return durationOr(c.BaseDuration, DefaultLockoutBase)
}

func (c LockoutConfig) Max() time.Duration {
	return durationOr(c.MaxDuration, DefaultLockoutMax)
}

func (c RedisConfig) Timeout() time.Duration {
	return durationOr(c.OpTimeout, DefaultStoreTimeout)
}

func (c DatabaseConfig) Timeout() time.Duration {
	return durationOr(c.QueryTimeout, DefaultQueryTimeout)
}

func (c StoreConfig) Cleanup() time.Duration {
	return durationOr(c.CleanupInterval, DefaultCleanupInterval)
}

func (c StatsConfig) Every() time.Duration {
	return durationOr(c.Interval, DefaultStatsInterval)
}
