package config

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	QueryTimeout string `yaml:"query_timeout"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	OpTimeout string `yaml:"op_timeout"`
}

// StoreConfig : выбор хранилища для отзыва токенов, лимитов и блокировок.
// driver: redis | memory (memory годится только для одного инстанса)
type StoreConfig struct {
	Driver          string `yaml:"driver"`
	MaxEntries      int    `yaml:"max_entries"`
	CleanupInterval string `yaml:"cleanup_interval"`
}

type JWTConfig struct {
	SecretKey       string `yaml:"secret_key"`
	Issuer          string `yaml:"issuer"`
	AccessTokenTTL  string `yaml:"access_token_ttl"`
	RefreshTokenTTL string `yaml:"refresh_token_ttl"`
}

// RateLimitRule : лимит запросов в фиксированном окне
type RateLimitRule struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

type RateLimitConfig struct {
	Enabled       *bool         `yaml:"enabled"`
	Login         RateLimitRule `yaml:"login"`
	Registration  RateLimitRule `yaml:"registration"`
	PasswordReset RateLimitRule `yaml:"password_reset"`
	GlobalIP      RateLimitRule `yaml:"global_ip"`
	User          RateLimitRule `yaml:"user"`
	// Burst : локальный лимит всплесков на инстанс, проверяется до общего хранилища
	Burst RateLimitRule `yaml:"burst"`
}

type LockoutConfig struct {
	Enabled      *bool   `yaml:"enabled"`
	MaxAttempts  int     `yaml:"max_attempts"`
	BaseDuration string  `yaml:"base_duration"`
	Multiplier   float64 `yaml:"multiplier"`
	MaxDuration  string  `yaml:"max_duration"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type NATSConfig struct {
	URL          string `yaml:"url"`
	AuditSubject string `yaml:"audit_subject"`
}

type StatsConfig struct {
	Interval string `yaml:"interval"`
}
