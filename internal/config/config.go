package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	API        APIConfig        `mapstructure:"api"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Screener   ScreenerConfig   `mapstructure:"screener"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Signals    SignalConfig     `mapstructure:"signals"`
	Learning   LearningConfig   `mapstructure:"learning"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ExchangeConfig contains primary provider credentials.
type ExchangeConfig struct {
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
	Testnet   bool   `mapstructure:"testnet"`
	// Mock swaps the live gateway for the deterministic in-process one.
	Mock bool `mapstructure:"mock"`
}

// DatabaseConfig contains PostgreSQL settings. An empty host disables the
// Postgres store.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// Enabled reports whether a Postgres backend is configured.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

// RedisConfig contains Redis settings. An empty host disables Redis.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr renders host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// Enabled reports whether a Redis backend is configured.
func (r RedisConfig) Enabled() bool { return r.Host != "" }

// AnalysisConfig tunes the per-pair pipeline.
type AnalysisConfig struct {
	RequestTimeoutMs int     `mapstructure:"request_timeout_ms"`
	CandleLimit      int     `mapstructure:"candle_limit"`
	MinConfidence    float64 `mapstructure:"min_signal_confidence"`
}

// Timeout converts the millisecond knob to a duration.
func (a AnalysisConfig) Timeout() time.Duration {
	return time.Duration(a.RequestTimeoutMs) * time.Millisecond
}

// ScreenerConfig tunes multi-symbol batching.
type ScreenerConfig struct {
	BatchSize         int `mapstructure:"batch_size"`
	RegimeBatchSize   int `mapstructure:"regime_batch_size"`
	BatchInterDelayMs int `mapstructure:"batch_inter_delay_ms"`
}

// InterDelay converts the millisecond knob to a duration.
func (s ScreenerConfig) InterDelay() time.Duration {
	return time.Duration(s.BatchInterDelayMs) * time.Millisecond
}

// BreakerConfig tunes the per-pair circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownMs       int `mapstructure:"cooldown_ms"`
}

// Cooldown converts the millisecond knob to a duration.
func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownMs) * time.Millisecond
}

// SignalConfig tunes enrichment.
type SignalConfig struct {
	DefaultSLPercent    float64 `mapstructure:"default_sl_percent"`
	DefaultTPPercent    float64 `mapstructure:"default_tp_percent"`
	RiskReward          float64 `mapstructure:"risk_reward"`
	AccountEquity       float64 `mapstructure:"account_equity"`
	RiskPerTradePercent float64 `mapstructure:"risk_per_trade_percent"`
}

// LearningConfig tunes the feedback loop.
type LearningConfig struct {
	Velocity          float64 `mapstructure:"pattern_learning_velocity"`
	MinFeedback       int     `mapstructure:"min_feedback_threshold"`
	NegativeThreshold float64 `mapstructure:"sentiment_negative_threshold"`
	PositiveThreshold float64 `mapstructure:"sentiment_positive_threshold"`
}

// MonitoringConfig toggles the metrics surface.
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// Load reads configuration from file and PERPSIGHT_* environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PERPSIGHT")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "PerpSight")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	v.SetDefault("exchange.testnet", false)
	v.SetDefault("exchange.mock", false)

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "perpsight")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("analysis.request_timeout_ms", 30000)
	v.SetDefault("analysis.candle_limit", 100)
	v.SetDefault("analysis.min_signal_confidence", 0.6)

	v.SetDefault("screener.batch_size", 15)
	v.SetDefault("screener.regime_batch_size", 10)
	v.SetDefault("screener.batch_inter_delay_ms", 250)

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.cooldown_ms", 60000)

	v.SetDefault("signals.default_sl_percent", 0.003)
	v.SetDefault("signals.default_tp_percent", 0.007)
	v.SetDefault("signals.risk_reward", 2.0)
	v.SetDefault("signals.account_equity", 10000)
	v.SetDefault("signals.risk_per_trade_percent", 1.0)

	v.SetDefault("learning.pattern_learning_velocity", 0.15)
	v.SetDefault("learning.min_feedback_threshold", 3)
	v.SetDefault("learning.sentiment_negative_threshold", -0.25)
	v.SetDefault("learning.sentiment_positive_threshold", 0.40)

	v.SetDefault("monitoring.enable_metrics", true)
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be in (0, 65535], got %d", c.API.Port)
	}
	if c.Analysis.RequestTimeoutMs <= 0 {
		return fmt.Errorf("analysis.request_timeout_ms must be positive, got %d", c.Analysis.RequestTimeoutMs)
	}
	if c.Analysis.CandleLimit < 1 || c.Analysis.CandleLimit > 1000 {
		return fmt.Errorf("analysis.candle_limit must be in [1, 1000], got %d", c.Analysis.CandleLimit)
	}
	if c.Analysis.MinConfidence < 0 || c.Analysis.MinConfidence > 1 {
		return fmt.Errorf("analysis.min_signal_confidence must be in [0, 1], got %g", c.Analysis.MinConfidence)
	}
	if c.Screener.BatchSize <= 0 || c.Screener.RegimeBatchSize <= 0 {
		return fmt.Errorf("screener batch sizes must be positive")
	}
	if d := c.Screener.BatchInterDelayMs; d < 100 || d > 1000 {
		return fmt.Errorf("screener.batch_inter_delay_ms must be in [100, 1000], got %d", d)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.CooldownMs <= 0 {
		return fmt.Errorf("breaker.cooldown_ms must be positive, got %d", c.Breaker.CooldownMs)
	}
	if c.Signals.RiskReward <= 0 {
		return fmt.Errorf("signals.risk_reward must be positive, got %g", c.Signals.RiskReward)
	}
	if c.Signals.AccountEquity <= 0 {
		return fmt.Errorf("signals.account_equity must be positive, got %g", c.Signals.AccountEquity)
	}
	if c.Learning.Velocity <= 0 || c.Learning.Velocity > 1 {
		return fmt.Errorf("learning.pattern_learning_velocity must be in (0, 1], got %g", c.Learning.Velocity)
	}
	if c.Learning.NegativeThreshold >= 0 {
		return fmt.Errorf("learning.sentiment_negative_threshold must be negative, got %g", c.Learning.NegativeThreshold)
	}
	if c.Learning.PositiveThreshold <= 0 {
		return fmt.Errorf("learning.sentiment_positive_threshold must be positive, got %g", c.Learning.PositiveThreshold)
	}
	return nil
}
