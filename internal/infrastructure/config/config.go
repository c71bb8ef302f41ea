package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Crypto    CryptoConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Shopify   ShopifyConfig
	FX        FXConfig
	Fees      FeeConfig
	Backfill  BackfillConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Storage   StorageConfig
	Messaging MessagingConfig
	Analytics AnalyticsConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	// MigrationsPath overrides the embedded migrations with a directory
	MigrationsPath string
	MigrateOnStart bool
}

// RedisConfig holds Redis connection settings.
// An empty Host disables Redis and the in-memory caches are used instead.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port for the redis client
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds settings for shop bearer tokens
type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// CryptoConfig holds the key used to seal shop access tokens at rest
type CryptoConfig struct {
	TokenKey string // 32 bytes, hex encoded
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	// Rate limiting per shop token, or per client IP when unauthenticated
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// ShopifyConfig holds commerce platform API settings
type ShopifyConfig struct {
	APIVersion     string
	APISecret      string // global webhook signing secret
	RequestTimeout time.Duration
	// BaseURLOverride replaces https://{shop}/admin/api/{version} (tests, proxies)
	BaseURLOverride string
}

// FXConfig holds exchange-rate source settings
type FXConfig struct {
	BaseURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// FeeConfig holds the default payment fee model applied when a shop has none
type FeeConfig struct {
	DefaultPercentage float64
	DefaultFixed      float64
}

// BackfillConfig holds historical import settings
type BackfillConfig struct {
	Days         int
	MaxDays      int
	BatchSize    int
	MaxRetries   int
	PollInterval time.Duration
	JobTimeout   time.Duration
	ArchiveRaw   bool
}

// WorkerConfig bounds reconciliation concurrency and downstream retries
type WorkerConfig struct {
	Concurrency    int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// SchedulerConfig holds the background job runner and the nightly rollup
// refresh settings
type SchedulerConfig struct {
	MaxConcurrentJobs int
	RefreshEnabled    bool
	RefreshHour       int // UTC
	RefreshMinute     int
	LookbackDays      int
}

// StorageConfig holds S3-compatible object storage settings for export archives
type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// MessagingConfig holds the RabbitMQ settings for ledger events.
// An empty URL disables publishing.
type MessagingConfig struct {
	URL      string
	Exchange string
}

// AnalyticsConfig holds the ClickHouse settings for the rollup mirror.
// An empty Host disables the mirror.
type AnalyticsConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	LogsEnabled       bool // Bridge zap logs to the collector
	DBTraceEnabled    bool // Enable database query tracing (otelgorm)
	Profiling         ProfilingConfig
}

// ProfilingConfig holds Pyroscope continuous profiling configuration
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string   // Pyroscope server, e.g. "http://pyroscope:4040"
	BasicAuthUser     string
	BasicAuthPassword string
	ProfileTypes      []string // Empty collects cpu, alloc and inuse
	SpanProfiles      bool     // Link CPU samples to trace spans
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with LEDGER_ prefix (e.g., LEDGER_DATABASE_PASSWORD)
// 2. .env in the working directory (local development)
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Zero is a meaningful value for these
	v.SetDefault("scheduler.refresh_enabled", true)
	v.SetDefault("scheduler.refresh_hour", 3)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			MigrationsPath:  v.GetString("database.migrations_path"),
			MigrateOnStart:  v.GetBool("database.migrate_on_start"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetDuration("jwt.expiration"),
			Issuer:     v.GetString("jwt.issuer"),
		},
		Crypto: CryptoConfig{
			TokenKey: v.GetString("crypto.token_key"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),

			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
		},
		Shopify: ShopifyConfig{
			APIVersion:      v.GetString("shopify.api_version"),
			APISecret:       v.GetString("shopify.api_secret"),
			RequestTimeout:  v.GetDuration("shopify.request_timeout"),
			BaseURLOverride: v.GetString("shopify.base_url_override"),
		},
		FX: FXConfig{
			BaseURL:  v.GetString("fx.base_url"),
			CacheTTL: v.GetDuration("fx.cache_ttl"),
			Timeout:  v.GetDuration("fx.timeout"),
		},
		Fees: FeeConfig{
			DefaultPercentage: v.GetFloat64("fees.default_percentage"),
			DefaultFixed:      v.GetFloat64("fees.default_fixed"),
		},
		Backfill: BackfillConfig{
			Days:         v.GetInt("backfill.days"),
			MaxDays:      v.GetInt("backfill.max_days"),
			BatchSize:    v.GetInt("backfill.batch_size"),
			MaxRetries:   v.GetInt("backfill.max_retries"),
			PollInterval: v.GetDuration("backfill.poll_interval"),
			JobTimeout:   v.GetDuration("backfill.job_timeout"),
			ArchiveRaw:   v.GetBool("backfill.archive_raw"),
		},
		Worker: WorkerConfig{
			Concurrency:    v.GetInt("worker.concurrency"),
			MaxRetries:     v.GetInt("worker.max_retries"),
			RetryBaseDelay: v.GetDuration("worker.retry_base_delay"),
			RetryMaxDelay:  v.GetDuration("worker.retry_max_delay"),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentJobs: v.GetInt("scheduler.max_concurrent_jobs"),
			RefreshEnabled:    v.GetBool("scheduler.refresh_enabled"),
			RefreshHour:       v.GetInt("scheduler.refresh_hour"),
			RefreshMinute:     v.GetInt("scheduler.refresh_minute"),
			LookbackDays:      v.GetInt("scheduler.lookback_days"),
		},
		Storage: StorageConfig{
			Enabled:      v.GetBool("storage.enabled"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
		},
		Messaging: MessagingConfig{
			URL:      v.GetString("messaging.url"),
			Exchange: v.GetString("messaging.exchange"),
		},
		Analytics: AnalyticsConfig{
			Host:     v.GetString("analytics.host"),
			Port:     v.GetInt("analytics.port"),
			Database: v.GetString("analytics.database"),
			Username: v.GetString("analytics.username"),
			Password: v.GetString("analytics.password"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			Profiling: ProfilingConfig{
				Enabled:           v.GetBool("telemetry.profiling.enabled"),
				ServerAddress:     v.GetString("telemetry.profiling.server_address"),
				BasicAuthUser:     v.GetString("telemetry.profiling.basic_auth_user"),
				BasicAuthPassword: v.GetString("telemetry.profiling.basic_auth_password"),
				ProfileTypes:      v.GetStringSlice("telemetry.profiling.profile_types"),
				SpanProfiles:      v.GetBool("telemetry.profiling.span_profiles"),
			},
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "profit-ledger"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "ledger"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Expiration == 0 {
		cfg.JWT.Expiration = 24 * time.Hour
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "profit-ledger"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 5 << 20 // 5MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 120
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.Shopify.APIVersion == "" {
		cfg.Shopify.APIVersion = "2024-07"
	}
	if cfg.Shopify.RequestTimeout == 0 {
		cfg.Shopify.RequestTimeout = 10 * time.Second
	}
	if cfg.FX.BaseURL == "" {
		cfg.FX.BaseURL = "https://api.exchangerate-api.com/v4/latest"
	}
	if cfg.FX.CacheTTL == 0 {
		cfg.FX.CacheTTL = time.Hour
	}
	if cfg.FX.Timeout == 0 {
		cfg.FX.Timeout = 10 * time.Second
	}
	if cfg.Fees.DefaultPercentage == 0 {
		cfg.Fees.DefaultPercentage = 2.9
	}
	if cfg.Fees.DefaultFixed == 0 {
		cfg.Fees.DefaultFixed = 0.30
	}
	if cfg.Backfill.Days == 0 {
		cfg.Backfill.Days = 90
	}
	if cfg.Backfill.MaxDays == 0 {
		cfg.Backfill.MaxDays = 365
	}
	if cfg.Backfill.BatchSize == 0 {
		cfg.Backfill.BatchSize = 1000
	}
	if cfg.Backfill.MaxRetries == 0 {
		cfg.Backfill.MaxRetries = 3
	}
	if cfg.Backfill.PollInterval == 0 {
		cfg.Backfill.PollInterval = 10 * time.Second
	}
	if cfg.Backfill.JobTimeout == 0 {
		cfg.Backfill.JobTimeout = 6 * time.Hour
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.RetryBaseDelay == 0 {
		cfg.Worker.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.Worker.RetryMaxDelay == 0 {
		cfg.Worker.RetryMaxDelay = 5 * time.Second
	}
	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 4
	}
	if cfg.Scheduler.LookbackDays == 0 {
		cfg.Scheduler.LookbackDays = 2
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Messaging.Exchange == "" {
		cfg.Messaging.Exchange = "ledger.events"
	}
	if cfg.Analytics.Port == 0 {
		cfg.Analytics.Port = 9000
	}
	if cfg.Analytics.Database == "" {
		cfg.Analytics.Database = "ledger"
	}
	if cfg.Analytics.Username == "" {
		cfg.Analytics.Username = "default"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "profit-ledger"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.Profiling.ServerAddress == "" {
		cfg.Telemetry.Profiling.ServerAddress = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Fees.DefaultPercentage < 0 || c.Fees.DefaultPercentage > 100 {
		return fmt.Errorf("fees.default_percentage must be between 0 and 100, got %f", c.Fees.DefaultPercentage)
	}
	if c.Fees.DefaultFixed < 0 {
		return fmt.Errorf("fees.default_fixed cannot be negative")
	}
	if c.Backfill.Days > c.Backfill.MaxDays {
		return fmt.Errorf("backfill.days (%d) cannot exceed backfill.max_days (%d)", c.Backfill.Days, c.Backfill.MaxDays)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Scheduler.RefreshHour < 0 || c.Scheduler.RefreshHour > 23 {
		return fmt.Errorf("scheduler.refresh_hour must be between 0 and 23, got %d", c.Scheduler.RefreshHour)
	}
	if c.Scheduler.RefreshMinute < 0 || c.Scheduler.RefreshMinute > 59 {
		return fmt.Errorf("scheduler.refresh_minute must be between 0 and 59, got %d", c.Scheduler.RefreshMinute)
	}
	if c.HTTP.RateLimitEnabled && c.HTTP.RateLimitRequests <= 0 {
		return fmt.Errorf("http.rate_limit_requests must be positive when rate limiting is enabled")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	if c.App.Env == "production" {
		if c.Shopify.APISecret == "" {
			return fmt.Errorf("shopify.api_secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Crypto.TokenKey == "" {
			return fmt.Errorf("crypto.token_key is required in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Telemetry.Profiling.SpanProfiles && !c.Telemetry.Enabled {
		return fmt.Errorf("telemetry.profiling.span_profiles requires telemetry.enabled")
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
