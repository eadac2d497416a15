package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	API       APIConfig `mapstructure:"api"`
	Exam      ExamConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Session   SessionConfig
	Storage   StorageConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Log       LogConfig
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Path of the file viper read; used by the config watcher.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	Port string
	Mode string
}

// APIConfig points at the remote exam API.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

type SectionConfig struct {
	Name              string  `mapstructure:"name"`
	StartQuestion     int     `mapstructure:"start_question"`
	EndQuestion       int     `mapstructure:"end_question"`
	PointsPerQuestion float64 `mapstructure:"points_per_question"`
}

type ExamConfig struct {
	PageSize     int             `mapstructure:"page_size"`
	ChunkSize    int             `mapstructure:"chunk_size"`
	BatchMode    string          `mapstructure:"batch_mode"`
	NegativeMark float64         `mapstructure:"negative_mark"`
	TickInterval time.Duration   `mapstructure:"tick_interval"`
	Sections     []SectionConfig `mapstructure:"sections"`
}

type CacheConfig struct {
	Backend  string        `mapstructure:"backend"`
	FilePath string        `mapstructure:"file_path"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

// SessionConfig controls where access/refresh tokens live between runs.
type SessionConfig struct {
	Store  string `mapstructure:"store"`
	Path   string `mapstructure:"path"`
	Secret string `mapstructure:"secret"`
}

// StorageConfig is the receipt archive.
type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioSecure   bool   `mapstructure:"minio_secure"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.mode", "release")

	v.SetDefault("api.base_url", "https://sujanadh.pythonanywhere.com/api/")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.rate_limit", 20.0)
	v.SetDefault("api.burst", 20)

	v.SetDefault("exam.page_size", 10)
	v.SetDefault("exam.chunk_size", 20)
	v.SetDefault("exam.batch_mode", "bulk")
	v.SetDefault("exam.negative_mark", 0.1)
	v.SetDefault("exam.tick_interval", time.Second)
	v.SetDefault("exam.sections", []map[string]interface{}{
		{"name": "Section 1", "start_question": 1, "end_question": 60, "points_per_question": 1},
		{"name": "Section 2", "start_question": 61, "end_question": 80, "points_per_question": 2},
	})

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.file_path", "data/answers.json")
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("session.store", "file")
	v.SetDefault("session.path", "data/session.bin")

	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.local_path", "data/receipts")

	v.SetDefault("log.file", "logs/app.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("rate_limit.max_requests", 600)
	v.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("GEOSEWA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// API
	v.BindEnv("api.base_url", "GEOSEWA_API_BASE_URL")

	// Session
	v.BindEnv("session.secret", "GEOSEWA_SESSION_SECRET")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Database
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// Storage
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the attempt flow cannot run with.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Exam.PageSize <= 0 {
		return fmt.Errorf("exam.page_size must be positive, got %d", c.Exam.PageSize)
	}
	if c.Exam.ChunkSize <= 0 {
		return fmt.Errorf("exam.chunk_size must be positive, got %d", c.Exam.ChunkSize)
	}
	if c.Exam.NegativeMark < 0 {
		return fmt.Errorf("exam.negative_mark must not be negative")
	}
	switch c.Exam.BatchMode {
	case "bulk", "parallel":
	default:
		return fmt.Errorf("exam.batch_mode must be bulk or parallel, got %q", c.Exam.BatchMode)
	}
	if c.Session.Store == "file" && c.Server.Mode == "release" && len(c.Session.Secret) < 16 {
		return fmt.Errorf("session.secret is too short (%d chars), must be at least 16 characters in release mode", len(c.Session.Secret))
	}
	return nil
}
