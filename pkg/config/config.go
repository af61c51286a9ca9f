package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Ledger drivers.
const (
	LedgerDriverPostgres = "postgres"
	LedgerDriverMemory   = "memory"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	CORS       CORSConfig
	Log        LogConfig
	Ledger     LedgerConfig
	Projection ProjectionConfig
	Exports    ExportsConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LedgerConfig tunes the transactional document store.
type LedgerConfig struct {
	Driver            string
	Table             string
	TxTimeout         time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	StrictTransitions bool
	AutoProvision     bool
}

// ProjectionConfig controls the journal read-model projection.
type ProjectionConfig struct {
	Enabled     bool
	Ordered     bool
	KeepHistory bool
	Workers     int
	Retries     int
	RetryDelay  time.Duration
	KeyPrefix   string
}

// ExportsConfig configures history exports.
type ExportsConfig struct {
	PDFTitle string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
		ConnMaxIdleTime: parseDuration(v.GetString("DB_CONN_MAX_IDLE_TIME"), 30*time.Minute),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Ledger = LedgerConfig{
		Driver:            strings.ToLower(v.GetString("LEDGER_DRIVER")),
		Table:             v.GetString("LEDGER_TABLE"),
		TxTimeout:         parseDuration(v.GetString("LEDGER_TX_TIMEOUT"), 5*time.Second),
		MaxRetries:        v.GetInt("LEDGER_MAX_RETRIES"),
		RetryBaseDelay:    parseDuration(v.GetString("LEDGER_RETRY_BASE_DELAY"), 10*time.Millisecond),
		StrictTransitions: v.GetBool("LEDGER_STRICT_TRANSITIONS"),
		AutoProvision:     v.GetBool("LEDGER_AUTO_PROVISION"),
	}

	cfg.Projection = ProjectionConfig{
		Enabled:     v.GetBool("PROJECTION_ENABLED"),
		Ordered:     v.GetBool("PROJECTION_ORDERED"),
		KeepHistory: v.GetBool("PROJECTION_KEEP_HISTORY"),
		Workers:     v.GetInt("PROJECTION_WORKERS"),
		Retries:     v.GetInt("PROJECTION_RETRIES"),
		RetryDelay:  parseDuration(v.GetString("PROJECTION_RETRY_DELAY"), time.Second),
		KeyPrefix:   v.GetString("PROJECTION_KEY_PREFIX"),
	}

	cfg.Exports = ExportsConfig{
		PDFTitle: v.GetString("EXPORT_PDF_TITLE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sufragios")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "30m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LEDGER_DRIVER", LedgerDriverPostgres)
	v.SetDefault("LEDGER_TABLE", "sufragios")
	v.SetDefault("LEDGER_TX_TIMEOUT", "5s")
	v.SetDefault("LEDGER_MAX_RETRIES", 4)
	v.SetDefault("LEDGER_RETRY_BASE_DELAY", "10ms")
	v.SetDefault("LEDGER_STRICT_TRANSITIONS", false)
	v.SetDefault("LEDGER_AUTO_PROVISION", false)

	v.SetDefault("PROJECTION_ENABLED", false)
	v.SetDefault("PROJECTION_ORDERED", true)
	v.SetDefault("PROJECTION_KEEP_HISTORY", false)
	v.SetDefault("PROJECTION_WORKERS", 2)
	v.SetDefault("PROJECTION_RETRIES", 5)
	v.SetDefault("PROJECTION_RETRY_DELAY", "1s")
	v.SetDefault("PROJECTION_KEY_PREFIX", "sufragio:projection")

	v.SetDefault("EXPORT_PDF_TITLE", "Historial de sufragio")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
