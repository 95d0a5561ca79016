package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/resistance-prophet-server/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g. PROPHET_SERVER_PORT.
const EnvPrefix = "PROPHET"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	configFile string
	config     *domain.Config
}

var _ domain.ConfigManager = (*Manager)(nil)

// NewManager loads configuration from the default search paths.
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile loads configuration from an explicit YAML file. An empty
// path falls back to the search paths.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/resistance-prophet/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "resistance_prophet")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "") // embedded copy

	v.SetDefault("profile.driver", "memory")
	v.SetDefault("profile.sqlite_path", "data/profiles.db")
	v.SetDefault("profile.postgres_dsn", "")

	v.SetDefault("external_api.ensembl.base_url", "https://rest.ensembl.org")
	v.SetDefault("external_api.ensembl.timeout", "30s")
	v.SetDefault("external_api.ensembl.rate_limit", 15)
	v.SetDefault("external_api.ensembl.retry_count", 3)
	v.SetDefault("external_api.ensembl.api_key", "")
	v.SetDefault("external_api.ensembl.email", "")

	v.SetDefault("external_api.clinvar.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/")
	v.SetDefault("external_api.clinvar.timeout", "30s")
	v.SetDefault("external_api.clinvar.rate_limit", 3)
	v.SetDefault("external_api.clinvar.retry_count", 3)
	v.SetDefault("external_api.clinvar.api_key", "")
	v.SetDefault("external_api.clinvar.email", "")

	v.SetDefault("external_api.clinical_trials.base_url", "https://clinicaltrials.gov")
	v.SetDefault("external_api.clinical_trials.timeout", "30s")
	v.SetDefault("external_api.clinical_trials.rate_limit", 10)
	v.SetDefault("external_api.clinical_trials.retry_count", 3)
	v.SetDefault("external_api.clinical_trials.api_key", "")
	v.SetDefault("external_api.clinical_trials.email", "")

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.lru_size", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.redact", false)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "resistance-prophet")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "resistance-prophet")
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.buffer_size", 16)
	v.SetDefault("stream.write_timeout", "10s")

	v.SetDefault("mcp.server_name", "resistance-prophet")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.http_enabled", false)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetExternalAPIConfig returns external API configuration
func (m *Manager) GetExternalAPIConfig() *domain.ExternalAPIConfig {
	return &m.config.ExternalAPI
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Enabled {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	switch config.Profile.Driver {
	case "memory":
	case "sqlite":
		if config.Profile.SQLitePath == "" {
			return fmt.Errorf("profile sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if config.Profile.PostgresDSN == "" && !config.Database.Enabled {
			return fmt.Errorf("profile postgres_dsn is required when the database is disabled")
		}
	default:
		return fmt.Errorf("invalid profile driver: %s", config.Profile.Driver)
	}

	apis := map[string]domain.APIClientConfig{
		"Ensembl":        config.ExternalAPI.Ensembl,
		"ClinVar":        config.ExternalAPI.ClinVar,
		"ClinicalTrials": config.ExternalAPI.ClinicalTrials,
	}
	for _, name := range []string{"Ensembl", "ClinVar", "ClinicalTrials"} {
		if apis[name].BaseURL == "" {
			return fmt.Errorf("%s base URL is required", name)
		}
	}

	if config.Auth.Enabled && len(config.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters when auth is enabled")
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_second and burst")
	}

	if config.Telemetry.Enabled {
		switch config.Telemetry.Exporter {
		case "otlp", "stdout":
		default:
			return fmt.Errorf("invalid telemetry exporter: %s", config.Telemetry.Exporter)
		}
		if config.Telemetry.SampleRatio < 0 || config.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("telemetry sample_ratio must be within [0, 1]")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	if f := strings.ToLower(config.Logging.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the postgres:// form required by golang-migrate.
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
