package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Exports    ExportConfig     `yaml:"exports"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

// APIAuthConfig controls who may call the API. A request must carry a known API key; the
// caller identity comes from a bearer JWT when JWTSecret is set, otherwise from HeaderUserID.
type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderUserID string         `yaml:"header_user_id"`
	JWTSecret    string         `yaml:"jwt_secret"`
	JWTIssuer    string         `yaml:"jwt_issuer"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey identifies an API client either by a plain key or by a bcrypt hash of it.
type APIClientKey struct {
	Key         string   `yaml:"key"`
	KeyHash     string   `yaml:"key_hash"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN renders the connection string understood by pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode, p.MaxConnections)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type BookingConfig struct {
	MaxStayNights     int           `yaml:"max_stay_nights"`
	TaxRate           float64       `yaml:"tax_rate"`
	ServiceFeeRate    float64       `yaml:"service_fee_rate"`
	DefaultCurrency   string        `yaml:"default_currency"`
	ReferenceAttempts int           `yaml:"reference_attempts"`
	IdempotencyTTL    time.Duration `yaml:"idempotency_ttl"`
	// Booking attempts per user within RateLimitWindow; zero disables the check.
	RateLimitAttempts int           `yaml:"rate_limit_attempts"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
}

type CatalogConfig struct {
	SeedPath      string        `yaml:"seed_path"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheSize     int64         `yaml:"cache_size"`
	ProvisionDays int           `yaml:"provision_days"`
}

type OutboxConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Kafka        KafkaConfig   `yaml:"kafka"`
	Sheets       SheetsConfig  `yaml:"sheets"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Booking.TaxRate < 0 || c.Booking.ServiceFeeRate < 0 {
		return errors.New("booking tax and service fee rates must not be negative")
	}
	if c.Booking.MaxStayNights < 1 {
		return errors.New("booking max_stay_nights must be at least 1")
	}

	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth is enabled but no api keys are configured")
	}

	if c.Outbox.Kafka.Enabled && (len(c.Outbox.Kafka.Brokers) == 0 || c.Outbox.Kafka.Topic == "") {
		return errors.New("outbox kafka sink needs brokers and a topic")
	}
	if c.Outbox.Sheets.Enabled && (c.Outbox.Sheets.CredentialsFile == "" || c.Outbox.Sheets.SpreadsheetID == "") {
		return errors.New("outbox sheets sink needs credentials_file and spreadsheet_id")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.Database.Postgres.MaxConnections == 0 {
		c.Database.Postgres.MaxConnections = 10
	}

	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderUserID == "" {
		c.API.Auth.HeaderUserID = "x-user-id"
	}

	if c.Booking.MaxStayNights == 0 {
		c.Booking.MaxStayNights = 30
	}
	if c.Booking.TaxRate == 0 {
		c.Booking.TaxRate = 0.12
	}
	if c.Booking.ServiceFeeRate == 0 {
		c.Booking.ServiceFeeRate = 0.05
	}
	if c.Booking.DefaultCurrency == "" {
		c.Booking.DefaultCurrency = "USD"
	}
	if c.Booking.ReferenceAttempts == 0 {
		c.Booking.ReferenceAttempts = 5
	}
	if c.Booking.IdempotencyTTL == 0 {
		c.Booking.IdempotencyTTL = 24 * time.Hour
	}
	if c.Booking.RateLimitWindow == 0 {
		c.Booking.RateLimitWindow = time.Minute
	}

	if c.Catalog.SeedPath == "" {
		c.Catalog.SeedPath = "configs/catalog.yaml"
	}
	if c.Catalog.CacheTTL == 0 {
		c.Catalog.CacheTTL = 5 * time.Minute
	}
	if c.Catalog.CacheSize == 0 {
		c.Catalog.CacheSize = 1000
	}
	if c.Catalog.ProvisionDays == 0 {
		c.Catalog.ProvisionDays = 365
	}

	if c.Outbox.PollInterval == 0 {
		c.Outbox.PollInterval = 5 * time.Second
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 50
	}
	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Outbox.InitialDelay == 0 {
		c.Outbox.InitialDelay = 2 * time.Second
	}
	if c.Outbox.MaxDelay == 0 {
		c.Outbox.MaxDelay = time.Minute
	}
	if c.Outbox.Sheets.SheetName == "" {
		c.Outbox.Sheets.SheetName = "Bookings"
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
