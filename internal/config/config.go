package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// History database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultColumns are the readings columns requested when none are configured.
var DefaultColumns = []string{
	"speed",
	"historical_average_speed",
	"reference_speed",
	"travel_time_minutes",
	"confidence_score",
	"cvalue",
}

// DefaultQualityThresholds are the confidence thresholds requested when none are configured.
var DefaultQualityThresholds = []int{30, 20, 10}

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	API       APIConfig       `yaml:"api"`
	Job       JobConfig       `yaml:"job"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Storage   StorageConfig   `yaml:"storage"`
	History   HistoryConfig   `yaml:"history"`
	Notify    NotifyConfig    `yaml:"notify"`
	Server    ServerConfig    `yaml:"server"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"TRAFFIC_ENVIRONMENT,overwrite"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"TRAFFIC_LOG_LEVEL,overwrite"`
	Format       string `yaml:"format" env:"TRAFFIC_LOG_FORMAT,overwrite"`
	Output       string `yaml:"output" env:"TRAFFIC_LOG_OUTPUT,overwrite"`
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
}

// APIConfig holds the remote export service settings
type APIConfig struct {
	BaseURL            string        `yaml:"base_url" env:"TRAFFIC_API_BASE_URL,overwrite"`
	Version            string        `yaml:"version"`
	APIKey             string        `yaml:"api_key" env:"TRAFFIC_API_KEY,overwrite"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"TRAFFIC_API_INSECURE_SKIP_VERIFY,overwrite"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// JobConfig holds the request template shared by every export job
type JobConfig struct {
	SegmentsPath      string   `yaml:"segments_path" env:"TRAFFIC_SEGMENTS_PATH,overwrite"`
	StartTime         string   `yaml:"start_time"`
	EndTime           string   `yaml:"end_time"`
	BinSize           int      `yaml:"bin_size"`
	GranularityUnit   string   `yaml:"granularity_unit"`
	TravelTimeUnits   string   `yaml:"travel_time_units"`
	Columns           []string `yaml:"columns"`
	QualityThresholds []int    `yaml:"quality_thresholds"`
	DaysOfWeek        []int    `yaml:"days_of_week"`
}

// LifecycleConfig holds polling, retry and timeout settings
type LifecycleConfig struct {
	PollInterval         time.Duration `yaml:"poll_interval"`
	Timeout              time.Duration `yaml:"timeout"`
	SubmitAttempts       int           `yaml:"submit_attempts"`
	SubmitBaseDelay      time.Duration `yaml:"submit_base_delay"`
	Resubmissions        *int          `yaml:"resubmissions"` // nil means default; 0 disables
	RateLimitCooldown    time.Duration `yaml:"rate_limit_cooldown"`
	StatusErrorTolerance int           `yaml:"status_error_tolerance"`
}

// StorageConfig holds artifact and watermark locations
type StorageConfig struct {
	OutputDir     string `yaml:"output_dir" env:"TRAFFIC_OUTPUT_DIR,overwrite"`
	WatermarkPath string `yaml:"watermark_path" env:"TRAFFIC_WATERMARK_PATH,overwrite"`
	TempDir       string `yaml:"temp_dir" env:"TRAFFIC_TEMP_DIR,overwrite"`
}

// HistoryConfig holds run-history database configuration
type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled" env:"TRAFFIC_HISTORY_ENABLED,overwrite"`
	Driver          string        `yaml:"driver" env:"TRAFFIC_HISTORY_DRIVER,overwrite"`
	Path            string        `yaml:"path" env:"TRAFFIC_HISTORY_PATH,overwrite"`
	Host            string        `yaml:"host" env:"TRAFFIC_DB_HOST,overwrite"`
	Port            int           `yaml:"port" env:"TRAFFIC_DB_PORT,overwrite"`
	User            string        `yaml:"user" env:"TRAFFIC_DB_USER,overwrite"`
	Password        string        `yaml:"password" env:"TRAFFIC_DB_PASSWORD,overwrite"`
	Database        string        `yaml:"database" env:"TRAFFIC_DB_NAME,overwrite"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// NotifyConfig holds artifact notification settings
type NotifyConfig struct {
	Enabled  bool           `yaml:"enabled" env:"TRAFFIC_NOTIFY_ENABLED,overwrite"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host" env:"TRAFFIC_RABBITMQ_HOST,overwrite"`
	Port       int              `yaml:"port" env:"TRAFFIC_RABBITMQ_PORT,overwrite"`
	User       string           `yaml:"user" env:"TRAFFIC_RABBITMQ_USER,overwrite"`
	Password   string           `yaml:"password" env:"TRAFFIC_RABBITMQ_PASSWORD,overwrite"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds the optional queue bound to the exchange
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ServerConfig holds status API server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"TRAFFIC_SERVER_PORT,overwrite"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file and fills in defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyEnv overlays TRAFFIC_* environment variables onto the file values
func (c *Config) ApplyEnv(ctx context.Context, lookuper envconfig.Lookuper) error {
	if err := envconfig.ProcessWith(ctx, c, lookuper); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}
	return nil
}

// ApplyDefaults fills every unset field with its documented default
func (c *Config) ApplyDefaults() {
	setString(&c.App.Name, "traffic-export")
	setString(&c.App.Environment, "development")

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "console")
	setString(&c.Logging.Output, "stdout")

	setString(&c.API.BaseURL, "https://pda-api.ritis.org")
	setString(&c.API.Version, "v2")
	setDuration(&c.API.RequestTimeout, 5*time.Minute)

	setString(&c.Job.SegmentsPath, "segments.csv")
	setString(&c.Job.StartTime, "00:00:00")
	setString(&c.Job.EndTime, "23:59:00")
	setInt(&c.Job.BinSize, 15)
	setString(&c.Job.GranularityUnit, "minutes")
	setString(&c.Job.TravelTimeUnits, "minutes")
	if len(c.Job.Columns) == 0 {
		c.Job.Columns = append([]string(nil), DefaultColumns...)
	}
	if len(c.Job.QualityThresholds) == 0 {
		c.Job.QualityThresholds = append([]int(nil), DefaultQualityThresholds...)
	}
	if len(c.Job.DaysOfWeek) == 0 {
		c.Job.DaysOfWeek = []int{0, 1, 2, 3, 4, 5, 6}
	}

	setDuration(&c.Lifecycle.PollInterval, 60*time.Second)
	setDuration(&c.Lifecycle.Timeout, 300*time.Minute)
	setInt(&c.Lifecycle.SubmitAttempts, 3)
	setDuration(&c.Lifecycle.SubmitBaseDelay, 10*time.Second)
	if c.Lifecycle.Resubmissions == nil {
		one := 1
		c.Lifecycle.Resubmissions = &one
	}
	setDuration(&c.Lifecycle.RateLimitCooldown, 300*time.Second)

	setString(&c.Storage.OutputDir, "data")
	setString(&c.Storage.WatermarkPath, "last_run.txt")

	setString(&c.History.Driver, DriverSQLite)
	setString(&c.History.Path, "history.db")
	setString(&c.History.SSLMode, "disable")
	setInt(&c.History.MaxOpenConns, 5)
	setInt(&c.History.MaxIdleConns, 2)
	setDuration(&c.History.ConnMaxLifetime, 30*time.Minute)
	setDuration(&c.History.ConnMaxIdleTime, 5*time.Minute)

	mq := &c.Notify.RabbitMQ
	setInt(&mq.Port, 5672)
	setString(&mq.VHost, "/")
	setString(&mq.Exchange.Name, "traffic_export")
	setString(&mq.Exchange.Type, "topic")
	setString(&mq.RoutingKey, "artifact.published")
	setInt(&mq.Connection.RetryAttempts, 3)
	setDuration(&mq.Connection.RetryInterval, 5*time.Second)
	setDuration(&mq.Connection.Heartbeat, 10*time.Second)
	setInt(&mq.Publish.RetryAttempts, 3)
	setDuration(&mq.Publish.RetryInterval, 100*time.Millisecond)
	if mq.Publish.BackoffMultiplier <= 0 {
		mq.Publish.BackoffMultiplier = 2.0
	}

	setInt(&c.Server.Port, 8080)
	setDuration(&c.Server.ReadTimeout, 15*time.Second)
	setDuration(&c.Server.WriteTimeout, 15*time.Second)
	setDuration(&c.Server.IdleTimeout, 60*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 10*time.Second)
}

// ValidateWorkerConfig checks the settings the export worker depends on
func (c *Config) ValidateWorkerConfig() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api base_url: %q", c.API.BaseURL)
	}

	if c.API.Version == "" {
		return fmt.Errorf("api version is required")
	}

	if c.Job.SegmentsPath == "" {
		return fmt.Errorf("job segments_path is required")
	}

	for _, tod := range []string{c.Job.StartTime, c.Job.EndTime} {
		if _, err := time.Parse("15:04:05", tod); err != nil {
			return fmt.Errorf("invalid job time of day %q (expected HH:MM:SS)", tod)
		}
	}

	if c.Job.BinSize <= 0 {
		return fmt.Errorf("job bin_size must be greater than 0")
	}

	for _, d := range c.Job.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("invalid job day of week: %d (must be between 0 and 6)", d)
		}
	}

	if c.Lifecycle.PollInterval <= 0 {
		return fmt.Errorf("lifecycle poll_interval must be greater than 0")
	}

	if c.Lifecycle.Timeout <= 0 {
		return fmt.Errorf("lifecycle timeout must be greater than 0")
	}

	if c.Lifecycle.SubmitAttempts <= 0 {
		return fmt.Errorf("lifecycle submit_attempts must be greater than 0")
	}

	if c.Lifecycle.Resubmissions != nil && *c.Lifecycle.Resubmissions < 0 {
		return fmt.Errorf("lifecycle resubmissions must not be negative")
	}

	if c.Lifecycle.StatusErrorTolerance < 0 {
		return fmt.Errorf("lifecycle status_error_tolerance must not be negative")
	}

	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage output_dir is required")
	}

	if c.Storage.WatermarkPath == "" {
		return fmt.Errorf("storage watermark_path is required")
	}

	if c.History.Enabled {
		if err := c.validateHistory(); err != nil {
			return err
		}
	}

	if c.Notify.Enabled {
		mq := c.Notify.RabbitMQ
		if mq.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if mq.Port < MinPort || mq.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", mq.Port, MinPort, MaxPort)
		}
		if mq.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	return nil
}

// ValidateAPIConfig checks the settings the status API depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Storage.WatermarkPath == "" {
		return fmt.Errorf("storage watermark_path is required")
	}

	if !c.History.Enabled {
		return fmt.Errorf("history must be enabled for the status API")
	}

	return c.validateHistory()
}

func (c *Config) validateHistory() error {
	switch c.History.Driver {
	case DriverSQLite:
		if c.History.Path == "" {
			return fmt.Errorf("history path is required for sqlite")
		}
	case DriverPostgres:
		if c.History.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.History.Port < MinPort || c.History.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.History.Port, MinPort, MaxPort)
		}
		if c.History.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported history driver: %q", c.History.Driver)
	}
	return nil
}

func setString(p *string, def string) {
	if *p == "" {
		*p = def
	}
}

func setInt(p *int, def int) {
	if *p == 0 {
		*p = def
	}
}

func setDuration(p *time.Duration, def time.Duration) {
	if *p == 0 {
		*p = def
	}
}
