package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Portal   PortalConfig   `yaml:"portal"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MigrationsPath  string        `yaml:"migrations_path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	VHost             string        `yaml:"vhost"`
	ExchangeName      string        `yaml:"exchange_name"`
	ExchangeType      string        `yaml:"exchange_type"`
	ExchangeDurable   bool          `yaml:"exchange_durable"`
	QueueName         string        `yaml:"queue_name"`
	QueueDurable      bool          `yaml:"queue_durable"`
	RoutingKey        string        `yaml:"routing_key"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	PrefetchCount     int           `yaml:"prefetch_count"`
	PublishRetries    int           `yaml:"publish_retries"`
	PublishRetryDelay time.Duration `yaml:"publish_retry_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	PollInterval             time.Duration `yaml:"poll_interval"`
	ShutdownTimeout          time.Duration `yaml:"shutdown_timeout"`
	LoginTimeout             time.Duration `yaml:"login_timeout"`
	SelectorTimeout          time.Duration `yaml:"selector_timeout"`
	UploadEnableTimeout      time.Duration `yaml:"upload_enable_timeout"`
	ConfirmationTimeout      time.Duration `yaml:"confirmation_timeout"`
	ConfirmationSettleDelay  time.Duration `yaml:"confirmation_settle_delay"`
	ConfirmationPollInterval time.Duration `yaml:"confirmation_poll_interval"`
	ClickRetryAttempts       int           `yaml:"click_retry_attempts"`
	ClickRetryInterval       time.Duration `yaml:"click_retry_interval"`
}

// PortalConfig holds settings for the signage portal the worker drives
type PortalConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Headless      bool          `yaml:"headless"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the fields the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Database.MigrationsPath == "" {
		return fmt.Errorf("database migrations_path is required")
	}

	return nil
}

// ValidateWorkerConfig checks the fields the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal base_url is required")
	}

	return nil
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.ExchangeName == "" {
		return fmt.Errorf("rabbitmq exchange_name is required")
	}

	if c.RabbitMQ.QueueName == "" {
		return fmt.Errorf("rabbitmq queue_name is required")
	}

	return nil
}
