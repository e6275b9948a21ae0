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

// Config represents the complete application configuration.
// The three binaries share one schema and validate only the sections they use.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Auth     AuthConfig     `yaml:"auth"`
	Clock    ClockConfig    `yaml:"clock"`
	Agent    AgentConfig    `yaml:"agent"`
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
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the audit sink broker settings
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	BindingKey string `yaml:"binding_key"`
	Durable    bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
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
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	GCInterval      time.Duration `yaml:"gc_interval"`
	GCBatchSize     int           `yaml:"gc_batch_size"`
}

// AuthConfig holds JWT verification settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// ClockConfig holds server-side clock event rules
type ClockConfig struct {
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	SkewTolerance   time.Duration `yaml:"skew_tolerance"`
	IdempotencyTTL  time.Duration `yaml:"idempotency_ttl"`
	TxRetryAttempts int           `yaml:"tx_retry_attempts"`
}

// AgentConfig holds the on-device sync agent settings
type AgentConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIBaseURL     string        `yaml:"api_base_url"`
	Token          string        `yaml:"token"`
	DatabasePath   string        `yaml:"database_path"`
	MaxQueueDepth  int           `yaml:"max_queue_depth"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Retention      time.Duration `yaml:"retention"`
	PurgeInterval  time.Duration `yaml:"purge_interval"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Load reads and parses the configuration file.
// ${VAR} references are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Clock.FreshnessWindow == 0 {
		c.Clock.FreshnessWindow = 24 * time.Hour
	}
	if c.Clock.SkewTolerance == 0 {
		c.Clock.SkewTolerance = 5 * time.Minute
	}
	if c.Clock.IdempotencyTTL == 0 {
		c.Clock.IdempotencyTTL = 24 * time.Hour
	}
	if c.Clock.TxRetryAttempts == 0 {
		c.Clock.TxRetryAttempts = 5
	}
	if c.Agent.MaxQueueDepth == 0 {
		c.Agent.MaxQueueDepth = 100
	}
	if c.Agent.RequestTimeout == 0 {
		c.Agent.RequestTimeout = 30 * time.Second
	}
	if c.Agent.PollInterval == 0 {
		c.Agent.PollInterval = 15 * time.Second
	}
	if c.Agent.Retention == 0 {
		c.Agent.Retention = 7 * 24 * time.Hour
	}
	if c.Agent.PurgeInterval == 0 {
		c.Agent.PurgeInterval = time.Hour
	}
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if err := validatePort("database", c.Database.Port); err != nil {
		return err
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
		return err
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	return nil
}

// ValidateAPIConfig checks the sections used by api-service
func (c *Config) ValidateAPIConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	if c.Clock.SkewTolerance >= c.Clock.FreshnessWindow {
		return fmt.Errorf("clock skew_tolerance must be shorter than freshness_window")
	}
	if c.Clock.IdempotencyTTL < c.Clock.FreshnessWindow {
		return fmt.Errorf("clock idempotency_ttl must cover freshness_window")
	}
	return nil
}

// ValidateWorkerConfig checks the sections used by worker-service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}
	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}
	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}
	if c.Worker.GCInterval <= 0 {
		return fmt.Errorf("worker gc_interval must be greater than 0")
	}
	if c.Worker.GCBatchSize <= 0 {
		return fmt.Errorf("worker gc_batch_size must be greater than 0")
	}
	return nil
}

// ValidateAgentConfig checks the sections used by sync-agent
func (c *Config) ValidateAgentConfig() error {
	if c.Agent.ListenAddr == "" {
		return fmt.Errorf("agent listen_addr is required")
	}
	if c.Agent.APIBaseURL == "" {
		return fmt.Errorf("agent api_base_url is required")
	}
	if c.Agent.DatabasePath == "" {
		return fmt.Errorf("agent database_path is required")
	}
	if c.Agent.MaxQueueDepth <= 0 {
		return fmt.Errorf("agent max_queue_depth must be greater than 0")
	}
	if c.Agent.PollInterval <= 0 {
		return fmt.Errorf("agent poll_interval must be greater than 0")
	}
	if c.Agent.RequestTimeout <= 0 {
		return fmt.Errorf("agent request_timeout must be greater than 0")
	}
	if c.Agent.Retention <= 0 {
		return fmt.Errorf("agent retention must be greater than 0")
	}
	return nil
}
