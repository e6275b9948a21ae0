package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("FIELDCLOCK_TEST_DB_PASSWORD", "s3cret")
	t.Setenv("FIELDCLOCK_TEST_AGENT_TOKEN", "device-token")

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "fieldclock", cfg.Database.Database)
			assert.Equal(t, "s3cret", cfg.Database.Password)
			assert.Equal(t, "fieldclock.audit", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "audit.#", cfg.RabbitMQ.Queue.BindingKey)
			assert.Equal(t, 24*time.Hour, cfg.Clock.FreshnessWindow)
			assert.Equal(t, "device-token", cfg.Agent.Token)
			assert.Equal(t, 168*time.Hour, cfg.Agent.Retention)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Clock.FreshnessWindow)
	assert.Equal(t, 5*time.Minute, cfg.Clock.SkewTolerance)
	assert.Equal(t, 24*time.Hour, cfg.Clock.IdempotencyTTL)
	assert.Equal(t, 5, cfg.Clock.TxRetryAttempts)
	assert.Equal(t, 100, cfg.Agent.MaxQueueDepth)
	assert.Equal(t, 30*time.Second, cfg.Agent.RequestTimeout)
	assert.Equal(t, time.Hour, cfg.Agent.PurgeInterval)

	require.NoError(t, cfg.ValidateAgentConfig())
}

func validAPIConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "fieldclock",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "fieldclock.audit"},
			Queue:    QueueConfig{Name: "audit_events"},
		},
		Auth: AuthConfig{JWTSecret: "secret"},
		Clock: ClockConfig{
			FreshnessWindow: 24 * time.Hour,
			SkewTolerance:   5 * time.Minute,
			IdempotencyTTL:  24 * time.Hour,
		},
		Worker: WorkerConfig{
			Concurrency:     2,
			JobTimeout:      time.Second,
			ShutdownTimeout: time.Second,
			GCInterval:      time.Minute,
			GCBatchSize:     100,
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "invalid server port - too low", mutate: func(c *Config) { c.Server.Port = 0 }, errString: "invalid server port"},
		{name: "invalid server port - too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errString: "invalid server port"},
		{name: "empty database host", mutate: func(c *Config) { c.Database.Host = "" }, errString: "database host is required"},
		{name: "empty database name", mutate: func(c *Config) { c.Database.Database = "" }, errString: "database name is required"},
		{name: "empty rabbitmq host", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
		{name: "empty exchange name", mutate: func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, errString: "rabbitmq exchange name is required"},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, errString: "jwt_secret is required"},
		{
			name:      "skew tolerance wider than window",
			mutate:    func(c *Config) { c.Clock.SkewTolerance = 48 * time.Hour },
			errString: "skew_tolerance must be shorter",
		},
		{
			name:      "idempotency ttl shorter than window",
			mutate:    func(c *Config) { c.Clock.IdempotencyTTL = time.Hour },
			errString: "idempotency_ttl must cover",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "empty queue name", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }, errString: "rabbitmq queue name is required"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, errString: "concurrency must be greater than 0"},
		{name: "zero job timeout", mutate: func(c *Config) { c.Worker.JobTimeout = 0 }, errString: "job_timeout"},
		{name: "zero gc interval", mutate: func(c *Config) { c.Worker.GCInterval = 0 }, errString: "gc_interval"},
		{name: "zero gc batch", mutate: func(c *Config) { c.Worker.GCBatchSize = 0 }, errString: "gc_batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateAgentConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{Agent: AgentConfig{
			ListenAddr:     "127.0.0.1:7070",
			APIBaseURL:     "https://api.example.com",
			DatabasePath:   "queue.db",
			MaxQueueDepth:  100,
			PollInterval:   15 * time.Second,
			RequestTimeout: 30 * time.Second,
			Retention:      24 * time.Hour,
		}}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing listen addr", mutate: func(c *Config) { c.Agent.ListenAddr = "" }, errString: "listen_addr"},
		{name: "missing api url", mutate: func(c *Config) { c.Agent.APIBaseURL = "" }, errString: "api_base_url"},
		{name: "missing database path", mutate: func(c *Config) { c.Agent.DatabasePath = "" }, errString: "database_path"},
		{name: "zero depth", mutate: func(c *Config) { c.Agent.MaxQueueDepth = 0 }, errString: "max_queue_depth"},
		{name: "zero retention", mutate: func(c *Config) { c.Agent.Retention = 0 }, errString: "retention"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.ValidateAgentConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
		require.NoError(t, cfg.ValidateAgentConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
