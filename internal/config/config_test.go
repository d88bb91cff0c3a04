package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
		checkFunc func(t *testing.T, cfg *Config)
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			checkFunc: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "traffic-export", cfg.App.Name)
				assert.Equal(t, "https://pda-api.ritis.org", cfg.API.BaseURL)
				assert.Equal(t, 2*time.Minute, cfg.API.RequestTimeout)
				assert.Equal(t, []string{"speed", "travel_time_minutes"}, cfg.Job.Columns)
				assert.Equal(t, []int{1, 2, 3, 4, 5}, cfg.Job.DaysOfWeek)
				assert.Equal(t, 30*time.Second, cfg.Lifecycle.PollInterval)
				assert.Equal(t, 2*time.Hour, cfg.Lifecycle.Timeout)
				assert.Equal(t, 5, cfg.Lifecycle.SubmitAttempts)
				require.NotNil(t, cfg.Lifecycle.Resubmissions)
				assert.Equal(t, 0, *cfg.Lifecycle.Resubmissions, "an explicit 0 must survive defaults")
				assert.Equal(t, 10*time.Minute, cfg.Lifecycle.RateLimitCooldown)
				assert.Equal(t, 2, cfg.Lifecycle.StatusErrorTolerance)
				assert.Equal(t, DriverPostgres, cfg.History.Driver)
				assert.Equal(t, "traffic_db", cfg.History.Database)
				assert.Equal(t, "artifact_events", cfg.Notify.RabbitMQ.Queue.Name)
				assert.Equal(t, 8080, cfg.Server.Port)
			},
		},
		{
			name:     "minimal config gets defaults",
			filePath: "testdata/minimal.yaml",
			checkFunc: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://pda-api.ritis.org", cfg.API.BaseURL)
				assert.Equal(t, "v2", cfg.API.Version)
				assert.Equal(t, "00:00:00", cfg.Job.StartTime)
				assert.Equal(t, "23:59:00", cfg.Job.EndTime)
				assert.Equal(t, 15, cfg.Job.BinSize)
				assert.Equal(t, DefaultColumns, cfg.Job.Columns)
				assert.Equal(t, []int{30, 20, 10}, cfg.Job.QualityThresholds)
				assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, cfg.Job.DaysOfWeek)
				assert.Equal(t, 60*time.Second, cfg.Lifecycle.PollInterval)
				assert.Equal(t, 300*time.Minute, cfg.Lifecycle.Timeout)
				assert.Equal(t, 3, cfg.Lifecycle.SubmitAttempts)
				assert.Equal(t, 10*time.Second, cfg.Lifecycle.SubmitBaseDelay)
				require.NotNil(t, cfg.Lifecycle.Resubmissions)
				assert.Equal(t, 1, *cfg.Lifecycle.Resubmissions)
				assert.Equal(t, 300*time.Second, cfg.Lifecycle.RateLimitCooldown)
				assert.Equal(t, 0, cfg.Lifecycle.StatusErrorTolerance)
				assert.Equal(t, DriverSQLite, cfg.History.Driver)
				assert.False(t, cfg.History.Enabled)
				assert.False(t, cfg.Notify.Enabled)
			},
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
			if tt.checkFunc != nil {
				tt.checkFunc(t, cfg)
			}
		})
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	lookuper := envconfig.MapLookuper(map[string]string{
		"TRAFFIC_API_KEY":         "from-env",
		"TRAFFIC_OUTPUT_DIR":      "/tmp/parquet",
		"TRAFFIC_HISTORY_ENABLED": "false",
		"TRAFFIC_RABBITMQ_PORT":   "5673",
		"TRAFFIC_LOG_LEVEL":       "debug",
	})
	require.NoError(t, cfg.ApplyEnv(context.Background(), lookuper))

	assert.Equal(t, "from-env", cfg.API.APIKey)
	assert.Equal(t, "/tmp/parquet", cfg.Storage.OutputDir)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, 5673, cfg.Notify.RabbitMQ.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset variables leave file values alone.
	assert.Equal(t, "/var/lib/traffic-export/last_run.txt", cfg.Storage.WatermarkPath)
	assert.Equal(t, "localhost", cfg.History.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestConfig_ApplyEnv_InvalidValue(t *testing.T) {
	cfg, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)

	lookuper := envconfig.MapLookuper(map[string]string{"TRAFFIC_SERVER_PORT": "eighty"})
	err = cfg.ApplyEnv(context.Background(), lookuper)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to process environment")
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	negative := -1

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:      "relative base url",
			mutate:    func(c *Config) { c.API.BaseURL = "pda-api.ritis.org" },
			errString: "invalid api base_url",
		},
		{
			name:      "missing segments path",
			mutate:    func(c *Config) { c.Job.SegmentsPath = "" },
			errString: "job segments_path is required",
		},
		{
			name:      "bad time of day",
			mutate:    func(c *Config) { c.Job.EndTime = "24:00" },
			errString: "invalid job time of day",
		},
		{
			name:      "bad day of week",
			mutate:    func(c *Config) { c.Job.DaysOfWeek = []int{0, 7} },
			errString: "invalid job day of week",
		},
		{
			name:      "negative resubmissions",
			mutate:    func(c *Config) { c.Lifecycle.Resubmissions = &negative },
			errString: "lifecycle resubmissions must not be negative",
		},
		{
			name:      "negative status error tolerance",
			mutate:    func(c *Config) { c.Lifecycle.StatusErrorTolerance = -1 },
			errString: "status_error_tolerance must not be negative",
		},
		{
			name:      "missing watermark path",
			mutate:    func(c *Config) { c.Storage.WatermarkPath = "" },
			errString: "storage watermark_path is required",
		},
		{
			name: "history with unknown driver",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.History.Driver = "mysql"
			},
			errString: "unsupported history driver",
		},
		{
			name: "history disabled ignores driver",
			mutate: func(c *Config) {
				c.History.Driver = "mysql"
			},
		},
		{
			name: "notify without host",
			mutate: func(c *Config) {
				c.Notify.Enabled = true
			},
			errString: "rabbitmq host is required",
		},
		{
			name: "notify with host",
			mutate: func(c *Config) {
				c.Notify.Enabled = true
				c.Notify.RabbitMQ.Host = "localhost"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "sqlite history",
			mutate: func(c *Config) { c.History.Enabled = true },
		},
		{
			name:      "history disabled",
			mutate:    func(c *Config) {},
			errString: "history must be enabled",
		},
		{
			name: "invalid server port - too low",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.Server.Port = -1
			},
			errString: "invalid server port",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.History.Driver = DriverPostgres
			},
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateWorkerConfig())
		require.NoError(t, cfg.ValidateAPIConfig())
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

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
