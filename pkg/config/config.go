package config

import (
	"fmt"
	"os"
	"time"

	"kvmbridge/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Device struct {
		BaseURL        string        `yaml:"base_url"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		LoginTimeout   time.Duration `yaml:"login_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"device"`

	Poll struct {
		Interval     time.Duration `yaml:"interval"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
	} `yaml:"poll"`

	SSH struct {
		Username string        `yaml:"username"`
		Port     int           `yaml:"port"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"ssh"`

	WebRTC struct {
		HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
		MaxPendingCandidates int           `yaml:"max_pending_candidates"`
	} `yaml:"webrtc"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if err := validation.ValidateBaseURL(c.Device.BaseURL); err != nil {
		return fmt.Errorf("device.base_url: %w", err)
	}
	if c.Device.Username == "" {
		return fmt.Errorf("device.username must not be empty")
	}
	if c.Device.LoginTimeout <= 0 {
		return fmt.Errorf("device.login_timeout must be > 0")
	}
	if c.Device.RequestTimeout <= 0 {
		return fmt.Errorf("device.request_timeout must be > 0")
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be > 0")
	}
	if c.Poll.FetchTimeout <= 0 {
		return fmt.Errorf("poll.fetch_timeout must be > 0")
	}
	if c.Poll.FetchTimeout >= c.Poll.Interval {
		return fmt.Errorf("poll.fetch_timeout must be < poll.interval")
	}

	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port must be in 1..65535")
	}
	if c.SSH.Timeout <= 0 {
		return fmt.Errorf("ssh.timeout must be > 0")
	}

	if c.WebRTC.HeartbeatInterval <= 0 {
		return fmt.Errorf("webrtc.heartbeat_interval must be > 0")
	}
	if c.WebRTC.MaxPendingCandidates <= 0 {
		return fmt.Errorf("webrtc.max_pending_candidates must be > 0")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}
	if c.Auth.Username == "" || c.Auth.Password == "" {
		return fmt.Errorf("auth.username and auth.password must not be empty")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1] when tracing is enabled")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8090"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Device.Username = "admin"
	cfg.Device.Password = "admin"
	cfg.Device.LoginTimeout = 15 * time.Second
	cfg.Device.RequestTimeout = 10 * time.Second

	cfg.Poll.Interval = 30 * time.Second
	cfg.Poll.FetchTimeout = 10 * time.Second

	cfg.SSH.Username = "root"
	cfg.SSH.Port = 22
	cfg.SSH.Timeout = 10 * time.Second

	cfg.WebRTC.HeartbeatInterval = 30 * time.Second
	cfg.WebRTC.MaxPendingCandidates = 64

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.Username = "operator"
	cfg.Auth.Password = "operator"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("KVMBRIDGE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("KVMBRIDGE_DEVICE_URL"); url != "" {
		c.Device.BaseURL = url
	}
	if user := os.Getenv("KVMBRIDGE_DEVICE_USERNAME"); user != "" {
		c.Device.Username = user
	}
	if pass := os.Getenv("KVMBRIDGE_DEVICE_PASSWORD"); pass != "" {
		c.Device.Password = pass
	}
	if level := os.Getenv("KVMBRIDGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("KVMBRIDGE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if user := os.Getenv("KVMBRIDGE_AUTH_USERNAME"); user != "" {
		c.Auth.Username = user
	}
	if pass := os.Getenv("KVMBRIDGE_AUTH_PASSWORD"); pass != "" {
		c.Auth.Password = pass
	}
}
