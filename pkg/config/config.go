package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		SendBuffer   int           `yaml:"send_buffer"`
	} `yaml:"signal"`

	Simulation struct {
		TickInterval      time.Duration `yaml:"tick_interval"`
		InitialStreams    int           `yaml:"initial_streams"`
		AddProbability    float64       `yaml:"add_probability"`
		RemoveProbability float64       `yaml:"remove_probability"`
		LatencyMean       float64       `yaml:"latency_mean"`
		LatencyStdDev     float64       `yaml:"latency_stddev"`
		BufferingMean     float64       `yaml:"buffering_mean"`
		UsersMean         float64       `yaml:"users_mean"`
		UsersStdDev       float64       `yaml:"users_stddev"`
		Seed              int64         `yaml:"seed"` // 0 = time based
	} `yaml:"simulation"`

	History struct {
		Capacity   int           `yaml:"capacity"`
		QueryLimit int           `yaml:"query_limit"`
		Key        string        `yaml:"key"`
		CacheTTL   time.Duration `yaml:"cache_ttl"` // 0 disables query caching
	} `yaml:"history"`

	Store struct {
		OperationTimeout time.Duration `yaml:"operation_timeout"`
		QueueSize        int           `yaml:"queue_size"`
		FailureThreshold int           `yaml:"failure_threshold"`
		ResetTimeout     time.Duration `yaml:"reset_timeout"`
	} `yaml:"store"`

	Detector struct {
		Contamination   float64       `yaml:"contamination"`
		MinSamples      int           `yaml:"min_samples"`
		RetrainInterval time.Duration `yaml:"retrain_interval"`
		Trees           int           `yaml:"trees"`
		SampleSize      int           `yaml:"sample_size"`
		Seed            int64         `yaml:"seed"`
		ModelPath       string        `yaml:"model_path"`
	} `yaml:"detector"`

	Forecast struct {
		Window   int `yaml:"window"`
		Capacity int `yaml:"capacity"`
	} `yaml:"forecast"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   struct {
			Path       string `yaml:"path"`
			MaxSizeMB  int    `yaml:"max_size_mb"`
			MaxBackups int    `yaml:"max_backups"`
			MaxAgeDays int    `yaml:"max_age_days"`
			Compress   bool   `yaml:"compress"`
		} `yaml:"file"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
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

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("signal.send_buffer must be > 0")
	}

	// Simulation
	if c.Simulation.TickInterval <= 0 {
		return fmt.Errorf("simulation.tick_interval must be > 0")
	}
	if c.Simulation.InitialStreams < 0 {
		return fmt.Errorf("simulation.initial_streams must be >= 0")
	}
	if !isProbability(c.Simulation.AddProbability) {
		return fmt.Errorf("simulation.add_probability must be within [0, 1]")
	}
	if !isProbability(c.Simulation.RemoveProbability) {
		return fmt.Errorf("simulation.remove_probability must be within [0, 1]")
	}
	if c.Simulation.LatencyStdDev < 0 || c.Simulation.UsersStdDev < 0 {
		return fmt.Errorf("simulation stddev values must be >= 0")
	}
	if c.Simulation.BufferingMean < 0 {
		return fmt.Errorf("simulation.buffering_mean must be >= 0")
	}

	// History
	if c.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be > 0")
	}
	if c.History.QueryLimit <= 0 || c.History.QueryLimit > c.History.Capacity {
		return fmt.Errorf("history.query_limit must be within [1, history.capacity]")
	}
	if c.History.Key == "" {
		return fmt.Errorf("history.key must not be empty")
	}
	if c.History.CacheTTL < 0 {
		return fmt.Errorf("history.cache_ttl must be >= 0")
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return fmt.Errorf("store.operation_timeout must be > 0")
	}
	if c.Store.QueueSize <= 0 {
		return fmt.Errorf("store.queue_size must be > 0")
	}
	if c.Store.FailureThreshold <= 0 {
		return fmt.Errorf("store.failure_threshold must be > 0")
	}
	if c.Store.ResetTimeout <= 0 {
		return fmt.Errorf("store.reset_timeout must be > 0")
	}

	// Detector
	if c.Detector.Contamination <= 0 || c.Detector.Contamination > 0.5 {
		return fmt.Errorf("detector.contamination must be within (0, 0.5]")
	}
	if c.Detector.MinSamples <= 0 {
		return fmt.Errorf("detector.min_samples must be > 0")
	}
	if c.Detector.RetrainInterval <= 0 {
		return fmt.Errorf("detector.retrain_interval must be > 0")
	}
	if c.Detector.Trees <= 0 {
		return fmt.Errorf("detector.trees must be > 0")
	}
	if c.Detector.SampleSize <= 1 {
		return fmt.Errorf("detector.sample_size must be > 1")
	}

	// Forecast
	if c.Forecast.Capacity <= 0 {
		return fmt.Errorf("forecast.capacity must be > 0")
	}
	if c.Forecast.Window <= 0 || c.Forecast.Window > c.Forecast.Capacity {
		return fmt.Errorf("forecast.window must be within [1, forecast.capacity]")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if !isProbability(c.Tracing.SampleRate) {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

func isProbability(p float64) bool {
	return p >= 0 && p <= 1
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
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

	cfg.Server.Address = ":8000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendBuffer = 64

	cfg.Simulation.TickInterval = time.Second
	cfg.Simulation.InitialStreams = 5
	cfg.Simulation.AddProbability = 0.10
	cfg.Simulation.RemoveProbability = 0.05
	cfg.Simulation.LatencyMean = 100
	cfg.Simulation.LatencyStdDev = 20
	cfg.Simulation.BufferingMean = 5
	cfg.Simulation.UsersMean = 1000
	cfg.Simulation.UsersStdDev = 200

	cfg.History.Capacity = 1000
	cfg.History.QueryLimit = 100
	cfg.History.Key = "metrics_history"

	cfg.Store.OperationTimeout = 500 * time.Millisecond
	cfg.Store.QueueSize = 256
	cfg.Store.FailureThreshold = 5
	cfg.Store.ResetTimeout = 30 * time.Second

	cfg.Detector.Contamination = 0.1
	cfg.Detector.MinSamples = 100
	cfg.Detector.RetrainInterval = time.Hour
	cfg.Detector.Trees = 100
	cfg.Detector.SampleSize = 256
	cfg.Detector.Seed = 42

	cfg.Forecast.Window = 60
	cfg.Forecast.Capacity = 1000

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File.MaxSizeMB = 100
	cfg.Logging.File.MaxBackups = 3
	cfg.Logging.File.MaxAgeDays = 28

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 20
	cfg.RateLimiting.WebSocket.Burst = 40
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	cfg.CORS.AllowedOrigins = []string{"*"}

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "cdnpulse"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CDNPULSE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("CDNPULSE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("CDNPULSE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if password := os.Getenv("CDNPULSE_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if path := os.Getenv("CDNPULSE_MODEL_PATH"); path != "" {
		c.Detector.ModelPath = path
	}
	if raw := os.Getenv("CDNPULSE_TICK_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			c.Simulation.TickInterval = d
		}
	}
	if raw := os.Getenv("CDNPULSE_SEED"); raw != "" {
		if seed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.Simulation.Seed = seed
		}
	}
	if url := os.Getenv("CDNPULSE_JAEGER_URL"); url != "" {
		c.Tracing.JaegerURL = url
		c.Tracing.Enabled = true
	}
}
