package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nmxmxh/collision-readback/internal/gpubuffer"
	"github.com/nmxmxh/collision-readback/internal/readback"
	"github.com/nmxmxh/collision-readback/internal/sink/filter"
	"github.com/nmxmxh/collision-readback/internal/sink/redisstream"
	"github.com/nmxmxh/collision-readback/pkg/errors"
	"github.com/nmxmxh/collision-readback/pkg/redis"
)

// Copier kinds.
const (
	CopierFrame = "frame"
	CopierPool  = "pool"
)

// Readback configures the buffer and the readback scheduler.
type Readback struct {
	Capacity    uint32 `yaml:"capacity"`
	FrameRate   int    `yaml:"frame_rate"`
	ResetPolicy string `yaml:"reset_policy"`
	Copier      string `yaml:"copier"`
	// CopyLatencyFrames is the frame copier latency in ticks.
	CopyLatencyFrames int `yaml:"copy_latency_frames"`
	// CopyLatency and CopyWorkers configure the pool copier.
	CopyLatency time.Duration `yaml:"copy_latency"`
	CopyWorkers int           `yaml:"copy_workers"`
}

// TickInterval returns the frame period.
func (r Readback) TickInterval() time.Duration {
	if r.FrameRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(r.FrameRate)
}

// Sinks selects and configures collision consumers.
type Sinks struct {
	AudioClip         string             `yaml:"audio_clip"`
	DebugDraw         bool               `yaml:"debug_draw"`
	DebugLineDuration time.Duration      `yaml:"debug_line_duration"`
	Log               bool               `yaml:"log"`
	Filter            string             `yaml:"filter"`
	WebSocketAddr     string             `yaml:"websocket_addr"`
	RedisEnabled      bool               `yaml:"redis_enabled"`
	Redis             redis.Config       `yaml:"redis"`
	RedisStream       redisstream.Config `yaml:"redis_stream"`
}

// Simulation configures the built-in producer.
type Simulation struct {
	Enabled    bool  `yaml:"enabled"`
	MaxPerStep int   `yaml:"max_per_step"`
	Seed       int64 `yaml:"seed"`
}

type Config struct {
	AppEnv         string     `yaml:"app_env"`
	AppName        string     `yaml:"app_name"`
	LogLevel       string     `yaml:"log_level"`
	MetricsAddr    string     `yaml:"metrics_addr"`
	TracingAddr    string     `yaml:"tracing_addr"`
	ReportSchedule string     `yaml:"report_schedule"`
	Readback       Readback   `yaml:"readback"`
	Sinks          Sinks      `yaml:"sinks"`
	Simulation     Simulation `yaml:"simulation"`

	// Path is the YAML file the config was read from, if any.
	Path string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AppEnv:         "development",
		AppName:        "collision-readback",
		LogLevel:       "info",
		MetricsAddr:    ":9090",
		ReportSchedule: "@every 10s",
		Readback: Readback{
			Capacity:          16,
			FrameRate:         60,
			ResetPolicy:       readback.ResetOnIssue.String(),
			Copier:            CopierFrame,
			CopyLatencyFrames: 2,
			CopyLatency:       30 * time.Millisecond,
			CopyWorkers:       2,
		},
		Sinks: Sinks{
			AudioClip:         "impact",
			DebugDraw:         true,
			DebugLineDuration: time.Second,
			Redis:             redis.Config{Host: "localhost", Port: "6379", PoolSize: 10},
			RedisStream:       redisstream.DefaultConfig(),
		},
		Simulation: Simulation{Enabled: true, MaxPerStep: 24, Seed: 1},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by READBACK_CONFIG, then environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("READBACK_CONFIG"))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", errors.ErrInvalidConfig, path, err)
		}
		cfg.Path = path
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.AppEnv, "APP_ENV")
	setString(&c.AppName, "APP_NAME")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.MetricsAddr, "METRICS_ADDR")
	setString(&c.TracingAddr, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.ReportSchedule, "REPORT_SCHEDULE")
	setString(&c.Readback.ResetPolicy, "READBACK_RESET_POLICY")
	setString(&c.Readback.Copier, "READBACK_COPIER")
	setString(&c.Sinks.AudioClip, "READBACK_AUDIO_CLIP")
	setString(&c.Sinks.Filter, "READBACK_FILTER")
	setString(&c.Sinks.WebSocketAddr, "WS_ADDR")
	setString(&c.Sinks.Redis.Host, "REDIS_HOST")
	setString(&c.Sinks.Redis.Port, "REDIS_PORT")
	setString(&c.Sinks.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Sinks.RedisStream.Stream, "REDIS_STREAM")

	var err error
	if v := os.Getenv("READBACK_CAPACITY"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: invalid READBACK_CAPACITY: %v", errors.ErrInvalidConfig, err)
		}
		c.Readback.Capacity = uint32(n)
	}
	if v := os.Getenv("READBACK_FRAME_RATE"); v != "" {
		if c.Readback.FrameRate, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("%w: invalid READBACK_FRAME_RATE: %v", errors.ErrInvalidConfig, err)
		}
	}
	if v := os.Getenv("READBACK_COPY_LATENCY"); v != "" {
		if c.Readback.CopyLatency, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("%w: invalid READBACK_COPY_LATENCY: %v", errors.ErrInvalidConfig, err)
		}
	}
	if v := os.Getenv("READBACK_COPY_WORKERS"); v != "" {
		if c.Readback.CopyWorkers, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("%w: invalid READBACK_COPY_WORKERS: %v", errors.ErrInvalidConfig, err)
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if c.Sinks.Redis.DB, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("%w: invalid REDIS_DB: %v", errors.ErrInvalidConfig, err)
		}
	}
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		if c.Sinks.RedisEnabled, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%w: invalid REDIS_ENABLED: %v", errors.ErrInvalidConfig, err)
		}
	}
	if v := os.Getenv("SIMULATION_ENABLED"); v != "" {
		if c.Simulation.Enabled, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%w: invalid SIMULATION_ENABLED: %v", errors.ErrInvalidConfig, err)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks ranges and compiles the filter expression.
func (c *Config) Validate() error {
	if c.Readback.Capacity > gpubuffer.MaxCapacity {
		return fmt.Errorf("%w: capacity %d exceeds %d", errors.ErrInvalidConfig, c.Readback.Capacity, gpubuffer.MaxCapacity)
	}
	if c.Readback.FrameRate <= 0 {
		return fmt.Errorf("%w: frame rate must be positive", errors.ErrInvalidConfig)
	}
	if _, err := c.Readback.Policy(); err != nil {
		return err
	}
	switch c.Readback.Copier {
	case CopierFrame:
		if c.Readback.CopyLatencyFrames < 1 {
			return fmt.Errorf("%w: copy latency must be at least one frame", errors.ErrInvalidConfig)
		}
	case CopierPool:
		if c.Readback.CopyWorkers < 1 {
			return fmt.Errorf("%w: pool copier needs at least one worker", errors.ErrInvalidConfig)
		}
		if c.Readback.CopyLatency < 0 {
			return fmt.Errorf("%w: negative copy latency", errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown copier %q", errors.ErrInvalidConfig, c.Readback.Copier)
	}
	if c.Sinks.Filter != "" {
		if _, err := filter.Compile(c.Sinks.Filter); err != nil {
			return err
		}
	}
	return nil
}

// Policy parses the configured reset policy.
func (r Readback) Policy() (readback.ResetPolicy, error) {
	return readback.ParseResetPolicy(r.ResetPolicy)
}
