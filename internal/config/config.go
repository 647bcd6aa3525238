package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory    = "memory"
	BackendJetStream = "jetstream"

	StartLatest      = "LATEST"
	StartTrimHorizon = "TRIM_HORIZON"

	CachePolicyFail    = "fail"
	CachePolicyDegrade = "degrade"

	SinkLog       = "log"
	SinkMySQL     = "mysql"
	SinkJetStream = "jetstream"
)

type Config struct {
	Queue     QueueConfig     `mapstructure:"queue"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Invoke    InvokeConfig    `mapstructure:"invoke"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Processor ProcessorConfig `mapstructure:"processor"`
	NATS      NATSConfig      `mapstructure:"nats"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// QueueConfig describes the at-least-once queue source and its pollers.
type QueueConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Backend           string        `mapstructure:"backend"`
	Name              string        `mapstructure:"name"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	BatchSize         int           `mapstructure:"batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	// WaitTime is the long-poll wait; 0 short-polls with an idle pause
	// between empty polls.
	WaitTime          time.Duration `mapstructure:"wait_time"`
}

// StreamConfig describes the partitioned log source and its readers.
type StreamConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Backend          string        `mapstructure:"backend"`
	Name             string        `mapstructure:"name"`
	Partitions       int           `mapstructure:"partitions"`
	Retention        time.Duration `mapstructure:"retention"`
	StartingPosition string        `mapstructure:"starting_position"`
	BatchSize        int           `mapstructure:"batch_size"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	PartitionRefresh time.Duration `mapstructure:"partition_refresh"`
}

type InvokeConfig struct {
	Deadline        time.Duration `mapstructure:"deadline"`
	MaxPayloadBytes int           `mapstructure:"max_payload_bytes"`
	// URL of a remote processor; empty means the processor runs in-process.
	URL string `mapstructure:"url"`
}

type CacheConfig struct {
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type ProcessorConfig struct {
	// DedupWindows maps an event type to its dedup window in seconds.
	// Keys are lower-cased by viper; lookups are case-insensitive.
	DedupWindows       map[string]int `mapstructure:"dedup_windows"`
	MaxAttempts        int            `mapstructure:"max_attempts"`
	// AttemptWindow is how long an attempt counter lives. Required when
	// MaxAttempts is set.
	AttemptWindow      time.Duration  `mapstructure:"attempt_window"`
	CacheFailurePolicy string         `mapstructure:"cache_failure_policy"`
	FailureSink        string         `mapstructure:"failure_sink"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SinkSubject   string        `mapstructure:"sink_subject"`
}

type MySQLConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Database string `mapstructure:"database"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Load reads defaults, then an optional YAML file, then the environment.
// Environment keys use the PIPES_ prefix with dots replaced by
// underscores (PIPES_QUEUE_VISIBILITY_TIMEOUT=5m). The processor's cache
// endpoint is also read from REDIS_ENDPOINT and REDIS_PORT.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pipes")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pipes")
	}

	v.SetEnvPrefix("PIPES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("cache.host", "PIPES_CACHE_HOST", "REDIS_ENDPOINT")
	_ = v.BindEnv("cache.port", "PIPES_CACHE_PORT", "REDIS_PORT")
	_ = v.BindEnv("logging.mode", "PIPES_LOGGING_MODE", "LOG_MODE")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Stream.StartingPosition = strings.ToUpper(cfg.Stream.StartingPosition)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.name", "iot-queue")
	v.SetDefault("queue.visibility_timeout", "300s")
	v.SetDefault("queue.batch_size", 1)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.wait_time", "20s")

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.backend", BackendMemory)
	v.SetDefault("stream.name", "iot-stream")
	v.SetDefault("stream.partitions", 1)
	v.SetDefault("stream.retention", "24h")
	v.SetDefault("stream.starting_position", StartLatest)
	v.SetDefault("stream.batch_size", 100)
	v.SetDefault("stream.poll_interval", "1s")
	v.SetDefault("stream.retry_delay", "1s")
	v.SetDefault("stream.partition_refresh", "30s")

	v.SetDefault("invoke.deadline", "120s")
	v.SetDefault("invoke.max_payload_bytes", 256*1024)
	v.SetDefault("invoke.url", "")

	v.SetDefault("cache.host", "localhost")
	v.SetDefault("cache.port", "6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.dial_timeout", "5s")

	v.SetDefault("processor.dedup_windows", map[string]int{})
	v.SetDefault("processor.max_attempts", 0)
	v.SetDefault("processor.attempt_window", "24h")
	v.SetDefault("processor.cache_failure_policy", CachePolicyFail)
	v.SetDefault("processor.failure_sink", SinkLog)

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.name", "pipes")
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.timeout", "5s")
	v.SetDefault("nats.sink_subject", "pipes.failed")

	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "testpass")
	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", "3306")
	v.SetDefault("mysql.database", "eventdb")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("logging.mode", "dev")
	v.SetDefault("logging.level", "info")
}

// Validate rejects settings the routers cannot run with.
func (c *Config) Validate() error {
	var errs []error

	for name, backend := range map[string]string{"queue": c.Queue.Backend, "stream": c.Stream.Backend} {
		if backend != BackendMemory && backend != BackendJetStream {
			errs = append(errs, fmt.Errorf("%s.backend: unknown backend %q", name, backend))
		}
	}
	if c.Queue.VisibilityTimeout <= 0 {
		errs = append(errs, errors.New("queue.visibility_timeout must be positive"))
	}
	if c.Queue.WaitTime < 0 {
		errs = append(errs, errors.New("queue.wait_time must not be negative"))
	}
	if c.Queue.BatchSize <= 0 || c.Queue.Concurrency <= 0 {
		errs = append(errs, errors.New("queue.batch_size and queue.concurrency must be positive"))
	}
	if c.Stream.Partitions <= 0 || c.Stream.BatchSize <= 0 {
		errs = append(errs, errors.New("stream.partitions and stream.batch_size must be positive"))
	}
	if c.Stream.Retention <= 0 {
		errs = append(errs, errors.New("stream.retention must be positive"))
	}
	if c.Stream.StartingPosition != StartLatest && c.Stream.StartingPosition != StartTrimHorizon {
		errs = append(errs, fmt.Errorf("stream.starting_position: unknown position %q", c.Stream.StartingPosition))
	}
	if c.Invoke.Deadline <= 0 {
		errs = append(errs, errors.New("invoke.deadline must be positive"))
	}
	if c.Invoke.MaxPayloadBytes <= 0 {
		errs = append(errs, errors.New("invoke.max_payload_bytes must be positive"))
	}
	switch c.Processor.CacheFailurePolicy {
	case CachePolicyFail, CachePolicyDegrade:
	default:
		errs = append(errs, fmt.Errorf("processor.cache_failure_policy: unknown policy %q", c.Processor.CacheFailurePolicy))
	}
	switch c.Processor.FailureSink {
	case SinkLog, SinkMySQL, SinkJetStream:
	default:
		errs = append(errs, fmt.Errorf("processor.failure_sink: unknown sink %q", c.Processor.FailureSink))
	}
	if c.Processor.MaxAttempts < 0 {
		errs = append(errs, errors.New("processor.max_attempts must not be negative"))
	}
	if c.Processor.MaxAttempts > 0 && c.Processor.AttemptWindow <= 0 {
		errs = append(errs, errors.New("processor.attempt_window must be positive when processor.max_attempts is set"))
	}

	return errors.Join(errs...)
}

// CacheAddr returns the host:port of the cache endpoint.
func (c *Config) CacheAddr() string {
	return c.Cache.Host + ":" + c.Cache.Port
}

func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		c.MySQL.User, c.MySQL.Password, c.MySQL.Host, c.MySQL.Port, c.MySQL.Database)
}
