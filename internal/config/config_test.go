package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 1, cfg.Queue.BatchSize)
	assert.Equal(t, 20*time.Second, cfg.Queue.WaitTime)
	assert.Equal(t, BackendMemory, cfg.Queue.Backend)

	assert.Equal(t, StartLatest, cfg.Stream.StartingPosition)
	assert.Equal(t, 24*time.Hour, cfg.Stream.Retention)
	assert.Equal(t, 100, cfg.Stream.BatchSize)
	assert.Equal(t, 1, cfg.Stream.Partitions)

	assert.Equal(t, 120*time.Second, cfg.Invoke.Deadline)
	assert.Equal(t, 256*1024, cfg.Invoke.MaxPayloadBytes)

	assert.Equal(t, "localhost:6379", cfg.CacheAddr())
	assert.Equal(t, 0, cfg.Processor.MaxAttempts)
	assert.Equal(t, CachePolicyFail, cfg.Processor.CacheFailurePolicy)
	assert.Equal(t, SinkLog, cfg.Processor.FailureSink)
}

func TestLoad_RedisEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REDIS_ENDPOINT", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", cfg.CacheAddr())
}

func TestLoad_PrefixedEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PIPES_QUEUE_VISIBILITY_TIMEOUT", "5m")
	t.Setenv("PIPES_STREAM_STARTING_POSITION", "trim_horizon")
	t.Setenv("PIPES_INVOKE_URL", "http://processor:8080/invoke")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, StartTrimHorizon, cfg.Stream.StartingPosition)
	assert.Equal(t, "http://processor:8080/invoke", cfg.Invoke.URL)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queue:
  backend: jetstream
  concurrency: 8
stream:
  partitions: 4
processor:
  max_attempts: 5
  dedup_windows:
    SensorReading: 600
    DoorOpened: 30
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendJetStream, cfg.Queue.Backend)
	assert.Equal(t, 8, cfg.Queue.Concurrency)
	assert.Equal(t, 4, cfg.Stream.Partitions)
	assert.Equal(t, 5, cfg.Processor.MaxAttempts)
	// viper lower-cases map keys
	assert.Equal(t, map[string]int{"sensorreading": 600, "dooropened": 30}, cfg.Processor.DedupWindows)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Queue.Backend = "sqs"
	bad.Stream.StartingPosition = "AT_TIMESTAMP"
	bad.Invoke.Deadline = 0
	bad.Processor.CacheFailurePolicy = "ignore"

	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend "sqs"`)
	assert.Contains(t, err.Error(), `unknown position "AT_TIMESTAMP"`)
	assert.Contains(t, err.Error(), "invoke.deadline must be positive")
	assert.Contains(t, err.Error(), `unknown policy "ignore"`)
}

func TestValidate_PollAndAttemptWindows(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	zeroWait := *cfg
	zeroWait.Queue.WaitTime = 0
	assert.NoError(t, zeroWait.Validate())

	negativeWait := *cfg
	negativeWait.Queue.WaitTime = -5 * time.Second
	assert.ErrorContains(t, negativeWait.Validate(), "queue.wait_time must not be negative")

	noWindow := *cfg
	noWindow.Processor.MaxAttempts = 3
	noWindow.Processor.AttemptWindow = 0
	assert.ErrorContains(t, noWindow.Validate(), "processor.attempt_window must be positive")

	// without an attempt budget the window is unused
	noWindow.Processor.MaxAttempts = 0
	assert.NoError(t, noWindow.Validate())
}

func TestLoad_RejectsNegativeWaitTime(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PIPES_QUEUE_WAIT_TIME", "-5s")

	_, err := Load("")
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := &Config{MySQL: MySQLConfig{User: "u", Password: "p", Host: "db", Port: "3306", Database: "events"}}
	assert.Equal(t, "u:p@tcp(db:3306)/events?parseTime=true", cfg.DSN())
}
