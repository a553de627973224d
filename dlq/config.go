package dlq

import (
	"log/slog"
	"time"
)

const (
	defaultMaxAttempts          = 5
	defaultRetryDelay           = 30 * time.Second
	defaultBackoffMultiplier    = 2.0
	defaultMaxDelay             = 30 * time.Minute
	defaultPoisonThreshold      = 10
	defaultSweepInterval        = 5 * time.Second
	defaultSweepBatch           = 32
	defaultCleanupInterval      = time.Minute
	defaultResolvedRetention    = time.Hour
	defaultMaxRetention         = 24 * time.Hour
	defaultMaxQueueSize         = 10_000
	defaultCompressionThreshold = 4096
	defaultWorkers              = 4
)

// Config configures a single dead letter queue. The zero value of every
// field other than Name is replaced with a sensible default.
type Config struct {
	// Name is the unique key of the queue.
	Name string `yaml:"name"`

	// MaxAttempts caps automatic retries per record before it turns poison.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the base delay before a record's first automatic retry.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// BackoffMultiplier scales the delay after each failed retry.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// MaxDelay caps the delay between automatic retries.
	MaxDelay time.Duration `yaml:"max_delay"`

	// PoisonThreshold is the total failure count at which a record is
	// quarantined regardless of its own MaxAttempts.
	PoisonThreshold int `yaml:"poison_threshold"`

	// SweepInterval is how often the queue scans for due retries.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SweepBatch bounds how many records one sweep picks up.
	SweepBatch int `yaml:"sweep_batch"`

	// CleanupInterval is how often retention is enforced.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// ResolvedRetention is how long resolved records stay visible.
	ResolvedRetention time.Duration `yaml:"resolved_retention"`

	// MaxRetention evicts any record older than this, whatever its status.
	MaxRetention time.Duration `yaml:"max_retention"`

	// MaxQueueSize bounds the queue; enqueueing beyond it evicts the oldest
	// record.
	MaxQueueSize int `yaml:"max_queue_size"`

	// CompressionThreshold is the payload size in bytes at which payloads
	// are stored gzip-compressed. Negative disables compression.
	CompressionThreshold int `yaml:"compression_threshold"`

	// Workers sizes the retry handler pool.
	Workers int `yaml:"workers"`

	// Logger defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`

	// Now is the clock, overridable in tests.
	Now func() time.Time `yaml:"-"`
}

// DefaultConfig returns the default configuration for a named queue.
func DefaultConfig(name string) Config {
	return Config{Name: name}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}

	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = defaultBackoffMultiplier
	}

	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}

	if c.PoisonThreshold <= 0 {
		c.PoisonThreshold = defaultPoisonThreshold
	}

	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}

	if c.SweepBatch <= 0 {
		c.SweepBatch = defaultSweepBatch
	}

	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}

	if c.ResolvedRetention <= 0 {
		c.ResolvedRetention = defaultResolvedRetention
	}

	if c.MaxRetention <= 0 {
		c.MaxRetention = defaultMaxRetention
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}

	if c.CompressionThreshold == 0 {
		c.CompressionThreshold = defaultCompressionThreshold
	}

	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.Now == nil {
		c.Now = time.Now
	}

	return c
}
