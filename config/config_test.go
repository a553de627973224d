package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amp-labs/amp-resilience/classify"
	"github.com/amp-labs/amp-resilience/recovery"
)

const sampleConfig = `
policies:
  - name: database
    categories: [database]
    priority: 10
    strategy: exponential
    max_attempts: 5
    base_delay: 1s
    max_delay: 30s
    multiplier: 2
    jitter_max: 100ms
  - name: timeout
    categories: [timeout]
    strategy: fibonacci
    max_attempts: 4
    base_delay: 250ms
    max_delay: 5s
breakers:
  - name: database
    failure_threshold: 0.6
    minimum_calls: 20
    recovery_timeout: 45s
queues:
  - name: billing
    sweep_interval: 10s
    poison_threshold: 8
recovery:
  strategies: [immediate_retry, exponential_backoff, fallback_value]
  max_attempts: 4
  queue_name: billing
  cache_ttl: 10m
`

func TestLoadReader(t *testing.T) {
	t.Parallel()

	file, err := LoadReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	require.Len(t, file.Policies, 2)
	assert.Equal(t, "database", file.Policies[0].Name)
	assert.Equal(t, time.Second, file.Policies[0].BaseDelay.Std())
	assert.Equal(t, 100*time.Millisecond, file.Policies[0].JitterMax.Std())

	require.Len(t, file.Breakers, 1)
	assert.Equal(t, 45*time.Second, file.Breakers[0].RecoveryTimeout.Std())

	require.Len(t, file.Queues, 1)
	assert.Equal(t, 8, file.Queues[0].PoisonThreshold)

	require.NotNil(t, file.Recovery)
	assert.Equal(t, "billing", file.Recovery.QueueName)
}

func TestLoadReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := LoadReader(strings.NewReader("policies:\n  - name: x\n    velocity: warp\n"))
	require.Error(t, err, "typos must fail loudly")
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "resilience.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	file, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, file.Policies, 2)
}

func TestLoad_EnvFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resilience.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	t.Setenv(EnvConfigPath, path)

	file, err := Load("")
	require.NoError(t, err)
	assert.Len(t, file.Queues, 1)
}

func TestLoad_NoPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	_, err := Load("")
	require.ErrorIs(t, err, ErrNoConfigPath)
}

func TestFile_PolicySet(t *testing.T) {
	t.Parallel()

	file, err := LoadReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	set, err := file.PolicySet()
	require.NoError(t, err)

	policy, ok := set.Match(classify.CategoryDatabase)
	require.True(t, ok)
	assert.Equal(t, "database", policy.Name)
	assert.Equal(t, 2*time.Second, policy.Backoff.Delay(1), "exponential base 1s doubles")
}

func TestFile_PolicySet_DefaultsWhenEmpty(t *testing.T) {
	t.Parallel()

	file, err := LoadReader(strings.NewReader("breakers: []\n"))
	require.NoError(t, err)

	set, err := file.PolicySet()
	require.NoError(t, err)
	assert.NotEmpty(t, set.Names())
}

func TestFile_PolicySet_UnknownBackoff(t *testing.T) {
	t.Parallel()

	file := &File{Policies: []Policy{{
		Name:        "bad",
		Categories:  []string{"database"},
		Strategy:    "quantum",
		MaxAttempts: 2,
	}}}

	_, err := file.PolicySet()
	require.ErrorIs(t, err, ErrUnknownBackoff)
}

func TestFile_BreakerRegistry(t *testing.T) {
	t.Parallel()

	file, err := LoadReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	registry := file.BreakerRegistry()

	_, ok := registry.Get("database")
	assert.True(t, ok)
}

func TestFile_QueueRegistry(t *testing.T) {
	t.Parallel()

	file, err := LoadReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	registry := file.QueueRegistry()

	_, ok := registry.Get("billing")
	assert.True(t, ok)
}

func TestFile_RecoveryConfig(t *testing.T) {
	t.Parallel()

	file, err := LoadReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	cfg, err := file.RecoveryConfig()
	require.NoError(t, err)

	assert.Equal(t, []recovery.StrategyKind{
		recovery.KindImmediateRetry,
		recovery.KindExponentialBackoff,
		recovery.KindFallbackValue,
	}, cfg.Strategies)
	assert.Equal(t, 4, cfg.MaxRecoveryAttempts)
	assert.Equal(t, "billing", cfg.QueueName)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.NotNil(t, cfg.Breakers)
	assert.NotNil(t, cfg.Queues)
}

func TestFile_RecoveryConfig_UnknownStrategy(t *testing.T) {
	t.Parallel()

	file := &File{Recovery: &Recovery{Strategies: []string{"teleport"}}}

	_, err := file.RecoveryConfig()
	require.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestDuration_UnmarshalForms(t *testing.T) {
	t.Parallel()

	file, err := LoadReader(strings.NewReader("queues:\n  - name: q\n    sweep_interval: 5000000000\n"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, file.Queues[0].SweepInterval.Std())

	_, err = LoadReader(strings.NewReader("queues:\n  - name: q\n    sweep_interval: fast\n"))
	require.Error(t, err)
}
