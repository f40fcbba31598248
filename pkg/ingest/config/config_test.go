package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userpulse/ingest/pkg/ingest/config"
	ingesterrors "github.com/userpulse/ingest/pkg/ingest/errors"
)

func TestFromYAML(t *testing.T) {
	c, err := config.FromYAML([]byte(`
group_id: analytics
bootstrap_endpoints:
  - localhost:6379
  - other:6379
batch_size: 50
storage:
  driver: sqlite
`))
	require.NoError(t, err)

	assert.Equal(t, "analytics", c.String("group_id", ""))
	assert.Equal(t, []string{"localhost:6379", "other:6379"}, c.StringSlice("bootstrap_endpoints", nil))
	assert.Equal(t, 50, c.Int("batch_size", 0))
	assert.Equal(t, "sqlite", c.Sub("storage").String("driver", ""))
}

func TestFromYAML_Invalid(t *testing.T) {
	_, err := config.FromYAML([]byte("{not yaml"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("group_id: file-group\n"), 0o644))

	c, err := config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file-group", c.String("group_id", ""))
}

func TestFromFile_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))

	_, err := config.FromFile(path)
	assert.Error(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	c := config.New(nil)
	assert.Equal(t, "fallback", c.String("missing", "fallback"))
	assert.Equal(t, 7, c.Int("missing", 7))
	assert.Equal(t, time.Minute, c.Duration("missing", time.Minute))
	assert.Nil(t, c.StringSlice("missing", nil))
}

func TestPipelineFromConfig_Defaults(t *testing.T) {
	p := config.PipelineFromConfig(config.New(nil))

	assert.Equal(t, config.DefaultGroupID, p.GroupID)
	assert.Equal(t, config.DefaultPollTimeout, p.PollTimeout)
	assert.Equal(t, config.DefaultBatchSize, p.BatchSize)
	assert.Equal(t, config.DefaultMaxRetryBackoff, p.MaxRetryBackoff)
	assert.Equal(t, config.DefaultStorageDriver, p.StorageDriver)
}

func TestPipelineFromConfig_FullFile(t *testing.T) {
	c, err := config.FromYAML([]byte(`
group_id: analytics
bootstrap_endpoints:
  - localhost:6379
poll_timeout_ms: 500
batch_size: 25
max_retry_backoff_ms: 10000
progress_interval_ms: 60000
storage:
  driver: postgres
  dsn: postgres://localhost/ingest
`))
	require.NoError(t, err)

	p := config.PipelineFromConfig(c)
	require.NoError(t, p.Validate())

	assert.Equal(t, "analytics", p.GroupID)
	assert.Equal(t, []string{"localhost:6379"}, p.BootstrapEndpoints)
	assert.Equal(t, 500*time.Millisecond, p.PollTimeout)
	assert.Equal(t, 25, p.BatchSize)
	assert.Equal(t, 10*time.Second, p.MaxRetryBackoff)
	assert.Equal(t, time.Minute, p.ProgressInterval)
	assert.Equal(t, "postgres", p.StorageDriver)
	assert.Equal(t, "postgres://localhost/ingest", p.StorageDSN)
}

func TestPipeline_Retry(t *testing.T) {
	p := config.PipelineFromConfig(config.New(map[string]any{
		"max_retry_backoff_ms": 4000,
	}))

	retry := p.Retry()
	assert.Equal(t, 4*time.Second, retry.MaxBackoff)
	assert.Equal(t, ingesterrors.DefaultRetry.MaxAttempts, retry.MaxAttempts)
	assert.Equal(t, ingesterrors.DefaultRetry.InitialBackoff, retry.InitialBackoff)
}

func TestPipeline_Validate(t *testing.T) {
	valid := config.Pipeline{
		GroupID:          "g",
		PollTimeout:      time.Second,
		BatchSize:        10,
		MaxRetryBackoff:  time.Second,
		ProgressInterval: time.Second,
		StorageDriver:    "memory",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*config.Pipeline)
	}{
		{"empty group", func(p *config.Pipeline) { p.GroupID = "" }},
		{"zero poll timeout", func(p *config.Pipeline) { p.PollTimeout = 0 }},
		{"zero batch size", func(p *config.Pipeline) { p.BatchSize = 0 }},
		{"negative backoff", func(p *config.Pipeline) { p.MaxRetryBackoff = -1 }},
		{"unknown driver", func(p *config.Pipeline) { p.StorageDriver = "oracle" }},
		{"sqlite without dsn", func(p *config.Pipeline) { p.StorageDriver = "sqlite"; p.StorageDSN = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}
