package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/collision-readback/internal/readback"
	"github.com/nmxmxh/collision-readback/pkg/errors"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "readback.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("READBACK_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint32(16), cfg.Readback.Capacity)
	assertPolicy(t, readback.ResetOnIssue, cfg.Readback)
	assert.Equal(t, CopierFrame, cfg.Readback.Copier)
	assert.Equal(t, time.Second/60, cfg.Readback.TickInterval())
	assert.Equal(t, time.Second, cfg.Sinks.DebugLineDuration)
	assert.Empty(t, cfg.Path)
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
log_level: debug
readback:
  capacity: 32
  frame_rate: 30
  reset_policy: complete
  copier: pool
  copy_latency: 5ms
  copy_workers: 3
sinks:
  filter: "normal.Y > 0.5"
  redis_stream:
    stream: impacts
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint32(32), cfg.Readback.Capacity)
	assertPolicy(t, readback.ResetOnComplete, cfg.Readback)
	assert.Equal(t, 5*time.Millisecond, cfg.Readback.CopyLatency)
	assert.Equal(t, 3, cfg.Readback.CopyWorkers)
	assert.Equal(t, "impacts", cfg.Sinks.RedisStream.Stream)
	assert.Equal(t, time.Second/30, cfg.Readback.TickInterval())
	assert.Equal(t, "impact", cfg.Sinks.AudioClip, "unset keys keep defaults")
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "readback:\n  capacity: 8\n")
	t.Setenv("READBACK_CAPACITY", "4")
	t.Setenv("READBACK_RESET_POLICY", "complete")
	t.Setenv("REDIS_DB", "2")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), cfg.Readback.Capacity)
	assertPolicy(t, readback.ResetOnComplete, cfg.Readback)
	assert.Equal(t, 2, cfg.Sinks.Redis.DB)
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "capacity too large", body: "readback:\n  capacity: 65\n"},
		{name: "bad policy", body: "readback:\n  reset_policy: never\n"},
		{name: "bad copier", body: "readback:\n  copier: dma\n"},
		{name: "pool without workers", body: "readback:\n  copier: pool\n  copy_workers: 0\n"},
		{name: "zero frame rate", body: "readback:\n  frame_rate: 0\n"},
		{name: "bad filter", body: "sinks:\n  filter: \"normal.Y +\"\n"},
		{name: "malformed yaml", body: "readback: [\n"},
		{name: "bad env capacity", body: "", env: map[string]string{"READBACK_CAPACITY": "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFile(writeFile(t, t.TempDir(), tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig) || errors.Is(err, errors.ErrInvalidFilter), err.Error())
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func assertPolicy(t *testing.T, want readback.ResetPolicy, rb Readback) {
	t.Helper()
	got, err := rb.Policy()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadback_PolicyRejectsUnknown(t *testing.T) {
	rb := Default().Readback
	rb.ResetPolicy = "sometimes"
	_, err := rb.Policy()
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}
