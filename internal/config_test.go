package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "novabuf", cfg.AppName)
	require.Equal(t, 4096, cfg.Storage.BlockSize)
	require.Equal(t, 8, cfg.Buffer.Capacity)
	require.Equal(t, 10*time.Second, cfg.Buffer.MaxWait)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novabuf.yaml")
	yaml := `
app_name: bench
storage:
  workdir: /tmp/nb
  block_size: 512
buffer:
  capacity: 3
  max_wait: 250ms
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "bench", cfg.AppName)
	require.Equal(t, "/tmp/nb", cfg.Storage.Workdir)
	require.Equal(t, 512, cfg.Storage.BlockSize)
	require.Equal(t, 3, cfg.Buffer.Capacity)
	require.Equal(t, 250*time.Millisecond, cfg.Buffer.MaxWait)
	require.Equal(t, 4, cfg.Buffer.FlushParallelism)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("NOVABUF_BUFFER_CAPACITY", "16")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Buffer.Capacity)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("buffer:\n  capacity: 0\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
