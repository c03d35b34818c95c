package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	var got Config
	cmd := NewCommand(func(_ context.Context, cfg Config) error {
		got = cfg
		return nil
	})
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	cmd.SetOut(new(discard))
	cmd.SetErr(new(discard))
	err := cmd.ExecuteContext(context.Background())
	return got, err
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }

func TestDefaults(t *testing.T) {
	cfg, err := execute(t)
	require.NoError(t, err)

	assert.Equal(t, Config{
		Address:         "127.0.0.1",
		Port:            8080,
		Root:            ".",
		DefaultExt:      "pdf",
		RateWindow:      10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}, cfg)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())
}

func TestFlags(t *testing.T) {
	cfg, err := execute(t,
		"-a", "::1", "-p", "9000", "-r", "/srv/scans", "-vvv",
		"--field", "file", "--default-ext", ".tiff", "--max-file-size", "512MB",
		"--rate-limit", "3", "--rate-window", "1m",
	)
	require.NoError(t, err)

	assert.Equal(t, "::1", cfg.Address)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/srv/scans", cfg.Root)
	assert.Equal(t, 3, cfg.Verbosity)
	assert.Equal(t, "file", cfg.Field)
	assert.Equal(t, "tiff", cfg.DefaultExt)
	assert.Equal(t, int64(512_000_000), cfg.MaxFileSize)
	assert.Equal(t, 3, cfg.RateLimit)
	assert.Equal(t, time.Minute, cfg.RateWindow)
	assert.Equal(t, "[::1]:9000", cfg.ListenAddr())
}

func TestEnvironment(t *testing.T) {
	t.Setenv("SCAN_PORT", "7000")
	t.Setenv("SCAN_ROOT", "/data")
	t.Setenv("SCAN_MAX_FILE_SIZE", "1KiB")

	cfg, err := execute(t)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "/data", cfg.Root)
	assert.Equal(t, int64(1024), cfg.MaxFileSize)
}

func TestEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.env")
	require.NoError(t, os.WriteFile(path, []byte("SCAN_FIELD=document\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SCAN_FIELD") })

	var got Config
	cmd := NewCommand(func(_ context.Context, cfg Config) error {
		got = cfg
		return nil
	})
	cmd.SetArgs([]string{"--env-file", path})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "document", got.Field)
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	_, err := execute(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestInvalid(t *testing.T) {
	tests := map[string][]string{
		"bad address":  {"-a", "localhost"},
		"bad port":     {"-p", "70000"},
		"zero port":    {"-p", "0"},
		"empty root":   {"-r", ""},
		"bad size":     {"--max-file-size", "lots"},
		"ext with dir": {"--default-ext", "a/b"},
		"neg limit":    {"--rate-limit", "-1"},
		"no window":    {"--rate-limit", "2", "--rate-window", "0s"},
		"extra args":   {"serve"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, args...)
			assert.Error(t, err)
		})
	}
}

func TestParseSize(t *testing.T) {
	for in, want := range map[string]int64{"": 0, "0": 0, "10": 10, "2KB": 2000, "2KiB": 2048, " 1 MB ": 1_000_000} {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
