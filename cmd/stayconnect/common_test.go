package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayconnect/internal/config"
)

func newTestCmd(t *testing.T, cfgPath string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", cfgPath, "")
	cmd.Flags().String("addr", "", "")
	cmd.Flags().String("token", "", "")
	cmd.Flags().Duration("timeout", time.Second, "")
	return cmd
}

func TestLoadConfigMissingFileUsesEnv(t *testing.T) {
	t.Setenv(config.EnvControlToken, "from-env")
	cfg, err := loadConfig(newTestCmd(t, filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Control.Token)
}

func TestLoadConfigRejectsBrokenFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("nope: [\n"), 0o600))
	_, err := loadConfig(newTestCmd(t, p))
	assert.Error(t, err)
}

func TestControlClientFlagsWin(t *testing.T) {
	t.Setenv(config.EnvControlToken, "")
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("control:\n  addr: 127.0.0.1:9999\n  token: cfg\n"), 0o600))

	cmd := newTestCmd(t, p)
	require.NoError(t, cmd.Flags().Set("addr", "127.0.0.1:1"))
	require.NoError(t, cmd.Flags().Set("token", "flag"))
	cli, err := controlClient(cmd)
	require.NoError(t, err)
	assert.NotNil(t, cli)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "never", ago(nil))
	assert.Equal(t, "never", ago(&time.Time{}))
	past := time.Now().Add(-3 * time.Hour)
	assert.Equal(t, "3 hours ago", ago(&past))

	assert.Equal(t, "-", orDash("  "))
	assert.Equal(t, "x", orDash("x"))

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"jobs", "status"},
		{"jobs", "trigger"},
		{"jobs", "enable"},
		{"jobs", "disable"},
		{"jobs", "runs"},
		{"jobs", "run"},
		{"jobs", "health"},
		{"catalog", "search"},
		{"artists", "add"},
		{"artists", "list"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
