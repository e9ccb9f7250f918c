package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HaPhanBaoMinh/kinsight/internal/config"
	"github.com/HaPhanBaoMinh/kinsight/internal/infrastructure/mock"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version: n/a")
}

// parse runs flag parsing for a subcommand without executing it.
func parse(t *testing.T, args ...string) (*cobra.Command, *flags) {
	t.Helper()
	f := &flags{}
	root := &cobra.Command{Use: "kinsight"}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "")
	root.PersistentFlags().BoolVar(&f.debug, "debug", false, "")
	serve, dash := newServeCmd(f), newDashboardCmd(f)
	root.AddCommand(serve, dash)

	cmd, rest, err := root.Find(args)
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(rest))
	return cmd, f
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kinsight.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":8080\"\n  interval: 2s\nkube:\n  context: prod\n"), 0o600))

	cmd, f := parse(t, "serve", "--config", path, "--interval", "10s", "--mock")
	cfg, err := loadConfig(cmd, f)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr, "file value kept when the flag is unset")
	assert.Equal(t, 10*time.Second, cfg.Server.Interval.Duration)
	assert.Equal(t, "prod", cfg.Kube.Context)
	assert.True(t, cfg.Kube.Mock)
}

func TestLoadConfigDashboardFlags(t *testing.T) {
	cmd, f := parse(t, "dashboard", "--endpoint", "http://10.0.0.1:3000/api/overview/stream", "--auto-reconnect=false")
	cfg, err := loadConfig(cmd, f)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.1:3000/api/overview/stream", cfg.Dashboard.Endpoint)
	assert.False(t, cfg.Dashboard.AutoReconnect)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cmd, f := parse(t, "dashboard", "--endpoint", "ftp://example.com")
	_, err := loadConfig(cmd, f)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewRepoMock(t *testing.T) {
	cfg := config.Default()
	cfg.Kube.Mock = true
	repo, err := newRepo(cfg)
	require.NoError(t, err)
	assert.IsType(t, &mock.Repo{}, repo)
}
