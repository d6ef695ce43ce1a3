package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nspcc-dev/peerkit/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestValidateRejectsUnreachablePort(t *testing.T) {
	cfg := config.Default()
	cfg.AllowRandomPort = false
	cfg.DesiredPort = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroMaxConnections(t *testing.T) {
	cfg := config.Default()
	cfg.MaxConnections = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLogEncoding(t *testing.T) {
	cfg := config.Default()
	cfg.Logger.LogEncoding = "xml"
	require.Error(t, cfg.Validate())
}

func TestLoadFileAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yml")
	require.NoError(t, os.WriteFile(path, []byte("Name: seed1\nMaxConnections: 5\n"), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "seed1", cfg.Name)
	require.EqualValues(t, 5, cfg.MaxConnections)
	require.Equal(t, config.Default().InboundQueueDepth, cfg.InboundQueueDepth)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestLoggerBuild(t *testing.T) {
	l := config.Logger{LogLevel: "debug", LogEncoding: "json"}
	logger, err := l.Build()
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck
}
