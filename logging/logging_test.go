package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"pricetrail/config"
)

func TestSetup_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")

	logger, cleanup, err := Setup(config.LogConfig{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	logger.Info("run finished")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"run finished"`)
}

func TestSetup_BadLevelFallsBackToInfo(t *testing.T) {
	logger, cleanup, err := Setup(config.LogConfig{Level: "loud", Format: "console"})
	require.NoError(t, err)
	defer cleanup()

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestMaskConnectionString(t *testing.T) {
	assert.Equal(t, "postgres://user:****@db:5432/ledger",
		MaskConnectionString("postgres://user:secret@db:5432/ledger"))
	assert.Equal(t, "pricetrail.db", MaskConnectionString("pricetrail.db"))
	assert.Equal(t, "postgres://db:5432/ledger", MaskConnectionString("postgres://db:5432/ledger"))
}
