package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricetrail/scheduler"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOperatorCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(dir, "cli.db"))
	t.Setenv("SITES_DIR", filepath.Join(dir, "sites"))
	t.Setenv("LOG_FILE", filepath.Join(dir, "cli.log"))
	t.Setenv("LOG_LEVEL", "error")

	out, err := run(t, "enqueue", "pause")
	require.NoError(t, err)
	assert.Contains(t, out, "queued pause as command 1")

	_, err = run(t, "enqueue", "scrape_target")
	assert.ErrorContains(t, err, "needs --target")

	out, err = run(t, "enqueue", "scrape_target", "--target", "3", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "queued scrape_target as command 2")

	_, err = run(t, "enqueue", "launch_rockets")
	assert.Error(t, err)

	out, err = run(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "closed 0 abandoned entries")

	out, err = run(t, "trend")
	require.NoError(t, err)
	assert.Contains(t, out, "up 0, down 0, stable 0, new 0")
}

func TestReconcileNeedsPositiveThreshold(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(dir, "cli.db"))
	t.Setenv("SITES_DIR", filepath.Join(dir, "sites"))
	t.Setenv("LOG_FILE", filepath.Join(dir, "cli.log"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("STALE_IN_PROGRESS_AFTER", "0s")

	_, err := run(t, "reconcile")
	require.Error(t, err)
	assert.ErrorIs(t, err, scheduler.ErrReconcileDisabled)
}
