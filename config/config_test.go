package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSite_ExampleFile(t *testing.T) {
	site, err := LoadSite(filepath.Join("sites", "example_hotels.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "example_hotels", site.ID)
	assert.Equal(t, "https://www.example-hotels.test/search", site.SearchURL)
	assert.Contains(t, site.Selectors["submit_control"], "button[data-testid='search-button']")
	require.Len(t, site.Targets, 2)
	assert.Equal(t, "Grand Hyatt Jakarta", site.Targets[0].LookupKey)
}

func TestLoadSite_IDFromFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "social.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: Social\nsearch_url: https://social.test\n"), 0o644))

	site, err := LoadSite(path)
	require.NoError(t, err)
	assert.Equal(t, "social", site.ID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SITES_DIR", t.TempDir())
	t.Setenv("ACTIVE_WINDOW_START", "22:00")
	t.Setenv("ACTIVE_WINDOW_END", "06:00")
	t.Setenv("ACTIVE_DAYS", "Mon, tue,friday")
	t.Setenv("INTER_TARGET_DELAY", "250ms")
	t.Setenv("TREND_THRESHOLD_PCT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "22:00", cfg.Scheduler.WindowStart)
	assert.Equal(t, "06:00", cfg.Scheduler.WindowEnd)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Friday}, cfg.Scheduler.Days)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.InterTargetDelay)
	assert.Equal(t, 2.5, cfg.Policy.TrendThresholdPct)
	assert.Equal(t, 200.0, cfg.Policy.ProximityThreshold)
	assert.Empty(t, cfg.Sites)
}

func TestSchedulerConfig_Location(t *testing.T) {
	assert.Equal(t, time.Local, SchedulerConfig{}.Location())
	assert.Equal(t, time.Local, SchedulerConfig{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "UTC", SchedulerConfig{Timezone: "UTC"}.Location().String())
}
