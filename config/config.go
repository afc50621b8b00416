package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage   StorageConfig
	Artifacts ArtifactConfig
	Browser   BrowserConfig
	Scheduler SchedulerConfig
	Policy    Policy
	Log       LogConfig
	SitesDir  string
	Sites     map[string]*SiteConfig
}

type StorageConfig struct {
	DBPath      string
	DatabaseURL string // when set, the ledger and registry live in Postgres
}

type ArtifactConfig struct {
	Dir             string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKeyID   string
	S3SecretKey     string
	ScreenshotOnErr bool
	ScreenshotOnOK  bool
}

type BrowserConfig struct {
	Headless          bool
	UserDataDir       string
	ProxyURL          string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	KeystrokeDelay    time.Duration
}

// SchedulerConfig is handed to the gate as a value; nothing here is
// validated beyond parsing.
type SchedulerConfig struct {
	Cron             string
	Interval         time.Duration
	Timezone         string
	WindowStart      string // "HH:MM"
	WindowEnd        string // "HH:MM"
	Days             []time.Weekday
	InterTargetDelay time.Duration
	MaxRetries       int
	StaleAfter       time.Duration
	CommandPoll      time.Duration
}

// Policy holds the tunable thresholds of the engine.
type Policy struct {
	TrendThresholdPct  float64
	ProximityThreshold float64
	NameMatchThreshold float64
	StabilityWait      time.Duration
	ResultWait         time.Duration
	OverlayWait        time.Duration
	SubmitWait         time.Duration
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type SiteConfig struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	SearchURL   string              `yaml:"search_url"`
	Selectors   map[string][]string `yaml:"selectors"`
	Vocabulary  map[string][]string `yaml:"vocabulary"`
	ResultAttr  string              `yaml:"result_attr"`
	ResultClass string              `yaml:"result_class"`
	Currency    []string            `yaml:"currency"`
	Targets     []TargetSeed        `yaml:"targets"`
}

type TargetSeed struct {
	Name      string `yaml:"name"`
	LookupKey string `yaml:"lookup_key"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Storage: StorageConfig{
			DBPath:      getEnv("DB_PATH", "pricetrail.db"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Artifacts: ArtifactConfig{
			Dir:             getEnv("ARTIFACT_DIR", "artifacts"),
			S3Bucket:        os.Getenv("S3_BUCKET"),
			S3Region:        getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:      os.Getenv("S3_ENDPOINT"),
			S3AccessKeyID:   os.Getenv("S3_ACCESS_KEY_ID"),
			S3SecretKey:     os.Getenv("S3_SECRET_ACCESS_KEY"),
			ScreenshotOnErr: getEnvBool("SCREENSHOT_ON_ERROR", true),
			ScreenshotOnOK:  getEnvBool("SCREENSHOT_ON_SUCCESS", false),
		},
		Browser: BrowserConfig{
			Headless:          getEnvBool("BROWSER_HEADLESS", true),
			UserDataDir:       getEnv("BROWSER_DATA_DIR", "browser_data"),
			ProxyURL:          os.Getenv("PROXY_URL"),
			NavigationTimeout: getEnvDuration("NAV_TIMEOUT", 60*time.Second),
			ActionTimeout:     getEnvDuration("ACTION_TIMEOUT", 10*time.Second),
			KeystrokeDelay:    getEnvDuration("KEYSTROKE_DELAY", 80*time.Millisecond),
		},
		Scheduler: SchedulerConfig{
			Cron:             os.Getenv("SCRAPE_CRON"),
			Interval:         getEnvDuration("SCRAPE_INTERVAL", 0),
			Timezone:         getEnv("SCRAPE_TZ", "Local"),
			WindowStart:      getEnv("ACTIVE_WINDOW_START", "00:00"),
			WindowEnd:        getEnv("ACTIVE_WINDOW_END", "23:59"),
			Days:             parseWeekdays(os.Getenv("ACTIVE_DAYS")),
			InterTargetDelay: getEnvDuration("INTER_TARGET_DELAY", 5*time.Second),
			MaxRetries:       getEnvInt("MAX_RETRIES", 1),
			StaleAfter:       getEnvDuration("STALE_IN_PROGRESS_AFTER", time.Hour),
			CommandPoll:      getEnvDuration("COMMAND_POLL", 2*time.Second),
		},
		Policy: DefaultPolicy(),
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "console"),
			File:       getEnv("LOG_FILE", "daemon.log"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 2),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 1),
		},
		SitesDir: getEnv("SITES_DIR", "config/sites"),
		Sites:    make(map[string]*SiteConfig),
	}

	if v := os.Getenv("TREND_THRESHOLD_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.TrendThresholdPct = f
		}
	}
	if v := os.Getenv("PROXIMITY_THRESHOLD_PX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.ProximityThreshold = f
		}
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultPolicy returns the thresholds the engine ships with: ±1% for
// trend classification, 200px for proximity, 70% token overlap for names.
func DefaultPolicy() Policy {
	return Policy{
		TrendThresholdPct:  1,
		ProximityThreshold: 200,
		NameMatchThreshold: 0.70,
		StabilityWait:      5 * time.Second,
		ResultWait:         20 * time.Second,
		OverlayWait:        3 * time.Second,
		SubmitWait:         5 * time.Second,
	}
}

func (c *Config) loadSiteConfigs() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		site, err := LoadSite(filepath.Join(c.SitesDir, entry.Name()))
		if err != nil {
			return err
		}
		c.Sites[site.ID] = site
	}

	return nil
}

// LoadSite reads one site definition file.
func LoadSite(path string) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var site SiteConfig
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if site.ID == "" {
		site.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &site, nil
}

// Location resolves the configured timezone, falling back to local time.
func (s SchedulerConfig) Location() *time.Location {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func parseWeekdays(spec string) []time.Weekday {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	names := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
		"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
		"sat": time.Saturday,
	}
	var days []time.Weekday
	for _, part := range strings.Split(spec, ",") {
		key := strings.ToLower(strings.TrimSpace(part))
		if len(key) > 3 {
			key = key[:3]
		}
		if d, ok := names[key]; ok {
			days = append(days, d)
		}
	}
	return days
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
