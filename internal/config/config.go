package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// AppConfig is the full pvnowcast configuration, loaded from the environment.
type AppConfig struct {
	// Data file locations. The acquisition step (ingest or an external
	// download) deposits files at these paths.
	DataDir        string
	PVDatabasePath string
	CubePath       string
	SitesPath      string
	ValidationPath string
	CheckpointPath string

	// ImagerySource is the site-index data-source name the imagery cube and
	// the site coordinates belong to.
	ImagerySource string `validate:"required"`

	Window   WindowConfig
	Training TrainingConfig
	Ingest   IngestConfig

	// HTTP server.
	Port           string
	ReloadInterval time.Duration

	// Logging.
	LogLevel  string
	LogFormat string
}

// WindowConfig holds the sample-window geometry. The defaults match the
// competition data format (5-minute PV cadence, an hour of history, 4h55m of
// targets, 128 pixel crops); they are configuration, not invariants.
type WindowConfig struct {
	Cadence      time.Duration `validate:"gt=0"`
	FeatureSteps int           `validate:"gt=0"`
	TargetSteps  int           `validate:"gt=0"`

	// TargetOffset is the gap between the anchor and the first target step.
	TargetOffset time.Duration `validate:"gt=0"`

	CropSize int `validate:"gt=0"`
	Channel  int `validate:"gte=0"`
}

// FeatureSpan is the inclusive length of the feature window: with a 5-minute
// cadence and 12 steps, the window is [anchor, anchor+55m].
func (w WindowConfig) FeatureSpan() time.Duration {
	return time.Duration(w.FeatureSteps-1) * w.Cadence
}

// TargetSpan is the inclusive length of the target window.
func (w WindowConfig) TargetSpan() time.Duration {
	return time.Duration(w.TargetSteps-1) * w.Cadence
}

// TrainingConfig controls the anchor range and the optimization loop.
type TrainingConfig struct {
	StartDate time.Time `validate:"required"`
	EndDate   time.Time `validate:"required"`

	// Daily time-of-day window, [DayStart, DayEnd), stepped by StepInterval.
	DayStart     time.Duration
	DayEnd       time.Duration
	StepInterval time.Duration `validate:"gt=0"`

	BatchSize    int     `validate:"gt=0"`
	Epochs       int     `validate:"gt=0"`
	LearningRate float64 `validate:"gt=0"`
	LogEvery     int     `validate:"gt=0"`
}

// IngestConfig lists the remote sources the ingest step downloads.
type IngestConfig struct {
	PVURL       string
	CubeURL     string
	SitesURL    string
	HTTPTimeout time.Duration

	// RefreshInterval is how often serve mode re-downloads configured
	// sources.
	RefreshInterval time.Duration
}

// Configured reports whether any remote source has a URL.
func (c IngestConfig) Configured() bool {
	return c.PVURL != "" || c.CubeURL != "" || c.SitesURL != ""
}

// Load reads configuration from the environment with sensible defaults.
func Load() (*AppConfig, error) {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.DataDir = getenvDefault("PVN_DATA_DIR", "data")
	cfg.PVDatabasePath = getenvDefault("PVN_PV_DB", filepath.Join(cfg.DataDir, "pv.sqlite"))
	cfg.CubePath = getenvDefault("PVN_CUBE", filepath.Join(cfg.DataDir, "satellite.cube"))
	cfg.SitesPath = getenvDefault("PVN_SITES", filepath.Join(cfg.DataDir, "indices.json"))
	cfg.ValidationPath = getenvDefault("PVN_VALIDATION", filepath.Join(cfg.DataDir, "validation.cube"))
	cfg.CheckpointPath = getenvDefault("PVN_CHECKPOINT", filepath.Join(cfg.DataDir, "model.bin"))
	cfg.ImagerySource = getenvDefault("PVN_IMAGERY_SOURCE", "hrv")

	var err error
	if cfg.Window, err = loadWindow(); err != nil {
		return nil, err
	}
	if cfg.Training, err = loadTraining(); err != nil {
		return nil, err
	}

	cfg.Ingest = IngestConfig{
		PVURL:    os.Getenv("PVN_PV_URL"),
		CubeURL:  os.Getenv("PVN_CUBE_URL"),
		SitesURL: os.Getenv("PVN_SITES_URL"),
	}
	if cfg.Ingest.HTTPTimeout, err = getenvDuration("PVN_HTTP_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Ingest.RefreshInterval, err = getenvDuration("PVN_REFRESH_INTERVAL", 6*time.Hour); err != nil {
		return nil, err
	}

	cfg.Port = getenvDefault("PORT", "8080")
	if cfg.ReloadInterval, err = getenvDuration("PVN_RELOAD_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "console")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadWindow() (WindowConfig, error) {
	w := WindowConfig{}

	var err error
	if w.Cadence, err = getenvDuration("PVN_CADENCE", 5*time.Minute); err != nil {
		return w, err
	}
	w.FeatureSteps = getenvInt("PVN_FEATURE_STEPS", 12)
	w.TargetSteps = getenvInt("PVN_TARGET_STEPS", 48)
	if w.TargetOffset, err = getenvDuration("PVN_TARGET_OFFSET", time.Hour); err != nil {
		return w, err
	}
	w.CropSize = getenvInt("PVN_CROP_SIZE", 128)
	w.Channel = getenvInt("PVN_CHANNEL", 0)
	return w, nil
}

func loadTraining() (TrainingConfig, error) {
	t := TrainingConfig{}

	var err error
	if t.StartDate, err = getenvDate("PVN_START_DATE", "2020-07-01"); err != nil {
		return t, err
	}
	if t.EndDate, err = getenvDate("PVN_END_DATE", "2020-07-31"); err != nil {
		return t, err
	}
	if t.DayStart, err = getenvClock("PVN_DAY_START", "08:00"); err != nil {
		return t, err
	}
	if t.DayEnd, err = getenvClock("PVN_DAY_END", "17:00"); err != nil {
		return t, err
	}
	if t.StepInterval, err = getenvDuration("PVN_STEP_INTERVAL", time.Hour); err != nil {
		return t, err
	}

	t.BatchSize = getenvInt("PVN_BATCH_SIZE", 32)
	t.Epochs = getenvInt("PVN_EPOCHS", 1)
	t.LearningRate = getenvFloat("PVN_LEARNING_RATE", 1e-3)
	t.LogEvery = getenvInt("PVN_LOG_EVERY", 50)
	return t, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvDate(key, def string) (time.Time, error) {
	v := getenvDefault(key, def)
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return t.UTC(), nil
}

// getenvClock parses an HH:MM time-of-day as an offset from midnight.
func getenvClock(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
