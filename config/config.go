package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"bolt-vision/internal/domain/entity"
)

// Камеры и детекторы.
const (
	CameraWebcam = "webcam"
	CameraStill  = "still"

	DetectorONNX   = "onnx"
	DetectorRemote = "remote"
)

type Config struct {
	TelegramToken string

	CameraBackend   string
	CameraIndex     int
	CaptureInterval time.Duration
	CaptureTimeout  time.Duration

	CaptureDir  string
	OutputDir   string
	ExcelPath   string
	JournalPath string

	ExternalLoggingAPI string
	APITimeout         time.Duration

	Detector            string
	ModelPath           string
	ClassNames          string
	DetectorURL         string
	ConfidenceThreshold float64

	ExpectedFixed int
	FixtureRules  map[string]int

	Timezone string
	HTTPAddr string
	LogLevel string
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),

		CameraBackend: strings.ToLower(getEnv("CAMERA_BACKEND", CameraWebcam)),
		CaptureDir:    getEnv("CAPTURE_DIR", "captures"),
		OutputDir:     getEnv("OUTPUT_DIR", "output"),
		ExcelPath:     getEnv("EXCEL_PATH", "Vision.xlsx"),
		JournalPath:   getEnv("JOURNAL_PATH", "inspections.db"),

		ExternalLoggingAPI: os.Getenv("EXTERNAL_LOGGING_API"),

		Detector:    strings.ToLower(getEnv("DETECTOR", DetectorONNX)),
		ModelPath:   getEnv("MODEL_PATH", "best.onnx"),
		ClassNames:  getEnv("CLASS_NAMES", "hub,loose_bolt,fixed_bolt,no_bolt"),
		DetectorURL: os.Getenv("DETECTOR_URL"),

		Timezone: getEnv("TIMEZONE", "Asia/Kolkata"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.CameraIndex, err = getEnvAsInt("CAMERA_INDEX", 0); err != nil {
		return nil, err
	}
	if cfg.CaptureInterval, err = getEnvAsDuration("CAPTURE_INTERVAL", 10*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.CaptureTimeout, err = getEnvAsDuration("CAPTURE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.APITimeout, err = getEnvAsDuration("API_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ConfidenceThreshold, err = getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5); err != nil {
		return nil, err
	}
	if cfg.ExpectedFixed, err = getEnvAsInt("EXPECTED_FIXED", entity.DefaultExpectedFixed); err != nil {
		return nil, err
	}
	if cfg.FixtureRules, err = ParseFixtureRules(os.Getenv("FIXTURE_RULES")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения, которые нельзя исправить по умолчанию.
func (c *Config) Validate() error {
	switch c.CameraBackend {
	case CameraWebcam, CameraStill:
	default:
		return errors.Errorf("CAMERA_BACKEND must be %q or %q, got %q", CameraWebcam, CameraStill, c.CameraBackend)
	}
	switch c.Detector {
	case DetectorONNX:
	case DetectorRemote:
		if c.DetectorURL == "" {
			return errors.New("DETECTOR_URL is required for the remote detector")
		}
	default:
		return errors.Errorf("DETECTOR must be %q or %q, got %q", DetectorONNX, DetectorRemote, c.Detector)
	}
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Errorf("CONFIDENCE_THRESHOLD must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.ExpectedFixed < 0 {
		return errors.Errorf("EXPECTED_FIXED must not be negative, got %d", c.ExpectedFixed)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location часовой пояс для отметок времени в журналах.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "TIMEZONE %q", c.Timezone)
	}
	return loc, nil
}

// VerdictTable правила poke-yoke: EXPECTED_FIXED и исключения по моделям.
func (c *Config) VerdictTable() entity.VerdictTable {
	table := entity.VerdictTable{
		Default: entity.VerdictRule{Class: entity.ClassFixed, Expected: c.ExpectedFixed},
		ByModel: make(map[string]entity.VerdictRule, len(c.FixtureRules)),
	}
	for model, n := range c.FixtureRules {
		table.ByModel[model] = entity.VerdictRule{Class: entity.ClassFixed, Expected: n}
	}
	return table
}

// ParseFixtureRules разбирает "modelA=6,modelB=4".
func ParseFixtureRules(raw string) (map[string]int, error) {
	rules := make(map[string]int)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		model, count, ok := strings.Cut(part, "=")
		model = strings.TrimSpace(model)
		if !ok || model == "" {
			return nil, errors.Errorf("FIXTURE_RULES: %q is not model=count", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil || n < 0 {
			return nil, errors.Errorf("FIXTURE_RULES: bad count in %q", part)
		}
		rules[model] = n
	}
	return rules, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", key)
	}
	return n, nil
}

func getEnvAsFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", key)
	}
	return f, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", key)
	}
	return d, nil
}
