package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds all application configuration. Connection and account
// settings come from the environment; numeric trading policy comes from
// the optional policy YAML so thresholds are never hard-coded.
type Config struct {
	// Instrument
	Underlying string
	StrikeStep float64
	LotSize    int
	Lots       int

	// Paper-trading simulator seed level for the underlying.
	PaperSpot float64

	// Engine cadence
	TickInterval     time.Duration
	AnalysisInterval time.Duration

	// Exchange-local timezone (re-strike cutoff, day rollover)
	ExchangeTZ string
	Location   *time.Location

	// Risk limits
	DailyBudget     float64
	LotsCap         int
	OrdersPerMinCap int

	// Monitoring
	MonitorAddr string

	// Database
	DBPath string

	// Logging
	LogLevel    string
	LogFilePath string

	// Trading policy (YAML-overridable)
	Policy Policy
}

// Policy carries every numeric policy constant as configuration. The
// defaults follow the most feature-complete production variant, but none
// of them is assumed authoritative.
type Policy struct {
	ScanLimit      int `yaml:"scan_limit"`
	MaxExecPerTick int `yaml:"max_exec_per_tick"`

	SLEntryRatio      float64 `yaml:"sl_entry_ratio"`
	TrailTriggerRatio float64 `yaml:"trail_trigger_ratio"`
	TPRatio           float64 `yaml:"tp_ratio"`
	ExitTTLMinutes    int     `yaml:"exit_ttl_minutes"`

	RestrikeCheckMinutes   int     `yaml:"restrike_check_minutes"`
	RestrikeCutoffHour     int     `yaml:"restrike_cutoff_hour"`
	RestrikeMaxPerHour     int     `yaml:"restrike_max_per_hour"`
	ATMShiftSteps          int     `yaml:"atm_shift_steps"`
	DirectionFlipThreshold int     `yaml:"direction_flip_threshold"`
	VolQuietMaxPct         float64 `yaml:"vol_quiet_max_pct"`
	VolVolatileMinPct      float64 `yaml:"vol_volatile_min_pct"`

	MinEntryScore int `yaml:"min_entry_score"`
}

func defaultPolicy() Policy {
	return Policy{
		ScanLimit:              10,
		MaxExecPerTick:         2,
		SLEntryRatio:           0.75,
		TrailTriggerRatio:      1.20,
		TPRatio:                1.30,
		ExitTTLMinutes:         35,
		RestrikeCheckMinutes:   5,
		RestrikeCutoffHour:     15,
		RestrikeMaxPerHour:     2,
		ATMShiftSteps:          1,
		DirectionFlipThreshold: 10,
		VolQuietMaxPct:         0.30,
		VolVolatileMinPct:      1.00,
		MinEntryScore:          10,
	}
}

// LoadConfig loads configuration from environment variables (.env file)
// and the optional policy YAML named by POLICY_PATH.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.Underlying = getEnv("UNDERLYING", "NIFTY")
	if cfg.Underlying == "" {
		errs = append(errs, "UNDERLYING must be set")
	}

	cfg.StrikeStep = getEnvAsFloat("STRIKE_STEP", 50)
	if cfg.StrikeStep <= 0 {
		errs = append(errs, "STRIKE_STEP must be positive")
	}

	cfg.LotSize = getEnvAsInt("LOT_SIZE", 50)
	if cfg.LotSize <= 0 {
		errs = append(errs, "LOT_SIZE must be positive")
	}

	cfg.Lots = getEnvAsInt("LOTS", 1)
	if cfg.Lots <= 0 {
		errs = append(errs, "LOTS must be positive")
	}

	cfg.PaperSpot = getEnvAsFloat("PAPER_START_SPOT", 22500)
	if cfg.PaperSpot <= 0 {
		errs = append(errs, "PAPER_START_SPOT must be positive")
	}

	tickMillis := getEnvAsInt("TICK_INTERVAL_MS", 2000)
	if tickMillis <= 0 {
		errs = append(errs, "TICK_INTERVAL_MS must be positive")
	}
	cfg.TickInterval = time.Duration(tickMillis) * time.Millisecond

	analysisSeconds := getEnvAsInt("ANALYSIS_INTERVAL_SECONDS", 15)
	if analysisSeconds <= 0 {
		errs = append(errs, "ANALYSIS_INTERVAL_SECONDS must be positive")
	}
	cfg.AnalysisInterval = time.Duration(analysisSeconds) * time.Second

	cfg.ExchangeTZ = getEnv("EXCHANGE_TZ", "Asia/Kolkata")
	loc, err := time.LoadLocation(cfg.ExchangeTZ)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXCHANGE_TZ %q: %v", cfg.ExchangeTZ, err))
	} else {
		cfg.Location = loc
	}

	cfg.DailyBudget, err = getEnvAsFloatRequired("DAILY_RISK_BUDGET", 10000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DAILY_RISK_BUDGET: %v", err))
	} else if cfg.DailyBudget <= 0 {
		errs = append(errs, "DAILY_RISK_BUDGET must be positive")
	}

	cfg.LotsCap = getEnvAsInt("LOTS_CAP", 4)
	if cfg.LotsCap < 0 {
		errs = append(errs, "LOTS_CAP cannot be negative")
	}

	cfg.OrdersPerMinCap = getEnvAsInt("ORDERS_PER_MIN_CAP", 10)
	if cfg.OrdersPerMinCap < 0 {
		errs = append(errs, "ORDERS_PER_MIN_CAP cannot be negative")
	}

	cfg.MonitorAddr = getEnv("MONITOR_ADDR", ":8089")
	cfg.DBPath = getEnv("DB_PATH", "./data/options_pilot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFilePath = getEnv("LOG_FILE", "")

	cfg.Policy = defaultPolicy()
	if policyPath := getEnv("POLICY_PATH", ""); policyPath != "" {
		if err := loadPolicy(policyPath, &cfg.Policy); err != nil {
			errs = append(errs, fmt.Sprintf("policy file: %v", err))
		}
	}
	if perr := cfg.Policy.validate(); perr != nil {
		errs = append(errs, perr.Error())
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// loadPolicy overlays the YAML file onto the defaults already in p.
func loadPolicy(path string, p *Policy) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, p); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (p Policy) validate() error {
	var errs []string
	if p.ScanLimit < 1 {
		errs = append(errs, "scan_limit must be at least 1")
	}
	if p.MaxExecPerTick < 1 {
		errs = append(errs, "max_exec_per_tick must be at least 1")
	}
	if p.SLEntryRatio <= 0 || p.SLEntryRatio >= 1 {
		errs = append(errs, "sl_entry_ratio must be between 0 and 1 (exclusive)")
	}
	if p.TrailTriggerRatio <= 1 {
		errs = append(errs, "trail_trigger_ratio must exceed 1")
	}
	if p.TPRatio <= 1 {
		errs = append(errs, "tp_ratio must exceed 1")
	}
	if p.ExitTTLMinutes < 1 {
		errs = append(errs, "exit_ttl_minutes must be at least 1")
	}
	if p.RestrikeCheckMinutes < 1 {
		errs = append(errs, "restrike_check_minutes must be at least 1")
	}
	if p.RestrikeCutoffHour < 0 || p.RestrikeCutoffHour > 23 {
		errs = append(errs, "restrike_cutoff_hour must be a valid hour")
	}
	if p.RestrikeMaxPerHour < 1 {
		errs = append(errs, "restrike_max_per_hour must be at least 1")
	}
	if p.VolQuietMaxPct >= p.VolVolatileMinPct {
		errs = append(errs, "vol_quiet_max_pct must be below vol_volatile_min_pct")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid policy: %s", strings.Join(errs, "; "))
	}
	return nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
