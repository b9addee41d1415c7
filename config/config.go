package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"marginAutoBot/internal/adapters/logger" // Import the logger package for LogLevel
	"marginAutoBot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Parameters
	Symbol        string
	MarginMode    domain.MarginMode
	Leverage      float64 // Used only to derive the borrow safety factor
	StopLossPct   float64 // Fraction, e.g. 0.008 for 0.8%; 0 disables the leg
	TakeProfitPct float64 // Fraction, e.g. 0.012 for 1.2%; 0 disables the leg
	AutoBorrow    bool
	AutoRepay     bool

	// Signal Source
	SignalBaseURL   string
	SignalPath      string
	SignalFallbacks []string // Extra paths tried in order after SignalPath
	PollInterval    time.Duration
	SignalTTL       time.Duration // Source considered disconnected after this silence

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Email Notifications
	EmailEnabled  bool
	EmailProvider string // gmail, outlook, yahoo or empty for explicit host/port
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	EmailTo       string

	// Engine
	SignalWindow time.Duration // Boundary window for the prefetch scheduler
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading Parameters
	cfg.Symbol = strings.ToUpper(getEnv("SYMBOL", "BTCUSDT"))
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}

	modeStr := strings.ToLower(getEnv("MARGIN_MODE", "cross"))
	switch modeStr {
	case "cross":
		cfg.MarginMode = domain.MarginCross
	case "isolated":
		cfg.MarginMode = domain.MarginIsolated
	default:
		errs = append(errs, fmt.Sprintf("invalid MARGIN_MODE '%s' (want cross or isolated)", modeStr))
	}

	cfg.Leverage, err = getEnvAsFloatRequired("LEVERAGE", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage < 0 {
		errs = append(errs, "LEVERAGE cannot be negative")
	}

	// Percent inputs accept "0.8", "0.8%" or a bare fraction like 0.008.
	cfg.StopLossPct = getEnvAsPercent("STOP_LOSS_PCT", 0)
	if cfg.StopLossPct < 0 {
		errs = append(errs, "STOP_LOSS_PCT cannot be negative")
	}

	cfg.TakeProfitPct = getEnvAsPercent("TAKE_PROFIT_PCT", 0)
	if cfg.TakeProfitPct < 0 {
		errs = append(errs, "TAKE_PROFIT_PCT cannot be negative")
	}

	cfg.AutoBorrow = getEnvAsBool("AUTO_BORROW", true)
	cfg.AutoRepay = getEnvAsBool("AUTO_REPAY", true)

	// Signal Source
	cfg.SignalBaseURL = strings.TrimRight(getEnv("SIGNAL_BASE_URL", ""), "/")
	if cfg.SignalBaseURL == "" {
		errs = append(errs, "SIGNAL_BASE_URL must be set")
	}
	cfg.SignalPath = getEnv("SIGNAL_PATH", "/signal")
	if fallbacks := getEnv("SIGNAL_FALLBACK_PATHS", "/latest,/api/signal"); fallbacks != "" {
		for _, p := range strings.Split(fallbacks, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.SignalFallbacks = append(cfg.SignalFallbacks, p)
			}
		}
	}

	pollSeconds := getEnvAsFloat("POLL_INTERVAL_SECONDS", 1.0)
	if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds * float64(time.Second))

	ttlSeconds := getEnvAsInt("SIGNAL_TTL_SECONDS", 30)
	if ttlSeconds <= 0 {
		errs = append(errs, "SIGNAL_TTL_SECONDS must be positive")
	}
	cfg.SignalTTL = time.Duration(ttlSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/margin_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Email Notifications
	cfg.EmailEnabled = getEnvAsBool("EMAIL_ENABLED", false)
	cfg.EmailProvider = strings.ToLower(getEnv("EMAIL_PROVIDER", ""))
	cfg.SMTPHost = getEnv("SMTP_HOST", "")
	cfg.SMTPPort = getEnvAsInt("SMTP_PORT", 465)
	cfg.SMTPUser = getEnv("SMTP_USER", "")
	cfg.SMTPPassword = getEnv("SMTP_PASSWORD", "")
	cfg.EmailTo = getEnv("EMAIL_TO", "")
	if cfg.EmailEnabled {
		if cfg.EmailProvider == "" && cfg.SMTPHost == "" {
			errs = append(errs, "EMAIL_ENABLED requires EMAIL_PROVIDER or SMTP_HOST")
		}
		if cfg.SMTPUser == "" || cfg.SMTPPassword == "" {
			errs = append(errs, "EMAIL_ENABLED requires SMTP_USER and SMTP_PASSWORD")
		}
		if cfg.EmailTo == "" {
			cfg.EmailTo = cfg.SMTPUser
		}
	}

	// Engine
	windowMinutes := getEnvAsInt("SIGNAL_WINDOW_MINUTES", 5)
	if windowMinutes <= 0 {
		errs = append(errs, "SIGNAL_WINDOW_MINUTES must be positive")
	}
	cfg.SignalWindow = time.Duration(windowMinutes) * time.Minute

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
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
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsPercent parses a human percent input into a fraction. "0.8" and
// "0.8%" both mean 0.008; values already below 0.5 without a percent sign
// pass through unchanged.
func getEnvAsPercent(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	return domain.NormalizePercent(valueStr)
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
