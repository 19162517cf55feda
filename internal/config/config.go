package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"channelpass/internal/models"
	"channelpass/internal/validation"
)

// Config holds application configuration
type Config struct {
	Env        string
	ServerPort string

	DatabaseType string
	DatabasePath string
	DatabaseURL  string

	BotToken           string
	AdminID            int64
	PrivateChannelID   int64
	FreeChannelLink    string
	SelfURL            string
	WebhookSecret      string
	StarsProviderToken string

	CryptoPayToken  string
	CryptoPayAPIURL string

	PremiumPriceStars   int64
	PremiumPriceFiat    decimal.Decimal
	FiatCurrency        string
	PremiumDurationDays int

	RequestTimeout       time.Duration
	ReconcileInterval    time.Duration
	InvoiceTTL           time.Duration
	InvoiceExpiresIn     time.Duration
	RatesRefreshInterval time.Duration

	// Crypto invoices a single user may open per InvoiceRateWindow
	InvoiceRateLimit  int
	InvoiceRateWindow time.Duration

	AWSRegion     string
	SESFromEmail  string
	SESFromName   string
	OperatorEmail string
}

// ConfigurationError lists every required setting that is missing or invalid.
// The process must not start when Validate returns one.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:        getEnv("APP_ENV", "development"),
		ServerPort: getEnv("PORT", "8080"),

		DatabaseType: getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath: getEnv("DB_PATH", "./channelpass.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		BotToken:           getEnv("BOT_TOKEN", ""),
		AdminID:            getEnvAsInt64("ADMIN_ID", 0),
		PrivateChannelID:   getEnvAsInt64("PRIVATE_CHANNEL_ID", 0),
		FreeChannelLink:    getEnv("FREE_CHANNEL_LINK", ""),
		SelfURL:            strings.TrimSuffix(getEnv("SELF_URL", ""), "/"),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		StarsProviderToken: getEnv("STARS_PROVIDER_TOKEN", ""),

		CryptoPayToken:  getEnv("CRYPTO_PAY_TOKEN", ""),
		CryptoPayAPIURL: getEnv("CRYPTO_PAY_API_URL", "https://pay.crypt.bot/api"),

		PremiumPriceStars:   getEnvAsInt64("PREMIUM_PRICE_STARS", 1000),
		PremiumPriceFiat:    getEnvAsDecimal("PREMIUM_PRICE_FIAT", decimal.NewFromInt(25)),
		FiatCurrency:        strings.ToUpper(getEnv("FIAT_CURRENCY", "USD")),
		PremiumDurationDays: int(getEnvAsInt64("PREMIUM_DURATION_DAYS", 30)),

		RequestTimeout:       getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		ReconcileInterval:    getEnvAsDuration("RECONCILE_INTERVAL", 30*time.Second),
		InvoiceTTL:           getEnvAsDuration("INVOICE_TTL", 2*time.Hour),
		InvoiceExpiresIn:     getEnvAsDuration("INVOICE_EXPIRES_IN", time.Hour),
		RatesRefreshInterval: getEnvAsDuration("RATES_REFRESH_INTERVAL", 5*time.Minute),

		InvoiceRateLimit:  int(getEnvAsInt64("INVOICE_RATE_LIMIT", 5)),
		InvoiceRateWindow: getEnvAsDuration("INVOICE_RATE_WINDOW", 10*time.Minute),

		AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
		SESFromEmail:  getEnv("SES_FROM_EMAIL", ""),
		SESFromName:   getEnv("SES_FROM_NAME", "channelpass"),
		OperatorEmail: getEnv("OPERATOR_EMAIL", ""),
	}
}

// IsProduction reports whether the process runs with production settings
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// PremiumDuration is the access window bought by one premium payment
func (c *Config) PremiumDuration() time.Duration {
	return time.Duration(c.PremiumDurationDays) * 24 * time.Hour
}

// Catalog builds the channel catalog from the configured prices
func (c *Config) Catalog() models.Catalog {
	return models.Catalog{
		models.ChannelFree: {
			Type:        models.ChannelFree,
			Name:        "Free channel",
			Description: "News and previews, open to everyone.",
			Link:        c.FreeChannelLink,
		},
		models.ChannelPremium: {
			Type:        models.ChannelPremium,
			Name:        "Premium channel",
			Description: "Full access to the private channel.",
			PriceStars:  c.PremiumPriceStars,
			PriceFiat:   c.PremiumPriceFiat,
			Duration:    c.PremiumDuration(),
		},
	}
}

// Validate checks the settings the server cannot run without
func (c *Config) Validate() error {
	var problems []string

	if c.BotToken == "" {
		problems = append(problems, "BOT_TOKEN is required")
	}
	if c.CryptoPayToken == "" {
		problems = append(problems, "CRYPTO_PAY_TOKEN is required")
	}
	if c.PrivateChannelID == 0 {
		problems = append(problems, "PRIVATE_CHANNEL_ID is required")
	}

	switch strings.ToLower(c.DatabaseType) {
	case "sqlite", "sqlite3", "":
		if c.DatabasePath == "" {
			problems = append(problems, "DB_PATH is required for sqlite")
		}
	case "postgres", "postgresql", "mysql":
		if c.DatabaseURL == "" {
			problems = append(problems, fmt.Sprintf("DATABASE_URL is required for %s", c.DatabaseType))
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported DATABASE_TYPE %q", c.DatabaseType))
	}

	if c.PremiumPriceStars <= 0 {
		problems = append(problems, "PREMIUM_PRICE_STARS must be positive")
	}
	if !c.PremiumPriceFiat.IsPositive() {
		problems = append(problems, "PREMIUM_PRICE_FIAT must be positive")
	}
	if c.PremiumDurationDays <= 0 {
		problems = append(problems, "PREMIUM_DURATION_DAYS must be positive")
	}
	if c.ReconcileInterval <= 0 || c.InvoiceTTL <= 0 {
		problems = append(problems, "RECONCILE_INTERVAL and INVOICE_TTL must be positive")
	}

	for _, check := range []struct {
		value string
		fn    func(field, value string) error
		field string
	}{
		{c.SESFromEmail, validation.ValidateEmail, "SES_FROM_EMAIL"},
		{c.OperatorEmail, validation.ValidateEmail, "OPERATOR_EMAIL"},
		{c.SelfURL, validation.ValidateWebhookURL, "SELF_URL"},
		{c.FreeChannelLink, validation.ValidateTelegramLink, "FREE_CHANNEL_LINK"},
	} {
		if check.value == "" {
			continue
		}
		if err := check.fn(check.field, check.value); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if val, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if val, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if val, err := decimal.NewFromString(getEnv(key, "")); err == nil {
		return val
	}
	return defaultValue
}
