package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"ganesh-ai/internal/ledger"
)

type Config struct {
	DBDriver      string
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	SQLitePath    string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	BotToken      string
	HTTPAddr      string
	PublicURL     string

	AIBaseURL string
	AIKey     string
	AIModel   string

	RazorpayKeyID     string
	RazorpayKeySecret string

	AdminUser         string
	AdminPassword     string
	AdminAllowedCIDRs []string

	ChatPayRate       decimal.Decimal
	PremiumMultiplier decimal.Decimal
	ReferralBonus     decimal.Decimal
	WelcomeBonus      decimal.Decimal
	PremiumMonthly    decimal.Decimal
	PremiumYearly     decimal.Decimal
	ExpiryCheckSpec   string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBDriver:          getEnv("DB_DRIVER", "postgres"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "ganesh_ai"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		SQLitePath:        getEnv("SQLITE_PATH", "ganesh_ai.db"),
		RedisHost:         getEnv("REDIS_HOST", "localhost"),
		RedisPort:         getEnv("REDIS_PORT", "6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		BotToken:          getEnv("TELEGRAM_TOKEN", ""),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		PublicURL:         getEnv("DOMAIN", "http://localhost:8080"),
		AIBaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AIKey:             getEnv("OPENAI_API_KEY", ""),
		AIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		RazorpayKeyID:     getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret: getEnv("RAZORPAY_KEY_SECRET", ""),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPassword:     getEnv("ADMIN_PASS", ""),
		AdminAllowedCIDRs: getList("ADMIN_ALLOWED_CIDRS", []string{"127.0.0.0/8", "::1/128"}),
		ChatPayRate:       getDecimal("CHAT_PAY_RATE", "0.05"),
		PremiumMultiplier: getDecimal("PREMIUM_MULTIPLIER", "2"),
		ReferralBonus:     getDecimal("REFERRAL_BONUS", "10.0"),
		WelcomeBonus:      getDecimal("WELCOME_BONUS", "10.0"),
		PremiumMonthly:    getDecimal("PREMIUM_MONTHLY", "99.0"),
		PremiumYearly:     getDecimal("PREMIUM_YEARLY", "999.0"),
		ExpiryCheckSpec:   getEnv("EXPIRY_CHECK_SPEC", "@hourly"),
	}
}

// Policy builds the immutable ledger policy from the monetisation settings.
func (c *Config) Policy() ledger.Policy {
	return ledger.Policy{
		BaseRate:          c.ChatPayRate,
		PremiumMultiplier: c.PremiumMultiplier,
		ReferralBonus:     c.ReferralBonus,
		WelcomeBonus:      c.WelcomeBonus,
		Plans: map[string]ledger.Plan{
			"monthly": {ID: "monthly", Price: c.PremiumMonthly, Duration: 30 * 24 * time.Hour},
			"yearly":  {ID: "yearly", Price: c.PremiumYearly, Duration: 365 * 24 * time.Hour},
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDecimal(key, fallback string) decimal.Decimal {
	raw := getEnv(key, fallback)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, raw, fallback)
		return decimal.RequireFromString(fallback)
	}
	return d
}
