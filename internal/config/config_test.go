package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "0.05", cfg.ChatPayRate.String())
	assert.Equal(t, "@hourly", cfg.ExpiryCheckSpec)
	assert.Equal(t, []string{"127.0.0.0/8", "::1/128"}, cfg.AdminAllowedCIDRs)

	p := cfg.Policy()
	assert.Equal(t, "10", p.ReferralBonus.String())
	assert.Equal(t, 30*24*time.Hour, p.Plans["monthly"].Duration)
	assert.Equal(t, "999", p.Plans["yearly"].Price.String())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CHAT_PAY_RATE", "0.10")
	t.Setenv("REFERRAL_BONUS", "not-a-number")
	t.Setenv("ADMIN_ALLOWED_CIDRS", " 10.0.0.0/8 , ,192.168.1.0/24")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg := LoadConfig()

	assert.Equal(t, "0.1", cfg.ChatPayRate.String())
	assert.Equal(t, "10", cfg.ReferralBonus.String())
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.0/24"}, cfg.AdminAllowedCIDRs)
	assert.Equal(t, "sqlite", cfg.DBDriver)
}
