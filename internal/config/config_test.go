package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"MODE", "PUBLIC_URL", "DB_DRIVER", "QUIZ_SCORING_MODE", "QUIZ_ABANDON_AFTER", "REDIS_ADDR", "PAYSTACK_CALLBACK_URL"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	assert.Equal(t, ModeOffline, cfg.Mode)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "single", cfg.ScoringMode)
	assert.False(t, cfg.EnforceTimer)
	assert.Zero(t, cfg.AbandonAfter)
	assert.Equal(t, 100, cfg.SweepBatch)
	assert.Equal(t, 30*24*time.Hour, cfg.SubscriptionPeriod)
	assert.Equal(t, "5000.00", cfg.PriceStandard)
	assert.Equal(t, "/billing/callback", cfg.PaystackCallbackURL)
	assert.Empty(t, cfg.RedisAddr)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MODE", "online")
	t.Setenv("PUBLIC_URL", "https://prep.example/")
	t.Setenv("QUIZ_ENFORCE_TIMER", "yes")
	t.Setenv("QUIZ_ABANDON_AFTER", "7200")
	t.Setenv("QUIZ_SWEEP_EVERY", "90s")
	t.Setenv("QUIZ_SWEEP_BATCH", "x")
	t.Setenv("CORS_ORIGINS_ONLINE", " https://a.example , ,https://b.example")
	t.Setenv("REDIS_ADDR", " localhost:6379 ")

	cfg := FromEnv()
	assert.Equal(t, ModeOnline, cfg.Mode)
	assert.Equal(t, "https://prep.example", cfg.PublicURL)
	assert.Equal(t, "https://prep.example/billing/callback", cfg.PaystackCallbackURL)
	assert.True(t, cfg.EnforceTimer)
	assert.Equal(t, 2*time.Hour, cfg.AbandonAfter)
	assert.Equal(t, 90*time.Second, cfg.SweepEvery)
	assert.Equal(t, 100, cfg.SweepBatch)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOriginsOnline)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}
