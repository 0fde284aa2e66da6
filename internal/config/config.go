package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode      Mode
	HTTPAddr  string
	PublicURL string
	LogMode   string

	DBDriver string
	DBDSN    string

	BlobBasePath string // gated resource content (articles, guides, videos)

	AuthHMACSecret string
	TokenTTL       time.Duration

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	// Optional; when set, finalize locks are shared across replicas.
	RedisAddr string

	// Payment gateway (Paystack-compatible)
	PaystackSecretKey   string
	PaystackBaseURL     string
	PaystackCallbackURL string
	SubscriptionPeriod  time.Duration
	PriceStandard       string // NGN, decimal
	PriceAllAccess      string

	// Quiz engine
	ScoringMode  string        // single|multi
	EnforceTimer bool          // force-finalize once the countdown is over
	AbandonAfter time.Duration // 0 disables the abandoned-session sweep
	SweepEvery   time.Duration
	SweepBatch   int
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	pub := strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/")
	return Config{
		Mode:      mode,
		HTTPAddr:  envOr("HTTP_ADDR", ":8080"),
		PublicURL: pub,
		LogMode:   envOr("LOG_MODE", string(mode)),

		DBDriver:     envOr("DB_DRIVER", "sqlite"),
		DBDSN:        envOr("DB_DSN", ""),
		BlobBasePath: envOr("BLOB_BASE_PATH", "./data"),

		AuthHMACSecret: envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		TokenTTL:       envDuration("AUTH_TOKEN_TTL", 8*time.Hour),

		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://certprep.mindengage.ai"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:5173"),

		RedisAddr: strings.TrimSpace(os.Getenv("REDIS_ADDR")),

		PaystackSecretKey:   os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:     envOr("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		PaystackCallbackURL: envOr("PAYSTACK_CALLBACK_URL", pub+"/billing/callback"),
		SubscriptionPeriod:  envDuration("SUBSCRIPTION_PERIOD", 30*24*time.Hour),
		PriceStandard:       envOr("PLAN_PRICE_STANDARD", "5000.00"),
		PriceAllAccess:      envOr("PLAN_PRICE_ALL_ACCESS", "15000.00"),

		ScoringMode:  envOr("QUIZ_SCORING_MODE", "single"),
		EnforceTimer: envBool("QUIZ_ENFORCE_TIMER", false),
		AbandonAfter: envDuration("QUIZ_ABANDON_AFTER", 0),
		SweepEvery:   envDuration("QUIZ_SWEEP_EVERY", 10*time.Minute),
		SweepBatch:   envInt("QUIZ_SWEEP_BATCH", 100),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return n
}

// envDuration accepts Go durations ("90m") or bare seconds ("5400").
func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
