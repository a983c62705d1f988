// Package config loads process configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingRequired is returned when a required key has no value.
var ErrMissingRequired = errors.New("missing required configuration key")

// RateLimits holds the default quota windows. All are overridable from
// the environment; counters live in the store, never in process memory.
type RateLimits struct {
	WaitlistPerMinutePerIP int `json:"waitlist_per_minute_per_ip"`
	LoginPerMinutePerIP    int `json:"login_per_minute_per_ip"`
	LoginLockoutThreshold  int `json:"login_lockout_threshold"`
	InvitesPerHourPerUser  int `json:"invites_per_hour_per_user"`
	CommentsPerHourPerUser int `json:"comments_per_hour_per_user"`
	ChatPerMinutePerUser   int `json:"chat_per_minute_per_user"`
}

// Analytics holds the guild activity-rate coefficients.
type Analytics struct {
	ActiveMemberWeight    float64 `json:"active_member_weight"`
	RecentActivityWeight  float64 `json:"recent_activity_weight"`
	CompletedGoalsWeight  float64 `json:"completed_goals_weight"`
}

// Config is everything the process reads at startup. Secrets are loaded
// once; rotation requires a restart.
type Config struct {
	Addr      string `json:"addr"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// CoreTable holds every entity except guild chat, which lives in
	// GuildTable. The two names must stay independently configurable.
	CoreTable  string `json:"core_table"`
	GuildTable string `json:"guild_table"`

	// StoreBackend selects "dynamo" or "memory".
	StoreBackend   string `json:"store_backend"`
	DynamoEndpoint string `json:"dynamo_endpoint"`
	DynamoRegion   string `json:"dynamo_region"`

	// Internal token issuer.
	InternalIssuer string `json:"internal_issuer"`
	HMACSecret     string `json:"-"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`

	// External hosted identity provider.
	ExternalIssuer string `json:"external_issuer"`
	JWKSURL        string `json:"jwks_url"`
	Audience       string `json:"audience"`

	// Payment gateway. Mock mode is active when PaymentSecret is empty,
	// not when an environment name says so.
	PaymentSecret      string `json:"-"`
	WebhookSecret      string `json:"-"`
	CheckoutSuccessURL string `json:"checkout_success_url"`
	CheckoutCancelURL  string `json:"checkout_cancel_url"`

	MailerEndpoint string `json:"mailer_endpoint"`
	WaitlistAPIKey string `json:"-"`

	AllowedOrigins []string `json:"allowed_origins"`
	FounderPasses  []string `json:"founder_passes"`

	// Bus selects the chat fan-out transport: "memory", "redis" or "nats".
	Bus          string `json:"bus"`
	RedisAddress string `json:"redis_address"`
	RedisPrefix  string `json:"redis_prefix"`
	NatsAddress  string `json:"nats_address"`
	NatsPrefix   string `json:"nats_prefix"`

	RequestTimeout time.Duration `json:"request_timeout"`
	WebhookTimeout time.Duration `json:"webhook_timeout"`

	RateLimits RateLimits `json:"rate_limits"`
	Analytics  Analytics  `json:"analytics"`

	// CreditAllowances maps tier name to credits per cycle.
	CreditAllowances map[string]int64 `json:"credit_allowances"`

	// AllowedCountries is the closed ISO-3166 alpha-2 set accepted at
	// signup.
	AllowedCountries []string `json:"allowed_countries"`
}

// Load reads .env (if present) then the environment. It fails fast on
// missing required keys so a bad deploy dies at boot, not mid-request.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:           getenv("ADDR", ":8080"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFormat:      getenv("LOG_FORMAT", "console"),
		CoreTable:      os.Getenv("CORE_TABLE"),
		GuildTable:     os.Getenv("GUILD_TABLE"),
		StoreBackend:   getenv("STORE_BACKEND", "dynamo"),
		DynamoEndpoint: os.Getenv("DYNAMO_ENDPOINT"),
		DynamoRegion:   getenv("DYNAMO_REGION", "eu-west-1"),
		InternalIssuer: getenv("INTERNAL_ISSUER", "guildhall"),
		HMACSecret:     os.Getenv("HMAC_SECRET"),
		AccessTokenTTL: getduration("ACCESS_TOKEN_TTL", time.Hour),
		ExternalIssuer: os.Getenv("EXTERNAL_ISSUER"),
		JWKSURL:        os.Getenv("JWKS_URL"),
		Audience:       os.Getenv("TOKEN_AUDIENCE"),
		PaymentSecret:  os.Getenv("PAYMENT_SECRET"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		CheckoutSuccessURL: getenv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/billing/success"),
		CheckoutCancelURL:  getenv("CHECKOUT_CANCEL_URL", "http://localhost:3000/billing/cancel"),
		MailerEndpoint: os.Getenv("MAILER_ENDPOINT"),
		WaitlistAPIKey: os.Getenv("WAITLIST_API_KEY"),
		AllowedOrigins: getlist("ALLOWED_ORIGINS", []string{"*"}),
		FounderPasses:  getlist("FOUNDER_PASSES", nil),
		Bus:            getenv("BUS", "memory"),
		RedisAddress:   getenv("REDIS_ADDRESS", "localhost:6379"),
		RedisPrefix:    getenv("REDIS_PREFIX", "guildhall"),
		NatsAddress:    getenv("NATS_ADDRESS", "nats://localhost:4222"),
		NatsPrefix:     getenv("NATS_PREFIX", "guildhall"),
		RequestTimeout: getduration("REQUEST_TIMEOUT", 15*time.Second),
		WebhookTimeout: getduration("WEBHOOK_TIMEOUT", 30*time.Second),
		RateLimits: RateLimits{
			WaitlistPerMinutePerIP: getint("RL_WAITLIST_PER_MIN", 5),
			LoginPerMinutePerIP:    getint("RL_LOGIN_PER_MIN", 10),
			LoginLockoutThreshold:  getint("RL_LOGIN_LOCKOUT", 5),
			InvitesPerHourPerUser:  getint("RL_INVITES_PER_HOUR", 20),
			CommentsPerHourPerUser: getint("RL_COMMENTS_PER_HOUR", 100),
			ChatPerMinutePerUser:   getint("RL_CHAT_PER_MIN", 60),
		},
		Analytics: Analytics{
			ActiveMemberWeight:   getfloat("ANALYTICS_ALPHA", 0.5),
			RecentActivityWeight: getfloat("ANALYTICS_BETA", 0.3),
			CompletedGoalsWeight: getfloat("ANALYTICS_GAMMA", 0.2),
		},
		CreditAllowances: getallowances(),
		AllowedCountries: getlist("ALLOWED_COUNTRIES", defaultCountries),
	}

	for key, val := range map[string]string{
		"CORE_TABLE":  cfg.CoreTable,
		"GUILD_TABLE": cfg.GuildTable,
		"HMAC_SECRET": cfg.HMACSecret,
	} {
		if val == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequired, key)
		}
	}
	if cfg.ExternalIssuer != "" && cfg.JWKSURL == "" {
		return nil, fmt.Errorf("%w: JWKS_URL (EXTERNAL_ISSUER is set)", ErrMissingRequired)
	}
	return cfg, nil
}

// MockPayments reports whether the payment gateway runs in mock mode.
func (c *Config) MockPayments() bool { return c.PaymentSecret == "" }

// IsFounder reports whether the user id holds a founder pass.
func (c *Config) IsFounder(userID string) bool {
	for _, id := range c.FounderPasses {
		if id == userID {
			return true
		}
	}
	return false
}

// CountryAllowed reports membership in the closed country set.
func (c *Config) CountryAllowed(code string) bool {
	code = strings.ToUpper(code)
	for _, cc := range c.AllowedCountries {
		if cc == code {
			return true
		}
	}
	return false
}

var defaultCountries = []string{
	"AT", "AU", "BE", "CA", "CH", "CZ", "DE", "DK", "ES", "FI", "FR",
	"GB", "IE", "IT", "JP", "LU", "NL", "NO", "NZ", "PL", "PT", "SE", "US",
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getlist(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getfloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// CREDIT_ALLOWANCES is "TIER:amount" pairs, e.g. "FREE:25,INITIATE:100".
func getallowances() map[string]int64 {
	out := map[string]int64{
		"FREE":        25,
		"INITIATE":    100,
		"JOURNEYMAN":  300,
		"SAGE":        1000,
		"GUILDMASTER": 3000,
	}
	v := os.Getenv("CREDIT_ALLOWANCES")
	if v == "" {
		return out
	}
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(kv) != 2 {
			continue
		}
		n, err := strconv.ParseInt(kv[1], 10, 64)
		if err != nil {
			continue
		}
		out[strings.ToUpper(kv[0])] = n
	}
	return out
}
