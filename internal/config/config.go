// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token      string `yaml:"token"`
	Mode       string `yaml:"mode"` // polling | webhook
	WebhookURL string `yaml:"webhook_url"`
	// WebhookSecret is sent to Telegram on setWebhook and expected back in
	// the X-Telegram-Bot-Api-Secret-Token header of every push.
	WebhookSecret string `yaml:"webhook_secret"`
	Workers       int    `yaml:"workers"`       // update handlers
	Downloads     int    `yaml:"download_jobs"` // concurrent downloads
	SupportURL    string `yaml:"support_url"`
	Locale        string `yaml:"locale"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // host:port; empty disables redis
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type QuotaConfig struct {
	DailyLimit    int           `yaml:"daily_limit"`
	PremiumDays   int           `yaml:"premium_days"`
	StrictPerUser bool          `yaml:"strict_per_user"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

type ResolverConfig struct {
	OutputDir       string        `yaml:"output_dir"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	ProxyURL        string        `yaml:"proxy_url"`
	Strategies      []string      `yaml:"strategies"` // priority order
}

type PaymentConfig struct {
	Provider        string        `yaml:"provider"` // pushinpay | noop
	APIToken        string        `yaml:"api_token"`
	BaseURL         string        `yaml:"base_url"`
	WebhookURL      string        `yaml:"webhook_url"`
	PriceCents      int64         `yaml:"price_cents"`
	PendingCapacity int           `yaml:"pending_capacity"`
	PendingTTL      time.Duration `yaml:"pending_ttl"`
}

type HTTPConfig struct {
	Port           int    `yaml:"port"`
	AdminJWTSecret string `yaml:"admin_jwt_secret"`
}

type SchedulerConfig struct {
	JanitorInterval     time.Duration `yaml:"janitor_interval"`
	FileMaxAge          time.Duration `yaml:"file_max_age"`
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	ReconcileStaleAfter time.Duration `yaml:"reconcile_stale_after"`
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Quota     QuotaConfig     `yaml:"quota"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Payment   PaymentConfig   `yaml:"payment"`
	HTTP      HTTPConfig      `yaml:"http"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file (if present), applies environment overrides
// and defaults, then validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	cfg, err := ReadConfig(path, dev)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfig is LoadConfig without validation. Operator tools that only need
// the database use it so they run without bot or payment credentials.
func ReadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only deployments
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Bot.Token, "TELEGRAM_BOT_TOKEN")
	set(&c.Bot.WebhookSecret, "TELEGRAM_WEBHOOK_SECRET")
	set(&c.Payment.APIToken, "PAYMENT_API_TOKEN")
	set(&c.Database.URL, "DATABASE_URL")
	set(&c.Redis.URL, "REDIS_URL")
	set(&c.HTTP.AdminJWTSecret, "ADMIN_JWT_SECRET")
	// raw value; sanitized during validation
	if v := getenv("WEBHOOK_URL"); strings.TrimSpace(v) != "" {
		c.Bot.WebhookURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Bot.Mode == "" {
		c.Bot.Mode = "polling"
	}
	if c.Bot.Workers <= 0 {
		c.Bot.Workers = 8
	}
	if c.Bot.Downloads <= 0 {
		c.Bot.Downloads = 4
	}
	if c.Bot.Locale == "" {
		c.Bot.Locale = "pt-BR"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL, time.Hour)

	if c.Quota.DailyLimit == 0 {
		c.Quota.DailyLimit = 5
	}
	if c.Quota.PremiumDays <= 0 {
		c.Quota.PremiumDays = 30
	}
	c.Quota.LockTTL = normalizeTTL(c.Quota.LockTTL, 10*time.Minute)

	if c.Resolver.OutputDir == "" {
		c.Resolver.OutputDir = "output_video"
	}
	c.Resolver.RequestTimeout = normalizeTTL(c.Resolver.RequestTimeout, 30*time.Second)
	c.Resolver.DownloadTimeout = normalizeTTL(c.Resolver.DownloadTimeout, 5*time.Minute)

	if c.Payment.Provider == "" {
		c.Payment.Provider = "pushinpay"
	}
	if c.Payment.BaseURL == "" {
		c.Payment.BaseURL = "https://api.pushinpay.com.br/api"
	}
	if c.Payment.PriceCents <= 0 {
		c.Payment.PriceCents = 1000
	}
	if c.Payment.PendingCapacity <= 0 {
		c.Payment.PendingCapacity = 1024
	}
	c.Payment.PendingTTL = normalizeTTL(c.Payment.PendingTTL, 24*time.Hour)

	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}

	c.Scheduler.JanitorInterval = normalizeTTL(c.Scheduler.JanitorInterval, 10*time.Minute)
	c.Scheduler.FileMaxAge = normalizeTTL(c.Scheduler.FileMaxAge, time.Hour)
	c.Scheduler.ReconcileInterval = normalizeTTL(c.Scheduler.ReconcileInterval, time.Minute)
	c.Scheduler.ReconcileStaleAfter = normalizeTTL(c.Scheduler.ReconcileStaleAfter, 2*time.Minute)
}

// Validate checks required values and normalizes the webhook URLs in place.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bot.Token) == "" {
		return errors.New("bot.token is required")
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	switch strings.ToLower(c.Payment.Provider) {
	case "pushinpay":
		if c.Payment.APIToken == "" {
			return errors.New("payment.api_token is required")
		}
	case "noop":
		if !c.Runtime.Dev {
			return errors.New("payment.provider=noop is only allowed in dev mode")
		}
	default:
		return fmt.Errorf("payment.provider %q is not supported", c.Payment.Provider)
	}
	if c.Quota.DailyLimit < 0 {
		return errors.New("quota.daily_limit must be positive")
	}

	if strings.TrimSpace(c.Bot.WebhookURL) != "" {
		u, err := SanitizeWebhookURL(c.Bot.WebhookURL)
		if err != nil {
			return fmt.Errorf("bot.webhook_url: %w", err)
		}
		c.Bot.WebhookURL = u
	}
	switch strings.ToLower(c.Bot.Mode) {
	case "polling":
	case "webhook":
		if c.Bot.WebhookURL == "" {
			return errors.New("bot.webhook_url is required in webhook mode")
		}
		if c.Bot.WebhookSecret == "" {
			return errors.New("bot.webhook_secret is required in webhook mode")
		}
	default:
		return fmt.Errorf("bot.mode %q is not supported", c.Bot.Mode)
	}

	if c.Bot.WebhookSecret != "" && !webhookSecretRe.MatchString(c.Bot.WebhookSecret) {
		return errors.New("bot.webhook_secret must be 1-256 characters of A-Z, a-z, 0-9, _ or -")
	}

	if strings.TrimSpace(c.Payment.WebhookURL) != "" {
		u, err := SanitizeWebhookURL(c.Payment.WebhookURL)
		if err != nil {
			return fmt.Errorf("payment.webhook_url: %w", err)
		}
		c.Payment.WebhookURL = u
	}
	return nil
}

// Telegram's allowed alphabet for secret_token.
var webhookSecretRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// SanitizeWebhookURL keeps the first whitespace-delimited token of raw and
// requires it to be an absolute http(s) URL with a host.
func SanitizeWebhookURL(raw string) (string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(fields[0])
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", fields[0])
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url scheme %q is not http(s)", u.Scheme)
	}
	return u.String(), nil
}

func normalizeTTL(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
