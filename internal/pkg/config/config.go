package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/V4T54L/msgtap/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	APIServerAddr   string `env:"API_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	APIKeys         string `env:"API_KEYS"` // comma separated; empty disables auth
	SelfUserID      string `env:"SELF_USER_ID" envDefault:"self"`

	MessageLogging         bool `env:"MESSAGE_LOGGING" envDefault:"false"`
	MessageLoggingDetailed bool `env:"MESSAGE_LOGGING_DETAILED" envDefault:"false"`
	MaxEntries             int  `env:"MESSAGE_LOGGING_MAX_ENTRIES" envDefault:"1000"`

	EnrichTimeout    time.Duration `env:"ENRICH_TIMEOUT" envDefault:"2s"`
	EnrichRateLimit  float64       `env:"ENRICH_RATE_LIMIT" envDefault:"50"`
	EnrichBurst      int           `env:"ENRICH_BURST" envDefault:"10"`
	IdentityCacheTTL time.Duration `env:"IDENTITY_CACHE_TTL" envDefault:"5m"`
	APIKeyCacheTTL   time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m"`

	// Optional backends. Empty values select the in-memory implementations.
	PostgresURL     string `env:"POSTGRES_URL"`
	RedisAddr       string `env:"REDIS_ADDR"`
	SettingsKey     string `env:"SETTINGS_KEY" envDefault:"msgtap:settings"`
	SettingsChannel string `env:"SETTINGS_CHANNEL" envDefault:"msgtap:settings:update"`

	PIIRedactionFields string `env:"PII_REDACTION_FIELDS" envDefault:"email,password,phone,token"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// APIKeyList splits APIKeys.
func (c *Config) APIKeyList() []string {
	return splitList(c.APIKeys)
}

// RedactionFields splits PIIRedactionFields.
func (c *Config) RedactionFields() []string {
	return splitList(c.PIIRedactionFields)
}

// SettingDefaults are the values the settings repository is seeded with.
func (c *Config) SettingDefaults() map[string]string {
	return map[string]string{
		domain.SettingMessageLogging:         strconv.FormatBool(c.MessageLogging),
		domain.SettingMessageLoggingDetailed: strconv.FormatBool(c.MessageLoggingDetailed),
		domain.SettingMaxEntries:             strconv.Itoa(c.MaxEntries),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
