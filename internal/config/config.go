package config

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"VERSION" default:"dev"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// TokenSecret signs first-party access/refresh tokens and SSO state
	// tokens. Read once at startup, never logged.
	TokenSecret string        `envconfig:"TOKEN_SECRET" required:"true"`
	TokenIssuer string        `envconfig:"TOKEN_ISSUER" default:"paperbase"`
	AccessTTL   time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTTL  time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"336h"`

	SessionTTL           time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SessionTouchInterval time.Duration `envconfig:"SESSION_TOUCH_INTERVAL" default:"5m"`
	APIKeyTouchInterval  time.Duration `envconfig:"API_KEY_TOUCH_INTERVAL" default:"5m"`

	LockoutThreshold int           `envconfig:"LOCKOUT_THRESHOLD" default:"5"`
	LockoutWindow    time.Duration `envconfig:"LOCKOUT_WINDOW" default:"15m"`

	CSRFHeader    string `envconfig:"CSRF_HEADER" default:"X-CSRF-Token"`
	SecureCookies bool   `envconfig:"SECURE_COOKIES" default:"true"`

	LoginRateBurst     int `envconfig:"LOGIN_RATE_BURST" default:"10"`
	LoginRatePerSecond int `envconfig:"LOGIN_RATE_PER_SECOND" default:"5"`

	// SSO provider settings. SSO is disabled when SSOIssuer is empty.
	SSOIssuer        string        `envconfig:"SSO_ISSUER" default:""`
	SSOClientID      string        `envconfig:"SSO_CLIENT_ID" default:""`
	SSOClientSecret  string        `envconfig:"SSO_CLIENT_SECRET" default:""`
	SSORedirectURL   string        `envconfig:"SSO_REDIRECT_URL" default:""`
	SSOScopes        string        `envconfig:"SSO_SCOPES" default:"openid email profile"`
	SSOAutoProvision bool          `envconfig:"SSO_AUTO_PROVISION" default:"false"`
	SSOCacheTTL      time.Duration `envconfig:"SSO_CACHE_TTL" default:"1h"`
	SSOTimeout       time.Duration `envconfig:"SSO_TIMEOUT" default:"10s"`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.TokenSecret) == "" {
		return nil, errors.New("TOKEN_SECRET must not be blank")
	}
	return &cfg, nil
}

// SSOEnabled reports whether an external identity provider is configured.
func (c *Config) SSOEnabled() bool {
	return strings.TrimSpace(c.SSOIssuer) != "" && strings.TrimSpace(c.SSOClientID) != ""
}
