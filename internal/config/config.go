package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "BUSWATCH_"

// MinCookieSecretLength is the shortest accepted session.cookie_secret.
const MinCookieSecretLength = 32

// Config holds all runtime configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat  string `yaml:"log_format" env:"LOG_FORMAT"`

	// Mode selects the identity adapter: "auth" uses the account backend,
	// "demo" signs in a fixed operator without credentials.
	Mode string `yaml:"mode" env:"MODE"`

	// LoginPath is where the route guard sends signed-out visitors.
	LoginPath string `yaml:"login_path" env:"LOGIN_PATH"`

	Session  SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	Accounts AccountsConfig `yaml:"accounts" envPrefix:"ACCOUNTS_"`
	OAuth    OAuthConfig    `yaml:"oauth" envPrefix:"OAUTH_"`
}

// SessionConfig controls the session store and where the current session is kept.
type SessionConfig struct {
	// InitTimeout bounds how long the store may stay in the initializing
	// state. Zero waits forever.
	InitTimeout time.Duration `yaml:"init_timeout" env:"INIT_TIMEOUT"`
	TTL         time.Duration `yaml:"ttl" env:"TTL"`
	// IdleTimeout is how long a browser's session store stays in memory
	// without requests.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`

	// CookieSecret signs session cookies. When empty a random secret is used
	// and sessions do not survive a restart.
	CookieSecret string `yaml:"cookie_secret" env:"COOKIE_SECRET"`
	CookieSecure bool   `yaml:"cookie_secure" env:"COOKIE_SECURE"`

	Backend       string `yaml:"backend" env:"BACKEND"`
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
}

// AccountsConfig controls the local account directory.
type AccountsConfig struct {
	Path     string `yaml:"path" env:"PATH"`
	HashAlgo string `yaml:"hash_algo" env:"HASH_ALGO"`
	// AllowSignup lets anyone who can reach the login page create an account.
	AllowSignup bool            `yaml:"allow_signup" env:"ALLOW_SIGNUP"`
	Bootstrap   []BootstrapUser `yaml:"bootstrap"`
}

// BootstrapUser seeds an account on startup when its email is not yet registered.
type BootstrapUser struct {
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
}

// OAuthConfig lists the OAuth providers offered on the login page.
type OAuthConfig struct {
	PopupTimeout time.Duration             `yaml:"popup_timeout" env:"POPUP_TIMEOUT"`
	Providers    map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes one OpenID Connect provider. Secrets can be
// supplied as BUSWATCH_OAUTH_<NAME>_CLIENT_SECRET.
type ProviderConfig struct {
	Issuer       string   `yaml:"issuer" env:"ISSUER"`
	ClientID     string   `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string   `yaml:"redirect_url" env:"REDIRECT_URL"`
	Scopes       []string `yaml:"scopes" env:"SCOPES" envSeparator:","`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		LogFormat:  "text",
		Mode:       DefaultMode,
		LoginPath:  "/login",
		Session: SessionConfig{
			InitTimeout: 10 * time.Second,
			TTL:         24 * time.Hour,
			IdleTimeout: 30 * time.Minute,
			Backend:     DefaultSessionBackend,
			RedisPrefix: "buswatch:",
		},
		Accounts: AccountsConfig{
			Path:        "buswatch.db",
			HashAlgo:    DefaultHashAlgo,
			AllowSignup: true,
		},
		OAuth: OAuthConfig{
			PopupTimeout: 2 * time.Minute,
			Providers:    map[string]ProviderConfig{},
		},
	}
}

// Load reads the YAML file at path (if it exists), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// Defaults plus environment only.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays BUSWATCH_* environment variables onto cfg. Unset
// variables leave the existing values alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	for name, provider := range cfg.OAuth.Providers {
		prefix := EnvPrefix + "OAUTH_" + strings.ToUpper(name) + "_"
		if err := env.ParseWithOptions(&provider, env.Options{Prefix: prefix}); err != nil {
			return fmt.Errorf("parse env for oauth provider %s: %w", name, err)
		}
		cfg.OAuth.Providers[name] = provider
	}
	return nil
}

// Validate reports configuration that cannot be repaired with a default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen_addr is required")
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("login_path must be absolute: %q", c.LoginPath)
	}
	if c.Session.InitTimeout < 0 {
		return errors.New("session.init_timeout must not be negative")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session.ttl must be positive")
	}
	if c.Session.IdleTimeout < 0 {
		return errors.New("session.idle_timeout must not be negative")
	}
	if n := len(c.Session.CookieSecret); n > 0 && n < MinCookieSecretLength {
		return fmt.Errorf("session.cookie_secret must be at least %d bytes", MinCookieSecretLength)
	}
	if c.Session.Backend == "redis" && c.Session.RedisAddr == "" {
		return errors.New("session.redis_addr is required for the redis backend")
	}
	if c.Mode == "auth" && c.Accounts.Path == "" {
		return errors.New("accounts.path is required in auth mode")
	}
	for i, u := range c.Accounts.Bootstrap {
		if u.Email == "" || u.PasswordHash == "" {
			return fmt.Errorf("accounts.bootstrap[%d] needs email and password_hash", i)
		}
	}
	for name, p := range c.OAuth.Providers {
		if p.Issuer == "" || p.ClientID == "" || p.RedirectURL == "" {
			return fmt.Errorf("oauth provider %s needs issuer, client_id and redirect_url", name)
		}
	}
	return nil
}

func (c *Config) sanitize() {
	c.Mode = ValidateMode(c.Mode)
	c.Session.Backend = ValidateSessionBackend(c.Session.Backend)
	c.Accounts.HashAlgo = ValidateHashAlgo(c.Accounts.HashAlgo)
	if c.OAuth.PopupTimeout <= 0 {
		c.OAuth.PopupTimeout = 2 * time.Minute
	}
	if c.OAuth.Providers == nil {
		c.OAuth.Providers = map[string]ProviderConfig{}
	}
}
