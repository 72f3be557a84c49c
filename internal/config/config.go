package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type OpenAIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SpotifyConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURL  string        `mapstructure:"redirect_url"`
	APIURL       string        `mapstructure:"api_url"`
	AccountsURL  string        `mapstructure:"accounts_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Scopes       []string      `mapstructure:"scopes"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	FrontendURL    string   `mapstructure:"frontend_url"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	JWTTTL        time.Duration `mapstructure:"jwt_ttl"`
	RefreshWindow time.Duration `mapstructure:"refresh_window"`
	// AdminUsers may call the operator endpoints. Empty disables them.
	AdminUsers []string `mapstructure:"admin_users"`
}

type SessionConfig struct {
	Backend       string        `mapstructure:"backend"` // "memory" or "redis"
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type DJConfig struct {
	ProfilesDir      string        `mapstructure:"profiles_dir"`
	DefaultPersona   string        `mapstructure:"default_persona"`
	ContextCacheTTL  time.Duration `mapstructure:"context_cache_ttl"`
	ContextCacheSize int           `mapstructure:"context_cache_size"`
	MaxContextTokens int           `mapstructure:"max_context_tokens"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

type Config struct {
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Spotify SpotifyConfig `mapstructure:"spotify"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Session SessionConfig `mapstructure:"session"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Storage StorageConfig `mapstructure:"storage"`
	DJ      DJConfig      `mapstructure:"dj"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Load reads smartdj.yaml (optional) and SMARTDJ_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("smartdj")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.smartdj")

	setDefaults(v)

	v.SetEnvPrefix("SMARTDJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)
	cfg.Spotify.ClientID = expandEnv(cfg.Spotify.ClientID)
	cfg.Spotify.ClientSecret = expandEnv(cfg.Spotify.ClientSecret)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Secrets have empty defaults so AutomaticEnv can populate them on Unmarshal.
	for _, key := range []string{"openai.api_key", "spotify.client_id", "spotify.client_secret", "auth.jwt_secret", "redis.password"} {
		v.SetDefault(key, "")
	}

	v.SetDefault("openai.base_url", "https://api.openai.com/v1/")
	v.SetDefault("openai.model", "gpt-4")
	v.SetDefault("openai.timeout", 30*time.Second)

	v.SetDefault("spotify.redirect_url", "http://localhost:5000/api/auth/callback")
	v.SetDefault("spotify.api_url", "https://api.spotify.com/v1")
	v.SetDefault("spotify.accounts_url", "https://accounts.spotify.com")
	v.SetDefault("spotify.timeout", 10*time.Second)

	v.SetDefault("server.port", 5000)
	v.SetDefault("server.frontend_url", "http://localhost:3000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit_rps", 10.0)
	v.SetDefault("server.rate_limit_burst", 20)

	v.SetDefault("auth.jwt_ttl", 7*24*time.Hour)
	v.SetDefault("auth.refresh_window", 5*time.Minute)
	v.SetDefault("auth.admin_users", []string{})

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.sweep_interval", time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "smartdj:")

	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".smartdj", "smartdj.db"))

	v.SetDefault("dj.profiles_dir", filepath.Join(os.Getenv("HOME"), ".smartdj", "personas"))
	v.SetDefault("dj.default_persona", "friendly")
	v.SetDefault("dj.context_cache_ttl", time.Minute)
	v.SetDefault("dj.context_cache_size", 1024)
	v.SetDefault("dj.max_context_tokens", 1500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// expandEnv resolves values written as ${VAR}.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// Validate checks the settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.Spotify.ClientID == "" {
		missing = append(missing, "spotify.client_id")
	}
	if c.Spotify.ClientSecret == "" {
		missing = append(missing, "spotify.client_secret")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt_secret")
	}
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "openai.api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}

	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Session.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	return nil
}
