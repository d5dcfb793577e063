// Package config loads the service configuration from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jacksonlee411/loanportal/pkg/authz"
	"github.com/jacksonlee411/loanportal/pkg/ratelimit"
)

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Authz     AuthzConfig     `mapstructure:"authz"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN returns URL when set, otherwise a postgres URL built from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.Host + ":" + d.Port,
		Path:   "/" + d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type AuthzConfig struct {
	Mode                string `mapstructure:"mode"`
	UnsafeAllowDisabled bool   `mapstructure:"unsafe_allow_disabled"`
	ModelPath           string `mapstructure:"model_path"`
	PolicyPath          string `mapstructure:"policy_path"`
}

type RoutingConfig struct {
	AllowlistPath string `mapstructure:"allowlist_path"`
}

type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`
	JWTAudience    string `mapstructure:"jwt_audience"`
	UpstreamURL    string `mapstructure:"upstream_url"`
	UpstreamAPIKey string `mapstructure:"upstream_api_key"`
}

type RegistryConfig struct {
	RESTTablesPath            string `mapstructure:"rest_tables_path"`
	RPCFunctionsPath          string `mapstructure:"rpc_functions_path"`
	LendingProductsPath       string `mapstructure:"lending_products_path"`
	NotificationTemplatesPath string `mapstructure:"notification_templates_path"`
}

type PolicyConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Backend  string       `mapstructure:"backend"`
	RedisURL string       `mapstructure:"redis_url"`
	Auth     PolicyConfig `mapstructure:"auth"`
	RPC      PolicyConfig `mapstructure:"rpc"`
	API      PolicyConfig `mapstructure:"api"`
}

// Policies returns the limiter policies keyed by name.
func (c RateLimitConfig) Policies() map[string]ratelimit.Policy {
	return map[string]ratelimit.Policy{
		"auth": {Name: "auth", Limit: c.Auth.Limit, Window: c.Auth.Window, By: ratelimit.ByIP},
		"rpc":  {Name: "rpc", Limit: c.RPC.Limit, Window: c.RPC.Window, By: ratelimit.ByPrincipal},
		"api":  {Name: "api", Limit: c.API.Limit, Window: c.API.Window, By: ratelimit.ByPrincipal},
	}
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to the environment variables deploys set.
var envBindings = map[string]string{
	"http.addr":                            "HTTP_ADDR",
	"http.shutdown_timeout":                "SHUTDOWN_TIMEOUT",
	"database.url":                         "DATABASE_URL",
	"database.host":                        "DB_HOST",
	"database.port":                        "DB_PORT",
	"database.user":                        "DB_USER",
	"database.password":                    "DB_PASSWORD",
	"database.name":                        "DB_NAME",
	"database.sslmode":                     "DB_SSLMODE",
	"database.max_conns":                   "DB_MAX_CONNS",
	"authz.mode":                           "AUTHZ_MODE",
	"authz.unsafe_allow_disabled":          "AUTHZ_UNSAFE_ALLOW_DISABLED",
	"authz.model_path":                     "AUTHZ_MODEL_PATH",
	"authz.policy_path":                    "AUTHZ_POLICY_PATH",
	"routing.allowlist_path":               "ALLOWLIST_PATH",
	"auth.jwt_secret":                      "JWT_SECRET",
	"auth.jwt_audience":                    "JWT_AUDIENCE",
	"auth.upstream_url":                    "AUTH_UPSTREAM_URL",
	"auth.upstream_api_key":                "AUTH_UPSTREAM_API_KEY",
	"registry.rest_tables_path":            "REST_TABLES_PATH",
	"registry.rpc_functions_path":          "RPC_FUNCTIONS_PATH",
	"registry.lending_products_path":       "LENDING_PRODUCTS_PATH",
	"registry.notification_templates_path": "NOTIFICATION_TEMPLATES_PATH",
	"rate_limit.enabled":                   "RATE_LIMIT_ENABLED",
	"rate_limit.backend":                   "RATE_LIMIT_BACKEND",
	"rate_limit.redis_url":                 "REDIS_URL",
	"rate_limit.auth.limit":                "RATE_LIMIT_AUTH_LIMIT",
	"rate_limit.auth.window":               "RATE_LIMIT_AUTH_WINDOW",
	"rate_limit.rpc.limit":                 "RATE_LIMIT_RPC_LIMIT",
	"rate_limit.rpc.window":                "RATE_LIMIT_RPC_WINDOW",
	"rate_limit.api.limit":                 "RATE_LIMIT_API_LIMIT",
	"rate_limit.api.window":                "RATE_LIMIT_API_WINDOW",
	"log.level":                            "LOG_LEVEL",
	"log.format":                           "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", "5438")
	v.SetDefault("database.user", "app")
	v.SetDefault("database.password", "app")
	v.SetDefault("database.name", "loanportal")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("authz.mode", string(authz.ModeEnforce))

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.auth.limit", 10)
	v.SetDefault("rate_limit.auth.window", time.Minute)
	v.SetDefault("rate_limit.rpc.limit", 60)
	v.SetDefault("rate_limit.rpc.window", time.Minute)
	v.SetDefault("rate_limit.api.limit", 300)
	v.SetDefault("rate_limit.api.window", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// NewViper returns a viper instance with defaults and env bindings applied.
// configFile is optional; when set it must exist.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Load unmarshals v, fills unset file paths from the repository layout and
// validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode unmarshals v without resolving paths or validating. Tools that only
// need the database or log settings use it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() error {
	defaults := []struct {
		target *string
		rel    string
	}{
		{&c.Authz.ModelPath, "config/access/model.conf"},
		{&c.Authz.PolicyPath, "config/access/policy.csv"},
		{&c.Routing.AllowlistPath, "config/routing/allowlist.yaml"},
		{&c.Registry.RESTTablesPath, "config/rest/tables.yaml"},
		{&c.Registry.RPCFunctionsPath, "config/rpc/functions.yaml"},
		{&c.Registry.LendingProductsPath, "config/lending/products.yaml"},
		{&c.Registry.NotificationTemplatesPath, "config/notifications/templates.yaml"},
	}
	for _, d := range defaults {
		if *d.target != "" {
			continue
		}
		p, err := FindUp(d.rel)
		if err != nil {
			return err
		}
		*d.target = p
	}
	return nil
}

// FindUp looks for rel in the working directory and up to seven parents.
func FindUp(rel string) (string, error) {
	path := rel
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("config: " + rel + " not found")
}

const minJWTSecretLen = 32

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be positive"))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, errors.New("database.max_conns must be positive"))
	}
	if _, err := authz.ParseMode(c.Authz.Mode, c.Authz.UnsafeAllowDisabled); err != nil {
		errs = append(errs, err)
	}
	if len(c.Auth.JWTSecret) < minJWTSecretLen {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLen))
	}
	if c.Auth.UpstreamURL != "" {
		if u, err := url.Parse(c.Auth.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, errors.New("auth.upstream_url must be an absolute URL"))
		}
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.Enabled && strings.TrimSpace(c.RateLimit.RedisURL) == "" {
			errs = append(errs, errors.New("rate_limit.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend %q is not memory or redis", c.RateLimit.Backend))
	}
	if c.RateLimit.Enabled {
		for _, name := range []string{"auth", "rpc", "api"} {
			if err := c.RateLimit.Policies()[name].Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}
