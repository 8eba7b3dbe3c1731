// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authd configuration from flags, an optional YAML file
// and the environment.
//
// Precedence, lowest first: flag defaults, the config file, flags set on the
// command line, environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gobwas/glob"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/session"
	"github.com/holomush/authd/internal/xdg"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Recovery code exposure modes.
const (
	ExposeAuto  = "auto"
	ExposeTrue  = "true"
	ExposeFalse = "false"
)

// Environment variables read by Load.
const (
	EnvVarDatabaseURL   = "DATABASE_URL"
	EnvVarSessionSecret = "AUTHD_SESSION_SECRET"
	EnvVarPort          = "PORT"
	EnvVarEnv           = "AUTHD_ENV"
	EnvVarRedisPassword = "AUTHD_REDIS_PASSWORD"
)

// Config is the effective authd configuration.
type Config struct {
	Env       string          `koanf:"env" yaml:"env"`
	HTTP      HTTPConfig      `koanf:"http" yaml:"http"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
	Store     StoreConfig     `koanf:"store" yaml:"store"`
	Session   SessionConfig   `koanf:"session" yaml:"session"`
	Recovery  RecoveryConfig  `koanf:"recovery" yaml:"recovery"`
	RateLimit RateLimitConfig `koanf:"ratelimit" yaml:"ratelimit"`
	Hasher    HasherConfig    `koanf:"hasher" yaml:"hasher"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr"`
	CORSOrigins     []string      `koanf:"cors_origins" yaml:"cors_origins"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Driver         string `koanf:"driver" yaml:"driver"`
	URL            string `koanf:"url" yaml:"url"`
	MaxConns       int32  `koanf:"max_conns" yaml:"max_conns"`
	ConnectRetries uint64 `koanf:"connect_retries" yaml:"connect_retries"`
}

// SessionConfig configures bearer credentials.
type SessionConfig struct {
	Secret   string        `koanf:"secret" yaml:"secret"`
	Issuer   string        `koanf:"issuer" yaml:"issuer"`
	Audience string        `koanf:"audience" yaml:"audience"`
	TTL      time.Duration `koanf:"ttl" yaml:"ttl"`
}

// RecoveryConfig configures the password recovery flow.
type RecoveryConfig struct {
	CodeTTL  time.Duration `koanf:"code_ttl" yaml:"code_ttl"`
	TokenTTL time.Duration `koanf:"token_ttl" yaml:"token_ttl"`
	// ExposeCode is auto, true or false. Auto exposes in development only.
	ExposeCode string `koanf:"expose_code" yaml:"expose_code"`
	// SweepInterval is how often expired secrets are cleared. Zero disables.
	SweepInterval time.Duration `koanf:"sweep_interval" yaml:"sweep_interval"`
}

// RateLimitConfig configures the attempt limiter. An empty RedisAddr
// disables limiting.
type RateLimitConfig struct {
	RedisAddr     string        `koanf:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `koanf:"redis_password" yaml:"redis_password"`
	RedisDB       int           `koanf:"redis_db" yaml:"redis_db"`
	Window        time.Duration `koanf:"window" yaml:"window"`
	MaxAttempts   int           `koanf:"max_attempts" yaml:"max_attempts"`
}

// HasherConfig holds argon2id costs. Zero fields take auth defaults.
type HasherConfig struct {
	Time      uint32 `koanf:"time" yaml:"time"`
	MemoryKiB uint32 `koanf:"memory_kib" yaml:"memory_kib"`
	Threads   uint8  `koanf:"threads" yaml:"threads"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"env":                    "env",
	"http-addr":              "http.addr",
	"cors-origins":           "http.cors_origins",
	"read-timeout":           "http.read_timeout",
	"write-timeout":          "http.write_timeout",
	"shutdown-timeout":       "http.shutdown_timeout",
	"metrics-addr":           "metrics.addr",
	"log-format":             "log.format",
	"log-level":              "log.level",
	"store":                  "store.driver",
	"database-url":           "store.url",
	"db-max-conns":           "store.max_conns",
	"db-connect-retries":     "store.connect_retries",
	"session-issuer":         "session.issuer",
	"session-audience":       "session.audience",
	"session-ttl":            "session.ttl",
	"code-ttl":               "recovery.code_ttl",
	"token-ttl":              "recovery.token_ttl",
	"expose-code":            "recovery.expose_code",
	"sweep-interval":         "recovery.sweep_interval",
	"redis-addr":             "ratelimit.redis_addr",
	"redis-db":               "ratelimit.redis_db",
	"ratelimit-window":       "ratelimit.window",
	"ratelimit-max-attempts": "ratelimit.max_attempts",
}

// RegisterFlags adds the config flags, with their defaults, to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("env", EnvProduction, "deployment environment (development|production)")
	flags.String("http-addr", ":5000", "API listen address")
	flags.StringSlice("cors-origins", []string{"*"}, "allowed CORS origin patterns")
	flags.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	flags.Duration("write-timeout", 15*time.Second, "HTTP write timeout")
	flags.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	flags.String("metrics-addr", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
	flags.String("log-format", "json", "log format (json|text)")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("store", StorePostgres, "credential store (postgres|memory)")
	flags.String("database-url", "", "PostgreSQL URL (prefer "+EnvVarDatabaseURL+")")
	flags.Int32("db-max-conns", 10, "maximum pooled database connections")
	flags.Uint64("db-connect-retries", 5, "database connect retries at startup")
	flags.String("session-issuer", "authd", "JWT issuer claim")
	flags.String("session-audience", "", "JWT audience claim")
	flags.Duration("session-ttl", 24*time.Hour, "session credential lifetime")
	flags.Duration("code-ttl", auth.DefaultCodeTTL, "recovery code lifetime")
	flags.Duration("token-ttl", auth.DefaultTokenTTL, "reset token lifetime")
	flags.String("expose-code", ExposeAuto, "return recovery codes in responses (auto|true|false)")
	flags.Duration("sweep-interval", auth.DefaultSweepInterval, "expired recovery secret sweep interval (0 disables)")
	flags.String("redis-addr", "", "Redis address for attempt limiting (empty disables)")
	flags.Int("redis-db", 0, "Redis database number")
	flags.Duration("ratelimit-window", 15*time.Minute, "attempt limiting window")
	flags.Int("ratelimit-max-attempts", 10, "attempts allowed per window")
}

// Load resolves the configuration. An empty path means the XDG default,
// which may be absent; an explicit path must exist.
func Load(flags *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	// Unchanged flags only fill keys the file left unset.
	provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
	}

	if err := applyEnv(k); err != nil {
		return nil, err
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}

	// A YAML boolean decodes weakly to "1" or "0".
	switch cfg.Recovery.ExposeCode {
	case "1":
		cfg.Recovery.ExposeCode = ExposeTrue
	case "0":
		cfg.Recovery.ExposeCode = ExposeFalse
	}
	return &cfg, nil
}

func applyEnv(k *koanf.Koanf) error {
	overrides := []struct {
		env string
		key string
		val func(string) string
	}{
		{EnvVarDatabaseURL, "store.url", nil},
		{EnvVarSessionSecret, "session.secret", nil},
		{EnvVarEnv, "env", nil},
		{EnvVarRedisPassword, "ratelimit.redis_password", nil},
		{EnvVarPort, "http.addr", func(port string) string { return ":" + port }},
	}
	for _, o := range overrides {
		v, ok := os.LookupEnv(o.env)
		if !ok || v == "" {
			continue
		}
		if o.val != nil {
			v = o.val(v)
		}
		if err := k.Set(o.key, v); err != nil {
			return oops.Code("CONFIG_ENV_FAILED").With("variable", o.env).Wrap(err)
		}
	}
	return nil
}

// IsDevelopment reports whether authd runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// ExposeRecoveryCode reports whether forgot-password responses carry the code.
func (c *Config) ExposeRecoveryCode() bool {
	switch c.Recovery.ExposeCode {
	case ExposeTrue:
		return true
	case ExposeFalse:
		return false
	}
	return c.IsDevelopment()
}

// Argon2Params merges the configured costs over auth defaults.
func (c *Config) Argon2Params() auth.Argon2Params {
	p := auth.DefaultArgon2Params()
	if c.Hasher.Time > 0 {
		p.Time = c.Hasher.Time
	}
	if c.Hasher.MemoryKiB > 0 {
		p.Memory = c.Hasher.MemoryKiB
	}
	if c.Hasher.Threads > 0 {
		p.Threads = c.Hasher.Threads
	}
	return p
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		add("env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}

	if c.HTTP.Addr == "" {
		add("http.addr is required")
	}
	for _, origin := range c.HTTP.CORSOrigins {
		if _, err := glob.Compile(origin); err != nil {
			add("http.cors_origins: invalid pattern %q", origin)
		}
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		add("http timeouts must be positive")
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level: unknown level %q", c.Log.Level)
	}

	switch c.Store.Driver {
	case StorePostgres:
		if c.Store.URL == "" {
			add("store.url is required for the postgres store (set %s)", EnvVarDatabaseURL)
		}
	case StoreMemory:
		if !c.IsDevelopment() {
			add("the memory store is only allowed in development")
		}
	default:
		add("store.driver must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store.Driver)
	}

	if len(c.Session.Secret) < session.MinSecretLength {
		add("session.secret must be at least %d bytes (set %s)", session.MinSecretLength, EnvVarSessionSecret)
	}
	if c.Session.TTL <= 0 {
		add("session.ttl must be positive")
	}

	if c.Recovery.CodeTTL <= 0 || c.Recovery.TokenTTL <= 0 {
		add("recovery TTLs must be positive")
	}
	if c.Recovery.SweepInterval < 0 {
		add("recovery.sweep_interval must not be negative")
	}
	switch c.Recovery.ExposeCode {
	case ExposeAuto, ExposeTrue, ExposeFalse:
	default:
		add("recovery.expose_code must be auto, true or false, got %q", c.Recovery.ExposeCode)
	}
	if c.Recovery.ExposeCode == ExposeTrue && c.Env == EnvProduction {
		add("recovery.expose_code cannot be true in production")
	}

	if c.RateLimit.RedisAddr != "" && (c.RateLimit.Window <= 0 || c.RateLimit.MaxAttempts <= 0) {
		add("ratelimit window and max_attempts must be positive when redis_addr is set")
	}

	if _, err := auth.NewArgon2idHasherWithParams(c.Argon2Params()); err != nil {
		add("hasher: %v", err)
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

const redacted = "[REDACTED]"

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	out.HTTP.CORSOrigins = append([]string(nil), c.HTTP.CORSOrigins...)
	if out.Session.Secret != "" {
		out.Session.Secret = redacted
	}
	if out.Store.URL != "" {
		out.Store.URL = redactURL(out.Store.URL)
	}
	if out.RateLimit.RedisPassword != "" {
		out.RateLimit.RedisPassword = redacted
	}
	return out
}
