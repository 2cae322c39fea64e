// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authd configuration from defaults, a YAML file,
// command-line flags and a fixed set of secret environment variables.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/xdg"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// MinSecretLength is the shortest accepted token signing secret.
const MinSecretLength = 32

// Secret environment variables and the keys they populate.
var secretEnv = map[string]string{
	"AUTHD_SECRET_KEY": "token.secret",
	"DATABASE_URL":     "store.database_url",
	"SMTP_USERNAME":    "smtp.username",
	"SMTP_PASSWORD":    "smtp.password",
}

// Config is the complete authd configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Store    StoreConfig    `koanf:"store"`
	Token    TokenConfig    `koanf:"token"`
	Recovery RecoveryConfig `koanf:"recovery"`
	SMTP     SMTPConfig     `koanf:"smtp"`
	Notify   NotifyConfig   `koanf:"notify"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging.Setup.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// StoreConfig selects and configures the account store.
type StoreConfig struct {
	Driver      string `koanf:"driver"`
	DatabaseURL string `koanf:"database_url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
	MaxConns    int32  `koanf:"max_conns"`
}

// TokenConfig configures access tokens.
type TokenConfig struct {
	Secret string        `koanf:"secret"`
	TTL    time.Duration `koanf:"ttl"`
	Issuer string        `koanf:"issuer"`
}

// RecoveryConfig configures the password recovery flow.
type RecoveryConfig struct {
	CodeTTL            time.Duration `koanf:"code_ttl"`
	TokenTTL           time.Duration `koanf:"token_ttl"`
	RevealUnknownEmail bool          `koanf:"reveal_unknown_email"`
	// SweepInterval of zero disables the expired code sweeper.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// SMTPConfig configures outbound mail. An empty Host selects the log sender.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Sender   string `koanf:"sender"`
	SSL      bool   `koanf:"ssl"`
}

// Enabled reports whether mail should go through SMTP.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// NotifyConfig configures the notification dispatcher.
type NotifyConfig struct {
	QueueSize  int           `koanf:"queue_size"`
	Workers    int           `koanf:"workers"`
	MaxRetries uint64        `koanf:"max_retries"`
	Backoff    time.Duration `koanf:"backoff"`
}

// RegisterFlags adds one flag per configuration key to fs. Flag defaults are
// the configuration defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http.addr", ":8000", "API listen address")
	fs.Duration("http.shutdown_timeout", 15*time.Second, "graceful shutdown timeout")
	fs.String("metrics.addr", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
	fs.String("log.format", "json", "log format (json or text)")
	fs.String("log.level", "info", "log level (debug, info, warn, error)")
	fs.String("store.driver", DriverPostgres, "account store (postgres or memory)")
	fs.String("store.database_url", "", "PostgreSQL connection URL (or DATABASE_URL)")
	fs.Bool("store.auto_migrate", true, "apply pending migrations on startup")
	fs.Int32("store.max_conns", 10, "maximum database connections")
	fs.String("token.secret", "", "token signing secret (or AUTHD_SECRET_KEY)")
	fs.Duration("token.ttl", 30*time.Minute, "access token lifetime")
	fs.String("token.issuer", "authd", "token issuer")
	fs.Duration("recovery.code_ttl", time.Hour, "recovery code lifetime")
	fs.Duration("recovery.token_ttl", 10*time.Minute, "recovery token lifetime")
	fs.Bool("recovery.reveal_unknown_email", false, "report unknown emails on reset requests")
	fs.Duration("recovery.sweep_interval", 5*time.Minute, "expired recovery code sweep interval (0 disables)")
	fs.String("smtp.host", "", "SMTP server host (empty logs mail instead)")
	fs.Int("smtp.port", 465, "SMTP server port")
	fs.String("smtp.username", "", "SMTP username (or SMTP_USERNAME)")
	fs.String("smtp.password", "", "SMTP password (or SMTP_PASSWORD)")
	fs.String("smtp.sender", "", "From address for outbound mail")
	fs.Bool("smtp.ssl", true, "use implicit TLS")
	fs.Int("notify.queue_size", 100, "notification queue capacity")
	fs.Int("notify.workers", 2, "notification workers")
	fs.Uint64("notify.max_retries", 3, "notification delivery retries")
	fs.Duration("notify.backoff", time.Second, "initial notification retry backoff")
}

// Load builds a Config. Values are layered as flag defaults, then the config
// file, then flags set on the command line, then secret environment
// variables. An empty path reads the XDG config file if it exists. The
// result is not validated.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	for env, key := range secretEnv {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return Config{}, oops.Code("CONFIG_ENV_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").With("path", path).Wrap(err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports every invalid key.
func (c Config) Validate() error {
	positive := []validation.Rule{validation.Required, validation.Min(time.Duration(0))}
	smtp := c.SMTP.Enabled()

	err := validation.Errors{
		"http.addr":             validation.Validate(c.HTTP.Addr, validation.Required),
		"http.shutdown_timeout": validation.Validate(c.HTTP.ShutdownTimeout, positive...),
		"log.format":            validation.Validate(c.Log.Format, validation.In("json", "text")),
		"log.level": validation.Validate(c.Log.Level, validation.By(func(any) error {
			_, err := logging.ParseLevel(c.Log.Level)
			if err != nil {
				return errors.New("must be debug, info, warn or error")
			}
			return nil
		})),
		"store.driver": validation.Validate(c.Store.Driver,
			validation.Required, validation.In(DriverPostgres, DriverMemory)),
		"store.database_url": validation.Validate(c.Store.DatabaseURL,
			validation.When(c.Store.Driver == DriverPostgres, validation.Required)),
		"store.max_conns": validation.Validate(c.Store.MaxConns, validation.Min(int32(0))),
		"token.secret": validation.Validate(c.Token.Secret,
			validation.Required, validation.Length(MinSecretLength, 0)),
		"token.ttl":               validation.Validate(c.Token.TTL, positive...),
		"recovery.code_ttl":       validation.Validate(c.Recovery.CodeTTL, positive...),
		"recovery.token_ttl":      validation.Validate(c.Recovery.TokenTTL, positive...),
		"recovery.sweep_interval": validation.Validate(c.Recovery.SweepInterval, validation.Min(time.Duration(0))),
		"smtp.port": validation.Validate(c.SMTP.Port,
			validation.When(smtp, validation.Required, validation.Min(1), validation.Max(65535))),
		"smtp.sender":       validation.Validate(c.SMTP.Sender, validation.When(smtp, validation.Required)),
		"notify.queue_size": validation.Validate(c.Notify.QueueSize, validation.Required, validation.Min(1)),
		"notify.workers":    validation.Validate(c.Notify.Workers, validation.Required, validation.Min(1)),
		"notify.backoff":    validation.Validate(c.Notify.Backoff, positive...),
	}.Filter()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return nil
}
