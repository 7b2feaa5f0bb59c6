package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config is the runtime configuration of jsonrpcd. Values come from the
// environment (optionally seeded from an env file) and are overridden by
// explicitly set flags.
type Config struct {
	Listen       string        `env:"JSONRPC_LISTEN,default=127.0.0.1:8080"`
	ListenProto  string        `env:"JSONRPC_LISTEN_PROTO,default=tcp"`
	TLSCert      string        `env:"JSONRPC_TLS_CERT"`
	TLSKey       string        `env:"JSONRPC_TLS_KEY"`
	Timeout      time.Duration `env:"JSONRPC_TIMEOUT,default=60s"`
	MaxBodyBytes int64         `env:"JSONRPC_MAX_BODY_BYTES,default=10485760"`
	MetricsPath  string        `env:"JSONRPC_METRICS_PATH,default=/metrics"`
	WSPrefix     string        `env:"JSONRPC_WS_PREFIX,default=/ws"`
	LogLevel     string        `env:"JSONRPC_LOG_LEVEL,default=info"`
}

const (
	flagEnvFile      = "env-file"
	flagLogLevel     = "log-level"
	flagListen       = "listen"
	flagListenProto  = "listen-proto"
	flagTLSCert      = "tls-cert"
	flagTLSKey       = "tls-key"
	flagTimeout      = "timeout"
	flagMaxBodyBytes = "max-body-bytes"
	flagMetricsPath  = "metrics-path"
	flagWSPrefix     = "ws-prefix"
)

// loadConfig seeds the environment from envFile, decodes Config from it and
// applies flag overrides. An empty envFile means ".env", which may be absent.
func loadConfig(log *slog.Logger, envFile string, flags *pflag.FlagSet) (Config, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
		log.Debug("config.envfile.missing", slog.String("path", envFile))
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := applyFlags(flags, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFlags(flags *pflag.FlagSet, cfg *Config) error {
	if flags == nil {
		return nil
	}
	strs := map[string]*string{
		flagLogLevel:    &cfg.LogLevel,
		flagListen:      &cfg.Listen,
		flagListenProto: &cfg.ListenProto,
		flagTLSCert:     &cfg.TLSCert,
		flagTLSKey:      &cfg.TLSKey,
		flagMetricsPath: &cfg.MetricsPath,
		flagWSPrefix:    &cfg.WSPrefix,
	}
	for name, dst := range strs {
		if !changed(flags, name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	if changed(flags, flagTimeout) {
		v, err := flags.GetDuration(flagTimeout)
		if err != nil {
			return err
		}
		cfg.Timeout = v
	}
	if changed(flags, flagMaxBodyBytes) {
		v, err := flags.GetInt64(flagMaxBodyBytes)
		if err != nil {
			return err
		}
		cfg.MaxBodyBytes = v
	}
	return nil
}

func changed(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

func (c Config) validate() error {
	switch c.ListenProto {
	case "tcp", "unix":
	default:
		return fmt.Errorf("listen protocol %q: expected tcp or unix", c.ListenProto)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("tls requires both a certificate and a key")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max body bytes must not be negative, got %d", c.MaxBodyBytes)
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("metrics path %q must start with /", c.MetricsPath)
	}
	if c.WSPrefix != "" && (!strings.HasPrefix(c.WSPrefix, "/") || strings.HasSuffix(c.WSPrefix, "/")) {
		return fmt.Errorf("websocket prefix %q must start and not end with /", c.WSPrefix)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
