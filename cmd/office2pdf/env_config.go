package main

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/alnah/go-office2pdf/internal/config"
)

// envConfig holds configuration from environment variables.
// Provides container-friendly overrides without requiring YAML files.
type envConfig struct {
	ConfigPath string // OFFICE2PDF_CONFIG: config file name or path

	// Server
	Addr        string // OFFICE2PDF_ADDR: listen address
	Port        string // PORT: listen port when OFFICE2PDF_ADDR is unset
	MaxUploadMB int64  // OFFICE2PDF_MAX_UPLOAD_MB: upload cap

	// Engine and staging
	Soffice     string        // OFFICE2PDF_SOFFICE: soffice binary
	Workers     int           // OFFICE2PDF_WORKERS: concurrent conversions
	CallTimeout time.Duration // OFFICE2PDF_CALL_TIMEOUT: engine call bound
	StagingRoot string        // OFFICE2PDF_STAGING_ROOT: staging directory
	ProfileRoot string        // OFFICE2PDF_PROFILE_ROOT: engine profiles

	// Observability
	Journal   string // OFFICE2PDF_JOURNAL: journal database path
	SentryDSN string // OFFICE2PDF_SENTRY_DSN: error reporting DSN
	SentryEnv string // OFFICE2PDF_SENTRY_ENV: error reporting environment
	LogLevel  string // OFFICE2PDF_LOG_LEVEL: debug, info, warn, error
	LogFormat string // OFFICE2PDF_LOG_FORMAT: json, text
}

// knownEnvVars lists valid OFFICE2PDF_* environment variables.
// Used to detect typos and warn users about unknown variables.
var knownEnvVars = map[string]bool{
	"OFFICE2PDF_CONFIG":        true,
	"OFFICE2PDF_ADDR":          true,
	"OFFICE2PDF_MAX_UPLOAD_MB": true,
	"OFFICE2PDF_SOFFICE":       true,
	"OFFICE2PDF_WORKERS":       true,
	"OFFICE2PDF_CALL_TIMEOUT":  true,
	"OFFICE2PDF_STAGING_ROOT":  true,
	"OFFICE2PDF_PROFILE_ROOT":  true,
	"OFFICE2PDF_JOURNAL":       true,
	"OFFICE2PDF_SENTRY_DSN":    true,
	"OFFICE2PDF_SENTRY_ENV":    true,
	"OFFICE2PDF_LOG_LEVEL":     true,
	"OFFICE2PDF_LOG_FORMAT":    true,
}

// loadEnvConfig reads configuration from environment variables.
// Malformed numbers and durations are reported, not applied.
func loadEnvConfig(getenv func(string) string) (*envConfig, []string) {
	cfg := &envConfig{
		ConfigPath:  getenv("OFFICE2PDF_CONFIG"),
		Addr:        getenv("OFFICE2PDF_ADDR"),
		Port:        getenv("PORT"),
		Soffice:     getenv("OFFICE2PDF_SOFFICE"),
		StagingRoot: getenv("OFFICE2PDF_STAGING_ROOT"),
		ProfileRoot: getenv("OFFICE2PDF_PROFILE_ROOT"),
		Journal:     getenv("OFFICE2PDF_JOURNAL"),
		SentryDSN:   getenv("OFFICE2PDF_SENTRY_DSN"),
		SentryEnv:   getenv("OFFICE2PDF_SENTRY_ENV"),
		LogLevel:    getenv("OFFICE2PDF_LOG_LEVEL"),
		LogFormat:   getenv("OFFICE2PDF_LOG_FORMAT"),
	}
	var warnings []string

	if v := getenv("OFFICE2PDF_MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadMB = n
		} else {
			warnings = append(warnings, fmt.Sprintf("ignoring OFFICE2PDF_MAX_UPLOAD_MB=%q: want a positive integer", v))
		}
	}

	if v := getenv("OFFICE2PDF_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		} else {
			warnings = append(warnings, fmt.Sprintf("ignoring OFFICE2PDF_WORKERS=%q: want a positive integer", v))
		}
	}

	if v := getenv("OFFICE2PDF_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CallTimeout = d
		} else {
			warnings = append(warnings, fmt.Sprintf("ignoring OFFICE2PDF_CALL_TIMEOUT=%q: want a duration like 90s", v))
		}
	}

	if cfg.Port != "" {
		if n, err := strconv.Atoi(cfg.Port); err != nil || n < 1 || n > 65535 {
			warnings = append(warnings, fmt.Sprintf("ignoring PORT=%q: want 1-65535", cfg.Port))
			cfg.Port = ""
		}
	}

	return cfg, warnings
}

// warnUnknownEnvVars logs warnings for unrecognized OFFICE2PDF_* variables.
// Helps catch typos like OFFICE2PDF_WORKER instead of OFFICE2PDF_WORKERS.
func warnUnknownEnvVars(w io.Writer, environ []string) {
	for _, env := range environ {
		if strings.HasPrefix(env, "OFFICE2PDF_") {
			name, _, _ := strings.Cut(env, "=")
			if !knownEnvVars[name] {
				fmt.Fprintf(w, "warning: unknown environment variable %s (typo?)\n", name)
			}
		}
	}
}

// applyEnvConfig applies environment variable values to cfg.
// Set variables override the file; flags are applied afterwards.
// Resulting precedence: CLI flags > env vars > config file > defaults.
func applyEnvConfig(env *envConfig, cfg *config.Config) {
	switch {
	case env.Addr != "":
		cfg.Server.Addr = env.Addr
	case env.Port != "":
		host, _, err := net.SplitHostPort(cfg.Server.Addr)
		if err != nil {
			host = ""
		}
		cfg.Server.Addr = net.JoinHostPort(host, env.Port)
	}
	if env.MaxUploadMB > 0 {
		cfg.Server.MaxUploadMB = env.MaxUploadMB
	}

	if env.Soffice != "" {
		cfg.Engine.Binary = env.Soffice
	}
	if env.Workers > 0 {
		cfg.Engine.Workers = env.Workers
	}
	if env.CallTimeout > 0 {
		cfg.Engine.CallTimeout = env.CallTimeout
	}
	if env.StagingRoot != "" {
		cfg.Staging.Root = env.StagingRoot
	}
	if env.ProfileRoot != "" {
		cfg.Engine.ProfileRoot = env.ProfileRoot
	}

	if env.Journal != "" {
		cfg.Journal.Path = env.Journal
	}
	if env.SentryDSN != "" {
		cfg.Sentry.DSN = env.SentryDSN
	}
	if env.SentryEnv != "" {
		cfg.Sentry.Environment = env.SentryEnv
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		cfg.Log.Format = env.LogFormat
	}
}

// loadSettings resolves the effective configuration: the named config file
// (flag, then OFFICE2PDF_CONFIG, else defaults), then environment variables.
// Callers apply their flags and call Validate.
func loadSettings(configFlag string, env *Environment) (*config.Config, error) {
	envCfg, warnings := loadEnvConfig(env.Getenv)
	for _, w := range warnings {
		fmt.Fprintf(env.Stderr, "warning: %s\n", w)
	}
	warnUnknownEnvVars(env.Stderr, env.Environ())

	name := configFlag
	if name == "" {
		name = envCfg.ConfigPath
	}

	cfg := config.DefaultConfig()
	if name != "" {
		loaded, err := config.LoadConfig(name)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	applyEnvConfig(envCfg, cfg)
	return cfg, nil
}
