// Package config loads the office2pdf service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alnah/go-office2pdf/internal/yamlutil"
)

// AppName names the per-user config directory (~/.config/office2pdf).
const AppName = "office2pdf"

// Sentinel errors for config operations.
var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrEmptyConfigName = errors.New("config name cannot be empty")
	ErrConfigParse     = errors.New("failed to parse config")
	ErrInvalidConfig   = errors.New("invalid config")
)

// Config holds all service settings.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Staging StagingConfig `yaml:"staging"`
	Engine  EngineConfig  `yaml:"engine"`
	Journal JournalConfig `yaml:"journal"`
	Sentry  SentryConfig  `yaml:"sentry"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required,listen_addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"writeTimeout" validate:"gte=0"` // covers the whole conversion
	MaxUploadMB  int64         `yaml:"maxUploadMB" validate:"gte=1,lte=2048"`
}

// StagingConfig defines where uploads and outputs live during a conversion.
type StagingConfig struct {
	Root string `yaml:"root" validate:"required"`
}

// EngineConfig defines the LibreOffice engines.
type EngineConfig struct {
	Binary       string        `yaml:"binary" validate:"required"`
	ProfileRoot  string        `yaml:"profileRoot" validate:"required"`
	Workers      int           `yaml:"workers" validate:"gte=0,lte=64"` // 0 = auto
	CallTimeout  time.Duration `yaml:"callTimeout" validate:"gte=0"`    // 0 = no watchdog
	StartTimeout time.Duration `yaml:"startTimeout" validate:"gte=0"`
	VerifyOutput bool          `yaml:"verifyOutput"`
}

// JournalConfig defines the conversion journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// SentryConfig defines error reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string  `yaml:"dsn" validate:"omitempty,url"`
	Environment string  `yaml:"environment" validate:"max=64"`
	SampleRate  float64 `yaml:"sampleRate" validate:"gte=0,lte=1"`
}

// LogConfig defines structured logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	tmp := filepath.Join(os.TempDir(), AppName)
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			MaxUploadMB:  50,
		},
		Staging: StagingConfig{Root: filepath.Join(tmp, "staging")},
		Engine: EngineConfig{
			Binary:       "soffice",
			ProfileRoot:  filepath.Join(tmp, "profiles"),
			StartTimeout: 2 * time.Minute,
			VerifyOutput: true,
		},
		Sentry: SentryConfig{SampleRate: 1},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report yaml keys ("server.addr"), not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// listen_addr allows port 0 (ephemeral), unlike hostname_port.
	if err := v.RegisterValidation("listen_addr", validListenAddr); err != nil {
		panic(err)
	}
	return v
}

// validListenAddr accepts host:port with an optional host and a port in
// 0..65535.
func validListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || port == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

// Validate checks every field constraint. Called by LoadConfig, and by
// callers that build or override a Config themselves (env vars, flags).
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	// Drop the root struct name: "Config.server.addr" -> "server.addr".
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "listen_addr":
		return fmt.Sprintf("%s %q must be host:port", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s %q must be one of: %s", field, fe.Value(), fe.Param())
	case "url":
		return field + " must be a URL"
	case "gte", "lte":
		return fmt.Sprintf("%s %v out of allowed range", field, fe.Value())
	case "max":
		return field + " exceeds maximum length"
	default:
		return field + " is invalid"
	}
}

// LoadConfig loads a config by name or path. Names are resolved with
// resolveConfigPath; values absent from the file keep their defaults.
func LoadConfig(nameOrPath string) (*Config, error) {
	if nameOrPath == "" {
		return nil, ErrEmptyConfigName
	}

	var configPath string
	var err error

	if isFilePath(nameOrPath) {
		configPath = nameOrPath
	} else {
		configPath, err = resolveConfigPath(nameOrPath)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- config path is user-provided
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yamlutil.DecodeStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigParse, configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yamlutil.Encode(c)
}

// isFilePath returns true if the string looks like a file path.
func isFilePath(s string) bool {
	return strings.ContainsAny(s, "/\\") || strings.HasSuffix(s, ".yaml") || strings.HasSuffix(s, ".yml")
}

// resolveConfigPath searches for a config file by name.
// Tries extensions in order: .yaml, .yml
// Tries locations in order: current directory, ~/.config/office2pdf/
func resolveConfigPath(name string) (string, error) {
	extensions := []string{".yaml", ".yml"}
	triedPaths := make([]string, 0, len(extensions)*2)

	for _, ext := range extensions {
		localPath := name + ext
		if fileExists(localPath) {
			return localPath, nil
		}
		triedPaths = append(triedPaths, localPath)
	}

	userConfigDir, err := os.UserConfigDir()
	if err == nil {
		for _, ext := range extensions {
			userPath := filepath.Join(userConfigDir, AppName, name+ext)
			if fileExists(userPath) {
				return userPath, nil
			}
			triedPaths = append(triedPaths, userPath)
		}
	}

	return "", fmt.Errorf("%w: tried %s", ErrConfigNotFound, strings.Join(triedPaths, ", "))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
