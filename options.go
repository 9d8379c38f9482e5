package office2pdf

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// converterConfig holds Converter settings applied by options.
type converterConfig struct {
	workers     int
	stagingRoot string
	factory     EngineFactory
	logger      *slog.Logger
	callTimeout time.Duration
	verify      bool
	now         func() time.Time
	newID       func() string
}

// Option configures a Converter.
type Option func(*converterConfig)

func defaultConverterConfig() converterConfig {
	return converterConfig{
		stagingRoot: filepath.Join(os.TempDir(), "office2pdf", "staging"),
		verify:      true,
	}
}

// WithWorkers sets the number of concurrent conversions (and engine sets).
// Zero or negative selects ResolvePoolSize(0).
func WithWorkers(n int) Option {
	return func(c *converterConfig) {
		c.workers = n
	}
}

// WithStagingRoot sets the directory under which uploads and outputs are staged.
func WithStagingRoot(dir string) Option {
	return func(c *converterConfig) {
		if dir != "" {
			c.stagingRoot = dir
		}
	}
}

// WithEngineFactory sets how native engines are started.
// Defaults to a LibreOffice factory using "soffice" from PATH.
func WithEngineFactory(f EngineFactory) Option {
	return func(c *converterConfig) {
		c.factory = f
	}
}

// WithLogger sets the structured logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(c *converterConfig) {
		c.logger = l
	}
}

// WithCallTimeout bounds every open/export/close call. When a call exceeds
// the bound its lease is marked stale and the request fails with
// ErrEngineTimeout. Zero (the default) lets calls run to completion.
func WithCallTimeout(d time.Duration) Option {
	return func(c *converterConfig) {
		c.callTimeout = d
	}
}

// WithPDFVerification toggles parsing the produced PDF with pdfcpu.
// Enabled by default.
func WithPDFVerification(enabled bool) Option {
	return func(c *converterConfig) {
		c.verify = enabled
	}
}

// WithClock overrides the time source used for staging partitions.
func WithClock(now func() time.Time) Option {
	return func(c *converterConfig) {
		c.now = now
	}
}
