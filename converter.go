package office2pdf

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Converter turns office documents into PDF using a pool of workers, each
// owning warm native engines. Create with NewConverter, convert with Convert
// (safe for concurrent use), and Close when done.
type Converter struct {
	cfg      converterConfig
	logger   *slog.Logger
	pool     *WorkerPool
	leases   *LeaseManager
	stager   *Stager
	pipeline *Pipeline
}

// NewConverter creates a Converter. Engines are started lazily, on the first
// conversion of each kind by each worker.
func NewConverter(opts ...Option) (*Converter, error) {
	cfg := defaultConverterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if cfg.factory == nil {
		cfg.factory = NewSofficeFactory(SofficeOptions{Logger: logger})
	}

	stager, err := NewStager(cfg.stagingRoot, logger)
	if err != nil {
		return nil, err
	}
	if cfg.now != nil {
		stager.now = cfg.now
	}
	if cfg.newID != nil {
		stager.newID = cfg.newID
	}

	leases := NewLeaseManager(cfg.factory, logger)

	return &Converter{
		cfg:      cfg,
		logger:   logger,
		pool:     NewWorkerPool(ResolvePoolSize(cfg.workers)),
		leases:   leases,
		stager:   stager,
		pipeline: NewPipeline(leases, stager, logger, cfg.callTimeout, cfg.verify),
	}, nil
}

// Convert stages the request body, waits for a free worker and runs the
// conversion pipeline. ctx bounds only the wait for a worker: once a native
// call is issued it runs to completion (or to the call timeout).
// Recovers from internal panics to prevent crashes from propagating to callers.
func (c *Converter) Convert(ctx context.Context, req ConversionRequest) (result *ConversionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PipelineError{
				Kind:     req.Kind,
				Filename: req.Filename,
				Err:      fmt.Errorf("%w: internal error: %v", ErrConversion, r),
			}
			c.logger.Error("conversion panicked", "filename", req.Filename, "panic", r)
		}
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	staged, err := c.stager.Stage(req.Kind, req.Filename, req.Body)
	if err != nil {
		c.logger.Error("conversion failed", "stage", string(StageStage), "kind", req.Kind.String(), "filename", req.Filename, "error", err)
		return nil, &PipelineError{Stage: StageStage, Kind: req.Kind, Filename: req.Filename, Err: err}
	}

	worker, err := c.pool.Acquire(ctx)
	if err != nil {
		c.stager.Release(staged)
		return nil, &PipelineError{Stage: StageAcquire, Kind: req.Kind, Filename: req.Filename, Err: err}
	}
	defer c.pool.Release(worker)

	return c.pipeline.Convert(ctx, worker, staged, req.Filename, req.Kind)
}

// ConvertFile converts a document from disk, resolving its kind from the name.
func (c *Converter) ConvertFile(ctx context.Context, path string) (*ConversionResult, error) {
	kind, err := KindFromFilename(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) // #nosec G304 -- user-provided path
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return c.Convert(ctx, ConversionRequest{
		Filename: filepath.Base(path),
		Kind:     kind,
		Body:     f,
	})
}

// Workers returns the number of concurrent conversions.
func (c *Converter) Workers() int {
	return c.pool.Size()
}

// Stats returns engine lease counters.
func (c *Converter) Stats() LeaseStats {
	return c.leases.Stats()
}

// StagingRoot returns the absolute staging directory.
func (c *Converter) StagingRoot() string {
	return c.stager.Root()
}

// Close waits for in-flight conversions, then shuts every engine down.
func (c *Converter) Close() error {
	c.pool.Close()
	return c.leases.Close()
}

// validateRequest checks the request before anything touches the disk.
func validateRequest(req ConversionRequest) error {
	if req.Body == nil {
		return ErrNoFile
	}
	if req.Filename == "" {
		return ErrEmptyFilename
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedExtension, req.Kind)
	}
	return nil
}
