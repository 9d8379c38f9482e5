package office2pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// kindOps is the open/export pair for one document kind. Close is shared.
type kindOps struct {
	open   func(Engine, string) (Handle, error)
	export func(Engine, Handle, string) error
}

var opsByKind = map[DocumentKind]kindOps{
	WordLike:         {open: Engine.OpenDocument, export: Engine.SaveAsPDF},
	SpreadsheetLike:  {open: Engine.OpenWorkbook, export: Engine.ExportAsFixedFormat},
	PresentationLike: {open: Engine.OpenPresentation, export: Engine.SaveAsPDF},
}

var errNoHandle = errors.New("engine returned no document handle")

// Pipeline runs one staged document through a leased engine:
//
//	Staged → Opened → Exported → Closed → Cleaned
//
// Any failure jumps straight to Closed (when a handle exists) and Cleaned.
type Pipeline struct {
	leases      *LeaseManager
	stager      *Stager
	logger      *slog.Logger
	callTimeout time.Duration
	verify      bool
}

// NewPipeline wires a pipeline. callTimeout <= 0 disables the watchdog.
func NewPipeline(leases *LeaseManager, stager *Stager, logger *slog.Logger, callTimeout time.Duration, verify bool) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		leases:      leases,
		stager:      stager,
		logger:      logger,
		callTimeout: callTimeout,
		verify:      verify,
	}
}

// Convert turns the staged input into PDF bytes using worker's engine for
// kind. The staged input and the staged output are released on every path,
// including panics.
//
// Lease staleness rule: after any failed engine call the engine is probed
// immediately. The lease is marked stale only when the probe fails or the
// error wraps ErrEngineLost. A call that hit the watchdog discards the lease
// outright. A document that fails on a healthy engine leaves the lease Ready.
func (p *Pipeline) Convert(ctx context.Context, worker WorkerKey, input *StagedFile, filename string, kind DocumentKind) (*ConversionResult, error) {
	start := time.Now()
	log := p.logger.With("worker", string(worker), "kind", kind.String(), "filename", filename)

	var output *StagedFile
	defer func() {
		p.stager.Release(input)
		p.stager.Release(output)
	}()

	ops, ok := opsByKind[kind]
	if !ok {
		return nil, p.fail(log, StageAcquire, kind, filename, fmt.Errorf("%w: unknown document kind %s", ErrUnsupportedExtension, kind))
	}
	if err := ctx.Err(); err != nil {
		return nil, p.fail(log, StageAcquire, kind, filename, err)
	}

	lease, err := p.leases.Acquire(worker, kind)
	if err != nil {
		return nil, p.fail(log, StageAcquire, kind, filename, err)
	}

	handle, err := callEngine(p.callTimeout, func() (Handle, error) {
		return ops.open(lease.Engine, input.Path)
	})
	if err == nil && handle == nil {
		err = errNoHandle
	}
	if err != nil {
		p.settle(lease, err, log)
		return nil, p.fail(log, StageOpen, kind, filename, fmt.Errorf("%w: %w", ErrDocumentOpen, err))
	}
	log.Debug("open", "path", input.Path)

	var (
		stage    Stage
		firstErr error
	)

	output, err = p.stager.Reserve(kind, OutputFilename(filename))
	if err != nil {
		stage, firstErr = StageStage, err
	} else {
		// An abandoned export may still write its file after Convert has
		// returned, so it releases the output itself once it finishes.
		out := output
		_, err = watchEngine(p.callTimeout, func() (struct{}, error) {
			return struct{}{}, ops.export(lease.Engine, handle, out.Path)
		}, func() {
			p.stager.Release(out)
		})
		if err != nil {
			p.settle(lease, err, log)
			stage, firstErr = StageExport, asConversion(err)
		} else {
			log.Debug("export", "path", output.Path)
		}
	}

	// The document is closed on every path except a watchdog expiry, where
	// the engine has already been discarded along with the document.
	if !errors.Is(firstErr, ErrEngineTimeout) {
		err = callEngine0(p.callTimeout, func() error {
			return lease.Engine.Close(handle, true)
		})
		switch {
		case err == nil:
			log.Debug("close")
		case firstErr == nil:
			p.settle(lease, err, log)
			stage, firstErr = StageClose, fmt.Errorf("closing document: %w", asConversion(err))
		default:
			p.settle(lease, err, log)
			log.Warn("close failed after earlier error", "error", err)
		}
	}

	if firstErr != nil {
		return nil, p.fail(log, stage, kind, filename, firstErr)
	}

	pdf, err := os.ReadFile(output.Path)
	if err != nil {
		return nil, p.fail(log, StageRead, kind, filename, fmt.Errorf("%w: reading output: %v", ErrConversion, err))
	}
	if len(pdf) == 0 {
		return nil, p.fail(log, StageRead, kind, filename, fmt.Errorf("%w: engine produced an empty file", ErrConversion))
	}

	pages := 0
	if p.verify {
		pages, err = verifyPDF(output.Path)
		if err != nil {
			return nil, p.fail(log, StageRead, kind, filename, err)
		}
	}

	res := &ConversionResult{
		PDF:      pdf,
		Filename: OutputFilename(filename),
		Pages:    pages,
		Worker:   worker,
		Duration: time.Since(start),
	}
	log.Info("converted", "bytes", len(pdf), "pages", pages, "duration", res.Duration)
	return res, nil
}

// settle decides whether a failed call left the engine broken. An engine
// that hit the watchdog is shut down at once: it is still busy with the
// abandoned call and may never be acquired again to be replaced.
func (p *Pipeline) settle(lease *Lease, cause error, log *slog.Logger) {
	if errors.Is(cause, ErrEngineTimeout) {
		log.Warn("engine call timed out, discarding engine", "cause", cause)
		p.leases.Discard(lease)
		return
	}
	if errors.Is(cause, ErrEngineLost) {
		p.leases.MarkStale(lease)
		return
	}
	if err := callEngine0(p.callTimeout, lease.Engine.Ping); err != nil {
		log.Warn("engine unhealthy after failure", "cause", cause, "probe", err)
		p.leases.MarkStale(lease)
		return
	}
	log.Debug("engine healthy after failure, keeping lease", "cause", cause)
}

func (p *Pipeline) fail(log *slog.Logger, stage Stage, kind DocumentKind, filename string, err error) error {
	log.Error("conversion failed", "stage", string(stage), "error", err)
	return &PipelineError{Stage: stage, Kind: kind, Filename: filename, Err: err}
}

// asConversion wraps err with ErrConversion unless it already carries it.
func asConversion(err error) error {
	if errors.Is(err, ErrConversion) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConversion, err)
}

type callResult[T any] struct {
	v   T
	err error
}

// callEngine runs one native call. A panic is reported as ErrEngineLost.
// With a positive timeout the call runs on its own goroutine and is abandoned
// (not cancelled) once the bound is exceeded.
func callEngine[T any](timeout time.Duration, fn func() (T, error)) (T, error) {
	return watchEngine(timeout, fn, nil)
}

// watchEngine is callEngine with a late hook: when the call is abandoned,
// late runs on the call's goroutine once fn finally returns.
func watchEngine[T any](timeout time.Duration, fn func() (T, error), late func()) (T, error) {
	run := func() (v T, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: engine panicked: %v", ErrEngineLost, r)
			}
		}()
		return fn()
	}

	if timeout <= 0 {
		return run()
	}

	// mu orders the result hand-off against abandonment, so exactly one side
	// sees the result: the caller or late.
	var (
		mu        sync.Mutex
		abandoned bool
	)
	ch := make(chan callResult[T], 1)
	go func() {
		v, err := run()
		mu.Lock()
		ch <- callResult[T]{v: v, err: err}
		gone := abandoned
		mu.Unlock()
		if gone && late != nil {
			late()
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-timer.C:
	}

	mu.Lock()
	defer mu.Unlock()
	select {
	case r := <-ch:
		return r.v, r.err
	default:
		abandoned = true
		var zero T
		return zero, fmt.Errorf("%w after %s", ErrEngineTimeout, timeout)
	}
}

func callEngine0(timeout time.Duration, fn func() error) error {
	_, err := callEngine(timeout, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
