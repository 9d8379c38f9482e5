package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	office2pdf "github.com/alnah/go-office2pdf"
)

// Sentinel errors for batch conversions.
var (
	ErrNoInput         = errors.New("no input specified")
	ErrWritePDF        = errors.New("failed to write PDF file")
	ErrOutputCollision = errors.New("inputs map to the same output file")
	ErrBatchFailed     = errors.New("some conversions failed")
)

// File permission constants.
const (
	dirPermissions  = 0o750 // rwxr-x---: owner full, group read+execute
	filePermissions = 0o644 // rw-r--r--: owner read+write, others read
)

// FileToConvert is one input and where its PDF goes.
type FileToConvert struct {
	InputPath  string
	OutputPath string
}

// ConversionResult holds the outcome of a single conversion.
type ConversionResult struct {
	InputPath  string
	OutputPath string
	Pages      int
	Err        error
	Duration   time.Duration
}

// runConvert converts files given on the command line through one Converter.
func runConvert(ctx context.Context, args []string, env *Environment) error {
	flags, inputs, err := parseConvertFlags(args, env.Stderr)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return ErrNoInput
	}

	cfg, err := loadSettings(flags.common.config, env)
	if err != nil {
		return err
	}
	mergeEngineFlags(&flags.engine, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	files, err := planOutputs(inputs, flags.output)
	if err != nil {
		return err
	}
	if flags.output != "" {
		if err := os.MkdirAll(flags.output, dirPermissions); err != nil {
			return fmt.Errorf("%w: %w", ErrWritePDF, err)
		}
	}

	logger := newLogger(io.Discard, cfg.Log, false)
	if flags.common.verbose {
		logger = newLogger(env.Stderr, cfg.Log, true)
	}

	conv, err := env.NewConverter(cfg, logger)
	if err != nil {
		return err
	}

	results := convertBatch(ctx, conv, files)
	closeErr := conv.Close()

	failed := printResults(results, flags.common.quiet, flags.common.verbose, env.Stdout, env.Stderr)
	if failed > 0 {
		batchErr := fmt.Errorf("%w: %d of %d (first: %w)", ErrBatchFailed, failed, len(results), firstError(results))
		return errors.Join(batchErr, closeErr)
	}
	return closeErr
}

// planOutputs resolves each output path: next to the input, or in outDir.
// Two inputs resolving to the same PDF are rejected before any work starts.
func planOutputs(inputs []string, outDir string) ([]FileToConvert, error) {
	files := make([]FileToConvert, 0, len(inputs))
	seen := make(map[string]string, len(inputs))

	for _, in := range inputs {
		if _, err := office2pdf.KindFromFilename(in); err != nil {
			return nil, fmt.Errorf("%s: %w", in, err)
		}

		dir := filepath.Dir(in)
		if outDir != "" {
			dir = outDir
		}
		out := filepath.Join(dir, office2pdf.OutputFilename(filepath.Base(in)))

		if prev, ok := seen[out]; ok {
			return nil, fmt.Errorf("%w: %s and %s -> %s", ErrOutputCollision, prev, in, out)
		}
		seen[out] = in
		files = append(files, FileToConvert{InputPath: in, OutputPath: out})
	}
	return files, nil
}

// convertBatch converts files concurrently, bounded by the converter's
// worker count. Results keep input order.
func convertBatch(ctx context.Context, conv Converter, files []FileToConvert) []ConversionResult {
	results := make([]ConversionResult, len(files))

	var g errgroup.Group
	g.SetLimit(max(conv.Workers(), 1))

	for i, f := range files {
		g.Go(func() error {
			results[i] = convertFile(ctx, conv, f)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// convertFile converts one file and writes its PDF.
func convertFile(ctx context.Context, conv Converter, f FileToConvert) ConversionResult {
	start := time.Now()
	result := ConversionResult{InputPath: f.InputPath, OutputPath: f.OutputPath}

	res, err := conv.ConvertFile(ctx, f.InputPath)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	result.Pages = res.Pages

	if err := os.WriteFile(f.OutputPath, res.PDF, filePermissions); err != nil { // #nosec G306 -- PDFs are meant to be shared
		result.Err = fmt.Errorf("%w: %w", ErrWritePDF, err)
	}

	result.Duration = time.Since(start)
	return result
}

// printResults outputs conversion results and returns the failure count.
func printResults(results []ConversionResult, quiet, verbose bool, stdout, stderr io.Writer) int {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(stderr, "FAILED %s: %v%s\n", r.InputPath, r.Err, hintFor(r.Err))
			continue
		}
		if quiet {
			continue
		}
		if verbose {
			fmt.Fprintf(stdout, "%s -> %s (%d pages, %v)\n", r.InputPath, r.OutputPath, r.Pages, r.Duration.Round(time.Millisecond))
		} else {
			fmt.Fprintf(stdout, "Created %s\n", r.OutputPath)
		}
	}

	if !quiet && len(results) > 1 {
		fmt.Fprintf(stdout, "\n%d succeeded, %d failed\n", len(results)-failed, failed)
	}
	return failed
}

func firstError(results []ConversionResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
