package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	office2pdf "github.com/alnah/go-office2pdf"
	"github.com/alnah/go-office2pdf/internal/config"
)

// ---------------------------------------------------------------------------
// Test Infrastructure - fake converter and environment
// ---------------------------------------------------------------------------

// Compile-time interface implementation check.
var _ Converter = (*fakeConverter)(nil)

type fakeConverter struct {
	mu      sync.Mutex
	files   []string
	failOn  map[string]error
	workers int
	closed  atomic.Bool
	cfg     *config.Config
}

func (f *fakeConverter) Convert(_ context.Context, req office2pdf.ConversionRequest) (*office2pdf.ConversionResult, error) {
	return &office2pdf.ConversionResult{
		PDF:      []byte("%PDF-1.4 fake"),
		Filename: office2pdf.OutputFilename(req.Filename),
		Pages:    1,
		Worker:   "worker-0",
	}, nil
}

func (f *fakeConverter) ConvertFile(_ context.Context, path string) (*office2pdf.ConversionResult, error) {
	f.mu.Lock()
	f.files = append(f.files, path)
	f.mu.Unlock()
	if err := f.failOn[filepath.Base(path)]; err != nil {
		return nil, err
	}
	return &office2pdf.ConversionResult{
		PDF:      []byte("%PDF-1.4 " + filepath.Base(path)),
		Filename: office2pdf.OutputFilename(filepath.Base(path)),
		Pages:    2,
	}, nil
}

func (f *fakeConverter) Workers() int {
	if f.workers == 0 {
		return 2
	}
	return f.workers
}

func (f *fakeConverter) Stats() office2pdf.LeaseStats { return office2pdf.LeaseStats{} }

func (f *fakeConverter) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeConverter) converted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.files...)
	sort.Strings(out)
	return out
}

type testEnv struct {
	*Environment
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	vars   map[string]string
	conv   *fakeConverter
}

// newTestEnv returns an environment with captured output, a private variable
// set, temp directories for staging and profiles, and a fake converter.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	te := &testEnv{
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		vars: map[string]string{
			"OFFICE2PDF_STAGING_ROOT": filepath.Join(dir, "staging"),
			"OFFICE2PDF_PROFILE_ROOT": filepath.Join(dir, "profiles"),
		},
		conv: &fakeConverter{},
	}
	te.Environment = &Environment{
		Stdout: te.stdout,
		Stderr: te.stderr,
		Getenv: func(k string) string { return te.vars[k] },
		Environ: func() []string {
			out := make([]string, 0, len(te.vars))
			for k, v := range te.vars {
				out = append(out, k+"="+v)
			}
			return out
		},
		LookPath: func(string) (string, error) { return "", errors.New("not found") },
		Listen:   net.Listen,
		NewConverter: func(cfg *config.Config, _ *slog.Logger) (Converter, error) {
			te.conv.cfg = cfg
			return te.conv, nil
		},
	}
	return te
}

func writeInput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("PK\x03\x04"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
