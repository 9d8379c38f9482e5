package office2pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Notes:
// - The fake engine stands in for the native engine; soffice_unix_test.go
//   covers the LibreOffice implementation.
// - Worker affinity is not exercised here, see converter_test.go.

const testWorker WorkerKey = "worker-0"

type pipelineFixture struct {
	p       *Pipeline
	leases  *LeaseManager
	stager  *Stager
	factory *fakeFactory
}

func newPipelineFixture(t *testing.T, configure func(*fakeEngine), timeout time.Duration, verify bool) *pipelineFixture {
	t.Helper()

	stager, err := NewStager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStager() error = %v", err)
	}
	ff := &fakeFactory{configure: configure}
	leases := NewLeaseManager(ff.New, nil)
	t.Cleanup(func() { _ = leases.Close() })

	return &pipelineFixture{
		p:       NewPipeline(leases, stager, nil, timeout, verify),
		leases:  leases,
		stager:  stager,
		factory: ff,
	}
}

func (fx *pipelineFixture) convert(t *testing.T, kind DocumentKind, name string) (*ConversionResult, error) {
	t.Helper()

	in, err := fx.stager.Stage(kind, name, strings.NewReader("document body"))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	return fx.p.Convert(context.Background(), testWorker, in, name, kind)
}

func (fx *pipelineFixture) lease(kind DocumentKind) *Lease {
	fx.leases.mu.Lock()
	defer fx.leases.mu.Unlock()
	return fx.leases.leases[leaseKey{worker: testWorker, kind: kind}]
}

// stagedFiles counts regular files left under root.
func stagedFiles(t *testing.T, root string) int {
	t.Helper()

	n := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", root, err)
	}
	return n
}

func assertStage(t *testing.T, err error, want Stage) {
	t.Helper()

	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v (%T), want *PipelineError", err, err)
	}
	if pe.Stage != want {
		t.Errorf("stage = %q, want %q", pe.Stage, want)
	}
}

func equalCalls(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// TestPipelineConvert_Dispatch - Kind selects the open/export pair
// ---------------------------------------------------------------------------

func TestPipelineConvert_Dispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		kind      DocumentKind
		filename  string
		wantCalls []string
		wantName  string
	}{
		{
			name:      "word document",
			kind:      WordLike,
			filename:  "report.docx",
			wantCalls: []string{"OpenDocument", "SaveAsPDF", "Close"},
			wantName:  "report.pdf",
		},
		{
			name:      "spreadsheet uses fixed format export",
			kind:      SpreadsheetLike,
			filename:  "budget.xlsx",
			wantCalls: []string{"OpenWorkbook", "ExportAsFixedFormat", "Close"},
			wantName:  "budget.pdf",
		},
		{
			name:      "presentation",
			kind:      PresentationLike,
			filename:  "deck.ppt",
			wantCalls: []string{"OpenPresentation", "SaveAsPDF", "Close"},
			wantName:  "deck.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fx := newPipelineFixture(t, nil, 0, true)
			res, err := fx.convert(t, tt.kind, tt.filename)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}

			if got := fx.factory.Last().Calls(); !equalCalls(got, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", got, tt.wantCalls)
			}
			if res.Filename != tt.wantName {
				t.Errorf("Filename = %q, want %q", res.Filename, tt.wantName)
			}
			if !bytes.HasPrefix(res.PDF, []byte("%PDF-")) {
				t.Errorf("PDF does not start with a PDF header")
			}
			if res.Pages != 1 {
				t.Errorf("Pages = %d, want 1", res.Pages)
			}
			if res.Worker != testWorker {
				t.Errorf("Worker = %q, want %q", res.Worker, testWorker)
			}
			if n := stagedFiles(t, fx.stager.Root()); n != 0 {
				t.Errorf("%d staged files left after success", n)
			}
		})
	}
}

func TestPipelineConvert_UnknownKind(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil, 0, false)
	_, err := fx.convert(t, DocumentKind(42), "x.docx")
	if !errors.Is(err, ErrUnsupportedExtension) {
		t.Errorf("error = %v, want ErrUnsupportedExtension", err)
	}
	if fx.factory.Built() != 0 {
		t.Error("engine built for unknown kind")
	}
	if n := stagedFiles(t, fx.stager.Root()); n != 0 {
		t.Errorf("%d staged files left", n)
	}
}

func TestPipelineConvert_CancelledContext(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil, 0, false)
	in, err := fx.stager.Stage(WordLike, "a.docx", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fx.p.Convert(ctx, testWorker, in, "a.docx", WordLike)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if n := stagedFiles(t, fx.stager.Root()); n != 0 {
		t.Errorf("%d staged files left", n)
	}
}

// ---------------------------------------------------------------------------
// TestPipelineConvert_Failures - Error mapping, cleanup and lease health
// ---------------------------------------------------------------------------

func TestPipelineConvert_Failures(t *testing.T) {
	t.Parallel()

	errDoc := errors.New("document is corrupt")

	tests := []struct {
		name      string
		configure func(*fakeEngine)
		wantErr   error
		wantStage Stage
		wantCalls []string
		wantState LeaseState
	}{
		{
			name:      "nil handle on healthy engine",
			configure: func(e *fakeEngine) { e.nilHandle = true },
			wantErr:   ErrDocumentOpen,
			wantStage: StageOpen,
			wantCalls: []string{"OpenDocument", "Ping"},
			wantState: LeaseReady,
		},
		{
			name:      "open error with failing probe",
			configure: func(e *fakeEngine) { e.openErr = errDoc; e.pingErr = errors.New("gone") },
			wantErr:   ErrDocumentOpen,
			wantStage: StageOpen,
			wantCalls: []string{"OpenDocument", "Ping"},
			wantState: LeaseStale,
		},
		{
			name:      "open reports engine lost",
			configure: func(e *fakeEngine) { e.openErr = ErrEngineLost },
			wantErr:   ErrEngineLost,
			wantStage: StageOpen,
			wantCalls: []string{"OpenDocument"},
			wantState: LeaseStale,
		},
		{
			name:      "export error on healthy engine still closes",
			configure: func(e *fakeEngine) { e.exportErr = errDoc },
			wantErr:   ErrConversion,
			wantStage: StageExport,
			wantCalls: []string{"OpenDocument", "SaveAsPDF", "Ping", "Close"},
			wantState: LeaseReady,
		},
		{
			name:      "export crash marks stale and closes",
			configure: func(e *fakeEngine) { e.exportErr = ErrEngineLost },
			wantErr:   ErrEngineLost,
			wantStage: StageExport,
			wantCalls: []string{"OpenDocument", "SaveAsPDF", "Close"},
			wantState: LeaseStale,
		},
		{
			name:      "export panic is engine lost",
			configure: func(e *fakeEngine) { e.panicOn = "SaveAsPDF" },
			wantErr:   ErrEngineLost,
			wantStage: StageExport,
			wantCalls: []string{"OpenDocument", "SaveAsPDF", "Close"},
			wantState: LeaseStale,
		},
		{
			name:      "close error after successful export",
			configure: func(e *fakeEngine) { e.closeErr = errDoc },
			wantErr:   ErrConversion,
			wantStage: StageClose,
			wantCalls: []string{"OpenDocument", "SaveAsPDF", "Close", "Ping"},
			wantState: LeaseReady,
		},
		{
			name: "close error after export error keeps export error",
			configure: func(e *fakeEngine) {
				e.exportErr = errDoc
				e.closeErr = errors.New("close failed")
			},
			wantErr:   errDoc,
			wantStage: StageExport,
			wantCalls: []string{"OpenDocument", "SaveAsPDF", "Ping", "Close", "Ping"},
			wantState: LeaseReady,
		},
		{
			name:      "empty output",
			configure: func(e *fakeEngine) { e.pdf = []byte{} },
			wantErr:   ErrConversion,
			wantStage: StageRead,
			wantCalls: []string{"OpenDocument", "SaveAsPDF", "Close"},
			wantState: LeaseReady,
		},
		{
			name:      "output is not a PDF",
			configure: func(e *fakeEngine) { e.pdf = []byte("this is not a pdf") },
			wantErr:   ErrConversion,
			wantStage: StageRead,
			wantCalls: []string{"OpenDocument", "SaveAsPDF", "Close"},
			wantState: LeaseReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fx := newPipelineFixture(t, tt.configure, 0, true)
			res, err := fx.convert(t, WordLike, "report.docx")
			if err == nil {
				t.Fatalf("Convert() = %+v, want error", res)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			assertStage(t, err, tt.wantStage)

			if got := fx.factory.Last().Calls(); !equalCalls(got, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", got, tt.wantCalls)
			}
			if got := fx.lease(WordLike).State(); got != tt.wantState {
				t.Errorf("lease state = %v, want %v", got, tt.wantState)
			}
			if n := stagedFiles(t, fx.stager.Root()); n != 0 {
				t.Errorf("%d staged files left after failure", n)
			}
		})
	}
}

func TestPipelineConvert_HealthyLeaseSurvivesDocumentFailure(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, func(e *fakeEngine) { e.nilHandle = true }, 0, false)
	if _, err := fx.convert(t, WordLike, "broken.docx"); !errors.Is(err, ErrDocumentOpen) {
		t.Fatalf("first Convert() error = %v, want ErrDocumentOpen", err)
	}

	fx.factory.Last().nilHandle = false
	if _, err := fx.convert(t, WordLike, "good.docx"); err != nil {
		t.Fatalf("second Convert() error = %v", err)
	}
	if fx.factory.Built() != 1 {
		t.Errorf("engines built = %d, want 1", fx.factory.Built())
	}
}

func TestPipelineConvert_StaleLeaseRebuiltOnce(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil, 0, false)
	if _, err := fx.convert(t, WordLike, "a.docx"); err != nil {
		t.Fatal(err)
	}

	first := fx.factory.Last()
	first.exportErr = ErrEngineLost
	if _, err := fx.convert(t, WordLike, "b.docx"); err == nil {
		t.Fatal("Convert() with lost engine succeeded")
	}

	for i := 0; i < 3; i++ {
		if _, err := fx.convert(t, WordLike, "c.docx"); err != nil {
			t.Fatalf("Convert() #%d after recreation error = %v", i, err)
		}
	}

	if fx.factory.Built() != 2 {
		t.Errorf("engines built = %d, want 2", fx.factory.Built())
	}
	if first.quits.Load() != 1 {
		t.Errorf("stale engine Quit() calls = %d, want 1", first.quits.Load())
	}
}

// ---------------------------------------------------------------------------
// TestPipelineConvert_Watchdog - Calls exceeding the bound
// ---------------------------------------------------------------------------

func TestPipelineConvert_Watchdog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		exportErr error
	}{
		{"abandoned export writes its file late", nil},
		{"abandoned export fails late", errors.New("released after timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			block := make(chan struct{})
			var once sync.Once
			unblock := func() { once.Do(func() { close(block) }) }
			t.Cleanup(unblock)

			fx := newPipelineFixture(t, func(e *fakeEngine) {
				e.block = block
				e.exportErr = tt.exportErr
			}, 20*time.Millisecond, false)

			_, err := fx.convert(t, WordLike, "slow.docx")
			if !errors.Is(err, ErrEngineTimeout) {
				t.Fatalf("error = %v, want ErrEngineTimeout", err)
			}
			if !errors.Is(err, ErrConversion) {
				t.Errorf("error = %v, want it to wrap ErrConversion", err)
			}
			if msg := err.Error(); strings.Count(msg, ErrConversion.Error()) != 1 {
				t.Errorf("error %q repeats %q", msg, ErrConversion.Error())
			}
			assertStage(t, err, StageExport)

			engine := fx.factory.Last()
			if n := engine.quits.Load(); n != 1 {
				t.Errorf("Quit() called %d times on timed out engine, want 1", n)
			}
			if fx.lease(WordLike) != nil {
				t.Error("timed out lease still held by the manager")
			}
			if got := fx.leases.Stats().Discarded; got != 1 {
				t.Errorf("Stats().Discarded = %d, want 1", got)
			}
			if n := engine.count("Close"); n != 0 {
				t.Errorf("Close() called %d times on a busy engine", n)
			}
			if n := stagedFiles(t, fx.stager.Root()); n != 0 {
				t.Errorf("%d staged files left after timeout", n)
			}

			unblock()
			waitFor(t, "abandoned export to return", func() bool { return engine.exported.Load() == 1 })
			waitFor(t, "late output to be released", func() bool { return stagedFiles(t, fx.stager.Root()) == 0 })

			// The next request gets a fresh engine.
			fx.factory.mu.Lock()
			fx.factory.configure = nil
			fx.factory.mu.Unlock()
			if _, err := fx.convert(t, WordLike, "next.docx"); err != nil {
				t.Fatalf("conversion after timeout error = %v", err)
			}
			if got := fx.factory.Built(); got != 2 {
				t.Errorf("engines built = %d, want 2", got)
			}
		})
	}
}

func TestAsConversion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"plain cause is wrapped", errors.New("filter failed"), "PDF conversion failed: filter failed"},
		{"timeout is not wrapped twice", fmt.Errorf("%w after 20ms", ErrEngineTimeout), "PDF conversion failed: engine call timed out after 20ms"},
		{"engine lost gains the conversion sentinel", ErrEngineLost, "PDF conversion failed: conversion engine is no longer usable"},
	}
	for _, tt := range tests {
		got := asConversion(tt.err)
		if got.Error() != tt.want {
			t.Errorf("%s: asConversion() = %q, want %q", tt.name, got, tt.want)
		}
		if !errors.Is(got, ErrConversion) || !errors.Is(got, tt.err) {
			t.Errorf("%s: asConversion() = %v lost a sentinel", tt.name, got)
		}
	}
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCallEngine(t *testing.T) {
	t.Parallel()

	t.Run("returns value without timeout", func(t *testing.T) {
		t.Parallel()
		v, err := callEngine(0, func() (int, error) { return 7, nil })
		if err != nil || v != 7 {
			t.Errorf("callEngine() = %d, %v; want 7, nil", v, err)
		}
	})

	t.Run("returns value within timeout", func(t *testing.T) {
		t.Parallel()
		v, err := callEngine(time.Second, func() (string, error) { return "ok", nil })
		if err != nil || v != "ok" {
			t.Errorf("callEngine() = %q, %v; want ok, nil", v, err)
		}
	})

	t.Run("recovers panic", func(t *testing.T) {
		t.Parallel()
		err := callEngine0(time.Second, func() error { panic("boom") })
		if !errors.Is(err, ErrEngineLost) {
			t.Errorf("callEngine0() error = %v, want ErrEngineLost", err)
		}
	})

	t.Run("late hook runs once an abandoned call returns", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		ran := make(chan struct{})
		_, err := watchEngine(10*time.Millisecond, func() (int, error) {
			<-release
			return 1, nil
		}, func() { close(ran) })
		if !errors.Is(err, ErrEngineTimeout) {
			t.Fatalf("watchEngine() error = %v, want ErrEngineTimeout", err)
		}
		close(release)
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("late hook never ran")
		}
	})

	t.Run("late hook skipped when call finishes in time", func(t *testing.T) {
		t.Parallel()
		var ran atomic.Bool
		v, err := watchEngine(time.Second, func() (int, error) { return 3, nil }, func() { ran.Store(true) })
		if err != nil || v != 3 {
			t.Fatalf("watchEngine() = %d, %v; want 3, nil", v, err)
		}
		time.Sleep(20 * time.Millisecond)
		if ran.Load() {
			t.Error("late hook ran for a call that returned in time")
		}
	})

	t.Run("times out", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		defer close(release)
		err := callEngine0(10*time.Millisecond, func() error {
			<-release
			return nil
		})
		if !errors.Is(err, ErrEngineTimeout) {
			t.Errorf("callEngine0() error = %v, want ErrEngineTimeout", err)
		}
	})
}

// ---------------------------------------------------------------------------
// TestVerifyPDF - pdfcpu page counting
// ---------------------------------------------------------------------------

func TestVerifyPDF(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	pages, err := verifyPDF(write("three.pdf", minimalPDF(3)))
	if err != nil {
		t.Fatalf("verifyPDF(valid) error = %v", err)
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}

	if _, err := verifyPDF(write("garbage.pdf", []byte("garbage"))); !errors.Is(err, ErrConversion) {
		t.Errorf("verifyPDF(garbage) error = %v, want ErrConversion", err)
	}
}
