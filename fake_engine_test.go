package office2pdf

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// Compile-time interface check.
var _ Engine = (*fakeEngine)(nil)

// fakeEngine records every call and fails on demand. The zero value opens
// anything and exports a valid one-page PDF.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string

	openErr   error
	nilHandle bool
	exportErr error
	closeErr  error
	pingErr   error
	panicOn   string

	// block, when set, makes export wait until it is closed.
	block chan struct{}
	// exported counts export calls that have returned.
	exported atomic.Int32

	pdf   []byte
	quits atomic.Int32
}

type fakeHandle struct{ path string }

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.panicOn == call {
		panic("fake engine panic in " + call)
	}
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEngine) open(call, path string) (Handle, error) {
	f.record(call)
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.nilHandle {
		return nil, nil
	}
	return &fakeHandle{path: path}, nil
}

func (f *fakeEngine) OpenDocument(path string) (Handle, error) {
	return f.open("OpenDocument", path)
}

func (f *fakeEngine) OpenWorkbook(path string) (Handle, error) {
	return f.open("OpenWorkbook", path)
}

func (f *fakeEngine) OpenPresentation(path string) (Handle, error) {
	return f.open("OpenPresentation", path)
}

func (f *fakeEngine) export(call, outPath string) error {
	defer f.exported.Add(1)
	f.record(call)
	if f.block != nil {
		<-f.block
	}
	if f.exportErr != nil {
		return f.exportErr
	}
	pdf := f.pdf
	if pdf == nil {
		pdf = minimalPDF(1)
	}
	return os.WriteFile(outPath, pdf, 0o600)
}

func (f *fakeEngine) SaveAsPDF(_ Handle, outPath string) error {
	return f.export("SaveAsPDF", outPath)
}

func (f *fakeEngine) ExportAsFixedFormat(_ Handle, outPath string) error {
	return f.export("ExportAsFixedFormat", outPath)
}

func (f *fakeEngine) Close(_ Handle, discardChanges bool) error {
	if !discardChanges {
		f.record("Close(keep)")
	} else {
		f.record("Close")
	}
	return f.closeErr
}

func (f *fakeEngine) Ping() error {
	f.record("Ping")
	return f.pingErr
}

func (f *fakeEngine) Quit() error {
	f.quits.Add(1)
	return nil
}

// fakeFactory builds fakeEngines through configure and remembers each one.
type fakeFactory struct {
	mu        sync.Mutex
	engines   []*fakeEngine
	err       error
	configure func(*fakeEngine)
}

func (ff *fakeFactory) New(_ WorkerKey, _ DocumentKind) (Engine, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.err != nil {
		return nil, ff.err
	}
	e := &fakeEngine{}
	if ff.configure != nil {
		ff.configure(e)
	}
	ff.engines = append(ff.engines, e)
	return e, nil
}

func (ff *fakeFactory) Built() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.engines)
}

func (ff *fakeFactory) Last() *fakeEngine {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.engines) == 0 {
		return nil
	}
	return ff.engines[len(ff.engines)-1]
}

// minimalPDF builds a structurally valid PDF with the given number of empty
// pages, with a correct cross-reference table.
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] /Resources << >> >>", kids, pages))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}
