//go:build !windows

package office2pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Notes:
// - These tests run a shell script standing in for soffice. They are not
//   parallel: writing an executable while another test forks can fail with
//   ETXTBSY.
// - Real LibreOffice rendering is not exercised here.

// Compile-time interface check.
var _ Engine = (*SofficeEngine)(nil)

// fakeSoffice writes a soffice stand-in. behavior is one of:
//   - "ok": writes a small PDF into --outdir
//   - "noop": exits 0 without output
//   - "crash": kills itself with SIGKILL during conversion
//   - "fail-init": exits 1 on the warm-up run
//   - "hang": sleeps before writing the PDF, long enough to be killed
//
// Every invocation's --convert-to filter is appended to the returned log.
func fakeSoffice(t *testing.T, behavior string) (bin, logPath string) {
	t.Helper()

	dir := t.TempDir()
	bin = filepath.Join(dir, "soffice")
	logPath = filepath.Join(dir, "calls.log")

	script := fmt.Sprintf(`#!/bin/sh
outdir=""
target=""
filter=""
while [ $# -gt 0 ]; do
  case "$1" in
    --convert-to) filter="$2"; shift 2 ;;
    --outdir) outdir="$2"; shift 2 ;;
    --*|-env:*) shift ;;
    *) target="$1"; shift ;;
  esac
done
behavior=%q
if [ -z "$target" ]; then
  [ "$behavior" = "fail-init" ] && exit 1
  exit 0
fi
echo "$filter" >> %q
case "$behavior" in
  ok)
    name=$(basename "$target")
    printf '%%s' '%%PDF-1.4 fake' > "$outdir/${name%%.*}.pdf"
    ;;
  crash)
    kill -9 $$
    ;;
  hang)
    sleep 30
    name=$(basename "$target")
    printf '%%s' '%%PDF-1.4 late' > "$outdir/${name%%.*}.pdf"
    ;;
esac
exit 0
`, behavior, logPath)

	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil { // #nosec G306 -- test executable
		t.Fatalf("writing fake soffice: %v", err)
	}
	return bin, logPath
}

func startFake(t *testing.T, behavior string, kind DocumentKind) (*SofficeEngine, string) {
	t.Helper()

	bin, logPath := fakeSoffice(t, behavior)
	e, err := StartSoffice(SofficeOptions{
		Binary:      bin,
		ProfileRoot: t.TempDir(),
	}, "worker-1", kind)
	if err != nil {
		t.Fatalf("StartSoffice() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Quit() })
	return e, logPath
}

func writeDoc(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func ooxml() []byte { return append([]byte("PK\x03\x04"), make([]byte, 64)...) }
func ole2() []byte  { return append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...) }

// ---------------------------------------------------------------------------
// TestStartSoffice - Engine construction
// ---------------------------------------------------------------------------

func TestStartSoffice_CreatesPrivateProfile(t *testing.T) {
	e, _ := startFake(t, "ok", WordLike)

	if !strings.HasSuffix(e.ProfileDir(), "worker-1-word") {
		t.Errorf("ProfileDir() = %q, want suffix worker-1-word", e.ProfileDir())
	}
	if err := e.Ping(); err != nil {
		t.Errorf("Ping() on fresh engine error = %v", err)
	}
}

func TestStartSoffice_MissingBinary(t *testing.T) {
	_, err := StartSoffice(SofficeOptions{
		Binary:      filepath.Join(t.TempDir(), "does-not-exist"),
		ProfileRoot: t.TempDir(),
	}, "worker-1", WordLike)
	if !errors.Is(err, ErrEngineInit) {
		t.Errorf("StartSoffice() error = %v, want ErrEngineInit", err)
	}
}

func TestStartSoffice_WarmUpFailure(t *testing.T) {
	bin, _ := fakeSoffice(t, "fail-init")
	root := t.TempDir()

	_, err := StartSoffice(SofficeOptions{Binary: bin, ProfileRoot: root}, "worker-1", WordLike)
	if !errors.Is(err, ErrEngineInit) {
		t.Fatalf("StartSoffice() error = %v, want ErrEngineInit", err)
	}
	if _, statErr := os.Stat(filepath.Join(root, "worker-1-word")); !os.IsNotExist(statErr) {
		t.Error("profile left behind after failed warm-up")
	}
}

func TestStartSoffice_SkipWarmUp(t *testing.T) {
	bin, _ := fakeSoffice(t, "fail-init")

	e, err := StartSoffice(SofficeOptions{Binary: bin, ProfileRoot: t.TempDir(), SkipWarmUp: true}, "worker-1", WordLike)
	if err != nil {
		t.Fatalf("StartSoffice() error = %v", err)
	}
	_ = e.Quit()
}

// ---------------------------------------------------------------------------
// TestSofficeEngine_Open - Signature checks and kind dispatch
// ---------------------------------------------------------------------------

func TestSofficeEngine_Open(t *testing.T) {
	e, _ := startFake(t, "ok", WordLike)

	tests := []struct {
		name    string
		file    string
		content []byte
		wantErr bool
	}{
		{"valid docx", "a.docx", ooxml(), false},
		{"valid doc", "a.doc", ole2(), false},
		{"docx without zip signature", "a.docx", []byte("hello world"), true},
		{"doc with zip signature", "a.doc", ooxml(), true},
		{"empty file", "a.docx", nil, true},
		{"unknown extension", "a.txt", []byte("text"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDoc(t, tt.file, tt.content)
			h, err := e.OpenDocument(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenDocument() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if h == nil {
					t.Fatal("OpenDocument() returned nil handle")
				}
				if err := e.Close(h, true); err != nil {
					t.Errorf("Close() error = %v", err)
				}
			}
		})
	}
}

func TestSofficeEngine_OpenWrongKind(t *testing.T) {
	e, _ := startFake(t, "ok", WordLike)

	if _, err := e.OpenWorkbook(writeDoc(t, "a.xlsx", ooxml())); err == nil {
		t.Error("OpenWorkbook() on word engine succeeded")
	}
}

func TestSofficeEngine_OpenMissingFile(t *testing.T) {
	e, _ := startFake(t, "ok", WordLike)

	if _, err := e.OpenDocument(filepath.Join(t.TempDir(), "gone.docx")); err == nil {
		t.Error("OpenDocument() on missing file succeeded")
	}
	if err := e.Ping(); err != nil {
		t.Errorf("Ping() after document failure error = %v", err)
	}
}

// ---------------------------------------------------------------------------
// TestSofficeEngine_Export - Filters and output placement
// ---------------------------------------------------------------------------

func TestSofficeEngine_Export(t *testing.T) {
	tests := []struct {
		name       string
		kind       DocumentKind
		file       string
		open       func(*SofficeEngine, string) (Handle, error)
		export     func(*SofficeEngine, Handle, string) error
		wantFilter string
	}{
		{
			name:       "word uses writer filter",
			kind:       WordLike,
			file:       "report.docx",
			open:       (*SofficeEngine).OpenDocument,
			export:     (*SofficeEngine).SaveAsPDF,
			wantFilter: filterWriterPDF,
		},
		{
			name:       "presentation uses impress filter",
			kind:       PresentationLike,
			file:       "deck.ppt",
			open:       (*SofficeEngine).OpenPresentation,
			export:     (*SofficeEngine).SaveAsPDF,
			wantFilter: filterImpressPDF,
		},
		{
			name:       "spreadsheet uses calc filter",
			kind:       SpreadsheetLike,
			file:       "budget.xlsx",
			open:       (*SofficeEngine).OpenWorkbook,
			export:     (*SofficeEngine).ExportAsFixedFormat,
			wantFilter: filterCalcPDF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, logPath := startFake(t, "ok", tt.kind)

			content := ooxml()
			if strings.HasSuffix(tt.file, ".ppt") {
				content = ole2()
			}
			h, err := tt.open(e, writeDoc(t, tt.file, content))
			if err != nil {
				t.Fatalf("open error = %v", err)
			}

			out := filepath.Join(t.TempDir(), "out.pdf")
			if err := tt.export(e, h, out); err != nil {
				t.Fatalf("export error = %v", err)
			}

			data, err := os.ReadFile(out)
			if err != nil {
				t.Fatalf("reading output: %v", err)
			}
			if !strings.HasPrefix(string(data), "%PDF") {
				t.Errorf("output = %q, want PDF header", data)
			}

			calls, _ := os.ReadFile(logPath)
			if got := strings.TrimSpace(string(calls)); got != tt.wantFilter {
				t.Errorf("filter = %q, want %q", got, tt.wantFilter)
			}

			if err := e.Close(h, true); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestSofficeEngine_ExportWrongMethod(t *testing.T) {
	e, _ := startFake(t, "ok", SpreadsheetLike)

	h, err := e.OpenWorkbook(writeDoc(t, "a.xlsx", ooxml()))
	if err != nil {
		t.Fatalf("OpenWorkbook() error = %v", err)
	}
	if err := e.SaveAsPDF(h, filepath.Join(t.TempDir(), "x.pdf")); err == nil {
		t.Error("SaveAsPDF() on spreadsheet succeeded")
	}
}

func TestSofficeEngine_NoOutputIsDocumentFailure(t *testing.T) {
	e, _ := startFake(t, "noop", WordLike)

	h, err := e.OpenDocument(writeDoc(t, "a.docx", ooxml()))
	if err != nil {
		t.Fatalf("OpenDocument() error = %v", err)
	}
	err = e.SaveAsPDF(h, filepath.Join(t.TempDir(), "x.pdf"))
	if err == nil {
		t.Fatal("SaveAsPDF() without output succeeded")
	}
	if errors.Is(err, ErrEngineLost) {
		t.Errorf("SaveAsPDF() error = %v, want document-level failure", err)
	}
	if err := e.Ping(); err != nil {
		t.Errorf("Ping() after document failure error = %v", err)
	}
}

func TestSofficeEngine_CrashMarksBroken(t *testing.T) {
	e, _ := startFake(t, "crash", WordLike)

	h, err := e.OpenDocument(writeDoc(t, "a.docx", ooxml()))
	if err != nil {
		t.Fatalf("OpenDocument() error = %v", err)
	}
	err = e.SaveAsPDF(h, filepath.Join(t.TempDir(), "x.pdf"))
	if !errors.Is(err, ErrEngineLost) {
		t.Fatalf("SaveAsPDF() error = %v, want ErrEngineLost", err)
	}
	if err := e.Ping(); !errors.Is(err, ErrEngineLost) {
		t.Errorf("Ping() after crash error = %v, want ErrEngineLost", err)
	}
}

// ---------------------------------------------------------------------------
// TestSofficeEngine_Lifecycle - Close, Ping, Quit
// ---------------------------------------------------------------------------

func TestSofficeEngine_CloseKeepChangesUnsupported(t *testing.T) {
	e, _ := startFake(t, "ok", WordLike)

	h, err := e.OpenDocument(writeDoc(t, "a.docx", ooxml()))
	if err != nil {
		t.Fatalf("OpenDocument() error = %v", err)
	}
	if err := e.Close(h, false); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Close(keep) error = %v, want ErrUnsupported", err)
	}
	if err := e.Close(h, true); err != nil {
		t.Errorf("Close(discard) error = %v", err)
	}
}

func TestSofficeEngine_CloseForeignHandle(t *testing.T) {
	e, _ := startFake(t, "ok", WordLike)

	if err := e.Close("not a handle", true); err == nil {
		t.Error("Close() with foreign handle succeeded")
	}
}

func TestSofficeEngine_PingDetectsMissingProfile(t *testing.T) {
	e, _ := startFake(t, "ok", WordLike)

	if err := os.RemoveAll(e.ProfileDir()); err != nil {
		t.Fatal(err)
	}
	if err := e.Ping(); !errors.Is(err, ErrEngineLost) {
		t.Errorf("Ping() error = %v, want ErrEngineLost", err)
	}
}

func TestSofficeEngine_Quit(t *testing.T) {
	e, _ := startFake(t, "ok", WordLike)

	if err := e.Quit(); err != nil {
		t.Fatalf("Quit() error = %v", err)
	}
	if _, err := os.Stat(e.ProfileDir()); !os.IsNotExist(err) {
		t.Error("profile still present after Quit()")
	}
	if err := e.Ping(); err == nil {
		t.Error("Ping() after Quit() succeeded")
	}
	if _, err := e.OpenDocument(writeDoc(t, "a.docx", ooxml())); err == nil {
		t.Error("OpenDocument() after Quit() succeeded")
	}
}

func TestSofficeEngine_QuitDuringExport(t *testing.T) {
	e, _ := startFake(t, "hang", WordLike)

	h, err := e.OpenDocument(writeDoc(t, "slow.docx", ooxml()))
	if err != nil {
		t.Fatalf("OpenDocument() error = %v", err)
	}
	out := filepath.Join(t.TempDir(), "slow.pdf")

	done := make(chan error, 1)
	go func() { done <- e.SaveAsPDF(h, out) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		e.mu.Lock()
		started := e.running != nil
		e.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("soffice child never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := e.Quit(); err != nil {
		t.Fatalf("Quit() error = %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("SaveAsPDF() succeeded after Quit()")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("SaveAsPDF() still running after Quit()")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output %s exists after Quit(), stat err = %v", out, err)
	}
}

func TestFileURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"/tmp/profiles/worker-1-word/user", "file:///tmp/profiles/worker-1-word/user"},
		{"/tmp/with space/user", "file:///tmp/with%20space/user"},
	}
	for _, tt := range tests {
		if got := fileURL(tt.path); got != tt.want {
			t.Errorf("fileURL(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
