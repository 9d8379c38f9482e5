package office2pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alnah/go-office2pdf/internal/fileutil"
	"github.com/alnah/go-office2pdf/internal/process"
)

// DefaultSofficeBinary is looked up in PATH when no binary is configured.
const DefaultSofficeBinary = "soffice"

const defaultStartTimeout = 2 * time.Minute

// LibreOffice export filters. Calc needs its own filter: the writer and
// impress filters do not paginate sheets.
const (
	filterWriterPDF  = "pdf:writer_pdf_Export"
	filterImpressPDF = "pdf:impress_pdf_Export"
	filterCalcPDF    = `pdf:calc_pdf_Export:{"SinglePageSheets":{"type":"boolean","value":"false"}}`
)

// Container signatures checked before a document is accepted.
var (
	sigOOXML = []byte("PK\x03\x04")
	sigOLE2  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

var signatureByExtension = map[string][]byte{
	".docx": sigOOXML,
	".xlsx": sigOOXML,
	".pptx": sigOOXML,
	".doc":  sigOLE2,
	".xls":  sigOLE2,
	".ppt":  sigOLE2,
}

// SofficeOptions configures LibreOffice engines.
type SofficeOptions struct {
	// Binary is the soffice executable name or path (default "soffice").
	Binary string

	// ProfileRoot holds one private user profile per engine
	// (default <tmp>/office2pdf/profiles).
	ProfileRoot string

	// StartTimeout bounds the profile warm-up run (default 2m).
	StartTimeout time.Duration

	// SkipWarmUp starts engines without initializing the profile up front;
	// the first conversion then pays the initialization cost.
	SkipWarmUp bool

	Logger *slog.Logger
}

// NewSofficeFactory returns an EngineFactory starting one LibreOffice engine
// per (worker, kind), each with its own user profile so concurrent engines
// never contend for LibreOffice's profile lock.
func NewSofficeFactory(opts SofficeOptions) EngineFactory {
	return func(worker WorkerKey, kind DocumentKind) (Engine, error) {
		return StartSoffice(opts, worker, kind)
	}
}

// SofficeEngine drives headless LibreOffice. Each export runs soffice in its
// own process group against the engine's private profile; the profile stays
// warm between requests.
type SofficeEngine struct {
	bin        string
	kind       DocumentKind
	profileDir string
	profileURL string
	workDir    string
	logger     *slog.Logger

	seq int // only touched by the owning worker

	// mu guards state shared with Quit, which may run while an abandoned
	// call is still executing.
	mu      sync.Mutex
	running *exec.Cmd
	broken  error
	quit    bool
}

// sofficeDocument is an open document: a private copy inside the engine's
// work area.
type sofficeDocument struct {
	dir  string
	path string
	kind DocumentKind
}

// StartSoffice creates and warms up an engine for worker and kind.
func StartSoffice(opts SofficeOptions, worker WorkerKey, kind DocumentKind) (*SofficeEngine, error) {
	name := opts.Binary
	if name == "" {
		name = DefaultSofficeBinary
	}
	bin, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
	}

	root := opts.ProfileRoot
	if root == "" {
		root = filepath.Join(os.TempDir(), "office2pdf", "profiles")
	}
	profileDir, err := filepath.Abs(filepath.Join(root, fmt.Sprintf("%s-%s", worker, kind)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
	}

	// A recreated engine never inherits a profile a crashed one left behind.
	if err := os.RemoveAll(profileDir); err != nil {
		return nil, fmt.Errorf("%w: clearing profile: %v", ErrEngineInit, err)
	}
	workDir := filepath.Join(profileDir, "work")
	if err := os.MkdirAll(workDir, fileutil.DirPermissions); err != nil {
		return nil, fmt.Errorf("%w: creating profile: %v", ErrEngineInit, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &SofficeEngine{
		bin:        bin,
		kind:       kind,
		profileDir: profileDir,
		profileURL: fileURL(filepath.Join(profileDir, "user")),
		workDir:    workDir,
		logger:     logger.With("worker", string(worker), "kind", kind.String()),
	}

	if !opts.SkipWarmUp {
		timeout := opts.StartTimeout
		if timeout <= 0 {
			timeout = defaultStartTimeout
		}
		if err := e.warmUp(timeout); err != nil {
			_ = os.RemoveAll(profileDir)
			return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
		}
	}

	e.logger.Info("engine started", "binary", bin, "profile", profileDir)
	return e, nil
}

// OpenDocument opens a word-processing document.
func (e *SofficeEngine) OpenDocument(path string) (Handle, error) {
	return e.open(path, WordLike)
}

// OpenWorkbook opens a spreadsheet.
func (e *SofficeEngine) OpenWorkbook(path string) (Handle, error) {
	return e.open(path, SpreadsheetLike)
}

// OpenPresentation opens a slide deck.
func (e *SofficeEngine) OpenPresentation(path string) (Handle, error) {
	return e.open(path, PresentationLike)
}

// SaveAsPDF exports word-like and presentation-like documents.
func (e *SofficeEngine) SaveAsPDF(h Handle, outPath string) error {
	doc, err := e.document(h)
	if err != nil {
		return err
	}
	switch doc.kind {
	case WordLike:
		return e.export(doc, filterWriterPDF, outPath)
	case PresentationLike:
		return e.export(doc, filterImpressPDF, outPath)
	default:
		return fmt.Errorf("save-as PDF does not support %s documents", doc.kind)
	}
}

// ExportAsFixedFormat exports spreadsheets through the Calc PDF filter.
func (e *SofficeEngine) ExportAsFixedFormat(h Handle, outPath string) error {
	doc, err := e.document(h)
	if err != nil {
		return err
	}
	if doc.kind != SpreadsheetLike {
		return fmt.Errorf("fixed-format export does not support %s documents", doc.kind)
	}
	return e.export(doc, filterCalcPDF, outPath)
}

// Close drops the engine's private copy of the document. Headless export
// never writes back to the copy, so keeping changes is not supported.
func (e *SofficeEngine) Close(h Handle, discardChanges bool) error {
	doc, err := e.document(h)
	if err != nil {
		return err
	}
	if !discardChanges {
		return fmt.Errorf("keeping changes: %w", errors.ErrUnsupported)
	}
	return os.RemoveAll(doc.dir)
}

// Ping fails once a child crashed, the engine was shut down, or the profile
// or binary disappeared.
func (e *SofficeEngine) Ping() error {
	e.mu.Lock()
	broken, quit := e.broken, e.quit
	e.mu.Unlock()

	switch {
	case quit:
		return fmt.Errorf("%w: engine shut down", ErrEngineLost)
	case broken != nil:
		return fmt.Errorf("%w: %v", ErrEngineLost, broken)
	case !fileutil.DirExists(e.workDir):
		return fmt.Errorf("%w: profile %s missing", ErrEngineLost, e.profileDir)
	case !fileutil.FileExists(e.bin):
		return fmt.Errorf("%w: binary %s missing", ErrEngineLost, e.bin)
	}
	return nil
}

// Quit kills a running child, if any, and removes the profile.
func (e *SofficeEngine) Quit() error {
	e.mu.Lock()
	e.quit = true
	if e.running != nil && e.running.Process != nil {
		process.KillProcessGroup(e.running.Process.Pid)
	}
	e.mu.Unlock()

	e.logger.Info("engine stopped", "profile", e.profileDir)
	return os.RemoveAll(e.profileDir)
}

// ProfileDir returns the engine's private profile directory.
func (e *SofficeEngine) ProfileDir() string {
	return e.profileDir
}

func (e *SofficeEngine) open(path string, want DocumentKind) (Handle, error) {
	if want != e.kind {
		return nil, fmt.Errorf("engine for %s documents cannot open %s documents", e.kind, want)
	}
	e.mu.Lock()
	quit := e.quit
	e.mu.Unlock()
	if quit {
		return nil, fmt.Errorf("%w: engine shut down", ErrEngineLost)
	}

	ext := strings.ToLower(filepath.Ext(path))
	sig, ok := signatureByExtension[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported extension %q", ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%s is empty", filepath.Base(path))
	}
	if !fileutil.HasPrefix(path, sig) {
		return nil, fmt.Errorf("%s is not a valid %s container", filepath.Base(path), ext)
	}

	e.seq++
	dir := filepath.Join(e.workDir, "doc-"+strconv.Itoa(e.seq))
	if err := os.MkdirAll(dir, fileutil.DirPermissions); err != nil {
		return nil, err
	}
	docPath := filepath.Join(dir, filepath.Base(path))
	if err := fileutil.CopyFile(path, docPath); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	return &sofficeDocument{dir: dir, path: docPath, kind: want}, nil
}

func (e *SofficeEngine) export(doc *sofficeDocument, filter, outPath string) error {
	outDir := filepath.Join(doc.dir, "out")
	if err := os.MkdirAll(outDir, fileutil.DirPermissions); err != nil {
		return err
	}

	output, err := e.run(context.Background(),
		"--convert-to", filter,
		"--outdir", outDir,
		doc.path,
	)
	if err != nil {
		return err
	}

	e.mu.Lock()
	quit := e.quit
	e.mu.Unlock()
	if quit {
		return fmt.Errorf("%w: engine shut down during export", ErrEngineLost)
	}

	base := strings.TrimSuffix(filepath.Base(doc.path), filepath.Ext(doc.path))
	produced := filepath.Join(outDir, base+".pdf")
	if !fileutil.FileExists(produced) {
		return fmt.Errorf("soffice produced no output: %s", lastLine(output))
	}
	return moveFile(produced, outPath)
}

func (e *SofficeEngine) warmUp(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := e.run(ctx, "--terminate_after_init"); err != nil {
		return fmt.Errorf("warming up profile: %w", err)
	}
	return nil
}

// run executes soffice against the engine profile. ctx cancellation kills
// the whole process group.
func (e *SofficeEngine) run(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{
		"--headless",
		"--invisible",
		"--norestore",
		"--nologo",
		"--nodefault",
		"--nolockcheck",
		"-env:UserInstallation=" + e.profileURL,
	}, args...)

	cmd := exec.Command(e.bin, full...) // #nosec G204 -- binary from trusted config
	process.Isolate(cmd)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	e.mu.Lock()
	if e.quit {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: engine shut down", ErrEngineLost)
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		e.markBroken(err)
		return nil, fmt.Errorf("%w: starting soffice: %v", ErrEngineLost, err)
	}
	e.running = cmd
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		process.KillProcessGroup(cmd.Process.Pid)
	})
	err := cmd.Wait()
	stop()

	e.mu.Lock()
	e.running = nil
	e.mu.Unlock()

	if err == nil {
		return out.Bytes(), nil
	}
	if ctx.Err() != nil {
		return out.Bytes(), fmt.Errorf("soffice: %w", ctx.Err())
	}
	if process.Crashed(err) {
		e.markBroken(err)
		return out.Bytes(), fmt.Errorf("%w: soffice crashed: %v", ErrEngineLost, err)
	}
	return out.Bytes(), fmt.Errorf("soffice: %v: %s", err, lastLine(out.Bytes()))
}

func (e *SofficeEngine) markBroken(err error) {
	e.mu.Lock()
	if e.broken == nil {
		e.broken = err
	}
	e.mu.Unlock()
}

func (e *SofficeEngine) document(h Handle) (*sofficeDocument, error) {
	doc, ok := h.(*sofficeDocument)
	if !ok || doc == nil {
		return nil, fmt.Errorf("handle %T was not issued by a soffice engine", h)
	}
	return doc, nil
}

// fileURL turns an absolute path into the file URL form soffice expects
// for -env:UserInstallation, including on Windows drive paths.
func fileURL(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// moveFile renames src to dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := fileutil.CopyFile(src, dst); err != nil {
		return err
	}
	return fileutil.RemoveIfExists(src)
}

func lastLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "no output"
	}
	return s
}
