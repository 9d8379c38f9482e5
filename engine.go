package office2pdf

// Handle is an open document inside a native engine. It is opaque to the
// pipeline and only ever passed back to the engine that produced it.
type Handle any

// Engine is the native document-processing capability. Implementations are
// stateful, blocking and not safe for concurrent use: the lease manager
// guarantees a single caller at a time.
//
// Open* return a nil Handle (with or without an error) when the document
// cannot be opened. Any method may wrap ErrEngineLost to report that the
// engine itself, not the document, is broken.
type Engine interface {
	OpenDocument(path string) (Handle, error)
	OpenWorkbook(path string) (Handle, error)
	OpenPresentation(path string) (Handle, error)

	// SaveAsPDF serves word-like and presentation-like documents.
	SaveAsPDF(h Handle, outPath string) error

	// ExportAsFixedFormat serves spreadsheets. It is a distinct entry point
	// because a plain save-as does not lay out formula-driven sheets reliably.
	ExportAsFixedFormat(h Handle, outPath string) error

	// Close releases the open document. discardChanges=true drops any edits.
	Close(h Handle, discardChanges bool) error

	// Ping is a cheap liveness probe.
	Ping() error

	// Quit shuts the engine down. It is best-effort and called at most once.
	Quit() error
}

// EngineFactory starts a new engine dedicated to one worker and one kind.
type EngineFactory func(worker WorkerKey, kind DocumentKind) (Engine, error)
