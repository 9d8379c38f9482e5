package office2pdf

import (
	"io"
	"time"
)

// ConversionRequest is one uploaded document waiting to be converted.
type ConversionRequest struct {
	// Filename is the name supplied by the client, used for the output name
	// and, sanitized, for the staged path.
	Filename string

	// Kind is resolved once at the boundary with KindFromFilename.
	Kind DocumentKind

	// Body is the raw document content.
	Body io.Reader
}

// ConversionResult is the PDF produced for one request.
type ConversionResult struct {
	PDF      []byte
	Filename string // input basename + ".pdf"

	// Pages is the page count reported by pdfcpu, or 0 when verification is off.
	Pages    int
	Worker   WorkerKey
	Duration time.Duration
}

// StagedFile is a uniquely named file living for the duration of one conversion.
type StagedFile struct {
	ID        string
	Path      string // absolute
	Partition string // YYYY/MM/DD
	Kind      DocumentKind
	CreatedAt time.Time
	Size      int64
}
