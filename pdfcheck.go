package office2pdf

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// verifyPDF parses the engine output with pdfcpu and returns its page count.
// An unparsable file is a document-level conversion failure.
func verifyPDF(path string) (int, error) {
	pages, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: output is not a valid PDF: %v", ErrConversion, err)
	}
	if pages < 1 {
		return 0, fmt.Errorf("%w: output PDF has no pages", ErrConversion)
	}
	return pages, nil
}
