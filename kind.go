package office2pdf

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DocumentKind selects which native open/export/close sequence applies.
// The set is closed: adding a kind means adding a constant here and its
// operation triple in pipeline.go.
type DocumentKind int

const (
	WordLike DocumentKind = iota + 1
	SpreadsheetLike
	PresentationLike
)

// kindByExtension maps lowercase extensions (without dot) to kinds.
var kindByExtension = map[string]DocumentKind{
	"doc":  WordLike,
	"docx": WordLike,
	"xls":  SpreadsheetLike,
	"xlsx": SpreadsheetLike,
	"ppt":  PresentationLike,
	"pptx": PresentationLike,
}

// String returns the kind name used in logs, metrics and the journal.
func (k DocumentKind) String() string {
	switch k {
	case WordLike:
		return "word"
	case SpreadsheetLike:
		return "spreadsheet"
	case PresentationLike:
		return "presentation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the three known kinds.
func (k DocumentKind) Valid() bool {
	return k >= WordLike && k <= PresentationLike
}

// KindFromFilename resolves the document kind from a filename extension.
// Matching is case-insensitive: "Report.DOCX" and "report.docx" are both WordLike.
func KindFromFilename(filename string) (DocumentKind, error) {
	if strings.TrimSpace(filename) == "" {
		return 0, ErrEmptyFilename
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	kind, ok := kindByExtension[ext]
	if !ok {
		if ext == "" {
			return 0, fmt.Errorf("%w: no extension", ErrUnsupportedExtension)
		}
		return 0, fmt.Errorf("%w: .%s", ErrUnsupportedExtension, ext)
	}
	return kind, nil
}

// SupportedExtensions returns the recognized extensions, dot-prefixed, for
// help text and error hints.
func SupportedExtensions() []string {
	return []string{".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx"}
}

// OutputFilename derives the PDF name from the original upload name:
// the base name with its extension replaced by ".pdf".
func OutputFilename(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "document"
	}
	return base + ".pdf"
}
