// Package hints provides actionable error hints for common failure scenarios.
// Hints are formatted consistently as "\n  hint: <text>" for appending to error messages.
package hints

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/alnah/go-office2pdf/internal/fileutil"
)

// IsInContainer detects if running inside a Docker container or similar.
// Checks for /.dockerenv file which Docker creates automatically.
var IsInContainer = func() bool {
	return fileutil.FileExists("/.dockerenv")
}

// ForEngineStart returns hints for LibreOffice start failures.
func ForEngineStart() string {
	var hints []string

	if os.Getenv("OFFICE2PDF_SOFFICE") == "" {
		hints = append(hints, "install LibreOffice or set OFFICE2PDF_SOFFICE to the soffice binary")
	}
	if IsInContainer() {
		hints = append(hints, "in Docker, install libreoffice-writer, libreoffice-calc and libreoffice-impress")
	}

	return formatHints(hints)
}

// ForEngineTimeout returns a hint about raising the engine call timeout.
func ForEngineTimeout() string {
	return format("for large documents, raise engine.callTimeout or use --call-timeout")
}

// ForConfigNotFound returns hints for config file not found errors.
// Suggests --config and creating a config in ~/.config/office2pdf/.
func ForConfigNotFound(searchedPaths []string) string {
	hint := "use --config /path/to/file.yaml"

	marker := filepath.Join(".config", "office2pdf")
	for _, p := range searchedPaths {
		if strings.Contains(p, marker) {
			hint += " or create " + p
			break
		}
	}

	return format(hint)
}

// ForStagingDirectory returns hints for staging or output directory errors.
func ForStagingDirectory() string {
	return format("check staging.root (or OFFICE2PDF_STAGING_ROOT) exists and is writable")
}

// ForUnsupportedFile lists the accepted extensions.
func ForUnsupportedFile(extensions []string) string {
	if len(extensions) == 0 {
		return ""
	}
	return format("supported: " + strings.Join(extensions, ", "))
}

// format creates a single hint string with consistent formatting.
func format(hint string) string {
	if hint == "" {
		return ""
	}
	return "\n  hint: " + hint
}

// formatHints joins multiple hints with consistent formatting.
func formatHints(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	return format(strings.Join(hints, "; "))
}
