package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	office2pdf "github.com/alnah/go-office2pdf"
	"github.com/alnah/go-office2pdf/internal/config"
	"github.com/alnah/go-office2pdf/internal/hints"
)

// Exit codes for the office2pdf CLI.
// Follows Unix conventions: 0=success, 1=general, 2=usage, and custom codes < 126.
const (
	ExitSuccess = 0 // Success
	ExitGeneral = 1 // General/unexpected error
	ExitUsage   = 2 // Invalid flags, config, or input
	ExitIO      = 3 // File not found, permission denied, staging
	ExitEngine  = 4 // LibreOffice errors
)

// ErrUsage marks invalid command-line usage.
var ErrUsage = errors.New("invalid usage")

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// exitCodeFor returns the appropriate exit code for an error.
// It uses errors.Is to check wrapped errors, so callers must use fmt.Errorf("%w", err).
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	// Engine errors (exit 4)
	if errors.Is(err, office2pdf.ErrEngineInit) ||
		errors.Is(err, office2pdf.ErrEngineLost) ||
		errors.Is(err, office2pdf.ErrDocumentOpen) ||
		errors.Is(err, office2pdf.ErrConversion) {
		return ExitEngine
	}

	// I/O errors (exit 3)
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, office2pdf.ErrStagingIO) ||
		errors.Is(err, ErrWritePDF) {
		return ExitIO
	}

	// Usage/config/validation errors (exit 2)
	if errors.Is(err, ErrUsage) ||
		errors.Is(err, ErrNoInput) ||
		errors.Is(err, ErrOutputCollision) ||
		errors.Is(err, config.ErrConfigNotFound) ||
		errors.Is(err, config.ErrConfigParse) ||
		errors.Is(err, config.ErrInvalidConfig) ||
		errors.Is(err, config.ErrEmptyConfigName) ||
		errors.Is(err, office2pdf.ErrValidation) {
		return ExitUsage
	}

	return ExitGeneral
}

// hintFor returns an actionable hint for err, or "".
// Batch failures print their hints per file.
func hintFor(err error) string {
	switch {
	case errors.Is(err, ErrBatchFailed):
		return ""
	case errors.Is(err, office2pdf.ErrEngineTimeout):
		return hints.ForEngineTimeout()
	case errors.Is(err, office2pdf.ErrEngineInit):
		return hints.ForEngineStart()
	case errors.Is(err, config.ErrConfigNotFound):
		return hints.ForConfigNotFound(userConfigCandidates())
	case errors.Is(err, office2pdf.ErrStagingIO):
		return hints.ForStagingDirectory()
	case errors.Is(err, office2pdf.ErrUnsupportedExtension):
		return hints.ForUnsupportedFile(office2pdf.SupportedExtensions())
	}
	return ""
}

func userConfigCandidates() []string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(dir, config.AppName, "config.yaml")}
}
