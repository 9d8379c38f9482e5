package office2pdf

import (
	"errors"
	"fmt"
)

// Sentinel errors for library operations.
var (
	// Client input errors. Requests failing with these are rejected before staging.
	ErrValidation           = errors.New("invalid conversion request")
	ErrNoFile               = fmt.Errorf("%w: no file part", ErrValidation)
	ErrEmptyFilename        = fmt.Errorf("%w: no selected file", ErrValidation)
	ErrUnsupportedExtension = fmt.Errorf("%w: unsupported file type", ErrValidation)

	// Server-side failures.
	ErrStagingIO     = errors.New("staging I/O failed")
	ErrEngineInit    = errors.New("failed to start conversion engine")
	ErrDocumentOpen  = errors.New("engine could not open document")
	ErrConversion    = errors.New("PDF conversion failed")
	ErrEngineTimeout = fmt.Errorf("%w: engine call timed out", ErrConversion)

	// ErrEngineLost is returned by Engine implementations when the failure
	// concerns the engine itself (crashed process, broken profile) rather than
	// the document being processed.
	ErrEngineLost = errors.New("conversion engine is no longer usable")

	ErrPoolClosed = errors.New("converter is closed")
)

// Stage names the last state a conversion reached.
type Stage string

const (
	StageValidate Stage = "validate"
	StageStage    Stage = "stage"
	StageAcquire  Stage = "acquire"
	StageOpen     Stage = "open"
	StageExport   Stage = "export"
	StageClose    Stage = "close"
	StageRead     Stage = "read"
	StageCleanup  Stage = "cleanup"
)

// PipelineError carries enough context to reproduce a failed conversion.
// It unwraps to one of the sentinel errors above.
type PipelineError struct {
	Stage    Stage
	Kind     DocumentKind
	Filename string
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s %q (%s): %v", e.Stage, e.Filename, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// StageOf returns the stage recorded in err, or "" when err carries none.
func StageOf(err error) Stage {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	if IsClientError(err) {
		return StageValidate
	}
	return ""
}
