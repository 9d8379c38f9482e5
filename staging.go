package office2pdf

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/alnah/go-office2pdf/internal/fileutil"
)

// Stager places uploads and engine outputs under a date-partitioned tree:
//
//	<root>/<YYYY>/<MM>/<DD>/<uuid>-<sanitized-name>
//
// A fresh random id prefixes every name, so concurrent requests for identical
// filenames never collide and no locking is needed.
type Stager struct {
	root   string
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewStager creates a Stager rooted at root. The root is made absolute so
// staged paths can be handed to an engine running in another directory.
func NewStager(root string, logger *slog.Logger) (*Stager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving staging root: %v", ErrStagingIO, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stager{
		root:   abs,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger,
	}, nil
}

// Root returns the absolute staging root.
func (s *Stager) Root() string {
	return s.root
}

// Stage writes r to a new unique path. A partially written file is removed
// before the error is returned.
func (s *Stager) Stage(kind DocumentKind, filename string, r io.Reader) (*StagedFile, error) {
	sf, err := s.allocate(kind, filename)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(sf.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileutil.FilePermissions) // #nosec G304 -- path built from sanitized name
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrStagingIO, sf.Path, err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = fileutil.RemoveIfExists(sf.Path)
		return nil, fmt.Errorf("%w: writing %s: %v", ErrStagingIO, sf.Path, err)
	}
	sf.Size = n

	s.logger.Debug("stage", "kind", kind.String(), "path", sf.Path, "bytes", n)
	return sf, nil
}

// Reserve allocates a unique path for a file an engine will produce.
// Directories exist on return; the file itself does not.
func (s *Stager) Reserve(kind DocumentKind, filename string) (*StagedFile, error) {
	return s.allocate(kind, filename)
}

// Release deletes the staged file. A missing file is fine; other failures are
// logged and swallowed so cleanup never fails a response.
func (s *Stager) Release(sf *StagedFile) {
	if sf == nil {
		return
	}
	if err := fileutil.RemoveIfExists(sf.Path); err != nil {
		s.logger.Warn("cleanup failed", "path", sf.Path, "error", err)
		return
	}
	s.logger.Debug("cleanup", "path", sf.Path)
}

func (s *Stager) allocate(kind DocumentKind, filename string) (*StagedFile, error) {
	now := s.now()
	partition := now.Format("2006/01/02")
	dir := filepath.Join(s.root, filepath.FromSlash(partition))
	if err := os.MkdirAll(dir, fileutil.DirPermissions); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrStagingIO, dir, err)
	}

	id := s.newID()
	return &StagedFile{
		ID:        id,
		Path:      filepath.Join(dir, id+"-"+fileutil.SanitizeName(filename)),
		Partition: partition,
		Kind:      kind,
		CreatedAt: now,
	}, nil
}
