package reindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jdziat/strand-jobs/pkg/security"
)

// ErrStrandNotFound is returned when a content source has no such strand.
var ErrStrandNotFound = errors.New("reindex: strand not found")

// DirSource reads strands from a directory tree. Paths are resolved
// relative to Root and may not escape it.
type DirSource struct {
	Root string
}

// ReadStrand returns the raw markdown of strandPath.
func (d DirSource) ReadStrand(ctx context.Context, strandPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := security.CleanStrandPath(strandPath)
	if err != nil {
		return nil, fmt.Errorf("reindex: %q: %w", strandPath, err)
	}
	content, err := os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrStrandNotFound, clean)
	}
	if err != nil {
		return nil, fmt.Errorf("reindex: read %s: %w", clean, err)
	}
	return content, nil
}
