package reindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/strand-jobs/pkg/security"
)

func TestDirSource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "go"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "go", "select.md"), []byte("# Select"), 0o644))

	src := DirSource{Root: root}
	ctx := context.Background()

	got, err := src.ReadStrand(ctx, "go/select.md")
	require.NoError(t, err)
	assert.Equal(t, "# Select", string(got))

	got, err = src.ReadStrand(ctx, "go/../go/./select.md")
	require.NoError(t, err)
	assert.Equal(t, "# Select", string(got))

	_, err = src.ReadStrand(ctx, "go/missing.md")
	assert.ErrorIs(t, err, ErrStrandNotFound)

	for _, bad := range []string{"../secret.md", "/etc/passwd", ""} {
		_, err = src.ReadStrand(ctx, bad)
		assert.ErrorIs(t, err, security.ErrInvalidStrandPath, bad)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = src.ReadStrand(cancelled, "go/select.md")
	assert.ErrorIs(t, err, context.Canceled)
}
