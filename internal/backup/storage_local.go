package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorageProvider mirrors artifacts into a second directory.
type LocalStorageProvider struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStorageProvider creates a directory mirror rooted at config.Path
// joined with prefix.
func NewLocalStorageProvider(config LocalConfig, prefix string) (*LocalStorageProvider, error) {
	if config.Path == "" {
		return nil, NewStorageError("local mirror path is required", nil)
	}

	provider := &LocalStorageProvider{
		basePath:    filepath.Join(config.Path, filepath.FromSlash(prefix)),
		permissions: 0o755,
	}
	if err := os.MkdirAll(provider.basePath, provider.permissions); err != nil {
		return nil, NewStorageError("failed to create mirror directory", err)
	}
	return provider, nil
}

// Upload copies an artifact into the mirror directory. The copy is written to
// a temporary file first so a partial upload never carries an artifact name.
func (lsp *LocalStorageProvider) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	if !IsArtifactName(name) {
		return NewStorageError(fmt.Sprintf("refusing to mirror non-artifact file %q", name), nil)
	}

	tmp, err := os.CreateTemp(lsp.basePath, ".upload-*.tmp")
	if err != nil {
		return NewStorageError("failed to create mirror file", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to copy %s to mirror", name), err)
	}
	if size >= 0 && written != size {
		return NewStorageError(fmt.Sprintf("mirror copy of %s is %d bytes, expected %d", name, written, size), nil)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(lsp.basePath, name)); err != nil {
		return NewStorageError(fmt.Sprintf("failed to finalize mirror copy of %s", name), err)
	}
	return nil
}

// Delete removes a mirrored artifact. Missing files are not an error.
func (lsp *LocalStorageProvider) Delete(ctx context.Context, name string) error {
	if err := os.Remove(filepath.Join(lsp.basePath, filepath.Base(name))); err != nil && !os.IsNotExist(err) {
		return NewStorageError(fmt.Sprintf("failed to delete mirrored %s", name), err)
	}
	return nil
}

// List returns the mirrored artifact names.
func (lsp *LocalStorageProvider) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(lsp.basePath)
	if err != nil {
		return nil, NewStorageError("failed to read mirror directory", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && IsArtifactName(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Location returns the mirror path of an artifact.
func (lsp *LocalStorageProvider) Location(name string) string {
	return filepath.Join(lsp.basePath, name)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
