// Package local implements content.Provider over a directory on disk laid out
// like the content repository. It is intended for development, tests and
// single-node deployments that sync the repository out of band.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mcp-directory/mcp-directory/internal/config"
	"github.com/mcp-directory/mcp-directory/internal/content"
)

func init() {
	content.Register("local", func(cfg *config.ContentConfig) (content.Provider, error) {
		return New(cfg.Local.BasePath)
	})
}

// Provider implements content.Provider for a local directory. Revisions
// count the commits made through this Provider value; edits made to the
// directory by other processes are not tracked.
type Provider struct {
	basePath string
	// mu serialises commits against each other and against pinned reads
	mu  sync.RWMutex
	gen uint64
}

// New creates a local provider rooted at basePath, creating it if needed.
func New(basePath string) (*Provider, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local: base path is required")
	}
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("local: failed to create content directory: %w", err)
	}
	return &Provider{basePath: basePath}, nil
}

// Kind returns the provider kind
func (p *Provider) Kind() string { return "local" }

func (p *Provider) revision() string {
	return strconv.FormatUint(p.gen, 10)
}

// Head returns the number of commits made so far.
func (p *Provider) Head(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.revision(), nil
}

// GetFile reads a file relative to the base path
func (p *Provider) GetFile(ctx context.Context, name string) ([]byte, error) {
	return p.GetFileAt(ctx, "", name)
}

// GetFileAt reads name while rev is still the head. Older revisions are not
// kept, so reading one fails with content.ErrConflict.
func (p *Provider) GetFileAt(ctx context.Context, rev, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if rev != "" && rev != p.revision() {
		return nil, fmt.Errorf("local: read %s at revision %s, head is %s: %w", name, rev, p.revision(), content.ErrConflict)
	}
	full, err := p.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("local: %s: %w", name, content.ErrFileNotFound)
		}
		return nil, fmt.Errorf("local: read %s: %w", name, err)
	}
	return data, nil
}

// Commit writes each change through a temp file and rename, in slice order.
// Callers order changes so that a partial failure leaves no reference to a
// file that was never written.
func (p *Provider) Commit(ctx context.Context, base, message string, changes []content.FileChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if base != "" && base != p.revision() {
		return fmt.Errorf("local: commit on revision %s, head is %s: %w", base, p.revision(), content.ErrConflict)
	}

	for _, c := range changes {
		if _, err := p.resolve(c.Path); err != nil {
			return err
		}
	}
	for _, c := range changes {
		if err := ctx.Err(); err != nil {
			return err
		}
		full, _ := p.resolve(c.Path)
		if err := writeFileAtomic(full, c.Content); err != nil {
			return fmt.Errorf("local: write %s: %w", c.Path, err)
		}
	}
	p.gen++
	return nil
}

// resolve maps a slash-separated repository path to a filesystem path,
// rejecting anything that would escape the base path.
func (p *Provider) resolve(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: %q", content.ErrInvalidPath, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", content.ErrInvalidPath, name)
	}
	return filepath.Join(p.basePath, filepath.FromSlash(clean)), nil
}

func writeFileAtomic(full string, data []byte) error {
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, full)
}
