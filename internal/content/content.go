// Package content defines the Provider abstraction over the repository that
// stores tool listings (tools/index.json, tools/{id}/meta.json and
// tools/{id}/README.md) and the registry of provider implementations.
package content

import "context"

// Well-known paths inside the content repository.
const (
	IndexPath = "tools/index.json"
)

// MetaPath returns the metadata file path for a tool id.
func MetaPath(id string) string {
	return "tools/" + id + "/meta.json"
}

// ReadmePath returns the documentation file path for a tool id.
func ReadmePath(id string) string {
	return "tools/" + id + "/README.md"
}

// FileChange is a single file write inside a commit.
type FileChange struct {
	Path    string
	Content []byte
}

// Provider reads and writes files on the configured branch of the content
// repository.
//
// Writes are compare-and-swap against a revision: callers read at the
// revision returned by Head, derive their changes, and pass that revision as
// the commit base. If anything else landed on the branch in between, Commit
// fails with ErrConflict and writes nothing.
type Provider interface {
	// Kind returns the provider kind ("github", "local")
	Kind() string

	// Head returns the revision the branch currently points at.
	Head(ctx context.Context) (string, error)

	// GetFile returns the raw contents of path at the branch tip. It returns
	// an error wrapping ErrFileNotFound when the file does not exist.
	GetFile(ctx context.Context, path string) ([]byte, error)

	// GetFileAt is GetFile as of revision rev. Providers that keep no history
	// fail with ErrConflict once rev is no longer the head.
	GetFileAt(ctx context.Context, rev, path string) ([]byte, error)

	// Commit writes every change as one unit on top of base. It fails with
	// ErrConflict when the branch no longer points at base. Implementations
	// that cannot write atomically apply changes in slice order.
	Commit(ctx context.Context, base, message string, changes []FileChange) error
}
