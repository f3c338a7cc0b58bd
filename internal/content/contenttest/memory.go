// Package contenttest provides an in-memory content.Provider for tests.
package contenttest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/mcp-directory/mcp-directory/internal/content"
)

// Commit records one call to Memory.Commit.
type Commit struct {
	Base    string
	Message string
	Changes []content.FileChange
}

// Memory is a concurrency-safe content.Provider backed by a map. It keeps no
// history: every commit, Set or Delete advances the revision, and reads at
// an older revision fail with content.ErrConflict.
type Memory struct {
	mu      sync.Mutex
	rev     int
	files   map[string][]byte
	fail    map[string]error
	gets    map[string]int
	commits []Commit

	// CommitErr, when set, fails every Commit without writing.
	CommitErr error
	// OnGet, when set, runs before every GetFile outside the lock. Tests use
	// it to block fetches or observe concurrency.
	OnGet func(ctx context.Context, path string)
}

// NewMemory returns a provider holding files (path to contents).
func NewMemory(files map[string]string) *Memory {
	m := &Memory{
		files: make(map[string][]byte),
		fail:  make(map[string]error),
		gets:  make(map[string]int),
	}
	for p, c := range files {
		m.files[p] = []byte(c)
	}
	return m
}

// Kind returns "memory"
func (m *Memory) Kind() string { return "memory" }

func (m *Memory) revision() string {
	return "r" + strconv.Itoa(m.rev)
}

// Head returns the current revision.
func (m *Memory) Head(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision(), nil
}

// GetFile returns the stored file, an injected failure or content.ErrFileNotFound.
func (m *Memory) GetFile(ctx context.Context, path string) ([]byte, error) {
	return m.GetFileAt(ctx, "", path)
}

// GetFileAt is GetFile pinned to rev. An empty rev reads the current files.
func (m *Memory) GetFileAt(ctx context.Context, rev, path string) ([]byte, error) {
	if m.OnGet != nil {
		m.OnGet(ctx, path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets[path]++
	if err, ok := m.fail[path]; ok {
		return nil, err
	}
	if rev != "" && rev != m.revision() {
		return nil, fmt.Errorf("memory: read %s at %s, head is %s: %w", path, rev, m.revision(), content.ErrConflict)
	}
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("memory: %s: %w", path, content.ErrFileNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Commit stores every change when base is the current revision or empty.
func (m *Memory) Commit(ctx context.Context, base, message string, changes []content.FileChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommitErr != nil {
		return m.CommitErr
	}
	if base != "" && base != m.revision() {
		return fmt.Errorf("memory: commit on %s, head is %s: %w", base, m.revision(), content.ErrConflict)
	}
	m.rev++
	copied := make([]content.FileChange, len(changes))
	for i, c := range changes {
		copied[i] = content.FileChange{Path: c.Path, Content: append([]byte(nil), c.Content...)}
		m.files[c.Path] = copied[i].Content
	}
	m.commits = append(m.commits, Commit{Base: base, Message: message, Changes: copied})
	return nil
}

// Set stores a file as an out-of-band change, advancing the revision.
func (m *Memory) Set(path, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = []byte(data)
	m.rev++
}

// Delete removes a file, advancing the revision.
func (m *Memory) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	m.rev++
}

// Fail makes GetFile(path) return err until cleared with Fail(path, nil).
func (m *Memory) Fail(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, path)
		return
	}
	m.fail[path] = err
}

// File returns a stored file and whether it exists.
func (m *Memory) File(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	return string(data), ok
}

// Gets returns how many times path was read.
func (m *Memory) Gets(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets[path]
}

// Commits returns the recorded commits.
func (m *Memory) Commits() []Commit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Commit(nil), m.commits...)
}
