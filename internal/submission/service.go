package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcp-directory/mcp-directory/internal/catalog"
	"github.com/mcp-directory/mcp-directory/internal/content"
	"github.com/mcp-directory/mcp-directory/internal/safego"
	"github.com/mcp-directory/mcp-directory/internal/telemetry"
)

// DefaultAuthor is recorded on submitted tools when none is configured.
const DefaultAuthor = "Community"

// maxCommitAttempts bounds retries when the branch moved under a commit.
const maxCommitAttempts = 3

// Refresher is notified after a successful submission. *cache.Cache implements it.
type Refresher interface {
	TriggerRefresh() *safego.Task
}

// Result describes a stored submission.
type Result struct {
	ToolID string
	// Updated is true when the id already existed in the category and the
	// stored record was overwritten.
	Updated bool
	Tool    *catalog.Tool
}

// Options configures a Service.
type Options struct {
	DefaultAuthor string
	Now           func() time.Time
}

// Service stores submissions through a content provider.
type Service struct {
	provider  content.Provider
	refresher Refresher
	author    string
	now       func() time.Time

	// Serialises the index read-modify-write within this process; writers
	// elsewhere are caught by the commit base check.
	mu sync.Mutex
}

// NewService creates a submission service. refresher may be nil.
func NewService(provider content.Provider, refresher Refresher, opts Options) *Service {
	s := &Service{
		provider:  provider,
		refresher: refresher,
		author:    opts.DefaultAuthor,
		now:       opts.Now,
	}
	if s.author == "" {
		s.author = DefaultAuthor
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Submit validates form, writes the tool's metadata, README and the updated
// index as one commit, then asks for a catalog refresh. Re-submitting a title
// that maps to an existing id in the same category overwrites that tool.
func (s *Service) Submit(ctx context.Context, form Form) (*Result, error) {
	form.Normalize()
	id, err := form.Validate()
	if err != nil {
		telemetry.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res *Result
	for attempt := 1; ; attempt++ {
		res, err = s.commit(ctx, form, id)
		if err == nil || !errors.Is(err, content.ErrConflict) || attempt == maxCommitAttempts {
			break
		}
		slog.Warn("content branch moved during submission, retrying", "tool_id", id, "attempt", attempt)
	}
	if err != nil {
		telemetry.SubmissionsTotal.WithLabelValues("error").Inc()
		slog.Error("tool submission failed", "tool_id", id, "error", err)
		return nil, err
	}

	if res.Updated {
		telemetry.SubmissionsTotal.WithLabelValues("updated").Inc()
	} else {
		telemetry.SubmissionsTotal.WithLabelValues("created").Inc()
	}
	slog.Info("tool submitted", "tool_id", id, "category", form.Category, "updated", res.Updated)

	if s.refresher != nil {
		s.refresher.TriggerRefresh()
	}
	return res, nil
}

// commit reads the index at the branch head and commits on top of that same
// head, so a write that lands in between surfaces as content.ErrConflict.
func (s *Service) commit(ctx context.Context, form Form, id string) (*Result, error) {
	base, err := s.provider.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve content head: %w", err)
	}
	ix, err := s.loadIndex(ctx, base)
	if err != nil {
		return nil, err
	}
	updated := ix.Upsert(form.Category, id)

	tool := BuildTool(form, id, s.author, s.now())
	meta, err := encodeMeta(tool)
	if err != nil {
		return nil, err
	}
	index, err := ix.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}

	message := "Add new tool: " + form.Title
	if updated {
		message = "Update tool: " + form.Title
	}
	// Index last: a partial write by a non-atomic provider never lists a
	// tool whose files are missing.
	changes := []content.FileChange{
		{Path: content.MetaPath(id), Content: meta},
		{Path: content.ReadmePath(id), Content: Readme(form.Title, form.Description)},
		{Path: content.IndexPath, Content: index},
	}
	if err := s.provider.Commit(ctx, base, message, changes); err != nil {
		return nil, fmt.Errorf("commit tool %s: %w", id, err)
	}
	return &Result{ToolID: id, Updated: updated, Tool: tool}, nil
}

// loadIndex reads the index at rev. A repository without an index starts
// from an empty one.
func (s *Service) loadIndex(ctx context.Context, rev string) (*catalog.Index, error) {
	data, err := s.provider.GetFileAt(ctx, rev, content.IndexPath)
	if errors.Is(err, content.ErrFileNotFound) {
		slog.Info("no tool index found, starting a new one")
		return &catalog.Index{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	ix, err := catalog.ParseIndex(data)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return ix, nil
}
