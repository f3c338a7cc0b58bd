package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mcp-directory/mcp-directory/internal/content"
	"github.com/mcp-directory/mcp-directory/internal/telemetry"
)

// DefaultConcurrency bounds parallel metadata reads when none is configured.
const DefaultConcurrency = 8

// FetchError reports that the catalog as a whole could not be assembled.
type FetchError struct {
	Path string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch catalog: %s: %v", e.Path, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher reads the catalog from a content provider.
type Fetcher struct {
	provider    content.Provider
	concurrency int
}

// NewFetcher creates a Fetcher. concurrency < 1 uses DefaultConcurrency.
func NewFetcher(provider content.Provider, concurrency int) *Fetcher {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Fetcher{provider: provider, concurrency: concurrency}
}

// FetchIndex reads and parses tools/index.json.
func (f *Fetcher) FetchIndex(ctx context.Context) (*Index, error) {
	data, err := f.provider.GetFile(ctx, content.IndexPath)
	if err != nil {
		return nil, err
	}
	return ParseIndex(data)
}

// FetchCatalog builds a complete Catalog: the index, then every distinct
// tool's metadata in parallel. Categories and tools keep index order no
// matter which fetch finishes first. A tool whose metadata is missing or
// invalid is logged and left out. Any other read error (rate limiting, an
// open breaker, a 5xx) fails the whole fetch so the caller keeps its last
// good catalog instead of publishing a partial one.
func (f *Fetcher) FetchCatalog(ctx context.Context) (*Catalog, error) {
	ix, err := f.FetchIndex(ctx)
	if err != nil {
		return nil, &FetchError{Path: content.IndexPath, Err: err}
	}

	ids := ix.ToolIDs()
	tools := make([]*Tool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			tool, err := f.FetchTool(gctx, id)
			switch {
			case err == nil:
			case errors.Is(err, ErrToolNotFound) || errors.Is(err, ErrInvalidTool):
				slog.Warn("dropping tool from catalog", "tool_id", id, "error", err)
				telemetry.CatalogToolsDroppedTotal.Inc()
				return nil
			default:
				return &FetchError{Path: content.MetaPath(id), Err: err}
			}
			tools[i] = tool
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &FetchError{Path: "tools/*/meta.json", Err: err}
	}

	byID := make(map[string]*Tool, len(ids))
	for i, id := range ids {
		if tools[i] != nil {
			byID[id] = tools[i]
		}
	}

	cat := &Catalog{Categories: make([]Category, 0, len(ix.Categories))}
	for _, ic := range ix.Categories {
		c := Category{ID: ic.Name, Tools: []*Tool{}}
		for _, id := range ic.ToolIDs {
			if t, ok := byID[id]; ok {
				c.Tools = append(c.Tools, t)
			}
		}
		cat.Categories = append(cat.Categories, c)
	}
	return cat, nil
}

// FetchTool reads and validates one tool's metadata. Ids that are not valid
// slugs are reported as not found without touching the provider.
func (f *Fetcher) FetchTool(ctx context.Context, id string) (*Tool, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, id)
	}
	data, err := f.provider.GetFile(ctx, content.MetaPath(id))
	if err != nil {
		if errors.Is(err, content.ErrFileNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, id)
		}
		return nil, fmt.Errorf("read metadata for %s: %w", id, err)
	}

	var tool Tool
	if err := json.Unmarshal(data, &tool); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTool, id, err)
	}
	if err := tool.Normalize(id); err != nil {
		return nil, err
	}
	return &tool, nil
}

// FetchToolDetail returns the tool and its README. A missing or unreadable
// README leaves Documentation empty.
func (f *Fetcher) FetchToolDetail(ctx context.Context, id string) (*ToolDetail, error) {
	tool, err := f.FetchTool(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &ToolDetail{Tool: *tool}
	readme, err := f.provider.GetFile(ctx, content.ReadmePath(id))
	switch {
	case err == nil:
		detail.Documentation = string(readme)
	case errors.Is(err, content.ErrFileNotFound):
	default:
		slog.Warn("failed to read tool README", "tool_id", id, "error", err)
	}
	return detail, nil
}
