// index_reconciler.go implements the IndexReconciler background job, which periodically
// checks that every tool id listed in tools/index.json still has a metadata file and,
// when configured to, commits an index without the dangling entries.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcp-directory/mcp-directory/internal/catalog"
	"github.com/mcp-directory/mcp-directory/internal/config"
	"github.com/mcp-directory/mcp-directory/internal/content"
	"github.com/mcp-directory/mcp-directory/internal/safego"
	"github.com/mcp-directory/mcp-directory/internal/telemetry"
)

// maxReconcileAttempts bounds reruns when the branch moved during a run.
const maxReconcileAttempts = 3

// Refresher is asked for a catalog refresh after the index was pruned.
type Refresher interface {
	TriggerRefresh() *safego.Task
}

// ReconcileReport summarises one reconciler run.
type ReconcileReport struct {
	Checked  int
	Dangling []string
	Pruned   bool
}

// IndexReconciler periodically looks for index entries without metadata
type IndexReconciler struct {
	provider  content.Provider
	refresher Refresher
	prune     bool
	interval  time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewIndexReconciler creates a new reconciler job. refresher may be nil.
func NewIndexReconciler(provider content.Provider, refresher Refresher, cfg config.IndexReconcilerConfig) *IndexReconciler {
	hours := cfg.IntervalHours
	if hours <= 0 {
		hours = 24 // Default to daily
	}
	return &IndexReconciler{
		provider:  provider,
		refresher: refresher,
		prune:     cfg.Prune,
		interval:  time.Duration(hours) * time.Hour,
		stopChan:  make(chan struct{}),
	}
}

// Start runs a reconciliation immediately and then on every interval until
// ctx is cancelled or Stop is called.
func (r *IndexReconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("index reconciler started", "interval", r.interval, "prune", r.prune)

	r.run(ctx)

	for {
		select {
		case <-ticker.C:
			r.run(ctx)
		case <-r.stopChan:
			slog.Info("index reconciler stopped")
			return
		case <-ctx.Done():
			slog.Info("index reconciler context cancelled")
			return
		}
	}
}

// Stop stops the job. It is safe to call more than once.
func (r *IndexReconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

func (r *IndexReconciler) run(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		slog.Error("index reconciliation failed", "error", err)
	}
}

// RunOnce performs a single reconciliation. Only ids whose metadata is
// reported missing count as dangling; any other read error aborts the run so
// a flaky provider never causes entries to be pruned. Reads and the prune
// commit are pinned to one revision; when the branch moves underneath, the
// whole check is repeated against the new head.
func (r *IndexReconciler) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	for attempt := 1; ; attempt++ {
		report, err := r.reconcile(ctx)
		if err == nil || !errors.Is(err, content.ErrConflict) || attempt == maxReconcileAttempts {
			return report, err
		}
		slog.Warn("content branch moved during reconciliation, retrying", "attempt", attempt)
	}
}

func (r *IndexReconciler) reconcile(ctx context.Context) (*ReconcileReport, error) {
	rev, err := r.provider.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve content head: %w", err)
	}
	data, err := r.provider.GetFileAt(ctx, rev, content.IndexPath)
	if errors.Is(err, content.ErrFileNotFound) {
		telemetry.DanglingIndexEntries.Set(0)
		return &ReconcileReport{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	ix, err := catalog.ParseIndex(data)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Dangling: []string{}}
	for _, id := range ix.ToolIDs() {
		if !catalog.ValidID(id) {
			report.Dangling = append(report.Dangling, id)
			continue
		}
		_, err := r.provider.GetFileAt(ctx, rev, content.MetaPath(id))
		switch {
		case err == nil:
			report.Checked++
		case errors.Is(err, content.ErrFileNotFound):
			report.Checked++
			report.Dangling = append(report.Dangling, id)
		default:
			return nil, fmt.Errorf("check %s: %w", id, err)
		}
	}

	telemetry.DanglingIndexEntries.Set(float64(len(report.Dangling)))
	if len(report.Dangling) == 0 {
		slog.Info("index reconciliation completed", "checked", report.Checked)
		return report, nil
	}
	slog.Warn("index lists tools without metadata",
		"checked", report.Checked,
		"dangling", report.Dangling)

	if !r.prune {
		return report, nil
	}

	drop := make(map[string]bool, len(report.Dangling))
	for _, id := range report.Dangling {
		drop[id] = true
	}
	ix.Remove(drop)
	encoded, err := ix.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}

	ids := append([]string(nil), report.Dangling...)
	sort.Strings(ids)
	message := "Remove dangling index entries: " + strings.Join(ids, ", ")
	if err := r.provider.Commit(ctx, rev, message, []content.FileChange{{Path: content.IndexPath, Content: encoded}}); err != nil {
		return nil, fmt.Errorf("commit pruned index: %w", err)
	}
	report.Pruned = true
	telemetry.DanglingIndexEntries.Set(0)
	slog.Info("pruned dangling index entries", "removed", len(ids))

	if r.refresher != nil {
		r.refresher.TriggerRefresh()
	}
	return report, nil
}
