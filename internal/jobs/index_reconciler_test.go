package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-directory/mcp-directory/internal/catalog"
	"github.com/mcp-directory/mcp-directory/internal/config"
	"github.com/mcp-directory/mcp-directory/internal/content"
	"github.com/mcp-directory/mcp-directory/internal/content/contenttest"
	"github.com/mcp-directory/mcp-directory/internal/safego"
	"github.com/mcp-directory/mcp-directory/internal/submission"
	"github.com/mcp-directory/mcp-directory/internal/telemetry"
)

type countingRefresher struct{ n atomic.Int32 }

func (r *countingRefresher) TriggerRefresh() *safego.Task {
	r.n.Add(1)
	return safego.Start(func() error { return nil }, nil)
}

func reconcilerFixture() *contenttest.Memory {
	return contenttest.NewMemory(map[string]string{
		content.IndexPath:           `{"dev":["present","gone"],"ops":["gone","also-gone","present"]}`,
		content.MetaPath("present"): `{"id":"present","title":"Present"}`,
	})
}

// ---------------------------------------------------------------------------
// NewIndexReconciler: interval defaulting
// ---------------------------------------------------------------------------

func TestNewIndexReconciler_Interval(t *testing.T) {
	tests := []struct {
		hours int
		want  time.Duration
	}{
		{0, 24 * time.Hour},
		{-5, 24 * time.Hour},
		{1, time.Hour},
		{48, 48 * time.Hour},
	}
	for _, tt := range tests {
		r := NewIndexReconciler(nil, nil, config.IndexReconcilerConfig{IntervalHours: tt.hours})
		if r.interval != tt.want {
			t.Errorf("IntervalHours=%d: interval = %v, want %v", tt.hours, r.interval, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// RunOnce
// ---------------------------------------------------------------------------

func TestRunOnce_ReportsDanglingWithoutPruning(t *testing.T) {
	mem := reconcilerFixture()
	r := NewIndexReconciler(mem, nil, config.IndexReconcilerConfig{})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, []string{"gone", "also-gone"}, report.Dangling)
	assert.False(t, report.Pruned)
	assert.Empty(t, mem.Commits())
	assert.Equal(t, float64(2), testutil.ToFloat64(telemetry.DanglingIndexEntries))
}

func TestRunOnce_PrunesAndRefreshes(t *testing.T) {
	mem := reconcilerFixture()
	ref := &countingRefresher{}
	r := NewIndexReconciler(mem, ref, config.IndexReconcilerConfig{Prune: true})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Pruned)

	commits := mem.Commits()
	require.Len(t, commits, 1)
	assert.Equal(t, "Remove dangling index entries: also-gone, gone", commits[0].Message)
	index, _ := mem.File(content.IndexPath)
	assert.Equal(t, "{\n  \"dev\": [\n    \"present\"\n  ],\n  \"ops\": [\n    \"present\"\n  ]\n}\n", index)
	assert.Equal(t, int32(1), ref.n.Load())
	assert.Equal(t, float64(0), testutil.ToFloat64(telemetry.DanglingIndexEntries))
}

func TestRunOnce_CleanIndexCommitsNothing(t *testing.T) {
	mem := contenttest.NewMemory(map[string]string{
		content.IndexPath:     `{"dev":["a"]}`,
		content.MetaPath("a"): `{"title":"A"}`,
	})
	r := NewIndexReconciler(mem, nil, config.IndexReconcilerConfig{Prune: true})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Dangling)
	assert.Empty(t, mem.Commits())
}

func TestRunOnce_InvalidIDsAreDangling(t *testing.T) {
	mem := contenttest.NewMemory(map[string]string{content.IndexPath: `{"dev":["../escape"]}`})
	r := NewIndexReconciler(mem, nil, config.IndexReconcilerConfig{})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"../escape"}, report.Dangling)
	assert.Equal(t, 0, mem.Gets("tools/../escape/meta.json"))
}

func TestRunOnce_TransientErrorAbortsWithoutPruning(t *testing.T) {
	mem := reconcilerFixture()
	mem.Fail(content.MetaPath("also-gone"), errors.New("502 bad gateway"))
	r := NewIndexReconciler(mem, nil, config.IndexReconcilerConfig{Prune: true})

	_, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, mem.Commits())
}

func TestRunOnce_MissingIndexIsClean(t *testing.T) {
	r := NewIndexReconciler(contenttest.NewMemory(nil), nil, config.IndexReconcilerConfig{Prune: true})
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Dangling)
}

func TestRunOnce_SubmissionDuringRunSurvivesPrune(t *testing.T) {
	mem := reconcilerFixture()
	svc := submission.NewService(mem, nil, submission.Options{})

	var once sync.Once
	var submitErr error
	mem.OnGet = func(ctx context.Context, path string) {
		if path != content.MetaPath("gone") {
			return
		}
		once.Do(func() {
			_, submitErr = svc.Submit(ctx, submission.Form{
				Title:       "New Tool",
				Description: "Added while the reconciler runs",
				GitHubURL:   "https://github.com/example/new-tool",
				Category:    "dev",
				AutoCommand: "npx -y new-tool",
			})
		})
	}
	r := NewIndexReconciler(mem, nil, config.IndexReconcilerConfig{Prune: true})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, submitErr)
	assert.True(t, report.Pruned)
	assert.ElementsMatch(t, []string{"gone", "also-gone"}, report.Dangling)

	data, _ := mem.File(content.IndexPath)
	ix, err := catalog.ParseIndex([]byte(data))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"present", "new-tool"}, ix.ToolIDs())
	assert.True(t, ix.Contains("dev", "new-tool"))
	_, ok := mem.File(content.MetaPath("new-tool"))
	assert.True(t, ok)
}

func TestRunOnce_StaleBaseIsRetriedThenGivesUp(t *testing.T) {
	mem := reconcilerFixture()
	// Every metadata read sees a branch that moved since the run started.
	mem.OnGet = func(ctx context.Context, path string) {
		if path == content.MetaPath("present") {
			mem.Set("tools/unrelated.txt", "x")
		}
	}
	r := NewIndexReconciler(mem, nil, config.IndexReconcilerConfig{Prune: true})

	_, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, content.ErrConflict)
	assert.Empty(t, mem.Commits())
	assert.Equal(t, maxReconcileAttempts, mem.Gets(content.IndexPath))
}

func TestRunOnce_CommitFailure(t *testing.T) {
	mem := reconcilerFixture()
	mem.CommitErr = content.ErrConflict
	r := NewIndexReconciler(mem, nil, config.IndexReconcilerConfig{Prune: true})

	_, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, content.ErrConflict)
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

func TestIndexReconciler_StartRunsImmediatelyAndStops(t *testing.T) {
	mem := reconcilerFixture()
	r := NewIndexReconciler(mem, nil, config.IndexReconcilerConfig{IntervalHours: 1})

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return mem.Gets(content.IndexPath) == 1 }, 2*time.Second, 5*time.Millisecond)
	r.Stop()
	r.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestIndexReconciler_StartExitsOnContextCancel(t *testing.T) {
	r := NewIndexReconciler(contenttest.NewMemory(nil), nil, config.IndexReconcilerConfig{IntervalHours: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
