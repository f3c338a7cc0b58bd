package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-directory/mcp-directory/internal/content"
	"github.com/mcp-directory/mcp-directory/internal/content/contenttest"
)

func metaJSON(id, title string, tags ...string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(map[string]interface{}{
		"id":          id,
		"title":       title,
		"description": title + " description",
		"category":    "dev",
		"tags":        tags,
		"installation": map[string]interface{}{
			"auto": map[string]string{"command": "npx -y " + id},
		},
		"githubUrl":  "https://github.com/example/" + id,
		"author":     "Community",
		"createTime": "2025-03-01T10:00:00.000Z",
	})
	return string(b)
}

func toolIDs(c Category) []string {
	ids := []string{}
	for _, t := range c.Tools {
		ids = append(ids, t.ID)
	}
	return ids
}

// ---------------------------------------------------------------------------
// FetchCatalog
// ---------------------------------------------------------------------------

func TestFetchCatalog_IndexOrder(t *testing.T) {
	mem := contenttest.NewMemory(map[string]string{
		content.IndexPath:     `{"ops":["c","a"],"dev":["b","a"]}`,
		content.MetaPath("a"): metaJSON("a", "Alpha"),
		content.MetaPath("b"): metaJSON("b", "Beta"),
		content.MetaPath("c"): metaJSON("c", "Gamma"),
	})
	// Make the first listed tool the slowest so completion order differs from index order.
	mem.OnGet = func(ctx context.Context, path string) {
		if path == content.MetaPath("c") {
			time.Sleep(20 * time.Millisecond)
		}
	}

	cat, err := NewFetcher(mem, 4).FetchCatalog(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"ops", "dev"}, CategoryIDs(cat))
	assert.Equal(t, []string{"c", "a"}, toolIDs(cat.Categories[0]))
	assert.Equal(t, []string{"b", "a"}, toolIDs(cat.Categories[1]))
	assert.Equal(t, 1, mem.Gets(content.MetaPath("a")), "shared tool fetched once")
	assert.Same(t, cat.Categories[0].Tools[1], cat.Categories[1].Tools[1])
}

func TestFetchCatalog_DropsBrokenTools(t *testing.T) {
	mem := contenttest.NewMemory(map[string]string{
		content.IndexPath:            `{"dev":["good","missing","garbled","mismatch","untitled","Bad_ID"],"empty":["missing"]}`,
		content.MetaPath("good"):     metaJSON("good", "Good"),
		content.MetaPath("garbled"):  `{"title":`,
		content.MetaPath("mismatch"): metaJSON("other", "Other"),
		content.MetaPath("untitled"): metaJSON("untitled", ""),
	})

	cat, err := NewFetcher(mem, 2).FetchCatalog(context.Background())
	require.NoError(t, err)

	require.Len(t, cat.Categories, 2)
	assert.Equal(t, []string{"good"}, toolIDs(cat.Categories[0]))
	assert.Equal(t, "empty", cat.Categories[1].ID)
	assert.NotNil(t, cat.Categories[1].Tools)
	assert.Empty(t, cat.Categories[1].Tools)
	assert.Equal(t, 0, mem.Gets("tools/Bad_ID/meta.json"), "invalid ids never reach the provider")

	out, err := json.Marshal(cat.Categories[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"empty","tools":[]}`, string(out))
}

func TestFetchCatalog_TransientToolErrorFailsFetch(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"server error", content.WrapRemoteError(502, "unexpected status 502", errors.New("bad gateway"))},
		{"rate limited", content.WrapRemoteError(403, "rate limited", content.ErrRateLimitExceeded)},
		{"breaker open", fmt.Errorf("%w: circuit breaker is open", content.ErrProviderUnavailable)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := contenttest.NewMemory(map[string]string{
				content.IndexPath:     `{"dev":["a","b"]}`,
				content.MetaPath("a"): metaJSON("a", "A"),
				content.MetaPath("b"): metaJSON("b", "B"),
			})
			mem.Fail(content.MetaPath("b"), tt.err)

			cat, err := NewFetcher(mem, 2).FetchCatalog(context.Background())
			assert.Nil(t, cat)
			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, content.MetaPath("b"), fe.Path)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestFetchCatalog_BreakerWrappedProviderNeverYieldsPartialCatalog(t *testing.T) {
	files := map[string]string{}
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("tool-%02d", i)
		files[content.MetaPath(ids[i])] = metaJSON(ids[i], ids[i])
	}
	index, _ := json.Marshal(map[string][]string{"dev": ids})
	files[content.IndexPath] = string(index)

	mem := contenttest.NewMemory(files)
	for _, id := range ids[:5] {
		mem.Fail(content.MetaPath(id), content.WrapRemoteError(502, "unexpected status 502", errors.New("bad gateway")))
	}
	p := content.WithCircuitBreaker(mem, content.BreakerSettings{OpenTimeout: 50 * time.Millisecond})
	f := NewFetcher(p, 4)

	for i := 0; i < 10; i++ {
		cat, err := f.FetchCatalog(context.Background())
		require.Error(t, err, "attempt %d", i)
		assert.Nil(t, cat)
	}

	for _, id := range ids[:5] {
		mem.Fail(content.MetaPath(id), nil)
	}
	// Once the provider recovers (and the breaker closes) every tool is back.
	require.Eventually(t, func() bool {
		cat, err := f.FetchCatalog(context.Background())
		return err == nil && cat.ToolCount() == len(ids)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFetchCatalog_IndexFailures(t *testing.T) {
	t.Run("missing index", func(t *testing.T) {
		mem := contenttest.NewMemory(nil)
		_, err := NewFetcher(mem, 1).FetchCatalog(context.Background())

		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, content.IndexPath, fe.Path)
		assert.ErrorIs(t, err, content.ErrFileNotFound)
	})

	t.Run("unparseable index", func(t *testing.T) {
		mem := contenttest.NewMemory(map[string]string{content.IndexPath: `[]`})
		_, err := NewFetcher(mem, 1).FetchCatalog(context.Background())
		assert.ErrorIs(t, err, ErrInvalidIndex)
	})

	t.Run("provider error", func(t *testing.T) {
		mem := contenttest.NewMemory(nil)
		mem.Fail(content.IndexPath, content.ErrRateLimitExceeded)
		_, err := NewFetcher(mem, 1).FetchCatalog(context.Background())
		assert.ErrorIs(t, err, content.ErrRateLimitExceeded)
	})
}

func TestFetchCatalog_CancelledContextFails(t *testing.T) {
	mem := contenttest.NewMemory(map[string]string{
		content.IndexPath:     `{"dev":["a"]}`,
		content.MetaPath("a"): metaJSON("a", "A"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	mem.OnGet = func(_ context.Context, path string) {
		if path == content.MetaPath("a") {
			cancel()
		}
	}

	_, err := NewFetcher(mem, 1).FetchCatalog(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchCatalog_RespectsConcurrencyLimit(t *testing.T) {
	files := map[string]string{}
	ids := []string{}
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("tool-%d", i)
		ids = append(ids, id)
		files[content.MetaPath(id)] = metaJSON(id, id)
	}
	idx, _ := json.Marshal(map[string][]string{"dev": ids})
	files[content.IndexPath] = string(idx)
	mem := contenttest.NewMemory(files)

	var inFlight, peak int32
	mem.OnGet = func(_ context.Context, path string) {
		if path == content.IndexPath {
			return
		}
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}

	cat, err := NewFetcher(mem, 3).FetchCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, cat.ToolCount())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

// ---------------------------------------------------------------------------
// FetchTool / FetchToolDetail
// ---------------------------------------------------------------------------

func TestFetchTool_DecodesAllFields(t *testing.T) {
	mem := contenttest.NewMemory(map[string]string{
		content.MetaPath("foo-bar"): `{
			"id": "foo-bar",
			"title": "Foo Bar",
			"description": "Does foo",
			"category": "dev",
			"tags": ["API", "Docker"],
			"installation": {
				"auto": {"command": "npx -y foo-bar"},
				"manual": {"command": "npx", "args": ["foo-bar", "--port", "8080"], "env": {"API_KEY": "your key"}}
			},
			"githubUrl": "https://github.com/example/foo-bar",
			"author": "Community",
			"createTime": "2025-03-01T10:00:00.000Z"
		}`,
	})

	got, err := NewFetcher(mem, 1).FetchTool(context.Background(), "foo-bar")
	require.NoError(t, err)

	want := &Tool{
		ID:          "foo-bar",
		Title:       "Foo Bar",
		Description: "Does foo",
		Category:    "dev",
		Tags:        []string{"API", "Docker"},
		Installation: Installation{
			Auto: &AutoInstall{Command: "npx -y foo-bar"},
			Manual: &ManualInstall{
				Command: "npx",
				Args:    []string{"foo-bar", "--port", "8080"},
				Env:     map[string]string{"API_KEY": "your key"},
			},
		},
		GitHubURL:  "https://github.com/example/foo-bar",
		Author:     "Community",
		CreateTime: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FetchTool mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchTool_FillsMissingIDAndTags(t *testing.T) {
	mem := contenttest.NewMemory(map[string]string{
		content.MetaPath("bare"): `{"title":"Bare"}`,
	})
	got, err := NewFetcher(mem, 1).FetchTool(context.Background(), "bare")
	require.NoError(t, err)
	assert.Equal(t, "bare", got.ID)
	assert.NotNil(t, got.Tags)
	assert.Empty(t, got.Tags)
}

func TestFetchTool_Errors(t *testing.T) {
	mem := contenttest.NewMemory(map[string]string{
		content.MetaPath("garbled"): `{`,
	})
	mem.Fail(content.MetaPath("flaky"), errors.New("timeout"))
	f := NewFetcher(mem, 1)
	ctx := context.Background()

	_, err := f.FetchTool(ctx, "absent")
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = f.FetchTool(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = f.FetchTool(ctx, "garbled")
	assert.ErrorIs(t, err, ErrInvalidTool)

	_, err = f.FetchTool(ctx, "flaky")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrToolNotFound)
	assert.NotErrorIs(t, err, ErrInvalidTool)
}

func TestFetchToolDetail(t *testing.T) {
	mem := contenttest.NewMemory(map[string]string{
		content.MetaPath("documented"):   metaJSON("documented", "Documented"),
		content.ReadmePath("documented"): "# Documented\n\nUsage.\n",
		content.MetaPath("plain"):        metaJSON("plain", "Plain"),
		content.MetaPath("flaky-readme"): metaJSON("flaky-readme", "Flaky"),
	})
	mem.Fail(content.ReadmePath("flaky-readme"), errors.New("boom"))
	f := NewFetcher(mem, 1)
	ctx := context.Background()

	d, err := f.FetchToolDetail(ctx, "documented")
	require.NoError(t, err)
	assert.Equal(t, "Documented", d.Title)
	assert.Equal(t, "# Documented\n\nUsage.\n", d.Documentation)

	d, err = f.FetchToolDetail(ctx, "plain")
	require.NoError(t, err)
	assert.Empty(t, d.Documentation)
	out, _ := json.Marshal(d)
	assert.NotContains(t, string(out), "documentation")

	d, err = f.FetchToolDetail(ctx, "flaky-readme")
	require.NoError(t, err)
	assert.Empty(t, d.Documentation)

	_, err = f.FetchToolDetail(ctx, "absent")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestNewFetcher_DefaultConcurrency(t *testing.T) {
	f := NewFetcher(contenttest.NewMemory(nil), 0)
	assert.Equal(t, DefaultConcurrency, f.concurrency)
}
