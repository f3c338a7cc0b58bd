package content

import (
	"context"
	"errors"
	"time"

	"github.com/mcp-directory/mcp-directory/internal/telemetry"
)

type instrumentedProvider struct {
	next Provider
}

// Instrument wraps p so every call is counted and timed in the
// content_provider_* metrics.
func Instrument(p Provider) Provider {
	return &instrumentedProvider{next: p}
}

func (i *instrumentedProvider) Kind() string { return i.next.Kind() }

func (i *instrumentedProvider) Head(ctx context.Context) (string, error) {
	start := time.Now()
	rev, err := i.next.Head(ctx)
	i.observe("head", start, err)
	return rev, err
}

func (i *instrumentedProvider) GetFile(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	data, err := i.next.GetFile(ctx, path)
	i.observe("get_file", start, err)
	return data, err
}

func (i *instrumentedProvider) GetFileAt(ctx context.Context, rev, path string) ([]byte, error) {
	start := time.Now()
	data, err := i.next.GetFileAt(ctx, rev, path)
	i.observe("get_file", start, err)
	return data, err
}

func (i *instrumentedProvider) Commit(ctx context.Context, base, message string, changes []FileChange) error {
	start := time.Now()
	err := i.next.Commit(ctx, base, message, changes)
	i.observe("commit", start, err)
	return err
}

func (i *instrumentedProvider) observe(op string, start time.Time, err error) {
	kind := i.next.Kind()
	telemetry.ContentRequestDuration.WithLabelValues(kind, op).Observe(time.Since(start).Seconds())
	telemetry.ContentRequestsTotal.WithLabelValues(kind, op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrFileNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
