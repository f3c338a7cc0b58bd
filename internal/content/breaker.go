package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mcp-directory/mcp-directory/internal/telemetry"
)

// BreakerSettings configures WithCircuitBreaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker open. Defaults to 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing. Defaults to 30s.
	OpenTimeout time.Duration
}

type breakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// WithCircuitBreaker wraps p so that repeated remote failures stop further
// calls for a while instead of piling up slow requests against a failing API.
// Missing files and commit conflicts are normal answers and never count as
// failures. Calls rejected by an open breaker return an error wrapping
// ErrProviderUnavailable.
func WithCircuitBreaker(p Provider, s BreakerSettings) Provider {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	name := "content-" + p.Kind()
	telemetry.ContentBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("content provider circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
			telemetry.ContentBreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrConflict) ||
				errors.Is(err, context.Canceled)
		},
	})
	return &breakerProvider{next: p, cb: cb}
}

func (b *breakerProvider) Kind() string { return b.next.Kind() }

func (b *breakerProvider) Head(ctx context.Context) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Head(ctx)
	})
	if err != nil {
		return "", breakerError(err)
	}
	return out.(string), nil
}

func (b *breakerProvider) GetFile(ctx context.Context, path string) ([]byte, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.GetFile(ctx, path)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.([]byte), nil
}

func (b *breakerProvider) GetFileAt(ctx context.Context, rev, path string) ([]byte, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.GetFileAt(ctx, rev, path)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.([]byte), nil
}

func (b *breakerProvider) Commit(ctx context.Context, base, message string, changes []FileChange) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Commit(ctx, base, message, changes)
	})
	return breakerError(err)
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return err
}
