package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/openai/openai-go"

	"github.com/antoniostano/callbridge/internal/conversation"
	"github.com/antoniostano/callbridge/internal/reliability"
)

// RetryingBackend retries transient failures of the wrapped backend with
// capped exponential backoff. The turn generator itself never retries.
type RetryingBackend struct {
	next       Backend
	maxRetries int
	base       time.Duration
	cap        time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRetryingBackend(next Backend, maxRetries int, base, cap time.Duration) *RetryingBackend {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if cap <= 0 {
		cap = 4 * time.Second
	}
	return &RetryingBackend{
		next:       next,
		maxRetries: maxRetries,
		base:       base,
		cap:        cap,
		sleep:      sleepContext,
	}
}

func (b *RetryingBackend) Complete(ctx context.Context, turns []conversation.Turn) (conversation.Turn, error) {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, b.base, b.cap)
			logger.Warn("retrying chat completion", "attempt", attempt, "wait", wait, "error", lastErr)
			if err := b.sleep(ctx, wait); err != nil {
				return conversation.Turn{}, fmt.Errorf("retry wait: %w (last error: %v)", err, lastErr)
			}
		}
		turn, err := b.next.Complete(ctx, turns)
		if err == nil {
			return turn, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			return conversation.Turn{}, err
		}
	}
	return conversation.Turn{}, fmt.Errorf("chat completion failed after %d attempts: %w", b.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	// A per-request timeout surfaces as DeadlineExceeded while the caller's
	// context is still live.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.StatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
