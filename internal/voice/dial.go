package voice

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/callbridge/internal/reliability"
)

const (
	dialAttempts    = 3
	dialBackoffBase = 200 * time.Millisecond
	dialBackoffCap  = 2 * time.Second
)

// dialProvider opens a provider websocket, retrying handshakes the provider
// rejected with a retryable status.
func dialProvider(ctx context.Context, dialer *websocket.Dialer, rawURL string, headers http.Header) (*websocket.Conn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	var lastErr error
	for attempt := 0; attempt < dialAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, dialBackoffBase, dialBackoffCap)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if resp == nil || !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			if resp != nil {
				return nil, fmt.Errorf("%w (status %d)", err, resp.StatusCode)
			}
			return nil, err
		}
		logger.Warn("provider handshake rejected, retrying", "status", resp.StatusCode, "attempt", attempt+1)
	}
	return nil, lastErr
}
