package voice

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
)

func TestDialProviderRetriesRetryableHandshake(t *testing.T) {
	var attempts atomic.Int32
	url := newWSServer(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	})

	conn, err := dialProvider(context.Background(), nil, url, nil)
	if err != nil {
		t.Fatalf("dialProvider() error = %v", err)
	}
	conn.Close()
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestDialProviderStopsOnPermanentStatus(t *testing.T) {
	var attempts atomic.Int32
	url := newWSServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	if _, err := dialProvider(context.Background(), nil, url, nil); err == nil {
		t.Fatalf("dialProvider() succeeded against 401")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}
