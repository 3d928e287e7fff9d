package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/callbridge/internal/calllog"
	"github.com/antoniostano/callbridge/internal/config"
	"github.com/antoniostano/callbridge/internal/observability"
	"github.com/antoniostano/callbridge/internal/protocol"
	"github.com/antoniostano/callbridge/internal/session"
)

var metricsSeq atomic.Int64

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("httpapi_test_%d", metricsSeq.Add(1)))
}

// echoOrchestrator marks every start and returns on stop.
type echoOrchestrator struct {
	mu       sync.Mutex
	received []any
	done     chan struct{}
}

func newEchoOrchestrator() *echoOrchestrator {
	return &echoOrchestrator{done: make(chan struct{})}
}

func (o *echoOrchestrator) RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) error {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			o.mu.Lock()
			o.received = append(o.received, msg)
			o.mu.Unlock()
			switch m := msg.(type) {
			case protocol.Start:
				outbound <- protocol.NewOutboundMark(m.StreamSid, "hello")
			case protocol.Stop:
				return nil
			}
		}
	}
}

func (o *echoOrchestrator) events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.received))
	for _, msg := range o.received {
		out = append(out, protocol.MessageEvent(msg))
	}
	return out
}

func newTestServer(t *testing.T, cfg config.Config, orch Orchestrator, store calllog.Store) (*httptest.Server, *session.Manager) {
	t.Helper()
	if cfg.VoiceProvider == "" {
		cfg.VoiceProvider = "mock"
	}
	sessions := session.NewManager(time.Minute)
	srv := New(cfg, sessions, orch, store, testMetrics())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func TestIncomingCallReturnsStreamTwiML(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{PublicHost: "bridge.example.com"}, nil, nil)

	res, err := http.PostForm(ts.URL+"/incoming", map[string][]string{"CallSid": {"CA1"}})
	if err != nil {
		t.Fatalf("POST /incoming error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("Content-Type = %q, want text/xml", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "wss://bridge.example.com/connection") {
		t.Fatalf("twiml missing stream url: %s", body)
	}
}

func TestIncomingCallFallsBackToRequestHost(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil, nil)

	res, err := http.PostForm(ts.URL+"/incoming", nil)
	if err != nil {
		t.Fatalf("POST /incoming error = %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	host := strings.TrimPrefix(ts.URL, "http://")
	if !strings.Contains(string(body), "wss://"+host+"/connection") {
		t.Fatalf("twiml %s does not point at %s", body, host)
	}
}

func TestMediaStreamBridgesMessages(t *testing.T) {
	orch := newEchoOrchestrator()
	ts, _ := newTestServer(t, config.Config{}, orch, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/connection"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial media stream: %v", err)
	}
	defer conn.Close()

	frames := []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		`{"event":"media","streamSid":"MZ1","media":{}}`,
		`{"event":"bogus"}`,
		`not json`,
		`{"event":"start","sequenceNumber":"1","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1","accountSid":"AC1","tracks":["inbound"]}}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var mark map[string]any
	if err := conn.ReadJSON(&mark); err != nil {
		t.Fatalf("read outbound mark: %v", err)
	}
	if mark["event"] != "mark" || mark["streamSid"] != "MZ1" {
		t.Fatalf("outbound = %v, want mark for MZ1", mark)
	}

	stop := `{"event":"stop","sequenceNumber":"2","streamSid":"MZ1","stop":{"callSid":"CA1","accountSid":"AC1"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(stop)); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	select {
	case <-orch.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("orchestrator did not return after stop")
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("connection still open after the session ended")
	}

	got := orch.events()
	want := []string{"connected", "start", "stop"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("orchestrator received %v, want %v", got, want)
	}
}

func TestMediaStreamWithoutOrchestrator(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil, nil)

	res, err := http.Get(ts.URL + "/connection")
	if err != nil {
		t.Fatalf("GET /connection error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotImplemented)
	}
}

func TestListCalls(t *testing.T) {
	ts, sessions := newTestServer(t, config.Config{}, nil, nil)
	call := sessions.Create(func() {})
	if err := sessions.Attach(call.ID, "MZ1", "CA1", "AC1"); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	res, err := http.Get(ts.URL + "/v1/calls")
	if err != nil {
		t.Fatalf("GET /v1/calls error = %v", err)
	}
	defer res.Body.Close()

	var payload struct {
		Active int            `json:"active"`
		Calls  []session.Call `json:"calls"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Active != 1 || len(payload.Calls) != 1 || payload.Calls[0].CallSID != "CA1" {
		t.Fatalf("payload = %+v, want one call CA1", payload)
	}
}

func TestGetCallBySID(t *testing.T) {
	ts, sessions := newTestServer(t, config.Config{}, nil, nil)
	call := sessions.Create(func() {})
	if err := sessions.Attach(call.ID, "MZ1", "CA1", "AC1"); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	res, err := http.Get(ts.URL + "/v1/calls/CA1")
	if err != nil {
		t.Fatalf("GET /v1/calls/CA1 error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var got session.Call
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != call.ID || got.StreamSID != "MZ1" || got.State != session.StateActive {
		t.Fatalf("call = %+v, want attached call %s", got, call.ID)
	}

	missing, err := http.Get(ts.URL + "/v1/calls/CA404")
	if err != nil {
		t.Fatalf("GET /v1/calls/CA404 error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestCallHistory(t *testing.T) {
	store := calllog.NewInMemoryStore(10)
	for _, sid := range []string{"CA1", "CA2", "CA3"} {
		if err := store.Save(context.Background(), calllog.Record{CallSID: sid, Outcome: calllog.OutcomeHangup}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	ts, _ := newTestServer(t, config.Config{}, nil, store)

	res, err := http.Get(ts.URL + "/v1/calls/history?limit=2")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		Calls []calllog.Record `json:"calls"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Calls) != 2 || payload.Calls[0].CallSID != "CA3" {
		t.Fatalf("calls = %+v, want newest two", payload.Calls)
	}

	bad, err := http.Get(ts.URL + "/v1/calls/history?limit=-4")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestHealthAndPerfEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil, nil)

	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}
