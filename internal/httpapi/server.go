package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/antoniostano/callbridge/internal/calllog"
	"github.com/antoniostano/callbridge/internal/config"
	"github.com/antoniostano/callbridge/internal/observability"
	"github.com/antoniostano/callbridge/internal/protocol"
	"github.com/antoniostano/callbridge/internal/session"
	"github.com/antoniostano/callbridge/internal/telephony"
)

const (
	connectionPath      = "/connection"
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	wsWriteTimeout      = 10 * time.Second
	wsReadIdleTimeout   = 120 * time.Second
)

var logger = observability.NewLogger("github.com/antoniostano/callbridge/internal/httpapi")

// Orchestrator runs one call over a media stream connection until the
// transport stops or inbound is closed.
type Orchestrator interface {
	RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	callLog      calllog.Store
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, callLog calllog.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		callLog:      callLog,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Twilio sends no Origin. Browsers must match the host.
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/incoming", s.handleIncomingCall)
	r.Get(connectionPath, s.handleMediaStream)

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/history", s.handleCallHistory)
	r.Get("/v1/calls/{callSid}", s.handleGetCall)

	return otelhttp.NewHandler(r, "callbridge.http")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_calls": s.sessions.ActiveCount(),
		"voice_live":   s.cfg.LiveVoice(),
	})
}

// handleIncomingCall answers Twilio's voice webhook with TwiML that bridges
// the call audio to the media stream endpoint.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	host := s.cfg.PublicHost
	if host == "" {
		host = r.Host
	}
	streamURL, err := telephony.StreamURL(host, connectionPath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "no_public_host", err.Error())
		return
	}
	doc, err := telephony.ConnectStreamTwiML(streamURL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_failed", err.Error())
		return
	}
	if err := r.ParseForm(); err == nil {
		logger.Info("incoming call", "call_sid", r.PostForm.Get("CallSid"), "stream_url", streamURL)
	}
	s.metrics.SessionEvents.WithLabelValues("incoming_call").Inc()

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// handleMediaStream bridges one Twilio media stream websocket to the
// orchestrator. Reads and writes each stay on a single goroutine.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.orchestrator.RunConnection(ctx, inbound, outbound); err != nil {
			logger.Warn("call session ended with error", "error", err)
		}
		// Unblock the read loop when the session ends first.
		cancel()
		_ = conn.Close()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.WSWriteErrors.WithLabelValues("write_json").Inc()
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", protocol.MessageEvent(msg)).Inc()
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadIdleTimeout))

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseMessage(data)
		if err != nil {
			s.metrics.SessionEvents.WithLabelValues("malformed_event").Inc()
			logger.Debug("dropping media stream message", "error", err)
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", protocol.MessageEvent(parsed)).Inc()
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-runDone
	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	calls := s.sessions.List()
	respondJSON(w, http.StatusOK, map[string]any{
		"active": len(calls),
		"calls":  calls,
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.sessions.GetByCallSID(chi.URLParam(r, "callSid"))
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "call_not_found", "no active call with that sid")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_lookup_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, call)
}

func (s *Server) handleCallHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	if s.callLog == nil {
		respondJSON(w, http.StatusOK, map[string]any{"calls": []calllog.Record{}})
		return
	}
	records, err := s.callLog.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "call_log_unavailable", err.Error())
		return
	}
	if records == nil {
		records = []calllog.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": records})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
