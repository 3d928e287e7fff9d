package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/callbridge/internal/reliability"
)

const deepgramKeepAliveInterval = 8 * time.Second

type DeepgramConfig struct {
	APIKey         string
	WSBaseURL      string
	Model          string
	Language       string
	UtteranceEndMS int
	EndpointingMS  int
	Dialer         *websocket.Dialer
}

// DeepgramProvider transcribes the caller's mu-law 8kHz audio with the
// Deepgram live listen websocket.
type DeepgramProvider struct {
	cfg DeepgramConfig
}

func NewDeepgramProvider(cfg DeepgramConfig) *DeepgramProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.deepgram.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "nova-3"
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en-US"
	}
	if cfg.UtteranceEndMS <= 0 {
		cfg.UtteranceEndMS = 1000
	}
	if cfg.EndpointingMS <= 0 {
		cfg.EndpointingMS = 300
	}
	return &DeepgramProvider{cfg: cfg}
}

func (p *DeepgramProvider) listenURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/listen")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", "8000")
	q.Set("channels", "1")
	q.Set("model", p.cfg.Model)
	q.Set("language", p.cfg.Language)
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", fmt.Sprint(p.cfg.UtteranceEndMS))
	q.Set("endpointing", fmt.Sprint(p.cfg.EndpointingMS))
	q.Set("vad_events", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *DeepgramProvider) StartSession(ctx context.Context, sessionID string) (STTSession, <-chan STTEvent, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, nil, errors.New("deepgram api key is required")
	}
	listenURL, err := p.listenURL()
	if err != nil {
		return nil, nil, err
	}
	headers := http.Header{"Authorization": {"Token " + p.cfg.APIKey}}
	conn, err := dialProvider(ctx, p.cfg.Dialer, listenURL, headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial stt websocket: %w", err)
	}

	s := &deepgramSession{
		conn:      conn,
		sessionID: sessionID,
		events:    make(chan STTEvent, 64),
		done:      make(chan struct{}),
		lastAudio: time.Now(),
	}
	go s.readLoop()
	go s.keepAlive()
	return s, s.events, nil
}

type deepgramSession struct {
	conn      *websocket.Conn
	sessionID string

	writeMu   sync.Mutex
	lastAudio time.Time

	closeOnce sync.Once
	events    chan STTEvent
	done      chan struct{}

	// read-loop owned
	pending []string
	unended bool
}

func (s *deepgramSession) SendAudioChunk(_ context.Context, audioBase64 string) error {
	audio, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return fmt.Errorf("decode audio chunk: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.lastAudio = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("write audio chunk: %w", err)
	}
	return nil
}

func (s *deepgramSession) writeControl(kind string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: kind})
}

// keepAlive stops Deepgram from closing the socket while the caller is
// silent and no media is flowing.
func (s *deepgramSession) keepAlive() {
	ticker := time.NewTicker(deepgramKeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			idle := time.Since(s.lastAudio) >= deepgramKeepAliveInterval
			s.writeMu.Unlock()
			if idle {
				if err := s.writeControl("KeepAlive"); err != nil {
					return
				}
			}
		}
	}
}

func (s *deepgramSession) readLoop() {
	defer s.safeClose()
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseNormalClosure {
				s.emit(STTEvent{
					Type:      STTEventError,
					Code:      fmt.Sprintf("close_%d", closeErr.Code),
					Detail:    closeErr.Text,
					Retryable: reliability.IsRetryableCloseCode(closeErr.Code),
					Timestamp: time.Now().UnixMilli(),
				})
			}
			s.flush()
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		s.handleMessage(data)
	}
}

func (s *deepgramSession) handleMessage(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Debug("dropping undecodable deepgram message", "session_id", s.sessionID, "error", err)
		return
	}

	switch api.TypeResponse(envelope.Type) {
	case api.TypeMessageResponse:
		var msg api.MessageResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("dropping malformed deepgram result", "session_id", s.sessionID, "error", err)
			return
		}
		transcript := ""
		if len(msg.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		}
		if !msg.IsFinal {
			if transcript != "" {
				s.emit(STTEvent{Type: STTEventPartial, Text: transcript, Timestamp: time.Now().UnixMilli()})
			}
			return
		}
		if transcript != "" {
			s.pending = append(s.pending, transcript)
			s.unended = true
		}
		if msg.SpeechFinal {
			s.flush()
		}
	case api.TypeUtteranceEndResponse:
		if s.unended {
			s.flush()
		}
	case api.TypeSpeechStartedResponse:
		s.unended = true
	}
}

// flush commits the final segments gathered since the last utterance end.
func (s *deepgramSession) flush() {
	s.unended = false
	if len(s.pending) == 0 {
		return
	}
	text := strings.Join(s.pending, " ")
	s.pending = s.pending[:0]
	s.emit(STTEvent{Type: STTEventCommitted, Text: text, Timestamp: time.Now().UnixMilli()})
}

func (s *deepgramSession) emit(ev STTEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *deepgramSession) Close() error {
	_ = s.writeControl(string(api.TypeCloseStreamResponse))
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *deepgramSession) safeClose() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	close(s.events)
}
