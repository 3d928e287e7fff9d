package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"
)

const (
	// mockChunksPerUtterance is one second of 20ms media frames.
	mockChunksPerUtterance  = 50
	mockSilenceBytesPerWord = 2400
	mulawSilence            = 0xFF
)

// MockProvider stands in for both speech vendors when no keys are
// configured. STT commits a fixed utterance per second of audio; TTS returns
// mu-law silence sized to the text.
type MockProvider struct {
	ChunksPerUtterance int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{ChunksPerUtterance: mockChunksPerUtterance}
}

func (p *MockProvider) StartSession(_ context.Context, _ string) (STTSession, <-chan STTEvent, error) {
	per := p.ChunksPerUtterance
	if per <= 0 {
		per = mockChunksPerUtterance
	}
	events := make(chan STTEvent, 64)
	return &mockSTTSession{events: events, perUtterance: per}, events, nil
}

func (p *MockProvider) StartStream(_ context.Context, _ string, _ string, _ TTSSettings) (TTSStream, error) {
	return &mockTTSStream{events: make(chan TTSEvent, 8)}, nil
}

type mockSTTSession struct {
	mu           sync.Mutex
	events       chan STTEvent
	perUtterance int
	chunks       int
	closed       bool
}

func (s *mockSTTSession) SendAudioChunk(_ context.Context, audioBase64 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || audioBase64 == "" {
		return nil
	}
	s.chunks++
	if s.chunks%s.perUtterance != 0 {
		return nil
	}
	ev := STTEvent{Type: STTEventCommitted, Text: "simulated caller speech", Timestamp: time.Now().UnixMilli()}
	select {
	case s.events <- ev:
	default:
	}
	return nil
}

func (s *mockSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

type mockTTSStream struct {
	mu     sync.Mutex
	events chan TTSEvent
	words  int
	closed bool
}

func (s *mockTTSStream) SendText(_ context.Context, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.words += len(strings.Fields(text))
	return nil
}

func (s *mockTTSStream) CloseInput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.words > 0 {
		silence := bytes.Repeat([]byte{mulawSilence}, s.words*mockSilenceBytesPerWord)
		s.events <- TTSEvent{Type: TTSEventAudio, AudioBase64: base64.StdEncoding.EncodeToString(silence)}
	}
	s.events <- TTSEvent{Type: TTSEventFinal}
	return nil
}

func (s *mockTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *mockTTSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
