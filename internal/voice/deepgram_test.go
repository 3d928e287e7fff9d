package voice

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func deepgramResult(transcript string, isFinal, speechFinal bool) map[string]any {
	return map[string]any{
		"type":         "Results",
		"is_final":     isFinal,
		"speech_final": speechFinal,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": transcript, "confidence": 0.98}},
		},
	}
}

func TestDeepgramSessionCommitsUtterances(t *testing.T) {
	gotAudio := make(chan []byte, 1)
	url := newWSServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/v1/listen" || q.Get("encoding") != "mulaw" || q.Get("sample_rate") != "8000" || q.Get("model") != "nova-3" {
			http.Error(w, "bad listen url "+r.URL.String(), http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Token dg-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msgType, data, err := conn.ReadMessage()
		if err != nil || msgType != websocket.BinaryMessage {
			return
		}
		gotAudio <- data

		_ = conn.WriteJSON(deepgramResult("hel", false, false))
		_ = conn.WriteJSON(deepgramResult("hello there", true, false))
		_ = conn.WriteJSON(map[string]any{"type": "UtteranceEnd", "last_word_end": 1.2})
		_ = conn.WriteJSON(deepgramResult("goodbye", true, true))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "busy"), time.Now().Add(time.Second))
	})

	p := NewDeepgramProvider(DeepgramConfig{APIKey: "dg-key", WSBaseURL: url})
	session, events, err := p.StartSession(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	defer session.Close()

	if err := session.SendAudioChunk(context.Background(), base64.StdEncoding.EncodeToString([]byte{0x7f, 0xff})); err != nil {
		t.Fatalf("SendAudioChunk() error = %v", err)
	}
	select {
	case data := <-gotAudio:
		if len(data) != 2 || data[0] != 0x7f {
			t.Fatalf("server audio = %v, want decoded chunk", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received audio")
	}

	if ev := nextSTTEvent(t, events); ev.Type != STTEventPartial || ev.Text != "hel" {
		t.Fatalf("first event = %+v, want partial hel", ev)
	}
	if ev := nextSTTEvent(t, events); ev.Type != STTEventCommitted || ev.Text != "hello there" {
		t.Fatalf("second event = %+v, want committed after utterance end", ev)
	}
	if ev := nextSTTEvent(t, events); ev.Type != STTEventCommitted || ev.Text != "goodbye" {
		t.Fatalf("third event = %+v, want committed on speech_final", ev)
	}
	ev := nextSTTEvent(t, events)
	if ev.Type != STTEventError || ev.Code != "close_1013" || !ev.Retryable {
		t.Fatalf("close event = %+v, want retryable close_1013", ev)
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("events still open after provider close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events not closed")
	}
}

func TestDeepgramStartSessionRequiresKey(t *testing.T) {
	p := NewDeepgramProvider(DeepgramConfig{})
	if _, _, err := p.StartSession(context.Background(), "CA1"); err == nil {
		t.Fatalf("StartSession() without key succeeded")
	}
}

func TestDeepgramRejectsBadAudio(t *testing.T) {
	s := &deepgramSession{}
	if err := s.SendAudioChunk(context.Background(), "%%%"); err == nil {
		t.Fatalf("SendAudioChunk(invalid base64) succeeded")
	}
}
