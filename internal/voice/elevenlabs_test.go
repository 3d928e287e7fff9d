package voice

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestElevenLabsStreamRoundTrip(t *testing.T) {
	received := make(chan []map[string]any, 1)
	url := newWSServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-1/stream-input" {
			http.Error(w, "bad path "+r.URL.Path, http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		if q.Get("output_format") != "ulaw_8000" || q.Get("model_id") != defaultElevenLabsModel {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		if r.Header.Get("xi-api-key") != "el-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msgs []map[string]any
		for len(msgs) < 3 {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			msgs = append(msgs, msg)
		}
		received <- msgs

		_ = conn.WriteJSON(map[string]any{"audio": "AAA="})
		_ = conn.WriteJSON(map[string]any{"audio": nil, "isFinal": true})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "el-key", WSBaseURL: url})
	stream, err := p.StartStream(context.Background(), "voice-1", "", TTSSettings{Speed: 3})
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer stream.Close()

	if err := stream.SendText(context.Background(), "Hello caller. ", true); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if err := stream.CloseInput(context.Background()); err != nil {
		t.Fatalf("CloseInput() error = %v", err)
	}

	select {
	case msgs := <-received:
		if msgs[0]["text"] != " " {
			t.Fatalf("priming text = %q, want single space", msgs[0]["text"])
		}
		settings, _ := msgs[0]["voice_settings"].(map[string]any)
		if settings["speed"] != 1.2 {
			t.Fatalf("speed = %v, want clamped 1.2", settings["speed"])
		}
		if msgs[1]["text"] != "Hello caller. " || msgs[1]["try_trigger_generation"] != true {
			t.Fatalf("text message = %v", msgs[1])
		}
		if msgs[2]["text"] != "" {
			t.Fatalf("close input = %v, want empty text", msgs[2])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received the stream messages")
	}

	if ev := nextTTSEvent(t, stream.Events()); ev.Type != TTSEventAudio || ev.AudioBase64 != "AAA=" {
		t.Fatalf("first event = %+v, want audio", ev)
	}
	if ev := nextTTSEvent(t, stream.Events()); ev.Type != TTSEventFinal {
		t.Fatalf("second event = %+v, want final", ev)
	}
	select {
	case ev, ok := <-stream.Events():
		if ok {
			t.Fatalf("unexpected event after normal close: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events not closed")
	}
}

func TestElevenLabsStartStreamRequiresVoice(t *testing.T) {
	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k"})
	if _, err := p.StartStream(context.Background(), " ", "", TTSSettings{}); err == nil {
		t.Fatalf("StartStream() without voice succeeded")
	}
}

func TestNormalizeTTSSettings(t *testing.T) {
	got := normalizeTTSSettings(TTSSettings{Stability: 4, Speed: 0.1})
	want := TTSSettings{Stability: 1, SimilarityBoost: 0.8, Speed: 0.7}
	if got != want {
		t.Fatalf("normalizeTTSSettings() = %+v, want %+v", got, want)
	}
}
