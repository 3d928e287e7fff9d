package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultSynthesisTimeout = 20 * time.Second

var errEmptySpeech = errors.New("synthesis produced no audio")

// SpeechConfig selects the voice used for every utterance of a call.
type SpeechConfig struct {
	VoiceID  string
	ModelID  string
	Settings TTSSettings
	Timeout  time.Duration
}

type speechRequest struct {
	label string
	text  string
}

// speechResult is one synthesized Playback Unit, or the reason there is none.
type speechResult struct {
	label   string
	audio   string
	err     error
	elapsed time.Duration
}

// speechWorker synthesizes one call's utterances strictly in request order,
// so Playback Units reach the transport in the order they were issued.
type speechWorker struct {
	tts     TTSProvider
	cfg     SpeechConfig
	results chan<- speechResult

	mu    sync.Mutex
	queue []speechRequest
	wake  chan struct{}
}

func newSpeechWorker(tts TTSProvider, cfg SpeechConfig, results chan<- speechResult) *speechWorker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSynthesisTimeout
	}
	return &speechWorker{
		tts:     tts,
		cfg:     cfg,
		results: results,
		wake:    make(chan struct{}, 1),
	}
}

// enqueue never blocks the caller.
func (w *speechWorker) enqueue(label, text string) {
	w.mu.Lock()
	w.queue = append(w.queue, speechRequest{label: label, text: text})
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *speechWorker) next() (speechRequest, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return speechRequest{}, false
	}
	req := w.queue[0]
	w.queue = w.queue[1:]
	return req, true
}

func (w *speechWorker) run(ctx context.Context) {
	for {
		req, ok := w.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}

		started := time.Now()
		audio, err := w.synthesize(ctx, req)
		res := speechResult{label: req.label, audio: audio, err: err, elapsed: time.Since(started)}
		select {
		case w.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (w *speechWorker) synthesize(parent context.Context, req speechRequest) (string, error) {
	ctx, cancel := context.WithTimeout(parent, w.cfg.Timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("playback.label", req.label),
		attribute.Int("tts.chars", len(req.text)),
	))
	defer span.End()

	text := speakableText(req.text)
	if text == "" {
		text = strings.TrimSpace(req.text)
	}
	audio, err := w.stream(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return audio, nil
}

func (w *speechWorker) stream(ctx context.Context, text string) (string, error) {
	stream, err := w.tts.StartStream(ctx, w.cfg.VoiceID, w.cfg.ModelID, w.cfg.Settings)
	if err != nil {
		return "", fmt.Errorf("start tts stream: %w", err)
	}
	defer func() {
		_ = stream.Close()
		for range stream.Events() {
		}
	}()

	// A trailing space lets the provider flush the final word.
	if err := stream.SendText(ctx, text+" ", true); err != nil {
		return "", fmt.Errorf("send tts text: %w", err)
	}
	if err := stream.CloseInput(ctx); err != nil {
		return "", fmt.Errorf("close tts input: %w", err)
	}

	var audio []byte
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("await tts audio: %w", ctx.Err())
		case ev, ok := <-stream.Events():
			if !ok {
				return encodeSpeech(audio)
			}
			switch ev.Type {
			case TTSEventAudio:
				chunk, err := base64.StdEncoding.DecodeString(ev.AudioBase64)
				if err != nil {
					return "", fmt.Errorf("decode tts audio: %w", err)
				}
				audio = append(audio, chunk...)
			case TTSEventFinal:
				return encodeSpeech(audio)
			case TTSEventError:
				return "", fmt.Errorf("tts provider error %s: %s", ev.Code, ev.Detail)
			}
		}
	}
}

func encodeSpeech(audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errEmptySpeech
	}
	return base64.StdEncoding.EncodeToString(audio), nil
}
