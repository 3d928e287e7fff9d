package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antoniostano/callbridge/internal/calllog"
	"github.com/antoniostano/callbridge/internal/chat"
	"github.com/antoniostano/callbridge/internal/config"
	"github.com/antoniostano/callbridge/internal/httpapi"
	"github.com/antoniostano/callbridge/internal/observability"
	"github.com/antoniostano/callbridge/internal/session"
	"github.com/antoniostano/callbridge/internal/telephony"
	"github.com/antoniostano/callbridge/internal/voice"
)

const janitorInterval = 15 * time.Second

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	observability.SetLogLevel(cfg.LogLevel)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	callLog, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("call log init failed: %w", err)
	}
	defer callLog.Close()

	backend, chatMode, err := chat.NewBackend(chat.Config{
		Mode:           cfg.ChatProvider,
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Model:          cfg.OpenAIModel,
		RequestTimeout: cfg.ChatRequestTimeout,
		MaxRetries:     cfg.ChatMaxRetries,
	})
	if err != nil {
		return fmt.Errorf("chat backend init failed: %w", err)
	}
	log.Printf("chat provider: %s", chatMode)

	providers, err := buildVoiceProviders(cfg)
	if err != nil {
		return err
	}
	log.Printf("voice provider: %s", providers.mode)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(call session.Call) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		log.Printf("call %s expired after inactivity (call_sid=%s)", call.ID, call.CallSID)
	})

	orchestrator, err := voice.NewOrchestrator(voice.Options{
		STT:       providers.stt,
		TTS:       providers.tts,
		Generator: chat.NewTurnGenerator(backend),
		Calls:     providers.calls,
		Persona: voice.Persona{
			SystemPrompt:      cfg.Persona.SystemPrompt,
			OpeningPrompt:     cfg.Persona.OpeningPrompt,
			FarewellPrompt:    cfg.Persona.FarewellPrompt,
			UserTurnThreshold: cfg.Persona.UserTurnThreshold,
			FarewellAtZero:    cfg.Persona.FarewellAtZero,
		},
		Speech: voice.SpeechConfig{
			VoiceID: cfg.ElevenLabsTTSVoice,
			ModelID: cfg.ElevenLabsTTSModel,
		},
		Sessions:    sessions,
		CallLog:     callLog,
		Metrics:     metrics,
		SendTimeout: cfg.OutboundSendTimeout,
		HangupWait:  cfg.TwilioRequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	api := httpapi.New(cfg, sessions, orchestrator, callLog, metrics)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	sessions.StartJanitor(runCtx, janitorInterval)

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		log.Printf("shutdown signal received")
	case err := <-serveErr:
		return fmt.Errorf("listen error: %w", err)
	case <-ctx.Done():
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
	return nil
}

type voiceProviders struct {
	stt   voice.STTProvider
	tts   voice.TTSProvider
	calls voice.CallController
	mode  string
}

// buildVoiceProviders picks the live vendors or the mock. Config validation
// already guarantees live mode has every key.
func buildVoiceProviders(cfg config.Config) (voiceProviders, error) {
	if !cfg.LiveVoice() {
		p := voice.NewMockProvider()
		return voiceProviders{stt: p, tts: p, calls: telephony.LogController{}, mode: "mock"}, nil
	}

	calls, err := telephony.NewTwilioController(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioRequestTimeout)
	if err != nil {
		return voiceProviders{}, fmt.Errorf("twilio init failed: %w", err)
	}
	stt := voice.NewDeepgramProvider(voice.DeepgramConfig{
		APIKey:    cfg.DeepgramAPIKey,
		WSBaseURL: cfg.DeepgramWSBaseURL,
		Model:     cfg.DeepgramSTTModel,
		Language:  cfg.DeepgramLanguage,
	})
	tts := voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
		APIKey:       cfg.ElevenLabsAPIKey,
		WSBaseURL:    cfg.ElevenLabsWSBaseURL,
		OutputFormat: cfg.ElevenLabsTTSOutputFormat,
	})
	return voiceProviders{stt: stt, tts: tts, calls: calls, mode: "deepgram+elevenlabs"}, nil
}
