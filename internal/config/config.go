package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the call bridge.
type Config struct {
	BindAddr                 string
	PublicHost               string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	OutboundSendTimeout      time.Duration
	MetricsNamespace         string
	LogLevel                 string

	VoiceProvider string

	DeepgramAPIKey    string
	DeepgramWSBaseURL string
	DeepgramSTTModel  string
	DeepgramLanguage  string

	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string

	ChatProvider       string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	ChatRequestTimeout time.Duration
	ChatMaxRetries     int

	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioRequestTimeout time.Duration

	DatabaseURL string

	PersonaPath string
	Persona     Persona
}

// Load reads environment variables, applies safe defaults and resolves the
// persona.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicHost:       stringsTrimSpace("APP_PUBLIC_HOST"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "callbridge"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		VoiceProvider:    strings.ToLower(envOrDefault("VOICE_PROVIDER", "auto")),

		DeepgramAPIKey:    stringsTrimSpace("DEEPGRAM_API_KEY"),
		DeepgramWSBaseURL: envOrDefault("DEEPGRAM_WS_BASE_URL", "wss://api.deepgram.com"),
		DeepgramSTTModel:  envOrDefault("DEEPGRAM_STT_MODEL", "nova-3"),
		DeepgramLanguage:  envOrDefault("DEEPGRAM_LANGUAGE", "en-US"),

		ElevenLabsAPIKey:    stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		// Rachel, a premade voice available on every account.
		ElevenLabsTTSVoice: envOrDefault("ELEVENLABS_TTS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsTTSModel: envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_turbo_v2_5"),
		// Twilio plays mu-law 8kHz as-is.
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "ulaw_8000"),

		ChatProvider:  strings.ToLower(envOrDefault("CHAT_PROVIDER", "auto")),
		OpenAIAPIKey:  stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL: stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:   envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),

		TwilioAccountSID: stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  stringsTrimSpace("TWILIO_AUTH_TOKEN"),

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
		PersonaPath: stringsTrimSpace("PERSONA_CONFIG_PATH"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		OutboundSendTimeout:      600 * time.Millisecond,
		ChatRequestTimeout:       20 * time.Second,
		ChatMaxRetries:           2,
		TwilioRequestTimeout:     10 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboundSendTimeout, err = durationFromEnv("APP_OUTBOUND_SEND_TIMEOUT", cfg.OutboundSendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatRequestTimeout, err = durationFromEnv("CHAT_REQUEST_TIMEOUT", cfg.ChatRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatMaxRetries, err = intFromEnv("CHAT_MAX_RETRIES", cfg.ChatMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.TwilioRequestTimeout, err = durationFromEnv("TWILIO_REQUEST_TIMEOUT", cfg.TwilioRequestTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.Persona, err = LoadPersona(cfg.PersonaPath)
	if err != nil {
		return Config{}, err
	}
	threshold, err := intFromEnv("USER_TURN_THRESHOLD", cfg.Persona.UserTurnThreshold)
	if err != nil {
		return Config{}, err
	}
	if stringsTrimSpace("USER_TURN_THRESHOLD") != "" {
		cfg.Persona.FarewellAtZero = false
	}
	cfg.Persona.UserTurnThreshold = threshold

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.VoiceProvider {
	case "auto", "live", "mock":
	default:
		return fmt.Errorf("VOICE_PROVIDER must be auto, live or mock, got %q", c.VoiceProvider)
	}
	switch c.ChatProvider {
	case "auto", "openai", "mock":
	default:
		return fmt.Errorf("CHAT_PROVIDER must be auto, openai or mock, got %q", c.ChatProvider)
	}
	if c.VoiceProvider == "live" {
		if c.DeepgramAPIKey == "" || c.ElevenLabsAPIKey == "" {
			return fmt.Errorf("VOICE_PROVIDER=live requires DEEPGRAM_API_KEY and ELEVENLABS_API_KEY")
		}
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" {
			return fmt.Errorf("VOICE_PROVIDER=live requires TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN")
		}
	}
	if c.SessionInactivityTimeout < 30*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 30s")
	}
	if c.OutboundSendTimeout <= 0 {
		return fmt.Errorf("APP_OUTBOUND_SEND_TIMEOUT must be positive")
	}
	if c.ChatMaxRetries < 0 {
		return fmt.Errorf("CHAT_MAX_RETRIES must be >= 0")
	}
	return c.Persona.Validate()
}

// LiveVoice reports whether the real speech vendors and Twilio REST should be
// used. Auto mode needs every key present.
func (c Config) LiveVoice() bool {
	switch c.VoiceProvider {
	case "live":
		return true
	case "mock":
		return false
	}
	return c.DeepgramAPIKey != "" && c.ElevenLabsAPIKey != "" &&
		c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
