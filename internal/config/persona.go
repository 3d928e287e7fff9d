package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

const (
	defaultSystemPrompt = "You are a friendly assistant answering a phone call. " +
		"Keep every reply to one or two short spoken sentences. " +
		"Never use lists, markdown, links or emoji."
	defaultOpeningPrompt     = "Greet the caller warmly and ask how you can help today."
	defaultFarewellPrompt    = "Thank the caller for the conversation and say goodbye in one sentence."
	defaultUserTurnThreshold = 5
)

// Persona is the scripted part of every call: the system prompt, the two
// injected prompts and how many caller turns happen before the farewell.
// A threshold of zero never says goodbye unless FarewellAtZero is set.
type Persona struct {
	SystemPrompt      string `yaml:"system_prompt" json:"system_prompt"`
	OpeningPrompt     string `yaml:"opening_prompt" json:"opening_prompt"`
	FarewellPrompt    string `yaml:"farewell_prompt" json:"farewell_prompt"`
	UserTurnThreshold int    `yaml:"user_turn_threshold" json:"user_turn_threshold"`

	// FarewellAtZero keeps the meaning of a legacy user_chat_count of 0: the
	// farewell follows the opening instead of being disabled.
	FarewellAtZero bool `yaml:"-" json:"farewell_at_zero,omitempty"`
}

// personaFile also accepts the key names of older persona files.
type personaFile struct {
	SystemPrompt      string `yaml:"system_prompt"`
	OpeningPrompt     string `yaml:"opening_prompt"`
	GreetingsPrompt   string `yaml:"greetings_prompt"`
	FarewellPrompt    string `yaml:"farewell_prompt"`
	GoodbyePrompt     string `yaml:"goodbye_prompt"`
	UserTurnThreshold *int   `yaml:"user_turn_threshold"`
	UserChatCount     *int   `yaml:"user_chat_count"`
}

func DefaultPersona() Persona {
	return Persona{
		SystemPrompt:      defaultSystemPrompt,
		OpeningPrompt:     defaultOpeningPrompt,
		FarewellPrompt:    defaultFarewellPrompt,
		UserTurnThreshold: defaultUserTurnThreshold,
	}
}

// LoadPersona reads a YAML persona file over the defaults. An empty path
// returns the defaults.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	return ParsePersona(data)
}

// ParsePersona decodes persona YAML. Keys that are absent keep their default.
func ParsePersona(data []byte) (Persona, error) {
	var f personaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Persona{}, fmt.Errorf("parse persona yaml: %w", err)
	}

	p := DefaultPersona()
	if v := firstNonEmpty(f.SystemPrompt); v != "" {
		p.SystemPrompt = v
	}
	if v := firstNonEmpty(f.OpeningPrompt, f.GreetingsPrompt); v != "" {
		p.OpeningPrompt = v
	}
	if v := firstNonEmpty(f.FarewellPrompt, f.GoodbyePrompt); v != "" {
		p.FarewellPrompt = v
	}
	switch {
	case f.UserTurnThreshold != nil:
		p.UserTurnThreshold = *f.UserTurnThreshold
	case f.UserChatCount != nil:
		p.UserTurnThreshold = *f.UserChatCount
		p.FarewellAtZero = *f.UserChatCount == 0
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}

func (p Persona) Validate() error {
	switch {
	case strings.TrimSpace(p.SystemPrompt) == "":
		return fmt.Errorf("persona system_prompt is required")
	case strings.TrimSpace(p.OpeningPrompt) == "":
		return fmt.Errorf("persona opening_prompt is required")
	case p.UserTurnThreshold < 0:
		return fmt.Errorf("persona user_turn_threshold must be >= 0, got %d", p.UserTurnThreshold)
	case p.SaysFarewell() && strings.TrimSpace(p.FarewellPrompt) == "":
		return fmt.Errorf("persona farewell_prompt is required when the call ends with a farewell")
	}
	return nil
}

func (p Persona) SaysFarewell() bool {
	return p.UserTurnThreshold > 0 || p.FarewellAtZero
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
