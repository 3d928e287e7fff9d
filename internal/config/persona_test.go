package config

import "testing"

func TestParsePersona(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		want    Persona
		wantErr bool
	}{
		{
			name: "canonical keys",
			yaml: "system_prompt: sys\nopening_prompt: open\nfarewell_prompt: bye\nuser_turn_threshold: 2\n",
			want: Persona{SystemPrompt: "sys", OpeningPrompt: "open", FarewellPrompt: "bye", UserTurnThreshold: 2},
		},
		{
			name: "canonical key wins over alias",
			yaml: "opening_prompt: open\ngreetings_prompt: hello\nuser_turn_threshold: 0\nuser_chat_count: 9\n",
			want: Persona{SystemPrompt: defaultSystemPrompt, OpeningPrompt: "open", FarewellPrompt: defaultFarewellPrompt},
		},
		{
			name: "legacy zero count says farewell after opening",
			yaml: "goodbye_prompt: bye\nuser_chat_count: 0\n",
			want: Persona{SystemPrompt: defaultSystemPrompt, OpeningPrompt: defaultOpeningPrompt, FarewellPrompt: "bye", FarewellAtZero: true},
		},
		{
			name: "legacy count keeps threshold",
			yaml: "user_chat_count: 3\n",
			want: Persona{SystemPrompt: defaultSystemPrompt, OpeningPrompt: defaultOpeningPrompt, FarewellPrompt: defaultFarewellPrompt, UserTurnThreshold: 3},
		},
		{
			name: "missing keys keep defaults",
			yaml: "system_prompt: only this\n",
			want: Persona{SystemPrompt: "only this", OpeningPrompt: defaultOpeningPrompt, FarewellPrompt: defaultFarewellPrompt, UserTurnThreshold: defaultUserTurnThreshold},
		},
		{
			name:    "negative threshold",
			yaml:    "user_turn_threshold: -3\n",
			wantErr: true,
		},
		{
			name:    "not yaml",
			yaml:    "system_prompt: [unterminated\n",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePersona([]byte(tc.yaml))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParsePersona() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePersona() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("ParsePersona() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestLoadPersonaMissingFile(t *testing.T) {
	if _, err := LoadPersona("/nonexistent/persona.yaml"); err == nil {
		t.Fatalf("LoadPersona() on missing file succeeded")
	}
}
