package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		marker string
	}{
		{"email", "reach me at sam@example.com please", "[REDACTED_EMAIL]"},
		{"card", "it's 4242 4242 4242 4242", "[REDACTED_CARD]"},
		{"ssn", "my social is 123-45-6789", "[REDACTED_SSN]"},
		{"phone", "call +1 (555) 123-9876 tomorrow", "[REDACTED_PHONE]"},
		{"spoken digits", "my number is five five five, one two one two", "[REDACTED_NUMBER]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, changed := RedactPII(tc.input)
			if !changed {
				t.Fatalf("RedactPII(%q) changed = false", tc.input)
			}
			if !strings.Contains(out, tc.marker) {
				t.Fatalf("RedactPII(%q) = %q, missing %s", tc.input, out, tc.marker)
			}
		})
	}
}

func TestRedactPIILeavesOrdinarySpeechAlone(t *testing.T) {
	input := "I'd like two tickets for one show at nine"
	out, changed := RedactPII(input)
	if changed || out != input {
		t.Fatalf("RedactPII(%q) = %q, %v", input, out, changed)
	}
}
