package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	codeFencePattern  = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`([^`]*)`")
	mdLinkPattern     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURLPattern    = regexp.MustCompile(`https?://\S+`)
	listMarkerPattern = regexp.MustCompile(`(?m)^\s*(?:[-*+•]|\d+[.)])\s+`)
	headingPattern    = regexp.MustCompile(`(?m)^\s*#{1,6}\s*`)
	emphasisReplacer  = strings.NewReplacer("**", "", "__", "", "*", "", "~~", "")
)

// speakableText turns chat model output into text that reads naturally over
// a phone line. List items become separate sentences.
func speakableText(raw string) string {
	text := codeFencePattern.ReplaceAllString(raw, " ")
	text = inlineCodePattern.ReplaceAllString(text, "$1")
	text = mdLinkPattern.ReplaceAllString(text, "$1")
	text = bareURLPattern.ReplaceAllString(text, " ")
	text = headingPattern.ReplaceAllString(text, "")
	text = listMarkerPattern.ReplaceAllString(text, "")
	text = emphasisReplacer.Replace(text)

	lines := strings.Split(text, "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, dropGlyph), " ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if last := line[len(line)-1]; !strings.ContainsRune(".!?,;:", rune(last)) && len(lines) > 1 {
			line += "."
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

// dropGlyph splits on whitespace and on symbols a voice would read aloud.
func dropGlyph(r rune) bool {
	if unicode.IsSpace(r) || unicode.IsControl(r) {
		return true
	}
	switch r {
	case '\u200d', '\ufe0f', '|', '#', '<', '>', '\\':
		return true
	}
	return unicode.In(r, unicode.So, unicode.Sk)
}
