package mailtext

import (
	"regexp"
	"strings"
)

var (
	onWroteRe     = regexp.MustCompile(`(?i)^on\s.+\swrote:\s*$`)
	outlookRe     = regexp.MustCompile(`(?i)^from:\s.*\bsent:\s.*\bto:`)
	fromLineRe    = regexp.MustCompile(`(?i)^from:\s`)
	sentLineRe    = regexp.MustCompile(`(?i)^(sent|date):\s`)
	originalRe    = regexp.MustCompile(`(?i)^-{2,}\s*original message\s*-{2,}$`)
	signatureRe   = regexp.MustCompile(`(?i)^(sent from\b|(best |kind |warm )?regards,|thanks,|thank you,|cheers,|--\s*$)`)
	replyPrefixRe = regexp.MustCompile(`(?i)^\s*(re|fwd|fw)\s*:\s*`)
)

// StripQuotedReply keeps the newly written part of a plain-text body. Once real
// content has begun, the first quoted-reply header or signature marker ends
// the body. Quote headers seen before any content are dropped and scanning continues.
func StripQuotedReply(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	started := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isQuoteMarker(trimmed, lines[i+1:]) {
			if started {
				break
			}
			continue
		}
		if started && signatureRe.MatchString(trimmed) {
			break
		}
		if trimmed != "" {
			started = true
		}
		if started {
			out = append(out, strings.TrimRight(line, " \t"))
		}
	}

	return normalizeWhitespace(strings.Join(out, "\n"))
}

func isQuoteMarker(line string, rest []string) bool {
	if line == "" {
		return false
	}
	if onWroteRe.MatchString(line) || outlookRe.MatchString(line) || originalRe.MatchString(line) {
		return true
	}
	// Outlook writes From/Sent/To on separate lines.
	if fromLineRe.MatchString(line) {
		for j := 0; j < len(rest) && j < 2; j++ {
			if sentLineRe.MatchString(strings.TrimSpace(rest[j])) {
				return true
			}
		}
	}
	return false
}

// NormalizeSubject strips any run of Re:/Fwd:/Fw: prefixes and lower-cases the rest.
func NormalizeSubject(subject string) string {
	s := subject
	for {
		stripped := replyPrefixRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Preview returns at most n runes of text with whitespace collapsed.
func Preview(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n])
}
