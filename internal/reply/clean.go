// Package reply turns the raw byte burst read back from an HDMI matrix into
// cleaned payload lines and extracts typed fields from them.
//
// The device wording is loose and varies between firmware builds, so every
// rule that knows about that wording lives in this package.
package reply

import "strings"

// Markers of non-payload output the matrix mixes into replies.
const (
	bannerMarker   = "********"
	firmwareMarker = "FW Version"
	welcomeMarker  = "Welcome"
	prompt         = ">"
)

// Clean strips echo, banner and prompt noise from raw and returns the
// remaining payload lines in order. command is the line that produced the
// reply; its first word identifies echoed lines. A reply made only of noise
// yields an empty slice.
func Clean(raw []byte, command string) []string {
	text := strings.TrimSpace(decodeASCII(raw))
	if text == "" {
		return []string{}
	}

	echo := ""
	if f := strings.Fields(command); len(f) > 0 {
		echo = f[0]
	}

	lines := splitLines(text)
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if isNoise(line, echo) {
			continue
		}
		line = strings.TrimSpace(strings.Trim(line, prompt))
		if line == "" {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return cleaned
}

// decodeASCII drops every byte with the high bit set. The protocol is plain
// ASCII; anything else is line noise or telnet negotiation residue.
func decodeASCII(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c < 0x80 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// splitLines splits on CR, LF or CRLF and drops blank lines.
func splitLines(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r'
	})
	out := fields[:0]
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isNoise(line, echo string) bool {
	switch {
	case echo != "" && strings.HasPrefix(line, echo):
		return true
	case strings.HasPrefix(line, bannerMarker):
		return true
	case strings.HasPrefix(line, firmwareMarker):
		return true
	case line == prompt:
		return true
	case strings.Contains(line, welcomeMarker):
		return true
	}
	return false
}
