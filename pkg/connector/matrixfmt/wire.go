// Copyright 2024-2026 Aiku AI

package matrixfmt

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest message text Slack accepts, in characters.
const MaxMessageLength = 4000

// ErrMessageTooLong is matched by every *TooLongError.
var ErrMessageTooLong = errors.New("message too long")

// TooLongError reports a message that exceeds the Slack length limit.
type TooLongError struct {
	Length int
	Limit  int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("message too long: %d characters, limit is %d", e.Length, e.Limit)
}

func (e *TooLongError) Is(target error) bool {
	return target == ErrMessageTooLong
}

// Directory finds Slack ids by display name.
type Directory interface {
	UserIDByName(name string) (string, bool)
	ChannelIDByName(name string) (string, bool)
}

var broadcasts = []string{"here", "channel", "everyone"}

// ToWire converts display text to Slack message markup. @name and #name
// runs that match a known user or channel become references, and @here,
// @channel and @everyone become broadcasts. Entities are decoded, every &,
// < and > in the result is escaped for Slack, and <br> becomes a newline.
func ToWire(display string, dir Directory) (string, error) {
	var sb strings.Builder
	sb.Grow(len(display))

	for i := 0; i < len(display); {
		c := display[i]

		if c == '@' || c == '#' {
			e := mentionEnd(display, i+1)
			token := display[i+1 : e]
			if c == '@' && isBroadcast(token) {
				sb.WriteString("<!")
				sb.WriteString(token)
				sb.WriteByte('>')
				i = e
				continue
			}
			if id, ok := lookupMention(dir, c, token); ok {
				sb.WriteByte('<')
				sb.WriteByte(c)
				sb.WriteString(id)
				sb.WriteByte('|')
				sb.WriteString(token)
				sb.WriteByte('>')
				i = e
				continue
			}
		}

		if c == '&' {
			if decoded, n := decodeEntity(display[i:]); n > 0 {
				sb.WriteString(escapeWire(decoded))
				i += n
				continue
			}
		}

		if c == '<' && len(display)-i >= 4 && strings.EqualFold(display[i:i+4], "<br>") {
			sb.WriteByte('\n')
			i += 4
			continue
		}

		switch c {
		case '<':
			sb.WriteString("&lt;")
		case '>':
			sb.WriteString("&gt;")
		case '&':
			sb.WriteString("&amp;")
		default:
			sb.WriteByte(c)
		}
		i++
	}

	out := sb.String()
	if n := utf8.RuneCountInString(out); n > MaxMessageLength {
		return "", &TooLongError{Length: n, Limit: MaxMessageLength}
	}
	return out, nil
}

func mentionEnd(s string, e int) int {
	for e < len(s) {
		switch c := s[e]; {
		case isAlnum(c), c == '-', c == '_':
			e++
		case c == '.' && e+1 < len(s) && isAlnum(s[e+1]):
			e++
		default:
			return e
		}
	}
	return e
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isBroadcast(token string) bool {
	for _, b := range broadcasts {
		if token == b {
			return true
		}
	}
	return false
}

func lookupMention(dir Directory, sigil byte, name string) (string, bool) {
	if dir == nil || name == "" {
		return "", false
	}
	if sigil == '@' {
		return dir.UserIDByName(name)
	}
	return dir.ChannelIDByName(name)
}

// decodeEntity decodes a single character reference at the start of s and
// returns the decoded text and the number of bytes consumed, or 0 if s does
// not start with a complete reference.
func decodeEntity(s string) (string, int) {
	const maxEntityLen = 32
	end := strings.IndexByte(s, ';')
	if end < 2 || end > maxEntityLen {
		return "", 0
	}
	ref := s[:end+1]
	if strings.ContainsAny(ref[1:end], " &<>") {
		return "", 0
	}
	decoded := html.UnescapeString(ref)
	if decoded == ref {
		return "", 0
	}
	return decoded, len(ref)
}

var wireEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeWire(s string) string {
	return wireEscaper.Replace(s)
}
