// Copyright 2024-2026 Aiku AI

// Package slackfmt converts Slack message markup and attachments to Matrix HTML.
//
// Slack text arrives with &, < and > already entity-escaped, so free text is
// valid HTML as-is and is copied through unchanged. Only <...> reference
// tokens and newlines are rewritten. Conversion never fails: any token that
// cannot be interpreted is emitted as literal text.
package slackfmt

import (
	"html"
	"strings"
	"time"
)

// Lookup resolves ids that are already known locally. It must not block.
type Lookup interface {
	SelfID() string
	UserName(id string) (string, bool)
	ChannelName(id string) (string, bool)
}

// DefaultAttachmentPrefix is the side-bar glyph drawn before attachment lines.
const DefaultAttachmentPrefix = "▎ "

// Converter renders Slack messages for one session.
type Converter struct {
	Lookup Lookup
	// AttachmentPrefix replaces DefaultAttachmentPrefix when set.
	AttachmentPrefix string
	// Location is used to render attachment timestamps; nil means UTC.
	Location *time.Location
}

// Parsed is a rendered message and the flags derived while rendering it.
type Parsed struct {
	HTML       string
	MentionsMe bool
	// Emote is set for /me messages.
	Emote bool
	// System is set for subtyped messages (joins, topic changes...) that were
	// not posted under a custom username.
	System bool
	Hidden bool
}

var broadcastKeywords = map[string]bool{
	"channel":  true,
	"group":    true,
	"here":     true,
	"everyone": true,
}

// TextToHTML converts Slack markup to HTML. Every newline becomes a <br/>
// followed by prefix, which lets attachment bodies keep their side bar on
// every line. The second result reports whether the text mentions the
// session user, directly or through a broadcast keyword.
func (c *Converter) TextToHTML(text, prefix string) (string, bool) {
	var sb strings.Builder
	sb.Grow(len(text))
	mentionsMe := false

	for i := 0; i < len(text); {
		ch := text[i]
		if ch == '\n' {
			sb.WriteString("<br/>")
			sb.WriteString(prefix)
			i++
			continue
		}
		if ch != '<' {
			next := strings.IndexAny(text[i:], "\n<")
			if next < 0 {
				sb.WriteString(text[i:])
				break
			}
			sb.WriteString(text[i : i+next])
			i += next
			continue
		}

		end := strings.IndexByte(text[i+1:], '>')
		if end < 0 {
			// Unterminated token.
			sb.WriteString("&lt;")
			i++
			continue
		}
		body := text[i+1 : i+1+end]
		i += end + 2
		if c.writeToken(&sb, body) {
			mentionsMe = true
		}
	}
	return sb.String(), mentionsMe
}

func (c *Converter) writeToken(sb *strings.Builder, body string) (mentionsMe bool) {
	ref, label, hasLabel := strings.Cut(body, "|")
	if ref == "" {
		sb.WriteString("&lt;")
		sb.WriteString(body)
		sb.WriteString("&gt;")
		return false
	}

	switch ref[0] {
	case '#':
		id := ref[1:]
		sb.WriteByte('#')
		if hasLabel {
			sb.WriteString(label)
		} else if name, ok := c.channelName(id); ok {
			sb.WriteString(html.EscapeString(name))
		} else {
			sb.WriteString(id)
		}
	case '@':
		id := ref[1:]
		if c.Lookup != nil && id != "" && id == c.Lookup.SelfID() {
			mentionsMe = true
		}
		sb.WriteByte('@')
		if hasLabel {
			sb.WriteString(label)
		} else if name, ok := c.userName(id); ok {
			sb.WriteString(html.EscapeString(name))
		} else {
			sb.WriteString(id)
		}
	case '!':
		cmd := ref[1:]
		text := cmd
		if hasLabel {
			text = label
		}
		if broadcastKeywords[cmd] {
			mentionsMe = true
			if !strings.HasPrefix(text, "@") {
				sb.WriteByte('@')
			}
			sb.WriteString(text)
		} else {
			sb.WriteString("&lt;")
			sb.WriteString(text)
			sb.WriteString("&gt;")
		}
	default:
		text := ref
		if hasLabel {
			text = label
		}
		writeLink(sb, ref, text)
	}
	return mentionsMe
}

func (c *Converter) userName(id string) (string, bool) {
	if c.Lookup == nil {
		return "", false
	}
	return c.Lookup.UserName(id)
}

func (c *Converter) channelName(id string) (string, bool) {
	if c.Lookup == nil {
		return "", false
	}
	return c.Lookup.ChannelName(id)
}

func (c *Converter) prefix() string {
	if c.AttachmentPrefix != "" {
		return c.AttachmentPrefix
	}
	return DefaultAttachmentPrefix
}

func (c *Converter) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

var attrEscaper = strings.NewReplacer(`"`, "&quot;")

// writeLink emits an anchor. url and text are wire text and already escaped,
// except for quotes which would end the attribute.
func writeLink(sb *strings.Builder, url, text string) {
	sb.WriteString(`<a href="`)
	sb.WriteString(attrEscaper.Replace(url))
	sb.WriteString(`">`)
	sb.WriteString(text)
	sb.WriteString("</a>")
}
