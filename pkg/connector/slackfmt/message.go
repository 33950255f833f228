// Copyright 2024-2026 Aiku AI

package slackfmt

import (
	"strings"
	"time"
)

// Side-bar colours for the named attachment colours.
const (
	ColorNeutral = "#717274"
	ColorGood    = "#2fa44f"
	ColorWarning = "#de9e31"
	ColorDanger  = "#d50200"
)

// Placeholders for attachment fields that lack a title or value.
const (
	UnknownFieldTitle = "Unknown Field Title"
	UnknownFieldValue = "Unknown Field Value"
)

// AttachmentColor maps a Slack colour keyword to a hex colour. Values that
// are not keywords are returned unchanged.
func AttachmentColor(c string) string {
	switch c {
	case "":
		return ColorNeutral
	case "good":
		return ColorGood
	case "warning":
		return ColorWarning
	case "danger":
		return ColorDanger
	default:
		return c
	}
}

// MessageToHTML renders a message: its text, then its files, then its
// attachments.
func (c *Converter) MessageToHTML(m *Message) *Parsed {
	p := &Parsed{}
	if m == nil {
		return p
	}
	p.Hidden = m.Hidden
	switch {
	case m.SubType == "me_message":
		p.Emote = true
	case m.SubType != "" && m.Username == "":
		p.System = true
	}

	var sb strings.Builder
	text, mentionsMe := c.TextToHTML(m.Text, "")
	sb.WriteString(text)
	p.MentionsMe = mentionsMe
	for i := range m.Files {
		c.writeFile(&sb, &m.Files[i])
	}
	for i := range m.Attachments {
		c.writeAttachment(&sb, &m.Attachments[i])
	}
	p.HTML = sb.String()
	return p
}

func (c *Converter) writeFile(sb *strings.Builder, f *File) {
	url := f.URLPrivate
	if url == "" {
		url = f.Permalink
	}
	title := f.Title
	if title == "" {
		title = "file"
	}
	sb.WriteString("<br/>")
	sb.WriteString(c.prefix())
	writeLink(sb, url, title)
}

// writeAttachment renders the sections of an attachment in a fixed order:
// pretext, byline, title, text, fields, footer, timestamp. Absent sections
// are skipped.
func (c *Converter) writeAttachment(sb *strings.Builder, a *Attachment) {
	bar := `<font color="` + attrEscaper.Replace(AttachmentColor(a.Color)) + `">` + c.prefix() + "</font>"
	br := "<br/>" + bar

	if a.Pretext != "" {
		sb.WriteString(br)
		text, _ := c.TextToHTML(a.Pretext, bar)
		sb.WriteString(text)
	}

	if a.ServiceName != "" || a.AuthorName != "" || a.AuthorSubname != "" {
		sb.WriteString(br)
		sb.WriteString("<b>")
		maybeLink(sb, a.ServiceLink, a.ServiceName)
		if a.ServiceName != "" && a.AuthorName != "" {
			sb.WriteString(" - ")
		}
		maybeLink(sb, a.AuthorLink, a.AuthorName)
		sb.WriteString(a.AuthorSubname)
		sb.WriteString("</b>")
	}

	if a.Title != "" {
		sb.WriteString(br)
		sb.WriteString("<b><i>")
		maybeLink(sb, a.TitleLink, a.Title)
		sb.WriteString("</i></b>")
	}

	if a.Text != "" {
		sb.WriteString(br)
		sb.WriteString("<i>")
		text, _ := c.TextToHTML(a.Text, bar)
		sb.WriteString(text)
		sb.WriteString("</i>")
	}

	for _, f := range a.Fields {
		title, value := f.Title, f.Value
		if title == "" {
			title = UnknownFieldTitle
		}
		if value == "" {
			value = UnknownFieldValue
		}
		sb.WriteString("<br />")
		sb.WriteString(bar)
		sb.WriteString("<b>")
		sb.WriteString(title)
		sb.WriteString("</b>: <i>")
		sb.WriteString(value)
		sb.WriteString("</i>")
	}

	if a.Footer != "" {
		sb.WriteString(br)
		sb.WriteString(a.Footer)
	}

	if ts := a.Ts.Time(); !ts.IsZero() {
		sb.WriteString(br)
		sb.WriteString(ts.In(c.location()).Format(time.ANSIC))
	}
}

func maybeLink(sb *strings.Builder, url, text string) {
	if text == "" {
		return
	}
	if url == "" {
		sb.WriteString(text)
		return
	}
	writeLink(sb, url, text)
}
