// Copyright 2024-2026 Aiku AI

package slackfmt

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Message is a Slack message event as delivered over the Events API, or one
// entry of a conversation's history.
type Message struct {
	Type             string       `json:"type"`
	SubType          string       `json:"subtype,omitempty"`
	Channel          string       `json:"channel,omitempty"`
	User             string       `json:"user,omitempty"`
	Username         string       `json:"username,omitempty"`
	BotID            string       `json:"bot_id,omitempty"`
	Text             string       `json:"text,omitempty"`
	Timestamp        string       `json:"ts,omitempty"`
	ThreadTimestamp  string       `json:"thread_ts,omitempty"`
	DeletedTimestamp string       `json:"deleted_ts,omitempty"`
	Hidden           bool         `json:"hidden,omitempty"`
	Topic            string       `json:"topic,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	Files            []File       `json:"files,omitempty"`

	SubMessage      *Message `json:"message,omitempty"`
	PreviousMessage *Message `json:"previous_message,omitempty"`
}

// Attachment is a legacy message attachment.
type Attachment struct {
	Color         string    `json:"color,omitempty"`
	Fallback      string    `json:"fallback,omitempty"`
	Pretext       string    `json:"pretext,omitempty"`
	AuthorName    string    `json:"author_name,omitempty"`
	AuthorSubname string    `json:"author_subname,omitempty"`
	AuthorLink    string    `json:"author_link,omitempty"`
	ServiceName   string    `json:"service_name,omitempty"`
	ServiceLink   string    `json:"service_link,omitempty"`
	Title         string    `json:"title,omitempty"`
	TitleLink     string    `json:"title_link,omitempty"`
	Text          string    `json:"text,omitempty"`
	Fields        []Field   `json:"fields,omitempty"`
	Footer        string    `json:"footer,omitempty"`
	Ts            EpochTime `json:"ts,omitempty"`
}

// Field is one title/value pair of an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// File is a shared file reference.
type File struct {
	Title      string `json:"title,omitempty"`
	URLPrivate string `json:"url_private,omitempty"`
	Permalink  string `json:"permalink,omitempty"`
}

// EpochTime is a Unix time that Slack encodes either as a JSON number or as
// a numeric string.
type EpochTime string

func (e *EpochTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = EpochTime(s)
		return nil
	}
	*e = EpochTime(data)
	return nil
}

// Time returns the wall time, or the zero time if the value is absent or
// unparseable.
func (e EpochTime) Time() time.Time {
	s := strings.TrimSpace(string(e))
	if s == "" {
		return time.Time{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return time.Time{}
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9))
}

// FromSlack converts a message returned by the Web API.
func FromSlack(m *slack.Message) *Message {
	if m == nil {
		return nil
	}
	out := fromMsg(&m.Msg)
	if m.SubMessage != nil {
		out.SubMessage = fromMsg(m.SubMessage)
	}
	if m.PreviousMessage != nil {
		out.PreviousMessage = fromMsg(m.PreviousMessage)
	}
	return out
}

func fromMsg(m *slack.Msg) *Message {
	out := &Message{
		Type:             m.Type,
		SubType:          m.SubType,
		Channel:          m.Channel,
		User:             m.User,
		Username:         m.Username,
		BotID:            m.BotID,
		Text:             m.Text,
		Timestamp:        m.Timestamp,
		ThreadTimestamp:  m.ThreadTimestamp,
		DeletedTimestamp: m.DeletedTimestamp,
		Hidden:           m.Hidden,
		Topic:            m.Topic,
	}
	for _, a := range m.Attachments {
		// slack-go drops service_link; unfurls carry the same target in from_url.
		att := Attachment{
			Color:         a.Color,
			Fallback:      a.Fallback,
			Pretext:       a.Pretext,
			AuthorName:    a.AuthorName,
			AuthorSubname: a.AuthorSubname,
			AuthorLink:    a.AuthorLink,
			ServiceName:   a.ServiceName,
			ServiceLink:   a.FromURL,
			Title:         a.Title,
			TitleLink:     a.TitleLink,
			Text:          a.Text,
			Footer:        a.Footer,
			Ts:            EpochTime(a.Ts.String()),
		}
		for _, f := range a.Fields {
			att.Fields = append(att.Fields, Field{Title: f.Title, Value: f.Value})
		}
		out.Attachments = append(out.Attachments, att)
	}
	for _, f := range m.Files {
		out.Files = append(out.Files, File{
			Title:      f.Title,
			URLPrivate: f.URLPrivate,
			Permalink:  f.Permalink,
		})
	}
	return out
}
