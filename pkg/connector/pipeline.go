// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/format"

	"github.com/aiku/mautrix-slack/pkg/connector/registry"
	"github.com/aiku/mautrix-slack/pkg/connector/resolver"
	"github.com/aiku/mautrix-slack/pkg/connector/slackfmt"
)

// Message subtypes with special handling.
const (
	subtypeChanged    = "message_changed"
	subtypeDeleted    = "message_deleted"
	subtypeTopic      = "channel_topic"
	subtypeGroupTopic = "group_topic"
)

const (
	editedAnnotationOpen  = `<br/><font color="` + slackfmt.ColorNeutral + `"><i>(edited) Old message: `
	editedAnnotationClose = `</i></font>`
	deletedMarker         = `(<font color="` + slackfmt.ColorNeutral + `"><i>Deleted message</i></font>`
)

// RenderKind says what a rendered event does to the conversation.
type RenderKind int

const (
	RenderMessage RenderKind = iota
	RenderEdit
	RenderDelete
)

func (k RenderKind) String() string {
	switch k {
	case RenderEdit:
		return "edit"
	case RenderDelete:
		return "delete"
	default:
		return "message"
	}
}

// Rendered is a message event after conversation resolution and markup
// conversion, ready for display.
type Rendered struct {
	Kind           RenderKind
	Conversation   registry.Entity
	ConversationID string

	SenderID   string
	SenderName string

	HTML string
	Body string

	FromMe     bool
	MentionsMe bool
	System     bool
	Hidden     bool
	Emote      bool
	// Delayed is set for history replayed by backfill. Such events are only
	// handed to bridgev2 as backfill, never queued as live events.
	Delayed bool

	Timestamp string
	// TargetTimestamp is the message an edit or delete applies to.
	TargetTimestamp string
	ThreadTimestamp string
	Time            time.Time

	// Topic is set when the message changed the conversation topic.
	Topic *string
}

// Sink displays rendered events.
type Sink interface {
	Deliver(ctx context.Context, r *Rendered)
}

type conversationResolver interface {
	Resolve(ctx context.Context, id string, cb resolver.Callback[registry.Entity])
}

type userResolver interface {
	Resolve(ctx context.Context, id string, cb resolver.Callback[*registry.User])
}

// Pipeline turns inbound message events into rendered events, suppressing
// duplicates and tracking the last seen timestamp of every conversation.
type Pipeline struct {
	registry      *registry.Registry
	conversations conversationResolver
	users         userResolver
	converter     *slackfmt.Converter
	sink          Sink
	openOnMessage bool
	log           zerolog.Logger
}

// Handle resolves the conversation and sender of a live message event,
// renders it and hands it to the sink. It returns once the event has been
// delivered or dropped, or when ctx is done.
func (p *Pipeline) Handle(ctx context.Context, msg *slackfmt.Message) {
	if msg == nil || msg.Channel == "" {
		return
	}
	done := make(chan struct{})
	p.conversations.Resolve(ctx, msg.Channel, func(conv registry.Entity, err error) {
		if err != nil {
			p.log.Warn().Err(err).
				Str("channel_id", msg.Channel).
				Str("ts", msg.Timestamp).
				Msg("Failed to resolve conversation, dropping message")
			close(done)
			return
		}
		p.withSender(ctx, msg, func() {
			defer close(done)
			if r := p.render(conv, msg, false); r != nil {
				p.sink.Deliver(ctx, r)
			}
		})
	})
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// withSender makes sure the sender is known before next runs, so mentions
// and display names render with a name. An unresolvable sender is not fatal.
func (p *Pipeline) withSender(ctx context.Context, msg *slackfmt.Message, next func()) {
	sender := messageAuthor(msg)
	if sender == nil || sender.User == "" || p.users == nil {
		next()
		return
	}
	p.users.Resolve(ctx, sender.User, func(_ *registry.User, err error) {
		if err != nil {
			p.log.Debug().Err(err).Str("user_id", sender.User).Msg("Failed to resolve sender")
		}
		next()
	})
}

// Backfill renders history for conv. msgs are newest-first as the history
// API returns them; the result is oldest-first.
func (p *Pipeline) Backfill(conv registry.Entity, msgs []*slackfmt.Message) []*Rendered {
	out := make([]*Rendered, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if r := p.render(conv, msgs[i], true); r != nil {
			out = append(out, r)
		}
	}
	return out
}

// MarkSent records the timestamp of a message this session just sent. It
// reports false if the echo of that message was already displayed.
func (p *Pipeline) MarkSent(conv registry.Entity, ts string) bool {
	return registry.CompareAndAdvance(conv, ts, slackfmt.CompareTimestamps)
}

// messageAuthor returns the message carrying the author of msg: the new
// message for an edit and the removed one for a delete.
func messageAuthor(msg *slackfmt.Message) *slackfmt.Message {
	switch msg.SubType {
	case subtypeChanged:
		return msg.SubMessage
	case subtypeDeleted:
		return msg.PreviousMessage
	default:
		return msg
	}
}

func (p *Pipeline) render(conv registry.Entity, msg *slackfmt.Message, delayed bool) *Rendered {
	if msg == nil {
		return nil
	}
	ts := msg.Timestamp
	if ts != "" && slackfmt.CompareTimestamps(ts, conv.LastMessageTimestamp()) == 0 {
		p.log.Debug().Str("ts", ts).Str("conversation_id", conv.ID()).Msg("Dropping duplicate message")
		return nil
	}

	r := &Rendered{
		Kind:           RenderMessage,
		Conversation:   conv,
		ConversationID: conv.ConversationID(),
		Delayed:        delayed,
		Timestamp:      ts,
		Time:           slackfmt.ParseTimestamp(ts),
	}
	if r.ConversationID == "" {
		r.ConversationID = msg.Channel
	}

	author := messageAuthor(msg)
	switch msg.SubType {
	case subtypeChanged:
		if author == nil {
			return nil
		}
		r.Kind = RenderEdit
		r.TargetTimestamp = author.Timestamp
		parsed := p.converter.MessageToHTML(author)
		r.HTML = parsed.HTML
		r.MentionsMe = parsed.MentionsMe
		r.Emote = parsed.Emote
		if prev := msg.PreviousMessage; prev != nil && prev.Text != author.Text {
			old, _ := p.converter.TextToHTML(prev.Text, "")
			r.HTML += editedAnnotationOpen + old + editedAnnotationClose
		}
	case subtypeDeleted:
		r.Kind = RenderDelete
		r.TargetTimestamp = msg.DeletedTimestamp
		r.HTML = deletedMarker
		if prev := msg.PreviousMessage; prev != nil {
			if r.TargetTimestamp == "" {
				r.TargetTimestamp = prev.Timestamp
			}
			if old := p.converter.MessageToHTML(prev).HTML; old != "" {
				r.HTML += ": " + old
			}
		}
		r.HTML += ")"
	default:
		parsed := p.converter.MessageToHTML(msg)
		r.HTML = parsed.HTML
		r.MentionsMe = parsed.MentionsMe
		r.System = parsed.System
		r.Hidden = parsed.Hidden
		r.Emote = parsed.Emote
	}
	if r.HTML == "" {
		return nil
	}

	if ch, ok := conv.(*registry.Channel); ok && !delayed && ch.Handle() == 0 {
		if !p.openOnMessage || !ch.Kind().Joined() {
			p.log.Debug().
				Str("channel_id", ch.ID()).
				Stringer("kind", ch.Kind()).
				Msg("Dropping message for channel that is not open")
			return nil
		}
		p.registry.Open(ch)
	}

	if author != nil {
		r.SenderID = author.User
		if r.SenderID == "" {
			r.SenderID = author.BotID
		}
		r.SenderName = p.senderName(author)
		r.FromMe = author.User != "" && author.User == p.registry.SelfID()
		if author.ThreadTimestamp != "" && author.ThreadTimestamp != author.Timestamp {
			r.ThreadTimestamp = author.ThreadTimestamp
		}
	}
	if msg.SubType == subtypeTopic || msg.SubType == subtypeGroupTopic {
		topic := msg.Topic
		r.Topic = &topic
		if ch, ok := conv.(*registry.Channel); ok {
			p.registry.UpsertChannel(ch.ID(), registry.ChannelFields{Topic: &topic})
		}
	}
	r.Body = format.HTMLToText(r.HTML)

	registry.Advance(conv, ts, slackfmt.CompareTimestamps)
	return r
}

func (p *Pipeline) senderName(author *slackfmt.Message) string {
	if author.Username != "" {
		return author.Username
	}
	if name, ok := p.registry.UserName(author.User); ok {
		return name
	}
	if author.User != "" {
		return author.User
	}
	return author.BotID
}
