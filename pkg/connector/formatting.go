// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// renderedContent converts a rendered event to Matrix message content. When
// the event mentions the session user and self is known, self is pinged.
func renderedContent(r *Rendered, self id.UserID) *event.MessageEventContent {
	msgType := event.MsgText
	switch {
	case r.Emote:
		msgType = event.MsgEmote
	case r.System:
		msgType = event.MsgNotice
	}
	content := &event.MessageEventContent{
		MsgType:       msgType,
		Body:          r.Body,
		Format:        event.FormatHTML,
		FormattedBody: r.HTML,
	}
	if r.MentionsMe && self != "" {
		content.Mentions = &event.Mentions{UserIDs: []id.UserID{self}}
	}
	return content
}

// convertRendered converts a rendered message to a single-part bridgev2 message.
func convertRendered(r *Rendered, self id.UserID) *bridgev2.ConvertedMessage {
	msg := &bridgev2.ConvertedMessage{
		Parts: []*bridgev2.ConvertedMessagePart{{
			Type:    event.EventMessage,
			Content: renderedContent(r, self),
		}},
	}
	if r.ThreadTimestamp != "" {
		root := MakeMessageID(r.ConversationID, r.ThreadTimestamp)
		msg.ThreadRoot = &root
	}
	return msg
}

// convertRenderedEdit replaces the first part of the edited message.
func convertRenderedEdit(r *Rendered, existing []*database.Message, self id.UserID) (*bridgev2.ConvertedEdit, error) {
	if len(existing) == 0 {
		return nil, fmt.Errorf("no existing message for edit of %s", r.TargetTimestamp)
	}
	return &bridgev2.ConvertedEdit{
		ModifiedParts: []*bridgev2.ConvertedEditPart{{
			Part:    existing[0],
			Type:    event.EventMessage,
			Content: renderedContent(r, self),
		}},
	}, nil
}

func (s *SlackClient) selfMXID() id.UserID {
	if s.userLogin == nil || s.userLogin.UserLogin == nil {
		return ""
	}
	return s.userLogin.UserMXID
}

// backfillMessage converts a rendered history message for bridgev2.
func backfillMessage(r *Rendered, sender bridgev2.EventSender, self id.UserID) *bridgev2.BackfillMessage {
	return &bridgev2.BackfillMessage{
		ConvertedMessage: convertRendered(r, self),
		Sender:           sender,
		ID:               MakeMessageID(r.ConversationID, r.Timestamp),
		Timestamp:        r.Time,
	}
}
