// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-slack/pkg/connector/matrixfmt"
	"github.com/aiku/mautrix-slack/pkg/connector/slackfmt"
)

// HandleMatrixMessage handles a message sent from Matrix to Slack.
func (s *SlackClient) HandleMatrixMessage(ctx context.Context, msg *bridgev2.MatrixMessage) (*bridgev2.MatrixMessageResponse, error) {
	sess := s.getSession()
	if !s.IsLoggedIn() || sess == nil {
		return nil, bridgev2.ErrNotLoggedIn
	}

	channelID := ParsePortalID(msg.Portal.ID)
	content := msg.Content

	var opts []slack.MsgOption
	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		text, err := matrixfmt.Parse(content, sess.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		opts = append(opts, slack.MsgOptionText(text, false))
		if content.MsgType == event.MsgEmote {
			opts = append(opts, slack.MsgOptionMeMessage())
		}
	default:
		return nil, fmt.Errorf("unsupported message type: %s", content.MsgType)
	}

	// Slack has no replies outside threads, so a reply starts or joins one.
	if threadTS := matrixThreadTimestamp(msg.ThreadRoot, msg.ReplyTo); threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	_, ts, err := s.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to post message: %w", err)
	}

	if conv, err := sess.conversations.Wait(ctx, channelID); err != nil {
		s.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to resolve conversation of sent message")
	} else if !sess.pipeline.MarkSent(conv, ts) {
		s.log.Debug().Str("channel_id", channelID).Str("ts", ts).Msg("Echo already received")
	}

	return &bridgev2.MatrixMessageResponse{
		DB: &database.Message{
			ID:        MakeMessageID(channelID, ts),
			SenderID:  MakeUserID(s.userID),
			Timestamp: slackfmt.ParseTimestamp(ts),
		},
	}, nil
}

// matrixThreadTimestamp picks the Slack thread a Matrix message belongs in.
func matrixThreadTimestamp(threadRoot, replyTo *database.Message) string {
	for _, target := range []*database.Message{threadRoot, replyTo} {
		if target == nil {
			continue
		}
		if _, ts, ok := ParseMessageID(target.ID); ok {
			return ts
		}
	}
	return ""
}

// HandleMatrixEdit handles an edit sent from Matrix.
func (s *SlackClient) HandleMatrixEdit(ctx context.Context, msg *bridgev2.MatrixEdit) error {
	sess := s.getSession()
	if !s.IsLoggedIn() || sess == nil {
		return bridgev2.ErrNotLoggedIn
	}

	channelID, ts, ok := ParseMessageID(msg.EditTarget.ID)
	if !ok {
		return fmt.Errorf("invalid message ID %q", msg.EditTarget.ID)
	}
	text, err := matrixfmt.Parse(msg.Content, sess.registry)
	if err != nil {
		return fmt.Errorf("failed to convert edit: %w", err)
	}

	s.expectEcho(RenderEdit, msg.EditTarget.ID)
	if _, _, _, err := s.api.UpdateMessageContext(ctx, channelID, ts, slack.MsgOptionText(text, false)); err != nil {
		s.consumeEcho(RenderEdit, msg.EditTarget.ID)
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// HandleMatrixMessageRemove handles a message deletion from Matrix.
func (s *SlackClient) HandleMatrixMessageRemove(ctx context.Context, msg *bridgev2.MatrixMessageRemove) error {
	if !s.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}

	channelID, ts, ok := ParseMessageID(msg.TargetMessage.ID)
	if !ok {
		return fmt.Errorf("invalid message ID %q", msg.TargetMessage.ID)
	}
	s.expectEcho(RenderDelete, msg.TargetMessage.ID)
	if _, _, err := s.api.DeleteMessageContext(ctx, channelID, ts); err != nil {
		s.consumeEcho(RenderDelete, msg.TargetMessage.ID)
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// HandleMatrixReadReceipt marks the conversation read on Slack, up to the
// receipt's message or else the newest message seen in it.
func (s *SlackClient) HandleMatrixReadReceipt(ctx context.Context, msg *bridgev2.MatrixReadReceipt) error {
	sess := s.getSession()
	if !s.IsLoggedIn() || sess == nil {
		return bridgev2.ErrNotLoggedIn
	}

	channelID := ParsePortalID(msg.Portal.ID)
	var ts string
	if msg.ExactMessage != nil {
		_, ts, _ = ParseMessageID(msg.ExactMessage.ID)
	}
	if ts == "" {
		if conv, ok := sess.registry.LookupConversation(channelID); ok {
			ts = conv.LastMessageTimestamp()
		}
	}
	if ts == "" {
		return nil
	}
	if err := s.api.MarkConversationContext(ctx, channelID, ts); err != nil {
		return fmt.Errorf("failed to mark conversation: %w", err)
	}
	return nil
}

func echoKey(kind RenderKind, id networkid.MessageID) string {
	return kind.String() + ":" + string(id)
}

// expectEcho records that an edit or delete of id was sent from Matrix, so
// its echo from Slack is not bridged back.
func (s *SlackClient) expectEcho(kind RenderKind, id networkid.MessageID) {
	s.echoes.Store(echoKey(kind, id), struct{}{})
}

// consumeEcho reports whether an echo was expected and forgets it.
func (s *SlackClient) consumeEcho(kind RenderKind, id networkid.MessageID) bool {
	_, ok := s.echoes.LoadAndDelete(echoKey(kind, id))
	return ok
}
