// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/simplevent"

	"github.com/aiku/mautrix-slack/pkg/connector/registry"
	"github.com/aiku/mautrix-slack/pkg/connector/slackfmt"
)

// userEvent is the shape shared by user_change and team_join.
type userEvent struct {
	Type string      `json:"type"`
	User *slack.User `json:"user"`
}

func decodeEvent[T any](raw json.RawMessage) (*T, error) {
	var evt T
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// handleEventsAPI dispatches the inner event of an Events API envelope.
func (s *SlackClient) handleEventsAPI(ctx context.Context, payload json.RawMessage) error {
	var outer slackevents.EventsAPICallbackEvent
	if err := json.Unmarshal(payload, &outer); err != nil {
		return fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	if outer.Type != slackevents.CallbackEvent || outer.InnerEvent == nil {
		return nil
	}
	raw := *outer.InnerEvent

	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return fmt.Errorf("failed to unmarshal event type: %w", err)
	}
	sess := s.getSession()
	if sess == nil {
		return nil
	}

	switch slackevents.EventsAPIType(header.Type) {
	case slackevents.Message:
		msg, err := parseMessageEvent(raw)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		s.log.Debug().
			Str("channel_id", msg.Channel).
			Str("ts", msg.Timestamp).
			Str("subtype", msg.SubType).
			Msg("Received message")
		sess.pipeline.Handle(ctx, msg)
	case slackevents.UserChange, slackevents.TeamJoin:
		return s.handleUserChange(ctx, sess, raw)
	case slackevents.ChannelCreated:
		return s.handleChannelCreated(sess, raw)
	case slackevents.ChannelRename, slackevents.GroupRename:
		return s.handleChannelRename(sess, raw)
	case slackevents.ChannelArchive, slackevents.GroupArchive, slackevents.ChannelDeleted:
		return s.handleChannelRemoved(sess, raw)
	case slackevents.ChannelLeft, slackevents.GroupLeft:
		return s.handleChannelLeft(sess, raw)
	case slackevents.ImCreated:
		return s.handleIMCreated(sess, raw)
	case slackevents.MemberJoinedChannel:
		return s.handleMemberJoined(ctx, sess, raw)
	default:
		s.log.Trace().Str("event_type", header.Type).Msg("Unhandled event type")
	}
	return nil
}

// parseMessageEvent decodes a message event. Returns (nil, nil) to skip,
// (nil, err) for errors, or (msg, nil) to proceed.
func parseMessageEvent(raw json.RawMessage) (*slackfmt.Message, error) {
	msg, err := decodeEvent[slackfmt.Message](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.Channel == "" || msg.Timestamp == "" {
		return nil, nil
	}
	// Thread broadcasts of replies arrive as their own message_replied
	// notification, which carries no content of its own.
	if msg.SubType == "message_replied" {
		return nil, nil
	}
	return msg, nil
}

func (s *SlackClient) handleUserChange(ctx context.Context, sess *session, raw json.RawMessage) error {
	evt, err := decodeEvent[userEvent](raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal user event: %w", err)
	}
	if evt.User == nil {
		return nil
	}
	u := sess.mergeUser(evt.User)
	if u == nil || s.connector.Bridge == nil {
		return nil
	}
	ghost, err := s.connector.Bridge.GetGhostByID(ctx, MakeUserID(u.ID()))
	if err != nil {
		return fmt.Errorf("failed to get ghost for %s: %w", u.ID(), err)
	}
	ghost.UpdateInfo(ctx, s.userToUserInfo(u))
	return nil
}

func (s *SlackClient) handleChannelCreated(sess *session, raw json.RawMessage) error {
	evt, err := decodeEvent[slackevents.ChannelCreatedEvent](raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal channel_created: %w", err)
	}
	kind := registry.KindUnknown
	switch {
	case evt.Channel.Creator == s.userID:
		kind = registry.KindMember
	case evt.Channel.IsChannel:
		kind = registry.KindPublic
	}
	ch := sess.registry.UpsertChannel(evt.Channel.ID, registry.ChannelFields{
		Name: evt.Channel.Name,
		Kind: kind,
	})
	if ch.Kind().Joined() {
		sess.registry.Open(ch)
	}
	s.log.Debug().Str("channel_id", ch.ID()).Str("channel_name", ch.Name()).Msg("Channel created")
	return nil
}

func (s *SlackClient) handleChannelRename(sess *session, raw json.RawMessage) error {
	// channel_rename and group_rename carry the same fields.
	evt, err := decodeEvent[slackevents.ChannelRenameEvent](raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal rename: %w", err)
	}
	if evt.Channel.ID == "" || evt.Channel.Name == "" {
		return nil
	}
	sess.registry.UpsertChannel(evt.Channel.ID, registry.ChannelFields{Name: evt.Channel.Name})

	name := evt.Channel.Name
	s.eventSender.QueueRemoteEvent(s.userLogin, &simplevent.ChatInfoChange{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatInfoChange,
			PortalKey: makePortalKey(evt.Channel.ID),
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("channel_id", evt.Channel.ID).Str("channel_name", name)
			},
		},
		ChatInfoChange: &bridgev2.ChatInfoChange{
			ChatInfo: &bridgev2.ChatInfo{Name: &name},
		},
	})
	return nil
}

func (s *SlackClient) handleChannelRemoved(sess *session, raw json.RawMessage) error {
	// channel_archive, group_archive and channel_deleted all carry the id in
	// the channel field.
	evt, err := decodeEvent[slackevents.ChannelDeletedEvent](raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal channel removal: %w", err)
	}
	if evt.Channel == "" {
		return nil
	}
	sess.removeChannel(evt.Channel)
	s.log.Info().Str("channel_id", evt.Channel).Str("event_type", evt.Type).Msg("Channel removed")
	return nil
}

func (s *SlackClient) handleChannelLeft(sess *session, raw json.RawMessage) error {
	evt, err := decodeEvent[slackevents.ChannelLeftEvent](raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal channel_left: %w", err)
	}
	if ch, ok := sess.registry.LookupChannel(evt.Channel); ok {
		sess.registry.Close(ch)
	}
	return nil
}

func (s *SlackClient) handleIMCreated(sess *session, raw json.RawMessage) error {
	evt, err := decodeEvent[slackevents.ImCreatedEvent](raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal im_created: %w", err)
	}
	if evt.User == "" || evt.Channel.ID == "" {
		return nil
	}
	u := sess.registry.UpsertUser(evt.User, registry.UserFields{})
	sess.registry.SetDirectMessage(u, evt.Channel.ID)
	return nil
}

func (s *SlackClient) handleMemberJoined(ctx context.Context, sess *session, raw json.RawMessage) error {
	evt, err := decodeEvent[slackevents.MemberJoinedChannelEvent](raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal member_joined_channel: %w", err)
	}
	if evt.User != s.userID || evt.Channel == "" {
		return nil
	}
	conv, err := sess.conversations.Wait(ctx, evt.Channel)
	if err != nil {
		return fmt.Errorf("failed to resolve joined channel: %w", err)
	}
	ch, ok := conv.(*registry.Channel)
	if !ok {
		return nil
	}
	sess.registry.UpsertChannel(ch.ID(), registry.ChannelFields{Kind: registry.KindMember})
	sess.registry.Open(ch)
	s.queueChatResync(ctx, ch, "")
	return nil
}

// eventSenderFor builds the bridgev2 sender of a rendered event.
func (s *SlackClient) eventSenderFor(r *Rendered) bridgev2.EventSender {
	sender := bridgev2.EventSender{
		Sender: MakeUserID(r.SenderID),
	}
	if r.FromMe {
		sender.IsFromMe = true
		if s.userLogin != nil {
			sender.SenderLogin = s.userLogin.ID
		}
	}
	return sender
}

// Deliver implements Sink by queuing the rendered event for the bridge.
// History is returned from FetchMessages instead and is never queued here.
func (s *SlackClient) Deliver(_ context.Context, r *Rendered) {
	if r.Delayed {
		s.log.Debug().Str("channel_id", r.ConversationID).Str("ts", r.Timestamp).
			Msg("Ignoring backfilled message on the live path")
		return
	}
	portalKey := makePortalKey(r.ConversationID)
	sender := s.eventSenderFor(r)
	logContext := func(c zerolog.Context) zerolog.Context {
		return c.Str("channel_id", r.ConversationID).Str("ts", r.Timestamp)
	}
	self := s.selfMXID()

	switch r.Kind {
	case RenderMessage:
		if r.Topic != nil {
			s.eventSender.QueueRemoteEvent(s.userLogin, &simplevent.ChatInfoChange{
				EventMeta: simplevent.EventMeta{
					Type:       bridgev2.RemoteEventChatInfoChange,
					PortalKey:  portalKey,
					LogContext: logContext,
					Sender:     sender,
					Timestamp:  r.Time,
				},
				ChatInfoChange: &bridgev2.ChatInfoChange{
					ChatInfo: &bridgev2.ChatInfo{Topic: r.Topic},
				},
			})
		}
		if r.Hidden {
			return
		}
		s.eventSender.QueueRemoteEvent(s.userLogin, &simplevent.Message[*Rendered]{
			EventMeta: simplevent.EventMeta{
				Type:         bridgev2.RemoteEventMessage,
				LogContext:   logContext,
				PortalKey:    portalKey,
				Sender:       sender,
				Timestamp:    r.Time,
				CreatePortal: true,
			},
			ID:   MakeMessageID(r.ConversationID, r.Timestamp),
			Data: r,
			ConvertMessageFunc: func(_ context.Context, _ *bridgev2.Portal, _ bridgev2.MatrixAPI, data *Rendered) (*bridgev2.ConvertedMessage, error) {
				return convertRendered(data, self), nil
			},
		})
	case RenderEdit:
		if r.FromMe && s.consumeEcho(RenderEdit, MakeMessageID(r.ConversationID, r.TargetTimestamp)) {
			return
		}
		s.eventSender.QueueRemoteEvent(s.userLogin, &simplevent.Message[*Rendered]{
			EventMeta: simplevent.EventMeta{
				Type:       bridgev2.RemoteEventEdit,
				LogContext: logContext,
				PortalKey:  portalKey,
				Sender:     sender,
				Timestamp:  r.Time,
			},
			TargetMessage: MakeMessageID(r.ConversationID, r.TargetTimestamp),
			Data:          r,
			ConvertEditFunc: func(_ context.Context, _ *bridgev2.Portal, _ bridgev2.MatrixAPI, existing []*database.Message, data *Rendered) (*bridgev2.ConvertedEdit, error) {
				return convertRenderedEdit(data, existing, self)
			},
		})
	case RenderDelete:
		if s.consumeEcho(RenderDelete, MakeMessageID(r.ConversationID, r.TargetTimestamp)) {
			return
		}
		s.eventSender.QueueRemoteEvent(s.userLogin, &simplevent.MessageRemove{
			EventMeta: simplevent.EventMeta{
				Type:       bridgev2.RemoteEventMessageRemove,
				LogContext: logContext,
				PortalKey:  portalKey,
				Sender:     sender,
				Timestamp:  r.Time,
			},
			TargetMessage: MakeMessageID(r.ConversationID, r.TargetTimestamp),
		})
		if !s.connector.Config.DeletionNotices {
			return
		}
		notice := *r
		notice.System = true
		s.eventSender.QueueRemoteEvent(s.userLogin, &simplevent.Message[*Rendered]{
			EventMeta: simplevent.EventMeta{
				Type:       bridgev2.RemoteEventMessage,
				LogContext: logContext,
				PortalKey:  portalKey,
				Sender:     sender,
				Timestamp:  r.Time,
			},
			ID:   MakeMessageID(r.ConversationID, r.Timestamp),
			Data: &notice,
			ConvertMessageFunc: func(_ context.Context, _ *bridgev2.Portal, _ bridgev2.MatrixAPI, data *Rendered) (*bridgev2.ConvertedMessage, error) {
				return convertRendered(data, self), nil
			},
		})
	}
}
