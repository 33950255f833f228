// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/aiku/mautrix-slack/pkg/connector/registry"
	"github.com/aiku/mautrix-slack/pkg/connector/resolver"
	"github.com/aiku/mautrix-slack/pkg/connector/slackfmt"
)

var errConversationArchived = errors.New("conversation is archived")

// session is the state of one connection to a workspace. It is built on
// connect and torn down on disconnect.
type session struct {
	registry      *registry.Registry
	users         *resolver.Resolver[*registry.User]
	conversations *resolver.Resolver[registry.Entity]
	converter     *slackfmt.Converter
	pipeline      *Pipeline
}

// newSession creates the registry, resolvers and pipeline for selfID. The
// resolvers look ids up through s.api and merge the results into the new
// registry.
func (s *SlackClient) newSession(selfID string) *session {
	cfg := &s.connector.Config
	reg := registry.New(selfID)
	sess := &session{registry: reg}

	resolverLog := s.log.With().Str("component", "resolver").Logger()
	sess.users = resolver.New(reg.LookupUser, func(ctx context.Context, id string) (*registry.User, error) {
		return s.lookupUser(ctx, sess, id)
	},
		resolver.WithLogger(resolverLog.With().Str("namespace", "users").Logger()),
		resolver.WithNegativeCache(cfg.negativeCacheTTL(), nil),
	)
	sess.conversations = resolver.New(reg.LookupConversation, func(ctx context.Context, id string) (registry.Entity, error) {
		return s.lookupConversation(ctx, sess, id)
	},
		resolver.WithLogger(resolverLog.With().Str("namespace", "conversations").Logger()),
		resolver.WithNegativeCache(cfg.negativeCacheTTL(), nil),
	)
	sess.converter = &slackfmt.Converter{
		Lookup:           reg,
		AttachmentPrefix: cfg.attachmentPrefix(),
	}
	sess.pipeline = &Pipeline{
		registry:      reg,
		conversations: sess.conversations,
		users:         sess.users,
		converter:     sess.converter,
		sink:          s,
		openOnMessage: cfg.OpenChatOnMessage,
		log:           s.log.With().Str("component", "pipeline").Logger(),
	}
	return sess
}

// close fails every outstanding lookup so no continuation is left waiting.
func (sess *session) close() {
	sess.users.Close()
	sess.conversations.Close()
}

func (s *SlackClient) getSession() *session {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.session
}

func (s *SlackClient) setSession(sess *session) {
	s.sessionMu.Lock()
	old := s.session
	s.session = sess
	s.sessionMu.Unlock()
	if old != nil {
		old.close()
	}
}

func (s *SlackClient) lookupUser(ctx context.Context, sess *session, id string) (*registry.User, error) {
	user, err := s.api.GetUserInfoContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	u := sess.mergeUser(user)
	if u == nil {
		return nil, fmt.Errorf("user %s is deleted", id)
	}
	return u, nil
}

func (s *SlackClient) lookupConversation(ctx context.Context, sess *session, id string) (registry.Entity, error) {
	ch, err := s.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: id,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	conv := sess.mergeConversation(ch)
	if conv == nil {
		return nil, fmt.Errorf("%w: %s", errConversationArchived, id)
	}
	return conv, nil
}

// mergeUser upserts a user record. Deleted accounts are removed, releasing
// their DM first, and nil is returned.
func (sess *session) mergeUser(user *slack.User) *registry.User {
	if user == nil || user.ID == "" {
		return nil
	}
	reg := sess.registry
	if user.Deleted {
		if u, ok := reg.LookupUser(user.ID); ok {
			reg.ClearDirectMessage(u)
			reg.RemoveUser(user.ID)
		}
		return nil
	}

	realName := user.RealName
	if realName == "" {
		realName = user.Profile.RealName
	}
	avatarURL := user.Profile.Image512
	if avatarURL == "" {
		avatarURL = user.Profile.Image192
	}
	return reg.UpsertUser(user.ID, registry.UserFields{
		Name:        user.Name,
		RealName:    &realName,
		DisplayName: &user.Profile.DisplayName,
		StatusText:  &user.Profile.StatusText,
		AvatarHash:  &user.Profile.AvatarHash,
		AvatarURL:   &avatarURL,
		IsBot:       &user.IsBot,
	})
}

// classifyChannel derives a channel's kind from its listing flags.
func classifyChannel(ch *slack.Channel) registry.ChannelKind {
	switch {
	case ch.IsArchived:
		return registry.KindDeleted
	case ch.IsMpIM:
		return registry.KindMPIM
	case ch.IsGroup, ch.IsPrivate:
		return registry.KindGroup
	case ch.IsMember, ch.IsGeneral:
		return registry.KindMember
	case ch.IsChannel:
		return registry.KindPublic
	default:
		return registry.KindUnknown
	}
}

// mergeConversation upserts a conversation record and returns the entity it
// addresses. An IM returns the other user, with the DM recorded on them.
// Archived channels are closed and removed, and nil is returned. Joined
// channels are opened.
func (sess *session) mergeConversation(ch *slack.Channel) registry.Entity {
	if ch == nil || ch.ID == "" {
		return nil
	}
	reg := sess.registry

	if ch.IsIM {
		if ch.User == "" {
			return nil
		}
		u := reg.UpsertUser(ch.User, registry.UserFields{})
		reg.SetDirectMessage(u, ch.ID)
		return u
	}

	kind := classifyChannel(ch)
	if kind == registry.KindDeleted {
		sess.removeChannel(ch.ID)
		return nil
	}
	topic := ch.Topic.Value
	channel := reg.UpsertChannel(ch.ID, registry.ChannelFields{
		Name:  ch.Name,
		Kind:  kind,
		Topic: &topic,
	})
	if channel.Kind().Joined() {
		reg.Open(channel)
	}
	return channel
}

// removeChannel closes and forgets a channel, failing any lookup waiting on it.
func (sess *session) removeChannel(id string) {
	if ch, ok := sess.registry.LookupChannel(id); ok {
		sess.registry.Close(ch)
		sess.registry.RemoveChannel(id)
	}
	sess.conversations.Abort(id)
}
