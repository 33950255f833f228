// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/simplevent"

	"github.com/aiku/mautrix-slack/pkg/connector/registry"
	"github.com/aiku/mautrix-slack/pkg/connector/resolver"
	"github.com/aiku/mautrix-slack/pkg/connector/slackfmt"
)

// conversationTypes are the conversation kinds loaded at startup.
var conversationTypes = []string{"public_channel", "private_channel", "mpim", "im"}

// morePages stands in for the users.list cursor, which slack-go keeps
// private to its paginator.
const morePages = "more"

// userPages adapts the slack-go user paginator to a resolver.PageFunc.
func (s *SlackClient) userPages() resolver.PageFunc[slack.User] {
	page := s.api.GetUsersPaginated(slack.GetUsersOptionLimit(s.connector.Config.pageLimit()))
	return func(ctx context.Context, _ string) ([]slack.User, string, error) {
		next, err := page.Next(ctx)
		if page.Done(err) {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", err
		}
		page = next
		return next.Users, morePages, nil
	}
}

func (s *SlackClient) conversationPages() resolver.PageFunc[slack.Channel] {
	return func(ctx context.Context, cursor string) ([]slack.Channel, string, error) {
		return s.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: false,
			Limit:           s.connector.Config.pageLimit(),
			Types:           conversationTypes,
		})
	}
}

// memberPages lists the members of one conversation.
func (s *SlackClient) memberPages(conversationID string) resolver.PageFunc[string] {
	return func(ctx context.Context, cursor string) ([]string, string, error) {
		return s.api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
			ChannelID: conversationID,
			Cursor:    cursor,
			Limit:     s.connector.Config.pageLimit(),
		})
	}
}

// syncAll loads every user and conversation into the session registry and
// queues a ChatResync for each conversation the user takes part in, so the
// bridge creates portal rooms in Matrix.
func (s *SlackClient) syncAll(ctx context.Context) {
	sess := s.getSession()
	if sess == nil {
		return
	}
	if err := s.loadRegistry(ctx, sess); err != nil {
		s.log.Error().Err(err).Msg("Failed to load workspace")
		return
	}
	s.log.Info().Msg("Conversation sync complete")
}

func (s *SlackClient) loadRegistry(ctx context.Context, sess *session) error {
	pages, err := resolver.LoadPages(ctx, s.userPages(), func(u slack.User) {
		sess.mergeUser(&u)
	})
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	s.log.Info().Int("pages", pages).Int("users", sess.registry.UserCount()).Msg("Loaded users")

	type joined struct {
		conv   registry.Entity
		latest string
	}
	var toSync []joined
	pages, err = resolver.LoadPages(ctx, s.conversationPages(), func(ch slack.Channel) {
		conv := sess.mergeConversation(&ch)
		if conv == nil {
			return
		}
		if c, ok := conv.(*registry.Channel); ok && c.Handle() == 0 {
			return
		}
		var latest string
		if ch.Latest != nil {
			latest = ch.Latest.Timestamp
		}
		toSync = append(toSync, joined{conv: conv, latest: latest})
	})
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	s.log.Info().Int("pages", pages).Int("joined", len(toSync)).Msg("Loaded conversations")

	for _, j := range toSync {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.queueChatResync(ctx, j.conv, j.latest)
	}
	return nil
}

// queueChatResync asks the bridge to create or update the portal for conv.
// latestTS is the newest message in the conversation if known.
func (s *SlackClient) queueChatResync(ctx context.Context, conv registry.Entity, latestTS string) {
	conversationID := conv.ConversationID()
	chatInfo, err := s.conversationChatInfo(ctx, conv)
	if err != nil {
		s.log.Warn().Err(err).Str("channel_id", conversationID).Msg("Failed to get chat info")
		return
	}

	evt := &simplevent.ChatResync{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatResync,
			PortalKey: makePortalKey(conversationID),
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("channel_id", conversationID).Str("channel_name", conv.Name())
			},
			CreatePortal: true,
		},
		ChatInfo: chatInfo,
	}
	if s.connector.Config.BackfillEnabled && latestTS != "" {
		latest := slackfmt.ParseTimestamp(latestTS)
		evt.LatestMessageTS = latest
		evt.CheckNeedsBackfillFunc = func(_ context.Context, latestMessage *database.Message) (bool, error) {
			if latestMessage == nil {
				return true, nil
			}
			return latestMessage.Timestamp.Before(latest), nil
		}
	}
	s.eventSender.QueueRemoteEvent(s.userLogin, evt)
}
