// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/aiku/mautrix-slack/pkg/connector/slackfmt"
)

// Compile-time assertion that SlackClient implements BackfillingNetworkAPI.
var _ bridgev2.BackfillingNetworkAPI = (*SlackClient)(nil)

// FetchMessages implements bridgev2.BackfillingNetworkAPI.
func (s *SlackClient) FetchMessages(ctx context.Context, params bridgev2.FetchMessagesParams) (*bridgev2.FetchMessagesResponse, error) {
	sess := s.getSession()
	if !s.IsLoggedIn() || sess == nil {
		return nil, bridgev2.ErrNotLoggedIn
	}
	channelID := ParsePortalID(params.Portal.ID)

	maxCount := s.connector.Config.BackfillMaxCount
	if maxCount <= 0 {
		maxCount = 100
	}
	if params.Count > 0 {
		maxCount = params.Count
	}
	perPage := min(maxCount, s.connector.Config.pageLimit())

	conv, err := sess.conversations.Wait(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation for backfill: %w", err)
	}

	req := &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Cursor:    string(params.Cursor),
		Limit:     perPage,
	}
	if params.AnchorMessage != nil {
		if _, ts, ok := ParseMessageID(params.AnchorMessage.ID); ok {
			if params.Forward {
				req.Oldest = ts
			} else {
				req.Latest = ts
			}
		}
	}

	history, err := s.api.GetConversationHistoryContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for backfill: %w", err)
	}

	// History comes newest first.
	msgs := make([]*slackfmt.Message, 0, len(history.Messages))
	for i := range history.Messages {
		msg := slackfmt.FromSlack(&history.Messages[i])
		if msg.Channel == "" {
			msg.Channel = channelID
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) > maxCount {
		msgs = msgs[:maxCount]
	}

	self := s.selfMXID()
	var messages []*bridgev2.BackfillMessage
	for _, r := range sess.pipeline.Backfill(conv, msgs) {
		// Edits and deletes in history are already folded into the messages they target.
		if r.Kind != RenderMessage || r.Hidden {
			continue
		}
		messages = append(messages, backfillMessage(r, s.eventSenderFor(r), self))
	}

	resp := &bridgev2.FetchMessagesResponse{
		Messages: messages,
		HasMore:  history.HasMore,
		Forward:  params.Forward,
	}
	if !params.Forward && history.ResponseMetaData.NextCursor != "" {
		resp.Cursor = networkid.PaginationCursor(history.ResponseMetaData.NextCursor)
	}
	return resp, nil
}
