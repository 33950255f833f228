// Copyright 2024-2026 Aiku AI

package connector

import (
	"bytes"
	"context"
	"fmt"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-slack/pkg/connector/registry"
	"github.com/aiku/mautrix-slack/pkg/connector/resolver"
)

// conversationChatInfo converts a registry conversation to a bridgev2.ChatInfo.
// A user entity stands for the DM with that user.
func (s *SlackClient) conversationChatInfo(ctx context.Context, conv registry.Entity) (*bridgev2.ChatInfo, error) {
	switch c := conv.(type) {
	case *registry.User:
		return s.directChatInfo(c), nil
	case *registry.Channel:
		members, err := s.channelMembers(ctx, c.ID())
		if err != nil {
			return nil, err
		}
		return s.channelChatInfo(c, members), nil
	default:
		return nil, fmt.Errorf("unsupported conversation type %T", conv)
	}
}

func (s *SlackClient) directChatInfo(other *registry.User) *bridgev2.ChatInfo {
	memberMap := map[networkid.UserID]bridgev2.ChatMember{
		MakeUserID(other.ID()): {
			EventSender: bridgev2.EventSender{Sender: MakeUserID(other.ID())},
			Membership:  event.MembershipJoin,
		},
	}
	if s.userID != "" {
		memberMap[MakeUserID(s.userID)] = bridgev2.ChatMember{
			EventSender: s.eventSenderFor(&Rendered{SenderID: s.userID, FromMe: true}),
			Membership:  event.MembershipJoin,
		}
	}
	dmType := database.RoomTypeDM
	return &bridgev2.ChatInfo{
		Type: &dmType,
		Members: &bridgev2.ChatMemberList{
			IsFull:           true,
			TotalMemberCount: len(memberMap),
			OtherUserID:      MakeUserID(other.ID()),
			MemberMap:        memberMap,
		},
	}
}

func (s *SlackClient) channelChatInfo(ch *registry.Channel, members []string) *bridgev2.ChatInfo {
	chatInfo := &bridgev2.ChatInfo{
		Members: s.channelMembersToChatMembers(members),
	}
	name := ch.Name()
	switch ch.Kind() {
	case registry.KindMPIM:
		groupType := database.RoomTypeGroupDM
		chatInfo.Type = &groupType
		if name != "" {
			chatInfo.Name = &name
		}
	default:
		roomType := database.RoomTypeDefault
		chatInfo.Type = &roomType
		if name == "" {
			name = ch.ID()
		}
		chatInfo.Name = &name
		if topic := ch.Topic(); topic != "" {
			chatInfo.Topic = &topic
		}
	}
	return chatInfo
}

// channelMembers lists every member of a conversation, page by page.
func (s *SlackClient) channelMembers(ctx context.Context, conversationID string) ([]string, error) {
	var members []string
	_, err := resolver.LoadPages(ctx, s.memberPages(conversationID), func(id string) {
		members = append(members, id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get channel members: %w", err)
	}
	return members, nil
}

// channelMembersToChatMembers converts Slack member ids to a bridgev2 member list.
func (s *SlackClient) channelMembersToChatMembers(members []string) *bridgev2.ChatMemberList {
	memberMap := make(map[networkid.UserID]bridgev2.ChatMember, len(members))
	for _, userID := range members {
		memberMap[MakeUserID(userID)] = bridgev2.ChatMember{
			EventSender: s.eventSenderFor(&Rendered{SenderID: userID, FromMe: userID == s.userID}),
			Membership:  event.MembershipJoin,
		}
	}
	return &bridgev2.ChatMemberList{
		IsFull:           true,
		TotalMemberCount: len(members),
		MemberMap:        memberMap,
	}
}

// userToUserInfo converts a registry user to a bridgev2.UserInfo.
func (s *SlackClient) userToUserInfo(u *registry.User) *bridgev2.UserInfo {
	name := s.connector.Config.FormatDisplayname(DisplaynameParams{
		Name:        u.Name(),
		RealName:    u.RealName(),
		DisplayName: u.DisplayName(),
	})
	if name == "" {
		name = u.ID()
	}
	isBot := u.IsBot()
	info := &bridgev2.UserInfo{
		Identifiers: []string{
			fmt.Sprintf("slack:%s", u.ID()),
		},
		Name:  &name,
		IsBot: &isBot,
	}

	hash, url := u.Avatar()
	if hash != "" && url != "" {
		info.Avatar = &bridgev2.Avatar{
			ID: MakeAvatarID(u.ID(), hash),
			Get: func(ctx context.Context) ([]byte, error) {
				var buf bytes.Buffer
				if err := s.api.GetFileContext(ctx, url, &buf); err != nil {
					return nil, fmt.Errorf("failed to download avatar: %w", err)
				}
				return buf.Bytes(), nil
			},
		}
	}
	return info
}
