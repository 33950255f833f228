// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"

	"maunium.net/go/mautrix/bridgev2/networkid"
)

// MakePortalID creates a networkid.PortalID from a Slack conversation ID.
func MakePortalID(conversationID string) networkid.PortalID {
	return networkid.PortalID(conversationID)
}

// ParsePortalID extracts the Slack conversation ID from a PortalID.
func ParsePortalID(portalID networkid.PortalID) string {
	return string(portalID)
}

// MakeUserID creates a networkid.UserID from a Slack user ID.
func MakeUserID(userID string) networkid.UserID {
	return networkid.UserID(userID)
}

// ParseUserID extracts the Slack user ID from a networkid.UserID.
func ParseUserID(userID networkid.UserID) string {
	return string(userID)
}

// MakeMessageID creates a networkid.MessageID from a conversation ID and a
// message timestamp. Slack timestamps are only unique within a conversation.
func MakeMessageID(conversationID, ts string) networkid.MessageID {
	return networkid.MessageID(conversationID + ":" + ts)
}

// ParseMessageID splits a MessageID into its conversation ID and timestamp.
func ParseMessageID(messageID networkid.MessageID) (conversationID, ts string, ok bool) {
	conversationID, ts, ok = strings.Cut(string(messageID), ":")
	if !ok || conversationID == "" || ts == "" {
		return "", "", false
	}
	return conversationID, ts, true
}

// MakeAvatarID creates a networkid.AvatarID from a user ID and avatar hash.
func MakeAvatarID(userID, hash string) networkid.AvatarID {
	return networkid.AvatarID(userID + "_" + hash)
}

// makePortalKey creates a networkid.PortalKey from a Slack conversation ID.
func makePortalKey(conversationID string) networkid.PortalKey {
	return networkid.PortalKey{
		ID: MakePortalID(conversationID),
	}
}
