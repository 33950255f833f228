// Copyright 2024-2026 Aiku AI

package registry

import "sync"

// Entity is the capability shared by users and channels: a stable Slack id,
// a mutable display name and the most recent message timestamp seen in the
// conversation it addresses.
type Entity interface {
	ID() string
	Name() string
	LastMessageTimestamp() string
	// ConversationID returns the Slack conversation id messages to this
	// entity are sent to, or "" if there is none (a user without a DM).
	ConversationID() string

	advanceLastMessageTimestamp(ts string, cmp func(a, b string) int, dedup bool) bool
}

// ChannelKind classifies a channel. The ordering is significant: a merge
// only ever replaces a kind with a known one, and kinds from KindGroup up
// are conversations the account belongs to.
type ChannelKind int

const (
	KindUnknown ChannelKind = iota
	KindDeleted
	KindPublic
	KindGroup
	KindMPIM
	KindMember
)

// Joined reports whether the account is a member of channels of this kind.
// Private groups and multi-party IMs are only ever listed to members.
func (k ChannelKind) Joined() bool {
	return k >= KindGroup
}

func (k ChannelKind) String() string {
	switch k {
	case KindDeleted:
		return "deleted"
	case KindPublic:
		return "public"
	case KindGroup:
		return "group"
	case KindMPIM:
		return "mpim"
	case KindMember:
		return "member"
	default:
		return "unknown"
	}
}

type base struct {
	id string

	mu     sync.RWMutex
	name   string
	lastTS string
}

func (b *base) ID() string {
	return b.id
}

func (b *base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *base) LastMessageTimestamp() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastTS
}

// advanceLastMessageTimestamp compares ts with the last seen timestamp and
// moves it forward, all under b.mu. With dedup set, a non-empty ts equal to
// the last one is rejected.
func (b *base) advanceLastMessageTimestamp(ts string, cmp func(a, b string) int, dedup bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := cmp(ts, b.lastTS)
	if dedup && ts != "" && c == 0 {
		return false
	}
	if c > 0 {
		b.lastTS = ts
	}
	return true
}

func (b *base) setName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

// Channel is a public channel, private group or multi-party IM.
type Channel struct {
	base

	kind   ChannelKind
	handle int
	topic  string
}

var _ Entity = (*Channel)(nil)

// Kind returns the channel's current classification.
func (c *Channel) Kind() ChannelKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kind
}

// Handle returns the local conversation handle, or 0 if the channel is not open.
func (c *Channel) Handle() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

// Topic returns the last known channel topic.
func (c *Channel) Topic() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topic
}

func (c *Channel) ConversationID() string {
	return c.id
}

// User is a Slack account. Once a DM has been opened with the user, the user
// also addresses that DM conversation.
type User struct {
	base

	statusText  string
	avatarHash  string
	avatarURL   string
	realName    string
	displayName string
	dmID        string
	isBot       bool
}

var _ Entity = (*User)(nil)

func (u *User) StatusText() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.statusText
}

// Avatar returns the avatar hash and the URL to download it from.
func (u *User) Avatar() (hash, url string) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.avatarHash, u.avatarURL
}

func (u *User) RealName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.realName
}

// DisplayName returns the profile display name, which may be empty.
func (u *User) DisplayName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.displayName
}

func (u *User) IsBot() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.isBot
}

// DirectMessageID returns the id of the open DM with this user, or "".
func (u *User) DirectMessageID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.dmID
}

func (u *User) ConversationID() string {
	return u.DirectMessageID()
}
