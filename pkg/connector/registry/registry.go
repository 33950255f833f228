// Copyright 2024-2026 Aiku AI

// Package registry holds the canonical Slack users and channels known to a
// session, indexed by id, display name, local conversation handle and DM id.
//
// The registry does no I/O. Removing an entity does not cascade: callers
// close its conversation handle or DM before calling Remove*.
package registry

import "sync"

// ChannelFields are the mergeable attributes of a channel. Zero values mean
// "unchanged": an empty Name never overwrites, and Kind is only applied when
// it is above KindUnknown.
type ChannelFields struct {
	Name  string
	Kind  ChannelKind
	Topic *string
}

// UserFields are the mergeable attributes of a user. Pointer fields left nil
// are not touched.
type UserFields struct {
	Name        string
	RealName    *string
	DisplayName *string
	StatusText  *string
	AvatarHash  *string
	AvatarURL   *string
	IsBot       *bool
}

// Registry is the session's identity store.
type Registry struct {
	mu sync.RWMutex

	selfID string

	users     map[string]*User
	userNames map[string]*User
	dms       map[string]*User

	channels     map[string]*Channel
	channelNames map[string]*Channel
	handles      map[int]*Channel
	lastHandle   int
}

// New creates an empty registry for the authenticated user selfID.
func New(selfID string) *Registry {
	return &Registry{
		selfID:       selfID,
		users:        make(map[string]*User),
		userNames:    make(map[string]*User),
		dms:          make(map[string]*User),
		channels:     make(map[string]*Channel),
		channelNames: make(map[string]*Channel),
		handles:      make(map[int]*Channel),
	}
}

// SelfID returns the id of the authenticated user.
func (r *Registry) SelfID() string {
	return r.selfID
}

// UpsertChannel creates the channel if needed and merges fields into it.
func (r *Registry) UpsertChannel(id string, fields ChannelFields) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[id]
	if !ok {
		ch = &Channel{base: base{id: id}}
		r.channels[id] = ch
	}
	if fields.Kind > KindUnknown {
		ch.mu.Lock()
		ch.kind = fields.Kind
		ch.mu.Unlock()
	}
	if fields.Topic != nil {
		ch.mu.Lock()
		ch.topic = *fields.Topic
		ch.mu.Unlock()
	}
	if fields.Name != "" {
		if old := ch.Name(); old != fields.Name {
			if r.channelNames[old] == ch {
				delete(r.channelNames, old)
			}
			ch.setName(fields.Name)
			r.channelNames[fields.Name] = ch
		}
	}
	return ch
}

// UpsertUser creates the user if needed and merges fields into it.
func (r *Registry) UpsertUser(id string, fields UserFields) *User {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		u = &User{base: base{id: id}}
		r.users[id] = u
	}
	u.mu.Lock()
	if fields.RealName != nil {
		u.realName = *fields.RealName
	}
	if fields.DisplayName != nil {
		u.displayName = *fields.DisplayName
	}
	if fields.StatusText != nil {
		u.statusText = *fields.StatusText
	}
	if fields.AvatarHash != nil {
		u.avatarHash = *fields.AvatarHash
	}
	if fields.AvatarURL != nil {
		u.avatarURL = *fields.AvatarURL
	}
	if fields.IsBot != nil {
		u.isBot = *fields.IsBot
	}
	u.mu.Unlock()
	if fields.Name != "" {
		if old := u.Name(); old != fields.Name {
			if r.userNames[old] == u {
				delete(r.userNames, old)
			}
			u.setName(fields.Name)
			r.userNames[fields.Name] = u
		}
	}
	return u
}

// LookupChannel returns the channel with the given id.
func (r *Registry) LookupChannel(id string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// LookupUser returns the user with the given id.
func (r *Registry) LookupUser(id string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	return u, ok
}

// LookupChannelByName returns the channel currently named name.
func (r *Registry) LookupChannelByName(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channelNames[name]
	return ch, ok
}

// LookupUserByName returns the user currently named name.
func (r *Registry) LookupUserByName(name string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.userNames[name]
	return u, ok
}

// LookupByConversationHandle returns the open channel holding handle.
func (r *Registry) LookupByConversationHandle(handle int) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.handles[handle]
	return ch, ok
}

// LookupByDirectMessageID returns the user whose DM has the given id.
func (r *Registry) LookupByDirectMessageID(dmID string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.dms[dmID]
	return u, ok
}

// LookupConversation finds the entity addressed by a conversation id: a
// channel, or a user through their DM id.
func (r *Registry) LookupConversation(id string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ch, ok := r.channels[id]; ok {
		return ch, true
	}
	if u, ok := r.dms[id]; ok {
		return u, true
	}
	return nil, false
}

// Open assigns a local conversation handle to ch if it has none and returns it.
func (r *Registry) Open(ch *Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.handle != 0 {
		return ch.handle
	}
	r.lastHandle++
	ch.handle = r.lastHandle
	r.handles[ch.handle] = ch
	return ch.handle
}

// Close releases ch's conversation handle. It reports whether one was held.
func (r *Registry) Close(ch *Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.handle == 0 {
		return false
	}
	if r.handles[ch.handle] == ch {
		delete(r.handles, ch.handle)
	}
	ch.handle = 0
	return true
}

// SetDirectMessage records dmID as the DM conversation with u.
func (r *Registry) SetDirectMessage(u *User, dmID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.dmID == dmID {
		return
	}
	if u.dmID != "" && r.dms[u.dmID] == u {
		delete(r.dms, u.dmID)
	}
	u.dmID = dmID
	if dmID != "" {
		r.dms[dmID] = u
	}
}

// ClearDirectMessage forgets u's DM conversation.
func (r *Registry) ClearDirectMessage(u *User) {
	r.SetDirectMessage(u, "")
}

// RemoveChannel deletes the channel from every index.
func (r *Registry) RemoveChannel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		return false
	}
	delete(r.channels, id)
	if name := ch.Name(); r.channelNames[name] == ch {
		delete(r.channelNames, name)
	}
	if h := ch.Handle(); h != 0 && r.handles[h] == ch {
		delete(r.handles, h)
	}
	return true
}

// RemoveUser deletes the user from every index.
func (r *Registry) RemoveUser(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false
	}
	delete(r.users, id)
	if name := u.Name(); r.userNames[name] == u {
		delete(r.userNames, name)
	}
	if dm := u.DirectMessageID(); dm != "" && r.dms[dm] == u {
		delete(r.dms, dm)
	}
	return true
}

// Channels returns a snapshot of all known channels.
func (r *Registry) Channels() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// UserCount returns the number of known users.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// CompareAndAdvance applies the dedup rules for a message with timestamp ts
// in conversation e. A message whose ts equals the last seen one is a
// duplicate and reports false. Otherwise the last seen timestamp is advanced
// to ts if cmp says ts is newer, and true is returned.
// The check and the update are atomic with respect to other callers on the
// same entity.
func CompareAndAdvance(e Entity, ts string, cmp func(a, b string) int) bool {
	return e.advanceLastMessageTimestamp(ts, cmp, true)
}

// Advance moves e's last seen timestamp forward to ts; it never regresses.
func Advance(e Entity, ts string, cmp func(a, b string) int) {
	e.advanceLastMessageTimestamp(ts, cmp, false)
}

// UserName returns the display name for a user id.
func (r *Registry) UserName(id string) (string, bool) {
	u, ok := r.LookupUser(id)
	if !ok {
		return "", false
	}
	name := u.Name()
	return name, name != ""
}

// ChannelName returns the display name for a channel id.
func (r *Registry) ChannelName(id string) (string, bool) {
	ch, ok := r.LookupChannel(id)
	if !ok {
		return "", false
	}
	name := ch.Name()
	return name, name != ""
}

// UserIDByName returns the id of the user named name.
func (r *Registry) UserIDByName(name string) (string, bool) {
	u, ok := r.LookupUserByName(name)
	if !ok {
		return "", false
	}
	return u.ID(), true
}

// ChannelIDByName returns the id of the channel named name.
func (r *Registry) ChannelIDByName(name string) (string, bool) {
	ch, ok := r.LookupChannelByName(name)
	if !ok {
		return "", false
	}
	return ch.ID(), true
}
