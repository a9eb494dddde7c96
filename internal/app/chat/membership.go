package chat

import (
	"errors"
	"maps"
	"slices"
)

// ErrInvalidUser is returned when a guest tries to hold a channel membership.
var ErrInvalidUser = errors.New("chat: guests can not join channels")

type idSet map[int64]struct{}

// Membership is the many-to-many index between users and channels.
// byChannel and byUser are always mutual inverses and empty sets are pruned.
// Not safe for concurrent use; the Hub guards it with its own lock.
type Membership struct {
	byChannel map[int64]idSet
	byUser    map[int64]idSet
}

func NewMembership() *Membership {
	return &Membership{
		byChannel: make(map[int64]idSet),
		byUser:    make(map[int64]idSet),
	}
}

// Join adds userID to channelID. A nil userID is a guest.
func (m *Membership) Join(userID *int64, channelID int64) error {
	if userID == nil {
		return ErrInvalidUser
	}
	add(m.byChannel, channelID, *userID)
	add(m.byUser, *userID, channelID)
	return nil
}

// Leave removes userID from channelID and reports whether it was a member.
func (m *Membership) Leave(userID, channelID int64) bool {
	if !m.IsMember(userID, channelID) {
		return false
	}
	remove(m.byChannel, channelID, userID)
	remove(m.byUser, userID, channelID)
	return true
}

func (m *Membership) IsMember(userID, channelID int64) bool {
	_, ok := m.byUser[userID][channelID]
	return ok
}

// MembersOf returns the user ids in channelID, sorted.
func (m *Membership) MembersOf(channelID int64) []int64 {
	return sortedKeys(m.byChannel[channelID])
}

// ChannelsOf returns the channel ids userID belongs to, sorted.
func (m *Membership) ChannelsOf(userID int64) []int64 {
	return sortedKeys(m.byUser[userID])
}

// LeaveAll removes every membership of userID and returns the channels it held.
func (m *Membership) LeaveAll(userID int64) []int64 {
	channels := sortedKeys(m.byUser[userID])
	for _, channelID := range channels {
		remove(m.byChannel, channelID, userID)
	}
	delete(m.byUser, userID)
	return channels
}

// Channels returns every channel with at least one member, sorted.
func (m *Membership) Channels() []int64 {
	return slices.Sorted(maps.Keys(m.byChannel))
}

func add(index map[int64]idSet, key, value int64) {
	set, ok := index[key]
	if !ok {
		set = make(idSet)
		index[key] = set
	}
	set[value] = struct{}{}
}

func remove(index map[int64]idSet, key, value int64) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(index, key)
	}
}

func sortedKeys(set idSet) []int64 {
	if len(set) == 0 {
		return []int64{}
	}
	return slices.Sorted(maps.Keys(set))
}
