/*
Package chat contains the connection registry and the channel pub-sub dispatch engine.

This file defines the Hub. It tracks every registered connection and the identity
bound to it, the user to connection index, the channel table and the channel membership
index. A single RWMutex guards all of them so each operation is one critical section.
Fan-out snapshots its recipients under the lock and sends after releasing it.
*/
package chat

import (
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"relaychat/internal/app/protocol"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/logx"
)

// Hub is the process-wide connection registry.
type Hub struct {
	// mu protects every field below.
	mu sync.RWMutex

	// conns maps a connection handle to its context.
	conns map[string]*ConnContext

	// byUser maps a registered user id to the handle of its current session.
	byUser map[int64]string

	// channels holds every channel created so far. Channels are never removed.
	channels map[int64]user.Channel

	members *Membership

	metrics *Metrics

	logger zerolog.Logger
}

// NewHub constructs an empty Hub. metrics may be nil.
func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		conns:    make(map[string]*ConnContext),
		byUser:   make(map[int64]string),
		channels: make(map[int64]user.Channel),
		members:  NewMembership(),
		metrics:  metrics,
		logger:   logx.Component("Hub"),
	}
}

// Register adds cc. If cc's user already had a session, the user index now points at cc
// and the previous context is returned so the caller can evict it.
func (h *Hub) Register(cc *ConnContext) (displaced *ConnContext) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[cc.Handle] = cc

	if cc.User.ID != nil {
		if prev, ok := h.byUser[*cc.User.ID]; ok && prev != cc.Handle {
			displaced = h.conns[prev]
		}
		h.byUser[*cc.User.ID] = cc.Handle
	}

	h.metrics.SetConnections(len(h.conns))
	return displaced
}

// Unregister removes handle. ownsUser reports whether the user index still pointed at it;
// a stale handle never clears a newer session. Unknown handles return nil, false.
func (h *Hub) Unregister(handle string) (cc *ConnContext, ownsUser bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.unregisterLocked(handle)
}

func (h *Hub) unregisterLocked(handle string) (*ConnContext, bool) {
	cc, ok := h.conns[handle]
	if !ok {
		return nil, false
	}
	delete(h.conns, handle)
	h.metrics.SetConnections(len(h.conns))

	if cc.User.ID == nil {
		return cc, false
	}

	if current, ok := h.byUser[*cc.User.ID]; ok && current == handle {
		delete(h.byUser, *cc.User.ID)
		return cc, true
	}

	h.logger.Info().
		Str("handle", handle).
		Str("username", cc.User.Username).
		Msg("Ignoring user index for stale connection.")
	return cc, false
}

// Disconnect unregisters handle and, when it still owned its user, removes every
// membership of that user in the same critical section. formerChannels lists them.
func (h *Hub) Disconnect(handle string) (cc *ConnContext, ownsUser bool, formerChannels []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cc, ownsUser = h.unregisterLocked(handle)
	if ownsUser {
		formerChannels = h.members.LeaveAll(*cc.User.ID)
	}
	return cc, ownsUser, formerChannels
}

func (h *Hub) LookupByHandle(handle string) (*ConnContext, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cc, ok := h.conns[handle]
	return cc, ok
}

func (h *Hub) LookupByUser(userID int64) (*ConnContext, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	handle, ok := h.byUser[userID]
	if !ok {
		return nil, false
	}
	cc, ok := h.conns[handle]
	return cc, ok
}

// LookupByUsername finds the current session of a registered user by name.
func (h *Hub) LookupByUsername(username string) (*ConnContext, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, handle := range h.byUser {
		if cc := h.conns[handle]; cc != nil && cc.User.Username == username {
			return cc, true
		}
	}
	return nil, false
}

// UsernameInUse reports whether any live session, guest or registered, holds username.
func (h *Hub) UsernameInUse(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, cc := range h.conns {
		if cc.User.Username == username {
			return true
		}
	}
	return false
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// Join creates channelID on first use and adds u to it. joined is false when u
// was already a member.
func (h *Hub) Join(u user.User, channelID int64) (ch user.Channel, joined bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if u.ID != nil {
		joined = !h.members.IsMember(*u.ID, channelID)
	}
	if err := h.members.Join(u.ID, channelID); err != nil {
		return user.Channel{}, false, err
	}

	ch, ok := h.channels[channelID]
	if !ok {
		ch = user.NewChannel(channelID)
		h.channels[channelID] = ch
		h.logger.Info().Int64("channel_id", channelID).Msg("Channel created.")
	}
	return ch, joined, nil
}

// Leave removes userID from channelID and reports whether it was a member.
func (h *Hub) Leave(userID, channelID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.members.Leave(userID, channelID)
}

func (h *Hub) IsMember(userID, channelID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.members.IsMember(userID, channelID)
}

func (h *Hub) ChannelsOf(userID int64) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.members.ChannelsOf(userID)
}

// Channel returns the channel with id, if it was ever created.
func (h *Hub) Channel(id int64) (user.Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.channels[id]
	return ch, ok
}

// ChannelSummary describes a channel with its current member count.
type ChannelSummary struct {
	user.Channel
	Members int `json:"members"`
}

// ActiveChannels lists channels that currently have members, by id.
func (h *Hub) ActiveChannels() []ChannelSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := h.members.Channels()
	out := make([]ChannelSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, ChannelSummary{
			Channel: h.channels[id],
			Members: len(h.members.MembersOf(id)),
		})
	}
	return out
}

// MembersOf resolves the members of channelID to their live identities.
func (h *Hub) MembersOf(channelID int64) []user.User {
	h.mu.RLock()
	defer h.mu.RUnlock()

	recipients := h.channelRecipientsLocked(channelID, nil)
	users := make([]user.User, 0, len(recipients))
	for _, cc := range recipients {
		users = append(users, cc.User)
	}
	return users
}

// channelRecipientsLocked resolves members to contexts. Members without a live
// session are logged and skipped.
func (h *Hub) channelRecipientsLocked(channelID int64, exclude map[string]struct{}) []*ConnContext {
	ids := h.members.MembersOf(channelID)
	out := make([]*ConnContext, 0, len(ids))

	for _, id := range ids {
		handle, ok := h.byUser[id]
		if !ok {
			h.logger.Warn().Int64("channel_id", channelID).Int64("user_id", id).Msg("Channel member has no live connection, skipping.")
			continue
		}
		if _, skip := exclude[handle]; skip {
			continue
		}
		if cc, ok := h.conns[handle]; ok {
			out = append(out, cc)
		}
	}
	return out
}

// SendToChannel delivers env to every member of channelID except the excluded handles
// and returns the number of successful deliveries.
func (h *Hub) SendToChannel(channelID int64, env protocol.Envelope, exclude ...string) int {
	h.mu.RLock()
	recipients := h.channelRecipientsLocked(channelID, handleSet(exclude))
	h.mu.RUnlock()

	return h.deliver(env, recipients)
}

// BroadcastAll delivers env to every registered connection except the excluded handles.
func (h *Hub) BroadcastAll(env protocol.Envelope, exclude ...string) int {
	skip := handleSet(exclude)

	h.mu.RLock()
	recipients := make([]*ConnContext, 0, len(h.conns))
	for handle, cc := range h.conns {
		if _, ok := skip[handle]; !ok {
			recipients = append(recipients, cc)
		}
	}
	h.mu.RUnlock()

	return h.deliver(env, recipients)
}

// deliver encodes env once and queues it on each recipient. A failed recipient is
// logged and does not stop delivery to the rest.
func (h *Hub) deliver(env protocol.Envelope, recipients []*ConnContext) int {
	if len(recipients) == 0 {
		return 0
	}

	frame, err := protocol.Encode(env)
	if err != nil {
		h.logger.Error().Err(err).Str("msg_type", string(env.Type)).Msg("Failed to encode message for fan-out.")
		return 0
	}

	delivered := 0
	for _, cc := range recipients {
		if err := cc.sendFrame(env.Type, frame); err != nil {
			h.logger.Warn().Err(err).
				Str("handle", cc.Handle).
				Str("msg_type", string(env.Type)).
				Msg("Failed to deliver message, skipping recipient.")
			continue
		}
		delivered++
	}
	return delivered
}

// Shutdown closes every registered connection. Sessions run their own teardown
// when their read loop observes the close.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := slices.Collect(maps.Values(h.conns))
	h.mu.RUnlock()

	h.logger.Info().Int("connections", len(conns)).Msg("Closing all connections for shutdown.")

	for _, cc := range conns {
		if err := cc.Conn.Close(CloseGoingAway, "server shutting down"); err != nil {
			h.logger.Warn().Err(err).Str("handle", cc.Handle).Msg("Connection close error during shutdown.")
		}
	}
}

func handleSet(handles []string) map[string]struct{} {
	if len(handles) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		set[h] = struct{}{}
	}
	return set
}
