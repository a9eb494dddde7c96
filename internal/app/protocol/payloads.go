package protocol

import (
	"errors"
	"time"
	"unicode/utf8"
)

// MaxUsernameLength bounds usernames carried in hello.
const MaxUsernameLength = 32

var (
	errChannelID = errors.New("channel_id must be a positive integer")
	errUsername  = errors.New("username is too long")
	errTarget    = errors.New("target is required")
)

// validator is implemented by payloads with constraints beyond their JSON shape.
type validator interface {
	validate() error
}

// HelloRequest opens a session. A nil or empty Token means a guest.
type HelloRequest struct {
	Username string  `json:"username"`
	Token    *string `json:"token"`
}

func (HelloRequest) Type() MessageType { return TypeHello }

func (p HelloRequest) validate() error {
	if utf8.RuneCountInString(p.Username) > MaxUsernameLength {
		return errUsername
	}
	return nil
}

// HelloReply confirms the session and carries the final username.
type HelloReply struct {
	Username string `json:"username"`
	Guest    bool   `json:"guest"`
}

func (HelloReply) Type() MessageType { return TypeHello }

// Error reports a non-fatal problem to the client.
type Error struct {
	Detail string `json:"detail"`
	Code   int    `json:"code"`
}

func (Error) Type() MessageType { return TypeError }

// ChatSendRequest posts content to a channel.
type ChatSendRequest struct {
	ChannelID int64  `json:"channel_id"`
	Content   string `json:"content"`
}

func (ChatSendRequest) Type() MessageType { return TypeChatSend }

func (p ChatSendRequest) validate() error {
	if p.ChannelID <= 0 {
		return errChannelID
	}
	return nil
}

// ChatMessage is the fan-out form of chat_send.
type ChatMessage struct {
	ChannelID int64  `json:"channel_id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
}

func (ChatMessage) Type() MessageType { return TypeChatSend }

// ChannelJoin is both the join request and its confirmation.
// Username is ignored on requests; the session identity is authoritative.
type ChannelJoin struct {
	Username  string `json:"username"`
	ChannelID int64  `json:"channel_id"`
}

func (ChannelJoin) Type() MessageType { return TypeChannelJoin }

func (p ChannelJoin) validate() error {
	if p.ChannelID <= 0 {
		return errChannelID
	}
	return nil
}

// ChannelLeave tells members that a user left the channel.
type ChannelLeave struct {
	Username  string `json:"username"`
	ChannelID int64  `json:"channel_id"`
}

func (ChannelLeave) Type() MessageType { return TypeChannelLeave }

// ChannelPart asks to leave one channel.
type ChannelPart struct {
	ChannelID int64 `json:"channel_id"`
}

func (ChannelPart) Type() MessageType { return TypeChannelPart }

func (p ChannelPart) validate() error {
	if p.ChannelID <= 0 {
		return errChannelID
	}
	return nil
}

// HistoryEntry is one stored message replayed on join.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelHistory carries recent messages, oldest first.
type ChannelHistory struct {
	ChannelID int64          `json:"channel_id"`
	Messages  []HistoryEntry `json:"messages"`
}

func (ChannelHistory) Type() MessageType { return TypeChannelHistory }

// Kick removes Target from a channel. Sent by an admin and echoed to the channel.
type Kick struct {
	ChannelID int64  `json:"channel_id"`
	Target    string `json:"target"`
	Reason    string `json:"reason"`
}

func (Kick) Type() MessageType { return TypeKick }

func (p Kick) validate() error {
	if p.ChannelID <= 0 {
		return errChannelID
	}
	if p.Target == "" {
		return errTarget
	}
	return nil
}

// UserOnline announces a new session.
type UserOnline struct {
	Username string `json:"username"`
}

func (UserOnline) Type() MessageType { return TypeUserOnline }

// UserOffline announces a finished session.
type UserOffline struct {
	Username string `json:"username"`
}

func (UserOffline) Type() MessageType { return TypeUserOffline }
