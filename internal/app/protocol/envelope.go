/*
Package protocol defines the typed JSON envelope exchanged over a chat connection
and the schema registry that decodes it.

Every frame is an object of the form

	{"type": "...", "timestamp": "RFC 3339", "correlation_id": "uuid|null", "payload": {...}}

The payload shape is fixed by the type. Decoding reads the type first and then parses the
payload against a closed schema, so unknown payload fields are rejected.
*/
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the envelope discriminant.
type MessageType string

const (
	TypeHello          MessageType = "hello"
	TypeError          MessageType = "error"
	TypeChatSend       MessageType = "chat_send"
	TypeChannelJoin    MessageType = "channel_join"
	TypeChannelLeave   MessageType = "channel_leave"
	TypeChannelPart    MessageType = "channel_part"
	TypeChannelHistory MessageType = "channel_history"
	TypeKick           MessageType = "kick"
	TypeUserOnline     MessageType = "user_online"
	TypeUserOffline    MessageType = "user_offline"
)

// Payload is implemented by every payload shape.
type Payload interface {
	Type() MessageType
}

// Envelope is a decoded or to-be-encoded frame.
type Envelope struct {
	Type MessageType

	// Timestamp is the receive time for inbound frames that omit it.
	Timestamp time.Time

	// CorrelationID is nil when the peer did not supply one.
	CorrelationID *uuid.UUID

	Payload Payload
}

// New wraps p in an envelope stamped with the current time.
func New(p Payload) Envelope {
	return Envelope{
		Type:      p.Type(),
		Timestamp: time.Now().UTC(),
		Payload:   p,
	}
}

// Reply wraps p like New and carries over the correlation id of req.
func Reply(req Envelope, p Payload) Envelope {
	env := New(p)
	env.CorrelationID = req.CorrelationID
	return env
}
