package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// schema constructs the zero payload to decode into.
type schema func() Payload

// clientSchemas lists every type a client may send.
var clientSchemas = map[MessageType]schema{
	TypeHello:       func() Payload { return &HelloRequest{} },
	TypeChatSend:    func() Payload { return &ChatSendRequest{} },
	TypeChannelJoin: func() Payload { return &ChannelJoin{} },
	TypeChannelPart: func() Payload { return &ChannelPart{} },
	TypeKick:        func() Payload { return &Kick{} },
}

// serverSchemas lists every type the server emits.
var serverSchemas = map[MessageType]schema{
	TypeHello:          func() Payload { return &HelloReply{} },
	TypeError:          func() Payload { return &Error{} },
	TypeChatSend:       func() Payload { return &ChatMessage{} },
	TypeChannelJoin:    func() Payload { return &ChannelJoin{} },
	TypeChannelLeave:   func() Payload { return &ChannelLeave{} },
	TypeChannelHistory: func() Payload { return &ChannelHistory{} },
	TypeKick:           func() Payload { return &Kick{} },
	TypeUserOnline:     func() Payload { return &UserOnline{} },
	TypeUserOffline:    func() Payload { return &UserOffline{} },
}

// IsClientType reports whether clients may send t.
func IsClientType(t MessageType) bool {
	_, ok := clientSchemas[t]
	return ok
}

// IsServerOnly reports whether t is emitted by the server but never accepted from a client.
func IsServerOnly(t MessageType) bool {
	_, server := serverSchemas[t]
	return server && !IsClientType(t)
}

type wireEnvelope struct {
	Type          MessageType     `json:"type"`
	Timestamp     string          `json:"timestamp"`
	CorrelationID *uuid.UUID      `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

// Decode parses a frame received from a client.
func Decode(raw []byte) (Envelope, error) {
	return decode(raw, clientSchemas, true)
}

// DecodeServer parses a frame emitted by the server, for clients and tests.
func DecodeServer(raw []byte) (Envelope, error) {
	return decode(raw, serverSchemas, false)
}

func decode(raw []byte, schemas map[MessageType]schema, inbound bool) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Envelope{}, newDecodeError(KindMalformedEnvelope, "", errors.New("frame is not a JSON object"))
	}

	var t MessageType
	rawType, ok := fields["type"]
	if !ok || json.Unmarshal(rawType, &t) != nil {
		return Envelope{}, newDecodeError(KindMalformedEnvelope, "", errors.New("missing or non-string type"))
	}

	newPayload, ok := schemas[t]
	if !ok {
		if inbound && IsServerOnly(t) {
			return Envelope{}, newDecodeError(KindClientNotAllowed, t, nil)
		}
		return Envelope{}, newDecodeError(KindUnknownType, t, nil)
	}

	for key := range fields {
		switch key {
		case "type", "timestamp", "correlation_id", "payload":
		default:
			return Envelope{}, newDecodeError(KindMalformedPayload, t, fmt.Errorf("unexpected field %q", key))
		}
	}

	env := Envelope{Type: t}

	ts, err := decodeTimestamp(fields["timestamp"])
	if err != nil {
		return Envelope{}, newDecodeError(KindMalformedPayload, t, err)
	}
	if ts.IsZero() {
		if !inbound {
			return Envelope{}, newDecodeError(KindMalformedPayload, t, errors.New("timestamp is required"))
		}
		ts = time.Now().UTC()
	}
	env.Timestamp = ts

	if rawID, ok := fields["correlation_id"]; ok && !isNull(rawID) {
		var id uuid.UUID
		if err := json.Unmarshal(rawID, &id); err != nil {
			return Envelope{}, newDecodeError(KindMalformedPayload, t, fmt.Errorf("correlation_id: %w", err))
		}
		env.CorrelationID = &id
	}

	rawPayload, ok := fields["payload"]
	if !ok || isNull(rawPayload) {
		return Envelope{}, newDecodeError(KindMalformedPayload, t, errors.New("payload is required"))
	}

	payload := newPayload()
	if err := checkKeys(payload, rawPayload); err != nil {
		return Envelope{}, newDecodeError(KindMalformedPayload, t, err)
	}

	dec := json.NewDecoder(bytes.NewReader(rawPayload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return Envelope{}, newDecodeError(KindMalformedPayload, t, err)
	}

	if v, ok := payload.(validator); ok {
		if err := v.validate(); err != nil {
			return Envelope{}, newDecodeError(KindMalformedPayload, t, err)
		}
	}

	env.Payload = deref(payload)
	return env, nil
}

// checkKeys rejects payload keys that do not match a JSON tag of p exactly.
// encoding/json alone would accept "CHANNEL_ID" for "channel_id".
func checkKeys(p Payload, raw json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return errors.New("payload is not a JSON object")
	}

	known := payloadKeys(p)
	for key := range fields {
		if _, ok := known[key]; !ok {
			return fmt.Errorf("unknown payload field %q", key)
		}
	}
	return nil
}

// payloadKeys lists the JSON names of the fields of the struct p points to.
func payloadKeys(p Payload) map[string]struct{} {
	typ := reflect.TypeOf(p)
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	keys := make(map[string]struct{}, typ.NumField())
	for i := range typ.NumField() {
		name, _, _ := strings.Cut(typ.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}

func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	if raw == nil || isNull(raw) {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("timestamp: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp: %w", err)
	}
	return ts.UTC(), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// deref turns the pointer used for decoding back into the value type handlers switch on.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *HelloRequest:
		return *v
	case *HelloReply:
		return *v
	case *Error:
		return *v
	case *ChatSendRequest:
		return *v
	case *ChatMessage:
		return *v
	case *ChannelJoin:
		return *v
	case *ChannelLeave:
		return *v
	case *ChannelPart:
		return *v
	case *ChannelHistory:
		return *v
	case *Kick:
		return *v
	case *UserOnline:
		return *v
	case *UserOffline:
		return *v
	default:
		return p
	}
}

// Encode serializes env. A zero timestamp is replaced with the current time.
func Encode(env Envelope) ([]byte, error) {
	if env.Payload == nil {
		return nil, errors.New("protocol: envelope has no payload")
	}

	t := env.Payload.Type()
	if env.Type != "" && env.Type != t {
		return nil, fmt.Errorf("protocol: envelope type %q does not match payload type %q", env.Type, t)
	}

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s payload: %w", t, err)
	}

	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return json.Marshal(wireEnvelope{
		Type:          t,
		Timestamp:     ts.UTC().Format(time.RFC3339Nano),
		CorrelationID: env.CorrelationID,
		Payload:       payload,
	})
}
