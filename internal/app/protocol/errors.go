package protocol

import (
	"fmt"

	"relaychat/internal/pkg/errs"
)

// ErrorKind classifies a decode failure.
type ErrorKind int

const (
	// KindMalformedEnvelope: not a JSON object with a string type.
	KindMalformedEnvelope ErrorKind = iota + 1

	// KindUnknownType: the type is not in the registry.
	KindUnknownType

	// KindMalformedPayload: the type is known but the frame fails its schema.
	KindMalformedPayload

	// KindClientNotAllowed: a server-only type arrived from a client.
	KindClientNotAllowed
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedEnvelope:
		return "malformed_envelope"
	case KindUnknownType:
		return "unknown_type"
	case KindMalformedPayload:
		return "malformed_payload"
	case KindClientNotAllowed:
		return "client_not_allowed"
	default:
		return "unknown"
	}
}

// DecodeError is returned by Decode and DecodeServer.
type DecodeError struct {
	Kind ErrorKind

	// Type is the discriminant as received; empty for KindMalformedEnvelope.
	Type MessageType

	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s %q: %v", e.Kind, e.Type, e.Err)
	}
	return fmt.Sprintf("protocol: %s %q", e.Kind, e.Type)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CustomError maps the failure onto the client-facing error table.
func (e *DecodeError) CustomError() *errs.CustomError {
	switch e.Kind {
	case KindUnknownType:
		return errs.NewError(errs.ErrUnknownMessageType, string(e.Type))
	case KindMalformedPayload:
		return errs.NewError(errs.ErrMalformedPayload, string(e.Type))
	case KindClientNotAllowed:
		return errs.NewError(errs.ErrClientNotAllowed, string(e.Type))
	default:
		return errs.NewError(errs.ErrMalformedMessage)
	}
}

func newDecodeError(kind ErrorKind, t MessageType, err error) *DecodeError {
	return &DecodeError{Kind: kind, Type: t, Err: err}
}
