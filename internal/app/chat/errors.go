package chat

import (
	"errors"
	"fmt"

	"relaychat/internal/app/protocol"
	"relaychat/internal/pkg/errs"
)

var (
	// ErrHandshake means the first frame was not a valid hello. Fatal.
	ErrHandshake = errors.New("chat: invalid hello")

	// ErrAuthentication means the hello token could not be resolved to a user. Fatal.
	ErrAuthentication = errors.New("chat: authentication failed")

	// ErrHandshakeTimeout means no hello arrived in time. Fatal.
	ErrHandshakeTimeout = errors.New("chat: handshake timeout")
)

// DispatchError wraps a handler failure or a recovered panic. The connection survives it.
type DispatchError struct {
	Type   protocol.MessageType
	Handle string

	// Err is nil when the handler panicked.
	Err error

	// Panic holds the recovered value, if any.
	Panic any
}

func (e *DispatchError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("chat: %s handler panicked: %v", e.Type, e.Panic)
	}
	return fmt.Sprintf("chat: %s handler failed: %v", e.Type, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ClientError returns the error envelope payload for e. Only errs.CustomError
// details reach the client; anything else becomes the generic ErrUnknown message.
func (e *DispatchError) ClientError() *errs.CustomError {
	var custom *errs.CustomError
	if e.Err != nil && errors.As(e.Err, &custom) {
		return custom
	}
	return errs.NewError(errs.ErrUnknown)
}

// errorPayload converts a client-facing error into the wire payload.
func errorPayload(ce *errs.CustomError) protocol.Error {
	return protocol.Error{Detail: ce.Message, Code: ce.Code}
}
