package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"relaychat/internal/app/protocol"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/logx"
)

// WebSocket close codes sent when the server ends a session.
const (
	CloseNormal = 1000

	// ClosePolicyViolation is used for a bad handshake or failed authentication.
	ClosePolicyViolation = 1008

	// CloseGoingAway is used on server shutdown.
	CloseGoingAway = 1001

	// CloseSessionReplaced signals that the same user connected again elsewhere.
	CloseSessionReplaced = 4001
)

// ErrConnClosed is returned by Conn.Send and Conn.Recv once the connection is closed.
var ErrConnClosed = errors.New("chat: connection closed")

// Conn is one live transport connection carrying text frames.
type Conn interface {
	// Handle is a unique opaque id for this connection.
	Handle() string

	// Recv blocks until the next text frame, ctx cancellation or transport failure.
	Recv(ctx context.Context) ([]byte, error)

	// Send queues frame for delivery without blocking on the network.
	Send(frame []byte) error

	// Close sends a close frame with code and reason and releases the transport. Idempotent.
	Close(code int, reason string) error

	RemoteAddr() string
}

// ConnContext binds a registered connection to its identity.
type ConnContext struct {
	Handle string
	User   user.User
	Conn   Conn

	logger  zerolog.Logger
	metrics *Metrics
}

func newConnContext(conn Conn, u user.User, metrics *Metrics) *ConnContext {
	return &ConnContext{
		Handle: conn.Handle(),
		User:   u,
		Conn:   conn,
		logger: logx.Logger().With().
			Str("component", "Session").
			Str("handle", conn.Handle()).
			Str("username", u.Username).
			Logger(),
		metrics: metrics,
	}
}

// Send encodes env and queues it on the connection.
func (c *ConnContext) Send(env protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return c.sendFrame(env.Type, frame)
}

func (c *ConnContext) sendFrame(t protocol.MessageType, frame []byte) error {
	if err := c.Conn.Send(frame); err != nil {
		c.metrics.RecordDeliveryFailure()
		return err
	}
	c.metrics.RecordMessageSent(string(t))
	return nil
}
