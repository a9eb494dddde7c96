package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxFrameSize = 16 << 10

	// capacity of the outbound queue.
	sendQueueSize = 256
)

var errSendQueueFull = errors.New("chat: send queue full")

// WSConn adapts a gorilla WebSocket connection to Conn. A read pump feeds Recv and a
// write pump drains the send queue and keeps the heartbeat.
type WSConn struct {
	conn       *websocket.Conn
	handle     string
	remoteAddr string

	// inbound carries text frames from the read pump. Closed when the pump exits.
	inbound chan []byte

	// readErr is set by the read pump before inbound is closed.
	readErr error

	// send queues frames for the write pump.
	send chan []byte

	// done is closed by Close.
	done      chan struct{}
	closeOnce sync.Once

	// closeFrame is written by the write pump after done is closed.
	closeFrame []byte

	logger zerolog.Logger
}

// NewWSConn wraps an upgraded connection and starts its pumps.
func NewWSConn(conn *websocket.Conn, remoteAddr string) *WSConn {
	handle := randx.ConnectionHandle()

	c := &WSConn{
		conn:       conn,
		handle:     handle,
		remoteAddr: remoteAddr,
		inbound:    make(chan []byte),
		send:       make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
		logger: logx.Logger().With().
			Str("component", "WSConn").
			Str("handle", handle).
			Logger(),
	}

	go c.readPump()
	go c.writePump()

	return c
}

func (c *WSConn) Handle() string {
	return c.handle
}

func (c *WSConn) RemoteAddr() string {
	return c.remoteAddr
}

// Recv returns the next text frame.
func (c *WSConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-c.inbound:
		if !ok {
			if c.readErr != nil {
				return nil, c.readErr
			}
			return nil, ErrConnClosed
		}
		return frame, nil
	case <-c.done:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send queues frame. It fails fast when the queue is full or the connection is closed.
func (c *WSConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping message")
		return errSendQueueFull
	}
}

// Close asks the write pump to flush, send a close frame and release the socket.
func (c *WSConn) Close(code int, reason string) error {
	closed := false
	c.closeOnce.Do(func() {
		c.closeFrame = websocket.FormatCloseMessage(code, reason)
		close(c.done)
		closed = true
	})
	if !closed {
		return ErrConnClosed
	}

	c.logger.Debug().Int("close_code", code).Str("reason", reason).Msg("Closing connection.")
	return nil
}

// readPump handles reading messages from the WebSocket connection.
func (c *WSConn) readPump() {
	defer close(c.inbound)

	c.conn.SetReadLimit(maxFrameSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		c.readErr = err
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
				c.readErr = err
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn().Int("message_type", messageType).Msg("Ignoring non-text frame")
			continue
		}

		select {
		case c.inbound <- frame:
		case <-c.done:
			return
		}
	}
}

// writePump handles writing messages from the send queue to the WebSocket connection.
func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in writePump")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				c.Close(CloseInternalError, "write failed")
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				c.Close(CloseInternalError, "ping failed")
				return
			}

		case <-c.done:
			c.flush()
			c.write(websocket.CloseMessage, c.closeFrame)
			return
		}
	}
}

// flush writes whatever is still queued without blocking for more.
func (c *WSConn) flush() {
	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		default:
			return
		}
	}
}

func (c *WSConn) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Debug().Err(err).Int("message_type", messageType).Msg("Error writing message")
		return false
	}

	return true
}
