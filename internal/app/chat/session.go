/*
Package chat contains the connection registry and the channel pub-sub dispatch engine.

This file defines the Session, which drives one transport connection through the
handshake, the steady-state dispatch loop and teardown.

	AWAITING_HELLO --hello (guest or verified token)--> ACTIVE --transport closed--> TERMINATED
	AWAITING_HELLO --bad hello | auth failure | timeout--> TERMINATED
*/
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"relaychat/internal/app/db"
	"relaychat/internal/app/protocol"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// DefaultHandshakeTimeout applies when the config leaves it unset.
const DefaultHandshakeTimeout = 10 * time.Second

// CloseInternalError is sent when the handshake fails for a server-side reason.
const CloseInternalError = 1011

// Session owns one connection from accept to teardown.
type Session struct {
	conn   Conn
	svc    *Services
	router *Router

	// cc is set once the handshake succeeds.
	cc *ConnContext

	limiter *rate.Limiter

	teardownOnce sync.Once

	logger zerolog.Logger
}

// NewSession prepares a session for conn. Run drives it.
func NewSession(conn Conn, svc *Services, router *Router) *Session {
	return &Session{
		conn:    conn,
		svc:     svc,
		router:  router,
		limiter: newMessageLimiter(svc.Config.MessageRateLimit),
		logger: logx.Logger().With().
			Str("component", "Session").
			Str("handle", conn.Handle()).
			Str("remote_addr", conn.RemoteAddr()).
			Logger(),
	}
}

// newMessageLimiter allows perMinute messages a minute with a burst of the same size.
func newMessageLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
}

// Run performs the handshake and then serves frames until the transport closes or ctx
// is cancelled. It always tears the session down before returning.
func (s *Session) Run(ctx context.Context) error {
	u, hello, err := s.handshake(ctx)
	if err != nil {
		s.svc.Metrics.RecordSession("rejected")
		return err
	}

	s.cc = newConnContext(s.conn, u, s.svc.Metrics)
	s.logger = s.cc.logger
	defer s.teardown(CloseNormal, "")

	if displaced := s.svc.Hub.Register(s.cc); displaced != nil {
		s.svc.Metrics.RecordEviction()
		s.logger.Warn().
			Str("displaced_handle", displaced.Handle).
			Msg("User already connected. Closing old connection for replacement.")

		reason := errs.NewError(errs.ErrSessionReplaced).Message
		if err := displaced.Conn.Close(CloseSessionReplaced, reason); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close displaced connection.")
		}
	}

	if u.IsGuest() {
		s.svc.Metrics.RecordSession("guest")
	} else {
		s.svc.Metrics.RecordSession("authenticated")
	}

	if err := s.cc.Send(protocol.Reply(hello, protocol.HelloReply{Username: u.Username, Guest: u.IsGuest()})); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to queue hello reply.")
	}
	s.svc.Hub.BroadcastAll(protocol.New(protocol.UserOnline{Username: u.Username}), s.cc.Handle)

	s.logger.Info().Bool("guest", u.IsGuest()).Msg("Session established.")

	return s.serve(ctx)
}

// handshake waits for the hello and resolves the identity. On failure the transport
// has already been closed with the matching reason.
func (s *Session) handshake(ctx context.Context) (user.User, protocol.Envelope, error) {
	timeout := s.svc.Config.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	helloCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := s.conn.Recv(helloCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			s.logger.Info().Dur("timeout", timeout).Msg("No hello received in time.")
			s.closeTransport(ClosePolicyViolation, errs.NewError(errs.ErrHandshakeTimeout).Message)
			return user.User{}, protocol.Envelope{}, ErrHandshakeTimeout
		}
		s.closeTransport(CloseNormal, "")
		return user.User{}, protocol.Envelope{}, err
	}

	env, err := protocol.Decode(raw)
	if err == nil && env.Type != protocol.TypeHello {
		err = errors.New("first message is " + string(env.Type))
	}
	if err != nil {
		s.logger.Info().Err(err).Msg("Invalid hello.")
		s.closeTransport(ClosePolicyViolation, errs.NewError(errs.ErrInvalidHello).Message)
		return user.User{}, protocol.Envelope{}, ErrHandshake
	}

	hello := env.Payload.(protocol.HelloRequest)

	u, err := s.authenticate(ctx, hello)
	switch {
	case errors.Is(err, ErrAuthentication):
		s.closeTransport(ClosePolicyViolation, errs.NewError(errs.ErrAuthenticationFailed).Message)
		return user.User{}, protocol.Envelope{}, err
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to create guest identity.")
		s.closeTransport(CloseInternalError, errs.NewError(errs.ErrUnknown).Message)
		return user.User{}, protocol.Envelope{}, err
	}

	return u, env, nil
}

// authenticate resolves hello to a registered user or a guest. Every token problem is
// reported as ErrAuthentication so the client can not tell them apart.
func (s *Session) authenticate(ctx context.Context, hello protocol.HelloRequest) (user.User, error) {
	token := ""
	if hello.Token != nil {
		token = strings.TrimSpace(*hello.Token)
	}

	if token == "" {
		if hello.Username != "" {
			free, err := s.guestNameFree(ctx, hello.Username)
			if err != nil {
				return user.User{}, err
			}
			if free {
				return user.Guest(hello.Username), nil
			}
			s.logger.Info().Str("requested", hello.Username).Msg("Guest name taken, assigning a generated one.")
		}
		rec, err := s.svc.Store.CreateGuestUser(ctx)
		if err != nil {
			return user.User{}, err
		}
		return user.Guest(rec.Username), nil
	}

	id, err := s.svc.Verifier.Verify(ctx, token)
	if err != nil {
		s.logger.Info().Err(err).Msg("Token verification failed.")
		return user.User{}, ErrAuthentication
	}

	rec, err := s.svc.Store.FindUserByID(ctx, id)
	if err != nil {
		s.logger.Info().Err(err).Int64("user_id", id).Msg("Token subject lookup failed.")
		return user.User{}, ErrAuthentication
	}

	return user.Registered(rec.ID, rec.Username), nil
}

// guestNameFree reports whether a guest may use name: it must not belong to a registered
// account or to any live session.
func (s *Session) guestNameFree(ctx context.Context, name string) (bool, error) {
	if s.svc.Hub.UsernameInUse(name) {
		return false, nil
	}

	_, err := s.svc.Store.FindUserByUsername(ctx, name)
	switch {
	case errors.Is(err, db.ErrUserNotFound):
		return true, nil
	case err != nil:
		return false, err
	default:
		return false, nil
	}
}

// serve is the steady-state loop. Bad frames are answered with an error envelope.
func (s *Session) serve(ctx context.Context) error {
	for {
		raw, err := s.conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrConnClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if !s.limiter.Allow() {
			s.sendError(protocol.Envelope{}, errs.NewError(errs.ErrRateLimitExceeded))
			continue
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				s.svc.Metrics.RecordDecodeError(decodeErr.Kind.String())
				s.logger.Info().Err(err).Msg("Client sent invalid message.")
				s.sendError(protocol.Envelope{}, decodeErr.CustomError())
			}
			continue
		}

		s.svc.Metrics.RecordMessageReceived(string(env.Type))
		_ = s.router.Dispatch(ctx, s.cc, env)
	}
}

func (s *Session) sendError(req protocol.Envelope, ce *errs.CustomError) {
	if err := s.cc.Send(protocol.Reply(req, errorPayload(ce))); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to queue error message.")
	}
}

// teardown runs exactly once. It unregisters the connection and, when this session
// still owned its user, releases the user's channels and announces the departure.
// A session replaced by a newer one leaves both to its successor.
func (s *Session) teardown(code int, reason string) {
	s.teardownOnce.Do(func() {
		cc, ownsUser, channels := s.svc.Hub.Disconnect(s.conn.Handle())
		if cc != nil {
			for _, channelID := range channels {
				s.svc.Hub.SendToChannel(channelID, protocol.New(protocol.ChannelLeave{
					Username:  cc.User.Username,
					ChannelID: channelID,
				}))
			}

			if ownsUser || cc.User.IsGuest() {
				s.svc.Hub.BroadcastAll(protocol.New(protocol.UserOffline{Username: cc.User.Username}))
			}

			s.logger.Info().
				Bool("owned_user", ownsUser).
				Int("channels_left", len(channels)).
				Msg("Session closed.")
		}

		s.closeTransport(code, reason)
	})
}

// Close tears the session down with the given close code and reason.
func (s *Session) Close(code int, reason string) {
	s.teardown(code, reason)
}

func (s *Session) closeTransport(code int, reason string) {
	if err := s.conn.Close(code, reason); err != nil && !errors.Is(err, ErrConnClosed) {
		s.logger.Warn().Err(err).Msg("Connection close error.")
	}
}
