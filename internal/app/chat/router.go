package chat

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"relaychat/internal/app/protocol"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// HandlerFunc handles one decoded message from cc.
// Returned errors are reported to the client as an error envelope.
type HandlerFunc func(ctx context.Context, cc *ConnContext, env protocol.Envelope, svc *Services) error

// routes is the dispatch table. hello is consumed by the handshake and has no route.
var routes = map[protocol.MessageType]HandlerFunc{
	protocol.TypeChatSend:    handleChatSend,
	protocol.TypeChannelJoin: handleChannelJoin,
	protocol.TypeChannelPart: handleChannelPart,
	protocol.TypeKick:        handleKick,
}

// Router dispatches steady-state messages to their handlers.
type Router struct {
	routes map[protocol.MessageType]HandlerFunc
	svc    *Services
	logger zerolog.Logger
}

func NewRouter(svc *Services) *Router {
	return &Router{
		routes: routes,
		svc:    svc,
		logger: logx.Component("Router"),
	}
}

// Dispatch runs the handler for env. Failures are logged, answered with an error
// envelope and returned as *DispatchError; they never end the session.
func (r *Router) Dispatch(ctx context.Context, cc *ConnContext, env protocol.Envelope) (err error) {
	handler, ok := r.routes[env.Type]
	if !ok {
		r.logger.Warn().
			Str("handle", cc.Handle).
			Str("msg_type", string(env.Type)).
			Msg("No handler registered for message type.")
		r.reply(cc, env, errs.NewError(errs.ErrUnsupportedMessageType, string(env.Type)))
		return &DispatchError{Type: env.Type, Handle: cc.Handle, Err: fmt.Errorf("no handler for %s", env.Type)}
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			dispatchErr := &DispatchError{Type: env.Type, Handle: cc.Handle, Panic: recovered}
			r.svc.Metrics.RecordHandlerError(string(env.Type))
			r.logger.Error().
				Str("handle", cc.Handle).
				Str("username", cc.User.Username).
				Str("msg_type", string(env.Type)).
				Interface("panic", recovered).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from handler panic.")
			r.reply(cc, env, dispatchErr.ClientError())
			err = dispatchErr
		}
	}()

	if handlerErr := handler(ctx, cc, env, r.svc); handlerErr != nil {
		dispatchErr := &DispatchError{Type: env.Type, Handle: cc.Handle, Err: handlerErr}
		r.svc.Metrics.RecordHandlerError(string(env.Type))

		var custom *errs.CustomError
		if errors.As(handlerErr, &custom) {
			r.logger.Info().
				Str("handle", cc.Handle).
				Str("username", cc.User.Username).
				Str("msg_type", string(env.Type)).
				Int("code", custom.Code).
				Msg("Handler rejected message.")
		} else {
			r.logger.Error().Err(handlerErr).
				Str("handle", cc.Handle).
				Str("username", cc.User.Username).
				Str("msg_type", string(env.Type)).
				Msg("Handler failed.")
		}

		r.reply(cc, env, dispatchErr.ClientError())
		return dispatchErr
	}

	return nil
}

func (r *Router) reply(cc *ConnContext, req protocol.Envelope, ce *errs.CustomError) {
	if err := cc.Send(protocol.Reply(req, errorPayload(ce))); err != nil {
		r.logger.Warn().Err(err).Str("handle", cc.Handle).Msg("Failed to queue error message.")
	}
}
