package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"relaychat/internal/app/db"
	"relaychat/internal/app/protocol"
	"relaychat/internal/pkg/errs"
)

// payloadAs asserts the decoded payload type for a handler.
func payloadAs[T protocol.Payload](env protocol.Envelope) (T, error) {
	p, ok := env.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected payload %T for %s", env.Payload, env.Type)
	}
	return p, nil
}

// handleChatSend stores the message and fans it out to the other channel members.
// The sender gets the echo back only as an acknowledgement of a correlated request.
func handleChatSend(ctx context.Context, cc *ConnContext, env protocol.Envelope, svc *Services) error {
	p, err := payloadAs[protocol.ChatSendRequest](env)
	if err != nil {
		return err
	}

	if cc.User.IsGuest() || !svc.Hub.IsMember(*cc.User.ID, p.ChannelID) {
		return errs.NewError(errs.ErrNotChannelMember)
	}

	if strings.TrimSpace(p.Content) == "" {
		return errs.NewError(errs.ErrMessageEmpty)
	}
	if utf8.RuneCountInString(p.Content) > svc.Config.MaxMessageLength {
		return errs.NewError(errs.ErrMessageContentTooLong)
	}

	if _, err := svc.Store.AppendMessage(ctx, p.ChannelID, db.NewMessage{
		SenderID: cc.User.ID,
		Sender:   cc.User.Username,
		Content:  p.Content,
		SentAt:   env.Timestamp,
	}); err != nil {
		cc.logger.Warn().Err(err).Int64("channel_id", p.ChannelID).Msg("Failed to persist chat message.")
	}

	echo := protocol.Reply(env, protocol.ChatMessage{
		ChannelID: p.ChannelID,
		Sender:    cc.User.Username,
		Content:   p.Content,
	})
	svc.Hub.SendToChannel(p.ChannelID, echo, cc.Handle)

	if env.CorrelationID != nil {
		if err := cc.Send(echo); err != nil {
			cc.logger.Warn().Err(err).Msg("Failed to queue chat acknowledgement.")
		}
	}
	return nil
}

// handleChannelJoin adds the user to the channel, confirms to its members and replays history to the joiner.
func handleChannelJoin(ctx context.Context, cc *ConnContext, env protocol.Envelope, svc *Services) error {
	p, err := payloadAs[protocol.ChannelJoin](env)
	if err != nil {
		return err
	}

	if cc.User.IsGuest() {
		return errs.NewError(errs.ErrGuestCannotJoin)
	}

	_, joined, err := svc.Hub.Join(cc.User, p.ChannelID)
	if err != nil {
		return errs.NewError(errs.ErrGuestCannotJoin)
	}

	confirm := protocol.Reply(env, protocol.ChannelJoin{Username: cc.User.Username, ChannelID: p.ChannelID})
	if joined {
		cc.logger.Info().Int64("channel_id", p.ChannelID).Msg("Joined channel.")
		svc.Hub.SendToChannel(p.ChannelID, confirm)
	} else if err := cc.Send(confirm); err != nil {
		cc.logger.Warn().Err(err).Msg("Failed to queue join confirmation.")
	}

	records, err := svc.Store.ListRecentMessages(ctx, p.ChannelID, svc.Config.HistoryLimit)
	if err != nil {
		cc.logger.Warn().Err(err).Int64("channel_id", p.ChannelID).Msg("Failed to load channel history.")
		return nil
	}

	history := protocol.ChannelHistory{
		ChannelID: p.ChannelID,
		Messages:  make([]protocol.HistoryEntry, 0, len(records)),
	}
	for _, r := range records {
		history.Messages = append(history.Messages, protocol.HistoryEntry{
			ID:        r.ID,
			Sender:    r.Sender,
			Content:   r.Content,
			Timestamp: r.CreatedAt,
		})
	}

	if err := cc.Send(protocol.Reply(env, history)); err != nil {
		cc.logger.Warn().Err(err).Msg("Failed to queue channel history.")
	}
	return nil
}

// handleChannelPart removes the user from one channel and tells the remaining members and the leaver.
func handleChannelPart(_ context.Context, cc *ConnContext, env protocol.Envelope, svc *Services) error {
	p, err := payloadAs[protocol.ChannelPart](env)
	if err != nil {
		return err
	}

	if cc.User.IsGuest() || !svc.Hub.Leave(*cc.User.ID, p.ChannelID) {
		return errs.NewError(errs.ErrNotChannelMember)
	}

	leave := protocol.Reply(env, protocol.ChannelLeave{Username: cc.User.Username, ChannelID: p.ChannelID})
	svc.Hub.SendToChannel(p.ChannelID, leave)
	if err := cc.Send(leave); err != nil {
		cc.logger.Warn().Err(err).Msg("Failed to queue leave confirmation.")
	}

	cc.logger.Info().Int64("channel_id", p.ChannelID).Msg("Left channel.")
	return nil
}

// handleKick lets an admin member remove another member from a channel.
func handleKick(_ context.Context, cc *ConnContext, env protocol.Envelope, svc *Services) error {
	p, err := payloadAs[protocol.Kick](env)
	if err != nil {
		return err
	}

	if _, ok := svc.Hub.Channel(p.ChannelID); !ok {
		return errs.NewError(errs.ErrChannelNotFound)
	}

	if cc.User.IsGuest() || !svc.Hub.IsMember(*cc.User.ID, p.ChannelID) {
		return errs.NewError(errs.ErrNotChannelMember)
	}

	if !svc.Config.IsAdmin(cc.User.Username) {
		return errs.NewError(errs.ErrForbidden)
	}

	target, ok := svc.Hub.LookupByUsername(p.Target)
	if !ok || target.User.IsGuest() || !svc.Hub.IsMember(*target.User.ID, p.ChannelID) {
		return errs.NewError(errs.ErrTargetNotMember)
	}

	svc.Hub.SendToChannel(p.ChannelID, protocol.Reply(env, p))
	svc.Hub.Leave(*target.User.ID, p.ChannelID)

	cc.logger.Warn().
		Int64("channel_id", p.ChannelID).
		Str("target", p.Target).
		Str("reason", p.Reason).
		Msg("Kicked user from channel.")
	return nil
}
