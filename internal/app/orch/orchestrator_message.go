package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/dkeye/Tasting/internal/metrics"
	"github.com/rs/zerolog/log"
)

func contentError(err error) error {
	if errors.Is(err, domain.ErrMessageTooLong) {
		return domain.Validation("message_too_long", "Messages are limited to 300 characters")
	}
	return domain.Validation("message_empty", "Message cannot be empty")
}

// SendMessage persists and then broadcasts one chat line. The broadcast
// never precedes the durable write.
func (o *Orchestrator) SendMessage(ctx context.Context, c *core.Client, cmd SendMessage) error {
	content, err := domain.NormalizeContent(cmd.Content)
	if err != nil {
		return contentError(err)
	}

	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.joinedSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if o.refuseKicked(c, s.ID, "send_message") {
		return nil
	}
	now := o.now()
	if s.IsReadOnly(now, o.opts.ReadOnlyAfter) {
		return errReadOnly
	}
	if cmd.ProductIndex != nil && !s.HasProduct(*cmd.ProductIndex) {
		return domain.Validation("invalid_product", "Unknown product")
	}

	if d := o.Limiter.CheckAndRecord(c.User.ID); !d.Allowed {
		metrics.RateLimitBlocksTotal.Inc()
		return domain.RateLimited(d.RetryAfterSeconds())
	}

	if o.refuseMuted(c, s.ID, "send_message") {
		return nil
	}

	msg := &domain.Message{
		ID:           o.newID(),
		SessionID:    s.ID,
		AuthorID:     c.User.ID,
		AuthorName:   c.User.Name(),
		AuthorAvatar: c.User.Avatar,
		Content:      content,
		Phase:        cmd.Phase,
		ProductIndex: cmd.ProductIndex,
		CreatedAt:    now,
	}
	if err := o.Store.CreateMessage(ctx, msg); err != nil {
		return domain.Persistence("Could not send message", err)
	}
	o.broadcast(s.ID, NewMessage{Type: EvNewMessage, SessionID: s.ID, Message: *msg})
	o.touch(ctx, s.ID)

	metrics.RecordCommand("send_message", metrics.OutcomeOK)
	return nil
}

// EditMessage replaces the content of the caller's own message.
func (o *Orchestrator) EditMessage(ctx context.Context, c *core.Client, cmd EditMessage) error {
	content, err := domain.NormalizeContent(cmd.Content)
	if err != nil {
		return contentError(err)
	}

	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	if _, err := o.joinedSession(ctx, c, cmd.SessionID); err != nil {
		return err
	}
	if o.refuseKicked(c, cmd.SessionID, "edit_message") || o.refuseMuted(c, cmd.SessionID, "edit_message") {
		return nil
	}
	msg, err := o.sessionMessage(ctx, cmd.SessionID, cmd.MessageID)
	if err != nil {
		return err
	}
	if msg.AuthorID != c.User.ID {
		return domain.Forbidden("not_author", "You can only edit your own messages")
	}
	at := o.now()
	if err := o.Store.UpdateMessageContent(ctx, msg.ID, content, at); err != nil {
		return app.StoreError(err)
	}
	o.broadcast(cmd.SessionID, MessageUpdated{
		Type:      EvMessageUpdated,
		SessionID: cmd.SessionID,
		MessageID: msg.ID,
		Content:   content,
		EditedAt:  at,
	})
	metrics.RecordCommand("edit_message", metrics.OutcomeOK)
	return nil
}

// DeleteMessage soft-deletes a message of the session.
func (o *Orchestrator) DeleteMessage(ctx context.Context, c *core.Client, cmd DeleteMessage) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.joinedSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if !app.CanModerate(s, o.Registry.Moderation, c.User.ID) {
		return errNotMod
	}
	msg, err := o.sessionMessage(ctx, s.ID, cmd.MessageID)
	if err != nil {
		return err
	}
	if err := o.Store.HideMessage(ctx, msg.ID); err != nil {
		return app.StoreError(err)
	}
	o.broadcast(s.ID, MessageDeleted{
		Type:      EvMessageDeleted,
		SessionID: s.ID,
		MessageID: msg.ID,
		DeletedBy: c.User.Name(),
	})
	log.Info().Str("module", "orch").Str("session", string(s.ID)).Str("message", string(msg.ID)).Str("by", string(c.User.ID)).Msg("message deleted")
	metrics.RecordCommand("delete_message", metrics.OutcomeOK)
	return nil
}

// RevealSpoilers reveals every message up to and including the target, in
// the order the history fetch returns them. The host reveals for
// everyone; anyone else only for themselves.
func (o *Orchestrator) RevealSpoilers(ctx context.Context, c *core.Client, cmd RevealSpoilers) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.joinedSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if o.refuseKicked(c, s.ID, "reveal_spoilers") {
		return nil
	}
	msgs, err := o.Store.ListMessages(ctx, s.ID, o.opts.SpoilerLookback)
	if err != nil {
		return domain.Persistence("Could not load history", err)
	}
	var ids []domain.MessageID
	found := false
	for _, m := range msgs {
		ids = append(ids, m.ID)
		if m.ID == cmd.UpToMessageID {
			found = true
			break
		}
	}
	if !found {
		return domain.NotFound("message_not_found", "Message not found")
	}

	ev := SpoilersRevealed{
		Type:       EvSpoilersRevealed,
		SessionID:  s.ID,
		MessageIDs: ids,
		By:         c.User.Name(),
	}
	if s.IsHost(c.User.ID) {
		ev.IsGlobal = true
		o.broadcast(s.ID, ev)
	} else {
		o.send(c.Signal, ev)
	}
	metrics.RecordCommand("reveal_spoilers", metrics.OutcomeOK)
	return nil
}

// refuseKicked drops a command from a user who is still present during
// the kick grace delay.
func (o *Orchestrator) refuseKicked(c *core.Client, sid domain.SessionID, command string) bool {
	if !o.Registry.Moderation.IsKicked(sid, c.User.ID) {
		return false
	}
	o.send(c.Signal, Notice{Type: EvYouWereKicked, SessionID: sid, Message: "You were removed from this session"})
	metrics.RecordCommand(command, metrics.OutcomeRejected)
	return true
}

func (o *Orchestrator) refuseMuted(c *core.Client, sid domain.SessionID, command string) bool {
	if !o.Registry.Moderation.IsMuted(sid, c.User.ID) {
		return false
	}
	o.send(c.Signal, Notice{Type: EvYouWereMuted, SessionID: sid, Message: "You are muted in this session"})
	metrics.RecordCommand(command, metrics.OutcomeRejected)
	return true
}

// sessionMessage loads a visible message and checks it belongs to sid.
func (o *Orchestrator) sessionMessage(ctx context.Context, sid domain.SessionID, id domain.MessageID) (*domain.Message, error) {
	msg, err := o.Store.GetMessage(ctx, id)
	if err != nil {
		return nil, app.StoreError(err)
	}
	if msg.SessionID != sid {
		return nil, domain.NotFound("message_not_found", "Message not found")
	}
	return msg, nil
}

// InjectMessage writes a message on behalf of author through the normal
// persist-then-broadcast path, bypassing presence and rate limits. Used by
// the fixture seeding endpoint only.
func (o *Orchestrator) InjectMessage(ctx context.Context, sid domain.SessionID, author domain.User, content, phase string) (*domain.Message, error) {
	content, err := domain.NormalizeContent(content)
	if err != nil {
		return nil, contentError(err)
	}

	unlock := o.Registry.Lock(sid)
	defer unlock()

	if _, err := o.loadSession(ctx, sid); err != nil {
		return nil, err
	}
	if err := o.Store.UpsertUser(ctx, author); err != nil {
		return nil, domain.Persistence("Could not seed message", err)
	}
	msg := &domain.Message{
		ID:           o.newID(),
		SessionID:    sid,
		AuthorID:     author.ID,
		AuthorName:   author.Name(),
		AuthorAvatar: author.Avatar,
		Content:      content,
		Phase:        phase,
		CreatedAt:    o.now(),
	}
	if err := o.Store.CreateMessage(ctx, msg); err != nil {
		return nil, domain.Persistence("Could not seed message", err)
	}
	o.broadcast(sid, NewMessage{Type: EvNewMessage, SessionID: sid, Message: *msg})
	return msg, nil
}
