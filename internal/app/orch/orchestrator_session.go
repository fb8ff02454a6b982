package orch

import (
	"context"

	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/dkeye/Tasting/internal/metrics"
	"github.com/rs/zerolog/log"
)

// JoinSession attaches c to sid, replays history and announces the join.
// Kicked callers get you_were_kicked; read-only sessions replay history
// without touching presence.
func (o *Orchestrator) JoinSession(ctx context.Context, c *core.Client, sid domain.SessionID) error {
	unlock := o.Registry.Lock(sid)
	defer unlock()

	s, err := o.loadSession(ctx, sid)
	if err != nil {
		return err
	}
	uid := c.User.ID

	banned, err := o.Store.IsBanned(ctx, sid, uid)
	if err != nil {
		return domain.Persistence("Could not join session", err)
	}
	if banned || o.Registry.Moderation.IsKicked(sid, uid) {
		log.Info().Str("module", "orch").Str("session", string(sid)).Str("user", string(uid)).Msg("kicked user refused")
		o.send(c.Signal, Notice{Type: EvYouWereKicked, SessionID: sid, Message: "You were removed from this session"})
		metrics.RecordCommand("join_session", metrics.OutcomeRejected)
		return nil
	}

	now := o.now()
	if s.IsReadOnly(now, o.opts.ReadOnlyAfter) {
		msgs, err := o.Store.ListMessages(ctx, sid, o.opts.HistoryLimit)
		if err != nil {
			return domain.Persistence("Could not load history", err)
		}
		o.send(c.Signal, MessageHistory{
			Type:       EvMessageHistory,
			SessionID:  sid,
			Session:    sessionInfo(s),
			Messages:   msgs,
			IsReadOnly: true,
		})
		o.send(c.Signal, SessionEnded{Type: EvSessionEnded, SessionID: sid, EndedAt: s.EndedAt})
		log.Info().Str("module", "orch").Str("session", string(sid)).Str("user", string(uid)).Msg("read-only join")
		metrics.RecordCommand("join_session", metrics.OutcomeOK)
		return nil
	}

	if err := o.Store.UpsertUser(ctx, c.User); err != nil {
		return domain.Persistence("Could not join session", err)
	}
	if err := o.Store.UpsertParticipant(ctx, sid, uid, now); err != nil {
		return domain.Persistence("Could not join session", err)
	}
	ratings, err := o.Store.UserRatings(ctx, sid, uid)
	if err != nil {
		return domain.Persistence("Could not load your ratings", err)
	}
	msgs, err := o.Store.ListMessages(ctx, sid, o.opts.HistoryLimit)
	if err != nil {
		return domain.Persistence("Could not load history", err)
	}

	granted := false
	if !s.IsHost(uid) {
		auto, err := o.Store.IsAutoModerator(ctx, s.HostID, uid)
		if err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("session", string(sid)).Msg("auto-moderator lookup")
		}
		if auto {
			granted = o.Registry.Moderation.GrantModerator(sid, uid)
		}
	}

	first := !o.Registry.Presence.HasUser(sid, uid)
	o.Registry.Presence.AddConnection(sid, core.Connection{
		ID:     c.ID,
		Member: domain.NewMember(c.User, ratings),
		Signal: c.Signal,
	})

	o.send(c.Signal, MessageHistory{
		Type:        EvMessageHistory,
		SessionID:   sid,
		Session:     sessionInfo(s),
		Messages:    msgs,
		MyRatings:   ratings,
		IsModerator: s.IsHost(uid) || o.Registry.Moderation.IsModerator(sid, uid),
	})
	if st := o.Registry.ReadyState(sid); st.Active {
		o.send(c.Signal, readyCheckState(sid, st))
	}
	if granted {
		o.broadcast(sid, ModeratorChanged{
			Type:        EvModeratorAdded,
			SessionID:   sid,
			UserID:      uid,
			DisplayName: c.User.Name(),
			Moderators:  o.Registry.Moderation.ListModerators(sid),
		})
	}
	o.publishPresence(s)
	if first {
		o.broadcastExcept(sid, c.ID, UserJoined{
			Type:      EvUserJoined,
			SessionID: sid,
			User:      c.User,
			Count:     o.Registry.Presence.ActiveUserCount(sid),
		})
	}
	o.touch(ctx, sid)

	log.Info().Str("module", "orch").Str("session", string(sid)).Str("user", string(uid)).Str("conn", string(c.ID)).Bool("auto_mod", granted).Msg("joined")
	metrics.RecordCommand("join_session", metrics.OutcomeOK)
	return nil
}

// LeaveSession detaches c from sid; the connection itself stays open.
func (o *Orchestrator) LeaveSession(ctx context.Context, c *core.Client, sid domain.SessionID) error {
	unlock := o.Registry.Lock(sid)
	defer unlock()

	if !o.removeConnection(ctx, sid, c.ID) {
		return errNotJoined
	}
	o.send(c.Signal, SessionEvent{Type: EvLeftSession, SessionID: sid})
	metrics.RecordCommand("leave_session", metrics.OutcomeOK)
	return nil
}

// removeConnection runs under the session lock. user_left goes out only
// when the user's last connection is gone.
func (o *Orchestrator) removeConnection(ctx context.Context, sid domain.SessionID, cid core.ConnID) bool {
	removed, ok := o.Registry.Presence.RemoveConnection(sid, cid)
	if !ok {
		return false
	}
	uid := removed.UserID()
	if !o.Registry.Presence.HasUser(sid, uid) {
		o.departed(ctx, sid, removed.Member.User)
	} else {
		o.republish(ctx, sid)
	}
	return true
}

// departed announces that user has no connection left in sid.
func (o *Orchestrator) departed(ctx context.Context, sid domain.SessionID, user domain.User) {
	readyChanged := o.Registry.Ready.MarkUnready(sid, user.ID)
	count := o.Registry.Presence.ActiveUserCount(sid)
	if count == 0 {
		metrics.SessionsLive.Set(float64(o.Registry.Presence.SessionCount()))
		log.Info().Str("module", "orch").Str("session", string(sid)).Msg("last participant left")
		return
	}
	o.broadcast(sid, UserLeft{
		Type:        EvUserLeft,
		SessionID:   sid,
		UserID:      user.ID,
		DisplayName: user.Name(),
		Count:       count,
	})
	o.republish(ctx, sid)
	if st := o.Registry.ReadyState(sid); st.Active || readyChanged {
		o.broadcast(sid, readyCheckState(sid, st))
	}
}

func (o *Orchestrator) republish(ctx context.Context, sid domain.SessionID) {
	s, err := o.Store.GetSession(ctx, sid)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("session", string(sid)).Msg("presence refresh")
		return
	}
	o.publishPresence(s)
}
