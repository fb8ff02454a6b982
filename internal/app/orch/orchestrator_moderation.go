package orch

import (
	"context"

	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/dkeye/Tasting/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	errTargetHost      = domain.Validation("target_is_host", "The host cannot be targeted")
	errTargetSelf      = domain.Validation("target_is_self", "You cannot target yourself")
	errTargetModerator = domain.Forbidden("target_is_moderator", "Only the host can act on a moderator")
	errTargetAbsent    = domain.NotFound("user_not_in_session", "User is not in this session")
)

// MakeModerator grants moderation to a non-host participant. Host only.
func (o *Orchestrator) MakeModerator(ctx context.Context, c *core.Client, cmd TargetUser) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.hostSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if s.IsHost(cmd.UserID) {
		return errTargetHost
	}
	if o.Registry.Moderation.GrantModerator(s.ID, cmd.UserID) {
		o.broadcast(s.ID, ModeratorChanged{
			Type:        EvModeratorAdded,
			SessionID:   s.ID,
			UserID:      cmd.UserID,
			DisplayName: o.displayName(ctx, s.ID, cmd.UserID),
			Moderators:  o.Registry.Moderation.ListModerators(s.ID),
		})
		o.publishPresence(s)
		o.pushBanList(ctx, s)
		log.Info().Str("module", "orch").Str("session", string(s.ID)).Str("user", string(cmd.UserID)).Msg("moderator granted")
	}
	metrics.RecordCommand("make_moderator", metrics.OutcomeOK)
	return nil
}

// UnmodUser revokes moderation. Host only.
func (o *Orchestrator) UnmodUser(ctx context.Context, c *core.Client, cmd TargetUser) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.hostSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if s.IsHost(cmd.UserID) {
		return errTargetHost
	}
	if o.Registry.Moderation.RevokeModerator(s.ID, cmd.UserID) {
		o.broadcast(s.ID, ModeratorChanged{
			Type:        EvModeratorRemoved,
			SessionID:   s.ID,
			UserID:      cmd.UserID,
			DisplayName: o.displayName(ctx, s.ID, cmd.UserID),
			Moderators:  o.Registry.Moderation.ListModerators(s.ID),
		})
		o.publishPresence(s)
		log.Info().Str("module", "orch").Str("session", string(s.ID)).Str("user", string(cmd.UserID)).Msg("moderator revoked")
	}
	metrics.RecordCommand("unmod_user", metrics.OutcomeOK)
	return nil
}

// MuteUser silences a participant who is currently present.
func (o *Orchestrator) MuteUser(ctx context.Context, c *core.Client, cmd Sanction) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.moderatedSession(ctx, c, cmd.SessionID, cmd.UserID)
	if err != nil {
		return err
	}
	if !o.Registry.Presence.HasUser(s.ID, cmd.UserID) {
		return errTargetAbsent
	}
	name := o.displayName(ctx, s.ID, cmd.UserID)
	erased, err := o.erase(ctx, s.ID, cmd)
	if err != nil {
		return err
	}
	o.Registry.Moderation.Mute(s.ID, cmd.UserID, name)

	by := c.User.Name()
	o.sendToUser(s.ID, cmd.UserID, Notice{Type: EvYouWereMuted, SessionID: s.ID, By: by, Message: "You were muted by a moderator"})
	o.broadcast(s.ID, ModerationAction{
		Type:        EvUserMuted,
		SessionID:   s.ID,
		UserID:      cmd.UserID,
		DisplayName: name,
		By:          by,
		Erased:      erased,
	})
	o.pushBanList(ctx, s)

	log.Info().Str("module", "orch").Str("session", string(s.ID)).Str("user", string(cmd.UserID)).Str("by", string(c.User.ID)).Int("erased", len(erased)).Msg("user muted")
	metrics.RecordCommand("mute_user", metrics.OutcomeOK)
	return nil
}

func (o *Orchestrator) UnmuteUser(ctx context.Context, c *core.Client, cmd TargetUser) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.joinedSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if !app.CanModerate(s, o.Registry.Moderation, c.User.ID) {
		return errNotMod
	}
	name := o.displayName(ctx, s.ID, cmd.UserID)
	if o.Registry.Moderation.Unmute(s.ID, cmd.UserID) {
		by := c.User.Name()
		o.sendToUser(s.ID, cmd.UserID, Notice{Type: EvYouWereUnmuted, SessionID: s.ID, By: by})
		o.broadcast(s.ID, ModerationAction{
			Type:        EvUserUnmuted,
			SessionID:   s.ID,
			UserID:      cmd.UserID,
			DisplayName: name,
			By:          by,
		})
		o.pushBanList(ctx, s)
	}
	metrics.RecordCommand("unmute_user", metrics.OutcomeOK)
	return nil
}

// KickUser bans the target durably, tells them, and evicts their
// connections once the grace delay has passed. The target need not be
// present.
func (o *Orchestrator) KickUser(ctx context.Context, c *core.Client, cmd Sanction) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.moderatedSession(ctx, c, cmd.SessionID, cmd.UserID)
	if err != nil {
		return err
	}
	if err := o.Store.SetBanned(ctx, s.ID, cmd.UserID, true); err != nil {
		return domain.Persistence("Could not kick user", err)
	}
	name := o.displayName(ctx, s.ID, cmd.UserID)
	o.Registry.Moderation.Kick(s.ID, cmd.UserID, name)
	erased, err := o.erase(ctx, s.ID, cmd)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("session", string(s.ID)).Msg("erase on kick")
	}

	by := c.User.Name()
	o.sendToUser(s.ID, cmd.UserID, Notice{Type: EvYouWereKicked, SessionID: s.ID, By: by, Message: "You were removed from this session"})
	o.broadcast(s.ID, ModerationAction{
		Type:        EvUserKicked,
		SessionID:   s.ID,
		UserID:      cmd.UserID,
		DisplayName: name,
		By:          by,
		Erased:      erased,
	})
	o.pushBanList(ctx, s)

	sid, uid := s.ID, cmd.UserID
	o.afterFunc(o.opts.KickGrace, func() { o.evict(sid, uid) })

	log.Info().Str("module", "orch").Str("session", string(sid)).Str("user", string(uid)).Str("by", string(c.User.ID)).Int("erased", len(erased)).Msg("user kicked")
	metrics.RecordCommand("kick_user", metrics.OutcomeOK)
	return nil
}

// evict severs every connection of uid from sid, unless the kick was
// reversed during the grace delay.
func (o *Orchestrator) evict(sid domain.SessionID, uid domain.UserID) {
	unlock := o.Registry.Lock(sid)
	defer unlock()

	if !o.Registry.Moderation.IsKicked(sid, uid) {
		return
	}
	ctx := context.Background()
	for _, conn := range o.Registry.Presence.ConnectionsOfUser(sid, uid) {
		o.removeConnection(ctx, sid, conn.ID)
	}
}

// UnkickUser lifts a ban. Host only; moderators can kick but not undo it.
func (o *Orchestrator) UnkickUser(ctx context.Context, c *core.Client, cmd TargetUser) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.hostSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if err := o.Store.SetBanned(ctx, s.ID, cmd.UserID, false); err != nil {
		return domain.Persistence("Could not unkick user", err)
	}
	o.Registry.Moderation.Unkick(s.ID, cmd.UserID)
	o.broadcast(s.ID, ModerationAction{
		Type:        EvUserUnkicked,
		SessionID:   s.ID,
		UserID:      cmd.UserID,
		DisplayName: o.displayName(ctx, s.ID, cmd.UserID),
		By:          c.User.Name(),
	})
	o.pushBanList(ctx, s)
	metrics.RecordCommand("unkick_user", metrics.OutcomeOK)
	return nil
}

// GetBannedUsers sends the ban list to the caller alone.
func (o *Orchestrator) GetBannedUsers(ctx context.Context, c *core.Client, cmd SessionRef) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.joinedSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if !app.CanModerate(s, o.Registry.Moderation, c.User.ID) {
		return errNotMod
	}
	ev, err := o.bannedList(ctx, s.ID)
	if err != nil {
		return err
	}
	o.send(c.Signal, ev)
	metrics.RecordCommand("get_banned_users", metrics.OutcomeOK)
	return nil
}

// hostSession guards host-only commands.
func (o *Orchestrator) hostSession(ctx context.Context, c *core.Client, sid domain.SessionID) (*domain.Session, error) {
	s, err := o.joinedSession(ctx, c, sid)
	if err != nil {
		return nil, err
	}
	if !s.IsHost(c.User.ID) {
		return nil, errHostOnly
	}
	return s, nil
}

// moderatedSession guards mute and kick: the caller moderates, the target
// is neither the caller nor the host, and only the host may act on a
// moderator.
func (o *Orchestrator) moderatedSession(ctx context.Context, c *core.Client, sid domain.SessionID, target domain.UserID) (*domain.Session, error) {
	s, err := o.joinedSession(ctx, c, sid)
	if err != nil {
		return nil, err
	}
	if !app.CanModerate(s, o.Registry.Moderation, c.User.ID) {
		return nil, errNotMod
	}
	switch {
	case target == c.User.ID:
		return nil, errTargetSelf
	case s.IsHost(target):
		return nil, errTargetHost
	case o.Registry.Moderation.IsModerator(s.ID, target) && !s.IsHost(c.User.ID):
		return nil, errTargetModerator
	}
	return s, nil
}

// erase soft-deletes every message of the target when the sanction asks
// for it, and announces the ids.
func (o *Orchestrator) erase(ctx context.Context, sid domain.SessionID, cmd Sanction) ([]domain.MessageID, error) {
	if !cmd.EraseMessages {
		return nil, nil
	}
	ids, err := o.Store.HideMessagesByAuthor(ctx, sid, cmd.UserID)
	if err != nil {
		return nil, domain.Persistence("Could not erase messages", err)
	}
	if len(ids) > 0 {
		o.broadcast(sid, MessagesErased{
			Type:       EvMessagesErased,
			SessionID:  sid,
			UserID:     cmd.UserID,
			MessageIDs: ids,
		})
	}
	return ids, nil
}

// bannedList merges durable bans with the in-memory kick snapshots. The
// snapshot name wins since it was captured at kick time.
func (o *Orchestrator) bannedList(ctx context.Context, sid domain.SessionID) (BannedUsersList, error) {
	stored, err := o.Store.ListBanned(ctx, sid)
	if err != nil {
		return BannedUsersList{}, domain.Persistence("Could not load banned users", err)
	}
	kicked := o.Registry.Moderation.ListKicked(sid)
	seen := make(map[domain.UserID]struct{}, len(kicked))
	for _, k := range kicked {
		seen[k.UserID] = struct{}{}
	}
	for _, u := range stored {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		kicked = append(kicked, core.Sanction{UserID: u.ID, DisplayName: u.Name()})
	}
	return BannedUsersList{
		Type:      EvBannedUsersList,
		SessionID: sid,
		Kicked:    kicked,
		Muted:     o.Registry.Moderation.ListMuted(sid),
	}, nil
}

// pushBanList refreshes the ban list for the host and moderators only.
func (o *Orchestrator) pushBanList(ctx context.Context, s *domain.Session) {
	ev, err := o.bannedList(ctx, s.ID)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("session", string(s.ID)).Msg("ban list refresh")
		return
	}
	o.sendToUser(s.ID, s.HostID, ev)
	for _, uid := range o.Registry.Moderation.ListModerators(s.ID) {
		o.sendToUser(s.ID, uid, ev)
	}
}
