package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/dkeye/Tasting/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

type Options struct {
	ReadOnlyAfter   time.Duration
	HistoryLimit    int
	SpoilerLookback int
	KickGrace       time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadOnlyAfter:   6 * time.Hour,
		HistoryLimit:    500,
		SpoilerLookback: 500,
		KickGrace:       750 * time.Millisecond,
	}
}

// Orchestrator is the session gateway. It is transport agnostic: the
// signal adapter decodes commands and hands them over together with the
// issuing client.
type Orchestrator struct {
	Registry *app.Registry
	Store    app.Store
	Policy   app.Policy
	Limiter  *core.MessageRateLimiter

	opts      Options
	now       func() time.Time
	newID     func() domain.MessageID
	afterFunc func(time.Duration, func())
}

func New(reg *app.Registry, store app.Store, policy app.Policy, limiter *core.MessageRateLimiter, opts Options) *Orchestrator {
	o := &Orchestrator{
		Registry: reg,
		Store:    store,
		Policy:   policy,
		Limiter:  limiter,
		opts:     opts,
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	o.newID = func() domain.MessageID {
		return domain.MessageID(ulid.MustNew(ulid.Timestamp(o.now()), ulid.DefaultEntropy()).String())
	}
	return o
}

// WithClock swaps the time source; tests only.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// WithAfterFunc swaps the kick grace scheduler; tests only.
func (o *Orchestrator) WithAfterFunc(fn func(time.Duration, func())) *Orchestrator {
	o.afterFunc = fn
	return o
}

// Connect registers an authenticated connection for direct delivery.
func (o *Orchestrator) Connect(c *core.Client) {
	o.Registry.Presence.RegisterUserConnection(c.User.ID, c.ID, c.Signal)
	metrics.ConnectionsActive.Inc()
	log.Info().Str("module", "orch").Str("conn", string(c.ID)).Str("user", string(c.User.ID)).Msg("client connected")
}

// Disconnect removes c from every session it joined. A failure in one
// session does not stop cleanup of the others.
func (o *Orchestrator) Disconnect(ctx context.Context, c *core.Client) {
	o.Registry.Presence.UnregisterUserConnection(c.User.ID, c.ID)
	metrics.ConnectionsActive.Dec()

	for _, sid := range o.Registry.Presence.FindSessionsFor(c.ID) {
		var pc panics.Catcher
		pc.Try(func() {
			unlock := o.Registry.Lock(sid)
			defer unlock()
			o.removeConnection(ctx, sid, c.ID)
		})
		if r := pc.Recovered(); r != nil {
			log.Error().Err(r.AsError()).Str("module", "orch").Str("session", string(sid)).Str("conn", string(c.ID)).Msg("disconnect cleanup failed")
		}
	}
	log.Info().Str("module", "orch").Str("conn", string(c.ID)).Str("user", string(c.User.ID)).Msg("client disconnected")
}

// NotifyUser delivers v to every live connection of uid, joined or not.
func (o *Orchestrator) NotifyUser(uid domain.UserID, v any) {
	f, ok := encode(v)
	if !ok {
		return
	}
	for _, sc := range o.Registry.Presence.UserConnections(uid) {
		_ = sc.TrySend(f)
	}
}

func (o *Orchestrator) Ping(c *core.Client) {
	o.send(c.Signal, struct {
		Type string `json:"type"`
	}{Type: EvPong})
}

// ActiveUsers is the deduplicated participant list of sid.
func (o *Orchestrator) ActiveUsers(s *domain.Session) []ActiveUser {
	active := o.Registry.Presence.ListActive(s.ID)
	out := make([]ActiveUser, 0, len(active))
	for _, c := range active {
		u := c.Member.User
		out = append(out, ActiveUser{
			UserID:      u.ID,
			DisplayName: u.Name(),
			Avatar:      u.Avatar,
			Ratings:     c.Member.Ratings,
			IsHost:      s.IsHost(u.ID),
			IsModerator: app.CanModerate(s, o.Registry.Moderation, u.ID),
		})
	}
	return out
}

func (o *Orchestrator) activeUsersEvent(s *domain.Session) ActiveUsers {
	users := o.ActiveUsers(s)
	return ActiveUsers{
		Type:       EvActiveUsers,
		SessionID:  s.ID,
		Users:      users,
		Count:      len(users),
		Moderators: o.Registry.Moderation.ListModerators(s.ID),
	}
}

func (o *Orchestrator) publishPresence(s *domain.Session) {
	o.broadcast(s.ID, o.activeUsersEvent(s))
	metrics.SessionsLive.Set(float64(o.Registry.Presence.SessionCount()))
}

func encode(v any) (core.Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode event")
		return nil, false
	}
	return b, true
}

func (o *Orchestrator) send(sc core.SignalConnection, v any) {
	if sc == nil {
		return
	}
	f, ok := encode(v)
	if !ok {
		return
	}
	if err := sc.TrySend(f); err != nil && !errors.Is(err, core.ErrConnClosed) {
		log.Warn().Err(err).Str("module", "orch").Msg("direct send failed")
	}
}

// broadcast sends v to every connection of sid. Slow connections are
// handed to the backpressure policy; others are unaffected.
func (o *Orchestrator) broadcast(sid domain.SessionID, v any) {
	o.broadcastExcept(sid, "", v)
}

func (o *Orchestrator) broadcastExcept(sid domain.SessionID, skip core.ConnID, v any) {
	f, ok := encode(v)
	if !ok {
		return
	}
	for _, c := range o.Registry.Presence.Connections(sid) {
		if c.ID == skip {
			continue
		}
		o.deliver(sid, c, f)
	}
}

func (o *Orchestrator) sendToUser(sid domain.SessionID, uid domain.UserID, v any) {
	f, ok := encode(v)
	if !ok {
		return
	}
	for _, c := range o.Registry.Presence.ConnectionsOfUser(sid, uid) {
		o.deliver(sid, c, f)
	}
}

func (o *Orchestrator) deliver(sid domain.SessionID, c core.Connection, f core.Frame) {
	err := c.Signal.TrySend(f)
	if err == nil || errors.Is(err, core.ErrConnClosed) {
		return
	}
	if !errors.Is(err, core.ErrBackpressure) || o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(sid, c) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("session", string(sid)).Str("conn", string(c.ID)).Msg("slow consumer closed")
		metrics.BackpressureKicksTotal.Inc()
		// the adapter's read loop notices and runs Disconnect
		c.Signal.Close()
	case app.MarkSlow, app.DropFrame, app.NoAction:
	}
}

func (o *Orchestrator) touch(ctx context.Context, sid domain.SessionID) {
	if err := o.Store.TouchActivity(ctx, sid, o.now()); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("session", string(sid)).Msg("touch activity")
	}
}

// loadSession fetches sid and maps store errors onto the taxonomy.
func (o *Orchestrator) loadSession(ctx context.Context, sid domain.SessionID) (*domain.Session, error) {
	s, err := o.Store.GetSession(ctx, sid)
	if err != nil {
		return nil, app.StoreError(err)
	}
	return s, nil
}

// joinedSession is the common guard of in-session commands: the caller's
// connection is joined and the session still exists.
func (o *Orchestrator) joinedSession(ctx context.Context, c *core.Client, sid domain.SessionID) (*domain.Session, error) {
	if !o.Registry.Presence.IsJoined(sid, c.ID) {
		return nil, errNotJoined
	}
	return o.loadSession(ctx, sid)
}

// displayName resolves uid for announcements: live presence first, then
// the user cache, then the bare id.
func (o *Orchestrator) displayName(ctx context.Context, sid domain.SessionID, uid domain.UserID) string {
	if cs := o.Registry.Presence.ConnectionsOfUser(sid, uid); len(cs) > 0 {
		return cs[0].Member.User.Name()
	}
	if u, err := o.Store.GetUser(ctx, uid); err == nil {
		return u.Name()
	}
	return string(uid)
}
