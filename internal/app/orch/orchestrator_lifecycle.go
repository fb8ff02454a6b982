package orch

import (
	"context"

	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/rs/zerolog/log"
)

// The orchestrator is the lifecycle's notifier: host-side REST changes
// reach connected clients through it.
var _ app.Notifier = (*Orchestrator)(nil)

// SessionEnded tells every participant and drops the session's
// moderation and ready-check state. Connections stay open so clients can
// keep reading history.
func (o *Orchestrator) SessionEnded(_ context.Context, s *domain.Session) {
	unlock := o.Registry.Lock(s.ID)
	defer unlock()

	o.broadcast(s.ID, SessionEnded{Type: EvSessionEnded, SessionID: s.ID, EndedAt: s.EndedAt})
	o.Registry.EndSession(s.ID)
	log.Info().Str("module", "orch").Str("session", string(s.ID)).Int("connections", len(o.Registry.Presence.Connections(s.ID))).Msg("session ended broadcast")
}

// HostTransferred announces the new host. The new host is implicit
// moderator, so any explicit grant is dropped.
func (o *Orchestrator) HostTransferred(_ context.Context, s *domain.Session, from domain.UserID) {
	unlock := o.Registry.Lock(s.ID)
	defer unlock()

	o.Registry.Moderation.RevokeModerator(s.ID, s.HostID)
	o.broadcast(s.ID, HostTransferred{Type: EvHostTransferred, SessionID: s.ID, From: from, To: s.HostID})
	o.publishPresence(s)
}

func (o *Orchestrator) LivestreamUpdated(_ context.Context, s *domain.Session) {
	unlock := o.Registry.Lock(s.ID)
	defer unlock()
	o.broadcast(s.ID, LivestreamUpdated{Type: EvLivestreamUpdated, SessionID: s.ID, URL: s.LivestreamURL})
}

func (o *Orchestrator) CustomTagsUpdated(_ context.Context, s *domain.Session) {
	unlock := o.Registry.Lock(s.ID)
	defer unlock()
	o.broadcast(s.ID, CustomTagsUpdated{Type: EvCustomTagsUpdated, SessionID: s.ID, Tags: s.CustomTags})
}
