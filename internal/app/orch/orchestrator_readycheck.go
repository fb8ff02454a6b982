package orch

import (
	"context"

	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/dkeye/Tasting/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	errReadyActive   = domain.Validation("ready_check_active", "A ready check is already running")
	errReadyInactive = domain.Validation("ready_check_inactive", "No ready check is running")
)

func (o *Orchestrator) StartReadyCheck(ctx context.Context, c *core.Client, cmd SessionRef) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.hostSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if s.IsReadOnly(o.now(), o.opts.ReadOnlyAfter) {
		return errReadOnly
	}
	if err := o.Registry.Ready.Start(s.ID); err != nil {
		return errReadyActive
	}
	o.broadcast(s.ID, SessionEvent{Type: EvReadyCheckStarted, SessionID: s.ID})
	o.broadcast(s.ID, readyCheckState(s.ID, o.Registry.ReadyState(s.ID)))

	log.Info().Str("module", "orch").Str("session", string(s.ID)).Msg("ready check started")
	metrics.RecordCommand("start_ready_check", metrics.OutcomeOK)
	return nil
}

func (o *Orchestrator) EndReadyCheck(ctx context.Context, c *core.Client, cmd SessionRef) error {
	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.hostSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if err := o.Registry.Ready.End(s.ID); err != nil {
		return errReadyInactive
	}
	o.broadcast(s.ID, SessionEvent{Type: EvReadyCheckEnded, SessionID: s.ID})
	o.broadcast(s.ID, readyCheckState(s.ID, o.Registry.ReadyState(s.ID)))

	log.Info().Str("module", "orch").Str("session", string(s.ID)).Msg("ready check ended")
	metrics.RecordCommand("end_ready_check", metrics.OutcomeOK)
	return nil
}

func (o *Orchestrator) MarkReady(ctx context.Context, c *core.Client, cmd SessionRef) error {
	return o.mark(ctx, c, cmd.SessionID, true)
}

func (o *Orchestrator) MarkUnready(ctx context.Context, c *core.Client, cmd SessionRef) error {
	return o.mark(ctx, c, cmd.SessionID, false)
}

// mark is a silent no-op while no round is running.
func (o *Orchestrator) mark(ctx context.Context, c *core.Client, sid domain.SessionID, ready bool) error {
	unlock := o.Registry.Lock(sid)
	defer unlock()

	if _, err := o.joinedSession(ctx, c, sid); err != nil {
		return err
	}
	var changed bool
	if ready {
		changed = o.Registry.Ready.MarkReady(sid, c.User.ID)
	} else {
		changed = o.Registry.Ready.MarkUnready(sid, c.User.ID)
	}
	if changed {
		o.broadcast(sid, UserReady{Type: EvUserReady, SessionID: sid, UserID: c.User.ID, Ready: ready})
		o.broadcast(sid, readyCheckState(sid, o.Registry.ReadyState(sid)))
	}
	if ready {
		metrics.RecordCommand("mark_ready", metrics.OutcomeOK)
	} else {
		metrics.RecordCommand("mark_unready", metrics.OutcomeOK)
	}
	return nil
}
