package orch

import (
	"errors"

	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/dkeye/Tasting/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	errNotJoined = domain.Forbidden("not_joined", "Join the session first")
	errHostOnly  = domain.Forbidden("host_only", "Only the host can do that")
	errNotMod    = domain.Forbidden("not_moderator", "Only the host or a moderator can do that")
	errReadOnly  = domain.Validation("session_read_only", "This session has ended")
)

// NewErrorEvent converts any command failure into the error event.
func NewErrorEvent(command string, sid domain.SessionID, err error) ErrorEvent {
	ev := ErrorEvent{Type: EvError, Command: command, SessionID: sid}
	var de *domain.Error
	if errors.As(err, &de) {
		ev.Message = de.Message
		ev.Code = de.Code
		ev.RemainingSeconds = de.RetryAfter
		return ev
	}
	ev.Message = "Something went wrong"
	ev.Code = "internal"
	return ev
}

func levelFor(err error) zerolog.Level {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return zerolog.DebugLevel
	case domain.KindAuthorization:
		return zerolog.WarnLevel
	case domain.KindNotFound, domain.KindRateLimit:
		return zerolog.InfoLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Reject reports a failed command to the issuing connection only.
func (o *Orchestrator) Reject(c *core.Client, command string, sid domain.SessionID, err error) {
	log.WithLevel(levelFor(err)).Err(err).
		Str("module", "orch").
		Str("command", command).
		Str("session", string(sid)).
		Str("user", string(c.User.ID)).
		Str("kind", domain.KindOf(err).String()).
		Msg("command rejected")

	outcome := metrics.OutcomeRejected
	if k := domain.KindOf(err); k == domain.KindPersistence || k == 0 {
		outcome = metrics.OutcomeFailed
	}
	metrics.RecordCommand(command, outcome)
	o.send(c.Signal, NewErrorEvent(command, sid, err))
}
