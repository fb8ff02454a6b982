package signal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Tasting/internal/app/orch"
	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

type envelope struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
}

// handleSignal decodes one frame and routes it. Every failure becomes an
// error event for this connection only; a panic in one command never
// takes the connection down.
func (ctl *SignalWSController) handleSignal(ctx context.Context, client *core.Client, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.Orch.Reject(client, "", "", domain.Validation("bad_json", "Malformed message"))
		return
	}

	var pc panics.Catcher
	var err error
	pc.Try(func() { err = ctl.dispatch(ctx, client, env.Type, data) })
	if r := pc.Recovered(); r != nil {
		log.Error().Err(r.AsError()).Str("module", "signal").Str("type", env.Type).Msg("command panicked")
		err = r.AsError()
	}
	if err != nil {
		ctl.Orch.Reject(client, env.Type, env.SessionID, err)
	}
}

func (ctl *SignalWSController) dispatch(ctx context.Context, c *core.Client, typ string, data []byte) error {
	o := ctl.Orch
	switch typ {
	case "ping":
		o.Ping(c)
		return nil
	case "join_session":
		return run(ctx, ctl, c, data, func(ctx context.Context, c *core.Client, p orch.SessionRef) error {
			return o.JoinSession(ctx, c, p.SessionID)
		})
	case "leave_session":
		return run(ctx, ctl, c, data, func(ctx context.Context, c *core.Client, p orch.SessionRef) error {
			return o.LeaveSession(ctx, c, p.SessionID)
		})
	case "send_message":
		return run(ctx, ctl, c, data, o.SendMessage)
	case "edit_message":
		return run(ctx, ctl, c, data, o.EditMessage)
	case "delete_message":
		return run(ctx, ctl, c, data, o.DeleteMessage)
	case "reveal_spoilers":
		return run(ctx, ctl, c, data, o.RevealSpoilers)
	case "update_rating":
		return run(ctx, ctl, c, data, o.UpdateRating)
	case "make_moderator":
		return run(ctx, ctl, c, data, o.MakeModerator)
	case "unmod_user":
		return run(ctx, ctl, c, data, o.UnmodUser)
	case "mute_user":
		return run(ctx, ctl, c, data, o.MuteUser)
	case "unmute_user":
		return run(ctx, ctl, c, data, o.UnmuteUser)
	case "kick_user":
		return run(ctx, ctl, c, data, o.KickUser)
	case "unkick_user":
		return run(ctx, ctl, c, data, o.UnkickUser)
	case "get_banned_users":
		return run(ctx, ctl, c, data, o.GetBannedUsers)
	case "start_ready_check":
		return run(ctx, ctl, c, data, o.StartReadyCheck)
	case "end_ready_check":
		return run(ctx, ctl, c, data, o.EndReadyCheck)
	case "mark_ready":
		return run(ctx, ctl, c, data, o.MarkReady)
	case "mark_unready":
		return run(ctx, ctl, c, data, o.MarkUnready)
	default:
		log.Debug().Str("module", "signal").Str("type", typ).Msg("unknown signal")
		return domain.Validation("unknown_command", fmt.Sprintf("Unknown command %q", typ))
	}
}

// run decodes and validates the payload of one command, then calls fn.
func run[T any](ctx context.Context, ctl *SignalWSController, c *core.Client, data []byte, fn func(context.Context, *core.Client, T) error) error {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Validation("bad_payload", "Malformed payload")
	}
	if err := ctl.validate.Struct(p); err != nil {
		return domain.Validation("invalid_payload", describe(err))
	}
	return fn(ctx, c, p)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid payload"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return "Invalid fields: " + strings.Join(fields, ", ")
}
