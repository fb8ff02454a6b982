package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Tasting/internal/domain"
	"github.com/dkeye/Tasting/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Notifier fans lifecycle changes out to connected clients.
type Notifier interface {
	SessionEnded(ctx context.Context, s *domain.Session)
	HostTransferred(ctx context.Context, s *domain.Session, from domain.UserID)
	LivestreamUpdated(ctx context.Context, s *domain.Session)
	CustomTagsUpdated(ctx context.Context, s *domain.Session)
}

// SummarySubmitter queues a summary job. It must not block.
type SummarySubmitter interface {
	Submit(sid domain.SessionID) bool
}

type nopNotifier struct{}

func (nopNotifier) SessionEnded(context.Context, *domain.Session)                   {}
func (nopNotifier) HostTransferred(context.Context, *domain.Session, domain.UserID) {}
func (nopNotifier) LivestreamUpdated(context.Context, *domain.Session)              {}
func (nopNotifier) CustomTagsUpdated(context.Context, *domain.Session)              {}

// Lifecycle is the host-privileged session service behind the REST
// boundary and the idle sweep. Every mutator is a single MutateSession
// call, so the ownership check and the write cannot interleave with a
// concurrent end or transfer.
type Lifecycle struct {
	store     Store
	notifier  Notifier
	summaries SummarySubmitter
	idleAfter time.Duration
	now       func() time.Time
}

func NewLifecycle(store Store, idleAfter time.Duration) *Lifecycle {
	return &Lifecycle{
		store:     store,
		notifier:  nopNotifier{},
		idleAfter: idleAfter,
		now:       time.Now,
	}
}

func (l *Lifecycle) SetNotifier(n Notifier) { l.notifier = n }

func (l *Lifecycle) SetSummaries(s SummarySubmitter) { l.summaries = s }

// WithClock swaps the time source; tests only.
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.now = now
	return l
}

// CreateRequest is the payload of a new session.
type CreateRequest struct {
	Title    string           `json:"title" validate:"max=120"`
	Products []domain.Product `json:"products" validate:"max=3,dive"`
}

func (l *Lifecycle) Create(ctx context.Context, host domain.User, req CreateRequest) (*domain.Session, error) {
	s, err := domain.NewSession(domain.SessionID(uuid.NewString()), host.ID, req.Title, req.Products, l.now())
	if err != nil {
		return nil, domain.Validation("too_many_products", err.Error())
	}
	if err := l.store.UpsertUser(ctx, host); err != nil {
		return nil, domain.Persistence("Could not create session", err)
	}
	if err := l.store.CreateSession(ctx, s); err != nil {
		return nil, domain.Persistence("Could not create session", err)
	}
	log.Info().Str("module", "app.lifecycle").Str("session", string(s.ID)).Str("host", string(host.ID)).Msg("session created")
	return s, nil
}

func (l *Lifecycle) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	s, err := l.store.GetSession(ctx, id)
	if err != nil {
		return nil, StoreError(err)
	}
	return s, nil
}

// End moves an active session to ended, notifies clients and queues the
// summary. The summary outcome never affects the result.
func (l *Lifecycle) End(ctx context.Context, id domain.SessionID, caller domain.UserID) (*domain.Session, error) {
	s, err := l.mutateAsHost(ctx, id, caller, func(s *domain.Session) error {
		return s.End(l.now())
	})
	if err != nil {
		return nil, err
	}
	l.afterEnd(ctx, s)
	return s, nil
}

func (l *Lifecycle) Archive(ctx context.Context, id domain.SessionID, caller domain.UserID) (*domain.Session, error) {
	return l.mutateAsHost(ctx, id, caller, func(s *domain.Session) error { return s.Archive() })
}

func (l *Lifecycle) Unarchive(ctx context.Context, id domain.SessionID, caller domain.UserID) (*domain.Session, error) {
	return l.mutateAsHost(ctx, id, caller, func(s *domain.Session) error { return s.Unarchive() })
}

func (l *Lifecycle) TransferHost(ctx context.Context, id domain.SessionID, caller, to domain.UserID) (*domain.Session, error) {
	s, err := l.mutateAsHost(ctx, id, caller, func(s *domain.Session) error {
		return s.TransferHost(to)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.lifecycle").Str("session", string(id)).Str("from", string(caller)).Str("to", string(to)).Msg("host transferred")
	l.notifier.HostTransferred(ctx, s, caller)
	return s, nil
}

func (l *Lifecycle) UpdateLivestream(ctx context.Context, id domain.SessionID, caller domain.UserID, url string) (*domain.Session, error) {
	s, err := l.mutateAsHost(ctx, id, caller, func(s *domain.Session) error {
		return s.SetLivestream(url)
	})
	if err != nil {
		return nil, err
	}
	l.notifier.LivestreamUpdated(ctx, s)
	return s, nil
}

func (l *Lifecycle) UpdateTags(ctx context.Context, id domain.SessionID, caller domain.UserID, tags []string) (*domain.Session, error) {
	s, err := l.mutateAsHost(ctx, id, caller, func(s *domain.Session) error {
		return s.SetCustomTags(tags)
	})
	if err != nil {
		return nil, err
	}
	l.notifier.CustomTagsUpdated(ctx, s)
	return s, nil
}

// SetAutoModerator lets a host pre-authorize uid as moderator of every
// session they host.
func (l *Lifecycle) SetAutoModerator(ctx context.Context, host, uid domain.UserID, enabled bool) error {
	if host == uid {
		return domain.Validation("target_is_host", "The host is always a moderator")
	}
	if err := l.store.SetAutoModerator(ctx, host, uid, enabled); err != nil {
		return domain.Persistence("Could not save auto-moderator", err)
	}
	return nil
}

// Sweep ends every active session idle for longer than the idle ceiling
// and returns how many it ended.
func (l *Lifecycle) Sweep(ctx context.Context) (int, error) {
	cutoff := l.now().Add(-l.idleAfter)
	ids, err := l.store.ListIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, domain.Persistence("Could not list idle sessions", err)
	}
	ended := 0
	for _, id := range ids {
		s, err := l.store.MutateSession(ctx, id, func(s *domain.Session) error {
			// activity may have been touched since the listing
			if !s.LastActivityAt.Before(cutoff) {
				return errStillActive
			}
			return s.End(l.now())
		})
		if errors.Is(err, errStillActive) || errors.Is(err, domain.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("module", "app.lifecycle").Str("session", string(id)).Msg("sweep end failed")
			continue
		}
		ended++
		metrics.SessionsSweptTotal.Inc()
		log.Info().Str("module", "app.lifecycle").Str("session", string(id)).Msg("idle session ended")
		l.afterEnd(ctx, s)
	}
	return ended, nil
}

var errStillActive = errors.New("session active again")

func (l *Lifecycle) afterEnd(ctx context.Context, s *domain.Session) {
	log.Info().Str("module", "app.lifecycle").Str("session", string(s.ID)).Msg("session ended")
	l.notifier.SessionEnded(ctx, s)
	if l.summaries != nil && !l.summaries.Submit(s.ID) {
		log.Warn().Str("module", "app.lifecycle").Str("session", string(s.ID)).Msg("summary queue full, skipped")
	}
}

func (l *Lifecycle) mutateAsHost(ctx context.Context, id domain.SessionID, caller domain.UserID, fn func(*domain.Session) error) (*domain.Session, error) {
	s, err := l.store.MutateSession(ctx, id, func(s *domain.Session) error {
		if !s.IsHost(caller) {
			return domain.ErrNotHost
		}
		return fn(s)
	})
	if err != nil {
		return nil, StoreError(err)
	}
	return s, nil
}

// StoreError maps store and domain sentinels onto the error taxonomy.
func StoreError(err error) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, domain.ErrSessionNotFound):
		return domain.NotFound("session_not_found", "Session not found")
	case errors.Is(err, domain.ErrMessageNotFound):
		return domain.NotFound("message_not_found", "Message not found")
	case errors.Is(err, domain.ErrNotHost):
		return domain.Forbidden("host_only", "Only the host can do that")
	case errors.Is(err, domain.ErrInvalidTransition):
		return domain.Validation("invalid_transition", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return domain.Validation("invalid_input", err.Error())
	default:
		return domain.Persistence("Storage unavailable", err)
	}
}
