package app

import (
	"sync"

	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Registry owns all in-memory per-session state. Every mutating command for
// a session runs under Lock(sid), store writes included, so the order of
// broadcasts equals the order of persistence.
type Registry struct {
	Presence   *core.Presence
	Moderation *core.Moderation
	Ready      *core.ReadyChecks

	mu    sync.Mutex
	locks map[domain.SessionID]*sessionLock
}

func NewRegistry() *Registry {
	return &Registry{
		Presence:   core.NewPresence(),
		Moderation: core.NewModeration(),
		Ready:      core.NewReadyChecks(),
		locks:      make(map[domain.SessionID]*sessionLock),
	}
}

// Lock serializes work on sid and returns the unlock func. Lock entries are
// reference counted and dropped when nobody holds or waits on them.
func (r *Registry) Lock(sid domain.SessionID) func() {
	r.mu.Lock()
	l, ok := r.locks[sid]
	if !ok {
		l = &sessionLock{}
		r.locks[sid] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, sid)
		}
		r.mu.Unlock()
	}
}

// LockCount reports live lock entries.
func (r *Registry) LockCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// ReadyState snapshots the ready check against the deduplicated headcount.
func (r *Registry) ReadyState(sid domain.SessionID) core.ReadyState {
	return r.Ready.Snapshot(sid, r.Presence.ActiveUserCount(sid))
}

// EndSession drops the moderation and ready-check state of an ended
// session. Kicks stay enforced through the durable ban.
func (r *Registry) EndSession(sid domain.SessionID) {
	r.Moderation.ClearSession(sid)
	r.Ready.Clear(sid)
	log.Info().Str("module", "app.registry").Str("session", string(sid)).Msg("session state cleared")
}
