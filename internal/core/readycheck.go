package core

import (
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/Tasting/internal/domain"
)

// NearlyCompleteRatio is where clients may offer to close the round.
// The server never closes a round on its own.
const NearlyCompleteRatio = 0.95

var (
	ErrReadyCheckActive   = errors.New("ready check already active")
	ErrReadyCheckInactive = errors.New("no active ready check")
)

// ReadyChecks holds at most one voting round per session. A missing entry
// is the inactive state; an empty set is an active round with no votes.
type ReadyChecks struct {
	mu     sync.Mutex
	rounds map[domain.SessionID]map[domain.UserID]struct{}
}

func NewReadyChecks() *ReadyChecks {
	return &ReadyChecks{rounds: make(map[domain.SessionID]map[domain.UserID]struct{})}
}

func (r *ReadyChecks) Start(sid domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rounds[sid]; ok {
		return ErrReadyCheckActive
	}
	r.rounds[sid] = make(map[domain.UserID]struct{})
	return nil
}

func (r *ReadyChecks) End(sid domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rounds[sid]; !ok {
		return ErrReadyCheckInactive
	}
	delete(r.rounds, sid)
	return nil
}

// Clear ends the round if there is one.
func (r *ReadyChecks) Clear(sid domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rounds, sid)
}

// MarkReady reports whether state changed; inactive sessions are a no-op.
func (r *ReadyChecks) MarkReady(sid domain.SessionID, uid domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.rounds[sid]
	if !ok {
		return false
	}
	if _, ok := set[uid]; ok {
		return false
	}
	set[uid] = struct{}{}
	return true
}

func (r *ReadyChecks) MarkUnready(sid domain.SessionID, uid domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.rounds[sid]
	if !ok {
		return false
	}
	if _, ok := set[uid]; !ok {
		return false
	}
	delete(set, uid)
	return true
}

func (r *ReadyChecks) IsActive(sid domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rounds[sid]
	return ok
}

// Snapshot returns the round state; total is supplied by the caller since
// the headcount lives in Presence.
func (r *ReadyChecks) Snapshot(sid domain.SessionID, total int) ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.rounds[sid]
	st := ReadyState{Active: ok, Ready: make([]domain.UserID, 0, len(set)), Total: total}
	for uid := range set {
		st.Ready = append(st.Ready, uid)
	}
	sort.Slice(st.Ready, func(i, j int) bool { return st.Ready[i] < st.Ready[j] })
	return st
}

type ReadyState struct {
	Active bool
	Ready  []domain.UserID
	Total  int
}

func (s ReadyState) Ratio() float64 {
	if s.Total <= 0 {
		return 0
	}
	r := float64(len(s.Ready)) / float64(s.Total)
	if r > 1 {
		return 1
	}
	return r
}

func (s ReadyState) NearlyComplete() bool {
	return s.Active && s.Total > 0 && s.Ratio() >= NearlyCompleteRatio
}
