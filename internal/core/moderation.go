package core

import (
	"sort"
	"sync"

	"github.com/dkeye/Tasting/internal/domain"
)

// Sanction is a muted or kicked user with the display name captured at the
// time of the action.
type Sanction struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
}

// Moderation keeps per-session moderators, mutes and kicks. It is
// independent of presence, so state survives reconnects. Every query is
// total: an unknown session or user is simply "not moderated".
type Moderation struct {
	mu         sync.RWMutex
	moderators map[domain.SessionID]map[domain.UserID]struct{}
	muted      map[domain.SessionID]map[domain.UserID]string
	kicked     map[domain.SessionID]map[domain.UserID]string
}

func NewModeration() *Moderation {
	return &Moderation{
		moderators: make(map[domain.SessionID]map[domain.UserID]struct{}),
		muted:      make(map[domain.SessionID]map[domain.UserID]string),
		kicked:     make(map[domain.SessionID]map[domain.UserID]string),
	}
}

// GrantModerator reports whether uid was newly added.
func (m *Moderation) GrantModerator(sid domain.SessionID, uid domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.moderators[sid]
	if !ok {
		set = make(map[domain.UserID]struct{})
		m.moderators[sid] = set
	}
	if _, ok := set[uid]; ok {
		return false
	}
	set[uid] = struct{}{}
	return true
}

// RevokeModerator reports whether uid was a moderator.
func (m *Moderation) RevokeModerator(sid domain.SessionID, uid domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.moderators[sid]
	if !ok {
		return false
	}
	if _, ok := set[uid]; !ok {
		return false
	}
	delete(set, uid)
	if len(set) == 0 {
		delete(m.moderators, sid)
	}
	return true
}

func (m *Moderation) IsModerator(sid domain.SessionID, uid domain.UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.moderators[sid][uid]
	return ok
}

func (m *Moderation) ListModerators(sid domain.SessionID) []domain.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.UserID, 0, len(m.moderators[sid]))
	for uid := range m.moderators[sid] {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClearModerators drops the session's moderator set. Called on session end.
func (m *Moderation) ClearModerators(sid domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.moderators, sid)
}

// ClearSession drops all moderation state of the session.
func (m *Moderation) ClearSession(sid domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.moderators, sid)
	delete(m.muted, sid)
	delete(m.kicked, sid)
}

func (m *Moderation) Mute(sid domain.SessionID, uid domain.UserID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	put(m.muted, sid, uid, name)
}

func (m *Moderation) Unmute(sid domain.SessionID, uid domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return drop(m.muted, sid, uid)
}

func (m *Moderation) IsMuted(sid domain.SessionID, uid domain.UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.muted[sid][uid]
	return ok
}

func (m *Moderation) ListMuted(sid domain.SessionID) []Sanction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return list(m.muted[sid])
}

func (m *Moderation) Kick(sid domain.SessionID, uid domain.UserID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	put(m.kicked, sid, uid, name)
}

func (m *Moderation) Unkick(sid domain.SessionID, uid domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return drop(m.kicked, sid, uid)
}

func (m *Moderation) IsKicked(sid domain.SessionID, uid domain.UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.kicked[sid][uid]
	return ok
}

func (m *Moderation) ListKicked(sid domain.SessionID) []Sanction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return list(m.kicked[sid])
}

func put(dst map[domain.SessionID]map[domain.UserID]string, sid domain.SessionID, uid domain.UserID, name string) {
	set, ok := dst[sid]
	if !ok {
		set = make(map[domain.UserID]string)
		dst[sid] = set
	}
	set[uid] = name
}

func drop(dst map[domain.SessionID]map[domain.UserID]string, sid domain.SessionID, uid domain.UserID) bool {
	set, ok := dst[sid]
	if !ok {
		return false
	}
	if _, ok := set[uid]; !ok {
		return false
	}
	delete(set, uid)
	if len(set) == 0 {
		delete(dst, sid)
	}
	return true
}

func list(set map[domain.UserID]string) []Sanction {
	out := make([]Sanction, 0, len(set))
	for uid, name := range set {
		out = append(out, Sanction{UserID: uid, DisplayName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
