package core

import (
	"sync"

	"github.com/dkeye/Tasting/internal/domain"
	"github.com/rs/zerolog/log"
)

// Connection is one live connection joined to one session.
type Connection struct {
	ID     ConnID
	Member *domain.Member
	Signal SignalConnection
}

func (c Connection) UserID() domain.UserID { return c.Member.User.ID }

type sessionConns struct {
	order []ConnID
	conns map[ConnID]Connection
}

// Presence is a threadsafe in-memory registry of who is connected where.
// It never closes adapter-owned resources.
type Presence struct {
	mu        sync.RWMutex
	sessions  map[domain.SessionID]*sessionConns
	joined    map[ConnID]map[domain.SessionID]struct{}
	userConns map[domain.UserID]map[ConnID]SignalConnection
}

func NewPresence() *Presence {
	return &Presence{
		sessions:  make(map[domain.SessionID]*sessionConns),
		joined:    make(map[ConnID]map[domain.SessionID]struct{}),
		userConns: make(map[domain.UserID]map[ConnID]SignalConnection),
	}
}

// AddConnection is an idempotent insert. It reports whether the connection
// was new to the session; a repeated add refreshes the member snapshot.
func (p *Presence) AddConnection(sid domain.SessionID, c Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	sc, ok := p.sessions[sid]
	if !ok {
		sc = &sessionConns{conns: make(map[ConnID]Connection)}
		p.sessions[sid] = sc
	}
	_, existed := sc.conns[c.ID]
	sc.conns[c.ID] = c
	if !existed {
		sc.order = append(sc.order, c.ID)
	}

	set, ok := p.joined[c.ID]
	if !ok {
		set = make(map[domain.SessionID]struct{})
		p.joined[c.ID] = set
	}
	set[sid] = struct{}{}

	if !existed {
		log.Debug().Str("module", "core.presence").Str("session", string(sid)).Str("conn", string(c.ID)).Str("user", string(c.UserID())).Msg("connection added")
	}
	return !existed
}

// RemoveConnection drops the connection from the session. The session entry
// itself goes away with its last connection.
func (p *Presence) RemoveConnection(sid domain.SessionID, cid ConnID) (Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sc, ok := p.sessions[sid]
	if !ok {
		return Connection{}, false
	}
	c, ok := sc.conns[cid]
	if !ok {
		return Connection{}, false
	}
	delete(sc.conns, cid)
	for i, id := range sc.order {
		if id == cid {
			sc.order = append(sc.order[:i:i], sc.order[i+1:]...)
			break
		}
	}
	if len(sc.conns) == 0 {
		delete(p.sessions, sid)
	}

	if set, ok := p.joined[cid]; ok {
		delete(set, sid)
		if len(set) == 0 {
			delete(p.joined, cid)
		}
	}
	log.Debug().Str("module", "core.presence").Str("session", string(sid)).Str("conn", string(cid)).Msg("connection removed")
	return c, true
}

// Connections returns every connection of the session, in join order.
func (p *Presence) Connections(sid domain.SessionID) []Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sc, ok := p.sessions[sid]
	if !ok {
		return nil
	}
	out := make([]Connection, 0, len(sc.order))
	for _, id := range sc.order {
		out = append(out, sc.conns[id])
	}
	return out
}

// ListActive returns one connection per user; the earliest connection wins.
func (p *Presence) ListActive(sid domain.SessionID) []Connection {
	all := p.Connections(sid)
	seen := make(map[domain.UserID]struct{}, len(all))
	out := make([]Connection, 0, len(all))
	for _, c := range all {
		if _, dup := seen[c.UserID()]; dup {
			continue
		}
		seen[c.UserID()] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ActiveUserCount is the deduplicated headcount.
func (p *Presence) ActiveUserCount(sid domain.SessionID) int {
	return len(p.ListActive(sid))
}

func (p *Presence) IsJoined(sid domain.SessionID, cid ConnID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sc, ok := p.sessions[sid]
	if !ok {
		return false
	}
	_, ok = sc.conns[cid]
	return ok
}

// Connection returns the joined connection cid of the session.
func (p *Presence) Connection(sid domain.SessionID, cid ConnID) (Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sc, ok := p.sessions[sid]
	if !ok {
		return Connection{}, false
	}
	c, ok := sc.conns[cid]
	return c, ok
}

func (p *Presence) HasUser(sid domain.SessionID, uid domain.UserID) bool {
	return len(p.ConnectionsOfUser(sid, uid)) > 0
}

// ConnectionsOfUser returns every connection uid holds in the session.
func (p *Presence) ConnectionsOfUser(sid domain.SessionID, uid domain.UserID) []Connection {
	var out []Connection
	for _, c := range p.Connections(sid) {
		if c.UserID() == uid {
			out = append(out, c)
		}
	}
	return out
}

// FindSessionsFor is the reverse index used to fan a disconnect out to every
// session the connection had joined.
func (p *Presence) FindSessionsFor(cid ConnID) []domain.SessionID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.joined[cid]
	out := make([]domain.SessionID, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	return out
}

// UpdateRating replaces the live rating snapshot on every connection of uid.
func (p *Presence) UpdateRating(sid domain.SessionID, uid domain.UserID, productIndex int, rating float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sc, ok := p.sessions[sid]
	if !ok {
		return
	}
	for id, c := range sc.conns {
		if c.UserID() != uid {
			continue
		}
		c.Member = c.Member.WithRating(productIndex, rating)
		sc.conns[id] = c
	}
}

// SessionCount reports how many sessions have at least one connection.
func (p *Presence) SessionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

func (p *Presence) RegisterUserConnection(uid domain.UserID, cid ConnID, sc SignalConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.userConns[uid]
	if !ok {
		set = make(map[ConnID]SignalConnection)
		p.userConns[uid] = set
	}
	set[cid] = sc
}

func (p *Presence) UnregisterUserConnection(uid domain.UserID, cid ConnID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.userConns[uid]
	if !ok {
		return
	}
	delete(set, cid)
	if len(set) == 0 {
		delete(p.userConns, uid)
	}
}

// UserConnections returns every live connection of uid, joined or not.
func (p *Presence) UserConnections(uid domain.UserID) []SignalConnection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.userConns[uid]
	out := make([]SignalConnection, 0, len(set))
	for _, sc := range set {
		out = append(out, sc)
	}
	return out
}
