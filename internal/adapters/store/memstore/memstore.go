// Package memstore is a process-local implementation of app.Store used in
// development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/domain"
)

type ratingKey struct {
	sid domain.SessionID
	uid domain.UserID
	idx int
}

type participant struct {
	joinedAt time.Time
	banned   bool
}

type Store struct {
	mu           sync.RWMutex
	sessions     map[domain.SessionID]*domain.Session
	messages     map[domain.MessageID]*domain.Message
	bySession    map[domain.SessionID][]domain.MessageID
	participants map[domain.SessionID]map[domain.UserID]*participant
	users        map[domain.UserID]domain.User
	autoMods     map[domain.UserID]map[domain.UserID]struct{}
	ratings      map[ratingKey]domain.Rating
}

var _ app.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions:     make(map[domain.SessionID]*domain.Session),
		messages:     make(map[domain.MessageID]*domain.Message),
		bySession:    make(map[domain.SessionID][]domain.MessageID),
		participants: make(map[domain.SessionID]map[domain.UserID]*participant),
		users:        make(map[domain.UserID]domain.User),
		autoMods:     make(map[domain.UserID]map[domain.UserID]struct{}),
		ratings:      make(map[ratingKey]domain.Rating),
	}
}

func (s *Store) Close() error { return nil }

func cloneSession(in *domain.Session) *domain.Session {
	out := *in
	out.Products = append([]domain.Product(nil), in.Products...)
	out.CustomTags = append([]string{}, in.CustomTags...)
	if in.EndedAt != nil {
		t := *in.EndedAt
		out.EndedAt = &t
	}
	return &out
}

func (s *Store) GetSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (s *Store) CreateSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *Store) MutateSession(_ context.Context, id domain.SessionID, fn func(*domain.Session) error) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	next := cloneSession(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.sessions[id] = next
	return cloneSession(next), nil
}

func (s *Store) ListIdleSessions(_ context.Context, before time.Time) ([]domain.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SessionID
	for id, sess := range s.sessions {
		if sess.Status == domain.StatusActive && sess.LastActivityAt.Before(before) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) TouchActivity(_ context.Context, id domain.SessionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if at.After(sess.LastActivityAt) {
		sess.LastActivityAt = at
	}
	return nil
}

func (s *Store) SaveSummary(_ context.Context, id domain.SessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Summary = summary
	return nil
}

func (s *Store) participant(sid domain.SessionID, uid domain.UserID) *participant {
	set, ok := s.participants[sid]
	if !ok {
		set = make(map[domain.UserID]*participant)
		s.participants[sid] = set
	}
	p, ok := set[uid]
	if !ok {
		p = &participant{}
		set[uid] = p
	}
	return p
}

func (s *Store) UpsertParticipant(_ context.Context, sid domain.SessionID, uid domain.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.participant(sid, uid)
	if p.joinedAt.IsZero() {
		p.joinedAt = at
	}
	return nil
}

func (s *Store) IsBanned(_ context.Context, sid domain.SessionID, uid domain.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[sid][uid]
	return ok && p.banned, nil
}

func (s *Store) SetBanned(_ context.Context, sid domain.SessionID, uid domain.UserID, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participant(sid, uid).banned = banned
	return nil
}

func (s *Store) ListBanned(_ context.Context, sid domain.SessionID) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.User
	for uid, p := range s.participants[sid] {
		if !p.banned {
			continue
		}
		u, ok := s.users[uid]
		if !ok {
			u = domain.User{ID: uid}
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) IsAutoModerator(_ context.Context, host, uid domain.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.autoMods[host][uid]
	return ok, nil
}

func (s *Store) SetAutoModerator(_ context.Context, host, uid domain.UserID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.autoMods[host]
	if !ok {
		set = make(map[domain.UserID]struct{})
		s.autoMods[host] = set
	}
	if enabled {
		set[uid] = struct{}{}
	} else {
		delete(set, uid)
	}
	return nil
}

func (s *Store) CreateMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	s.bySession[m.SessionID] = append(s.bySession[m.SessionID], m.ID)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id domain.MessageID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok || m.Hidden {
		return nil, domain.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) UpdateMessageContent(_ context.Context, id domain.MessageID, content string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Hidden {
		return domain.ErrMessageNotFound
	}
	m.Content = content
	m.EditedAt = &editedAt
	return nil
}

func (s *Store) HideMessage(_ context.Context, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	m.Hidden = true
	return nil
}

func (s *Store) HideMessagesByAuthor(_ context.Context, sid domain.SessionID, uid domain.UserID) ([]domain.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MessageID
	for _, id := range s.bySession[sid] {
		m := s.messages[id]
		if m.AuthorID == uid && !m.Hidden {
			m.Hidden = true
			out = append(out, id)
		}
	}
	return out, nil
}

// ListMessages walks newest first up to limit, then reverses, the same way
// the SQL store does with ORDER BY created_at DESC LIMIT.
func (s *Store) ListMessages(_ context.Context, sid domain.SessionID, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySession[sid]
	out := make([]domain.Message, 0, min(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[ids[i]]
		if m.Hidden {
			continue
		}
		out = append(out, *m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) UpsertRating(_ context.Context, r domain.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[ratingKey{r.SessionID, r.UserID, r.ProductIndex}] = r
	return nil
}

func (s *Store) AverageRating(_ context.Context, sid domain.SessionID, productIndex int) (domain.RatingAverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	avg := domain.RatingAverage{ProductIndex: productIndex}
	var sum float64
	for k, r := range s.ratings {
		if k.sid == sid && k.idx == productIndex {
			sum += r.Value
			avg.Count++
		}
	}
	if avg.Count > 0 {
		avg.Average = sum / float64(avg.Count)
	}
	return avg, nil
}

func (s *Store) UserRatings(_ context.Context, sid domain.SessionID, uid domain.UserID) (map[int]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]float64)
	for k, r := range s.ratings {
		if k.sid == sid && k.uid == uid {
			out[k.idx] = r.Value
		}
	}
	return out, nil
}
