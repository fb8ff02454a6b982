package app

import (
	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a connection that stops draining.
type Policy interface {
	OnBackPressure(sid domain.SessionID, c core.Connection) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.SessionID, core.Connection) BackpressureAction {
	return KickMember
}

// ModeratorLookup is the part of the moderation store CanModerate needs.
type ModeratorLookup interface {
	IsModerator(sid domain.SessionID, uid domain.UserID) bool
}

// CanModerate is the single moderation predicate: the host, or anyone in
// the session's moderator set.
func CanModerate(s *domain.Session, mods ModeratorLookup, uid domain.UserID) bool {
	if s == nil {
		return false
	}
	return s.IsHost(uid) || mods.IsModerator(s.ID, uid)
}
