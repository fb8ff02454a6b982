package app

import (
	"context"
	"time"

	"github.com/dkeye/Tasting/internal/domain"
)

// SessionStore is the durable session record. MutateSession runs fn against
// the current row and persists the result in one atomic step; an error
// from fn aborts the write.
type SessionStore interface {
	GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	CreateSession(ctx context.Context, s *domain.Session) error
	MutateSession(ctx context.Context, id domain.SessionID, fn func(*domain.Session) error) (*domain.Session, error)
	ListIdleSessions(ctx context.Context, before time.Time) ([]domain.SessionID, error)
	TouchActivity(ctx context.Context, id domain.SessionID, at time.Time) error
	SaveSummary(ctx context.Context, id domain.SessionID, summary string) error
}

// ParticipantStore keeps participation records and durable bans.
type ParticipantStore interface {
	UpsertParticipant(ctx context.Context, sid domain.SessionID, uid domain.UserID, at time.Time) error
	IsBanned(ctx context.Context, sid domain.SessionID, uid domain.UserID) (bool, error)
	SetBanned(ctx context.Context, sid domain.SessionID, uid domain.UserID, banned bool) error
	ListBanned(ctx context.Context, sid domain.SessionID) ([]domain.User, error)
}

// UserStore caches identity display info and host-level preferences.
type UserStore interface {
	UpsertUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
	IsAutoModerator(ctx context.Context, host, uid domain.UserID) (bool, error)
	SetAutoModerator(ctx context.Context, host, uid domain.UserID, enabled bool) error
}

// MessageStore is the durable message log. ListMessages returns at most
// limit visible messages in ascending creation order.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, id domain.MessageID) (*domain.Message, error)
	UpdateMessageContent(ctx context.Context, id domain.MessageID, content string, editedAt time.Time) error
	HideMessage(ctx context.Context, id domain.MessageID) error
	HideMessagesByAuthor(ctx context.Context, sid domain.SessionID, uid domain.UserID) ([]domain.MessageID, error)
	ListMessages(ctx context.Context, sid domain.SessionID, limit int) ([]domain.Message, error)
}

type RatingStore interface {
	UpsertRating(ctx context.Context, r domain.Rating) error
	AverageRating(ctx context.Context, sid domain.SessionID, productIndex int) (domain.RatingAverage, error)
	UserRatings(ctx context.Context, sid domain.SessionID, uid domain.UserID) (map[int]float64, error)
}

// Store is everything the engine needs from persistence.
type Store interface {
	SessionStore
	ParticipantStore
	UserStore
	MessageStore
	RatingStore
	Close() error
}
