package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	MaxProducts      = 3
	MaxCustomTags    = 10
	MaxCustomTagLen  = 32
	MaxProductName   = 120
	MaxLivestreamLen = 500
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrTooManyProducts   = errors.New("too many products")
	ErrNotHost           = errors.New("caller is not the host")
	ErrInvalidInput      = errors.New("invalid input")
)

type SessionID string

type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusEnded    SessionStatus = "ended"
	StatusArchived SessionStatus = "archived"
)

// Product is one tasting slot (a wine, a whisky...).
type Product struct {
	Name        string `json:"name" validate:"required,max=120"`
	Type        string `json:"type,omitempty" validate:"max=40"`
	Link        string `json:"link,omitempty" validate:"omitempty,url,max=500"`
	Description string `json:"description,omitempty" validate:"max=1000"`
}

// Session is the durable record of one tasting event.
type Session struct {
	ID             SessionID     `json:"id"`
	HostID         UserID        `json:"hostId"`
	Title          string        `json:"title,omitempty"`
	Status         SessionStatus `json:"status"`
	Products       []Product     `json:"products"`
	CustomTags     []string      `json:"customTags"`
	LivestreamURL  string        `json:"livestreamUrl,omitempty"`
	Summary        string        `json:"summary,omitempty"`
	StartedAt      time.Time     `json:"startedAt"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	EndedAt        *time.Time    `json:"endedAt,omitempty"`
}

// NewSession validates product slots and stamps timestamps.
func NewSession(id SessionID, host UserID, title string, products []Product, now time.Time) (*Session, error) {
	if len(products) > MaxProducts {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyProducts, len(products), MaxProducts)
	}
	return &Session{
		ID:             id,
		HostID:         host,
		Title:          title,
		Status:         StatusActive,
		Products:       products,
		CustomTags:     []string{},
		StartedAt:      now,
		LastActivityAt: now,
	}, nil
}

func (s *Session) IsHost(uid UserID) bool { return s.HostID == uid }

// IsReadOnly reports whether the session only serves history: it is no
// longer active or it has been running longer than ceiling.
func (s *Session) IsReadOnly(now time.Time, ceiling time.Duration) bool {
	if s.Status != StatusActive {
		return true
	}
	return now.Sub(s.StartedAt) > ceiling
}

// End moves active -> ended.
func (s *Session) End(now time.Time) error {
	if s.Status != StatusActive {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusEnded)
	}
	s.Status = StatusEnded
	s.EndedAt = &now
	return nil
}

// Archive moves ended -> archived. Active sessions must be ended first.
func (s *Session) Archive() error {
	if s.Status != StatusEnded {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusArchived)
	}
	s.Status = StatusArchived
	return nil
}

// Unarchive moves archived -> ended.
func (s *Session) Unarchive() error {
	if s.Status != StatusArchived {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusEnded)
	}
	s.Status = StatusEnded
	return nil
}

func (s *Session) TransferHost(to UserID) error {
	if s.Status != StatusActive {
		return fmt.Errorf("%w: host transfer on %s session", ErrInvalidTransition, s.Status)
	}
	if to == "" || to == s.HostID {
		return fmt.Errorf("%w: new host must differ from current host", ErrInvalidInput)
	}
	s.HostID = to
	return nil
}

func (s *Session) SetCustomTags(tags []string) error {
	if len(tags) > MaxCustomTags {
		return fmt.Errorf("%w: too many tags: %d > %d", ErrInvalidInput, len(tags), MaxCustomTags)
	}
	for _, t := range tags {
		if t == "" || len(t) > MaxCustomTagLen {
			return fmt.Errorf("%w: tag %q", ErrInvalidInput, t)
		}
	}
	s.CustomTags = append([]string{}, tags...)
	return nil
}

func (s *Session) SetLivestream(url string) error {
	if len(url) > MaxLivestreamLen {
		return fmt.Errorf("%w: livestream url too long", ErrInvalidInput)
	}
	s.LivestreamURL = url
	return nil
}

// HasProduct reports whether idx addresses an existing product slot. A
// session without products still accepts index 0 as the overall rating.
func (s *Session) HasProduct(idx int) bool {
	if idx == 0 {
		return true
	}
	return idx > 0 && idx < len(s.Products)
}
