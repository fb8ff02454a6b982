package orch

import "github.com/dkeye/Tasting/internal/domain"

// Client -> server command payloads. The transport validates the struct
// tags before a command reaches the orchestrator.

type SessionRef struct {
	SessionID domain.SessionID `json:"sessionId" validate:"required,max=64"`
}

type SendMessage struct {
	SessionID    domain.SessionID `json:"sessionId" validate:"required,max=64"`
	Content      string           `json:"content" validate:"required"`
	Phase        string           `json:"phase,omitempty" validate:"max=32"`
	ProductIndex *int             `json:"productIndex,omitempty" validate:"omitempty,min=0,max=2"`
}

type EditMessage struct {
	SessionID domain.SessionID `json:"sessionId" validate:"required,max=64"`
	MessageID domain.MessageID `json:"messageId" validate:"required,max=64"`
	Content   string           `json:"content" validate:"required"`
}

type DeleteMessage struct {
	SessionID domain.SessionID `json:"sessionId" validate:"required,max=64"`
	MessageID domain.MessageID `json:"messageId" validate:"required,max=64"`
}

type RevealSpoilers struct {
	SessionID     domain.SessionID `json:"sessionId" validate:"required,max=64"`
	UpToMessageID domain.MessageID `json:"upToMessageId" validate:"required,max=64"`
}

type UpdateRating struct {
	SessionID    domain.SessionID `json:"sessionId" validate:"required,max=64"`
	Rating       *float64         `json:"rating" validate:"required,min=0,max=10"`
	ProductIndex *int             `json:"productIndex,omitempty" validate:"omitempty,min=0,max=2"`
}

// TargetUser addresses another participant.
type TargetUser struct {
	SessionID domain.SessionID `json:"sessionId" validate:"required,max=64"`
	UserID    domain.UserID    `json:"userId" validate:"required,max=64"`
}

// Sanction is a mute or kick, optionally erasing the target's messages.
type Sanction struct {
	SessionID     domain.SessionID `json:"sessionId" validate:"required,max=64"`
	UserID        domain.UserID    `json:"userId" validate:"required,max=64"`
	EraseMessages bool             `json:"eraseMessages,omitempty"`
}
