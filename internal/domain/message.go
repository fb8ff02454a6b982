package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxMessageLen = 300

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrMessageEmpty    = errors.New("message content is empty")
	ErrMessageTooLong  = errors.New("message content exceeds 300 characters")
)

type MessageID string

// Message is one durable chat line of a session. Hidden messages are
// soft-deleted: kept in storage, excluded from every read.
type Message struct {
	ID           MessageID  `json:"id"`
	SessionID    SessionID  `json:"sessionId"`
	AuthorID     UserID     `json:"userId"`
	AuthorName   string     `json:"displayName,omitempty"`
	AuthorAvatar string     `json:"avatar,omitempty"`
	Content      string     `json:"content"`
	Phase        string     `json:"phase,omitempty"`
	ProductIndex *int       `json:"productIndex,omitempty"`
	Hidden       bool       `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	EditedAt     *time.Time `json:"editedAt,omitempty"`
}

// NormalizeContent trims and checks the content length in characters.
func NormalizeContent(content string) (string, error) {
	c := strings.TrimSpace(content)
	if c == "" {
		return "", ErrMessageEmpty
	}
	if utf8.RuneCountInString(c) > MaxMessageLen {
		return "", ErrMessageTooLong
	}
	return c, nil
}
