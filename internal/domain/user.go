// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrUserIDEmpty        = errors.New("user id empty")
	ErrUserIDTooLong      = errors.New("user id too long")
	ErrUserNotFound       = errors.New("user not found")
)

type UserID string

// User is the authenticated identity. Owned by the identity provider;
// the session engine never mutates it.
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, displayName, avatar string) (*User, error) {
	if len(id) == 0 {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	u := &User{ID: id, Avatar: avatar}
	if err := u.SetDisplayName(displayName); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	u.DisplayName = name
	return nil
}

// Name returns the display name, falling back to the id.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return string(u.ID)
}
