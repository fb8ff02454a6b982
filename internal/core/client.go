package core

import "github.com/dkeye/Tasting/internal/domain"

// ConnID identifies one live transport connection (one tab, one device).
type ConnID string

// Client is an authenticated connection as seen by the session engine.
type Client struct {
	ID     ConnID
	User   domain.User
	Signal SignalConnection
}

func NewClient(id ConnID, user domain.User, signal SignalConnection) *Client {
	return &Client{ID: id, User: user, Signal: signal}
}

// Send delivers a frame; a closed or slow connection is reported, not fatal.
func (c *Client) Send(f Frame) error {
	return c.Signal.TrySend(f)
}
