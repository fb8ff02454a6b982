package core

import "errors"

// ErrBackpressure is returned by TrySend when the peer is not draining.
var ErrBackpressure = errors.New("backpressure")

// ErrConnClosed is returned by TrySend after Close.
var ErrConnClosed = errors.New("connection closed")

// Frame is a raw encoded event.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
