package core

import (
	"sync"

	"github.com/dkeye/Tasting/internal/domain"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func (f *fakeSignal) TrySend(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func conn(id ConnID, uid domain.UserID) Connection {
	return Connection{
		ID:     id,
		Member: domain.NewMember(domain.User{ID: uid, DisplayName: string(uid)}, nil),
		Signal: &fakeSignal{},
	}
}
