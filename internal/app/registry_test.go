package app

import (
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LockSerializesPerSession(t *testing.T) {
	r := NewRegistry()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock("s1")
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
	require.Zero(t, r.LockCount(), "lock entries are dropped when idle")
}

func TestRegistry_LocksAreIndependentAcrossSessions(t *testing.T) {
	r := NewRegistry()
	unlock := r.Lock("s1")
	done := make(chan struct{})
	go func() {
		u := r.Lock("s2")
		u()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("s2 blocked behind s1")
	}
	unlock()
}

func TestRegistry_ReadyStateUsesDedupedHeadcount(t *testing.T) {
	r := NewRegistry()
	for _, c := range []struct {
		id  core.ConnID
		uid domain.UserID
	}{{"a1", "alice"}, {"a2", "alice"}, {"b1", "bob"}} {
		r.Presence.AddConnection("s1", core.Connection{ID: c.id, Member: domain.NewMember(domain.User{ID: c.uid}, nil)})
	}
	require.NoError(t, r.Ready.Start("s1"))
	r.Ready.MarkReady("s1", "alice")
	st := r.ReadyState("s1")
	require.Equal(t, 2, st.Total)
	require.InDelta(t, 0.5, st.Ratio(), 1e-9)
}

func TestRegistry_EndSessionClearsState(t *testing.T) {
	r := NewRegistry()
	r.Moderation.GrantModerator("s1", "bob")
	r.Moderation.Mute("s1", "carl", "Carl")
	require.NoError(t, r.Ready.Start("s1"))

	r.EndSession("s1")
	require.False(t, r.Moderation.IsModerator("s1", "bob"))
	require.False(t, r.Moderation.IsMuted("s1", "carl"))
	require.False(t, r.Ready.IsActive("s1"))
}

func TestCanModerate(t *testing.T) {
	mods := core.NewModeration()
	s := &domain.Session{ID: "s1", HostID: "host"}
	require.True(t, CanModerate(s, mods, "host"))
	require.False(t, CanModerate(s, mods, "bob"))
	mods.GrantModerator("s1", "bob")
	require.True(t, CanModerate(s, mods, "bob"))
	require.False(t, CanModerate(nil, mods, "bob"))
}
