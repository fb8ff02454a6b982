package orch_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Tasting/internal/adapters/store/memstore"
	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/app/orch"
	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type event map[string]any

func (e event) str(key string) string {
	s, _ := e[key].(string)
	return s
}

func (e event) num(key string) float64 {
	f, _ := e[key].(float64)
	return f
}

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.closed:
		return core.ErrConnClosed
	case f.full:
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, append(core.Frame(nil), fr...))
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// events decodes every received frame of the given type, in order.
func (f *fakeConn) events(t *testing.T, typ string) []event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event
	for _, fr := range f.frames {
		var ev event
		require.NoError(t, json.Unmarshal(fr, &ev))
		if ev.str("type") == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeConn) last(t *testing.T, typ string) event {
	t.Helper()
	evs := f.events(t, typ)
	require.NotEmpty(t, evs, "no %s event received", typ)
	return evs[len(evs)-1]
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   app.Store
	mem     *memstore.Store
	reg     *app.Registry
	o       *orch.Orchestrator
	now     time.Time
	sid     domain.SessionID
	pending []func()
	conns   int
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore wraps the memory store when wrap is non-nil, so a
// test can inject persistence failures.
func newHarnessWithStore(t *testing.T, wrap func(*memstore.Store) app.Store) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		ctx: context.Background(),
		mem: memstore.New(),
		reg: app.NewRegistry(),
		now: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
	}
	h.store = h.mem
	if wrap != nil {
		h.store = wrap(h.mem)
	}
	clock := func() time.Time { return h.now }
	limiter := core.NewMessageRateLimiter(15, time.Minute, time.Minute).WithClock(clock)
	h.o = orch.New(h.reg, h.store, app.SimplePolicy{}, limiter, orch.DefaultOptions()).
		WithClock(clock).
		WithAfterFunc(func(_ time.Duration, f func()) { h.pending = append(h.pending, f) })
	h.sid = h.session("s1", "host")
	return h
}

func (h *harness) session(id domain.SessionID, host domain.UserID) domain.SessionID {
	h.t.Helper()
	s, err := domain.NewSession(id, host, "Islay flight", []domain.Product{{Name: "Lagavulin 16"}, {Name: "Ardbeg 10"}}, h.now)
	require.NoError(h.t, err)
	require.NoError(h.t, h.mem.CreateSession(h.ctx, s))
	return id
}

// flush runs the kick evictions scheduled so far.
func (h *harness) flush() {
	fns := h.pending
	h.pending = nil
	for _, f := range fns {
		f()
	}
}

func (h *harness) client(uid domain.UserID) (*core.Client, *fakeConn) {
	h.conns++
	fc := &fakeConn{}
	name := strings.ToUpper(string(uid[:1])) + string(uid[1:])
	c := core.NewClient(core.ConnID(fmt.Sprintf("conn-%d", h.conns)), domain.User{ID: uid, DisplayName: name}, fc)
	h.o.Connect(c)
	return c, fc
}

// joined opens a connection for uid and joins the default session.
func (h *harness) joined(uid domain.UserID) (*core.Client, *fakeConn) {
	h.t.Helper()
	c, fc := h.client(uid)
	require.NoError(h.t, h.o.JoinSession(h.ctx, c, h.sid))
	return c, fc
}

func (h *harness) say(c *core.Client, content string) {
	h.t.Helper()
	h.now = h.now.Add(time.Second)
	require.NoError(h.t, h.o.SendMessage(h.ctx, c, orch.SendMessage{SessionID: h.sid, Content: content}))
}

func (h *harness) history() []domain.Message {
	h.t.Helper()
	msgs, err := h.mem.ListMessages(h.ctx, h.sid, 500)
	require.NoError(h.t, err)
	return msgs
}

func userIDs(ev event) []string {
	var out []string
	users, _ := ev["users"].([]any)
	for _, u := range users {
		m, _ := u.(map[string]any)
		id, _ := m["userId"].(string)
		out = append(out, id)
	}
	return out
}

func contents(ev event) []string {
	var out []string
	msgs, _ := ev["messages"].([]any)
	for _, raw := range msgs {
		m, _ := raw.(map[string]any)
		c, _ := m["content"].(string)
		out = append(out, c)
	}
	return out
}

func ids(ev event, key string) []string {
	var out []string
	list, _ := ev[key].([]any)
	for _, v := range list {
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}
