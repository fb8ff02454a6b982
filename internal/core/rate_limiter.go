package core

import (
	"sync"
	"time"

	"github.com/dkeye/Tasting/internal/domain"
)

// RateDecision is the outcome of one send attempt.
type RateDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds up so a client never retries too early.
func (d RateDecision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

type rateState struct {
	sends        []time.Time
	blockedUntil time.Time
	blockFor     time.Duration
}

// MessageRateLimiter is a per-user sliding window with exponential backoff.
// Overflowing the window blocks the user for blockFor, which then doubles.
// The backoff returns to the base duration on the first successful send
// made a full clean window after the last block expired.
type MessageRateLimiter struct {
	mu        sync.Mutex
	history   map[domain.UserID]*rateState
	limit     int
	interval  time.Duration
	baseBlock time.Duration
	now       func() time.Time
}

func NewMessageRateLimiter(limit int, interval, baseBlock time.Duration) *MessageRateLimiter {
	return &MessageRateLimiter{
		history:   make(map[domain.UserID]*rateState),
		limit:     limit,
		interval:  interval,
		baseBlock: baseBlock,
		now:       time.Now,
	}
}

// WithClock swaps the time source; tests only.
func (rl *MessageRateLimiter) WithClock(now func() time.Time) *MessageRateLimiter {
	rl.now = now
	return rl
}

// CheckAndRecord decides and, when allowed, records the send atomically.
func (rl *MessageRateLimiter) CheckAndRecord(uid domain.UserID) RateDecision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	st, ok := rl.history[uid]
	if !ok {
		st = &rateState{blockFor: rl.baseBlock}
		rl.history[uid] = st
	}

	if now.Before(st.blockedUntil) {
		return RateDecision{RetryAfter: st.blockedUntil.Sub(now)}
	}

	windowStart := now.Add(-rl.interval)
	fresh := st.sends[:0]
	for _, t := range st.sends {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	st.sends = fresh

	if len(st.sends) >= rl.limit {
		block := st.blockFor
		st.blockedUntil = now.Add(block)
		st.blockFor *= 2
		return RateDecision{RetryAfter: block}
	}

	if !st.blockedUntil.IsZero() && !now.Before(st.blockedUntil.Add(rl.interval)) {
		st.blockFor = rl.baseBlock
		st.blockedUntil = time.Time{}
	}
	st.sends = append(st.sends, now)
	return RateDecision{Allowed: true}
}

// Prune forgets users with no recent sends and no backoff to remember.
func (rl *MessageRateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	removed := 0
	for uid, st := range rl.history {
		if len(st.sends) > 0 && st.sends[len(st.sends)-1].After(now.Add(-rl.interval)) {
			continue
		}
		if !st.blockedUntil.IsZero() && now.Before(st.blockedUntil.Add(rl.interval)) {
			continue
		}
		delete(rl.history, uid)
		removed++
	}
	return removed
}
