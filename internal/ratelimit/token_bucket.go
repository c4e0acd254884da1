package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a deterministic token bucket refilled at an integer rate of
// tokens per second.
//
// Token amounts are tracked in nanoseconds-worth of refill time: one token
// equals int64(time.Second) units, so a rate of R tokens/sec accrues R units
// per elapsed nanosecond. This keeps refill math in integers and avoids
// float drift.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // in nano-token units
	last      time.Time
}

const nanoPerToken = int64(time.Second)

// NewTokenBucket returns a full bucket. A nil clock means the system clock.
// Non-positive capacity or rate disables the corresponding behavior: zero
// capacity rejects everything, zero rate never refills.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: saturatingNano(capacity),
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := saturatingNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last)
	b.last = now
	if elapsed <= 0 || b.rate <= 0 || b.capacity <= 0 {
		// Clock went backwards or refill is disabled; just move the reference.
		return
	}

	max := saturatingNano(b.capacity)
	need := max - b.available
	if need <= 0 {
		b.available = max
		return
	}

	// rate tokens/sec equals rate nano-token units per nanosecond. Clamp to
	// capacity before multiplying so elapsed*rate cannot overflow.
	ns := elapsed.Nanoseconds()
	if ns >= need/b.rate {
		b.available = max
		return
	}
	b.available += ns * b.rate
}

const maxInt64 = int64(^uint64(0) >> 1)

func saturatingNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
