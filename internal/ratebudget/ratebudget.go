// Package ratebudget implements the Rate Budget (C1): it tracks GitHub's
// rate-limit buckets (core, search, graphql, integration_manifest) and gates
// every outbound call per spec.md §4.1. The mutex-per-entry-plus-injectable-
// clock shape is carried from the teacher's in-memory rate limiter
// (server/ratelimit.go), generalized from a sliding request counter to the
// (limit, remaining, reset_at) bucket model GitHub actually exposes.
package ratebudget

import (
	"sync"
	"time"

	"github.com/octocrew/gh-automation-core/internal/domain"
	"golang.org/x/time/rate"
)

// minSafetyReserve is the floor on the safety reserve regardless of bucket
// size, per spec.md §4.1 ("minimum 10").
const minSafetyReserve = 10

// defaultSafetyReserveFraction is the default share of a bucket's limit held back.
const defaultSafetyReserveFraction = 0.05

// Reservation is the result of a reserve() call.
type Reservation struct {
	Granted  bool
	WaitHint time.Duration
}

// Headroom reports a bucket's current standing.
type Headroom struct {
	Remaining     int
	SecondsToReset int64
}

type bucketState struct {
	mu       sync.Mutex
	limit    int
	remaining int
	resetAt  time.Time
	limiter  *rate.Limiter // client-side pacing layer, re-tuned on every observe()
}

// Budget is the process-wide rate budget, shared across all repositories and
// workers, with mutations serialized per bucket (spec.md §5).
type Budget struct {
	mu             sync.Mutex
	buckets        map[domain.RateLimitBucket]*bucketState
	safetyReserveFraction float64
	now            func() time.Time
}

// Option configures a Budget.
type Option func(*Budget)

// WithClock overrides the clock used for reset-window arithmetic. Intended
// for deterministic tests, mirroring the teacher's injectable `now func()`.
func WithClock(now func() time.Time) Option {
	return func(b *Budget) { b.now = now }
}

// WithSafetyReserveFraction overrides the default 5% safety reserve.
func WithSafetyReserveFraction(fraction float64) Option {
	return func(b *Budget) { b.safetyReserveFraction = fraction }
}

// New constructs an empty Budget. Buckets are created lazily on first use,
// each starting "wide open" (no observed limit yet) so that reserve() grants
// until the first real observation arrives from a GitHub response.
func New(opts ...Option) *Budget {
	b := &Budget{
		buckets:               make(map[domain.RateLimitBucket]*bucketState),
		safetyReserveFraction: defaultSafetyReserveFraction,
		now:                   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Rehydrate seeds a bucket's state from the most recent persisted
// RateLimitSample, per spec.md §3.2 ("on restart it rehydrates from the most
// recent sample per bucket").
func (b *Budget) Rehydrate(sample domain.RateLimitSample) {
	b.Observe(sample.RateLimitType, sample.Limit, sample.Remaining, time.Unix(sample.ResetTimestamp, 0))
}

func (b *Budget) bucket(name domain.RateLimitBucket) *bucketState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.buckets[name]
	if !ok {
		st = &bucketState{remaining: -1} // -1 = unobserved, treated as open
		b.buckets[name] = st
	}
	return st
}

func (b *Budget) safetyReserve(limit int) int {
	reserve := int(float64(limit) * b.safetyReserveFraction)
	if reserve < minSafetyReserve {
		reserve = minSafetyReserve
	}
	return reserve
}

// Reserve returns granted=true when the bucket is unobserved, or when
// remaining >= n + safety_reserve and the pacing limiter allows n now; a
// pacing denial has wait_hint = 1s, and a reserve denial has
// wait_hint = reset_at - now. Synchronous and cheap; callers are expected
// to retry after wait_hint (spec.md §4.1).
func (b *Budget) Reserve(name domain.RateLimitBucket, n int) Reservation {
	st := b.bucket(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.remaining < 0 {
		// Unobserved bucket: grant optimistically, consistent with "no call is
		// made without a successful reserve" but nothing is known yet to deny on.
		return Reservation{Granted: true}
	}

	reserve := b.safetyReserve(st.limit)
	if st.remaining >= n+reserve {
		if st.limiter != nil && !st.limiter.AllowN(b.now(), n) {
			return Reservation{Granted: false, WaitHint: time.Second}
		}
		return Reservation{Granted: true}
	}

	wait := st.resetAt.Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return Reservation{Granted: false, WaitHint: wait}
}

// Observe updates a bucket from response headers. Within a window, reset_at
// stays constant while remaining only decreases, so every in-window reading
// is applied; only an out-of-order reading — an earlier reset_at carrying a
// lower remaining than what's already recorded — is dropped (spec.md §4.1).
func (b *Budget) Observe(name domain.RateLimitBucket, limit, remaining int, resetAt time.Time) {
	st := b.bucket(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	stale := resetAt.Before(st.resetAt) && remaining <= st.remaining
	if st.remaining < 0 || !stale {
		st.limit = limit
		st.remaining = remaining
		st.resetAt = resetAt

		secondsToReset := resetAt.Sub(b.now()).Seconds()
		if secondsToReset < 1 {
			secondsToReset = 1
		}
		// Pace local bursts within the window at an even rate of
		// remaining/seconds_to_reset, refilled as a standard token bucket.
		limit := rate.Limit(float64(remaining) / secondsToReset)
		if st.limiter == nil {
			st.limiter = rate.NewLimiter(limit, maxBurst(remaining))
		} else {
			st.limiter.SetLimit(limit)
			st.limiter.SetBurst(maxBurst(remaining))
		}
	}
}

func maxBurst(remaining int) int {
	if remaining <= 0 {
		return 1
	}
	return remaining
}

// Headroom returns a bucket's remaining count and seconds to reset.
func (b *Budget) Headroom(name domain.RateLimitBucket) Headroom {
	st := b.bucket(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.remaining < 0 {
		return Headroom{Remaining: -1}
	}
	secondsToReset := int64(st.resetAt.Sub(b.now()).Seconds())
	if secondsToReset < 0 {
		secondsToReset = 0
	}
	return Headroom{Remaining: st.remaining, SecondsToReset: secondsToReset}
}

// Snapshot returns the current headroom for every bucket that has been
// used or observed at least once (an unobserved bucket reports
// Remaining -1).
func (b *Budget) Snapshot() map[domain.RateLimitBucket]Headroom {
	b.mu.Lock()
	names := make([]domain.RateLimitBucket, 0, len(b.buckets))
	for name := range b.buckets {
		names = append(names, name)
	}
	b.mu.Unlock()

	out := make(map[domain.RateLimitBucket]Headroom, len(names))
	for _, name := range names {
		out[name] = b.Headroom(name)
	}
	return out
}
