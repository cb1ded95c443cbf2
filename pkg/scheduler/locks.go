package scheduler

import (
	"context"
	rand "math/rand"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// LockRegistry hands out exclusive per-user critical sections. Users are
// always locked in ascending id order and a failed attempt releases
// everything it held before backing off, so two operations sharing a user
// can never deadlock.
type LockRegistry struct {
	locks    *xsync.MapOf[string, *sync.Mutex]
	attempts int
	base     time.Duration
	capDur   time.Duration
	onRetry  func()
}

// NewLockRegistry creates a registry retrying up to attempts times with
// jittered backoff between base and capDur
func NewLockRegistry(attempts int, base, capDur time.Duration, onRetry func()) *LockRegistry {
	if attempts < 1 {
		attempts = 1
	}
	if onRetry == nil {
		onRetry = func() {}
	}
	return &LockRegistry{
		locks:    xsync.NewMapOf[string, *sync.Mutex](),
		attempts: attempts,
		base:     base,
		capDur:   capDur,
		onRetry:  onRetry,
	}
}

func (r *LockRegistry) mutex(userID string) *sync.Mutex {
	if mu, ok := r.locks.Load(userID); ok {
		return mu
	}
	mu, _ := r.locks.LoadOrStore(userID, &sync.Mutex{})
	return mu
}

// Acquire enters the critical sections of all given users. The returned
// release func must be called exactly once. ErrContention is returned when
// the sections stay busy for the whole retry budget.
func (r *LockRegistry) Acquire(ctx context.Context, userIDs ...string) (func(), error) {
	ids := sortedUnique(userIDs)
	mus := make([]*sync.Mutex, len(ids))
	for i, id := range ids {
		mus[i] = r.mutex(id)
	}

	var delay time.Duration
	for attempt := 0; attempt < r.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if held := tryLockAll(mus); held {
			return func() {
				for i := len(mus) - 1; i >= 0; i-- {
					mus[i].Unlock()
				}
			}, nil
		}
		if attempt == r.attempts-1 {
			break
		}
		r.onRetry()
		delay = jitterBackoff(delay, r.base, 2.0, r.capDur)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, ErrContention
}

func tryLockAll(mus []*sync.Mutex) bool {
	for i, mu := range mus {
		if !mu.TryLock() {
			for j := i - 1; j >= 0; j-- {
				mus[j].Unlock()
			}
			return false
		}
	}
	return true
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// jitterBackoff computes the next decorrelated-jitter delay from prev,
// bounded by capDur
func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration) time.Duration {
	if base <= 0 {
		base = 5 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}
	span := time.Duration(float64(prev)*mult) - base
	if span <= 0 {
		span = base
	}
	next := base + time.Duration(rand.Int63n(int64(span))) //nolint:gosec // non-crypto backoff jitter
	if capDur > 0 && next > capDur {
		return capDur
	}
	return next
}
