package scheduler

import (
	"errors"
	"math"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/store"
)

// Ledger caches the per-user, per-category YTD counters. Each user has its
// own shard so cross-user updates never contend. The store stays
// authoritative: counters are synced from every planning snapshot and from
// fresh user reads inside the user's critical section, and updated only
// after a commit succeeded.
type Ledger struct {
	shards *xsync.MapOf[string, *ledgerShard]
	caps   map[models.Category]float64
}

type ledgerShard struct {
	mu       sync.Mutex
	counters map[models.Category]models.Counters
}

// NewLedger creates a ledger with the given weekly caps per category
func NewLedger(caps map[models.Category]float64) *Ledger {
	c := make(map[models.Category]float64, len(caps))
	for k, v := range caps {
		c[k.Normalize()] = v
	}
	return &Ledger{shards: xsync.NewMapOf[string, *ledgerShard](), caps: c}
}

func newShard(u *models.User) *ledgerShard {
	s := &ledgerShard{counters: make(map[models.Category]models.Counters, len(u.YTD))}
	for cat, c := range u.YTD {
		s.counters[cat.Normalize()] = c
	}
	return s
}

func (l *Ledger) shard(userID string) *ledgerShard {
	if s, ok := l.shards.Load(userID); ok {
		return s
	}
	s, _ := l.shards.LoadOrStore(userID, &ledgerShard{counters: make(map[models.Category]models.Counters)})
	return s
}

// Sync replaces a user's counters with the given fresh read
func (l *Ledger) Sync(u *models.User) {
	l.shards.Store(u.ID, newShard(u))
}

// Cap returns the weekly cap of a category, 0 when uncapped
func (l *Ledger) Cap(cat models.Category) float64 {
	return l.caps[cat.Normalize()]
}

// Read returns a user's counters for a category
func (l *Ledger) Read(userID string, cat models.Category) models.Counters {
	s, ok := l.shards.Load(userID)
	if !ok {
		return models.Counters{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[cat.Normalize()]
}

// Snapshot returns a copy of all counters of a user
func (l *Ledger) Snapshot(userID string) map[models.Category]models.Counters {
	out := make(map[models.Category]models.Counters)
	s, ok := l.shards.Load(userID)
	if !ok {
		return out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Delta builds a signed ledger delta carrying the category cap
func (l *Ledger) Delta(userID string, cat models.Category, amount models.Counters) models.YTDDelta {
	cat = cat.Normalize()
	return models.YTDDelta{UserID: userID, Category: cat, Weeks: amount.Weeks, Hours: amount.Hours, Cap: l.caps[cat]}
}

// Check validates a set of deltas against the cached counters without
// applying them. Deltas for the same user and category accumulate.
func (l *Ledger) Check(deltas []models.YTDDelta) error {
	type key struct {
		user string
		cat  models.Category
	}
	running := make(map[key]models.Counters)
	for _, d := range deltas {
		k := key{d.UserID, d.Category.Normalize()}
		cur, ok := running[k]
		if !ok {
			cur = l.Read(d.UserID, d.Category)
		}
		if err := store.CheckDelta(cur, d); err != nil {
			return ledgerError(d, err)
		}
		running[k] = cur.Add(d.Counters())
	}
	return nil
}

// Increment adds amount to a user's counters, rejecting cap overruns
func (l *Ledger) Increment(userID string, cat models.Category, amount models.Counters) error {
	d := l.Delta(userID, cat, amount)
	s := l.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.CheckDelta(s.counters[d.Category], d); err != nil {
		return ledgerError(d, err)
	}
	s.counters[d.Category] = s.counters[d.Category].Add(amount)
	return nil
}

// Apply adds committed deltas to the cache
func (l *Ledger) Apply(deltas []models.YTDDelta) {
	for _, d := range deltas {
		s := l.shard(d.UserID)
		s.mu.Lock()
		cat := d.Category.Normalize()
		s.counters[cat] = s.counters[cat].Add(d.Counters())
		s.mu.Unlock()
	}
}

func ledgerError(d models.YTDDelta, err error) error {
	if errors.Is(err, store.ErrCapExceeded) {
		return invalid(ReasonCapExceeded, "user %s would exceed %.0f %s weeks", d.UserID, d.Cap, d.Category)
	}
	return invalid(ReasonInvalidTransition, "user %s %s counters: %v", d.UserID, d.Category, err)
}

// mergeDeltas nets deltas per user and category, dropping those that cancel
// out, so an exchange within one category is never checked against the cap
// halfway through
func mergeDeltas(deltas []models.YTDDelta) []models.YTDDelta {
	type key struct {
		user string
		cat  models.Category
	}
	var order []key
	sums := make(map[key]models.YTDDelta)
	for _, d := range deltas {
		k := key{d.UserID, d.Category.Normalize()}
		cur, ok := sums[k]
		if !ok {
			order = append(order, k)
			cur = models.YTDDelta{UserID: d.UserID, Category: k.cat, Cap: d.Cap}
		}
		cur.Weeks += d.Weeks
		cur.Hours += d.Hours
		sums[k] = cur
	}
	out := make([]models.YTDDelta, 0, len(order))
	for _, k := range order {
		d := sums[k]
		if math.Abs(d.Weeks) < 1e-9 && math.Abs(d.Hours) < 1e-9 {
			continue
		}
		out = append(out, d)
	}
	return out
}
