package feed

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/metrics"
)

// Callback receives updates for one instrument.
type Callback[T any] func(T)

// Registry is the bounded subscription set of one feed. It maps each
// instrument to the callbacks registered for it and fans updates out with
// per-callback fault isolation.
type Registry[T any] struct {
	limit  int
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[domain.InstrumentKey]*registryEntry[T]
}

type registryEntry[T any] struct {
	sub       domain.Subscription
	callbacks []Callback[T]
}

// NewRegistry creates a registry holding at most limit instruments. A limit
// of zero or less means unbounded.
func NewRegistry[T any](limit int, logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[T]{
		limit:   limit,
		logger:  logger.With(slog.String("component", "registry")),
		entries: make(map[domain.InstrumentKey]*registryEntry[T]),
	}
}

// Add records subs and, when cb is non-nil, attaches cb once to every
// distinct instrument among them.
// The batch is all-or-nothing: if the new distinct instruments would push the
// registry past its limit, nothing is added and a *domain.SubscriptionError
// wrapping domain.ErrCapacityExceeded is returned. The returned undo reverts
// exactly this call.
func (r *Registry[T]) Add(subs []domain.Subscription, cb Callback[T]) (undo func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make(map[domain.InstrumentKey]struct{})
	for _, s := range subs {
		k := s.Key()
		if _, ok := r.entries[k]; !ok {
			fresh[k] = struct{}{}
		}
	}
	if r.limit > 0 && len(r.entries)+len(fresh) > r.limit {
		return nil, &domain.SubscriptionError{
			Err: fmt.Errorf("%d subscribed + %d new > limit %d: %w",
				len(r.entries), len(fresh), r.limit, domain.ErrCapacityExceeded),
		}
	}

	type prior struct {
		mode domain.Mode
		n    int
	}
	before := make(map[domain.InstrumentKey]prior, len(subs))
	attached := make(map[domain.InstrumentKey]struct{}, len(subs))

	for _, s := range subs {
		k := s.Key()
		e, ok := r.entries[k]
		if !ok {
			e = &registryEntry[T]{sub: s}
			r.entries[k] = e
		} else if _, seen := before[k]; !seen {
			if _, added := fresh[k]; !added {
				before[k] = prior{mode: e.sub.Mode, n: len(e.callbacks)}
			}
		}
		e.sub.Mode = s.Mode
		if _, done := attached[k]; done || cb == nil {
			continue
		}
		attached[k] = struct{}{}
		e.callbacks = append(e.callbacks, cb)
	}

	undo = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for k := range fresh {
			delete(r.entries, k)
		}
		for k, p := range before {
			if e, ok := r.entries[k]; ok {
				e.sub.Mode = p.mode
				if len(e.callbacks) > p.n {
					e.callbacks = e.callbacks[:p.n]
				}
			}
		}
	}
	return undo, nil
}

// Remove deletes the given instruments with all their callbacks and returns
// the subscriptions that were present.
func (r *Registry[T]) Remove(keys []domain.InstrumentKey) []domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.Subscription
	for _, k := range keys {
		if e, ok := r.entries[k]; ok {
			removed = append(removed, e.sub)
			delete(r.entries, k)
		}
	}
	return removed
}

// Clear removes every subscription.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[domain.InstrumentKey]*registryEntry[T])
}

// Subscriptions returns the recorded subscriptions ordered by segment and id.
func (r *Registry[T]) Subscriptions() []domain.Subscription {
	r.mu.RLock()
	out := make([]domain.Subscription, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.sub)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Segment != out[j].Segment {
			return out[i].Segment < out[j].Segment
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Contains reports whether key is subscribed.
func (r *Registry[T]) Contains(key domain.InstrumentKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key]
	return ok
}

// Len returns the number of subscribed instruments.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Limit returns the registry's capacity.
func (r *Registry[T]) Limit() int {
	return r.limit
}

// Dispatch delivers v to every callback registered for key and returns how
// many returned normally. Callbacks run outside the registry lock; a callback
// that panics is logged and skipped.
func (r *Registry[T]) Dispatch(key domain.InstrumentKey, v T) int {
	r.mu.RLock()
	e, ok := r.entries[key]
	var callbacks []Callback[T]
	if ok {
		callbacks = make([]Callback[T], len(e.callbacks))
		copy(callbacks, e.callbacks)
	}
	r.mu.RUnlock()

	delivered := 0
	for i, cb := range callbacks {
		if r.invoke(key, i, cb, v) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry[T]) invoke(key domain.InstrumentKey, idx int, cb Callback[T], v T) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.CallbackPanics.Inc()
			r.logger.Error("subscriber callback failed",
				slog.String("instrument", key.String()),
				slog.Int("callback", idx),
				slog.String("error", fmt.Sprint(rec)),
			)
			ok = false
		}
	}()
	cb(v)
	return true
}
