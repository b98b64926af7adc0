// Package depth turns one-sided 20-level book frames into two-sided
// snapshots and derives microstructure metrics, trading signals and
// liquidity profiles from them.
package depth

import (
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// DefaultBufferWindow is the maximum gap between the bid and ask frames of a
// snapshot.
const DefaultBufferWindow = time.Second

type pendingPair struct {
	bid     *domain.SideSnapshot
	ask     *domain.SideSnapshot
	updated time.Time
}

// Assembler pairs bid and ask frames per instrument. It holds at most one
// pending frame per side per instrument. A frame is paired with the buffered
// opposite side when their capture times are within the window; an opposite
// side older than the window is discarded.
//
// Assembler is not safe for concurrent use.
type Assembler struct {
	window  time.Duration
	pending map[domain.InstrumentKey]*pendingPair
}

// NewAssembler creates an assembler with the given pairing window. A
// non-positive window selects DefaultBufferWindow.
func NewAssembler(window time.Duration) *Assembler {
	if window <= 0 {
		window = DefaultBufferWindow
	}
	return &Assembler{
		window:  window,
		pending: make(map[domain.InstrumentKey]*pendingPair),
	}
}

// Window returns the pairing window.
func (a *Assembler) Window() time.Duration { return a.window }

// OnSide buffers side and reports a completed snapshot when the opposite side
// is present and fresh. On emit the instrument's buffer is cleared.
func (a *Assembler) OnSide(side domain.SideSnapshot) (domain.DepthSnapshot, bool) {
	key := side.Key()
	p, ok := a.pending[key]
	if !ok {
		p = &pendingPair{}
		a.pending[key] = p
	}

	now := side.CapturedAt
	p.updated = now

	var opposite **domain.SideSnapshot
	switch side.Side {
	case domain.SideBid:
		p.bid = &side
		opposite = &p.ask
	case domain.SideAsk:
		p.ask = &side
		opposite = &p.bid
	default:
		return domain.DepthSnapshot{}, false
	}

	other := *opposite
	if other == nil {
		return domain.DepthSnapshot{}, false
	}
	if absDuration(now.Sub(other.CapturedAt)) > a.window {
		*opposite = nil
		return domain.DepthSnapshot{}, false
	}

	delete(a.pending, key)

	snap := domain.DepthSnapshot{
		InstrumentID: side.InstrumentID,
		Segment:      side.Segment,
		Timestamp:    now,
	}
	if other.CapturedAt.After(now) {
		snap.Timestamp = other.CapturedAt
	}
	if side.Side == domain.SideBid {
		snap.Bid, snap.Ask = side, *other
	} else {
		snap.Bid, snap.Ask = *other, side
	}
	return snap, true
}

// Expire drops every buffered instrument whose last frame is older than the
// window relative to now and returns how many were dropped.
func (a *Assembler) Expire(now time.Time) int {
	n := 0
	for k, p := range a.pending {
		if now.Sub(p.updated) > a.window {
			delete(a.pending, k)
			n++
		}
	}
	return n
}

// Forget drops any buffered frames for key.
func (a *Assembler) Forget(key domain.InstrumentKey) {
	delete(a.pending, key)
}

// Pending returns the number of instruments with a buffered side.
func (a *Assembler) Pending() int { return len(a.pending) }

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
