package depth

import (
	"math"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

var t0 = time.Date(2025, 3, 14, 9, 15, 0, 0, time.UTC)

func lvl(price float64, qty, orders uint32) domain.DepthLevel {
	return domain.DepthLevel{Price: price, Quantity: qty, Orders: orders}
}

func side(s domain.Side, at time.Time, levels ...domain.DepthLevel) domain.SideSnapshot {
	return domain.SideSnapshot{
		Side:         s,
		InstrumentID: 1333,
		Segment:      domain.SegmentNSEEquity,
		Levels:       domain.NormalizeLevels(s, levels),
		CapturedAt:   at,
	}
}

func book(bids, asks []domain.DepthLevel) domain.DepthSnapshot {
	return domain.DepthSnapshot{
		InstrumentID: 1333,
		Segment:      domain.SegmentNSEEquity,
		Bid:          side(domain.SideBid, t0, bids...),
		Ask:          side(domain.SideAsk, t0, asks...),
		Timestamp:    t0,
	}
}

// ladder builds n levels stepping by step from start, all with qty and orders.
func ladder(start, step float64, n int, qty, orders uint32) []domain.DepthLevel {
	out := make([]domain.DepthLevel, n)
	for i := range out {
		out[i] = lvl(start+float64(i)*step, qty, orders)
	}
	return out
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
