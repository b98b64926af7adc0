package domain

import (
	"fmt"
	"sort"
	"time"
)

// DepthLevels is the number of price levels per side on the 20-level depth
// feed.
const DepthLevels = 20

// Side is the book side of a depth frame.
type Side uint8

const (
	SideBid Side = iota + 1
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "BID"
	case SideAsk:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the side by name.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a side name.
func (s *Side) UnmarshalText(text []byte) error {
	switch string(text) {
	case "BID":
		*s = SideBid
	case "ASK":
		*s = SideAsk
	default:
		return fmt.Errorf("unknown book side %q", text)
	}
	return nil
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// DepthLevel is a single price/quantity/order-count entry on one side of the
// book. Values are copied, never mutated after decoding.
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity uint32  `json:"quantity"`
	Orders   uint32  `json:"orders"`
}

// Empty reports whether the level carries no resting quantity.
func (l DepthLevel) Empty() bool {
	return l.Quantity == 0 && l.Price == 0
}

// SideSnapshot is one decoded side of the book for an instrument.
type SideSnapshot struct {
	Side         Side         `json:"side"`
	InstrumentID uint32       `json:"instrument_id"`
	Segment      Segment      `json:"segment"`
	Sequence     uint32       `json:"sequence"`
	Levels       []DepthLevel `json:"levels"`
	CapturedAt   time.Time    `json:"captured_at"`
}

// Key returns the instrument key of the side.
func (s SideSnapshot) Key() InstrumentKey {
	return Key(s.Segment, s.InstrumentID)
}

// Best returns the top-of-book level, or a zero level when the side is empty.
func (s SideSnapshot) Best() DepthLevel {
	if len(s.Levels) == 0 {
		return DepthLevel{}
	}
	return s.Levels[0]
}

// Populated returns the leading levels that carry a price or quantity.
// Padding levels always trail, so this is a prefix of Levels.
func (s SideSnapshot) Populated() []DepthLevel {
	n := 0
	for n < len(s.Levels) && !s.Levels[n].Empty() {
		n++
	}
	return s.Levels[:n]
}

// TotalQuantity sums quantity across all levels.
func (s SideSnapshot) TotalQuantity() uint64 {
	var total uint64
	for _, l := range s.Levels {
		total += uint64(l.Quantity)
	}
	return total
}

// TotalOrders sums order counts across all levels.
func (s SideSnapshot) TotalOrders() uint64 {
	var total uint64
	for _, l := range s.Levels {
		total += uint64(l.Orders)
	}
	return total
}

// NormalizeLevels pads levels to exactly DepthLevels entries and orders the
// populated ones by price priority: descending for bids, ascending for asks.
// Empty levels are moved behind the populated ones. The input is not modified.
func NormalizeLevels(side Side, levels []DepthLevel) []DepthLevel {
	out := make([]DepthLevel, DepthLevels)
	copy(out, levels)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Empty() != b.Empty() {
			return !a.Empty()
		}
		if a.Empty() {
			return false
		}
		if side == SideBid {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	})
	return out
}

// DepthSnapshot is a timestamp-aligned pair of bid and ask sides for one
// instrument.
type DepthSnapshot struct {
	InstrumentID uint32       `json:"instrument_id"`
	Segment      Segment      `json:"segment"`
	Bid          SideSnapshot `json:"bid"`
	Ask          SideSnapshot `json:"ask"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Key returns the instrument key of the snapshot.
func (d DepthSnapshot) Key() InstrumentKey {
	return Key(d.Segment, d.InstrumentID)
}

// BestBid returns the best bid price.
func (d DepthSnapshot) BestBid() float64 { return d.Bid.Best().Price }

// BestAsk returns the best ask price.
func (d DepthSnapshot) BestAsk() float64 { return d.Ask.Best().Price }

// Spread returns best ask minus best bid.
func (d DepthSnapshot) Spread() float64 { return d.BestAsk() - d.BestBid() }

// Mid returns the mid price of the best levels.
func (d DepthSnapshot) Mid() float64 { return (d.BestBid() + d.BestAsk()) / 2 }
