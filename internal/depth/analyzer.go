package depth

import (
	"math"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// VolatilityLookback is the number of newest history entries used for the
// volatility estimate.
const VolatilityLookback = 10

const (
	defaultVolatility = 0.5
	defaultEfficiency = 50
)

// Analyze computes microstructure metrics for snap. history is the recent
// snapshot window for the same instrument, oldest first; it may include snap
// itself as its newest entry.
func Analyze(snap domain.DepthSnapshot, history []domain.DepthSnapshot) domain.MicrostructureMetrics {
	return domain.MicrostructureMetrics{
		OrderFlowImbalance: OrderFlowImbalance(snap),
		PriceImpact:        PriceImpact(snap),
		LiquidityScore:     LiquidityScore(snap),
		MarketEfficiency:   MarketEfficiency(snap),
		Volatility:         Volatility(history),
	}
}

// OrderFlowImbalance is (bidQty - askQty) / (bidQty + askQty), in [-1, 1].
func OrderFlowImbalance(snap domain.DepthSnapshot) float64 {
	bid := float64(snap.Bid.TotalQuantity())
	ask := float64(snap.Ask.TotalQuantity())
	if bid+ask == 0 {
		return 0
	}
	return (bid - ask) / (bid + ask)
}

// PriceImpact estimates the cost of crossing the spread relative to the
// average size resting in the top five levels of both sides.
func PriceImpact(snap domain.DepthSnapshot) float64 {
	spread := snap.Spread()

	var sum float64
	n := 0
	for _, side := range []domain.SideSnapshot{snap.Bid, snap.Ask} {
		for _, l := range topN(side.Populated(), 5) {
			sum += float64(l.Quantity)
			n++
		}
	}
	if n == 0 || sum == 0 {
		return clamp(spread, 0, 1)
	}
	avg := sum / float64(n)
	return clamp(spread/avg*1000, 0, 1)
}

// LiquidityScore rates book depth on [0, 100] from total size, order count
// and how evenly size is spread across levels.
func LiquidityScore(snap domain.DepthSnapshot) float64 {
	bids, asks := snap.Bid.Populated(), snap.Ask.Populated()
	if len(bids) == 0 || len(asks) == 0 {
		return 0
	}

	qtys := make([]float64, 0, len(bids)+len(asks))
	var totalQty, totalOrders float64
	for _, l := range append(append([]domain.DepthLevel(nil), bids...), asks...) {
		qtys = append(qtys, float64(l.Quantity))
		totalQty += float64(l.Quantity)
		totalOrders += float64(l.Orders)
	}

	qtyScore := math.Min(totalQty/10000, 1) * 50
	orderScore := math.Min(totalOrders/1000, 1) * 30

	distScore := 0.0
	if cv, ok := coefficientOfVariation(qtys); ok {
		distScore = math.Max(0, 20-10*cv)
	}
	return math.Min(100, qtyScore+orderScore+distScore)
}

// MarketEfficiency rates on [0, 100] how regular the price gaps between
// consecutive levels are. A side with fewer than two levels yields 50.
func MarketEfficiency(snap domain.DepthSnapshot) float64 {
	bid, okBid := gapConsistency(snap.Bid.Populated())
	ask, okAsk := gapConsistency(snap.Ask.Populated())
	if !okBid || !okAsk {
		return defaultEfficiency
	}
	return clamp((bid+ask)/2*100, 0, 100)
}

// Volatility is the mean absolute percentage change of the mid price over the
// last ten history entries, scaled by 100 and capped at 1.
func Volatility(history []domain.DepthSnapshot) float64 {
	if len(history) < 2 {
		return defaultVolatility
	}
	if len(history) > VolatilityLookback {
		history = history[len(history)-VolatilityLookback:]
	}

	var sum float64
	n := 0
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1].Mid(), history[i].Mid()
		if prev <= 0 {
			continue
		}
		sum += math.Abs(cur-prev) / prev
		n++
	}
	if n == 0 {
		return defaultVolatility
	}
	return math.Min(sum/float64(n)*100, 1)
}

func gapConsistency(levels []domain.DepthLevel) (float64, bool) {
	if len(levels) < 2 {
		return 0, false
	}
	gaps := make([]float64, 0, len(levels)-1)
	for i := 1; i < len(levels); i++ {
		gaps = append(gaps, math.Abs(levels[i].Price-levels[i-1].Price))
	}
	lo, hi, sum := gaps[0], gaps[0], 0.0
	for _, g := range gaps {
		lo = math.Min(lo, g)
		hi = math.Max(hi, g)
		sum += g
	}
	mean := sum / float64(len(gaps))
	if mean == 0 {
		return 1, true
	}
	return 1 - (hi-lo)/mean, true
}

// coefficientOfVariation returns the population standard deviation over the
// mean. ok is false when the mean is zero.
func coefficientOfVariation(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	m := mean(xs)
	if m == 0 {
		return 0, false
	}
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss/float64(len(xs))) / m, true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func topN(levels []domain.DepthLevel, n int) []domain.DepthLevel {
	if len(levels) > n {
		return levels[:n]
	}
	return levels
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
