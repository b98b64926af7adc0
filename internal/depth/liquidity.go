package depth

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// optimalSizeFallback is the share of total liquidity suggested when the
// impact curve has no sharp step.
const optimalSizeFallback = 0.25

// AnalyzeLiquidity profiles how size is distributed across the combined book.
func AnalyzeLiquidity(snap domain.DepthSnapshot) domain.LiquidityAnalysis {
	levels := append(append([]domain.DepthLevel(nil), snap.Bid.Populated()...), snap.Ask.Populated()...)

	var total uint64
	qtys := make([]float64, len(levels))
	for i, l := range levels {
		total += uint64(l.Quantity)
		qtys[i] = float64(l.Quantity)
	}

	out := domain.LiquidityAnalysis{
		TotalLiquidity: total,
		ImpactCurve:    []domain.ImpactPoint{},
	}
	if total == 0 {
		return out
	}

	out.TopFivePct = bandShare(snap, 0, 5, total)
	out.MiddleTenPct = bandShare(snap, 5, 15, total)
	out.BottomFivePct = bandShare(snap, 15, domain.DepthLevels, total)
	out.ImpactCurve = impactCurve(levels)
	out.OptimalOrderSize = optimalSize(out.ImpactCurve, total)
	if cv, ok := coefficientOfVariation(qtys); ok {
		out.FragmentationScore = math.Min(cv*100, 100)
	}
	return out
}

func bandShare(snap domain.DepthSnapshot, from, to int, total uint64) float64 {
	var sum uint64
	for _, side := range []domain.SideSnapshot{snap.Bid, snap.Ask} {
		for i := from; i < to && i < len(side.Levels); i++ {
			sum += uint64(side.Levels[i].Quantity)
		}
	}
	return float64(sum) / float64(total) * 100
}

// impactCurve walks the combined levels in price order and records cumulative
// size against the relative distance from the middle price.
func impactCurve(levels []domain.DepthLevel) []domain.ImpactPoint {
	sorted := append([]domain.DepthLevel(nil), levels...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	base := sorted[len(sorted)/2].Price
	curve := make([]domain.ImpactPoint, 0, len(sorted))
	var cum uint64
	for _, l := range sorted {
		cum += uint64(l.Quantity)
		impact := 0.0
		if base > 0 {
			impact = math.Abs(l.Price-base) / base
		}
		curve = append(curve, domain.ImpactPoint{Quantity: cum, Impact: impact})
	}
	return curve
}

func optimalSize(curve []domain.ImpactPoint, total uint64) uint64 {
	for i := 1; i < len(curve); i++ {
		if curve[i].Impact > curve[i-1].Impact*1.5 {
			return curve[i-1].Quantity
		}
	}
	return uint64(float64(total) * optimalSizeFallback)
}

// Summarize describes the book for status endpoints. now stamps the summary.
func Summarize(snap domain.DepthSnapshot, now time.Time) domain.DepthSummary {
	bids, asks := snap.Bid.Populated(), snap.Ask.Populated()
	s := domain.DepthSummary{
		TotalBidQuantity: snap.Bid.TotalQuantity(),
		TotalAskQuantity: snap.Ask.TotalQuantity(),
		DemandZones:      []float64{},
		SupplyZones:      []float64{},
		ComputedAt:       now,
	}
	if s.TotalAskQuantity > 0 {
		r := float64(s.TotalBidQuantity) / float64(s.TotalAskQuantity)
		s.BidAskRatio = &r
	}
	s.StrongestBid, s.WeakestBid = extremes(bids)
	s.StrongestAsk, s.WeakestAsk = extremes(asks)

	demand, supply := Zones(snap)
	for _, l := range demand {
		s.DemandZones = append(s.DemandZones, l.Price)
	}
	for _, l := range supply {
		s.SupplyZones = append(s.SupplyZones, l.Price)
	}
	return s
}

func extremes(levels []domain.DepthLevel) (strongest, weakest domain.DepthLevel) {
	if len(levels) == 0 {
		return
	}
	strongest, weakest = levels[0], levels[0]
	for _, l := range levels[1:] {
		if l.Quantity > strongest.Quantity {
			strongest = l
		}
		if l.Quantity < weakest.Quantity {
			weakest = l
		}
	}
	return
}
