package depth

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

const (
	imbalanceThreshold = 0.3
	imbalanceWeight    = 70
	zoneMargin         = 2
	zoneWeight         = 60
	maxConfidence      = 90
	maxTargets         = 3
	targetMultiple     = 1.5
	stopMultiple       = 2
	stopScanLevels     = 5
)

// IDFunc returns a unique signal id.
type IDFunc func() string

type candidate struct {
	dir    domain.SignalType
	weight float64
	reason string
}

// Zones returns the bid (demand) and ask (supply) levels whose quantity
// exceeds twice the mean quantity of their own side.
func Zones(snap domain.DepthSnapshot) (demand, supply []domain.DepthLevel) {
	return significant(snap.Bid.Populated()), significant(snap.Ask.Populated())
}

func significant(levels []domain.DepthLevel) []domain.DepthLevel {
	if len(levels) == 0 {
		return nil
	}
	var sum float64
	for _, l := range levels {
		sum += float64(l.Quantity)
	}
	avg := sum / float64(len(levels))

	var out []domain.DepthLevel
	for _, l := range levels {
		if float64(l.Quantity) > 2*avg {
			out = append(out, l)
		}
	}
	return out
}

// GenerateSignal derives a directional signal from snap and its metrics.
// Direction is the majority of the imbalance and zone candidates; a tie or no
// candidates gives HOLD.
func GenerateSignal(snap domain.DepthSnapshot, m domain.MicrostructureMetrics, newID IDFunc) domain.TradingSignal {
	demand, supply := Zones(snap)

	var cands []candidate
	switch {
	case m.OrderFlowImbalance > imbalanceThreshold:
		cands = append(cands, candidate{domain.SignalBuy, imbalanceWeight,
			fmt.Sprintf("strong buying pressure (order flow imbalance %.2f)", m.OrderFlowImbalance)})
	case m.OrderFlowImbalance < -imbalanceThreshold:
		cands = append(cands, candidate{domain.SignalSell, imbalanceWeight,
			fmt.Sprintf("strong selling pressure (order flow imbalance %.2f)", m.OrderFlowImbalance)})
	}
	switch {
	case len(demand) > len(supply)+zoneMargin:
		cands = append(cands, candidate{domain.SignalBuy, zoneWeight,
			fmt.Sprintf("%d demand zones against %d supply zones", len(demand), len(supply))})
	case len(supply) > len(demand)+zoneMargin:
		cands = append(cands, candidate{domain.SignalSell, zoneWeight,
			fmt.Sprintf("%d supply zones against %d demand zones", len(supply), len(demand))})
	}

	sig := domain.TradingSignal{
		InstrumentID: snap.InstrumentID,
		Segment:      snap.Segment,
		Type:         domain.SignalHold,
		Reasoning:    []string{},
		Targets:      []float64{},
		Horizon:      horizon(m.Volatility),
		GeneratedAt:  snap.Timestamp,
	}
	if newID != nil {
		sig.ID = newID()
	}

	var buys, sells []candidate
	for _, c := range cands {
		if c.dir == domain.SignalBuy {
			buys = append(buys, c)
		} else {
			sells = append(sells, c)
		}
	}

	var winners []candidate
	switch {
	case len(buys) > len(sells):
		sig.Type, winners = domain.SignalBuy, buys
	case len(sells) > len(buys):
		sig.Type, winners = domain.SignalSell, sells
	}

	if len(winners) > 0 {
		var total float64
		for _, c := range winners {
			total += c.weight
			sig.Reasoning = append(sig.Reasoning, c.reason)
		}
		sig.Strength = total / float64(len(winners))
		sig.Confidence = math.Min(maxConfidence, sig.Strength*m.LiquidityScore/100)
	} else {
		sig.Reasoning = append(sig.Reasoning, "no clear directional bias")
	}

	switch {
	case m.LiquidityScore < 30:
		sig.Reasoning = append(sig.Reasoning, "low liquidity")
	case m.LiquidityScore > 70:
		sig.Reasoning = append(sig.Reasoning, "high liquidity")
	}
	if m.MarketEfficiency < 50 {
		sig.Reasoning = append(sig.Reasoning, "irregular level spacing, book may be inefficient")
	}

	sig.Targets = targets(snap, sig.Type)
	sig.StopLoss = stopLoss(snap, sig.Type)
	return sig
}

func horizon(vol float64) domain.TimeHorizon {
	switch {
	case vol > 0.8:
		return domain.HorizonScalp
	case vol > 0.4:
		return domain.HorizonIntraday
	default:
		return domain.HorizonSwing
	}
}

// targets lists up to three opposite-side prices, nearest first, whose size is
// well above the best opposite level.
func targets(snap domain.DepthSnapshot, dir domain.SignalType) []float64 {
	var levels []domain.DepthLevel
	switch dir {
	case domain.SignalBuy:
		levels = snap.Ask.Populated()
	case domain.SignalSell:
		levels = snap.Bid.Populated()
	default:
		return []float64{}
	}
	if len(levels) == 0 {
		return []float64{}
	}

	best := float64(levels[0].Quantity)
	out := []float64{}
	for _, l := range topN(levels, maxTargets) {
		if float64(l.Quantity) > targetMultiple*best {
			out = append(out, l.Price)
		}
	}
	return out
}

// stopLoss places the stop one spread beyond the first large same-side level
// behind the best, or two spreads beyond the best when there is none.
func stopLoss(snap domain.DepthSnapshot, dir domain.SignalType) *float64 {
	spread := snap.Spread()

	var levels []domain.DepthLevel
	var sign float64
	switch dir {
	case domain.SignalBuy:
		levels, sign = snap.Bid.Populated(), -1
	case domain.SignalSell:
		levels, sign = snap.Ask.Populated(), 1
	default:
		return nil
	}
	if len(levels) == 0 {
		return nil
	}

	best := levels[0]
	scan := levels[1:]
	if len(scan) > stopScanLevels {
		scan = scan[:stopScanLevels]
	}
	for _, l := range scan {
		if float64(l.Quantity) > stopMultiple*float64(best.Quantity) {
			v := l.Price + sign*spread
			return &v
		}
	}
	v := best.Price + sign*2*spread
	return &v
}
