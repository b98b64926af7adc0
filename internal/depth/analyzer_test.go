package depth

import (
	"testing"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

func TestOrderFlowImbalance(t *testing.T) {
	tests := []struct {
		name string
		bids []domain.DepthLevel
		asks []domain.DepthLevel
		want float64
	}{
		{"empty book", nil, nil, 0},
		{"balanced", ladder(100, -1, 5, 200, 2), ladder(101, 1, 5, 200, 2), 0},
		{"bid only", ladder(100, -1, 5, 200, 2), nil, 1},
		{"ask only", nil, ladder(101, 1, 4, 50, 1), -1},
		{"three to one", ladder(100, -1, 3, 100, 1), ladder(101, 1, 1, 100, 1), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OrderFlowImbalance(book(tt.bids, tt.asks))
			if !approx(got, tt.want) {
				t.Errorf("OrderFlowImbalance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderFlowImbalanceApproachesOne(t *testing.T) {
	prev := -1.0
	for _, askQty := range []uint32{1000, 100, 10, 1} {
		got := OrderFlowImbalance(book(ladder(100, -1, 1, 1000000, 1), ladder(101, 1, 1, askQty, 1)))
		if got <= prev || got > 1 {
			t.Fatalf("imbalance %v with ask qty %d, previous %v", got, askQty, prev)
		}
		prev = got
	}
	if prev < 0.9999 {
		t.Errorf("imbalance with ask qty 1 = %v, want close to 1", prev)
	}
}

func TestPriceImpact(t *testing.T) {
	tests := []struct {
		name string
		qty  uint32
		want float64
	}{
		{"thin book saturates", 1000, 1},
		{"deep book", 10000, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := book(ladder(100, -1, 5, tt.qty, 1), ladder(101, 1, 5, tt.qty, 1))
			if got := PriceImpact(snap); !approx(got, tt.want) {
				t.Errorf("PriceImpact = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLiquidityScore(t *testing.T) {
	t.Run("empty side scores zero", func(t *testing.T) {
		if got := LiquidityScore(book(ladder(100, -1, 5, 500, 5), nil)); got != 0 {
			t.Errorf("LiquidityScore = %v, want 0", got)
		}
	})

	t.Run("uniform deep book scores full", func(t *testing.T) {
		snap := book(ladder(100, -1, 20, 1000, 50), ladder(101, 1, 20, 1000, 50))
		if got := LiquidityScore(snap); !approx(got, 100) {
			t.Errorf("LiquidityScore = %v, want 100", got)
		}
	})

	t.Run("non-decreasing in total quantity", func(t *testing.T) {
		prev := -1.0
		for k := uint32(1); k <= 40; k++ {
			bids := []domain.DepthLevel{lvl(100, 10*k, 3), lvl(99, 30*k, 3), lvl(98, 20*k, 3)}
			asks := []domain.DepthLevel{lvl(101, 15*k, 3), lvl(102, 25*k, 3)}
			got := LiquidityScore(book(bids, asks))
			if got+1e-9 < prev {
				t.Fatalf("score dropped from %v to %v at scale %d", prev, got, k)
			}
			if got < 0 || got > 100 {
				t.Fatalf("score %v out of range", got)
			}
			prev = got
		}
	})
}

func TestMarketEfficiency(t *testing.T) {
	tests := []struct {
		name string
		bids []domain.DepthLevel
		asks []domain.DepthLevel
		want float64
	}{
		{"single level side", ladder(100, -1, 1, 10, 1), ladder(101, 1, 5, 10, 1), 50},
		{"even spacing", ladder(100, -1, 10, 10, 1), ladder(101, 1, 10, 10, 1), 100},
		{
			// bid gaps 1,3 -> 1-(3-1)/2 = 0; ask gaps even -> 1
			"one irregular side",
			[]domain.DepthLevel{lvl(100, 10, 1), lvl(99, 10, 1), lvl(96, 10, 1)},
			ladder(101, 1, 3, 10, 1),
			50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MarketEfficiency(book(tt.bids, tt.asks)); !approx(got, tt.want) {
				t.Errorf("MarketEfficiency = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVolatility(t *testing.T) {
	withMid := func(mid float64) domain.DepthSnapshot {
		return book([]domain.DepthLevel{lvl(mid-0.5, 10, 1)}, []domain.DepthLevel{lvl(mid+0.5, 10, 1)})
	}

	tests := []struct {
		name string
		mids []float64
		want float64
	}{
		{"no history", nil, 0.5},
		{"single entry", []float64{100}, 0.5},
		{"flat", []float64{100, 100, 100}, 0},
		{"small moves", []float64{100, 100.1}, 0.1},
		{"large moves capped", []float64{100, 105, 100}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hist []domain.DepthSnapshot
			for _, m := range tt.mids {
				hist = append(hist, withMid(m))
			}
			if got := Volatility(hist); !approx(got, tt.want) {
				t.Errorf("Volatility = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVolatilityUsesRecentWindow(t *testing.T) {
	var hist []domain.DepthSnapshot
	// An early jump followed by ten flat snapshots falls out of the window.
	mids := []float64{50, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100}
	for _, m := range mids {
		hist = append(hist, book([]domain.DepthLevel{lvl(m-0.5, 1, 1)}, []domain.DepthLevel{lvl(m+0.5, 1, 1)}))
	}
	if got := Volatility(hist); got != 0 {
		t.Errorf("Volatility = %v, want 0", got)
	}
}

func TestAnalyzeRanges(t *testing.T) {
	snap := book(
		[]domain.DepthLevel{lvl(100, 900, 4), lvl(99.5, 20, 1), lvl(97, 5000, 30)},
		[]domain.DepthLevel{lvl(100.5, 10, 1), lvl(103, 70, 2)},
	)
	m := Analyze(snap, []domain.DepthSnapshot{snap})

	checks := []struct {
		name   string
		v      float64
		lo, hi float64
	}{
		{"order flow imbalance", m.OrderFlowImbalance, -1, 1},
		{"price impact", m.PriceImpact, 0, 1},
		{"liquidity score", m.LiquidityScore, 0, 100},
		{"market efficiency", m.MarketEfficiency, 0, 100},
		{"volatility", m.Volatility, 0, 1},
	}
	for _, c := range checks {
		if c.v < c.lo || c.v > c.hi {
			t.Errorf("%s = %v, want within [%v, %v]", c.name, c.v, c.lo, c.hi)
		}
	}
}
