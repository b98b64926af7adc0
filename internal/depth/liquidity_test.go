package depth

import (
	"testing"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

func TestAnalyzeLiquidityUniformBook(t *testing.T) {
	snap := book(ladder(100, -1, 20, 100, 1), ladder(101, 1, 20, 100, 1))
	la := AnalyzeLiquidity(snap)

	if la.TotalLiquidity != 4000 {
		t.Fatalf("total = %d, want 4000", la.TotalLiquidity)
	}
	bands := []struct {
		name string
		got  float64
		want float64
	}{
		{"top five", la.TopFivePct, 25},
		{"middle ten", la.MiddleTenPct, 50},
		{"bottom five", la.BottomFivePct, 25},
	}
	for _, b := range bands {
		if !approx(b.got, b.want) {
			t.Errorf("%s = %v%%, want %v%%", b.name, b.got, b.want)
		}
	}
	if la.FragmentationScore != 0 {
		t.Errorf("fragmentation = %v, want 0 for equal sizes", la.FragmentationScore)
	}
	if len(la.ImpactCurve) != 40 {
		t.Fatalf("impact curve has %d points, want 40", len(la.ImpactCurve))
	}
	for i := 1; i < len(la.ImpactCurve); i++ {
		if la.ImpactCurve[i].Quantity <= la.ImpactCurve[i-1].Quantity {
			t.Fatalf("cumulative quantity not increasing at %d", i)
		}
	}
	if last := la.ImpactCurve[len(la.ImpactCurve)-1].Quantity; last != 4000 {
		t.Errorf("last cumulative quantity = %d, want 4000", last)
	}
}

func TestAnalyzeLiquidityEmptyBook(t *testing.T) {
	la := AnalyzeLiquidity(book(nil, nil))
	if la.TotalLiquidity != 0 || len(la.ImpactCurve) != 0 || la.OptimalOrderSize != 0 {
		t.Errorf("empty book analysis = %+v", la)
	}
}

func TestOptimalSize(t *testing.T) {
	tests := []struct {
		name  string
		curve []domain.ImpactPoint
		total uint64
		want  uint64
	}{
		{
			name:  "step in impact",
			curve: []domain.ImpactPoint{{Quantity: 10, Impact: 0.01}, {Quantity: 20, Impact: 0.012}, {Quantity: 30, Impact: 0.05}},
			total: 30,
			want:  20,
		},
		{
			name:  "flat curve falls back to a quarter",
			curve: []domain.ImpactPoint{{Quantity: 100, Impact: 0}, {Quantity: 400, Impact: 0}},
			total: 400,
			want:  100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := optimalSize(tt.curve, tt.total); got != tt.want {
				t.Errorf("optimalSize = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	now := t0.Add(time.Minute)
	bids := []domain.DepthLevel{lvl(100, 50, 1), lvl(99, 400, 4), lvl(98, 20, 1), lvl(97, 30, 1)}
	asks := []domain.DepthLevel{lvl(101, 100, 2), lvl(102, 100, 2)}

	s := Summarize(book(bids, asks), now)

	if s.TotalBidQuantity != 500 || s.TotalAskQuantity != 200 {
		t.Errorf("totals = %d/%d, want 500/200", s.TotalBidQuantity, s.TotalAskQuantity)
	}
	if s.BidAskRatio == nil || !approx(*s.BidAskRatio, 2.5) {
		t.Errorf("ratio = %v, want 2.5", s.BidAskRatio)
	}
	if s.StrongestBid.Price != 99 || s.WeakestBid.Price != 98 {
		t.Errorf("strongest/weakest bid = %v/%v, want 99/98", s.StrongestBid.Price, s.WeakestBid.Price)
	}
	if len(s.DemandZones) != 1 || s.DemandZones[0] != 99 {
		t.Errorf("demand zones = %v, want [99]", s.DemandZones)
	}
	if !s.ComputedAt.Equal(now) {
		t.Errorf("computed at %v, want %v", s.ComputedAt, now)
	}

	oneSided := Summarize(book(bids, nil), now)
	if oneSided.BidAskRatio != nil {
		t.Errorf("ratio = %v with empty ask side, want nil", *oneSided.BidAskRatio)
	}
}
