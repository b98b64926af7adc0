package app

import (
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/config"
	"github.com/alanyoungcy/depthfeed/internal/domain"
)

func TestPlanInstruments(t *testing.T) {
	cfg := config.Defaults()
	cfg.Instruments = []config.InstrumentConfig{
		{Segment: "NSE_EQ", SecurityID: 1333, Mode: "depth"},
		{Segment: "NSE_FNO", SecurityID: 35001, Mode: "depth"},
		{Segment: "IDX_I", SecurityID: 13},
		{Segment: "MCX_COMM", SecurityID: 426, Mode: "quote"},
		{Segment: "BSE_EQ", SecurityID: 500325, Mode: "ticker"},
	}

	plan, err := planInstruments(&cfg)
	if err != nil {
		t.Fatalf("planInstruments: %v", err)
	}
	if len(plan.depth) != 2 || plan.depth[1].Key() != domain.Key(domain.SegmentNSEFNO, 35001) {
		t.Errorf("depth = %+v", plan.depth)
	}
	if got := plan.ticker[domain.ModeTicker]; len(got) != 2 {
		t.Errorf("ticker = %+v, want the empty-mode and explicit ticker entries", got)
	}
	if got := plan.ticker[domain.ModeQuote]; len(got) != 1 || got[0].Segment != domain.SegmentMCXComm {
		t.Errorf("quote = %+v", got)
	}
	if _, ok := plan.ticker[domain.ModeDepth]; ok {
		t.Error("depth instruments leaked into the market plan")
	}
}

func TestPlanInstrumentsRejectsUnknownSegment(t *testing.T) {
	cfg := config.Defaults()
	cfg.Instruments = []config.InstrumentConfig{{Segment: "LSE", SecurityID: 1}}
	if _, err := planInstruments(&cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestFeedAndDepthConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Depth.ExpirySweep = true

	fc := feedConfig(&cfg)
	if fc.ConnectTimeout != 10*time.Second || fc.ReconnectAttempts != 5 || fc.ErrorWindow != 5*time.Minute {
		t.Errorf("feed config = %+v", fc)
	}
	if fc.QueueSize != cfg.Feed.QueueSize || fc.RateWarnPerSec != cfg.Feed.RateWarnPerSec {
		t.Errorf("feed config = %+v", fc)
	}

	dc := depthConfig(&cfg)
	if dc.BufferWindow != time.Second || dc.Limit != 50 || !dc.ExpirySweep || dc.HistoryCapacity != 100 {
		t.Errorf("depth config = %+v", dc)
	}
}

func TestAlertGate(t *testing.T) {
	g := newAlertGate(time.Minute)
	key := domain.Key(domain.SegmentNSEEquity, 1333)
	t0 := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	steps := []struct {
		dir  domain.SignalType
		at   time.Time
		want bool
	}{
		{domain.SignalBuy, t0, true},
		{domain.SignalBuy, t0.Add(30 * time.Second), false},
		{domain.SignalSell, t0.Add(30 * time.Second), true},
		{domain.SignalBuy, t0.Add(time.Minute), true},
	}
	for i, s := range steps {
		if got := g.allow(key, s.dir, s.at); got != s.want {
			t.Errorf("step %d: allow = %v, want %v", i, got, s.want)
		}
	}
	if !g.allow(domain.Key(domain.SegmentNSEFNO, 1333), domain.SignalBuy, t0) {
		t.Error("other instrument blocked")
	}
}

func TestStrongSignalAlert(t *testing.T) {
	stop := 99.5
	a := strongSignalAlert(domain.TradingSignal{
		InstrumentID: 1333,
		Segment:      domain.SegmentNSEEquity,
		Type:         domain.SignalBuy,
		Strength:     0.7,
		Confidence:   0.85,
		Horizon:      domain.HorizonScalp,
		Targets:      []float64{101},
		StopLoss:     &stop,
		Reasoning:    []string{"strong bid imbalance"},
	})
	if a.Event != "strong_signal" || a.Title != "BUY NSE_EQ:1333" {
		t.Errorf("alert = %+v", a)
	}
	for _, want := range []string{"confidence 0.85", "stop 99.50", "- strong bid imbalance"} {
		if !strings.Contains(a.Body, want) {
			t.Errorf("body %q missing %q", a.Body, want)
		}
	}
}
