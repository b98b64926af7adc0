package feed

import (
	"testing"
	"time"
)

func TestErrorBreaker(t *testing.T) {
	start := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		threshold int
		offsets   []time.Duration
		wantTrip  []bool
	}{
		{
			name:      "trips at threshold",
			threshold: 3,
			offsets:   []time.Duration{0, time.Second, 2 * time.Second},
			wantTrip:  []bool{false, false, true},
		},
		{
			name:      "old errors age out",
			threshold: 3,
			offsets:   []time.Duration{0, time.Second, 6 * time.Minute},
			wantTrip:  []bool{false, false, false},
		},
		{
			name:      "count restarts after a trip",
			threshold: 2,
			offsets:   []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second},
			wantTrip:  []bool{false, true, false, true},
		},
		{
			name:      "disabled",
			threshold: 0,
			offsets:   []time.Duration{0, 0, 0},
			wantTrip:  []bool{false, false, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newErrorBreaker(tt.threshold, 5*time.Minute)
			for i, off := range tt.offsets {
				if got := b.record(start.Add(off)); got != tt.wantTrip[i] {
					t.Errorf("record #%d tripped = %v, want %v", i, got, tt.wantTrip[i])
				}
			}
		})
	}
}

func TestErrorBreakerReset(t *testing.T) {
	b := newErrorBreaker(5, time.Minute)
	now := time.Now()
	b.record(now)
	b.record(now)
	if b.count() != 2 {
		t.Fatalf("count = %d, want 2", b.count())
	}
	b.reset()
	if b.count() != 0 {
		t.Errorf("count after reset = %d, want 0", b.count())
	}
}

func TestConfigZeroValueDisablesRecovery(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.ReconnectAttempts != 0 || cfg.ErrorThreshold != 0 || cfg.RateWarnPerSec != 0 {
		t.Errorf("zero config enabled recovery: %+v", cfg)
	}
	if cfg.ConnectTimeout != DefaultConnectTimeout || cfg.QueueSize != DefaultQueueSize || cfg.ErrorWindow != DefaultErrorWindow {
		t.Errorf("zero sizes not defaulted: %+v", cfg)
	}

	d := DefaultConfig().withDefaults()
	if d.ReconnectAttempts != 5 || d.ReconnectDelay != 5*time.Second || d.ErrorThreshold != 10 {
		t.Errorf("defaults = %d attempts, %v delay, threshold %d", d.ReconnectAttempts, d.ReconnectDelay, d.ErrorThreshold)
	}
}
