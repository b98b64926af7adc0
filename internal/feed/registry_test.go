package feed

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

func depthSubs(from, n int) []domain.Subscription {
	out := make([]domain.Subscription, n)
	for i := range out {
		out[i] = domain.Subscription{
			Instrument: domain.Instrument{ID: uint32(from + i), Segment: domain.SegmentNSEEquity},
			Mode:       domain.ModeDepth,
		}
	}
	return out
}

func TestRegistryRejectsPastLimit(t *testing.T) {
	r := NewRegistry[int](50, nil)

	if _, err := r.Add(depthSubs(1, 50), nil); err != nil {
		t.Fatalf("add 50: %v", err)
	}
	_, err := r.Add(depthSubs(51, 1), nil)
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	var se *domain.SubscriptionError
	if !errors.As(err, &se) {
		t.Errorf("err is %T, want *domain.SubscriptionError", err)
	}
	if r.Len() != 50 {
		t.Errorf("len = %d, want 50", r.Len())
	}
	if r.Contains(domain.Key(domain.SegmentNSEEquity, 51)) {
		t.Error("rejected instrument was added")
	}

	// Re-adding known instruments does not count against the limit.
	if _, err := r.Add(depthSubs(1, 10), nil); err != nil {
		t.Errorf("re-add existing: %v", err)
	}
}

func TestRegistryBatchIsAllOrNothing(t *testing.T) {
	r := NewRegistry[int](5, nil)
	if _, err := r.Add(depthSubs(1, 3), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Add(depthSubs(3, 4), nil); err == nil {
		t.Fatal("expected capacity error for 3 new instruments over 2 free slots")
	}
	if r.Len() != 3 {
		t.Errorf("len = %d, want 3", r.Len())
	}
}

func TestRegistryUndo(t *testing.T) {
	r := NewRegistry[int](0, nil)
	key := domain.Key(domain.SegmentNSEEquity, 1)

	var got []int
	if _, err := r.Add(depthSubs(1, 1), func(v int) { got = append(got, v) }); err != nil {
		t.Fatal(err)
	}
	undo, err := r.Add(depthSubs(1, 2), func(v int) { got = append(got, -v) })
	if err != nil {
		t.Fatal(err)
	}
	undo()

	if r.Len() != 1 || !r.Contains(key) {
		t.Fatalf("after undo: len %d, contains %v", r.Len(), r.Contains(key))
	}
	r.Dispatch(key, 7)
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("callbacks after undo received %v, want [7]", got)
	}
}

func TestRegistryDispatchIsolatesPanics(t *testing.T) {
	r := NewRegistry[string](0, nil)
	key := domain.Key(domain.SegmentNSEEquity, 1)

	var second []string
	if _, err := r.Add(depthSubs(1, 1), func(string) { panic("subscriber bug") }); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Add(depthSubs(1, 1), func(v string) { second = append(second, v) }); err != nil {
		t.Fatal(err)
	}

	if n := r.Dispatch(key, "update"); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if len(second) != 1 || second[0] != "update" {
		t.Errorf("second callback got %v", second)
	}
}

func TestRegistryRemoveAndOrder(t *testing.T) {
	r := NewRegistry[int](0, nil)
	subs := []domain.Subscription{
		{Instrument: domain.Instrument{ID: 9, Segment: domain.SegmentNSEFNO}, Mode: domain.ModeDepth},
		{Instrument: domain.Instrument{ID: 5, Segment: domain.SegmentNSEEquity}, Mode: domain.ModeDepth},
		{Instrument: domain.Instrument{ID: 2, Segment: domain.SegmentNSEFNO}, Mode: domain.ModeDepth},
	}
	if _, err := r.Add(subs, nil); err != nil {
		t.Fatal(err)
	}

	list := r.Subscriptions()
	want := []domain.InstrumentKey{
		domain.Key(domain.SegmentNSEEquity, 5),
		domain.Key(domain.SegmentNSEFNO, 2),
		domain.Key(domain.SegmentNSEFNO, 9),
	}
	for i, k := range want {
		if list[i].Key() != k {
			t.Errorf("subscriptions[%d] = %s, want %s", i, list[i].Key(), k)
		}
	}

	removed := r.Remove([]domain.InstrumentKey{want[0], domain.Key(domain.SegmentBSEEquity, 1)})
	if len(removed) != 1 || removed[0].Key() != want[0] {
		t.Errorf("removed = %v", removed)
	}
	if r.Len() != 2 {
		t.Errorf("len = %d, want 2", r.Len())
	}
}

func TestRegistryAddCollapsesRepeatedInstrument(t *testing.T) {
	r := NewRegistry[int](0, nil)
	s := depthSubs(7, 1)[0]

	calls := 0
	undo, err := r.Add([]domain.Subscription{s, s}, func(int) { calls++ })
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
	if n := r.Dispatch(s.Key(), 1); n != 1 || calls != 1 {
		t.Errorf("delivered = %d, calls = %d, want 1", n, calls)
	}

	undo()
	if r.Contains(s.Key()) {
		t.Error("undo left the instrument subscribed")
	}
}

func TestRegistryUndoRepeatedInstrumentOnExistingEntry(t *testing.T) {
	r := NewRegistry[int](0, nil)
	s := depthSubs(7, 1)[0]

	var got []int
	if _, err := r.Add([]domain.Subscription{s}, func(v int) { got = append(got, v) }); err != nil {
		t.Fatal(err)
	}
	undo, err := r.Add([]domain.Subscription{s, s}, func(v int) { got = append(got, -v) })
	if err != nil {
		t.Fatal(err)
	}
	r.Dispatch(s.Key(), 1)
	if len(got) != 2 {
		t.Fatalf("before undo got %v, want one delivery per callback", got)
	}

	undo()
	got = nil
	r.Dispatch(s.Key(), 2)
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("after undo got %v, want [2]", got)
	}
}
