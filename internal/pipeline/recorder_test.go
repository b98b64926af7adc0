package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/metrics"
)

type fakeSnapshots struct {
	mu      sync.Mutex
	updates map[domain.InstrumentKey]domain.DepthUpdate
	err     error
}

func (f *fakeSnapshots) SetDepth(_ context.Context, u domain.DepthUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.updates == nil {
		f.updates = make(map[domain.InstrumentKey]domain.DepthUpdate)
	}
	f.updates[u.Key()] = u
	return nil
}

func (f *fakeSnapshots) GetDepth(_ context.Context, key domain.InstrumentKey) (domain.DepthUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.updates[key]
	if !ok {
		return domain.DepthUpdate{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeSnapshots) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeQuotes struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (f *fakeQuotes) SetQuote(_ context.Context, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeQuotes) GetLastPrice(context.Context, domain.InstrumentKey) (float64, time.Time, error) {
	return 0, time.Time{}, domain.ErrNotFound
}

func (f *fakeQuotes) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamed[stream] = append(f.streamed[stream], payload)
	return nil
}

func (f *fakeBus) counts() (published, streamed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published[SignalChannel]), len(f.streamed[SignalStream])
}

type fakeSignalStore struct {
	mu      sync.Mutex
	records []domain.SignalRecord
	batches int
}

func (f *fakeSignalStore) Save(ctx context.Context, sig domain.TradingSignal, m domain.MicrostructureMetrics) error {
	return f.SaveBatch(ctx, []domain.SignalRecord{{Signal: sig, Metrics: m}})
}

func (f *fakeSignalStore) SaveBatch(_ context.Context, recs []domain.SignalRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recs...)
	f.batches++
	return nil
}

func (f *fakeSignalStore) ListRecent(context.Context, *domain.InstrumentKey, domain.ListOpts) ([]domain.SignalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SignalRecord(nil), f.records...), nil
}

func (f *fakeSignalStore) snapshot() []domain.SignalRecord {
	recs, _ := f.ListRecent(context.Background(), nil, domain.ListOpts{})
	return recs
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.FeedEvent
}

func (f *fakeEvents) Log(_ context.Context, feed, event string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, domain.FeedEvent{Feed: feed, Event: event, Detail: detail})
	return nil
}

func (f *fakeEvents) List(context.Context, string, domain.ListOpts) ([]domain.FeedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.FeedEvent(nil), f.events...), nil
}

type putCall struct {
	path        string
	body        []byte
	contentType string
	multipart   bool
}

type fakeBlob struct {
	mu   sync.Mutex
	puts []putCall
	err  error
}

func (f *fakeBlob) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	return f.record(path, data, contentType, false)
}

func (f *fakeBlob) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return f.record(path, data, "", true)
}

func (f *fakeBlob) record(path string, data io.Reader, contentType string, multipart bool) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.puts = append(f.puts, putCall{path: path, body: body, contentType: contentType, multipart: multipart})
	return nil
}

func (f *fakeBlob) calls() []putCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]putCall(nil), f.puts...)
}

func update(id uint32, typ domain.SignalType) domain.DepthUpdate {
	ts := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	return domain.DepthUpdate{
		Snapshot: domain.DepthSnapshot{
			InstrumentID: id,
			Segment:      domain.SegmentNSEEquity,
			Bid:          domain.SideSnapshot{Side: domain.SideBid, InstrumentID: id, Segment: domain.SegmentNSEEquity, Levels: []domain.DepthLevel{{Price: 100, Quantity: 10, Orders: 1}}},
			Ask:          domain.SideSnapshot{Side: domain.SideAsk, InstrumentID: id, Segment: domain.SegmentNSEEquity, Levels: []domain.DepthLevel{{Price: 100.5, Quantity: 10, Orders: 1}}},
			Timestamp:    ts,
		},
		Signal: domain.TradingSignal{
			ID:           "sig-" + string(typ),
			InstrumentID: id,
			Segment:      domain.SegmentNSEEquity,
			Type:         typ,
			GeneratedAt:  ts,
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runRecorder(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("recorder did not stop")
		}
	})
}

func TestRecorderRoutesDepthUpdates(t *testing.T) {
	snaps := &fakeSnapshots{}
	bus := newFakeBus()
	store := &fakeSignalStore{}
	r := NewRecorder(Sinks{Snapshots: snaps, Bus: bus, Signals: store}, RecorderConfig{}, nil)
	runRecorder(t, r)

	r.RecordDepth(update(1, domain.SignalBuy))
	r.RecordDepth(update(2, domain.SignalHold))
	r.RecordDepth(update(3, domain.SignalSell))

	waitFor(t, "three cached snapshots", func() bool { return snaps.len() == 3 })
	waitFor(t, "two journaled signals", func() bool { return len(store.snapshot()) == 2 })

	published, streamed := bus.counts()
	if published != 3 {
		t.Errorf("published %d signals, want 3 (HOLD included)", published)
	}
	if streamed != 2 {
		t.Errorf("streamed %d signals, want 2 (actionable only)", streamed)
	}
	for _, rec := range store.snapshot() {
		if !rec.Signal.Actionable() {
			t.Errorf("journaled non-actionable signal %+v", rec.Signal)
		}
	}

	bus.mu.Lock()
	var rec domain.SignalRecord
	err := json.Unmarshal(bus.published[SignalChannel][0], &rec)
	bus.mu.Unlock()
	if err != nil {
		t.Fatalf("bus payload is not a signal record: %v", err)
	}
	if rec.Signal.InstrumentID != 1 || rec.Signal.Type != domain.SignalBuy {
		t.Errorf("first payload = %+v", rec.Signal)
	}
}

func TestRecorderFailingSinkDoesNotBlockOthers(t *testing.T) {
	snaps := &fakeSnapshots{err: errors.New("redis down")}
	store := &fakeSignalStore{}
	before := testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("snapshot_cache"))

	r := NewRecorder(Sinks{Snapshots: snaps, Signals: store}, RecorderConfig{}, nil)
	runRecorder(t, r)
	r.RecordDepth(update(7, domain.SignalBuy))

	waitFor(t, "journaled signal", func() bool { return len(store.snapshot()) == 1 })
	if got := testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("snapshot_cache")) - before; got != 1 {
		t.Errorf("snapshot_cache errors = %v, want 1", got)
	}
}

func TestRecorderQuotesAndEvents(t *testing.T) {
	quotes := &fakeQuotes{}
	events := &fakeEvents{}
	r := NewRecorder(Sinks{Quotes: quotes, Events: events}, RecorderConfig{}, nil)
	runRecorder(t, r)

	r.RecordQuote(domain.TickerMessage{InstrumentID: 1333, Segment: domain.SegmentNSEEquity, LastPrice: 1640.5})
	r.RecordEvent("depth", "state", map[string]any{"to": "open"})

	waitFor(t, "quote", func() bool { return quotes.len() == 1 })
	waitFor(t, "event", func() bool {
		evs, _ := events.List(context.Background(), "", domain.ListOpts{})
		return len(evs) == 1 && evs[0].Feed == "depth" && evs[0].Event == "state"
	})
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	before := testutil.ToFloat64(metrics.RecorderDrops)
	r := NewRecorder(Sinks{}, RecorderConfig{QueueSize: 1}, nil)

	r.RecordDepth(update(1, domain.SignalBuy))
	r.RecordDepth(update(2, domain.SignalBuy))
	r.RecordDepth(update(3, domain.SignalBuy))

	if got := testutil.ToFloat64(metrics.RecorderDrops) - before; got != 2 {
		t.Errorf("drops = %v, want 2", got)
	}
}

func TestArchiverFlushWritesJSONL(t *testing.T) {
	blob := &fakeBlob{}
	a := NewArchiver(blob, ArchiverConfig{Prefix: "archive/depth"}, nil)
	a.now = func() time.Time { return time.Date(2026, 3, 2, 9, 15, 30, 0, time.UTC) }

	key, err := a.Flush(context.Background(), []domain.DepthUpdate{update(1, domain.SignalBuy), update(2, domain.SignalHold)})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if want := "archive/depth/2026/03/02/091530-000001.jsonl"; key != want {
		t.Errorf("key = %q, want %q", key, want)
	}

	calls := blob.calls()
	if len(calls) != 1 {
		t.Fatalf("uploads = %d, want 1", len(calls))
	}
	if calls[0].contentType != "application/x-ndjson" || calls[0].multipart {
		t.Errorf("upload = %+v", calls[0])
	}

	sc := bufio.NewScanner(bytes.NewReader(calls[0].body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var ids []uint32
	for sc.Scan() {
		var u domain.DepthUpdate
		if err := json.Unmarshal(sc.Bytes(), &u); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		ids = append(ids, u.Snapshot.InstrumentID)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("archived ids = %v", ids)
	}

	// Same second, distinct object.
	key2, err := a.Flush(context.Background(), []domain.DepthUpdate{update(3, domain.SignalSell)})
	if err != nil {
		t.Fatal(err)
	}
	if key2 == key || !strings.HasSuffix(key2, "-000002.jsonl") {
		t.Errorf("second key = %q", key2)
	}
}

func TestArchiverRunFlushesOnBatchAndShutdown(t *testing.T) {
	blob := &fakeBlob{}
	a := NewArchiver(blob, ArchiverConfig{FlushInterval: time.Hour, MaxBatch: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Add(update(1, domain.SignalBuy))
	a.Add(update(2, domain.SignalBuy))
	waitFor(t, "batch flush", func() bool { return len(blob.calls()) == 1 })

	a.Add(update(3, domain.SignalBuy))
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("archiver did not stop")
	}

	calls := blob.calls()
	if len(calls) != 2 {
		t.Fatalf("uploads = %d, want 2 (batch + shutdown)", len(calls))
	}
	if n := bytes.Count(calls[1].body, []byte("\n")); n != 1 {
		t.Errorf("shutdown flush wrote %d records, want 1", n)
	}
}

func TestArchiverUploadFailureDropsBatch(t *testing.T) {
	blob := &fakeBlob{err: errors.New("bucket gone")}
	a := NewArchiver(blob, ArchiverConfig{}, nil)
	if _, err := a.Flush(context.Background(), []domain.DepthUpdate{update(1, domain.SignalBuy)}); err == nil {
		t.Fatal("expected upload error")
	}
	if _, err := a.Flush(context.Background(), nil); err != nil {
		t.Fatalf("empty flush: %v", err)
	}
}
