package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/depthfeed/internal/depth"
	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/metrics"
)

// MaxDepthInstruments is the depth feed's subscription cap.
const MaxDepthInstruments = 50

// DefaultAnalysisTTL is how long a computed depth summary is served from
// cache.
const DefaultAnalysisTTL = 30 * time.Second

// DepthConfig tunes the depth manager.
type DepthConfig struct {
	BufferWindow    time.Duration
	HistoryCapacity int
	AnalysisTTL     time.Duration
	Limit           int

	// ExpirySweep drops one-sided buffers on every heartbeat tick instead of
	// only when a fresher frame arrives.
	ExpirySweep bool
}

// DefaultDepthConfig returns the depth manager defaults.
func DefaultDepthConfig() DepthConfig {
	return DepthConfig{
		BufferWindow:    depth.DefaultBufferWindow,
		HistoryCapacity: depth.DefaultHistoryCapacity,
		AnalysisTTL:     DefaultAnalysisTTL,
		Limit:           MaxDepthInstruments,
	}
}

type cachedSummary struct {
	summary domain.DepthSummary
	at      time.Time
}

// DepthFeed manages the 20-level depth connection. Bid and ask frames are
// paired by the assembler; every completed snapshot is analysed and
// delivered to subscribers as a domain.DepthUpdate.
type DepthFeed struct {
	conn     *Conn
	proto    Protocol
	cfg      DepthConfig
	registry *Registry[domain.DepthUpdate]
	logger   *slog.Logger
	newID    depth.IDFunc
	now      func() time.Time

	// mu guards the assembler, histories, latest updates and summaries.
	mu        sync.Mutex
	assembler *depth.Assembler
	histories map[domain.InstrumentKey]*depth.History
	latest    map[domain.InstrumentKey]domain.DepthUpdate
	summaries map[domain.InstrumentKey]cachedSummary
}

// NewDepthFeed builds a depth feed manager.
func NewDepthFeed(proto Protocol, dialer Dialer, cfg Config, dcfg DepthConfig, logger *slog.Logger) *DepthFeed {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultDepthConfig()
	if dcfg.HistoryCapacity <= 0 {
		dcfg.HistoryCapacity = def.HistoryCapacity
	}
	if dcfg.AnalysisTTL <= 0 {
		dcfg.AnalysisTTL = def.AnalysisTTL
	}
	if dcfg.Limit <= 0 || dcfg.Limit > MaxDepthInstruments {
		dcfg.Limit = MaxDepthInstruments
	}

	f := &DepthFeed{
		proto:     proto,
		cfg:       dcfg,
		registry:  NewRegistry[domain.DepthUpdate](dcfg.Limit, logger),
		logger:    logger.With(slog.String("component", "depth_feed")),
		newID:     uuid.NewString,
		now:       time.Now,
		assembler: depth.NewAssembler(dcfg.BufferWindow),
		histories: make(map[domain.InstrumentKey]*depth.History),
		latest:    make(map[domain.InstrumentKey]domain.DepthUpdate),
		summaries: make(map[domain.InstrumentKey]cachedSummary),
	}
	f.cfg.BufferWindow = f.assembler.Window()
	f.conn = NewConn(proto, dialer, f.registry, f.handle, cfg, logger)
	if dcfg.ExpirySweep {
		f.conn.OnHeartbeat(f.sweep)
	}
	return f
}

// Connect opens the depth connection.
func (f *DepthFeed) Connect(ctx context.Context) error {
	return f.conn.Connect(ctx)
}

// Disconnect closes the depth connection.
func (f *DepthFeed) Disconnect() error {
	return f.conn.Disconnect()
}

// Subscribe registers cb for instruments. At most MaxDepthInstruments may be
// subscribed at once; a batch that would exceed the cap is rejected whole.
func (f *DepthFeed) Subscribe(ctx context.Context, instruments []domain.Instrument, cb Callback[domain.DepthUpdate]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subs, err := buildSubscriptions(f.proto, instruments, domain.ModeDepth)
	if err != nil {
		return err
	}
	if err := f.conn.Subscribe(subs, func() (func(), error) {
		return f.registry.Add(subs, cb)
	}); err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "depth subscribed",
		slog.Int("count", len(subs)),
		slog.Int("total", f.registry.Len()),
	)
	return nil
}

// Unsubscribe removes instruments and drops their buffered state.
func (f *DepthFeed) Unsubscribe(ctx context.Context, instruments []domain.Instrument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keys := make([]domain.InstrumentKey, len(instruments))
	for i, in := range instruments {
		keys[i] = in.Key()
	}
	removed := f.registry.Remove(keys)

	f.mu.Lock()
	for _, k := range keys {
		f.assembler.Forget(k)
		delete(f.histories, k)
		delete(f.latest, k)
		delete(f.summaries, k)
	}
	f.mu.Unlock()

	f.conn.Unsubscribe(removed)
	return nil
}

// Latest returns the most recent update for key.
func (f *DepthFeed) Latest(key domain.InstrumentKey) (domain.DepthUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.latest[key]
	return u, ok
}

// Summary returns the depth summary for key, recomputing it when the cached
// one is older than the analysis TTL. A new snapshot discards the cached
// summary.
func (f *DepthFeed) Summary(key domain.InstrumentKey) (domain.DepthSummary, bool) {
	now := f.now()

	f.mu.Lock()
	if c, ok := f.summaries[key]; ok && now.Sub(c.at) < f.cfg.AnalysisTTL {
		f.mu.Unlock()
		return c.summary, true
	}
	u, ok := f.latest[key]
	f.mu.Unlock()
	if !ok {
		return domain.DepthSummary{}, false
	}

	s := depth.Summarize(u.Snapshot, now)

	f.mu.Lock()
	f.summaries[key] = cachedSummary{summary: s, at: now}
	f.mu.Unlock()
	return s, true
}

// History returns the stored snapshots for key, oldest first.
func (f *DepthFeed) History(key domain.InstrumentKey) []domain.DepthSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.histories[key]
	if !ok {
		return nil
	}
	return h.Snapshots()
}

// Pending returns the number of instruments with a buffered one-sided frame.
func (f *DepthFeed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assembler.Pending()
}

// Subscriptions lists the recorded subscriptions.
func (f *DepthFeed) Subscriptions() []domain.Subscription { return f.registry.Subscriptions() }

// Count returns the number of subscribed instruments.
func (f *DepthFeed) Count() int { return f.registry.Len() }

// Status returns the connection status.
func (f *DepthFeed) Status() Status { return f.conn.Status() }

// Stats returns the connection counters.
func (f *DepthFeed) Stats() Stats { return f.conn.Stats() }

// OnStateChange registers a connection state observer.
func (f *DepthFeed) OnStateChange(fn StateObserver) { f.conn.OnStateChange(fn) }

// OnError registers a connection error observer.
func (f *DepthFeed) OnError(fn ErrorObserver) { f.conn.OnError(fn) }

func (f *DepthFeed) handle(msg domain.Message) error {
	side, ok := msg.(domain.DepthSideMessage)
	if !ok {
		return nil
	}
	f.Process(side.SideSnapshot)
	return nil
}

// Process feeds one side through the assembler. When it completes a snapshot
// the update is analysed, stored as latest and dispatched; the update is
// returned with ok set. Sides for instruments that are not subscribed are
// ignored.
func (f *DepthFeed) Process(side domain.SideSnapshot) (domain.DepthUpdate, bool) {
	key := side.Key()

	// Checked under mu so Unsubscribe's cleanup cannot be overtaken.
	f.mu.Lock()
	if !f.registry.Contains(key) {
		f.mu.Unlock()
		return domain.DepthUpdate{}, false
	}
	snap, ok := f.assembler.OnSide(side)
	if !ok {
		f.mu.Unlock()
		return domain.DepthUpdate{}, false
	}
	h, found := f.histories[key]
	if !found {
		h = depth.NewHistory(f.cfg.HistoryCapacity)
		f.histories[key] = h
	}
	h.Push(snap)
	window := h.Last(depth.VolatilityLookback)
	f.mu.Unlock()

	m := depth.Analyze(snap, window)
	update := domain.DepthUpdate{
		Snapshot:  snap,
		Metrics:   m,
		Signal:    depth.GenerateSignal(snap, m, f.newID),
		Liquidity: depth.AnalyzeLiquidity(snap),
	}
	metrics.Snapshots.Inc()
	metrics.Signals.WithLabelValues(string(update.Signal.Type)).Inc()

	f.mu.Lock()
	if !f.registry.Contains(key) {
		f.mu.Unlock()
		return domain.DepthUpdate{}, false
	}
	f.latest[key] = update
	delete(f.summaries, key)
	f.mu.Unlock()

	f.registry.Dispatch(key, update)
	return update, true
}

func (f *DepthFeed) sweep(now time.Time) {
	f.mu.Lock()
	n := f.assembler.Expire(now)
	f.mu.Unlock()
	if n > 0 {
		f.logger.Debug("expired one-sided depth buffers", slog.Int("instruments", n))
	}
}
