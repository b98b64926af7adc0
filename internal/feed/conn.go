package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/metrics"
)

// Defaults for Config.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 5 * time.Second
	DefaultQueueSize         = 4096
	DefaultBatchSize         = 64
	DefaultErrorThreshold    = 10
	DefaultErrorWindow       = 5 * time.Minute
	DefaultProcessingJoin    = 2 * time.Second
	DefaultHeartbeatJoin     = time.Second
	DefaultRateWarnPerSec    = 1000
)

// Config tunes one connection. Start from DefaultConfig: zero durations and
// sizes fall back to the defaults, but ReconnectAttempts, ErrorThreshold and
// RateWarnPerSec keep zero as "disabled", so a zero Config never reconnects
// and never trips the breaker.
type Config struct {
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	// ReconnectAttempts bounds recovery after an unexpected close. Zero
	// disables reconnecting; ReconnectDelay is the first backoff interval.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	QueueSize         int
	BatchSize         int

	// ErrorThreshold errors inside ErrorWindow force a reconnect. Zero
	// disables the breaker.
	ErrorThreshold int
	ErrorWindow    time.Duration

	ProcessingJoin time.Duration
	HeartbeatJoin  time.Duration
	RateWarnPerSec int
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    DefaultConnectTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectDelay:    DefaultReconnectDelay,
		QueueSize:         DefaultQueueSize,
		BatchSize:         DefaultBatchSize,
		ErrorThreshold:    DefaultErrorThreshold,
		ErrorWindow:       DefaultErrorWindow,
		ProcessingJoin:    DefaultProcessingJoin,
		HeartbeatJoin:     DefaultHeartbeatJoin,
		RateWarnPerSec:    DefaultRateWarnPerSec,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReconnectAttempts < 0 {
		c.ReconnectAttempts = 0
	}
	if c.ReconnectDelay < 0 {
		c.ReconnectDelay = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = d.ErrorWindow
	}
	if c.ProcessingJoin <= 0 {
		c.ProcessingJoin = d.ProcessingJoin
	}
	if c.HeartbeatJoin <= 0 {
		c.HeartbeatJoin = d.HeartbeatJoin
	}
	return c
}

// Handler consumes decoded messages on the processing goroutine. A returned
// error counts toward the error breaker.
type Handler func(msg domain.Message) error

// Stats is a point-in-time view of a connection's counters.
type Stats struct {
	Feed              string    `json:"feed"`
	Status            Status    `json:"status"`
	MessagesReceived  int64     `json:"messages_received"`
	MessagesProcessed int64     `json:"messages_processed"`
	FramesDropped     int64     `json:"frames_dropped"`
	DecodeErrors      int64     `json:"decode_errors"`
	HandlerErrors     int64     `json:"handler_errors"`
	Reconnects        int64     `json:"reconnects"`
	BreakerTrips      int64     `json:"breaker_trips"`
	ConnectedAt       time.Time `json:"connected_at"`
	LastMessageAt     time.Time `json:"last_message_at"`
	LastHeartbeatAt   time.Time `json:"last_heartbeat_at"`
}

type frame struct {
	data []byte
	at   time.Time
}

// lifetime groups the workers started by one successful Connect. It survives
// reconnects and ends on Disconnect or when reconnect attempts run out.
type lifetime struct {
	ctx        context.Context
	cancel     context.CancelFunc
	readerDone chan struct{}
	procDone   chan struct{}
	hbDone     chan struct{}
}

func newLifetime() *lifetime {
	ctx, cancel := context.WithCancel(context.Background())
	return &lifetime{
		ctx:        ctx,
		cancel:     cancel,
		readerDone: make(chan struct{}),
		procDone:   make(chan struct{}),
		hbDone:     make(chan struct{}),
	}
}

// Conn owns one physical feed connection. Frames are read on a dedicated
// goroutine and pushed onto a bounded queue without blocking; a processing
// goroutine decodes them in batches and hands them to the handler; a third
// goroutine sends heartbeats. Unexpected closes trigger a bounded,
// fixed-delay reconnect followed by a resubscribe of every subscription the
// source still lists.
type Conn struct {
	cfg     Config
	proto   Protocol
	dialer  Dialer
	source  SubscriptionSource
	handler Handler
	logger  *slog.Logger
	metrics metrics.Feed

	// subMu orders subscription changes against the resubscribe step so no
	// subscription recorded during a reconnect is lost.
	subMu sync.Mutex

	mu          sync.Mutex
	status      Status
	transport   Transport
	life        *lifetime
	queue       chan frame
	breaker     *errorBreaker
	connectedAt time.Time

	observerMu     sync.RWMutex
	stateObservers []StateObserver
	errorObservers []ErrorObserver
	beatObservers  []func(time.Time)

	// Touched only by the reader goroutine.
	rateSecond int64
	rateCount  int

	received      atomic.Int64
	processed     atomic.Int64
	dropped       atomic.Int64
	decodeErrs    atomic.Int64
	handlerErrs   atomic.Int64
	reconnects    atomic.Int64
	trips         atomic.Int64
	lastMessage   atomic.Int64
	lastHeartbeat atomic.Int64
}

// NewConn creates a disconnected Conn. source lists the subscriptions to
// restore after a reconnect; handler receives every decoded message.
func NewConn(proto Protocol, dialer Dialer, source SubscriptionSource, handler Handler, cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Conn{
		cfg:     cfg,
		proto:   proto,
		dialer:  dialer,
		source:  source,
		handler: handler,
		logger:  logger.With(slog.String("component", "feed_conn"), slog.String("feed", proto.Name())),
		metrics: metrics.ForFeed(proto.Name()),
		breaker: newErrorBreaker(cfg.ErrorThreshold, cfg.ErrorWindow),
		status:  Status{State: StateDisconnected},
	}
}

// Name returns the feed name.
func (c *Conn) Name() string { return c.proto.Name() }

// Connect opens the transport and starts the reader, processing and
// heartbeat goroutines. The handshake is bounded by the configured connect
// timeout; on failure a *domain.ConnectionError is returned and the
// connection stays Disconnected. Connect on an open connection is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status.State != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	prev := c.setStatusLocked(Status{State: StateConnecting})
	c.mu.Unlock()
	c.notifyState(prev, Status{State: StateConnecting})

	t, err := c.dial(ctx)
	if err != nil {
		c.transition(Status{State: StateDisconnected})
		c.logger.ErrorContext(ctx, "feed connect failed", slog.String("error", err.Error()))
		return err
	}

	life := newLifetime()
	queue := make(chan frame, c.cfg.QueueSize)

	c.subMu.Lock()
	c.mu.Lock()
	if c.status.State != StateConnecting {
		// Disconnect was called while dialing.
		c.mu.Unlock()
		c.subMu.Unlock()
		life.cancel()
		_ = t.Close()
		return &domain.ConnectionError{Op: "connect", Feed: c.Name(), Err: domain.ErrClosed}
	}
	c.life = life
	c.transport = t
	c.queue = queue
	c.breaker.reset()
	c.connectedAt = time.Now()
	prev = c.setStatusLocked(Status{State: StateOpen})
	c.mu.Unlock()

	go c.readLoop(life, t, queue)
	go c.processLoop(life, queue)
	go c.heartbeatLoop(life)

	if err := c.resubscribe(t); err != nil {
		c.logger.WarnContext(ctx, "restore subscriptions failed", slog.String("error", err.Error()))
	}
	c.subMu.Unlock()

	c.notifyState(prev, Status{State: StateOpen})
	c.logger.InfoContext(ctx, "feed connected")
	return nil
}

// Subscribe sends subscription requests for subs. record is called under the
// subscription lock once the requests have been built; it stores the
// subscriptions and returns an undo used if sending fails. While the
// connection is reconnecting, subs are only recorded and go out with the
// resubscribe that follows a successful reconnect.
func (c *Conn) Subscribe(subs []domain.Subscription, record func() (func(), error)) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	st, t := c.status.State, c.transport
	c.mu.Unlock()

	if st != StateOpen && st != StateReconnecting {
		return &domain.SubscriptionError{Err: domain.ErrNotConnected}
	}

	frames, err := c.proto.SubscribeRequests(subs)
	if err != nil {
		return &domain.SubscriptionError{Err: err}
	}

	undo, err := record()
	if err != nil {
		return err
	}
	if st == StateReconnecting || t == nil {
		c.logger.Info("subscription queued until reconnect", slog.Int("instruments", len(subs)))
		return nil
	}

	for _, f := range frames {
		if err := t.WriteMessage(f); err != nil {
			undo()
			return &domain.ConnectionError{Op: "subscribe", Feed: c.Name(), Err: err}
		}
	}
	c.logger.Debug("subscribed", slog.Int("instruments", len(subs)), slog.Int("requests", len(frames)))
	return nil
}

// Unsubscribe notifies the peer that subs are no longer wanted. It is best
// effort: nothing is sent when the connection is not open, and write errors
// are logged, not returned.
func (c *Conn) Unsubscribe(subs []domain.Subscription) {
	if len(subs) == 0 {
		return
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	st, t := c.status.State, c.transport
	c.mu.Unlock()
	if st != StateOpen || t == nil {
		return
	}

	frames, err := c.proto.UnsubscribeRequests(subs)
	if err != nil {
		c.logger.Warn("build unsubscribe request failed", slog.String("error", err.Error()))
		return
	}
	for _, f := range frames {
		if err := t.WriteMessage(f); err != nil {
			c.logger.Debug("unsubscribe not delivered", slog.String("error", err.Error()))
			return
		}
	}
}

// Disconnect sends the disconnect request, stops every goroutine and closes
// the transport. Workers are joined with bounded waits; a worker that does not
// stop in time is abandoned and reported in the returned error.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	life, t := c.life, c.transport
	c.life, c.transport = nil, nil
	prev := c.setStatusLocked(Status{State: StateDisconnected})
	c.mu.Unlock()

	if prev.State != StateDisconnected {
		c.notifyState(prev, Status{State: StateDisconnected})
	}
	if t != nil {
		if err := t.WriteMessage(c.proto.DisconnectRequest()); err != nil {
			c.logger.Debug("disconnect request not delivered", slog.String("error", err.Error()))
		}
	}
	if life == nil {
		if t != nil {
			_ = t.Close()
		}
		return nil
	}

	life.cancel()
	if t != nil {
		_ = t.Close()
	}

	var stuck []string
	if !waitDone(life.procDone, c.cfg.ProcessingJoin) {
		stuck = append(stuck, "processing")
	}
	if !waitDone(life.hbDone, c.cfg.HeartbeatJoin) {
		stuck = append(stuck, "heartbeat")
	}
	if !waitDone(life.readerDone, c.cfg.ProcessingJoin) {
		stuck = append(stuck, "reader")
	}
	if len(stuck) > 0 {
		c.logger.Warn("workers did not stop in time", slog.Any("workers", stuck))
		return &domain.ConnectionError{
			Op:   "disconnect",
			Feed: c.Name(),
			Err:  fmt.Errorf("workers %v still running: %w", stuck, context.DeadlineExceeded),
		}
	}

	c.logger.Info("feed disconnected")
	return nil
}

// Status returns the current lifecycle status.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	st, connectedAt := c.status, c.connectedAt
	c.mu.Unlock()
	return Stats{
		Feed:              c.Name(),
		Status:            st,
		MessagesReceived:  c.received.Load(),
		MessagesProcessed: c.processed.Load(),
		FramesDropped:     c.dropped.Load(),
		DecodeErrors:      c.decodeErrs.Load(),
		HandlerErrors:     c.handlerErrs.Load(),
		Reconnects:        c.reconnects.Load(),
		BreakerTrips:      c.trips.Load(),
		ConnectedAt:       connectedAt,
		LastMessageAt:     unixNano(c.lastMessage.Load()),
		LastHeartbeatAt:   unixNano(c.lastHeartbeat.Load()),
	}
}

// OnStateChange registers an observer for status transitions.
func (c *Conn) OnStateChange(fn StateObserver) {
	c.observerMu.Lock()
	defer c.observerMu.Unlock()
	c.stateObservers = append(c.stateObservers, fn)
}

// OnError registers an observer for connection errors.
func (c *Conn) OnError(fn ErrorObserver) {
	c.observerMu.Lock()
	defer c.observerMu.Unlock()
	c.errorObservers = append(c.errorObservers, fn)
}

// OnHeartbeat registers a function called on every heartbeat tick.
func (c *Conn) OnHeartbeat(fn func(now time.Time)) {
	c.observerMu.Lock()
	defer c.observerMu.Unlock()
	c.beatObservers = append(c.beatObservers, fn)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (c *Conn) dial(ctx context.Context) (Transport, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	t, err := c.dialer.Dial(dctx, c.proto.URL())
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrConnectTimeout) {
			err = fmt.Errorf("%w after %s: %v", domain.ErrConnectTimeout, c.cfg.ConnectTimeout, err)
		}
		return nil, &domain.ConnectionError{Op: "connect", Feed: c.Name(), Err: err}
	}
	return t, nil
}

// resubscribe sends every subscription listed by the source. Caller holds
// subMu.
func (c *Conn) resubscribe(t Transport) error {
	if c.source == nil {
		return nil
	}
	subs := c.source.Subscriptions()
	if len(subs) == 0 {
		return nil
	}
	frames, err := c.proto.SubscribeRequests(subs)
	if err != nil {
		return fmt.Errorf("feed: resubscribe: %w", err)
	}
	for _, f := range frames {
		if err := t.WriteMessage(f); err != nil {
			return fmt.Errorf("feed: resubscribe: %w", err)
		}
	}
	c.logger.Info("subscriptions restored", slog.Int("instruments", len(subs)))
	return nil
}

// readLoop reads frames until the lifetime ends. A read error outside a
// requested disconnect runs the reconnect sequence on this goroutine.
func (c *Conn) readLoop(life *lifetime, t Transport, queue chan<- frame) {
	defer close(life.readerDone)

	for {
		data, err := t.ReadMessage()
		if err != nil {
			if life.ctx.Err() != nil {
				return
			}
			c.logger.Warn("feed read failed", slog.String("error", err.Error()))
			c.notifyError(&domain.ConnectionError{Op: "read", Feed: c.Name(), Err: err})

			next, ok := c.reconnect(life, t)
			if !ok {
				return
			}
			t = next
			continue
		}
		c.enqueue(data, queue)
	}
}

func (c *Conn) enqueue(data []byte, queue chan<- frame) {
	now := time.Now()
	c.received.Add(1)
	c.metrics.Received.Inc()
	c.lastMessage.Store(now.UnixNano())
	c.checkRate(now)

	select {
	case queue <- frame{data: data, at: now}:
	default:
		c.dropped.Add(1)
		c.metrics.Dropped.Inc()
	}
}

// checkRate warns once per second when the inbound rate exceeds the limit.
func (c *Conn) checkRate(now time.Time) {
	sec := now.Unix()
	if sec != c.rateSecond {
		c.rateSecond = sec
		c.rateCount = 0
	}
	c.rateCount++
	if c.cfg.RateWarnPerSec > 0 && c.rateCount == c.cfg.RateWarnPerSec+1 {
		c.logger.Warn("high message rate", slog.Int("per_second_limit", c.cfg.RateWarnPerSec))
	}
}

// processLoop drains the queue in batches. It blocks while the queue is
// empty and exits when the lifetime ends.
func (c *Conn) processLoop(life *lifetime, queue <-chan frame) {
	defer close(life.procDone)

	batch := make([]frame, 0, c.cfg.BatchSize)
	for {
		select {
		case <-life.ctx.Done():
			return
		case f := <-queue:
			batch = append(batch[:0], f)
		fill:
			for len(batch) < cap(batch) {
				select {
				case f := <-queue:
					batch = append(batch, f)
				default:
					break fill
				}
			}
			for _, f := range batch {
				if life.ctx.Err() != nil {
					return
				}
				c.process(f)
			}
		}
	}
}

func (c *Conn) process(f frame) {
	msg, err := c.proto.Decode(f.data, f.at)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownCode) {
			return
		}
		c.decodeErrs.Add(1)
		c.metrics.DecodeErrors.Inc()
		c.logger.Debug("frame dropped", slog.String("error", err.Error()))
		c.recordError(f.at)
		return
	}

	if d, ok := msg.(domain.DisconnectMessage); ok {
		c.logger.Warn("server sent disconnect",
			slog.Int("reason", int(d.Reason)),
			slog.String("instrument", d.Key().String()),
		)
	}

	if err := c.handle(msg); err != nil {
		c.handlerErrs.Add(1)
		c.logger.Warn("message handler failed",
			slog.String("kind", msg.Kind().String()),
			slog.String("error", err.Error()),
		)
		c.recordError(f.at)
		return
	}
	c.processed.Add(1)
}

func (c *Conn) handle(msg domain.Message) (err error) {
	if c.handler == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return c.handler(msg)
}

// recordError feeds the breaker. On a trip the transport is closed so the
// reader sees the close and runs the reconnect sequence.
func (c *Conn) recordError(at time.Time) {
	c.mu.Lock()
	tripped := c.status.State == StateOpen && c.breaker.record(at)
	t := c.transport
	c.mu.Unlock()

	if !tripped {
		return
	}
	c.trips.Add(1)
	c.metrics.BreakerTrips.Inc()
	c.logger.Warn("error threshold reached, forcing reconnect",
		slog.Int("threshold", c.cfg.ErrorThreshold),
		slog.Duration("window", c.cfg.ErrorWindow),
	)
	c.notifyError(fmt.Errorf("feed %s: %w", c.Name(), domain.ErrCircuitOpen))
	if t != nil {
		_ = t.Close()
	}
}

func (c *Conn) heartbeatLoop(life *lifetime) {
	defer close(life.hbDone)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-life.ctx.Done():
			return
		case now := <-ticker.C:
			c.mu.Lock()
			st, t := c.status.State, c.transport
			c.mu.Unlock()

			if st == StateOpen && t != nil {
				if err := t.Ping(); err != nil {
					c.logger.Warn("heartbeat failed", slog.String("error", err.Error()))
				} else {
					c.lastHeartbeat.Store(now.UnixNano())
				}
			}

			c.observerMu.RLock()
			beats := c.beatObservers
			c.observerMu.RUnlock()
			for _, fn := range beats {
				c.safeCall(func() { fn(now) })
			}
		}
	}
}

// reconnect closes old and retries the dial with a fixed delay up to the
// configured attempt count. It runs on the reader goroutine, so attempts are
// strictly sequential. When attempts run out the connection ends in the
// terminal Disconnected state and the lifetime is cancelled.
func (c *Conn) reconnect(life *lifetime, old Transport) (Transport, bool) {
	_ = old.Close()
	c.mu.Lock()
	if c.transport == old {
		c.transport = nil
	}
	c.mu.Unlock()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.ReconnectDelay), uint64(c.cfg.ReconnectAttempts)),
		life.ctx,
	)

	for attempt := 1; ; attempt++ {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if !c.transitionIfLive(life, Status{State: StateReconnecting, Attempt: attempt}) {
			return nil, false
		}
		c.reconnects.Add(1)
		c.metrics.Reconnects.Inc()
		c.logger.Info("reconnecting",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.ReconnectAttempts),
			slog.Duration("delay", wait),
		)

		select {
		case <-life.ctx.Done():
			return nil, false
		case <-time.After(wait):
		}

		t, err := c.dial(life.ctx)
		if err != nil {
			if life.ctx.Err() != nil {
				return nil, false
			}
			c.logger.Warn("reconnect attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			c.notifyError(err)
			continue
		}
		if c.install(life, t) {
			return t, true
		}
		if life.ctx.Err() != nil {
			return nil, false
		}
	}

	if life.ctx.Err() != nil {
		return nil, false
	}

	c.mu.Lock()
	if c.life == life {
		c.life = nil
		c.transport = nil
	}
	prev := c.setStatusLocked(Status{State: StateDisconnected})
	c.mu.Unlock()
	life.cancel()

	c.notifyState(prev, Status{State: StateDisconnected})
	err := &domain.ConnectionError{
		Op:   "reconnect",
		Feed: c.Name(),
		Err:  fmt.Errorf("%d attempts: %w", c.cfg.ReconnectAttempts, domain.ErrReconnectExhausted),
	}
	c.logger.Error("giving up on feed", slog.String("error", err.Error()))
	c.notifyError(err)
	return nil, false
}

// install makes t the live transport and restores subscriptions.
func (c *Conn) install(life *lifetime, t Transport) bool {
	c.subMu.Lock()

	c.mu.Lock()
	if c.life != life || life.ctx.Err() != nil {
		c.mu.Unlock()
		c.subMu.Unlock()
		_ = t.Close()
		return false
	}
	c.transport = t
	c.breaker.reset()
	c.connectedAt = time.Now()
	prev := c.setStatusLocked(Status{State: StateOpen})
	c.mu.Unlock()

	err := c.resubscribe(t)
	c.subMu.Unlock()

	if err != nil {
		c.logger.Warn("resubscribe after reconnect failed", slog.String("error", err.Error()))
		_ = t.Close()
		c.mu.Lock()
		if c.transport == t {
			c.transport = nil
		}
		c.mu.Unlock()
		return false
	}

	c.notifyState(prev, Status{State: StateOpen})
	c.logger.Info("feed reconnected")
	return true
}

func (c *Conn) setStatusLocked(s Status) Status {
	prev := c.status
	c.status = s
	c.metrics.State.Set(float64(s.State))
	return prev
}

func (c *Conn) transition(s Status) {
	c.mu.Lock()
	prev := c.setStatusLocked(s)
	c.mu.Unlock()
	if prev != s {
		c.notifyState(prev, s)
	}
}

// transitionIfLive moves to s unless the lifetime has already ended.
func (c *Conn) transitionIfLive(life *lifetime, s Status) bool {
	c.mu.Lock()
	if c.life != life || life.ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	prev := c.setStatusLocked(s)
	c.mu.Unlock()
	if prev != s {
		c.notifyState(prev, s)
	}
	return true
}

func (c *Conn) notifyState(from, to Status) {
	c.observerMu.RLock()
	obs := c.stateObservers
	c.observerMu.RUnlock()
	for _, fn := range obs {
		c.safeCall(func() { fn(from, to) })
	}
}

func (c *Conn) notifyError(err error) {
	c.observerMu.RLock()
	obs := c.errorObservers
	c.observerMu.RUnlock()
	for _, fn := range obs {
		c.safeCall(func() { fn(err) })
	}
}

func (c *Conn) safeCall(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("observer panicked", slog.String("error", fmt.Sprint(rec)))
		}
	}()
	fn()
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
