package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/feed"
	"github.com/alanyoungcy/depthfeed/internal/metrics"
	"github.com/alanyoungcy/depthfeed/internal/notify"
	"github.com/alanyoungcy/depthfeed/internal/pipeline"
	"github.com/alanyoungcy/depthfeed/internal/platform/dhan"
	"github.com/alanyoungcy/depthfeed/internal/server"
	"github.com/alanyoungcy/depthfeed/internal/server/handler"
	"github.com/alanyoungcy/depthfeed/internal/server/ws"
)

const (
	shutdownTimeout = 10 * time.Second
	// alertCooldown spaces strong_signal alerts for the same instrument and
	// direction.
	alertCooldown = 5 * time.Minute
)

// TickerMode runs the market feed only.
func (a *App) TickerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ticker mode")
	return a.run(ctx, deps, true, false)
}

// DepthMode runs the 20-level depth feed only.
func (a *App) DepthMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting depth mode")
	return a.run(ctx, deps, false, true)
}

// FullMode runs both feeds.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.run(ctx, deps, true, true)
}

// lifecycle is the part of a feed the app observes and stops.
type lifecycle interface {
	Connect(ctx context.Context) error
	Disconnect() error
	OnStateChange(fn feed.StateObserver)
	OnError(fn feed.ErrorObserver)
}

func (a *App) run(ctx context.Context, deps *Dependencies, withTicker, withDepth bool) error {
	startedAt := time.Now().UTC()
	metrics.Register(nil)

	plan, err := planInstruments(a.cfg)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	var archiver *pipeline.Archiver
	if deps.BlobWriter != nil {
		archiver = pipeline.NewArchiver(deps.BlobWriter, pipeline.ArchiverConfig{
			Prefix:        a.cfg.Archive.Prefix,
			FlushInterval: a.cfg.Archive.FlushInterval.Duration,
			MaxBatch:      a.cfg.Archive.MaxBatch,
			QueueSize:     a.cfg.Archive.QueueSize,
		}, a.logger)
	}
	recorder := pipeline.NewRecorder(pipeline.Sinks{
		Snapshots: deps.Snapshots,
		Quotes:    deps.Quotes,
		Bus:       deps.SignalBus,
		Signals:   deps.Signals,
		Events:    deps.Events,
		Archiver:  archiver,
	}, pipeline.RecorderConfig{
		QueueSize: a.cfg.Feed.QueueSize,
		BatchSize: a.cfg.Feed.BatchSize,
	}, a.logger)

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:      a.cfg.Mode,
		Channels:  []string{pipeline.SignalChannel},
		StartedAt: startedAt,
	}, a.logger)

	creds := dhan.Credentials{ClientID: a.cfg.Dhan.ClientID, AccessToken: a.cfg.Dhan.AccessToken}
	dialer := dhan.WSDialer{}
	fcfg := feedConfig(a.cfg)
	fatal := make(chan error, 2)

	var (
		tickerFeed *feed.TickerFeed
		depthFeed  *feed.DepthFeed
		running    []lifecycle
		sources    []handler.FeedSource
	)
	stopFeeds := func() {
		for i := len(running) - 1; i >= 0; i-- {
			if err := running[i].Disconnect(); err != nil {
				a.logger.Warn("feed disconnect", slog.String("error", err.Error()))
			}
		}
	}

	if withTicker {
		proto := dhan.NewMarketProtocol(a.cfg.Dhan.FeedURL, creds)
		tickerFeed = feed.NewTickerFeed(proto, dialer, fcfg, a.cfg.Feed.SubscriptionLimit, a.logger)
		a.observe(proto.Name(), tickerFeed, recorder, deps.Notifier, fatal)
		if err := tickerFeed.Connect(ctx); err != nil {
			return fmt.Errorf("app: connect market feed: %w", err)
		}
		running = append(running, tickerFeed)
		sources = append(sources, tickerFeed)

		for mode, instruments := range plan.ticker {
			if err := tickerFeed.Subscribe(ctx, instruments, mode, recorder.RecordQuote); err != nil {
				stopFeeds()
				return fmt.Errorf("app: subscribe %s: %w", mode, err)
			}
		}
	} else if len(plan.ticker) > 0 {
		a.logger.Warn("market feed disabled in this mode, ticker instruments ignored",
			slog.String("mode", a.cfg.Mode))
	}

	if withDepth {
		proto := dhan.NewDepthProtocol(a.cfg.Dhan.DepthURL, creds)
		depthFeed = feed.NewDepthFeed(proto, dialer, fcfg, depthConfig(a.cfg), a.logger)
		a.observe(proto.Name(), depthFeed, recorder, deps.Notifier, fatal)
		if err := depthFeed.Connect(ctx); err != nil {
			stopFeeds()
			return fmt.Errorf("app: connect depth feed: %w", err)
		}
		running = append(running, depthFeed)
		sources = append(sources, depthFeed)

		if len(plan.depth) > 0 {
			cb := a.onDepth(recorder, hub, deps.Notifier, deps.SignalBus == nil)
			if err := depthFeed.Subscribe(ctx, plan.depth, cb); err != nil {
				stopFeeds()
				return fmt.Errorf("app: subscribe depth: %w", err)
			}
		}
	} else if len(plan.depth) > 0 {
		a.logger.Warn("depth feed disabled in this mode, depth instruments ignored",
			slog.String("mode", a.cfg.Mode))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return recorder.Run(gctx)
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	if deps.Notifier.Enabled() {
		g.Go(func() error {
			return deps.Notifier.Run(gctx)
		})
	}
	g.Go(func() error {
		defer stopFeeds()
		select {
		case <-gctx.Done():
			return nil
		case err := <-fatal:
			return err
		}
	})

	if a.cfg.Server.Enabled {
		srv := a.newServer(deps, hub, startedAt, tickerFeed, depthFeed, sources)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// observe journals lifecycle events, alerts on breaker trips and escalates
// the terminal reconnect failure.
func (a *App) observe(name string, f lifecycle, recorder *pipeline.Recorder, notifier *notify.Notifier, fatal chan<- error) {
	f.OnStateChange(func(from, to feed.Status) {
		recorder.RecordEvent(name, "state_change", map[string]any{
			"from": from.String(),
			"to":   to.String(),
		})
	})
	f.OnError(func(err error) {
		event := "error"
		switch {
		case errors.Is(err, domain.ErrCircuitOpen):
			event = notify.EventBreakerTrip
		case errors.Is(err, domain.ErrReconnectExhausted):
			event = notify.EventReconnectExhausted
		}
		recorder.RecordEvent(name, event, map[string]any{"error": err.Error()})
		if event != "error" {
			notifier.Notify(notify.Alert{
				Event: event,
				Title: fmt.Sprintf("%s feed: %s", name, event),
				Body:  err.Error(),
			})
		}
		if event == notify.EventReconnectExhausted {
			select {
			case fatal <- fmt.Errorf("app: %s feed: %w", name, err):
			default:
			}
		}
	})
}

// onDepth builds the depth subscriber. Without a signal bus the hub is fed
// directly instead of through the bus bridge.
func (a *App) onDepth(recorder *pipeline.Recorder, hub *ws.Hub, notifier *notify.Notifier, direct bool) feed.Callback[domain.DepthUpdate] {
	minConfidence := a.cfg.Notify.MinConfidence
	gate := newAlertGate(alertCooldown)
	return func(u domain.DepthUpdate) {
		recorder.RecordDepth(u)
		sig := u.Signal
		if sig.Actionable() && sig.Confidence >= minConfidence && notifier.Wants(notify.EventStrongSignal) &&
			gate.allow(sig.Key(), sig.Type, sig.GeneratedAt) {
			notifier.Notify(strongSignalAlert(sig))
		}
		if !direct {
			return
		}
		payload, err := json.Marshal(domain.SignalRecord{Signal: u.Signal, Metrics: u.Metrics})
		if err != nil {
			a.logger.Warn("marshal signal", slog.String("error", err.Error()))
			return
		}
		hub.Broadcast(pipeline.SignalChannel, payload)
	}
}

func (a *App) newServer(deps *Dependencies, hub *ws.Hub, startedAt time.Time, tickerFeed *feed.TickerFeed, depthFeed *feed.DepthFeed, sources []handler.FeedSource) *server.Server {
	// Keep absent feeds as untyped nil so the handlers fall back to the caches.
	var (
		quotes handler.QuoteSource
		depths handler.DepthSource
	)
	if tickerFeed != nil {
		quotes = tickerFeed
	}
	if depthFeed != nil {
		depths = depthFeed
	}

	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, startedAt, sources...),
		Depth:   handler.NewDepthHandler(depths, deps.Snapshots, a.logger),
		Quote:   handler.NewQuoteHandler(quotes, deps.Quotes, a.logger),
		Signals: handler.NewSignalHandler(deps.Signals, deps.Events, a.logger),
		Metrics: promhttp.Handler(),
	}, hub, a.logger)
}

func strongSignalAlert(sig domain.TradingSignal) notify.Alert {
	body := fmt.Sprintf("strength %.2f, confidence %.2f, horizon %s", sig.Strength, sig.Confidence, sig.Horizon)
	if len(sig.Targets) > 0 {
		body += fmt.Sprintf("\ntargets %v", sig.Targets)
	}
	if sig.StopLoss != nil {
		body += fmt.Sprintf("\nstop %.2f", *sig.StopLoss)
	}
	for _, r := range sig.Reasoning {
		body += "\n- " + r
	}
	return notify.Alert{
		Event: notify.EventStrongSignal,
		Title: fmt.Sprintf("%s %s", sig.Type, sig.Key()),
		Body:  body,
	}
}

type alertKey struct {
	instrument domain.InstrumentKey
	direction  domain.SignalType
}

// alertGate lets one alert per instrument and direction through per cooldown.
type alertGate struct {
	cooldown time.Duration

	mu   sync.Mutex
	last map[alertKey]time.Time
}

func newAlertGate(cooldown time.Duration) *alertGate {
	return &alertGate{cooldown: cooldown, last: make(map[alertKey]time.Time)}
}

func (g *alertGate) allow(key domain.InstrumentKey, dir domain.SignalType, at time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := alertKey{instrument: key, direction: dir}
	if prev, ok := g.last[k]; ok && at.Sub(prev) < g.cooldown {
		return false
	}
	g.last[k] = at
	return true
}
