package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmonteroh/polysignal/internal/bot"
	"github.com/jmonteroh/polysignal/internal/domain"
	"github.com/jmonteroh/polysignal/internal/platform/polymarket"
	"github.com/jmonteroh/polysignal/internal/server"
	"github.com/jmonteroh/polysignal/internal/server/handler"
	"github.com/jmonteroh/polysignal/internal/service"
)

// services bundles the wired service layer.
type services struct {
	risk       *service.RiskService
	positions  *service.PositionService
	monitor    *service.OrderMonitor
	executor   *service.StrategyExecutor
	settings   *service.SettingsService
	strategies *service.StrategyService
	consumer   *service.SignalConsumer
	archive    *service.ArchiveService
}

// BotMode runs the task orchestrator without the HTTP API.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bot mode")

	svcs := a.buildServices(deps)
	orch := a.buildOrchestrator(deps, svcs)

	a.connectFeed(ctx, deps)

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("bot mode: %w", err)
	}
	<-ctx.Done()
	orch.Stop()
	return nil
}

// ServerMode runs the HTTP API only. The orchestrator is wired but stopped;
// POST /api/bot/start launches the task loops on demand.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	orch := a.buildOrchestrator(deps, svcs)
	a.connectFeed(ctx, deps)
	a.startHTTPServer(ctx, g, deps, svcs, orch)

	err := g.Wait()
	orch.Stop()
	return err
}

// FullMode runs the task orchestrator and the HTTP API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	orch := a.buildOrchestrator(deps, svcs)

	a.connectFeed(ctx, deps)

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs, orch)
	}

	err := g.Wait()
	orch.Stop()
	return err
}

// buildServices constructs the service layer on top of the wired
// dependencies.
func (a *App) buildServices(deps *Dependencies) *services {
	risk := service.NewRiskService(
		deps.Settings, deps.Positions, deps.Audit,
		a.cfg.Risk.InitialCapital, a.logger,
	)
	positions := service.NewPositionService(
		deps.Positions, deps.Orders, deps.Runtimes,
		deps.Prices, deps.Gateway, risk,
		deps.Settings, deps.Audit, deps.Notifier, a.logger,
	)
	strategies := service.NewStrategyService(deps.Strategies, deps.Positions, deps.Audit, a.logger)

	return &services{
		risk:       risk,
		positions:  positions,
		monitor:    service.NewOrderMonitor(deps.Positions, deps.Orders, deps.Gateway, positions, a.logger),
		executor:   service.NewStrategyExecutor(deps.Positions, deps.Runtimes, deps.Strategies, deps.PriceCache, deps.Prices, positions, a.logger),
		settings:   service.NewSettingsService(deps.Settings, deps.Audit, deps.Notifier, a.logger),
		strategies: strategies,
		consumer: service.NewSignalConsumer(
			deps.SignalBus, deps.Settings, strategies, positions,
			a.cfg.Bot.SignalGroup, a.cfg.Bot.SignalConsumer, a.logger,
		),
		archive: service.NewArchiveService(deps.Positions, deps.Audit, deps.Blob, a.logger),
	}
}

// buildOrchestrator registers the recurring bot tasks. The trading tasks run
// under a distributed lock so that a second bot instance pointed at the same
// database stays passive.
func (a *App) buildOrchestrator(deps *Dependencies, svcs *services) *bot.Orchestrator {
	orch := bot.NewOrchestrator(deps.Audit, a.logger)

	signalPoll := a.cfg.Bot.SignalPollInterval.Duration
	positionCheck := a.cfg.Bot.PositionCheckInterval.Duration
	orderMonitor := a.cfg.Bot.OrderMonitorInterval.Duration

	orch.Register("signal_consume", signalPoll,
		withLock(deps.Locks, "signal_consume", 2*signalPoll, svcs.consumer.Run))
	orch.Register("position_check", positionCheck,
		withLock(deps.Locks, "position_check", 2*positionCheck, svcs.executor.Run))
	orch.Register("order_monitor", orderMonitor,
		withLock(deps.Locks, "order_monitor", 2*orderMonitor, svcs.monitor.Run))

	fs := &feedSync{positions: deps.Positions, feed: deps.Feed, logger: a.logger}
	orch.Register("feed_sync", positionCheck, fs.run)

	if deps.Blob != nil {
		archiveInterval := a.cfg.Bot.ArchiveInterval.Duration
		orch.Register("archive", archiveInterval,
			withLock(deps.Locks, "archive", 2*archiveInterval, svcs.archive.Run))
	}

	return orch
}

// withLock wraps a task so that only one bot instance runs it at a time.
// A held lock means another instance is active; the run is skipped, not
// failed.
func withLock(locks domain.LockManager, name string, ttl time.Duration, fn bot.TaskFunc) bot.TaskFunc {
	key := "polysignal:task:" + name
	return func(ctx context.Context) error {
		unlock, err := locks.Acquire(ctx, key, ttl)
		if errors.Is(err, domain.ErrLockHeld) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		defer unlock()
		return fn(ctx)
	}
}

// connectFeed dials the market data WebSocket. Failure is non-fatal: the
// exit engine falls back to REST quotes when the cache is cold.
func (a *App) connectFeed(ctx context.Context, deps *Dependencies) {
	if err := deps.Feed.Connect(ctx); err != nil {
		a.logger.WarnContext(ctx, "market feed unavailable, falling back to REST quotes",
			slog.String("error", err.Error()),
		)
	}
}

// feedSync keeps the WebSocket subscriptions aligned with the outcome tokens
// of the positions currently in play.
type feedSync struct {
	positions domain.PositionStore
	feed      *polymarket.MarketFeed
	logger    *slog.Logger

	mu      sync.Mutex
	tracked map[string]bool
}

func (s *feedSync) run(ctx context.Context) error {
	active, err := s.positions.ListByStatus(ctx,
		domain.PositionStatusPending, domain.PositionStatusOpen, domain.PositionStatusClosing)
	if err != nil {
		return fmt.Errorf("feed_sync: list positions: %w", err)
	}

	want := make(map[string]bool)
	for _, p := range active {
		if p.TokenID != "" {
			want[p.TokenID] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracked == nil {
		s.tracked = make(map[string]bool)
	}

	var add, remove []string
	for id := range want {
		if !s.tracked[id] {
			add = append(add, id)
		}
	}
	for id := range s.tracked {
		if !want[id] {
			remove = append(remove, id)
		}
	}

	if len(add) > 0 {
		if err := s.feed.Subscribe(add...); err != nil {
			return fmt.Errorf("feed_sync: subscribe: %w", err)
		}
	}
	if len(remove) > 0 {
		if err := s.feed.Unsubscribe(remove...); err != nil {
			return fmt.Errorf("feed_sync: unsubscribe: %w", err)
		}
	}
	s.tracked = want

	if len(add) > 0 || len(remove) > 0 {
		s.logger.InfoContext(ctx, "feed_sync: subscriptions updated",
			slog.Int("added", len(add)),
			slog.Int("removed", len(remove)),
			slog.Int("tracked", len(want)),
		)
	}
	return nil
}

// orchestratorControl adapts the orchestrator to the bot handler, binding
// restarts via the API to the application's base context.
type orchestratorControl struct {
	orch *bot.Orchestrator
	ctx  context.Context
}

func (c *orchestratorControl) StartBackground() error { return c.orch.Start(c.ctx) }

func (c *orchestratorControl) Stop() { c.orch.Stop() }

func (c *orchestratorControl) Running() bool { return c.orch.Running() }

func (c *orchestratorControl) Trigger(name string) error { return c.orch.Trigger(name) }

func (c *orchestratorControl) SetEnabled(name string, enabled bool) error {
	return c.orch.SetEnabled(name, enabled)
}

func (c *orchestratorControl) Status() domain.BotStatus { return c.orch.Status() }

// startHTTPServer adds the API server goroutines to the given errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svcs *services,
	orch *bot.Orchestrator,
) {
	checks := make(map[string]handler.Pinger, len(deps.Pingers))
	for name, ping := range deps.Pingers {
		checks[name] = ping
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(checks, a.logger),
		Bot:        handler.NewBotHandler(&orchestratorControl{orch: orch, ctx: ctx}, a.logger),
		Positions:  handler.NewPositionHandler(svcs.positions, deps.Prices, a.logger),
		Strategies: handler.NewStrategyHandler(svcs.strategies, a.logger),
		Risk:       handler.NewRiskHandler(svcs.risk, svcs.settings, a.logger),
		Settings:   handler.NewSettingsHandler(svcs.settings, a.logger),
		Audit:      handler.NewAuditHandler(deps.Audit, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
