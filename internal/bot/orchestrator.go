// Package bot runs the recurring trading tasks: signal consumption, exit
// evaluation, order reconciliation, feed maintenance, and archival. Each task
// is an interval loop; the orchestrator owns their goroutines and exposes the
// control surface the HTTP API drives (start, stop, trigger, status).
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// TaskFunc is one run of a recurring task.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc

	mu         sync.Mutex
	enabled    bool
	lastRun    *time.Time
	runCount   int64
	errorCount int64
	lastError  string
	trigger    chan struct{}
}

func (t *task) status() domain.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.TaskStatus{
		Name:            t.name,
		Enabled:         t.enabled,
		IntervalSeconds: int(t.interval / time.Second),
		LastRun:         t.lastRun,
		RunCount:        t.runCount,
		ErrorCount:      t.errorCount,
		LastError:       t.lastError,
	}
}

// Orchestrator schedules the bot's recurring tasks. Tasks are registered
// before Start; Start may be called again after Stop.
type Orchestrator struct {
	logger *slog.Logger
	audit  domain.AuditStore

	mu        sync.Mutex
	tasks     []*task
	byName    map[string]*task
	cancel    context.CancelFunc
	group     *errgroup.Group
	startedAt *time.Time
	stoppedAt *time.Time
	lastErr   string
}

// NewOrchestrator creates an empty Orchestrator.
func NewOrchestrator(audit domain.AuditStore, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		logger: logger,
		audit:  audit,
		byName: make(map[string]*task),
	}
}

// Register adds a recurring task. Must be called before Start.
func (o *Orchestrator) Register(name string, interval time.Duration, fn TaskFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := &task{
		name:     name,
		interval: interval,
		fn:       fn,
		enabled:  true,
		trigger:  make(chan struct{}, 1),
	}
	o.tasks = append(o.tasks, t)
	o.byName[name] = t
}

// Start launches one goroutine per registered task. It is a no-op while the
// orchestrator is already running.
func (o *Orchestrator) Start(parent context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return fmt.Errorf("bot: already running")
	}
	if len(o.tasks) == 0 {
		return fmt.Errorf("bot: no tasks registered")
	}

	ctx, cancel := context.WithCancel(parent)
	g, ctx := errgroup.WithContext(ctx)
	o.cancel = cancel
	o.group = g
	now := time.Now().UTC()
	o.startedAt = &now
	o.stoppedAt = nil
	o.lastErr = ""

	for _, t := range o.tasks {
		t := t
		g.Go(func() error {
			o.runLoop(ctx, t)
			return nil
		})
	}

	o.logger.InfoContext(ctx, "bot: started",
		slog.Int("tasks", len(o.tasks)),
	)
	o.auditAppend(ctx, "bot_started", map[string]any{"tasks": len(o.tasks)})
	return nil
}

// Stop cancels all task loops and waits for them to drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, g := o.cancel, o.group
	o.cancel, o.group = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = g.Wait()

	o.mu.Lock()
	now := time.Now().UTC()
	o.stoppedAt = &now
	o.mu.Unlock()

	o.logger.Info("bot: stopped")
	o.auditAppend(context.Background(), "bot_stopped", nil)
}

// Running reports whether the task loops are live.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

// Trigger queues an immediate out-of-schedule run of one task.
func (o *Orchestrator) Trigger(name string) error {
	o.mu.Lock()
	t, ok := o.byName[name]
	running := o.cancel != nil
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("bot: unknown task %q: %w", name, domain.ErrNotFound)
	}
	if !running {
		return fmt.Errorf("bot: not running")
	}
	select {
	case t.trigger <- struct{}{}:
	default:
		// A trigger is already queued.
	}
	return nil
}

// SetEnabled pauses or resumes one task without stopping its loop.
func (o *Orchestrator) SetEnabled(name string, enabled bool) error {
	o.mu.Lock()
	t, ok := o.byName[name]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("bot: unknown task %q: %w", name, domain.ErrNotFound)
	}
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
	o.logger.Info("bot: task toggled",
		slog.String("task", name),
		slog.Bool("enabled", enabled),
	)
	return nil
}

// Status summarizes the orchestrator and every task.
func (o *Orchestrator) Status() domain.BotStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := domain.BotStatus{
		Status:       "stopped",
		StartedAt:    o.startedAt,
		StoppedAt:    o.stoppedAt,
		ErrorMessage: o.lastErr,
	}
	if o.cancel != nil {
		st.Status = "running"
		if o.startedAt != nil {
			st.UptimeSeconds = int64(time.Since(*o.startedAt) / time.Second)
		}
	}
	for _, t := range o.tasks {
		st.Tasks = append(st.Tasks, t.status())
	}
	return st
}

// runLoop drives one task: an immediate run, then the ticker, with manual
// triggers served in between. A task failure is counted and logged, never
// fatal to the loop.
func (o *Orchestrator) runLoop(ctx context.Context, t *task) {
	o.logger.InfoContext(ctx, "bot: task loop started",
		slog.String("task", t.name),
		slog.Duration("interval", t.interval),
	)

	o.runOnce(ctx, t)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("bot: task loop stopped", slog.String("task", t.name))
			return
		case <-ticker.C:
			o.runOnce(ctx, t)
		case <-t.trigger:
			o.runOnce(ctx, t)
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context, t *task) {
	t.mu.Lock()
	enabled := t.enabled
	t.mu.Unlock()
	if !enabled || ctx.Err() != nil {
		return
	}

	start := time.Now().UTC()
	err := t.fn(ctx)

	t.mu.Lock()
	t.lastRun = &start
	t.runCount++
	if err != nil && ctx.Err() == nil {
		t.errorCount++
		t.lastError = err.Error()
	}
	t.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		o.mu.Lock()
		o.lastErr = fmt.Sprintf("%s: %s", t.name, err.Error())
		o.mu.Unlock()
		o.logger.ErrorContext(ctx, "bot: task run failed",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) auditAppend(ctx context.Context, action string, detail map[string]any) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Append(ctx, &domain.AuditEntry{Action: action, Detail: detail}); err != nil {
		o.logger.Warn("bot: audit append failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
