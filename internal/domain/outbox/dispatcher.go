package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// HandlerFunc executes one task. A nil return acknowledges the task; any
// error reschedules it with backoff until MaxAttempts is reached.
type HandlerFunc func(ctx context.Context, task Task) error

// DispatcherConfig tunes the polling loop.
type DispatcherConfig struct {
	// Interval between polls for due tasks.
	Interval time.Duration
	// BatchSize is the maximum number of tasks claimed per poll.
	BatchSize int
	// MaxAttempts before a task is parked as failed.
	MaxAttempts int
	// BaseBackoff is doubled on every failed attempt.
	BaseBackoff time.Duration
}

func (c *DispatcherConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
}

// Dispatcher drains the outbox in the background. One instance per process is
// enough; multiple instances stay correct as long as the repository's
// ClaimDue claims exclusively.
type Dispatcher struct {
	cfg      DispatcherConfig
	repo     Repository
	handlers map[Kind]HandlerFunc
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over the given repository. Handlers are
// registered per task kind with Handle before Run is called.
func NewDispatcher(cfg DispatcherConfig, repo Repository) *Dispatcher {
	cfg.setDefaults()
	return &Dispatcher{
		cfg:      cfg,
		repo:     repo,
		handlers: make(map[Kind]HandlerFunc),
		now:      time.Now,
	}
}

// Handle registers the handler for a task kind, replacing any previous one.
func (d *Dispatcher) Handle(kind Kind, fn HandlerFunc) {
	d.handlers[kind] = fn
}

// Run polls for due tasks until the context is cancelled. It returns nil on
// cancellation so it can run under an errgroup next to the HTTP server.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil {
				zctx.From(ctx).Error("outbox poll failed", zap.Error(err))
			}
		}
	}
}

// Drain claims and executes every currently-due task once. Exposed separately
// from Run so tests and shutdown paths can pump the queue synchronously.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		tasks, err := d.repo.ClaimDue(ctx, d.now(), d.cfg.BatchSize)
		if err != nil {
			return errors.Wrap(err, "claim due tasks")
		}
		if len(tasks) == 0 {
			return nil
		}
		for _, task := range tasks {
			d.dispatch(ctx, task)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, task Task) {
	lg := zctx.From(ctx).With(
		zap.String("task_id", task.ID),
		zap.String("order_id", task.OrderID),
		zap.String("kind", string(task.Kind)),
	)

	handler, ok := d.handlers[task.Kind]
	if !ok {
		lg.Error("no handler registered, parking task")
		if err := d.repo.MarkFailed(ctx, task.ID); err != nil {
			lg.Error("mark failed", zap.Error(err))
		}
		return
	}

	if err := handler(ctx, task); err != nil {
		attempts := task.Attempts + 1
		if attempts >= d.cfg.MaxAttempts {
			lg.Error("task exhausted attempts, parking for manual reconciliation",
				zap.Int("attempts", attempts), zap.Error(err))
			if mErr := d.repo.MarkFailed(ctx, task.ID); mErr != nil {
				lg.Error("mark failed", zap.Error(mErr))
			}
			return
		}

		next := d.now().Add(d.backoff(attempts))
		lg.Warn("task failed, rescheduling",
			zap.Int("attempts", attempts),
			zap.Time("next_attempt_at", next),
			zap.Error(err))
		if rErr := d.repo.Reschedule(ctx, task.ID, attempts, next); rErr != nil {
			lg.Error("reschedule", zap.Error(rErr))
		}
		return
	}

	if err := d.repo.MarkDone(ctx, task.ID); err != nil {
		lg.Error("mark done", zap.Error(err))
	}
}

// backoff doubles per attempt: base, 2*base, 4*base, ...
func (d *Dispatcher) backoff(attempts int) time.Duration {
	backoff := d.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
	}
	return backoff
}
