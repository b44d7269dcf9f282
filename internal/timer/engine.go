// Package timer arms a single scheduled maintenance window per node: warnings before it
// opens, a start action and an end action, all run on go-quartz scheduler goroutines.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/message"
	"github.com/woozymasta/maintsync/internal/models"
	"github.com/woozymasta/maintsync/internal/transport"
	"go.uber.org/atomic"
)

var (
	// ErrNotStarted is returned when scheduling on an engine that is not running.
	ErrNotStarted = errors.New("timer engine is not started")
	// ErrInvalidWindow is returned for a negative start delay or a non-positive duration.
	ErrInvalidWindow = errors.New("invalid maintenance window")
)

// ScheduleStore persists the armed window so it survives restarts.
type ScheduleStore interface {
	SaveSchedule(ctx context.Context, w models.Window) error
	LoadSchedule(ctx context.Context) (models.Window, error)
	ClearSchedule(ctx context.Context) error
}

// Callbacks are invoked from scheduler goroutines. Any of them may be nil.
// A job racing with Cancel can still fire once, so callbacks must tolerate
// running after cancellation.
type Callbacks struct {
	// OnWarning receives the time left until the window opens.
	OnWarning func(remaining time.Duration)
	OnStart   func()
	OnEnd     func()
}

// Plan describes a window relative to the moment it is scheduled.
type Plan struct {
	Reason     string
	Warnings   []time.Duration
	StartDelay time.Duration
	Duration   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists armed windows to s.
func WithStore(s ScheduleStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithOwner stamps armed windows with node so a restart only restores its own window.
func WithOwner(node string) Option {
	return func(e *Engine) {
		e.owner = node
	}
}

// WithClock replaces time.Now when computing window bounds.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine owns at most one armed window.
type Engine struct {
	scheduler quartz.Scheduler
	store     ScheduleStore
	broadcast *transport.Broadcaster
	started   *atomic.Bool
	now       func() time.Time
	logger    zerolog.Logger
	owner     string
	window    models.Window
	keys      []*quartz.JobKey
	// generation changes whenever the armed window is replaced or cancelled;
	// jobs of an older generation do nothing when they fire.
	generation uint64
	mu         sync.Mutex
}

// New creates an idle engine. b may be nil for single-node operation.
func New(b *transport.Broadcaster, opts ...Option) (*Engine, error) {
	scheduler, err := quartz.NewStdScheduler(quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	e := &Engine{
		scheduler: scheduler,
		broadcast: b,
		started:   atomic.NewBool(false),
		now:       time.Now,
		logger:    logger.Component("timer"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Start runs the underlying scheduler.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started.Load() {
		return
	}

	e.scheduler.Start(ctx)
	e.started.Store(e.scheduler.IsStarted())
	e.logger.Debug().Msg("Timer engine started")
}

// Stop drops all jobs and stops the scheduler. The persisted window is kept so it
// can be restored on the next start.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.started.Load() {
		e.mu.Unlock()
		return
	}

	e.generation++
	e.keys = nil
	e.window = models.Window{}
	_ = e.scheduler.Clear()
	e.scheduler.Stop()
	e.started.Store(false)
	e.mu.Unlock()

	e.scheduler.Wait(ctx)
	e.logger.Debug().Msg("Timer engine stopped")
}

// Schedule arms a window starting after plan.StartDelay and lasting plan.Duration.
// Warnings are offsets before the start; offsets that do not fit before the start are
// skipped. It returns false without error when a window is already armed.
func (e *Engine) Schedule(ctx context.Context, plan Plan, cb Callbacks) (bool, error) {
	if plan.StartDelay < 0 || plan.Duration <= 0 {
		return false, fmt.Errorf("%w: start in %s, duration %s", ErrInvalidWindow, plan.StartDelay, plan.Duration)
	}

	e.mu.Lock()

	if !e.started.Load() {
		e.mu.Unlock()
		return false, ErrNotStarted
	}
	if !e.window.IsZero() {
		e.mu.Unlock()
		return false, nil
	}

	now := e.now()
	start := now.Add(plan.StartDelay)
	w := models.Window{
		Start:    start,
		End:      start.Add(plan.Duration),
		Reason:   plan.Reason,
		Node:     e.owner,
		Warnings: normalizeWarnings(plan.Warnings),
	}

	if e.store != nil {
		if err := e.store.SaveSchedule(ctx, w); err != nil {
			e.mu.Unlock()
			return false, fmt.Errorf("persist schedule: %w", err)
		}
	}

	if err := e.arm(w, now, cb); err != nil {
		if e.store != nil {
			_ = e.store.ClearSchedule(ctx)
		}
		e.mu.Unlock()
		return false, err
	}
	e.mu.Unlock()

	e.logger.Info().Time("start", w.Start).Time("end", w.End).Str("reason", w.Reason).Msg("Maintenance window scheduled")
	e.broadcast.Send(ctx, message.TimerScheduled, map[string]string{
		message.KeyStart:  message.FormatMillis(w.Start),
		message.KeyEnd:    message.FormatMillis(w.End),
		message.KeyReason: w.Reason,
	})
	return true, nil
}

// Restore re-arms the persisted window, if any, after a restart. A window whose end has
// passed is discarded. A window armed by another node is left alone: its owner runs it
// and may still cancel it. A window already open fires its start action immediately.
// Nothing is broadcast.
func (e *Engine) Restore(ctx context.Context, warnings []time.Duration, cb Callbacks) (bool, error) {
	if e.store == nil {
		return false, nil
	}

	w, err := e.store.LoadSchedule(ctx)
	if err != nil {
		return false, fmt.Errorf("load schedule: %w", err)
	}
	if w.IsZero() {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started.Load() {
		return false, ErrNotStarted
	}
	if !e.window.IsZero() {
		return false, nil
	}

	now := e.now()
	if !w.End.After(now) || !w.Start.Before(w.End) {
		e.logger.Info().Time("end", w.End).Msg("Discarding expired maintenance window")
		return false, e.store.ClearSchedule(ctx)
	}
	if w.Node != e.owner {
		e.logger.Info().Str("owner", w.Node).Time("start", w.Start).Msg("Skipping maintenance window armed by another node")
		return false, nil
	}

	w.Warnings = normalizeWarnings(warnings)
	if err := e.arm(w, now, cb); err != nil {
		return false, err
	}

	e.logger.Info().Time("start", w.Start).Time("end", w.End).Msg("Maintenance window restored")
	return true, nil
}

// Cancel disarms the current window. It returns false without error when none is armed.
func (e *Engine) Cancel(ctx context.Context) (bool, error) {
	e.mu.Lock()

	if e.window.IsZero() {
		e.mu.Unlock()
		return false, nil
	}

	if e.store != nil {
		if err := e.store.ClearSchedule(ctx); err != nil {
			e.mu.Unlock()
			return false, fmt.Errorf("clear schedule: %w", err)
		}
	}

	e.disarm()
	e.mu.Unlock()

	e.logger.Info().Msg("Maintenance window cancelled")
	e.broadcast.Send(ctx, message.TimerCancelled, nil)
	return true, nil
}

// IsScheduled reports whether a window is armed.
func (e *Engine) IsScheduled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return !e.window.IsZero()
}

// Window returns the armed window, zero when idle.
func (e *Engine) Window() models.Window {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.window
}

// Remaining returns the time until the window opens, or until it closes once open.
func (e *Engine) Remaining() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.window.Remaining(e.now())
}

// arm registers the jobs of w and makes it current. Caller holds e.mu.
func (e *Engine) arm(w models.Window, now time.Time, cb Callbacks) error {
	e.generation++
	gen := e.generation
	e.window = w
	e.keys = e.keys[:0]

	for _, offset := range w.Warnings {
		at := w.Start.Add(-offset)
		if !at.After(now) {
			continue
		}

		remaining := offset
		if err := e.schedule(at.Sub(now), func() {
			if e.current(gen) && cb.OnWarning != nil {
				cb.OnWarning(remaining)
			}
		}); err != nil {
			e.disarm()
			return err
		}
	}

	startIn := max(w.Start.Sub(now), 0)
	if err := e.schedule(startIn, func() {
		if e.current(gen) && cb.OnStart != nil {
			cb.OnStart()
		}
	}); err != nil {
		e.disarm()
		return err
	}

	if err := e.schedule(w.End.Sub(now), func() { e.finish(gen, cb) }); err != nil {
		e.disarm()
		return err
	}

	return nil
}

// finish runs the end action and then clears the window.
func (e *Engine) finish(gen uint64, cb Callbacks) {
	if !e.current(gen) {
		return
	}

	if cb.OnEnd != nil {
		cb.OnEnd()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.generation != gen {
		return
	}

	e.generation++
	e.window = models.Window{}
	e.keys = nil

	if e.store != nil {
		if err := e.store.ClearSchedule(context.Background()); err != nil {
			e.logger.Error().Err(err).Msg("Failed to clear completed schedule")
		}
	}
	e.logger.Info().Msg("Maintenance window completed")
}

func (e *Engine) schedule(delay time.Duration, fn func()) error {
	fj := job.NewFunctionJob[bool](func(_ context.Context) (bool, error) {
		fn()
		return true, nil
	})

	key := quartz.NewJobKey(uuid.NewString())
	if err := e.scheduler.ScheduleJob(quartz.NewJobDetail(fj, key), quartz.NewRunOnceTrigger(delay)); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	e.keys = append(e.keys, key)
	return nil
}

// disarm deletes pending jobs and forgets the window. Caller holds e.mu.
func (e *Engine) disarm() {
	e.generation++
	for _, key := range e.keys {
		// fired run-once jobs are already gone
		_ = e.scheduler.DeleteJob(key)
	}
	e.keys = nil
	e.window = models.Window{}
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.generation == gen
}

// normalizeWarnings drops non-positive and duplicate offsets and sorts them descending.
func normalizeWarnings(in []time.Duration) []time.Duration {
	seen := make(map[time.Duration]struct{}, len(in))
	out := make([]time.Duration, 0, len(in))
	for _, d := range in {
		if d <= 0 {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}
