// Package watcher signals when wall-clock time crosses the end of the calling
// window.
//
// A Watcher is a small state machine (idle, armed, fired) driven by one owner
// goroutine. Arm, Disarm, Poll and ticker ticks are all serialized through
// that goroutine, so arming and checking never race. Every tick is a level
// check (now >= windowEnd), which makes a missed tick harmless: the next one
// fires. Each Arm starts a new generation and each generation fires at most
// once; subscribers discard events from generations that have since been
// superseded.
package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
)

// State of the watcher
type State string

const (
	StateIdle  State = "idle"
	StateArmed State = "armed"
	StateFired State = "fired"
)

// Event is published once per generation when the window end is reached
type Event struct {
	Generation uint64    `json:"generation"`
	WindowEnd  int64     `json:"window_end"`
	FiredAt    time.Time `json:"fired_at"`
}

// Config contains configuration for the watcher
type Config struct {
	Interval time.Duration // how often to check for window end (default: 5 seconds)
	Now      func() time.Time
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second}
}

// ConfigFromAm reads the watcher config section
func ConfigFromAm(cfg am.WatcherConfig) Config {
	c := DefaultConfig()
	if cfg.IntervalSeconds > 0 {
		c.Interval = time.Duration(cfg.IntervalSeconds) * time.Second
	}
	return c
}

// Stats is a snapshot of watcher state
type Stats struct {
	State      State      `json:"state"`
	Generation uint64     `json:"generation"`
	WindowEnd  int64      `json:"window_end"`
	FiredAt    *time.Time `json:"fired_at,omitempty"`
	LastTickAt *time.Time `json:"last_tick_at,omitempty"`
	Ticks      int64      `json:"ticks"`
	Fires      int64      `json:"fires"`
	Stale      int64      `json:"stale_discarded"`
	Dropped    int64      `json:"dropped"`
}

type commandKind int

const (
	cmdArm commandKind = iota
	cmdDisarm
	cmdPoll
)

type command struct {
	kind      commandKind
	windowEnd int64
	now       time.Time
	reply     chan reply
}

type reply struct {
	generation uint64
	fired      bool
}

// Watcher watches for the end of the calling window
type Watcher struct {
	interval time.Duration
	now      func() time.Time
	logger   *zap.SugaredLogger

	cmds   chan command
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	generation atomic.Uint64
	stale      atomic.Int64
	dropped    atomic.Int64

	// written only by the owner goroutine, read under mu
	mu         sync.Mutex
	state      State
	windowEnd  int64
	firedAt    time.Time
	lastTickAt time.Time
	ticks      int64
	fires      int64
	subs       map[*Subscription]struct{}
	started    bool
}

// New creates a watcher. Commands fail with ErrServiceUnavailable until Start.
func New(cfg Config, log *zap.SugaredLogger) *Watcher {
	return NewWithContext(context.Background(), cfg, log)
}

// NewWithContext creates a watcher with a parent context
func NewWithContext(ctx context.Context, cfg Config, log *zap.SugaredLogger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.ComponentLogger("watcher")
	}
	wctx, cancel := context.WithCancel(ctx)
	return &Watcher{
		interval: cfg.Interval,
		now:      cfg.Now,
		logger:   log,
		cmds:     make(chan command),
		ctx:      wctx,
		cancel:   cancel,
		state:    StateIdle,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Start begins the owner loop
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()
	w.logger.Infow("Window watcher started", "interval", w.interval)
}

// Stop ends the owner loop and waits for it
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
	w.closeSubscribers()
	w.logger.Infow("Window watcher stopped")
}

// Arm watches for windowEnd (epoch seconds), superseding any previous arm.
// It returns the new generation.
func (w *Watcher) Arm(ctx context.Context, windowEnd int64) (uint64, error) {
	r, err := w.send(ctx, command{kind: cmdArm, windowEnd: windowEnd})
	return r.generation, err
}

// Disarm returns the watcher to idle. Events already published become stale.
func (w *Watcher) Disarm(ctx context.Context) error {
	_, err := w.send(ctx, command{kind: cmdDisarm})
	return err
}

// Poll runs one level check at now through the owner loop and reports
// whether it fired
func (w *Watcher) Poll(ctx context.Context, now time.Time) (bool, error) {
	r, err := w.send(ctx, command{kind: cmdPoll, now: now})
	return r.fired, err
}

// Generation returns the current arm generation (0 before the first arm)
func (w *Watcher) Generation() uint64 {
	return w.generation.Load()
}

// State returns the current state
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stats returns a snapshot of watcher state and counters
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{
		State:      w.state,
		Generation: w.generation.Load(),
		WindowEnd:  w.windowEnd,
		Ticks:      w.ticks,
		Fires:      w.fires,
		Stale:      w.stale.Load(),
		Dropped:    w.dropped.Load(),
	}
	if !w.firedAt.IsZero() {
		t := w.firedAt
		s.FiredAt = &t
	}
	if !w.lastTickAt.IsZero() {
		t := w.lastTickAt
		s.LastTickAt = &t
	}
	return s
}

// CheckCurrent returns an error wrapping errors.ErrStaleFire when ev belongs
// to a superseded generation
func (w *Watcher) CheckCurrent(ev Event) error {
	if cur := w.generation.Load(); ev.Generation != cur {
		return errors.Wrapf(errors.ErrStaleFire, "generation %d superseded by %d", ev.Generation, cur)
	}
	return nil
}

func (w *Watcher) send(ctx context.Context, cmd command) (reply, error) {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return reply{}, errors.Wrap(errors.ErrServiceUnavailable, "watcher not started")
	}

	cmd.reply = make(chan reply, 1)
	select {
	case w.cmds <- cmd:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-w.ctx.Done():
		return reply{}, errors.Wrap(errors.ErrServiceUnavailable, "watcher stopped")
	}
	select {
	case r := <-cmd.reply:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// run is the owner loop; it alone mutates state and owns the ticker
func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.closeSubscribers()
			return

		case <-ticker.C:
			now := w.now()
			w.mu.Lock()
			w.lastTickAt = now
			w.ticks++
			w.mu.Unlock()
			w.check(now)

		case cmd := <-w.cmds:
			var r reply
			switch cmd.kind {
			case cmdArm:
				r.generation = w.arm(cmd.windowEnd)
				ticker.Reset(w.interval)
			case cmdDisarm:
				w.disarm()
			case cmdPoll:
				r.fired = w.check(cmd.now)
			}
			cmd.reply <- r
		}
	}
}

func (w *Watcher) arm(windowEnd int64) uint64 {
	gen := w.generation.Add(1)
	w.mu.Lock()
	w.state = StateArmed
	w.windowEnd = windowEnd
	w.firedAt = time.Time{}
	w.mu.Unlock()

	w.logger.Infow("Window watcher armed",
		logger.FieldGeneration, gen,
		logger.FieldWindowEnd, time.Unix(windowEnd, 0).Format(time.RFC3339))
	return gen
}

func (w *Watcher) disarm() {
	// bump so events from the last arm read as stale
	gen := w.generation.Add(1)
	w.mu.Lock()
	w.state = StateIdle
	w.windowEnd = 0
	w.firedAt = time.Time{}
	w.mu.Unlock()
	w.logger.Infow("Window watcher disarmed", logger.FieldGeneration, gen)
}

// check fires when armed and now has reached the window end
func (w *Watcher) check(now time.Time) bool {
	w.mu.Lock()
	if w.state != StateArmed || now.Unix() < w.windowEnd {
		w.mu.Unlock()
		return false
	}
	w.state = StateFired
	w.firedAt = now
	w.fires++
	ev := Event{Generation: w.generation.Load(), WindowEnd: w.windowEnd, FiredAt: now}
	// non-blocking sends under mu so Close cannot race a send
	var dropped int64
	for s := range w.subs {
		select {
		case s.ch <- ev:
		default:
			dropped++
		}
	}
	w.mu.Unlock()

	w.logger.Infow("Calling window ended",
		logger.FieldGeneration, ev.Generation,
		logger.FieldWindowEnd, time.Unix(ev.WindowEnd, 0).Format(time.RFC3339))
	if dropped > 0 {
		w.dropped.Add(dropped)
		w.logger.Warnw("Subscriber buffer full, dropping window event",
			logger.FieldGeneration, ev.Generation, logger.FieldCount, dropped)
	}
	return true
}

func (w *Watcher) closeSubscribers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for s := range w.subs {
		close(s.ch)
		delete(w.subs, s)
	}
}
