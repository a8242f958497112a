package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"notesync/internal/connectivity"
)

// Config controls when the Scheduler starts runs.
type Config struct {
	// Debounce delays the run armed by Nudge so a burst of edits syncs once.
	Debounce time.Duration
	// Interval is the periodic retry tick. Zero disables it.
	Interval time.Duration
}

// DefaultConfig returns the settings the daemon uses.
func DefaultConfig() Config {
	return Config{
		Debounce: 2 * time.Second,
		Interval: 30 * time.Second,
	}
}

// Scheduler decides when the engine runs: on reconnect, shortly after local
// edits, on demand and on a periodic tick. Runs happen one at a time on the
// scheduler goroutine; triggers that arrive during a run collapse into one
// follow-up run.
type Scheduler struct {
	engine *Engine
	events <-chan connectivity.Event
	cfg    Config
	log    *zap.SugaredLogger

	nudgeCh chan struct{}
	syncCh  chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler wires engine to a connectivity source. events may be nil, in
// which case the engine's current online state is used as is.
func NewScheduler(engine *Engine, events <-chan connectivity.Event, cfg Config, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		engine:  engine,
		events:  events,
		cfg:     cfg,
		log:     log,
		nudgeCh: make(chan struct{}, 1),
		syncCh:  make(chan struct{}, 1),
	}
}

// Nudge reports a local edit. While online it arms a deferred run.
func (s *Scheduler) Nudge() {
	select {
	case s.nudgeCh <- struct{}{}:
	default:
	}
}

// SyncNow requests an immediate run.
func (s *Scheduler) SyncNow() {
	select {
	case s.syncCh <- struct{}{}:
	default:
	}
}

// Start runs the scheduler loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	defer close(done)
	defer cancel()
	s.loop(ctx)
}

// Stop ends the loop started by Start and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	var tick <-chan time.Time
	if s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Armed by Nudge, nil otherwise.
	var debounce *time.Timer
	var debounceC <-chan time.Time
	disarm := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce, debounceC = nil, nil
	}
	defer disarm()

	s.log.Infow("sync scheduler started", "debounce", s.cfg.Debounce, "interval", s.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sync scheduler stopped")
			return

		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				continue
			}
			s.engine.SetOnline(ev.Online)
			if !ev.Online {
				disarm()
				continue
			}
			disarm()
			s.run(ctx, "reconnect")

		case <-s.nudgeCh:
			if !s.engine.Online() {
				continue
			}
			disarm()
			debounce = time.NewTimer(s.cfg.Debounce)
			debounceC = debounce.C

		case <-debounceC:
			debounce, debounceC = nil, nil
			s.run(ctx, "edit")

		case <-s.syncCh:
			disarm()
			s.run(ctx, "manual")

		case <-tick:
			if !s.engine.Online() {
				continue
			}
			s.run(ctx, "interval")
		}
	}
}

func (s *Scheduler) run(ctx context.Context, trigger string) {
	rep, err := s.engine.Run(ctx)
	if err != nil {
		// Reported by the engine; the next trigger retries.
		s.log.Debugw("sync run failed", "trigger", trigger, "error", err)
		return
	}
	s.log.Debugw("sync run done", "trigger", trigger, "outcome", rep.Outcome)
}
