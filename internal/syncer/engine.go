// Package syncer drains the device's operation queue against the remote
// authority.
//
// A run takes a snapshot of the queue and walks it strictly in id order. Each
// operation is sent once; on success the store is updated and the operation
// removed in one transaction. The first failure ends the run and leaves the
// failed operation and everything after it queued for the next run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notesync/internal/remote"
	"notesync/store"
)

// Queue is the part of the local store the engine needs.
type Queue interface {
	ListOperations(ctx context.Context) ([]store.Operation, error)
	CountOperations(ctx context.Context) (int, error)
	ConfirmCreate(ctx context.Context, op store.Operation, serverID int64) error
	ConfirmOperation(ctx context.Context, op store.Operation) error
	AcquireSyncLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseSyncLease(ctx context.Context, owner string) error
}

// ErrLeaseLost means another process took over the queue mid-run, which only
// happens after this engine failed to renew in time.
var ErrLeaseLost = errors.New("sync lease lost")

const defaultLeaseTTL = 2 * time.Minute

// Remote is the remote authority, one call per operation.
type Remote interface {
	CreateNote(ctx context.Context, req remote.CreateRequest) (remote.Note, error)
	UpdateNote(ctx context.Context, serverID int64, req remote.UpdateRequest) (remote.Note, error)
	DeleteNote(ctx context.Context, serverID int64) error
}

// Outcome summarizes how a run ended.
type Outcome string

const (
	// OutcomeSynced means every operation in the snapshot was applied.
	OutcomeSynced Outcome = "synced"
	// OutcomePartial means some snapshot operations are still queued; they will be retried.
	OutcomePartial Outcome = "partial"
	// OutcomeBusy means another run, in this process or another one sharing
	// the store, was already in progress; nothing was done.
	OutcomeBusy Outcome = "busy"
	// OutcomeOffline means the engine is offline; nothing was done.
	OutcomeOffline Outcome = "offline"
)

// Report describes one run.
type Report struct {
	Outcome   Outcome
	Total     int // operations in the snapshot
	Applied   int
	Skipped   int
	Remaining int // queue length after the run
	Err       error
	Started   time.Time
	Finished  time.Time
}

func (r Report) String() string {
	switch r.Outcome {
	case OutcomeSynced:
		if r.Remaining > 0 {
			return fmt.Sprintf("fully synced, %d newer changes pending", r.Remaining)
		}
		return "fully synced"
	case OutcomePartial:
		return fmt.Sprintf("partially synced, %d pending, will retry", r.Remaining)
	case OutcomeOffline:
		return fmt.Sprintf("offline, %d pending", r.Remaining)
	default:
		return "sync already in progress"
	}
}

// Status is a point-in-time view of the engine.
type Status struct {
	Online  bool
	Running bool
	Last    Report
}

// Engine runs sync passes. Only one pass runs at a time, both within the
// process and across processes holding the same store (see
// store.AcquireSyncLease).
type Engine struct {
	queue       Queue
	remote      Remote
	log         *zap.SugaredLogger
	callTimeout time.Duration
	partitions  int
	leaseTTL    time.Duration
	owner       string
	onReport    func(Report)
	now         func() time.Time

	online  atomic.Bool
	running atomic.Bool

	mu   sync.Mutex
	last Report
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithCallTimeout bounds each remote call. A call that exceeds it fails like any other.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithPartitioning processes the queue as independent per-note sublists, up
// to n of them at a time. Order within a note is preserved and a failure only
// stalls that note. n <= 1 keeps the single global FIFO.
func WithPartitioning(n int) Option {
	return func(e *Engine) { e.partitions = n }
}

// WithLeaseTTL sets how long a run may go without renewing its claim on the
// queue before another process may take over.
func WithLeaseTTL(d time.Duration) Option {
	return func(e *Engine) { e.leaseTTL = d }
}

// WithReportHook is called after every run that did work or attempted to.
func WithReportHook(fn func(Report)) Option {
	return func(e *Engine) { e.onReport = fn }
}

// WithOnline sets the initial connectivity state. Engines start online.
func WithOnline(online bool) Option {
	return func(e *Engine) { e.online.Store(online) }
}

// New creates an Engine draining q against r.
func New(q Queue, r Remote, opts ...Option) *Engine {
	e := &Engine{
		queue:  q,
		remote: r,
		log:      zap.NewNop().Sugar(),
		now:      time.Now,
		leaseTTL: defaultLeaseTTL,
		owner:    uuid.NewString(),
	}
	e.online.Store(true)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetOnline records a connectivity transition.
func (e *Engine) SetOnline(online bool) {
	if e.online.Swap(online) != online {
		e.log.Infow("connectivity changed", "online", online)
	}
}

// Online reports the last known connectivity state.
func (e *Engine) Online() bool {
	return e.online.Load()
}

// Status returns the current state and the last completed report.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Online:  e.online.Load(),
		Running: e.running.Load(),
		Last:    e.last,
	}
}

// Run performs one sync pass. A call while another pass is running returns
// an OutcomeBusy report and does nothing. The returned error is the failure
// that stopped the pass, if any; it is also in Report.Err.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	if !e.online.Load() {
		rep := Report{Outcome: OutcomeOffline, Started: e.now()}
		rep.Remaining, _ = e.queue.CountOperations(ctx)
		rep.Finished = rep.Started
		return rep, nil
	}
	if !e.running.CompareAndSwap(false, true) {
		e.log.Debug("sync requested while running, ignoring")
		return Report{Outcome: OutcomeBusy}, nil
	}
	defer e.running.Store(false)

	rep := Report{Started: e.now()}

	held, err := e.queue.AcquireSyncLease(ctx, e.owner, e.ttl())
	if err != nil {
		rep.Err = err
		return e.finish(ctx, rep), rep.Err
	}
	if !held {
		e.log.Debug("another process is syncing this store, ignoring")
		return Report{Outcome: OutcomeBusy}, nil
	}
	defer func() {
		if err := e.queue.ReleaseSyncLease(context.WithoutCancel(ctx), e.owner); err != nil {
			e.log.Warnf("failed to release sync lease: %v", err)
		}
	}()

	ops, err := e.queue.ListOperations(ctx)
	if err != nil {
		rep.Err = fmt.Errorf("failed to read queue: %w", err)
		return e.finish(ctx, rep), rep.Err
	}
	rep.Total = len(ops)

	if len(ops) > 0 {
		e.log.Infow("sync started", "pending", len(ops))
		var res result
		if e.partitions > 1 {
			res = e.runPartitioned(ctx, ops)
		} else {
			res = e.runOrdered(ctx, ops)
		}
		rep.Applied, rep.Skipped, rep.Err = res.applied, res.skipped, res.err
	}

	rep = e.finish(ctx, rep)
	return rep, rep.Err
}

func (e *Engine) finish(ctx context.Context, rep Report) Report {
	remaining, err := e.queue.CountOperations(ctx)
	if err != nil {
		e.log.Warnf("failed to count remaining operations: %v", err)
		remaining = rep.Total - rep.Applied
	}
	rep.Remaining = remaining
	rep.Finished = e.now()

	// Operations enqueued during the run belong to the next one.
	if rep.Err == nil && rep.Skipped == 0 && rep.Applied == rep.Total {
		rep.Outcome = OutcomeSynced
	} else {
		rep.Outcome = OutcomePartial
	}

	switch {
	case rep.Err != nil:
		e.log.Warnw("sync stopped, will retry", "applied", rep.Applied, "remaining", rep.Remaining, "error", rep.Err)
	case rep.Total == 0:
		e.log.Debug("nothing to sync")
	default:
		e.log.Infow("sync finished", "outcome", rep.Outcome, "applied", rep.Applied, "skipped", rep.Skipped, "remaining", rep.Remaining)
	}

	e.mu.Lock()
	e.last = rep
	e.mu.Unlock()

	if e.onReport != nil {
		e.onReport(rep)
	}
	return rep
}

type result struct {
	applied int
	skipped int
	err     error
}

// runOrdered applies ops strictly in order and stops at the first failure.
func (e *Engine) runOrdered(ctx context.Context, ops []store.Operation) result {
	var res result
	// Server ids confirmed earlier in this pass, for ops snapshotted before them.
	resolved := make(map[string]int64)

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			res.err = err
			return res
		}
		if err := e.renewLease(ctx); err != nil {
			res.err = err
			return res
		}

		applied, err := e.apply(ctx, op, resolved)
		if err != nil {
			res.err = fmt.Errorf("%s operation %d for note %s: %w", op.Type, op.ID, op.ClientID, err)
			return res
		}
		if applied {
			res.applied++
		} else {
			res.skipped++
		}
	}
	return res
}

// apply sends one operation and confirms it locally. It returns false with
// no error when the operation has to wait for its note's create.
func (e *Engine) apply(ctx context.Context, op store.Operation, resolved map[string]int64) (bool, error) {
	serverID := op.ServerID
	if serverID == nil {
		if id, ok := resolved[op.ClientID]; ok {
			serverID = &id
		}
	}

	switch op.Type {
	case store.OpCreate:
		callCtx, cancel := e.callContext(ctx)
		note, err := e.remote.CreateNote(callCtx, remote.CreateRequest{
			ClientID: op.ClientID,
			Content:  op.Content,
			Created:  op.Created,
			Updated:  op.Updated,
		})
		cancel()
		if err != nil {
			return false, err
		}
		if err := e.queue.ConfirmCreate(ctx, op, note.ID); err != nil {
			return false, fmt.Errorf("failed to confirm create: %w", err)
		}
		resolved[op.ClientID] = note.ID
		e.log.Debugw("created remotely", "client_id", op.ClientID, "server_id", note.ID)

	case store.OpUpdate:
		if serverID == nil {
			e.log.Debugw("update waits for create", "client_id", op.ClientID, "op_id", op.ID)
			return false, nil
		}
		callCtx, cancel := e.callContext(ctx)
		_, err := e.remote.UpdateNote(callCtx, *serverID, remote.UpdateRequest{
			Content: op.Content,
			Updated: op.Updated,
		})
		cancel()
		if err != nil {
			return false, err
		}
		if err := e.queue.ConfirmOperation(ctx, op); err != nil {
			return false, fmt.Errorf("failed to confirm update: %w", err)
		}

	case store.OpDelete:
		if serverID == nil {
			e.log.Debugw("delete waits for create", "client_id", op.ClientID, "op_id", op.ID)
			return false, nil
		}
		callCtx, cancel := e.callContext(ctx)
		err := e.remote.DeleteNote(callCtx, *serverID)
		cancel()
		if err != nil && !remote.IsNotFound(err) {
			return false, err
		}
		if err := e.queue.ConfirmOperation(ctx, op); err != nil {
			return false, fmt.Errorf("failed to confirm delete: %w", err)
		}

	default:
		return false, fmt.Errorf("unknown operation type %q", op.Type)
	}
	return true, nil
}

// ttl keeps the lease longer than any single remote call.
func (e *Engine) ttl() time.Duration {
	if e.callTimeout > 0 && 2*e.callTimeout > e.leaseTTL {
		return 2 * e.callTimeout
	}
	return e.leaseTTL
}

func (e *Engine) renewLease(ctx context.Context) error {
	held, err := e.queue.AcquireSyncLease(ctx, e.owner, e.ttl())
	if err != nil {
		return err
	}
	if !held {
		return ErrLeaseLost
	}
	return nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.callTimeout)
}
