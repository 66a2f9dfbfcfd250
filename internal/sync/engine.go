package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultSyncInterval is how often the periodic cycle runs when the caller
// does not override it.
const DefaultSyncInterval = 30 * time.Second

const (
	backoffBase = 2 * time.Second
	backoffMax  = 5 * time.Minute
	pullLimit   = 500
)

// ErrNotInitialized is returned when a cycle runs before Init.
var ErrNotInitialized = errors.New("sync engine not initialized")

// Store is the client-side persistence the engine drives: the local record
// collections, the pending operation queue, and the persisted client state
// (clientId and lastSync cursor). Implemented by localstore.Store.
type Store interface {
	// ClientState returns the stable client id (generating it on first call)
	// and the persisted pull cursor.
	ClientState() (clientID string, lastSync int64, err error)

	// Retryable returns queued operations with status pending, in enqueue
	// order.
	Retryable() ([]Operation, error)
	// MarkSynced marks the given operation ids as acknowledged; they leave
	// retry consideration.
	MarkSynced(opIDs []string) error
	// MarkError marks an operation as failed with a reason. It stays
	// inspectable but is not pushed again until an operator requeues it.
	MarkError(opID, reason string) error

	// ApplyRemote applies a pull batch and advances the cursor in a single
	// transaction: either every entry lands and the cursor moves, or nothing
	// changes. Remote applies must not re-enqueue pending operations.
	ApplyRemote(entries []ChangeEntry, cursor int64) (ApplyStats, error)
}

// Transport moves batches between client and server. Both calls must honor
// ctx cancellation and leave no local side effects on failure.
type Transport interface {
	Push(ctx context.Context, ops []Operation) ([]OpResult, error)
	Pull(ctx context.Context, after int64, clientID string, limit int) (*PullResult, error)
}

// ApplyStats summarises one remote batch application.
type ApplyStats struct {
	Applied int
	Skipped int
}

// CycleStats summarises one push-then-pull cycle.
type CycleStats struct {
	Pushed     int
	Superseded int
	Failed     int
	ApplyStats
	Cursor int64
}

// Options tunes an Engine.
type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Engine orchestrates the client side of sync: it pushes the pending queue,
// pulls the change log since the cursor, resolves conflicts into the local
// store, and advances the cursor. One Engine per open local store; construct
// it explicitly and pass it to callers.
type Engine struct {
	store     Store
	transport Transport
	interval  time.Duration
	log       *slog.Logger

	clientID string
	lastSync atomic.Int64
	inFlight atomic.Bool
	failures int
}

// New creates an Engine. Call Init before the first cycle.
func New(store Store, transport Transport, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSyncInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:     store,
		transport: transport,
		interval:  opts.Interval,
		log:       opts.Logger,
	}
}

// Init loads the persisted client id and cursor. The client id is generated
// once and stays stable across restarts of this client instance.
func (e *Engine) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clientID, lastSync, err := e.store.ClientState()
	if err != nil {
		return fmt.Errorf("load client state: %w", err)
	}
	e.clientID = clientID
	e.lastSync.Store(lastSync)
	e.log.Debug("sync engine initialized", "client_id", clientID, "cursor", lastSync)
	return nil
}

// ClientID returns the stable client instance id. Empty before Init.
func (e *Engine) ClientID() string { return e.clientID }

// Cursor returns the current pull cursor.
func (e *Engine) Cursor() int64 { return e.lastSync.Load() }

// Run executes the periodic cycle until ctx is cancelled. Transport failures
// stretch the next tick with exponential backoff; a cycle already in flight
// suppresses the tick.
func (e *Engine) Run(ctx context.Context) {
	timer := time.NewTimer(e.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		_, err := e.SyncNow(ctx)
		switch {
		case err == nil || errors.Is(err, ErrCycleInFlight):
			e.failures = 0
			timer.Reset(e.interval)
		case errors.Is(err, context.Canceled):
			return
		default:
			e.failures++
			d := e.backoff()
			e.log.Warn("sync cycle failed", "err", err, "retry_in", d.String())
			timer.Reset(d)
		}
	}
}

// ErrCycleInFlight reports that a cycle was suppressed by the single-flight
// guard.
var ErrCycleInFlight = errors.New("sync cycle already in flight")

// SyncNow runs one push-then-pull cycle immediately. At most one cycle runs
// at a time; a concurrent call returns ErrCycleInFlight without touching
// anything. Mutations enqueued while the cycle runs are picked up next cycle.
func (e *Engine) SyncNow(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	if e.clientID == "" {
		return stats, ErrNotInitialized
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return stats, ErrCycleInFlight
	}
	defer e.inFlight.Store(false)

	if err := e.push(ctx, &stats); err != nil {
		return stats, err
	}
	if err := e.pull(ctx, &stats); err != nil {
		return stats, err
	}
	stats.Cursor = e.lastSync.Load()
	return stats, nil
}

// push transmits the retryable queue and applies per-operation outcomes.
// A transport failure leaves every operation queued for the next cycle.
func (e *Engine) push(ctx context.Context, stats *CycleStats) error {
	ops, err := e.store.Retryable()
	if err != nil {
		return fmt.Errorf("collect pending operations: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	results, err := e.transport.Push(ctx, ops)
	if err != nil {
		return fmt.Errorf("push %d operations: %w", len(ops), err)
	}

	var acked []string
	for _, res := range results {
		switch res.Outcome {
		case OutcomeApplied:
			acked = append(acked, res.ID)
			stats.Pushed++
		case OutcomeSuperseded:
			// Accepted but beaten by a newer version; the winning record
			// arrives on the next pull. Nothing left to retry.
			acked = append(acked, res.ID)
			stats.Superseded++
		case OutcomeRejected:
			if err := e.store.MarkError(res.ID, res.Reason); err != nil {
				return fmt.Errorf("mark operation %s failed: %w", res.ID, err)
			}
			stats.Failed++
			e.log.Warn("operation rejected", "op_id", res.ID, "reason", res.Reason)
		default:
			return fmt.Errorf("unknown push outcome %q for %s", res.Outcome, res.ID)
		}
	}
	if len(acked) > 0 {
		if err := e.store.MarkSynced(acked); err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
	}
	return nil
}

// pull drains the change log since the cursor, page by page. Each page is
// applied and its cursor persisted atomically, so a failure mid-drain leaves
// the cursor consistent with what was durably applied.
func (e *Engine) pull(ctx context.Context, stats *CycleStats) error {
	for {
		res, err := e.transport.Pull(ctx, e.lastSync.Load(), e.clientID, pullLimit)
		if err != nil {
			return fmt.Errorf("pull after %d: %w", e.lastSync.Load(), err)
		}
		if len(res.Changes) == 0 {
			return nil
		}

		applied, err := e.store.ApplyRemote(res.Changes, res.Cursor)
		if err != nil {
			return fmt.Errorf("apply %d changes: %w", len(res.Changes), err)
		}
		stats.Applied += applied.Applied
		stats.Skipped += applied.Skipped
		e.lastSync.Store(res.Cursor)

		if !res.HasMore {
			return nil
		}
	}
}

func (e *Engine) backoff() time.Duration {
	d := backoffBase
	for i := 1; i < e.failures; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	if d > backoffMax {
		d = backoffMax
	}
	return d
}
