package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner runs one reconciliation pass.
type Runner interface {
	Sync(ctx context.Context) (*Summary, error)
}

// ResultFunc receives the outcome of every queued pass.
type ResultFunc func(*Summary, error)

// Queue debounces change notifications into sync passes. At most one pass runs
// at a time; notifications that arrive during a pass coalesce into a single
// follow-up pass.
type Queue struct {
	runner   Runner
	debounce time.Duration
	onResult ResultFunc
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	pending bool
	closed  bool
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the queue logger.
func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithResultFunc registers a callback for finished passes.
func WithResultFunc(fn ResultFunc) QueueOption {
	return func(q *Queue) { q.onResult = fn }
}

// NewQueue creates a Queue that runs r after debounce of quiet.
func NewQueue(r Runner, debounce time.Duration, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		runner:   r,
		debounce: debounce,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Notify records that the corpus changed. The pass starts once no further
// notification arrives within the debounce interval.
func (q *Queue) Notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(q.debounce, q.trigger)
}

// Trigger starts a pass now, or marks a follow-up when one is running.
func (q *Queue) Trigger() { q.trigger() }

func (q *Queue) trigger() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if q.running {
		q.pending = true
		return
	}
	q.running = true
	q.wg.Add(1)
	go q.loop()
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		sum, err := q.runner.Sync(q.ctx)
		if errors.Is(err, ErrSyncInProgress) {
			// another caller owns the pass; retry after it settles
			q.logger.Debug("sync busy, rescheduling")
			q.Notify()
		} else if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Error("queued sync failed", zap.Error(err))
		}
		if q.onResult != nil {
			q.onResult(sum, err)
		}

		q.mu.Lock()
		if q.pending && !q.closed {
			q.pending = false
			q.mu.Unlock()
			continue
		}
		q.running = false
		q.mu.Unlock()
		return
	}
}

// Pending reports whether a follow-up pass is queued.
func (q *Queue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close stops the debounce timer, cancels a running pass and waits for it.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
	}
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}
