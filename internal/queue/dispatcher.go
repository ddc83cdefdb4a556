// Package queue runs jobs one at a time per conversation while letting
// different conversations proceed in parallel on a bounded worker pool.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/metrics"
)

const DefaultConcurrency = 3

var (
	ErrDuplicateJob = errors.New("job already queued for this conversation")
	ErrQueueClosed  = domain.ErrQueueClosed
	ErrInvalidJob   = errors.New("job requires a conversation id")
)

// Handler processes one job. ctx is cancelled by Cancel, Skip or Close; the
// handler is still invoked when that happens before a worker slot was free,
// so it can report the job as cancelled.
type Handler func(ctx context.Context, job domain.Job)

type conversation struct {
	pending      []domain.Job
	active       *domain.Job
	cancelActive context.CancelFunc
}

// Dispatcher keeps at most one active job per conversation. An entry exists
// only while the conversation has active or pending work.
type Dispatcher struct {
	handler Handler
	pool    *semaphore.Weighted
	logger  *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu            sync.Mutex
	conversations map[string]*conversation
	running       int
	closed        bool
	wg            sync.WaitGroup
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(concurrency int, handler Handler, opts ...Option) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		handler:       handler,
		pool:          semaphore.NewWeighted(int64(concurrency)),
		logger:        slog.Default(),
		baseCtx:       ctx,
		baseCancel:    cancel,
		conversations: make(map[string]*conversation),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Enqueue appends job to its conversation and returns how many jobs are
// ahead of it. The first job of an idle conversation starts its sequencer.
func (d *Dispatcher) Enqueue(job domain.Job) (int, error) {
	if job.ConversationID == "" {
		return 0, ErrInvalidJob
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrQueueClosed
	}

	conv, ok := d.conversations[job.ConversationID]
	if !ok {
		conv = &conversation{}
		d.conversations[job.ConversationID] = conv
		d.wg.Add(1)
		go d.run(job.ConversationID)
	} else if conv.holds(job.Reference.SourceURL) {
		return 0, ErrDuplicateJob
	}

	position := len(conv.pending)
	if conv.active != nil {
		position++
	}
	conv.pending = append(conv.pending, job)
	d.updateGaugesLocked()

	d.logger.Debug("job queued",
		slog.String("conversation", job.ConversationID),
		slog.String("job", job.ID),
		slog.Int("position", position),
	)
	return position, nil
}

func (c *conversation) holds(sourceURL string) bool {
	if sourceURL == "" {
		return false
	}
	if c.active != nil && c.active.Reference.SourceURL == sourceURL {
		return true
	}
	for _, job := range c.pending {
		if job.Reference.SourceURL == sourceURL {
			return true
		}
	}
	return false
}

func (d *Dispatcher) run(conversationID string) {
	defer d.wg.Done()
	for {
		job, ctx, ok := d.next(conversationID)
		if !ok {
			return
		}

		acquired := d.pool.Acquire(ctx, 1) == nil
		if acquired {
			d.setRunning(1)
		}
		d.invoke(ctx, job)
		if acquired {
			d.setRunning(-1)
			d.pool.Release(1)
		}
		d.finish(conversationID)
	}
}

// next pops the head of the conversation, or drops the entry when nothing
// is left.
func (d *Dispatcher) next(conversationID string) (domain.Job, context.Context, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv := d.conversations[conversationID]
	if conv == nil || len(conv.pending) == 0 {
		delete(d.conversations, conversationID)
		d.updateGaugesLocked()
		return domain.Job{}, nil, false
	}
	job := conv.pending[0]
	conv.pending[0] = domain.Job{}
	conv.pending = conv.pending[1:]

	ctx, cancel := context.WithCancel(d.baseCtx)
	conv.active = &job
	conv.cancelActive = cancel
	d.updateGaugesLocked()
	return job, ctx, true
}

func (d *Dispatcher) invoke(ctx context.Context, job domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job handler panicked",
				slog.String("conversation", job.ConversationID),
				slog.String("job", job.ID),
				slog.Any("panic", r),
			)
		}
	}()
	d.handler(ctx, job)
}

func (d *Dispatcher) finish(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv := d.conversations[conversationID]
	if conv == nil {
		return
	}
	if conv.cancelActive != nil {
		conv.cancelActive()
	}
	conv.active = nil
	conv.cancelActive = nil
	d.updateGaugesLocked()
}

// Cancel drops every pending job of the conversation and signals the active
// one. It returns the number of jobs affected.
func (d *Dispatcher) Cancel(conversationID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv := d.conversations[conversationID]
	if conv == nil {
		return 0
	}
	removed := len(conv.pending)
	conv.pending = nil
	if conv.active != nil && conv.cancelActive != nil {
		conv.cancelActive()
		removed++
	}
	d.updateGaugesLocked()
	return removed
}

// Skip cancels only the active job; the rest of the queue keeps going.
func (d *Dispatcher) Skip(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv := d.conversations[conversationID]
	if conv == nil || conv.active == nil || conv.cancelActive == nil {
		return false
	}
	conv.cancelActive()
	return true
}

func (d *Dispatcher) Snapshot(conversationID string) domain.QueueSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot := domain.QueueSnapshot{ConversationID: conversationID, Pending: []domain.Job{}}
	conv := d.conversations[conversationID]
	if conv == nil {
		return snapshot
	}
	if conv.active != nil {
		active := *conv.active
		snapshot.Active = &active
	}
	snapshot.Pending = append(snapshot.Pending, conv.pending...)
	return snapshot
}

func (d *Dispatcher) Stats() domain.QueueStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statsLocked()
}

func (d *Dispatcher) statsLocked() domain.QueueStats {
	stats := domain.QueueStats{
		ActiveConversations: len(d.conversations),
		RunningJobs:         d.running,
	}
	for _, conv := range d.conversations {
		stats.PendingJobs += len(conv.pending)
	}
	return stats
}

func (d *Dispatcher) setRunning(delta int) {
	d.mu.Lock()
	d.running += delta
	d.updateGaugesLocked()
	d.mu.Unlock()
}

func (d *Dispatcher) updateGaugesLocked() {
	stats := d.statsLocked()
	metrics.QueuePending.Set(float64(stats.PendingJobs))
	metrics.ActiveConversations.Set(float64(stats.ActiveConversations))
	metrics.BusyWorkers.Set(float64(stats.RunningJobs))
}

// Close stops intake, drops pending work, cancels active jobs and waits for
// the sequencers to exit or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, conv := range d.conversations {
			conv.pending = nil
		}
		d.updateGaugesLocked()
	}
	d.mu.Unlock()
	d.baseCancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
