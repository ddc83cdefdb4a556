// Package pipeline connects resolution, the per-conversation queue, the
// download worker and the delivery sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/queue"
)

type Resolver interface {
	Resolve(ctx context.Context, query string) (domain.MediaReference, bool, error)
}

type Downloader interface {
	Download(ctx context.Context, ref domain.MediaReference) (*domain.Artifact, error)
}

// Sink is the outbound side of a conversation. Deliver does not take
// ownership of the artifact; the pipeline releases it afterwards.
type Sink interface {
	Deliver(ctx context.Context, conversationID string, artifact *domain.Artifact) error
	Notify(ctx context.Context, conversationID, text string) error
}

type Pipeline struct {
	resolver   Resolver
	downloader Downloader
	sink       Sink
	queue      *queue.Dispatcher
	logger     *slog.Logger
	maxBytes   int64
	now        func() time.Time
	newID      func() string

	concurrency int
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		p.concurrency = n
	}
}

// WithMaxBytes sets the size limit quoted in too-large messages.
func WithMaxBytes(n int64) Option {
	return func(p *Pipeline) {
		p.maxBytes = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(p *Pipeline) {
		if newID != nil {
			p.newID = newID
		}
	}
}

func New(resolver Resolver, downloader Downloader, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver:    resolver,
		downloader:  downloader,
		sink:        sink,
		logger:      slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
		concurrency: queue.DefaultConcurrency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.queue = queue.NewDispatcher(p.concurrency, p.handleJob, queue.WithLogger(p.logger))
	return p
}

// Submit resolves text and queues the selected song for the conversation.
// A query with no match is a normal outcome reported through the Ack.
func (p *Pipeline) Submit(ctx context.Context, conversationID, text string) (domain.Ack, error) {
	query := strings.TrimSpace(text)
	if conversationID == "" {
		return domain.Ack{}, errors.New("conversation id is required")
	}
	if query == "" {
		return domain.Ack{}, domain.ErrInvalidQuery
	}

	p.notify(ctx, conversationID, fmt.Sprintf("Searching for %q...", query))

	ref, found, err := p.resolver.Resolve(ctx, query)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.notify(ctx, conversationID, fmt.Sprintf("Search for %q failed, please try again.", query))
		}
		return domain.Ack{}, fmt.Errorf("resolve %q: %w", query, err)
	}
	if !found {
		p.notify(ctx, conversationID, fmt.Sprintf("No results for %q.", query))
		return domain.Ack{Status: domain.AckNotFound}, nil
	}

	job := domain.Job{
		ID:             p.newID(),
		ConversationID: conversationID,
		Query:          query,
		Reference:      ref,
		SubmittedAt:    p.now().UTC(),
	}
	position, err := p.queue.Enqueue(job)
	switch {
	case errors.Is(err, queue.ErrDuplicateJob):
		p.notify(ctx, conversationID, fmt.Sprintf("%q is already in the queue.", displayTitle(ref)))
		return domain.Ack{Status: domain.AckDuplicate, Title: ref.Title, URL: ref.SourceURL}, nil
	case err != nil:
		return domain.Ack{}, err
	}

	p.logger.Info("job queued",
		slog.String("conversation", conversationID),
		slog.String("job", job.ID),
		slog.String("url", ref.SourceURL),
		slog.Int("position", position),
	)
	if position > 0 {
		p.notify(ctx, conversationID, fmt.Sprintf("Queued %q at position %d.", displayTitle(ref), position))
	}
	return domain.Ack{
		Status:   domain.AckQueued,
		JobID:    job.ID,
		Position: position,
		Title:    ref.Title,
		URL:      ref.SourceURL,
	}, nil
}

// Cancel clears the conversation's queue and stops its active job.
func (p *Pipeline) Cancel(ctx context.Context, conversationID string) int {
	removed := p.queue.Cancel(conversationID)
	if removed == 0 {
		p.notify(ctx, conversationID, "Nothing to cancel.")
	} else {
		p.notify(ctx, conversationID, fmt.Sprintf("Cleared the queue (%d %s).", removed, plural(removed, "song", "songs")))
	}
	return removed
}

// Skip stops the active job; the next queued song starts afterwards.
func (p *Pipeline) Skip(ctx context.Context, conversationID string) bool {
	skipped := p.queue.Skip(conversationID)
	if !skipped {
		p.notify(ctx, conversationID, "Nothing is downloading right now.")
	}
	return skipped
}

// Queue returns the conversation's queue and posts it to the conversation.
func (p *Pipeline) Queue(ctx context.Context, conversationID string) domain.QueueSnapshot {
	snapshot := p.queue.Snapshot(conversationID)
	p.notify(ctx, conversationID, formatQueue(snapshot))
	return snapshot
}

func (p *Pipeline) Snapshot(conversationID string) domain.QueueSnapshot {
	return p.queue.Snapshot(conversationID)
}

func (p *Pipeline) Stats() domain.QueueStats {
	return p.queue.Stats()
}

func (p *Pipeline) Close(ctx context.Context) error {
	return p.queue.Close(ctx)
}

// notify is best-effort; a failed progress message never fails the caller.
func (p *Pipeline) notify(ctx context.Context, conversationID, text string) {
	if err := p.sink.Notify(context.WithoutCancel(ctx), conversationID, text); err != nil {
		p.logger.Warn("notify failed",
			slog.String("conversation", conversationID),
			slog.String("error", err.Error()),
		)
	}
}

func formatQueue(snapshot domain.QueueSnapshot) string {
	if snapshot.Len() == 0 {
		return "The queue is empty."
	}
	var b strings.Builder
	if snapshot.Active != nil {
		fmt.Fprintf(&b, "Now: %s\n", displayTitle(snapshot.Active.Reference))
	}
	for i, job := range snapshot.Pending {
		fmt.Fprintf(&b, "%d. %s\n", i+1, displayTitle(job.Reference))
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayTitle(ref domain.MediaReference) string {
	if title := strings.TrimSpace(ref.Title); title != "" {
		return title
	}
	return ref.SourceURL
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
