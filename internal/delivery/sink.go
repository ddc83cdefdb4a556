package delivery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BMH-cyber/music/internal/domain"
)

// Sink mirrors pipeline.Sink so this package does not import the pipeline.
type Sink interface {
	Deliver(ctx context.Context, conversationID string, artifact *domain.Artifact) error
	Notify(ctx context.Context, conversationID, text string) error
}

// LogSink only logs. It is the primary sink when no chat transport is
// configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, conversationID, text string) error {
	s.logger.Info("notify", slog.String("conversation", conversationID), slog.String("text", text))
	return nil
}

func (s *LogSink) Deliver(ctx context.Context, conversationID string, artifact *domain.Artifact) error {
	if artifact == nil {
		return errors.New("artifact is required")
	}
	s.logger.Info("deliver",
		slog.String("conversation", conversationID),
		slog.String("title", artifact.Title),
		slog.String("path", artifact.Path),
		slog.Int64("bytes", artifact.SizeBytes),
	)
	return nil
}

// Fanout sends everything to a primary sink and mirrors it to observers.
// Only the primary's result counts; observer failures are logged.
type Fanout struct {
	primary   Sink
	observers []Sink
	logger    *slog.Logger
}

func NewFanout(logger *slog.Logger, primary Sink, observers ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]Sink, 0, len(observers))
	for _, observer := range observers {
		if observer != nil {
			kept = append(kept, observer)
		}
	}
	return &Fanout{primary: primary, observers: kept, logger: logger}
}

func (f *Fanout) Notify(ctx context.Context, conversationID, text string) error {
	err := f.primary.Notify(ctx, conversationID, text)
	for _, observer := range f.observers {
		if obsErr := observer.Notify(ctx, conversationID, text); obsErr != nil {
			f.logger.Debug("observer notify failed", slog.String("error", obsErr.Error()))
		}
	}
	return err
}

// Deliver tells observers only after the primary accepted the artifact.
func (f *Fanout) Deliver(ctx context.Context, conversationID string, artifact *domain.Artifact) error {
	if err := f.primary.Deliver(ctx, conversationID, artifact); err != nil {
		return err
	}
	for _, observer := range f.observers {
		if obsErr := observer.Deliver(ctx, conversationID, artifact); obsErr != nil {
			f.logger.Debug("observer deliver failed", slog.String("error", obsErr.Error()))
		}
	}
	return nil
}
