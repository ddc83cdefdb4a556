package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/BMH-cyber/music/internal/domain"
)

// handleJob runs one queued job. Every job ends with exactly one final
// message: the delivered audio or a single failure or cancel notice.
func (p *Pipeline) handleJob(ctx context.Context, job domain.Job) {
	title := displayTitle(job.Reference)
	logger := p.logger.With(
		slog.String("conversation", job.ConversationID),
		slog.String("job", job.ID),
	)

	if ctx.Err() != nil {
		p.notify(ctx, job.ConversationID, fmt.Sprintf("Cancelled %q.", title))
		return
	}
	p.notify(ctx, job.ConversationID, fmt.Sprintf("Downloading %q...", title))

	artifact, err := p.downloader.Download(ctx, job.Reference)
	if err != nil {
		logger.Info("job failed", slog.String("kind", string(domain.FailureKindOf(err))), slog.String("error", err.Error()))
		p.notify(ctx, job.ConversationID, p.failureMessage(title, err))
		return
	}
	defer func() {
		if err := artifact.Release(); err != nil {
			logger.Warn("release artifact failed", slog.String("error", err.Error()))
		}
	}()

	if ctx.Err() != nil {
		logger.Info("job cancelled before delivery")
		p.notify(ctx, job.ConversationID, fmt.Sprintf("Cancelled %q.", title))
		return
	}

	if err := p.sink.Deliver(context.WithoutCancel(ctx), job.ConversationID, artifact); err != nil {
		logger.Warn("delivery failed", slog.String("error", err.Error()))
		p.notify(ctx, job.ConversationID, fmt.Sprintf("Could not send %q.", title))
		return
	}
	logger.Info("job delivered", slog.Int64("bytes", artifact.SizeBytes))
}

func (p *Pipeline) failureMessage(title string, err error) string {
	switch domain.FailureKindOf(err) {
	case domain.FailureTooLarge:
		var downloadErr *domain.DownloadError
		limit := p.maxBytes
		var size int64
		if errors.As(err, &downloadErr) {
			size = downloadErr.SizeBytes
			if downloadErr.LimitBytes > 0 {
				limit = downloadErr.LimitBytes
			}
		}
		if size > 0 && limit > 0 {
			return fmt.Sprintf("%q is too large to send (%s, limit %s).", title, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))
		}
		return fmt.Sprintf("%q is too large to send.", title)
	case domain.FailureAuthRequired:
		return fmt.Sprintf("The source requires sign-in for %q; it cannot be downloaded right now.", title)
	case domain.FailureTimeout:
		return fmt.Sprintf("Download of %q timed out.", title)
	case domain.FailureNoOutput:
		return fmt.Sprintf("Download of %q produced no audio file.", title)
	case domain.FailureCancelled:
		return fmt.Sprintf("Cancelled %q.", title)
	default:
		return fmt.Sprintf("Could not download %q.", title)
	}
}
