package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
	"github.com/FreeBandoLano/echobot-sub000/internal/summarizer"
	"github.com/FreeBandoLano/echobot-sub000/pkg/telemetry"
)

// DigestBuilder aggregates a date's block summaries into the daily digest.
type DigestBuilder interface {
	BuildDigest(ctx context.Context, showDate string, summaries []summarizer.BlockSummary) (string, error)
}

// DigestHandler creates the daily digest for a show date, guarded by the
// per-date digest lock.
type DigestHandler struct {
	blocks  postgres.BlockRepository
	digests postgres.DigestRepository
	builder DigestBuilder
	owner   string
	logger  *slog.Logger
}

func NewDigestHandler(
	blocks postgres.BlockRepository,
	digests postgres.DigestRepository,
	builder DigestBuilder,
	owner string,
	logger *slog.Logger,
) *DigestHandler {
	return &DigestHandler{blocks: blocks, digests: digests, builder: builder, owner: owner, logger: logger}
}

func (h *DigestHandler) TaskType() domain.TaskType { return domain.TaskCreateDigest }

func (h *DigestHandler) Handle(ctx context.Context, task *domain.Task) error {
	ctx, span := otel.Tracer("queue").Start(ctx, "handler.create_digest")
	defer span.End()

	if task.ShowDate == nil {
		return fmt.Errorf("digest task %d has no show date", task.ID)
	}
	date := *task.ShowDate
	dateKey := domain.ShowDateKey(date)
	span.SetAttributes(attribute.String("show_date", dateKey))

	// First writer wins. Losing the claim is not an error: another path is
	// already producing this date's digest, so this task is a no-op.
	acquired, err := h.digests.TryAcquireLock(ctx, date, h.owner)
	if err != nil {
		return err
	}
	if !acquired {
		h.logger.Info("digest lock already owned, skipping",
			slog.String("show_date", dateKey))
		return nil
	}

	blocks, err := h.blocks.ListByShowDate(ctx, date)
	if err != nil {
		return err
	}
	var summaries []summarizer.BlockSummary
	for _, b := range blocks {
		if b.Status != domain.BlockCompleted || b.Summary == nil || *b.Summary == "" {
			// The readiness check passed before enqueue, so this means a
			// block regressed or the read was stale. Not a failure; the
			// date stays claimed and recovery is a manual re-run.
			return fmt.Errorf("block %s not complete for %s: %w", b.Code, dateKey, domain.ErrNotReady)
		}
		summaries = append(summaries, summarizer.BlockSummary{Code: b.Code, Summary: *b.Summary})
	}

	body, err := h.builder.BuildDigest(ctx, dateKey, summaries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "digest generation failed")
		return fmt.Errorf("build digest for %s: %w", dateKey, err)
	}

	if err := h.digests.SaveDigest(ctx, date, body); err != nil {
		return err
	}
	telemetry.DigestsCreated.Inc()
	h.logger.Info("digest created", slog.String("show_date", dateKey), slog.Int("blocks", len(summaries)))
	return nil
}
