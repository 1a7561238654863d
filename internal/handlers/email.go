package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/mailer"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
	"github.com/FreeBandoLano/echobot-sub000/internal/redis"
	"github.com/FreeBandoLano/echobot-sub000/pkg/telemetry"
)

// EmailConfig holds delivery settings shared by both send paths.
type EmailConfig struct {
	Recipients []string
	// Validity is the send-marker window: a second send for the same scope
	// inside this window is suppressed, one after it goes through.
	Validity time.Duration
}

// EmailDigestHandler delivers the daily digest, guarded by the sent marker.
type EmailDigestHandler struct {
	digests postgres.DigestRepository
	marker  redis.SentMarker
	sender  mailer.Sender
	cfg     EmailConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewEmailDigestHandler(
	digests postgres.DigestRepository,
	marker redis.SentMarker,
	sender mailer.Sender,
	cfg EmailConfig,
	logger *slog.Logger,
) *EmailDigestHandler {
	return &EmailDigestHandler{
		digests: digests, marker: marker, sender: sender,
		cfg: cfg, logger: logger, now: time.Now,
	}
}

func (h *EmailDigestHandler) TaskType() domain.TaskType { return domain.TaskEmailDigest }

// SetNow overrides the clock, for tests.
func (h *EmailDigestHandler) SetNow(now func() time.Time) { h.now = now }

func (h *EmailDigestHandler) Handle(ctx context.Context, task *domain.Task) error {
	ctx, span := otel.Tracer("queue").Start(ctx, "handler.email_digest")
	defer span.End()

	if task.ShowDate == nil {
		return fmt.Errorf("email digest task %d has no show date", task.ID)
	}
	dateKey := domain.ShowDateKey(*task.ShowDate)
	scope := "digest:" + dateKey
	span.SetAttributes(attribute.String("show_date", dateKey))

	recent, err := h.marker.IsRecentlySent(ctx, scope, h.now(), h.cfg.Validity)
	if err != nil {
		return err
	}
	if recent {
		telemetry.EmailsSuppressed.WithLabelValues("digest").Inc()
		h.logger.Info("digest email recently sent, skipping", slog.String("show_date", dateKey))
		return nil
	}

	digest, err := h.digests.GetDigest(ctx, *task.ShowDate)
	if err != nil {
		var notFound *domain.DigestNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("digest missing for %s: %w", dateKey, domain.ErrNotReady)
		}
		return err
	}

	subject := fmt.Sprintf("Broadcast digest for %s", dateKey)
	if err := h.sender.Send(ctx, h.cfg.Recipients, subject, digest.Body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return err
	}

	if err := h.marker.MarkSent(ctx, scope, h.now()); err != nil {
		// The mail is out; a marker write failure must not fail the task,
		// or the retry would send a duplicate.
		h.logger.Error("failed to write sent marker", slog.String("scope", scope), slog.String("error", err.Error()))
	}
	telemetry.EmailsSent.WithLabelValues("digest").Inc()
	h.logger.Info("digest email sent",
		slog.String("show_date", dateKey),
		slog.Int("recipients", len(h.cfg.Recipients)),
	)
	return nil
}

// EmailBlockHandler is the legacy per-block send path, disabled in
// digest-only mode. It shares the sent-marker guard so the two paths can
// never double-send within the validity window.
type EmailBlockHandler struct {
	blocks postgres.BlockRepository
	marker redis.SentMarker
	sender mailer.Sender
	cfg    EmailConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewEmailBlockHandler(
	blocks postgres.BlockRepository,
	marker redis.SentMarker,
	sender mailer.Sender,
	cfg EmailConfig,
	logger *slog.Logger,
) *EmailBlockHandler {
	return &EmailBlockHandler{
		blocks: blocks, marker: marker, sender: sender,
		cfg: cfg, logger: logger, now: time.Now,
	}
}

func (h *EmailBlockHandler) TaskType() domain.TaskType { return domain.TaskEmailBlock }

// SetNow overrides the clock, for tests.
func (h *EmailBlockHandler) SetNow(now func() time.Time) { h.now = now }

func (h *EmailBlockHandler) Handle(ctx context.Context, task *domain.Task) error {
	ctx, span := otel.Tracer("queue").Start(ctx, "handler.email_block")
	defer span.End()

	if task.BlockID == nil {
		return fmt.Errorf("block email task %d has no block reference", task.ID)
	}
	block, err := h.blocks.GetByID(ctx, *task.BlockID)
	if err != nil {
		return err
	}
	if block.Summary == nil || *block.Summary == "" {
		return fmt.Errorf("block %d has no summary yet: %w", block.ID, domain.ErrNotReady)
	}

	scope := fmt.Sprintf("block:%d", block.ID)
	recent, err := h.marker.IsRecentlySent(ctx, scope, h.now(), h.cfg.Validity)
	if err != nil {
		return err
	}
	if recent {
		telemetry.EmailsSuppressed.WithLabelValues("block").Inc()
		return nil
	}

	subject := fmt.Sprintf("Block %s summary for %s", block.Code, domain.ShowDateKey(block.ShowDate))
	if err := h.sender.Send(ctx, h.cfg.Recipients, subject, *block.Summary); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return err
	}
	if err := h.marker.MarkSent(ctx, scope, h.now()); err != nil {
		h.logger.Error("failed to write sent marker", slog.String("scope", scope), slog.String("error", err.Error()))
	}
	telemetry.EmailsSent.WithLabelValues("block").Inc()
	return nil
}
