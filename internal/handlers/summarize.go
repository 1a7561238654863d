package handlers

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
)

// BlockSummarizer condenses one block transcript into a summary.
type BlockSummarizer interface {
	SummarizeBlock(ctx context.Context, code, transcript string) (string, error)
}

// SummarizeHandler runs the per-block summarization stage.
type SummarizeHandler struct {
	blocks postgres.BlockRepository
	sum    BlockSummarizer
}

func NewSummarizeHandler(blocks postgres.BlockRepository, sum BlockSummarizer) *SummarizeHandler {
	return &SummarizeHandler{blocks: blocks, sum: sum}
}

func (h *SummarizeHandler) TaskType() domain.TaskType { return domain.TaskSummarize }

func (h *SummarizeHandler) Handle(ctx context.Context, task *domain.Task) error {
	ctx, span := otel.Tracer("queue").Start(ctx, "handler.summarize")
	defer span.End()

	if task.BlockID == nil {
		return fmt.Errorf("summarize task %d has no block reference", task.ID)
	}
	block, err := h.blocks.GetByID(ctx, *task.BlockID)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.Int64("block.id", block.ID),
		attribute.String("block.code", block.Code),
	)

	if block.Transcript == nil || *block.Transcript == "" {
		return fmt.Errorf("block %d has no transcript yet", block.ID)
	}
	transcript, err := os.ReadFile(*block.Transcript)
	if err != nil {
		return fmt.Errorf("read transcript for block %d: %w", block.ID, err)
	}

	summary, err := h.sum.SummarizeBlock(ctx, block.Code, string(transcript))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarization failed")
		return fmt.Errorf("summarize block %d: %w", block.ID, err)
	}
	return h.blocks.SetSummary(ctx, block.ID, summary)
}
