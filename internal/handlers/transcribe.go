package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
)

// Transcriber converts a captured audio file to transcript text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// TranscribeHandler runs the speech-to-text stage for one block.
type TranscribeHandler struct {
	blocks postgres.BlockRepository
	tr     Transcriber
}

func NewTranscribeHandler(blocks postgres.BlockRepository, tr Transcriber) *TranscribeHandler {
	return &TranscribeHandler{blocks: blocks, tr: tr}
}

func (h *TranscribeHandler) TaskType() domain.TaskType { return domain.TaskTranscribe }

func (h *TranscribeHandler) Handle(ctx context.Context, task *domain.Task) error {
	ctx, span := otel.Tracer("queue").Start(ctx, "handler.transcribe")
	defer span.End()

	if task.BlockID == nil {
		return fmt.Errorf("transcribe task %d has no block reference", task.ID)
	}
	block, err := h.blocks.GetByID(ctx, *task.BlockID)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.Int64("block.id", block.ID),
		attribute.String("block.code", block.Code),
	)

	if block.AudioPath == nil || *block.AudioPath == "" {
		return fmt.Errorf("block %d has no capture artifact yet", block.ID)
	}

	text, err := h.tr.Transcribe(ctx, *block.AudioPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return fmt.Errorf("transcribe block %d: %w", block.ID, err)
	}

	transcriptPath := strings.TrimSuffix(*block.AudioPath, ".mp3") + ".txt"
	if err := os.WriteFile(transcriptPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write transcript for block %d: %w", block.ID, err)
	}
	return h.blocks.SetTranscriptPath(ctx, block.ID, transcriptPath)
}
