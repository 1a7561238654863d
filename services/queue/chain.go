// Package queue runs the durable task queue: a single claim loop over the
// tasks table, dispatch through the handler registry, and the chaining
// rules that drive a block from capture to the daily digest email.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
)

// Chain decides which follow-up task (if any) an operation enqueues after
// its task completes. All chaining goes through the deduplicating Enqueue,
// so re-processing a task never doubles the follow-up.
type Chain struct {
	blocks  postgres.BlockRepository
	tasks   postgres.TaskRepository
	digests postgres.DigestRepository

	// expectedBlocks is the number of capture windows configured per show
	// date. The digest is enqueued only once all of them are COMPLETED.
	expectedBlocks int
	// emailBlocks enables the legacy per-block email after each summary.
	emailBlocks bool
	logger      *slog.Logger
}

func NewChain(
	blocks postgres.BlockRepository,
	tasks postgres.TaskRepository,
	digests postgres.DigestRepository,
	expectedBlocks int,
	emailBlocks bool,
	logger *slog.Logger,
) *Chain {
	return &Chain{
		blocks: blocks, tasks: tasks, digests: digests,
		expectedBlocks: expectedBlocks, emailBlocks: emailBlocks, logger: logger,
	}
}

// Advance runs after a task completed successfully. It moves the block to
// its post-stage status and enqueues the next stage. A chaining failure is
// returned so the caller can log it, but the completed task stays
// completed: the catch-up triggers re-derive missing follow-ups.
func (c *Chain) Advance(ctx context.Context, task *domain.Task) error {
	switch task.Type {
	case domain.TaskTranscribe:
		return c.afterTranscribe(ctx, task)
	case domain.TaskSummarize:
		return c.afterSummarize(ctx, task)
	case domain.TaskCreateDigest:
		return c.afterDigest(ctx, task)
	case domain.TaskEmailBlock, domain.TaskEmailDigest:
		return nil // terminal stages
	default:
		return &domain.InvalidTaskTypeError{TaskType: task.Type}
	}
}

func (c *Chain) afterTranscribe(ctx context.Context, task *domain.Task) error {
	if task.BlockID == nil {
		return fmt.Errorf("transcribe task %d has no block reference", task.ID)
	}
	if err := c.settle(ctx, *task.BlockID, domain.BlockTranscribing, domain.BlockTranscribed); err != nil {
		return err
	}
	id, err := c.tasks.Enqueue(ctx, &domain.Task{Type: domain.TaskSummarize, BlockID: task.BlockID})
	if err != nil {
		return fmt.Errorf("chain summarize for block %d: %w", *task.BlockID, err)
	}
	c.logger.Info("chained summarize task",
		slog.Int64("block_id", *task.BlockID), slog.Int64("task_id", id))
	return nil
}

func (c *Chain) afterSummarize(ctx context.Context, task *domain.Task) error {
	if task.BlockID == nil {
		return fmt.Errorf("summarize task %d has no block reference", task.ID)
	}
	if err := c.settle(ctx, *task.BlockID, domain.BlockSummarizing, domain.BlockCompleted); err != nil {
		return err
	}

	if c.emailBlocks {
		if _, err := c.tasks.Enqueue(ctx, &domain.Task{Type: domain.TaskEmailBlock, BlockID: task.BlockID}); err != nil {
			return fmt.Errorf("chain block email for block %d: %w", *task.BlockID, err)
		}
	}

	block, err := c.blocks.GetByID(ctx, *task.BlockID)
	if err != nil {
		return err
	}
	return c.maybeEnqueueDigest(ctx, block.ShowDate)
}

// maybeEnqueueDigest enqueues CREATE_DIGEST once every configured block of
// the date is COMPLETED and no digest task already exists for it.
func (c *Chain) maybeEnqueueDigest(ctx context.Context, showDate time.Time) error {
	blocks, err := c.blocks.ListByShowDate(ctx, showDate)
	if err != nil {
		return err
	}
	if len(blocks) < c.expectedBlocks {
		return nil
	}
	for _, b := range blocks {
		if b.Status != domain.BlockCompleted {
			return nil
		}
	}

	exists, err := c.tasks.HasDigestTask(ctx, showDate)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	id, err := c.tasks.Enqueue(ctx, &domain.Task{Type: domain.TaskCreateDigest, ShowDate: &showDate})
	if err != nil {
		return fmt.Errorf("chain digest for %s: %w", domain.ShowDateKey(showDate), err)
	}
	c.logger.Info("all blocks complete, chained digest task",
		slog.String("show_date", domain.ShowDateKey(showDate)), slog.Int64("task_id", id))
	return nil
}

func (c *Chain) afterDigest(ctx context.Context, task *domain.Task) error {
	if task.ShowDate == nil {
		return fmt.Errorf("digest task %d has no show date", task.ID)
	}
	// A digest task can complete as a no-op (lock lost, or precondition
	// miss). Only an actually persisted digest gets an email.
	ok, err := c.digests.HasDigest(ctx, *task.ShowDate)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := c.tasks.Enqueue(ctx, &domain.Task{Type: domain.TaskEmailDigest, ShowDate: task.ShowDate}); err != nil {
		return fmt.Errorf("chain digest email for %s: %w", domain.ShowDateKey(*task.ShowDate), err)
	}
	return nil
}

// settle moves a block from its in-progress status to the stage's result
// status. A block already at the target (a requeued task re-completing) is
// left alone; any other state is a real transition error.
func (c *Chain) settle(ctx context.Context, blockID int64, from, to domain.BlockStatus) error {
	block, err := c.blocks.GetByID(ctx, blockID)
	if err != nil {
		return err
	}
	if block.Status == to {
		return nil
	}
	return c.blocks.Transition(ctx, blockID, from, to)
}
