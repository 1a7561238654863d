// Package pipeline owns the day-level operations the scheduler fires:
// capturing a block's audio window, catch-up processing, the digest
// cutoff, and retention cleanup. Everything downstream of capture flows
// through the task queue.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/FreeBandoLano/echobot-sub000/internal/capture"
	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/kafka"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
	"github.com/FreeBandoLano/echobot-sub000/pkg/telemetry"
	"github.com/FreeBandoLano/echobot-sub000/services/scheduler"
)

// Window is one configured capture slot on the daily grid, in local wall
// clock time.
type Window struct {
	Code  string
	Start string // "15:04"
	End   string
}

// Config holds the daily grid and the anchor times for the date-level
// triggers.
type Config struct {
	Windows     []Window
	Location    *time.Location
	DigestTime  string        // local time the digest cutoff fires
	CleanupTime string        // local time retention cleanup runs
	Retention   time.Duration // how long blocks, tasks and audio are kept
	AudioDir    string
}

// Pipeline wires capture and the queue together for one station.
type Pipeline struct {
	cfg      Config
	blocks   postgres.BlockRepository
	tasks    postgres.TaskRepository
	recorder capture.Recorder
	events   kafka.Publisher
	logger   *slog.Logger
}

func New(
	cfg Config,
	blocks postgres.BlockRepository,
	tasks postgres.TaskRepository,
	recorder capture.Recorder,
	events kafka.Publisher,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg: cfg, blocks: blocks, tasks: tasks,
		recorder: recorder, events: events, logger: logger,
	}
}

// Window returns the configured capture window with the given grid code.
func (p *Pipeline) Window(code string) (Window, bool) {
	for _, w := range p.cfg.Windows {
		if w.Code == code {
			return w, true
		}
	}
	return Window{}, false
}

// HasWindow reports whether a capture window with the code is configured.
func (p *Pipeline) HasWindow(code string) bool {
	_, ok := p.Window(code)
	return ok
}

// CaptureByCode runs CaptureBlock for the configured window with the given
// grid code. Used by the manual trigger surfaces.
func (p *Pipeline) CaptureByCode(ctx context.Context, showDate time.Time, code string) error {
	w, ok := p.Window(code)
	if !ok {
		return fmt.Errorf("no capture window configured for code %q", code)
	}
	return p.CaptureBlock(ctx, showDate, w)
}

// Triggers derives the full trigger set for one local date: a capture per
// window, a catch-up pass shortly after each window ends, the digest
// cutoff, and cleanup.
func (p *Pipeline) Triggers(date time.Time) ([]scheduler.Trigger, error) {
	showDate := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	var triggers []scheduler.Trigger

	for _, w := range p.cfg.Windows {
		w := w
		captureSpec, err := scheduler.UTCCronSpec(date, w.Start, p.cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", w.Code, err)
		}
		triggers = append(triggers, scheduler.Trigger{
			Name: "capture-" + w.Code,
			Spec: captureSpec,
			Job: func(ctx context.Context) error {
				return p.CaptureBlock(ctx, showDate, w)
			},
		})

		// Two minutes after the window ends: re-derive any missing
		// follow-up task for the block. Normally a no-op thanks to dedup.
		catchupSpec, err := scheduler.OffsetCronSpec(date, w.End, p.cfg.Location, 2*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", w.Code, err)
		}
		triggers = append(triggers, scheduler.Trigger{
			Name: "process-" + w.Code,
			Spec: catchupSpec,
			Job: func(ctx context.Context) error {
				return p.ProcessBlock(ctx, showDate, w.Code)
			},
		})
	}

	digestSpec, err := scheduler.UTCCronSpec(date, p.cfg.DigestTime, p.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("digest cutoff: %w", err)
	}
	triggers = append(triggers, scheduler.Trigger{
		Name: "digest-cutoff",
		Spec: digestSpec,
		Job: func(ctx context.Context) error {
			return p.DigestCutoff(ctx, showDate)
		},
	})

	cleanupSpec, err := scheduler.UTCCronSpec(date, p.cfg.CleanupTime, p.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}
	triggers = append(triggers, scheduler.Trigger{
		Name: "cleanup",
		Spec: cleanupSpec,
		Job:  p.Cleanup,
	})

	return triggers, nil
}

// CaptureBlock records one window and queues transcription. Re-running it
// for a block that already progressed past SCHEDULED is a no-op, so a
// manual trigger cannot clobber a capture in flight.
func (p *Pipeline) CaptureBlock(ctx context.Context, showDate time.Time, w Window) error {
	start, err := scheduler.LocalToUTC(showDate, w.Start, p.cfg.Location)
	if err != nil {
		return err
	}
	end, err := scheduler.LocalToUTC(showDate, w.End, p.cfg.Location)
	if err != nil {
		return err
	}

	block, err := p.blocks.EnsureScheduled(ctx, showDate, w.Code, start, end)
	if err != nil {
		return err
	}
	log := p.logger.With(
		slog.Int64("block_id", block.ID),
		slog.String("code", block.Code),
		slog.String("show_date", domain.ShowDateKey(showDate)),
	)

	if block.Status != domain.BlockScheduled {
		log.Info("block already past capture, skipping", slog.String("status", string(block.Status)))
		return nil
	}

	if err := p.blocks.Transition(ctx, block.ID, domain.BlockScheduled, domain.BlockRecording); err != nil {
		return err
	}
	p.publishBlockEvent(ctx, block.ID, showDate, domain.BlockRecording)

	audioPath, err := p.recorder.Record(ctx, block)
	if err != nil {
		log.Error("capture failed", slog.String("error", err.Error()))
		if terr := p.blocks.Transition(ctx, block.ID, domain.BlockRecording, domain.BlockFailed); terr != nil {
			log.Error("failed to mark block failed", slog.String("error", terr.Error()))
		}
		p.publishBlockEvent(ctx, block.ID, showDate, domain.BlockFailed)
		return fmt.Errorf("capture block %s: %w", w.Code, err)
	}

	if err := p.blocks.SetAudioPath(ctx, block.ID, audioPath); err != nil {
		return err
	}
	if err := p.blocks.Transition(ctx, block.ID, domain.BlockRecording, domain.BlockRecorded); err != nil {
		return err
	}
	telemetry.BlocksRecorded.Inc()
	p.publishBlockEvent(ctx, block.ID, showDate, domain.BlockRecorded)

	taskID, err := p.tasks.Enqueue(ctx, &domain.Task{Type: domain.TaskTranscribe, BlockID: &block.ID})
	if err != nil {
		return fmt.Errorf("enqueue transcribe for block %s: %w", w.Code, err)
	}
	log.Info("capture complete, transcription queued",
		slog.String("audio", audioPath), slog.Int64("task_id", taskID))
	return nil
}

// ProcessBlock is the catch-up pass: it re-derives whichever queue task the
// block's current status calls for. Dedup in Enqueue makes it safe to run
// any number of times.
func (p *Pipeline) ProcessBlock(ctx context.Context, showDate time.Time, code string) error {
	block, err := p.blocks.GetByDateCode(ctx, showDate, code)
	if err != nil {
		return err
	}

	var taskType domain.TaskType
	switch block.Status {
	case domain.BlockRecorded, domain.BlockTranscribing:
		taskType = domain.TaskTranscribe
	case domain.BlockTranscribed, domain.BlockSummarizing:
		taskType = domain.TaskSummarize
	default:
		p.logger.Debug("nothing to catch up",
			slog.String("code", code), slog.String("status", string(block.Status)))
		return nil
	}

	id, err := p.tasks.Enqueue(ctx, &domain.Task{Type: taskType, BlockID: &block.ID})
	if err != nil {
		return fmt.Errorf("catch-up enqueue for block %s: %w", code, err)
	}
	p.logger.Info("catch-up task ensured",
		slog.String("code", code),
		slog.String("type", string(taskType)),
		slog.Int64("task_id", id),
	)
	return nil
}

// DigestCutoff queues digest creation for the date if every block is
// COMPLETED and no digest task exists yet. An incomplete day is logged and
// skipped rather than queued: the digest lock is sticky, so attempting
// generation early would claim the date and block the real run.
func (p *Pipeline) DigestCutoff(ctx context.Context, showDate time.Time) error {
	exists, err := p.tasks.HasDigestTask(ctx, showDate)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	blocks, err := p.blocks.ListByShowDate(ctx, showDate)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		p.logger.Warn("digest cutoff with no blocks for date",
			slog.String("show_date", domain.ShowDateKey(showDate)))
		return nil
	}
	for _, b := range blocks {
		if b.Status != domain.BlockCompleted {
			p.logger.Warn("digest cutoff reached with incomplete blocks, skipping",
				slog.String("show_date", domain.ShowDateKey(showDate)),
				slog.String("code", b.Code),
				slog.String("status", string(b.Status)),
			)
			return nil
		}
	}

	id, err := p.tasks.Enqueue(ctx, &domain.Task{Type: domain.TaskCreateDigest, ShowDate: &showDate})
	if err != nil {
		return fmt.Errorf("enqueue digest for %s: %w", domain.ShowDateKey(showDate), err)
	}
	p.logger.Info("digest task ensured at cutoff",
		slog.String("show_date", domain.ShowDateKey(showDate)), slog.Int64("task_id", id))
	return nil
}

// Cleanup applies the retention window to blocks, terminal tasks, and
// audio artifacts on disk.
func (p *Pipeline) Cleanup(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-p.cfg.Retention)

	nBlocks, err := p.blocks.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	nTasks, err := p.tasks.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return err
	}
	nFiles := p.removeOldArtifacts(cutoff)

	p.logger.Info("retention cleanup done",
		slog.Int64("blocks", nBlocks),
		slog.Int64("tasks", nTasks),
		slog.Int("files", nFiles),
	)
	return nil
}

func (p *Pipeline) removeOldArtifacts(cutoff time.Time) int {
	entries, err := os.ReadDir(p.cfg.AudioDir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(p.cfg.AudioDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}

func (p *Pipeline) publishBlockEvent(ctx context.Context, blockID int64, showDate time.Time, status domain.BlockStatus) {
	ev := kafka.Event{
		Kind:     "block_status",
		BlockID:  blockID,
		ShowDate: domain.ShowDateKey(showDate),
		Status:   string(status),
	}
	if err := p.events.Publish(ctx, fmt.Sprintf("block-%d", blockID), ev); err != nil {
		p.logger.Warn("failed to publish pipeline event", slog.String("error", err.Error()))
	}
}
