package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/handlers"
	"github.com/FreeBandoLano/echobot-sub000/internal/kafka"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
	"github.com/FreeBandoLano/echobot-sub000/pkg/telemetry"
)

// Worker polls the tasks table, dispatches each claimed task to its
// handler, and applies the retry and chaining rules. One claim loop runs
// per process; SKIP LOCKED in the claim query keeps multiple processes
// safe anyway.
type Worker struct {
	tasks    postgres.TaskRepository
	blocks   postgres.BlockRepository
	registry *handlers.Registry
	chain    *Chain
	events   kafka.Publisher
	workerID string

	pollInterval   time.Duration
	staleAfter     time.Duration
	defaultTimeout time.Duration
	timeouts       map[domain.TaskType]time.Duration
	logger         *slog.Logger

	wg sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

func WithPollInterval(d time.Duration) Option   { return func(w *Worker) { w.pollInterval = d } }
func WithStaleAfter(d time.Duration) Option     { return func(w *Worker) { w.staleAfter = d } }
func WithLogger(l *slog.Logger) Option          { return func(w *Worker) { w.logger = l } }
func WithDefaultTimeout(d time.Duration) Option { return func(w *Worker) { w.defaultTimeout = d } }

// WithHandlerTimeout sets the execution deadline for one task type.
func WithHandlerTimeout(t domain.TaskType, d time.Duration) Option {
	return func(w *Worker) { w.timeouts[t] = d }
}

// NewWorker constructs a Worker with the given dependencies and options.
func NewWorker(
	workerID string,
	tasks postgres.TaskRepository,
	blocks postgres.BlockRepository,
	registry *handlers.Registry,
	chain *Chain,
	events kafka.Publisher,
	opts ...Option,
) *Worker {
	w := &Worker{
		workerID:       workerID,
		tasks:          tasks,
		blocks:         blocks,
		registry:       registry,
		chain:          chain,
		events:         events,
		pollInterval:   5 * time.Second,
		staleAfter:     time.Hour,
		defaultTimeout: 5 * time.Minute,
		timeouts:       make(map[domain.TaskType]time.Duration),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reconcile requeues tasks orphaned in RUNNING by a previous crash. Call
// once at startup, before Run.
func (w *Worker) Reconcile(ctx context.Context) error {
	n, err := w.tasks.RequeueStale(ctx, w.staleAfter)
	if err != nil {
		return fmt.Errorf("reconcile stale tasks: %w", err)
	}
	if n > 0 {
		w.logger.Warn("requeued orphaned running tasks", slog.Int64("count", n))
	}
	return nil
}

// Run polls and processes tasks until ctx is cancelled. The task being
// processed when cancellation arrives is finished, not abandoned: its
// execution context is independent of ctx.
func (w *Worker) Run(ctx context.Context) error {
	depthTicker := time.NewTicker(30 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-depthTicker.C:
			w.reportDepth(ctx)
		default:
		}

		task, err := w.tasks.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("claim failed", slog.String("error", err.Error()))
			w.sleep(ctx, w.pollInterval)
			continue
		}
		if task == nil {
			w.sleep(ctx, w.pollInterval)
			continue
		}
		w.processTask(ctx, task)
	}
}

// Wait blocks until the in-flight task (if any) finishes. Call after Run
// returns.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (w *Worker) reportDepth(ctx context.Context) {
	counts, err := w.tasks.CountByTypeStatus(ctx)
	if err != nil {
		return
	}
	var open int64
	for _, c := range counts {
		if c.Status.IsOpen() {
			open += c.Count
		}
	}
	telemetry.QueueDepth.Set(float64(open))
}

func (w *Worker) processTask(parentCtx context.Context, task *domain.Task) {
	w.wg.Add(1)
	defer w.wg.Done()

	ctx, span := otel.Tracer("queue").Start(parentCtx, "queue.process_task")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("task.id", task.ID),
		attribute.String("task.type", string(task.Type)),
		attribute.String("worker.id", w.workerID),
	)

	log := w.logger.With(
		slog.Int64("task_id", task.ID),
		slog.String("task_type", string(task.Type)),
		slog.Int("retry_count", task.RetryCount),
	)

	h, err := w.registry.Get(task.Type)
	if err != nil {
		// Unknown type means a config or migration mismatch; retrying
		// cannot fix it.
		log.Error("no handler for task type", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no handler registered")
		w.fail(ctx, task, err, log)
		return
	}

	if err := w.preDispatch(ctx, task); err != nil {
		log.Error("pre-dispatch transition failed", slog.String("error", err.Error()))
		w.fail(ctx, task, err, log)
		return
	}

	start := time.Now()
	execErr := w.execute(span, task, h)
	durationSec := time.Since(start).Seconds()
	telemetry.QueueTaskDurationSeconds.WithLabelValues(string(task.Type)).Observe(durationSec)

	switch {
	case execErr == nil:
		log.Info("task completed", slog.Duration("duration", time.Since(start)))
		w.complete(ctx, task, "", log)

	case errors.Is(execErr, domain.ErrNotReady):
		// Precondition not met: complete as a no-op. No retry consumed,
		// no follow-up chained; a catch-up trigger re-derives the work.
		log.Info("task not ready, completing as no-op", slog.String("reason", execErr.Error()))
		if err := w.tasks.MarkCompleted(ctx, task.ID, "no-op: "+execErr.Error()); err != nil {
			log.Error("failed to mark task completed", slog.String("error", err.Error()))
		}
		telemetry.QueueTasksProcessed.WithLabelValues(string(task.Type), "noop").Inc()

	case task.RetryCount < task.MaxRetries:
		log.Warn("task failed, scheduling retry",
			slog.String("error", execErr.Error()),
			slog.Int("attempt", task.RetryCount+1),
			slog.Int("max_retries", task.MaxRetries),
		)
		span.RecordError(execErr)
		w.retry(ctx, task, execErr, log)

	default:
		log.Error("task failed permanently",
			slog.String("error", execErr.Error()),
			slog.Int("attempts", task.RetryCount+1),
		)
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "retries exhausted")
		w.fail(ctx, task, execErr, log)
	}
}

// execute runs the handler under its per-type deadline. The execution
// context is detached from the claim loop's context so shutdown does not
// abort a task mid-flight, but stays parented to the task span.
func (w *Worker) execute(span trace.Span, task *domain.Task, h handlers.Handler) error {
	timeout := w.defaultTimeout
	if d, ok := w.timeouts[task.Type]; ok {
		timeout = d
	}
	execCtx, cancel := context.WithTimeout(
		trace.ContextWithSpan(context.Background(), span),
		timeout,
	)
	defer cancel()
	return h.Handle(execCtx, task)
}

// preDispatch moves the referenced block into the stage's in-progress
// status. A block already in progress (a retry) is fine; anything else is
// a transition error.
func (w *Worker) preDispatch(ctx context.Context, task *domain.Task) error {
	switch task.Type {
	case domain.TaskTranscribe:
		return w.enterStage(ctx, task, domain.BlockRecorded, domain.BlockTranscribing)
	case domain.TaskSummarize:
		return w.enterStage(ctx, task, domain.BlockTranscribed, domain.BlockSummarizing)
	default:
		return nil
	}
}

func (w *Worker) enterStage(ctx context.Context, task *domain.Task, from, to domain.BlockStatus) error {
	if task.BlockID == nil {
		return fmt.Errorf("%s task %d has no block reference", task.Type, task.ID)
	}
	block, err := w.blocks.GetByID(ctx, *task.BlockID)
	if err != nil {
		return err
	}
	if block.Status == to {
		return nil
	}
	return w.blocks.Transition(ctx, *task.BlockID, from, to)
}

func (w *Worker) complete(ctx context.Context, task *domain.Task, note string, log *slog.Logger) {
	if err := w.tasks.MarkCompleted(ctx, task.ID, note); err != nil {
		log.Error("failed to mark task completed", slog.String("error", err.Error()))
		return
	}
	telemetry.QueueTasksProcessed.WithLabelValues(string(task.Type), "completed").Inc()
	w.publishEvent(ctx, task, "COMPLETED", "")

	if err := w.chain.Advance(ctx, task); err != nil {
		// The task itself succeeded; a chaining failure is logged and left
		// to the catch-up triggers.
		log.Error("failed to chain follow-up task", slog.String("error", err.Error()))
	}
}

func (w *Worker) retry(ctx context.Context, task *domain.Task, taskErr error, log *slog.Logger) {
	if err := w.tasks.MarkRetry(ctx, task.ID, taskErr.Error()); err != nil {
		log.Error("failed to mark task for retry", slog.String("error", err.Error()))
		return
	}
	telemetry.QueueRetriesTotal.WithLabelValues(string(task.Type)).Inc()

	// A failed summarization rolls the block back so the retry's
	// pre-dispatch transition finds it in TRANSCRIBED again.
	if task.Type == domain.TaskSummarize && task.BlockID != nil {
		if err := w.blocks.Transition(ctx, *task.BlockID, domain.BlockSummarizing, domain.BlockTranscribed); err != nil {
			log.Error("failed to roll back block for retry", slog.String("error", err.Error()))
		}
	}
}

func (w *Worker) fail(ctx context.Context, task *domain.Task, taskErr error, log *slog.Logger) {
	if err := w.tasks.MarkFailed(ctx, task.ID, taskErr.Error()); err != nil {
		log.Error("failed to mark task failed", slog.String("error", err.Error()))
	}
	telemetry.QueueTasksProcessed.WithLabelValues(string(task.Type), "failed").Inc()

	if task.BlockID != nil {
		block, err := w.blocks.GetByID(ctx, *task.BlockID)
		if err == nil && !block.Status.IsTerminal() {
			if terr := w.blocks.Transition(ctx, *task.BlockID, block.Status, domain.BlockFailed); terr != nil {
				log.Error("failed to mark block failed", slog.String("error", terr.Error()))
			}
		}
	}
	w.publishEvent(ctx, task, "FAILED", taskErr.Error())
}

func (w *Worker) publishEvent(ctx context.Context, task *domain.Task, status, detail string) {
	ev := kafka.Event{
		Kind:   "task_status",
		Status: status,
		Detail: detail,
	}
	key := fmt.Sprintf("task-%d", task.ID)
	if task.BlockID != nil {
		ev.BlockID = *task.BlockID
		key = fmt.Sprintf("block-%d", *task.BlockID)
	}
	if task.ShowDate != nil {
		ev.ShowDate = domain.ShowDateKey(*task.ShowDate)
		key = "date-" + ev.ShowDate
	}
	if err := w.events.Publish(ctx, key, ev); err != nil {
		w.logger.Warn("failed to publish pipeline event", slog.String("error", err.Error()))
	}
}
