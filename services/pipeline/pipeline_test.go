package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/kafka"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeRecorder struct {
	path string
	err  error
}

func (r *fakeRecorder) Record(_ context.Context, _ *domain.Block) (string, error) {
	return r.path, r.err
}

type fakeBlockRepo struct {
	nextID int64
	blocks map[int64]*domain.Block
}

func newFakeBlockRepo() *fakeBlockRepo {
	return &fakeBlockRepo{blocks: make(map[int64]*domain.Block)}
}

func (r *fakeBlockRepo) EnsureScheduled(_ context.Context, showDate time.Time, code string, start, end time.Time) (*domain.Block, error) {
	for _, b := range r.blocks {
		if b.Code == code && b.ShowDate.Equal(showDate) {
			cp := *b
			return &cp, nil
		}
	}
	r.nextID++
	b := &domain.Block{ID: r.nextID, ShowDate: showDate, Code: code, ScheduledAt: start, EndsAt: end, Status: domain.BlockScheduled}
	r.blocks[b.ID] = b
	cp := *b
	return &cp, nil
}

func (r *fakeBlockRepo) GetByID(_ context.Context, id int64) (*domain.Block, error) {
	b, ok := r.blocks[id]
	if !ok {
		return nil, &domain.BlockNotFoundError{BlockID: id}
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBlockRepo) GetByDateCode(_ context.Context, showDate time.Time, code string) (*domain.Block, error) {
	for _, b := range r.blocks {
		if b.Code == code && b.ShowDate.Equal(showDate) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, &domain.BlockNotFoundError{}
}

func (r *fakeBlockRepo) Transition(_ context.Context, id int64, from, to domain.BlockStatus) error {
	b := r.blocks[id]
	if b.Status != from || !from.CanTransition(to) {
		return &domain.InvalidTransitionError{BlockID: id, From: b.Status, To: to}
	}
	b.Status = to
	return nil
}

func (r *fakeBlockRepo) SetAudioPath(_ context.Context, id int64, path string) error {
	r.blocks[id].AudioPath = &path
	return nil
}

func (r *fakeBlockRepo) SetTranscriptPath(_ context.Context, id int64, path string) error {
	r.blocks[id].Transcript = &path
	return nil
}

func (r *fakeBlockRepo) SetSummary(_ context.Context, id int64, summary string) error {
	r.blocks[id].Summary = &summary
	return nil
}

func (r *fakeBlockRepo) ListByShowDate(_ context.Context, showDate time.Time) ([]*domain.Block, error) {
	var out []*domain.Block
	for _, b := range r.blocks {
		if b.ShowDate.Equal(showDate) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeBlockRepo) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

var _ postgres.BlockRepository = (*fakeBlockRepo)(nil)

type fakeTaskRepo struct {
	nextID int64
	tasks  []*domain.Task
}

func (r *fakeTaskRepo) Enqueue(_ context.Context, t *domain.Task) (int64, error) {
	for _, existing := range r.tasks {
		if existing.Type != t.Type || !existing.Status.IsOpen() {
			continue
		}
		if t.BlockID != nil && existing.BlockID != nil && *existing.BlockID == *t.BlockID {
			return existing.ID, nil
		}
		if t.BlockID == nil && t.ShowDate != nil && existing.ShowDate != nil &&
			existing.BlockID == nil && existing.ShowDate.Equal(*t.ShowDate) {
			return existing.ID, nil
		}
	}
	r.nextID++
	cp := *t
	cp.ID = r.nextID
	cp.Status = domain.StatusPending
	r.tasks = append(r.tasks, &cp)
	return cp.ID, nil
}

func (r *fakeTaskRepo) Claim(_ context.Context) (*domain.Task, error) { return nil, nil }
func (r *fakeTaskRepo) MarkCompleted(_ context.Context, _ int64, _ string) error {
	return nil
}
func (r *fakeTaskRepo) MarkRetry(_ context.Context, _ int64, _ string) error  { return nil }
func (r *fakeTaskRepo) MarkFailed(_ context.Context, _ int64, _ string) error { return nil }
func (r *fakeTaskRepo) GetByID(_ context.Context, id int64) (*domain.Task, error) {
	return nil, &domain.TaskNotFoundError{TaskID: id}
}

func (r *fakeTaskRepo) HasDigestTask(_ context.Context, showDate time.Time) (bool, error) {
	for _, t := range r.tasks {
		if t.Type == domain.TaskCreateDigest && t.ShowDate != nil && t.ShowDate.Equal(showDate) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTaskRepo) ListOpen(_ context.Context, _ int) ([]*domain.Task, error) { return nil, nil }
func (r *fakeTaskRepo) CountByTypeStatus(_ context.Context) ([]postgres.TaskCount, error) {
	return nil, nil
}
func (r *fakeTaskRepo) RequeueStale(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}
func (r *fakeTaskRepo) PurgeTerminal(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (r *fakeTaskRepo) byType(tt domain.TaskType) []*domain.Task {
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.Type == tt {
			out = append(out, t)
		}
	}
	return out
}

var _ postgres.TaskRepository = (*fakeTaskRepo)(nil)

// ── helpers ──────────────────────────────────────────────────────────────────

var testDate = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Windows: []Window{
			{Code: "A", Start: "17:05", End: "17:20"},
			{Code: "B", Start: "17:20", End: "17:35"},
		},
		Location:    time.UTC,
		DigestTime:  "19:00",
		CleanupTime: "03:00",
		Retention:   30 * 24 * time.Hour,
		AudioDir:    t.TempDir(),
	}
}

func newTestPipeline(t *testing.T, rec *fakeRecorder) (*Pipeline, *fakeBlockRepo, *fakeTaskRepo) {
	t.Helper()
	blocks := newFakeBlockRepo()
	tasks := &fakeTaskRepo{}
	p := New(testConfig(t), blocks, tasks, rec, kafka.NopPublisher{}, slog.New(slog.DiscardHandler))
	return p, blocks, tasks
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestCaptureBlock_RecordsAndQueuesTranscription(t *testing.T) {
	p, blocks, tasks := newTestPipeline(t, &fakeRecorder{path: "/audio/2026-03-09_A.mp3"})

	err := p.CaptureBlock(context.Background(), testDate, Window{Code: "A", Start: "17:05", End: "17:20"})
	require.NoError(t, err)

	b := blocks.blocks[1]
	assert.Equal(t, domain.BlockRecorded, b.Status)
	require.NotNil(t, b.AudioPath)
	assert.Equal(t, "/audio/2026-03-09_A.mp3", *b.AudioPath)

	queued := tasks.byType(domain.TaskTranscribe)
	require.Len(t, queued, 1)
	assert.Equal(t, b.ID, *queued[0].BlockID)
}

func TestCaptureBlock_AlreadyProgressed_NoOp(t *testing.T) {
	p, blocks, tasks := newTestPipeline(t, &fakeRecorder{path: "/audio/x.mp3"})

	// A previous run already recorded this window.
	b, err := blocks.EnsureScheduled(context.Background(), testDate, "A",
		testDate.Add(17*time.Hour), testDate.Add(17*time.Hour+15*time.Minute))
	require.NoError(t, err)
	blocks.blocks[b.ID].Status = domain.BlockRecorded

	err = p.CaptureBlock(context.Background(), testDate, Window{Code: "A", Start: "17:05", End: "17:20"})
	require.NoError(t, err)
	assert.Equal(t, domain.BlockRecorded, blocks.blocks[b.ID].Status)
	assert.Empty(t, tasks.byType(domain.TaskTranscribe), "re-run must not enqueue anything")
}

func TestCaptureBlock_RecorderFails_BlockFailed(t *testing.T) {
	p, blocks, tasks := newTestPipeline(t, &fakeRecorder{err: errors.New("stream unreachable")})

	err := p.CaptureBlock(context.Background(), testDate, Window{Code: "A", Start: "17:05", End: "17:20"})
	require.Error(t, err)
	assert.Equal(t, domain.BlockFailed, blocks.blocks[1].Status)
	assert.Empty(t, tasks.tasks, "failed capture queues nothing")
}

func TestProcessBlock_CatchUpByStatus(t *testing.T) {
	p, blocks, tasks := newTestPipeline(t, &fakeRecorder{})

	b, err := blocks.EnsureScheduled(context.Background(), testDate, "A",
		testDate.Add(17*time.Hour), testDate.Add(17*time.Hour+15*time.Minute))
	require.NoError(t, err)

	// RECORDED: the transcribe task is re-derived.
	blocks.blocks[b.ID].Status = domain.BlockRecorded
	require.NoError(t, p.ProcessBlock(context.Background(), testDate, "A"))
	assert.Len(t, tasks.byType(domain.TaskTranscribe), 1)

	// Running it again changes nothing (dedup).
	require.NoError(t, p.ProcessBlock(context.Background(), testDate, "A"))
	assert.Len(t, tasks.byType(domain.TaskTranscribe), 1)

	// TRANSCRIBED: the summarize task is re-derived.
	blocks.blocks[b.ID].Status = domain.BlockTranscribed
	require.NoError(t, p.ProcessBlock(context.Background(), testDate, "A"))
	assert.Len(t, tasks.byType(domain.TaskSummarize), 1)

	// COMPLETED: nothing to do.
	blocks.blocks[b.ID].Status = domain.BlockCompleted
	require.NoError(t, p.ProcessBlock(context.Background(), testDate, "A"))
	assert.Len(t, tasks.tasks, 2)
}

func TestDigestCutoff_SkipsIncompleteDay(t *testing.T) {
	p, blocks, tasks := newTestPipeline(t, &fakeRecorder{})

	a, _ := blocks.EnsureScheduled(context.Background(), testDate, "A", testDate, testDate.Add(15*time.Minute))
	blocks.blocks[a.ID].Status = domain.BlockCompleted
	b, _ := blocks.EnsureScheduled(context.Background(), testDate, "B", testDate, testDate.Add(15*time.Minute))
	blocks.blocks[b.ID].Status = domain.BlockTranscribing

	require.NoError(t, p.DigestCutoff(context.Background(), testDate))
	assert.Empty(t, tasks.byType(domain.TaskCreateDigest),
		"an incomplete day must not claim the sticky digest lock")
}

func TestDigestCutoff_QueuesWhenComplete(t *testing.T) {
	p, blocks, tasks := newTestPipeline(t, &fakeRecorder{})

	for _, code := range []string{"A", "B"} {
		b, _ := blocks.EnsureScheduled(context.Background(), testDate, code, testDate, testDate.Add(15*time.Minute))
		blocks.blocks[b.ID].Status = domain.BlockCompleted
	}

	require.NoError(t, p.DigestCutoff(context.Background(), testDate))
	require.Len(t, tasks.byType(domain.TaskCreateDigest), 1)

	// A second cutoff (manual re-run) finds the existing task.
	require.NoError(t, p.DigestCutoff(context.Background(), testDate))
	assert.Len(t, tasks.byType(domain.TaskCreateDigest), 1)
}

func TestTriggers_DerivesFullDailySet(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeRecorder{})

	triggers, err := p.Triggers(testDate)
	require.NoError(t, err)
	// Two windows: capture + catch-up each, plus digest cutoff and cleanup.
	require.Len(t, triggers, 6)

	names := make(map[string]string, len(triggers))
	for _, tr := range triggers {
		names[tr.Name] = tr.Spec
	}
	assert.Equal(t, "5 17 * * *", names["capture-A"])
	assert.Equal(t, "22 17 * * *", names["process-A"], "catch-up runs two minutes after the window ends")
	assert.Equal(t, "0 19 * * *", names["digest-cutoff"])
	assert.Equal(t, "0 3 * * *", names["cleanup"])
}
