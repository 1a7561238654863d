package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeTaskRepo struct {
	tasks  map[int64]*domain.Task
	queued []*domain.Task
}

func newFakeTaskRepo() *fakeTaskRepo { return &fakeTaskRepo{tasks: make(map[int64]*domain.Task)} }

func (r *fakeTaskRepo) Enqueue(_ context.Context, t *domain.Task) (int64, error) {
	r.queued = append(r.queued, t)
	return int64(len(r.queued)), nil
}
func (r *fakeTaskRepo) Claim(_ context.Context) (*domain.Task, error)        { return nil, nil }
func (r *fakeTaskRepo) MarkCompleted(_ context.Context, _ int64, _ string) error { return nil }
func (r *fakeTaskRepo) MarkRetry(_ context.Context, _ int64, _ string) error { return nil }
func (r *fakeTaskRepo) MarkFailed(_ context.Context, _ int64, _ string) error { return nil }
func (r *fakeTaskRepo) GetByID(_ context.Context, id int64) (*domain.Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return t, nil
}
func (r *fakeTaskRepo) HasDigestTask(_ context.Context, _ time.Time) (bool, error) {
	return false, nil
}
func (r *fakeTaskRepo) ListOpen(_ context.Context, _ int) ([]*domain.Task, error) {
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.Status.IsOpen() {
			out = append(out, t)
		}
	}
	return out, nil
}
func (r *fakeTaskRepo) CountByTypeStatus(_ context.Context) ([]postgres.TaskCount, error) {
	return []postgres.TaskCount{{Type: domain.TaskTranscribe, Status: domain.StatusPending, Count: 1}}, nil
}
func (r *fakeTaskRepo) RequeueStale(_ context.Context, _ time.Duration) (int64, error) { return 0, nil }
func (r *fakeTaskRepo) PurgeTerminal(_ context.Context, _ time.Time) (int64, error)    { return 0, nil }

var _ postgres.TaskRepository = (*fakeTaskRepo)(nil)

type fakeBlockRepo struct {
	byDate map[string][]*domain.Block
}

func (r *fakeBlockRepo) EnsureScheduled(_ context.Context, showDate time.Time, code string, start, end time.Time) (*domain.Block, error) {
	return &domain.Block{ID: 1, ShowDate: showDate, Code: code, ScheduledAt: start, EndsAt: end, Status: domain.BlockScheduled}, nil
}
func (r *fakeBlockRepo) GetByID(_ context.Context, id int64) (*domain.Block, error) {
	return nil, &domain.BlockNotFoundError{BlockID: id}
}
func (r *fakeBlockRepo) GetByDateCode(_ context.Context, _ time.Time, _ string) (*domain.Block, error) {
	return nil, &domain.BlockNotFoundError{}
}
func (r *fakeBlockRepo) Transition(_ context.Context, _ int64, _, _ domain.BlockStatus) error {
	return nil
}
func (r *fakeBlockRepo) SetAudioPath(_ context.Context, _ int64, _ string) error      { return nil }
func (r *fakeBlockRepo) SetTranscriptPath(_ context.Context, _ int64, _ string) error { return nil }
func (r *fakeBlockRepo) SetSummary(_ context.Context, _ int64, _ string) error        { return nil }
func (r *fakeBlockRepo) ListByShowDate(_ context.Context, showDate time.Time) ([]*domain.Block, error) {
	return r.byDate[domain.ShowDateKey(showDate)], nil
}
func (r *fakeBlockRepo) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

var _ postgres.BlockRepository = (*fakeBlockRepo)(nil)

type fakeDigestRepo struct {
	digests map[string]string
}

func (r *fakeDigestRepo) TryAcquireLock(_ context.Context, _ time.Time, _ string) (bool, error) {
	return true, nil
}
func (r *fakeDigestRepo) SaveDigest(_ context.Context, _ time.Time, _ string) error { return nil }
func (r *fakeDigestRepo) GetDigest(_ context.Context, showDate time.Time) (*domain.Digest, error) {
	body, ok := r.digests[domain.ShowDateKey(showDate)]
	if !ok {
		return nil, &domain.DigestNotFoundError{ShowDate: showDate}
	}
	return &domain.Digest{ShowDate: showDate, Body: body}, nil
}
func (r *fakeDigestRepo) HasDigest(_ context.Context, _ time.Time) (bool, error) { return false, nil }

var _ postgres.DigestRepository = (*fakeDigestRepo)(nil)

type fakePinger struct{ err error }

func (p *fakePinger) Ping(_ context.Context) error { return p.err }

// fakeTriggers records manual-trigger calls; "A" is the only known window.
type fakeTriggers struct {
	captured    []string
	processed   []string
	digestDates []string
	err         error
}

func (f *fakeTriggers) CaptureByCode(_ context.Context, _ time.Time, code string) error {
	f.captured = append(f.captured, code)
	return f.err
}
func (f *fakeTriggers) ProcessBlock(_ context.Context, _ time.Time, code string) error {
	if f.err != nil {
		return f.err
	}
	f.processed = append(f.processed, code)
	return nil
}
func (f *fakeTriggers) DigestCutoff(_ context.Context, showDate time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.digestDates = append(f.digestDates, domain.ShowDateKey(showDate))
	return nil
}
func (f *fakeTriggers) HasWindow(code string) bool { return code == "A" }

// ── helpers ──────────────────────────────────────────────────────────────────

func newTestServer(t *testing.T, tasks *fakeTaskRepo, blocks *fakeBlockRepo, digests *fakeDigestRepo, db *fakePinger) (*httptest.Server, *fakeTriggers) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	trig := &fakeTriggers{}
	rest := NewREST(tasks, blocks, digests, trig, db, logger)
	srv := httptest.NewServer(rest.Router())
	t.Cleanup(srv.Close)
	return srv, trig
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, newFakeTaskRepo(), &fakeBlockRepo{}, &fakeDigestRepo{}, &fakePinger{})
	resp := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz_DatabaseDown(t *testing.T) {
	srv, _ := newTestServer(t, newFakeTaskRepo(), &fakeBlockRepo{}, &fakeDigestRepo{},
		&fakePinger{err: errors.New("connection refused")})
	resp := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetTask(t *testing.T) {
	tasks := newFakeTaskRepo()
	tasks.tasks[42] = &domain.Task{ID: 42, Type: domain.TaskTranscribe, Status: domain.StatusPending}
	srv, _ := newTestServer(t, tasks, &fakeBlockRepo{}, &fakeDigestRepo{}, &fakePinger{})

	assert.Equal(t, http.StatusOK, get(t, srv, "/api/v1/tasks/42").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/v1/tasks/99").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/v1/tasks/abc").StatusCode)
}

func TestListTasks_LimitValidation(t *testing.T) {
	srv, _ := newTestServer(t, newFakeTaskRepo(), &fakeBlockRepo{}, &fakeDigestRepo{}, &fakePinger{})
	assert.Equal(t, http.StatusOK, get(t, srv, "/api/v1/tasks").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/v1/tasks?limit=0").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/v1/tasks?limit=5000").StatusCode)
}

func TestListBlocks_RequiresDate(t *testing.T) {
	srv, _ := newTestServer(t, newFakeTaskRepo(), &fakeBlockRepo{}, &fakeDigestRepo{}, &fakePinger{})
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/v1/blocks").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/v1/blocks?date=15-03-2026").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv, "/api/v1/blocks?date=2026-03-09").StatusCode)
}

func TestGetDigest(t *testing.T) {
	digests := &fakeDigestRepo{digests: map[string]string{"2026-03-09": "the digest"}}
	srv, _ := newTestServer(t, newFakeTaskRepo(), &fakeBlockRepo{}, digests, &fakePinger{})

	assert.Equal(t, http.StatusOK, get(t, srv, "/api/v1/digests/2026-03-09").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/v1/digests/2026-03-10").StatusCode)
}

func TestTriggerCapture_UnknownCode(t *testing.T) {
	srv, trig := newTestServer(t, newFakeTaskRepo(), &fakeBlockRepo{}, &fakeDigestRepo{}, &fakePinger{})
	resp := post(t, srv, "/api/v1/trigger/capture", `{"date":"2026-03-09","code":"Z"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, trig.captured)
}

func TestTriggerProcess_Accepted(t *testing.T) {
	srv, trig := newTestServer(t, newFakeTaskRepo(), &fakeBlockRepo{}, &fakeDigestRepo{}, &fakePinger{})
	resp := post(t, srv, "/api/v1/trigger/process", `{"date":"2026-03-09","code":"A"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"A"}, trig.processed)
}

func TestTriggerDigest_Accepted(t *testing.T) {
	srv, trig := newTestServer(t, newFakeTaskRepo(), &fakeBlockRepo{}, &fakeDigestRepo{}, &fakePinger{})

	resp := post(t, srv, "/api/v1/trigger/digest", `{"date":"2026-03-09"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"2026-03-09"}, trig.digestDates)
}
