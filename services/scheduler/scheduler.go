package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/FreeBandoLano/echobot-sub000/pkg/telemetry"
)

// Trigger is one named daily firing: a five-field UTC cron spec and the
// job to run when it comes due.
type Trigger struct {
	Name string
	Spec string
	Job  func(ctx context.Context) error
}

type trigger struct {
	Trigger
	schedule cron.Schedule
	nextRun  time.Time
}

// BuildFunc derives the day's trigger set. It is called at startup and
// again at every local-midnight rollover, so the UTC firing times always
// reflect the current date's UTC offset.
type BuildFunc func(date time.Time) ([]Trigger, error)

// Scheduler polls for due triggers and runs each in a tracked goroutine.
type Scheduler struct {
	loc          *time.Location
	build        BuildFunc
	pollInterval time.Duration
	jobTimeout   time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	triggers   []*trigger
	derivedFor string // local date key the current specs were derived for

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithPollInterval(d time.Duration) Option { return func(s *Scheduler) { s.pollInterval = d } }
func WithJobTimeout(d time.Duration) Option   { return func(s *Scheduler) { s.jobTimeout = d } }
func WithLogger(l *slog.Logger) Option        { return func(s *Scheduler) { s.logger = l } }

// NewScheduler constructs a Scheduler deriving its triggers via build.
func NewScheduler(loc *time.Location, build BuildFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		loc:          loc,
		build:        build,
		pollInterval: 10 * time.Second,
		jobTimeout:   30 * time.Minute,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure derives the trigger set for the given local date, replacing any
// previous set. Next-run times are seeded strictly after now, so a trigger
// whose time already passed today fires tomorrow, not immediately.
func (s *Scheduler) Configure(now time.Time) error {
	localDate := now.In(s.loc)
	specs, err := s.build(localDate)
	if err != nil {
		return fmt.Errorf("derive triggers for %s: %w", localDate.Format("2006-01-02"), err)
	}

	parsed := make([]*trigger, 0, len(specs))
	for _, t := range specs {
		schedule, err := cron.ParseStandard(t.Spec)
		if err != nil {
			return fmt.Errorf("parse cron %q for trigger %q: %w", t.Spec, t.Name, err)
		}
		parsed = append(parsed, &trigger{
			Trigger:  t,
			schedule: schedule,
			nextRun:  schedule.Next(now),
		})
	}

	s.mu.Lock()
	s.triggers = parsed
	s.derivedFor = localDate.Format("2006-01-02")
	s.mu.Unlock()

	s.logger.Info("scheduler configured",
		slog.String("local_date", localDate.Format("2006-01-02")),
		slog.Int("triggers", len(parsed)),
	)
	return nil
}

// Run polls for due triggers until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// Wait blocks until all in-flight trigger jobs finish. Call after Run
// returns.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	// Day rollover: the grid is wall-clock local, so the UTC specs must be
	// re-derived once the local date changes (this is where a DST shift
	// takes effect).
	s.mu.Lock()
	derivedFor := s.derivedFor
	s.mu.Unlock()
	if localKey := now.In(s.loc).Format("2006-01-02"); localKey != derivedFor {
		if err := s.Configure(now); err != nil {
			s.logger.Error("day-rollover reconfigure failed", slog.String("error", err.Error()))
			return
		}
	}

	s.mu.Lock()
	var due []*trigger
	for _, t := range s.triggers {
		if !t.nextRun.After(now) {
			due = append(due, t)
			t.nextRun = t.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.fire(ctx, t)
	}
}

// fire runs one trigger job in a tracked goroutine. A panicking or failing
// job is contained: it never takes down the poll loop or the other
// triggers of the day.
func (s *Scheduler) fire(ctx context.Context, t *trigger) {
	s.wg.Add(1)
	telemetry.SchedulerTriggersFired.WithLabelValues(t.Name).Inc()
	s.logger.Info("trigger fired", slog.String("trigger", t.Name))

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				telemetry.SchedulerTriggerErrors.WithLabelValues(t.Name).Inc()
				s.logger.Error("trigger panicked",
					slog.String("trigger", t.Name),
					slog.Any("panic", r),
				)
			}
		}()

		jobCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
		if err := t.Job(jobCtx); err != nil {
			telemetry.SchedulerTriggerErrors.WithLabelValues(t.Name).Inc()
			s.logger.Error("trigger job failed",
				slog.String("trigger", t.Name),
				slog.String("error", err.Error()),
			)
		}
	}()
}
