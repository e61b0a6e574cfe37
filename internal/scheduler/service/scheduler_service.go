package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/scheduler/dto"
	"golang-stock-pulse/internal/scheduler/repository"
	"golang-stock-pulse/internal/scheduler/strategy"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/metrics"
	"golang-stock-pulse/pkg/telegram"
	"golang-stock-pulse/pkg/trace"
	"golang-stock-pulse/pkg/utils"

	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
)

// SchedulerService runs the registered jobs on their cadence.
type SchedulerService interface {
	// Start blocks until ctx is cancelled.
	Start(ctx context.Context)
	Trigger(ctx context.Context, jobType entity.JobType) (entity.JobStatus, error)
	Status() []dto.JobStatusResponse
}

// Options are the optional collaborators of the scheduler.
type Options struct {
	Lock     repository.JobLockRepository
	LockTTL  time.Duration
	Notifier telegram.Notifier
	Metrics  *metrics.Recorder
	Clock    func() time.Time
}

type jobState struct {
	def      entity.Job
	strategy strategy.JobExecutionStrategy
	schedule cron.Schedule
	running  atomic.Bool

	mu                  sync.Mutex
	consecutiveFailures int
	degraded            bool
	lastStatus          entity.JobStatus
	lastError           string
	lastRunAt           time.Time
}

type schedulerService struct {
	jobs        map[entity.JobType]*jobState
	historyRepo repository.TaskExecutionHistoryRepository
	logger      *logger.Logger
	opts        Options
	cronParser  cron.Parser
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewSchedulerService builds the job registry. Every job needs a strategy of
// the same type and a parseable cadence.
func NewSchedulerService(jobs []entity.Job, strategies []strategy.JobExecutionStrategy, historyRepo repository.TaskExecutionHistoryRepository, log *logger.Logger, opts Options) (SchedulerService, error) {
	if opts.Clock == nil {
		opts.Clock = utils.NowUTC
	}
	if opts.Notifier == nil {
		opts.Notifier = telegram.NewNopNotifier()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}

	byType := make(map[entity.JobType]strategy.JobExecutionStrategy, len(strategies))
	for _, st := range strategies {
		byType[st.GetType()] = st
	}

	s := &schedulerService{
		jobs:        make(map[entity.JobType]*jobState, len(jobs)),
		historyRepo: historyRepo,
		logger:      log,
		opts:        opts,
		cronParser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		sleep:       sleepContext,
	}
	for _, def := range jobs {
		st, ok := byType[def.Type]
		if !ok {
			return nil, fmt.Errorf("no strategy registered for job %q", def.Type)
		}
		if _, dup := s.jobs[def.Type]; dup {
			return nil, fmt.Errorf("job %q registered twice", def.Type)
		}
		schedule, err := s.cronParser.Parse(def.Cadence)
		if err != nil {
			return nil, fmt.Errorf("job %q: invalid cadence %q: %w", def.Type, def.Cadence, err)
		}
		if def.Timeout <= 0 {
			return nil, fmt.Errorf("job %q: timeout must be positive", def.Type)
		}
		s.jobs[def.Type] = &jobState{def: def, strategy: st, schedule: schedule}
	}
	return s, nil
}

// Start registers every job with a UTC cron and blocks until ctx is done.
// Running jobs are allowed to observe the cancellation before Start returns.
func (s *schedulerService) Start(ctx context.Context) {
	c := cron.New(cron.WithParser(s.cronParser), cron.WithLocation(time.UTC))
	for _, st := range s.sortedJobs() {
		jobType := st.def.Type
		c.Schedule(st.schedule, cron.FuncJob(func() {
			if _, err := s.Trigger(ctx, jobType); err != nil {
				s.logger.Warn("Scheduled job failed", logger.StringField("job_type", string(jobType)), logger.ErrorField(err))
			}
		}))
		s.logger.Info("Job scheduled",
			logger.StringField("job_type", string(jobType)),
			logger.StringField("cadence", st.def.Cadence))
	}

	c.Start()
	<-ctx.Done()
	s.logger.Info("Scheduler service stopping")
	<-c.Stop().Done()
}

// Trigger runs one tick of jobType. A tick that finds the job already running
// (here or, with a lock, on another instance) is skipped, not queued.
func (s *schedulerService) Trigger(ctx context.Context, jobType entity.JobType) (entity.JobStatus, error) {
	st, ok := s.jobs[jobType]
	if !ok {
		return "", fmt.Errorf("job %q: %w", jobType, entity.ErrNotFound)
	}
	if !st.running.CompareAndSwap(false, true) {
		s.skip(ctx, st, "already running")
		return entity.StatusSkipped, nil
	}
	defer st.running.Store(false)

	ctx, span := trace.StartSpan(ctx, "scheduler.Trigger")
	defer span.End()

	if s.opts.Lock != nil {
		release, acquired, err := s.opts.Lock.Acquire(ctx, jobType, s.opts.LockTTL)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to acquire job lock", logger.StringField("job_type", string(jobType)), logger.ErrorField(err))
			s.skip(ctx, st, "lock unavailable")
			return entity.StatusSkipped, err
		}
		if !acquired {
			s.skip(ctx, st, "locked by another instance")
			return entity.StatusSkipped, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "Failed to release job lock", logger.StringField("job_type", string(jobType)), logger.ErrorField(err))
			}
		}()
	}

	startedAt := s.opts.Clock()
	history := &entity.TaskExecutionHistory{JobType: jobType, Status: entity.StatusRunning, StartedAt: startedAt}
	if err := s.historyRepo.Create(ctx, history); err != nil {
		s.logger.ErrorContext(ctx, "Failed to create task history", logger.ErrorField(err), logger.StringField("job_type", string(jobType)))
	}

	s.logger.InfoContext(ctx, "Job started", logger.StringField("job_type", string(jobType)))
	status, output, attempts, runErr := s.run(ctx, st)
	completedAt := s.opts.Clock()

	history.Status = status
	history.Attempts = attempts
	history.CompletedAt = sql.NullTime{Time: completedAt, Valid: true}
	if json.Valid([]byte(output)) {
		history.Output = datatypes.JSON(output)
	}
	if runErr != nil {
		history.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}
	if err := s.historyRepo.Update(context.WithoutCancel(ctx), history); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update task history", logger.ErrorField(err), logger.Field("history_id", history.ID))
	}

	s.opts.Metrics.RecordJobRun(string(jobType), string(status), completedAt.Sub(startedAt).Seconds())
	s.logger.InfoContext(ctx, "Job finished",
		logger.StringField("job_type", string(jobType)),
		logger.StringField("status", string(status)),
		logger.IntField("attempts", attempts),
		logger.DurationField("duration", completedAt.Sub(startedAt)))
	return status, runErr
}

// run executes the attempts of one tick. Only transient errors are retried,
// with exponential backoff; a degraded job gets a single attempt.
func (s *schedulerService) run(ctx context.Context, st *jobState) (entity.JobStatus, string, int, error) {
	def := st.def
	st.mu.Lock()
	maxAttempts := def.MaxRetries + 1
	if st.degraded {
		maxAttempts = 1
	}
	st.mu.Unlock()

	backoff := def.InitialBackoff
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, def.Timeout)
		output, err := st.strategy.Execute(attemptCtx, &def)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		switch {
		case timedOut:
			err = fmt.Errorf("%s exceeded %s: %w", def.Type, def.Timeout, entity.ErrSchedulerTimeout)
			s.recordFailure(ctx, st, entity.StatusTimeout, err)
			return entity.StatusTimeout, output, attempt, err
		case err == nil:
			s.recordSuccess(ctx, st)
			return entity.StatusCompleted, output, attempt, nil
		case ctx.Err() != nil:
			// shutdown is not a job failure
			return entity.StatusFailed, output, attempt, err
		}

		degraded := s.recordFailure(ctx, st, entity.StatusFailed, err)
		if degraded || !entity.IsTransient(err) || attempt >= maxAttempts {
			return entity.StatusFailed, output, attempt, err
		}

		s.logger.WarnContext(ctx, "Job attempt failed, retrying",
			logger.StringField("job_type", string(def.Type)),
			logger.IntField("attempt", attempt),
			logger.DurationField("backoff", backoff),
			logger.ErrorField(err))
		if err := s.sleep(ctx, backoff); err != nil {
			return entity.StatusFailed, output, attempt, err
		}
		backoff *= 2
		if def.MaxBackoff > 0 && backoff > def.MaxBackoff {
			backoff = def.MaxBackoff
		}
	}
}

// recordFailure bumps the consecutive failure counter and reports whether the
// job is degraded after it.
func (s *schedulerService) recordFailure(ctx context.Context, st *jobState, status entity.JobStatus, err error) bool {
	st.mu.Lock()
	st.consecutiveFailures++
	st.lastStatus = status
	st.lastError = err.Error()
	st.lastRunAt = s.opts.Clock()
	failures := st.consecutiveFailures
	becameDegraded := !st.degraded && st.def.DegradeAfter > 0 && failures >= st.def.DegradeAfter
	if becameDegraded {
		st.degraded = true
	}
	degraded := st.degraded
	st.mu.Unlock()

	if becameDegraded {
		s.opts.Metrics.SetJobDegraded(string(st.def.Type), true)
		s.logger.ErrorContext(ctx, "Job degraded",
			logger.StringField("job_type", string(st.def.Type)),
			logger.IntField("consecutive_failures", failures),
			logger.ErrorField(err))
		s.notify(telegram.FormatDegradedJobAlert(s.opts.Clock(), st.def.Type, failures, err.Error()))
	}
	return degraded
}

func (s *schedulerService) recordSuccess(ctx context.Context, st *jobState) {
	st.mu.Lock()
	wasDegraded := st.degraded
	st.consecutiveFailures = 0
	st.degraded = false
	st.lastStatus = entity.StatusCompleted
	st.lastError = ""
	st.lastRunAt = s.opts.Clock()
	st.mu.Unlock()

	if wasDegraded {
		s.opts.Metrics.SetJobDegraded(string(st.def.Type), false)
		s.logger.InfoContext(ctx, "Job recovered", logger.StringField("job_type", string(st.def.Type)))
		s.notify(telegram.FormatJobRecovered(s.opts.Clock(), st.def.Type))
	}
}

func (s *schedulerService) skip(ctx context.Context, st *jobState, reason string) {
	s.opts.Metrics.RecordJobRun(string(st.def.Type), string(entity.StatusSkipped), 0)
	s.logger.InfoContext(ctx, "Job tick skipped",
		logger.StringField("job_type", string(st.def.Type)),
		logger.StringField("reason", reason))
}

func (s *schedulerService) notify(text string) {
	if err := s.opts.Notifier.SendMessage(text); err != nil {
		s.logger.Warn("Failed to send telegram alert", logger.ErrorField(err))
	}
}

// Status reports every job ordered by type.
func (s *schedulerService) Status() []dto.JobStatusResponse {
	now := s.opts.Clock()
	jobs := s.sortedJobs()
	out := make([]dto.JobStatusResponse, 0, len(jobs))
	for _, st := range jobs {
		st.mu.Lock()
		resp := dto.JobStatusResponse{
			Type:                string(st.def.Type),
			Cadence:             st.def.Cadence,
			Timeout:             st.def.Timeout.String(),
			MaxRetries:          st.def.MaxRetries,
			Running:             st.running.Load(),
			Degraded:            st.degraded,
			ConsecutiveFailures: st.consecutiveFailures,
			LastStatus:          string(st.lastStatus),
			LastError:           st.lastError,
			NextRunAt:           utils.ToPointer(st.schedule.Next(now)),
		}
		if !st.lastRunAt.IsZero() {
			resp.LastRunAt = utils.ToPointer(st.lastRunAt)
		}
		st.mu.Unlock()
		out = append(out, resp)
	}
	return out
}

func (s *schedulerService) sortedJobs() []*jobState {
	out := make([]*jobState, 0, len(s.jobs))
	for _, st := range s.jobs {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].def.Type < out[j].def.Type })
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
