package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/scheduler/strategy"
	"golang-stock-pulse/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memHistory struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]entity.TaskExecutionHistory
}

func newMemHistory() *memHistory { return &memHistory{rows: map[uint]entity.TaskExecutionHistory{}} }

func (m *memHistory) Create(_ context.Context, h *entity.TaskExecutionHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h.ID = m.nextID
	m.rows[h.ID] = *h
	return nil
}

func (m *memHistory) FindByID(_ context.Context, id uint) (*entity.TaskExecutionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("execution %d: %w", id, entity.ErrNotFound)
	}
	return &h, nil
}

func (m *memHistory) FindAll(_ context.Context, limit int) ([]entity.TaskExecutionHistory, error) {
	return m.filter("", limit), nil
}

func (m *memHistory) FindAllByJobType(_ context.Context, jobType entity.JobType, limit int) ([]entity.TaskExecutionHistory, error) {
	return m.filter(jobType, limit), nil
}

func (m *memHistory) filter(jobType entity.JobType, limit int) []entity.TaskExecutionHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.TaskExecutionHistory
	for id := m.nextID; id > 0 && len(out) < limit; id-- {
		h := m.rows[id]
		if jobType == "" || h.JobType == jobType {
			out = append(out, h)
		}
	}
	return out
}

func (m *memHistory) Update(_ context.Context, h *entity.TaskExecutionHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[h.ID] = *h
	return nil
}

// scripted returns its errors in order, then succeeds.
type scripted struct {
	jobType entity.JobType
	mu      sync.Mutex
	errs    []error
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (s *scripted) GetType() entity.JobType { return s.jobType }

func (s *scripted) Execute(ctx context.Context, job *entity.Job) (string, error) {
	s.mu.Lock()
	s.calls++
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	s.mu.Unlock()

	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return `{"status":"failed"}`, err
	}
	return `{"status":"success"}`, nil
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) SendMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

var transient = fmt.Errorf("yahoo: %w", entity.ErrUpstreamUnavailable)

func job(jobType entity.JobType) entity.Job {
	return entity.Job{
		Type: jobType, Cadence: "@every 1h", Timeout: time.Second,
		MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, DegradeAfter: 3,
	}
}

func newTestScheduler(t *testing.T, def entity.Job, st strategy.JobExecutionStrategy, opts Options) (*schedulerService, *memHistory, *[]time.Duration) {
	t.Helper()
	history := newMemHistory()
	svc, err := NewSchedulerService([]entity.Job{def}, []strategy.JobExecutionStrategy{st}, history, logger.NewNop(), opts)
	require.NoError(t, err)
	s := svc.(*schedulerService)
	var sleeps []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return s, history, &sleeps
}

func TestTrigger_CompletesAndRecordsHistory(t *testing.T) {
	st := &scripted{jobType: entity.JobTypeScreening}
	s, history, _ := newTestScheduler(t, job(entity.JobTypeScreening), st, Options{})

	status, err := s.Trigger(context.Background(), entity.JobTypeScreening)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, status)

	h, err := history.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, h.Status)
	assert.Equal(t, 1, h.Attempts)
	assert.True(t, h.CompletedAt.Valid)
	assert.JSONEq(t, `{"status":"success"}`, string(h.Output))
	assert.False(t, h.ErrorMessage.Valid)
}

func TestTrigger_UnknownJob(t *testing.T) {
	s, _, _ := newTestScheduler(t, job(entity.JobTypeScreening), &scripted{jobType: entity.JobTypeScreening}, Options{})
	_, err := s.Trigger(context.Background(), "nope")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestTrigger_BusyTickIsSkipped(t *testing.T) {
	st := &scripted{jobType: entity.JobTypeScreening, block: make(chan struct{}), started: make(chan struct{}, 1)}
	s, history, _ := newTestScheduler(t, job(entity.JobTypeScreening), st, Options{})

	done := make(chan entity.JobStatus)
	go func() {
		status, _ := s.Trigger(context.Background(), entity.JobTypeScreening)
		done <- status
	}()
	<-st.started

	status, err := s.Trigger(context.Background(), entity.JobTypeScreening)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSkipped, status)
	assert.True(t, s.Status()[0].Running)

	close(st.block)
	assert.Equal(t, entity.StatusCompleted, <-done)
	assert.Equal(t, 1, st.Calls())
	all, _ := history.FindAll(context.Background(), 10)
	assert.Len(t, all, 1)
}

func TestTrigger_RetriesTransientWithBackoff(t *testing.T) {
	st := &scripted{jobType: entity.JobTypePriceIngestion, errs: []error{transient, transient}}
	def := job(entity.JobTypePriceIngestion)
	def.DegradeAfter = 0
	s, history, sleeps := newTestScheduler(t, def, st, Options{})

	status, err := s.Trigger(context.Background(), entity.JobTypePriceIngestion)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, status)
	assert.Equal(t, 3, st.Calls())
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, *sleeps)

	h, _ := history.FindByID(context.Background(), 1)
	assert.Equal(t, 3, h.Attempts)
	assert.Zero(t, s.Status()[0].ConsecutiveFailures)
}

func TestTrigger_BackoffIsCapped(t *testing.T) {
	st := &scripted{jobType: entity.JobTypePriceIngestion, errs: []error{transient, transient, transient, transient, transient}}
	def := job(entity.JobTypePriceIngestion)
	def.MaxRetries = 4
	def.DegradeAfter = 0
	s, _, sleeps := newTestScheduler(t, def, st, Options{})

	status, err := s.Trigger(context.Background(), entity.JobTypePriceIngestion)
	assert.ErrorIs(t, err, entity.ErrUpstreamUnavailable)
	assert.Equal(t, entity.StatusFailed, status)
	assert.Equal(t, 5, st.Calls())
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}, *sleeps)
}

func TestTrigger_PermanentErrorIsNotRetried(t *testing.T) {
	boom := errors.New("bad config")
	st := &scripted{jobType: entity.JobTypeScreening, errs: []error{boom}}
	s, history, sleeps := newTestScheduler(t, job(entity.JobTypeScreening), st, Options{})

	status, err := s.Trigger(context.Background(), entity.JobTypeScreening)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, entity.StatusFailed, status)
	assert.Equal(t, 1, st.Calls())
	assert.Empty(t, *sleeps)

	h, _ := history.FindByID(context.Background(), 1)
	assert.Equal(t, "bad config", h.ErrorMessage.String)
	assert.Equal(t, entity.StatusFailed, h.Status)
}

func TestTrigger_TimeoutIsNotRetried(t *testing.T) {
	st := &scripted{jobType: entity.JobTypeScreening, block: make(chan struct{})}
	def := job(entity.JobTypeScreening)
	def.Timeout = 20 * time.Millisecond
	s, history, sleeps := newTestScheduler(t, def, st, Options{})

	status, err := s.Trigger(context.Background(), entity.JobTypeScreening)
	assert.ErrorIs(t, err, entity.ErrSchedulerTimeout)
	assert.Equal(t, entity.StatusTimeout, status)
	assert.Equal(t, 1, st.Calls())
	assert.Empty(t, *sleeps)

	h, _ := history.FindByID(context.Background(), 1)
	assert.Equal(t, entity.StatusTimeout, h.Status)
	assert.Equal(t, 1, s.Status()[0].ConsecutiveFailures)
}

func TestTrigger_DegradesThenRecovers(t *testing.T) {
	st := &scripted{jobType: entity.JobTypeNewsIngestion, errs: []error{transient, transient, transient, transient}}
	notifier := &fakeNotifier{}
	s, _, _ := newTestScheduler(t, job(entity.JobTypeNewsIngestion), st, Options{Notifier: notifier})
	ctx := context.Background()

	// three attempts in one tick reach DegradeAfter and stop the retries
	status, err := s.Trigger(ctx, entity.JobTypeNewsIngestion)
	assert.ErrorIs(t, err, entity.ErrUpstreamUnavailable)
	assert.Equal(t, entity.StatusFailed, status)
	assert.Equal(t, 3, st.Calls())

	state := s.Status()[0]
	assert.True(t, state.Degraded)
	assert.Equal(t, 3, state.ConsecutiveFailures)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "JOB DEGRADED")

	// a degraded job gets one attempt per tick
	_, err = s.Trigger(ctx, entity.JobTypeNewsIngestion)
	assert.Error(t, err)
	assert.Equal(t, 4, st.Calls())
	assert.Equal(t, 4, s.Status()[0].ConsecutiveFailures)
	assert.Len(t, notifier.messages, 1)

	status, err = s.Trigger(ctx, entity.JobTypeNewsIngestion)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, status)
	state = s.Status()[0]
	assert.False(t, state.Degraded)
	assert.Zero(t, state.ConsecutiveFailures)
	assert.Empty(t, state.LastError)
	require.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[1], "RECOVERED")
}

type fakeLock struct {
	held     bool
	released int
	err      error
}

func (f *fakeLock) Acquire(context.Context, entity.JobType, time.Duration) (func(context.Context) error, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.held {
		return nil, false, nil
	}
	return func(context.Context) error { f.released++; return nil }, true, nil
}

func TestTrigger_DistributedLock(t *testing.T) {
	lock := &fakeLock{}
	st := &scripted{jobType: entity.JobTypeScreening}
	s, _, _ := newTestScheduler(t, job(entity.JobTypeScreening), st, Options{Lock: lock})

	status, err := s.Trigger(context.Background(), entity.JobTypeScreening)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, status)
	assert.Equal(t, 1, lock.released)

	lock.held = true
	status, err = s.Trigger(context.Background(), entity.JobTypeScreening)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSkipped, status)
	assert.Equal(t, 1, st.Calls())
}

func TestNewSchedulerService_RejectsBadRegistry(t *testing.T) {
	st := &scripted{jobType: entity.JobTypeScreening}

	_, err := NewSchedulerService([]entity.Job{job(entity.JobTypePriceIngestion)}, []strategy.JobExecutionStrategy{st}, newMemHistory(), logger.NewNop(), Options{})
	assert.Error(t, err)

	bad := job(entity.JobTypeScreening)
	bad.Cadence = "every now and then"
	_, err = NewSchedulerService([]entity.Job{bad}, []strategy.JobExecutionStrategy{st}, newMemHistory(), logger.NewNop(), Options{})
	assert.Error(t, err)
}

func TestStatus_ReportsNextRun(t *testing.T) {
	now := time.Date(2024, 6, 3, 21, 58, 0, 0, time.UTC)
	def := job(entity.JobTypeDailyPrediction)
	def.Cadence = "0 22 * * 1-5"
	s, _, _ := newTestScheduler(t, def, &scripted{jobType: entity.JobTypeDailyPrediction}, Options{Clock: func() time.Time { return now }})

	st := s.Status()
	require.Len(t, st, 1)
	require.NotNil(t, st[0].NextRunAt)
	assert.Equal(t, time.Date(2024, 6, 3, 22, 0, 0, 0, time.UTC), *st[0].NextRunAt)
	assert.Nil(t, st[0].LastRunAt)
	assert.Equal(t, "1s", st[0].Timeout)
}

func TestExecutionHistoryService(t *testing.T) {
	history := newMemHistory()
	ctx := context.Background()
	start := time.Date(2024, 6, 3, 21, 0, 0, 0, time.UTC)
	for i, jt := range []entity.JobType{entity.JobTypeScreening, entity.JobTypePriceIngestion, entity.JobTypeScreening} {
		h := &entity.TaskExecutionHistory{JobType: jt, Status: entity.StatusCompleted, Attempts: 1, StartedAt: start.Add(time.Duration(i) * time.Minute)}
		h.CompletedAt.Time, h.CompletedAt.Valid = h.StartedAt.Add(1500*time.Millisecond), true
		h.Output = []byte(`{"ok":true}`)
		require.NoError(t, history.Create(ctx, h))
	}

	svc := NewExecutionHistoryService(history, logger.NewNop(), 10)
	got, err := svc.GetExecutionHistoryByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "price_ingestion", got.JobType)
	assert.Equal(t, int64(1500), got.Duration)
	assert.JSONEq(t, `{"ok":true}`, string(got.Output))

	screening, err := svc.GetExecutionHistoriesByJobType(ctx, entity.JobTypeScreening)
	require.NoError(t, err)
	require.Len(t, screening, 2)
	assert.Equal(t, uint(3), screening[0].ID)

	_, err = svc.GetExecutionHistoryByID(ctx, 99)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}
