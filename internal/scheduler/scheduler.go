package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"invoice-sync-go/internal/metrics"
	"invoice-sync-go/internal/models"
)

// ErrAlreadyRunning is returned by Start when the schedule is active
var ErrAlreadyRunning = errors.New("scheduler is already running")

const defaultStopTimeout = 30 * time.Second

// Runner executes one acquisition cycle
type Runner interface {
	RunCycle(ctx context.Context) models.CycleResult
}

// Scheduler runs the acquisition cycle on a fixed interval and owns the job status
type Scheduler struct {
	cron        *cron.Cron
	entryID     cron.EntryID
	interval    int
	schedule    string
	stopTimeout time.Duration
	runner      Runner
	metrics     *metrics.Metrics
	ctx         context.Context
	cancel      context.CancelFunc
	isRunning   bool
	lastRun     *time.Time
	lastResult  *models.CycleResult
	mu          sync.RWMutex
}

// NewScheduler creates a scheduler running every intervalMinutes
func NewScheduler(intervalMinutes int, runner Runner, m *metrics.Metrics) *Scheduler {
	if intervalMinutes < 1 {
		intervalMinutes = 1
	}
	return &Scheduler{
		interval:    intervalMinutes,
		schedule:    fmt.Sprintf("@every %dm", intervalMinutes),
		stopTimeout: defaultStopTimeout,
		runner:      runner,
		metrics:     m,
	}
}

// Start schedules the cycle. Starting a running scheduler returns the current
// status with ErrAlreadyRunning.
func (s *Scheduler) Start() (models.JobStatus, error) {
	s.mu.Lock()

	if s.isRunning {
		s.mu.Unlock()
		return s.Status(), ErrAlreadyRunning
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(logrus.StandardLogger())),
		cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger())),
	))
	entryID, err := c.AddFunc(s.schedule, s.runScheduled)
	if err != nil {
		s.mu.Unlock()
		return models.JobStatus{}, fmt.Errorf("failed to add cron job: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true
	if s.metrics != nil {
		s.metrics.SchedulerRunning.Set(1)
	}
	s.mu.Unlock()

	logrus.Infof("Scheduler started with interval: %d minutes", s.interval)
	return s.Status(), nil
}

// Stop halts the schedule and waits for an in-flight cycle, up to the stop
// timeout. A cycle still running after that completes in the background.
func (s *Scheduler) Stop() models.JobStatus {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return s.Status()
	}

	done := s.cron.Stop()
	cancel := s.cancel
	s.isRunning = false
	if s.metrics != nil {
		s.metrics.SchedulerRunning.Set(0)
	}
	s.mu.Unlock()

	select {
	case <-done.Done():
		cancel()
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(s.stopTimeout):
		logrus.Warn("Scheduler stop timeout, cycle continues in the background")
		go func() {
			<-done.Done()
			cancel()
		}()
	}

	return s.Status()
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// RunNow runs one cycle in the caller's goroutine and records it as the last run
func (s *Scheduler) RunNow(ctx context.Context) models.CycleResult {
	logrus.Info("Running acquisition cycle on demand")
	return s.run(ctx)
}

// Status reports the schedule and the most recent cycle
func (s *Scheduler) Status() models.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := models.JobStatus{
		Running:         s.isRunning,
		IntervalMinutes: s.interval,
		LastRun:         s.lastRun,
		LastResult:      s.lastResult,
	}
	if s.isRunning {
		entry := s.cron.Entry(s.entryID)
		next := entry.Next
		if next.IsZero() && entry.Schedule != nil {
			next = entry.Schedule.Next(time.Now())
		}
		if !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

// runScheduled is the cron job
func (s *Scheduler) runScheduled() {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	logrus.Info("Starting scheduled acquisition cycle")
	s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) models.CycleResult {
	started := time.Now()
	result := s.runner.RunCycle(ctx)

	s.mu.Lock()
	s.lastRun = &started
	s.lastResult = &result
	s.mu.Unlock()

	return result
}
