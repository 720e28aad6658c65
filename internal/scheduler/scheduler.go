// Package scheduler runs the recurring background jobs: the daily dashboard
// snapshot, the expiration sweep, the quote-cache purge and the nightly
// backup. Every run is recorded in job_history.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/events"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron    *cron.Cron
	history *HistoryRepository
	bus     *events.Bus
	log     zerolog.Logger
}

// New creates a new scheduler
func New(history *HistoryRepository, bus *events.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		history: history,
		bus:     bus,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule
// Schedule examples:
//   - "*/5 * * * *"     - Every 5 minutes
//   - "@hourly"         - Every hour
//   - "30 2 * * *"      - 02:30 daily
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.RunNow(job)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule), recording the run
// in job_history and publishing the outcome on the event bus.
func (s *Scheduler) RunNow(job Job) error {
	runID := s.recordStart(job)
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	err := job.Run()
	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		s.recordFinish(runID, job, false, err.Error())
		s.publish(events.JobFailed, job, err.Error())
		return err
	}

	s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	s.recordFinish(runID, job, true, "")
	s.publish(events.JobCompleted, job, "")
	return nil
}

func (s *Scheduler) recordStart(job Job) int64 {
	if s.history == nil {
		return 0
	}
	runID, err := s.history.RecordStart(job.Name())
	if err != nil {
		s.log.Warn().Err(err).Str("job", job.Name()).Msg("Failed to record job start")
	}
	return runID
}

func (s *Scheduler) recordFinish(runID int64, job Job, success bool, detail string) {
	if s.history == nil || runID == 0 {
		return
	}
	if err := s.history.RecordFinish(runID, success, detail); err != nil {
		s.log.Warn().Err(err).Str("job", job.Name()).Msg("Failed to record job finish")
	}
}

func (s *Scheduler) publish(eventType events.EventType, job Job, detail string) {
	if s.bus == nil {
		return
	}
	data := map[string]interface{}{"job": job.Name()}
	if detail != "" {
		data["detail"] = detail
	}
	s.bus.Publish(eventType, "scheduler", data)
}
