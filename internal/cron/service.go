// Package cron runs named maintenance jobs on robfig/cron schedules.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is the work a job performs. The context ends when the service
// stops.
type JobFunc func(ctx context.Context) (string, error)

type JobState struct {
	LastRunAt  time.Time
	LastStatus string
	LastError  string
	Runs       int
}

type Job struct {
	ID       string
	Name     string
	Schedule string
	Enabled  bool
	State    JobState
}

type entry struct {
	job     Job
	fn      JobFunc
	entryID rcron.EntryID
}

type Service struct {
	mu      sync.Mutex
	jobs    []*entry
	cron    *rcron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	log     zerolog.Logger
}

func NewService(log zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   rcron.New(),
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "cron").Logger(),
	}
}

// AddJob registers fn under a standard five-field expression or a
// descriptor such as "@every 30m".
func (s *Service) AddJob(name, schedule string, fn JobFunc) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{
		job: Job{ID: uuid.NewString(), Name: name, Schedule: schedule, Enabled: true},
		fn:  fn,
	}
	id, err := s.cron.AddFunc(schedule, func() { s.execute(e) })
	if err != nil {
		return Job{}, fmt.Errorf("register job %s (%s): %w", name, schedule, err)
	}
	e.entryID = id
	s.jobs = append(s.jobs, e)
	return e.job, nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().Int("jobs", n).Msg("Started")

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.ctx.Done():
		}
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if !started {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("Stop timeout waiting for running jobs")
	}
	s.log.Info().Msg("Stopped")
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Service) RunNow(id string) error {
	e := s.find(id)
	if e == nil {
		return fmt.Errorf("job %s not found", id)
	}
	s.execute(e)
	return nil
}

func (s *Service) EnableJob(id string, enabled bool) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.jobs {
		if e.job.ID == id {
			e.job.Enabled = enabled
			return e.job, nil
		}
	}
	return Job{}, fmt.Errorf("job %s not found", id)
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.jobs {
		if e.job.ID == id {
			s.cron.Remove(e.entryID)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.jobs))
	for i, e := range s.jobs {
		out[i] = e.job
	}
	return out
}

func (s *Service) find(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.jobs {
		if e.job.ID == id {
			return e
		}
	}
	return nil
}

func (s *Service) execute(e *entry) {
	s.mu.Lock()
	job := e.job
	s.mu.Unlock()
	if !job.Enabled {
		return
	}

	log := s.log.With().Str("job", job.Name).Logger()
	log.Debug().Msg("Executing job")
	result, err := e.fn(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.job.State.LastRunAt = time.Now()
	e.job.State.Runs++
	if err != nil {
		e.job.State.LastStatus = "error"
		e.job.State.LastError = err.Error()
		log.Error().Err(err).Msg("Job failed")
		return
	}
	e.job.State.LastStatus = "ok"
	e.job.State.LastError = ""
	log.Info().Str("result", truncate(result, 100)).Msg("Job finished")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
