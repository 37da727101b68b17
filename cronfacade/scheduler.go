// Package cronfacade schedules recurring and heartbeat messages into an
// agentrt.AgentSystem using robfig/cron expressions. It owns no agent
// state of its own: every fire is just a ScheduleMessage call, so a
// scheduler restart never loses anything the durable log didn't already
// have.
package cronfacade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hearthside-labs/agentrt"
)

// Job describes one recurring message delivery.
type Job struct {
	Name    string // unique key; re-adding the same name replaces the job
	Cron    string // standard 5-field cron expression
	TaskId  string // routed as RoutingContext.TaskId so the same job always resolves to the same agent
	Message string
	Enabled bool
}

// Scheduler runs cron jobs that post messages into an AgentSystem. A
// disabled job is retained (so ListJobs still reports it) but never
// registered with the underlying cron runner.
type Scheduler struct {
	c   *cron.Cron
	sys *agentrt.AgentSystem
	log *slog.Logger

	mu      sync.Mutex
	jobs    map[string]Job
	entries map[string]cron.EntryID
}

// NewScheduler builds a Scheduler that delivers fires to sys.
func NewScheduler(sys *agentrt.AgentSystem, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		c:       cron.New(),
		sys:     sys,
		log:     log,
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins the cron runner and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.c.Start()
	s.log.Info("cronfacade: scheduler started")
	<-ctx.Done()
	stopCtx := s.c.Stop()
	<-stopCtx.Done()
	s.log.Info("cronfacade: scheduler stopped")
}

// AddJob registers or replaces job. Replacing a running job removes its old
// cron entry first so there is never a window with two active entries for
// the same name.
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[job.Name]; ok {
		s.c.Remove(id)
		delete(s.entries, job.Name)
	}
	s.jobs[job.Name] = job

	if !job.Enabled {
		return nil
	}

	entryID, err := s.c.AddFunc(job.Cron, s.makeFunc(job))
	if err != nil {
		delete(s.jobs, job.Name)
		return fmt.Errorf("cronfacade: invalid cron expression %q: %w", job.Cron, err)
	}
	s.entries[job.Name] = entryID
	s.log.Info("cronfacade: job added", "name", job.Name, "cron", job.Cron, "taskId", job.TaskId)
	return nil
}

// RemoveJob unregisters a job by name. Removing an unknown name is a no-op
// error rather than a panic, mirroring the rest of the package's tolerance
// for callers racing against their own bookkeeping.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return fmt.Errorf("cronfacade: job %q not found", name)
	}
	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
		delete(s.entries, name)
	}
	delete(s.jobs, name)
	s.log.Info("cronfacade: job removed", "name", name)
	return nil
}

// ListJobs returns a snapshot of all registered jobs, enabled or not.
func (s *Scheduler) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

func (s *Scheduler) makeFunc(job Job) func() {
	return func() {
		s.log.Info("cronfacade: firing job", "name", job.Name, "taskId", job.TaskId)
		if _, err := s.sys.ScheduleMessage("cron", job.Message, agentrt.RoutingContext{TaskId: job.TaskId}); err != nil {
			s.log.Warn("cronfacade: job delivery failed", "name", job.Name, "error", err)
		}
	}
}

// StartHeartbeat registers a ticker (not a cron expression, since
// heartbeats typically fire more often than cron's one-minute resolution
// supports) that posts a message to the singleton heartbeat agent every
// interval until ctx is cancelled.
func StartHeartbeat(ctx context.Context, sys *agentrt.AgentSystem, interval time.Duration, message string, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := sys.ScheduleMessage("heartbeat", message, agentrt.RoutingContext{Source: "heartbeat"}); err != nil {
					log.Warn("cronfacade: heartbeat delivery failed", "error", err)
				}
			}
		}
	}()
}
