// Package scheduler implements the cron-like table of periodic tasks and
// the graceful, leader-gated shutdown sequence.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/rivengate/skinwatch/internal/bus"
)

// Task is one scheduled unit of work. leaderOnly tasks (e.g. emoji
// warmup) only run on the shard holding the "scheduler" distributed lock.
type Task struct {
	Name       string
	Schedule   string
	Fn         func(ctx context.Context) error
	LeaderOnly bool
}

// Scheduler runs Task entries on their cron schedules, gated per the
// leader-election pattern of rakunlabs-at's workflow scheduler: the
// non-leader-only tasks always run locally; leader-only tasks only fire
// once the "scheduler" lock is held by this shard.
type Scheduler struct {
	bus *bus.Bus
	log zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	tasks   []Task
	unlock  func()
	leading bool
}

// New returns a Scheduler bound to the given timezone.
func New(b *bus.Bus, log zerolog.Logger, location *time.Location) *Scheduler {
	return &Scheduler{
		bus:  b,
		log:  log,
		cron: cron.New(cron.WithLocation(location)),
	}
}

// Add registers a task. Call before Start, or call Reload after Start to
// pick up additions.
func (s *Scheduler) Add(t Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
}

// Start builds the cron entries and begins running them, and starts the
// leader-lock acquisition loop for leaderOnly tasks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	for _, t := range s.tasks {
		t := t
		_, err := s.cron.AddFunc(t.Schedule, func() {
			if t.LeaderOnly && !s.isLeading() {
				return
			}
			if err := t.Fn(ctx); err != nil {
				s.log.Error().Err(err).Str("task", t.Name).Msg("scheduled task failed")
			}
		})
		if err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	go s.runLeaderLoop(ctx)
	return nil
}

func (s *Scheduler) isLeading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leading
}

// runLeaderLoop retries acquiring the "scheduler" lock until ctx is
// cancelled, mirroring rakunlabs-at's LockScheduler/runLockLoop pattern.
func (s *Scheduler) runLeaderLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.isLeading() {
				continue
			}
			unlock, err := s.bus.Lock(ctx, "scheduler", 15*time.Second)
			if err != nil {
				continue
			}
			s.mu.Lock()
			s.unlock = unlock
			s.leading = true
			s.mu.Unlock()
		}
	}
}

// Reload stops and rebuilds the cron job set, e.g. after a config_reload
// broadcast changes a schedule expression.
func (s *Scheduler) Reload(newTasks []Task) error {
	s.mu.Lock()
	s.cron.Stop()
	s.cron = cron.New(cron.WithLocation(s.cron.Location()))
	s.tasks = nil
	s.mu.Unlock()

	for _, t := range newTasks {
		s.Add(t)
	}
	return s.Start(context.Background())
}

// Stop halts the cron runner and releases the leader lock if held. It
// blocks until all in-flight task invocations complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlock != nil {
		s.unlock()
		s.unlock = nil
	}
	s.leading = false
}
