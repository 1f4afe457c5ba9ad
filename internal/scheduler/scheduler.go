// Package scheduler wires the engine's periodic maintenance jobs —
// retention cleanup and aged-shard deletion — onto gocron.
package scheduler

import (
	"github.com/go-co-op/gocron/v2"

	"github.com/aurora-historian/engine/internal/log"
)

type Scheduler struct {
	s gocron.Scheduler
}

func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{s: s}, nil
}

// RegisterCleanup schedules fn (typically a multiplex.Stream's
// CleanupRelicts) to run every interval.
func (sc *Scheduler) RegisterCleanup(interval gocron.JobDefinition, fn func()) error {
	_, err := sc.s.NewJob(interval, gocron.NewTask(func() {
		fn()
	}))
	if err != nil {
		log.Warnf("scheduler: could not register cleanup job: %v", err)
	}
	return err
}

// RegisterDeleteOldBackEnds schedules fn (typically a manager's
// DeleteOldBackEnds bound to a boundary closure) to run every interval.
func (sc *Scheduler) RegisterDeleteOldBackEnds(interval gocron.JobDefinition, fn func()) error {
	_, err := sc.s.NewJob(interval, gocron.NewTask(func() {
		fn()
	}))
	if err != nil {
		log.Warnf("scheduler: could not register delete-old-backends job: %v", err)
	}
	return err
}

func (sc *Scheduler) Start() { sc.s.Start() }

func (sc *Scheduler) Stop() error { return sc.s.Shutdown() }
