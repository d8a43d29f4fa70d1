package snapshot

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler drives periodic CreateSnapshot calls for every SnapshotInterval
// except PerOperation, which has no timer cadence; nothing in the daemon
// takes a snapshot on each mutation. Grounded on internal/tasks/scheduler.go's use of
// robfig/cron/v3 for fixed-cadence background work.
type Scheduler struct {
	mgr  *SnapshotManager
	cron *cron.Cron
	log  *slog.Logger
}

// NewScheduler builds a Scheduler that will snapshot mgr's source
// subvolume on interval's cadence once Start is called. The returned bool
// is false when interval is PerOperation, in which case the caller should
// not call Start (there is nothing to schedule).
func NewScheduler(mgr *SnapshotManager, interval SnapshotInterval, log *slog.Logger) (*Scheduler, bool) {
	spec, ok := interval.cronSpec()
	if !ok {
		return nil, false
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{mgr: mgr, cron: cron.New(), log: log}
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := mgr.CreateSnapshot(context.Background()); err != nil {
			s.log.Warn("scheduled snapshot failed", "error", err)
		}
	})
	if err != nil {
		s.log.Error("snapshot scheduler: invalid cron spec", "spec", spec, "error", err)
		return nil, false
	}
	return s, true
}

// Start begins running the scheduled snapshot job in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight snapshot to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
