// Package jobs runs gemwatch's periodic maintenance work — state
// eviction, dynamic-threshold recompute, and remote-mirror reconciliation
// — on a robfig/cron/v3 schedule, the way spec §5's expansion replaces ad
// hoc tickers with cron-driven scheduling.
package jobs

import (
	"context"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"gemwatch/internal/correlator"
	"gemwatch/internal/domain"
)

// StateEvictor is the subset of *tokenstate.Store the eviction job needs.
type StateEvictor interface {
	EvictIdle(now time.Time) int
}

// Tier1Counter is the subset of *eventlog.Log the threshold-recompute job
// needs.
type Tier1Counter interface {
	CountTier1Last24h(now time.Time) int
}

// MirrorReconciler is the subset of *eventlog.RemoteMirror the
// reconciliation job needs.
type MirrorReconciler interface {
	ReconcileOnStart(ctx context.Context, localIDs map[string]bool) ([]domain.AlertRecord, error)
}

// LocalLog is the subset of *eventlog.Log the reconciliation job needs
// beyond Tier1Counter.
type LocalLog interface {
	LocalIDs() map[string]bool
	MergeMissing(ctx context.Context, records []domain.AlertRecord) (int, error)
}

// Scheduler wraps a robfig/cron/v3 Cron with gemwatch's three periodic
// jobs, each logged the way the teacher's own background tasks are.
type Scheduler struct {
	cron  *rcron.Cron
	log   logrus.FieldLogger
	clock func() time.Time
}

// New builds a Scheduler. No jobs are registered until the matching
// Register* call.
func New(log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		cron:  rcron.New(),
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// RegisterStateEviction schedules the idle-token-state sweep.
func (s *Scheduler) RegisterStateEviction(expr string, store StateEvictor) error {
	_, err := s.cron.AddFunc(expr, func() {
		started := s.clock()
		removed := store.EvictIdle(started)
		s.log.WithFields(logrus.Fields{
			"job":     "state_eviction",
			"removed": removed,
			"took":    time.Since(started),
		}).Info("jobs: state eviction sweep complete")
	})
	return err
}

// RegisterThresholdRecompute schedules the dynamic-threshold hysteresis
// recompute (spec §4.4): tighten above 10 Tier-1 alerts in 24h, restore
// below 8.
func (s *Scheduler) RegisterThresholdRecompute(expr string, tracker *correlator.ThresholdTracker, counter Tier1Counter) error {
	_, err := s.cron.AddFunc(expr, func() {
		now := s.clock()
		count := counter.CountTier1Last24h(now)
		tracker.Recompute(count)
		s.log.WithFields(logrus.Fields{
			"job":            "threshold_recompute",
			"tier1_last_24h": count,
			"regime":         tracker.Current(),
		}).Info("jobs: dynamic threshold recompute complete")
	})
	return err
}

// RegisterMirrorReconcile schedules the remote-mirror burst-coalescing
// reconciliation (spec §4.6.1): pull any record present on the mirror but
// missing locally and merge it in.
func (s *Scheduler) RegisterMirrorReconcile(expr string, mirror MirrorReconciler, log LocalLog) error {
	_, err := s.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		missing, err := mirror.ReconcileOnStart(ctx, log.LocalIDs())
		if err != nil {
			s.log.WithError(err).WithField("job", "mirror_reconcile").Warn("jobs: mirror reconciliation query failed")
			return
		}
		if len(missing) == 0 {
			return
		}
		merged, err := log.MergeMissing(ctx, missing)
		if err != nil {
			s.log.WithError(err).WithField("job", "mirror_reconcile").Error("jobs: merging reconciled records failed")
			return
		}
		s.log.WithFields(logrus.Fields{
			"job":    "mirror_reconcile",
			"merged": merged,
		}).Info("jobs: mirror reconciliation complete")
	})
	return err
}

// Start begins running every registered job on its schedule. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits (up to ctx's deadline) for any in-flight job run to finish,
// then stops the scheduler.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.log.Warn("jobs: stop deadline exceeded, in-flight job run may be abandoned")
	}
}
