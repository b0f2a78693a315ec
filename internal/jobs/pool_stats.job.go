// Package jobs runs the service's periodic background work.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/pkg/logger"
	"github.com/territorios-app/territorios/pkg/prom"
)

const DefaultPoolStatsSpec = "@every 5m"

type PoolStatsSource interface {
	Stats(ctx context.Context) (*model.PhoneStats, error)
}

// Scheduler refreshes the phone pool gauges on a cron schedule and warns when
// the pool has run dry but can be reset.
type Scheduler struct {
	cronEngine *cron.Cron
	stats      PoolStatsSource
	spec       string
	timeout    time.Duration
}

func NewScheduler(stats PoolStatsSource, spec string) *Scheduler {
	if spec == "" {
		spec = DefaultPoolStatsSpec
	}
	return &Scheduler{
		cronEngine: cron.New(cron.WithLocation(time.UTC)),
		stats:      stats,
		spec:       spec,
		timeout:    time.Minute,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cronEngine.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.RefreshPoolStats(ctx); err != nil {
			logger.Error("pool stats refresh failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule pool stats %q: %w", s.spec, err)
	}

	s.cronEngine.Start()
	logger.Info("scheduler started", "pool_stats", s.spec)
	return nil
}

// RefreshPoolStats publishes one snapshot of the pool.
func (s *Scheduler) RefreshPoolStats(ctx context.Context) error {
	st, err := s.stats.Stats(ctx)
	if err != nil {
		return err
	}

	prom.SetPoolRecords("total", st.Total)
	prom.SetPoolRecords("available", st.Available)
	prom.SetPoolRecords("cooldown", st.InCooldown)
	prom.SetPoolRecords("reclaimable", st.Reclaimable)

	if st.Available == 0 && st.Reclaimable > 0 {
		logger.Warn("phone pool exhausted, a reset would reclaim numbers", "reclaimable", st.Reclaimable)
	}
	return nil
}

// Stop waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	<-s.cronEngine.Stop().Done()
	logger.Info("scheduler stopped")
}
