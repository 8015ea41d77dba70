package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type expiredRecordStore interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// HousekeepingService periodically removes refresh records that expired more than the retention
// window ago and purges the local blacklist. Records inside the window are kept so a replay of a
// just-expired token is still reported as expired rather than unknown.
type HousekeepingService struct {
	store     expiredRecordStore
	blacklist *LocalBlacklist
	metrics   *MetricsService
	logger    *zap.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService constructs the worker. A non-positive interval defaults to one hour.
func NewHousekeepingService(store expiredRecordStore, blacklist *LocalBlacklist, metrics *MetricsService, logger *zap.Logger, interval, retention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention < 0 {
		retention = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HousekeepingService{
		store:     store,
		blacklist: blacklist,
		metrics:   metrics,
		logger:    logger,
		interval:  interval,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval until ctx is done or Stop is called.
func (s *HousekeepingService) Start(ctx context.Context) {
	go s.run(ctx)
	s.logger.Info("housekeeping started", zap.Duration("interval", s.interval), zap.Duration("retention", s.retention))
}

// Stop waits for the worker to finish the sweep in progress.
func (s *HousekeepingService) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
	s.logger.Info("housekeeping stopped")
}

func (s *HousekeepingService) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// Sweep performs one cleanup pass.
func (s *HousekeepingService) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)
	start := time.Now()
	deleted, err := s.store.DeleteExpired(ctx, cutoff)
	s.metrics.ObserveDBQuery("refresh_delete_expired", time.Since(start))
	if err != nil {
		s.logger.Error("failed to delete expired refresh tokens", zap.Error(err))
	} else {
		s.metrics.RecordHousekeeping(deleted)
	}

	purged := 0
	if s.blacklist != nil {
		purged = s.blacklist.Purge()
	}

	s.logger.Debug("housekeeping sweep completed", zap.Int64("refresh_deleted", deleted), zap.Int("blacklist_purged", purged))
}
