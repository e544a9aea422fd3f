package service

import (
	"context"
	"sync"
	"time"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"go.uber.org/zap"
)

const defaultRetentionInterval = 1 * time.Hour

// RetentionService periodically deletes persisted analysis runs older than
// the retention window.
type RetentionService struct {
	store     domain.AnalysisStore
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewRetentionService(store domain.AnalysisStore, retention time.Duration, logger *zap.Logger) *RetentionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionService{
		store:     store,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		interval:  defaultRetentionInterval,
		stopCh:    make(chan struct{}),
	}
}

func (s *RetentionService) SetInterval(d time.Duration) {
	s.interval = d
}

// Start runs a sweep immediately and then on every tick.
func (s *RetentionService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("analysis retention started",
			zap.Duration("interval", s.interval),
			zap.Duration("retention", s.retention))

		s.sweep()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopCh:
				s.logger.Info("analysis retention stopped")
				return
			}
		}
	}()
}

// Stop waits for an in-flight sweep to finish.
func (s *RetentionService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *RetentionService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.Run(ctx); err != nil {
		s.logger.Error("failed to delete expired analyses", zap.Error(err))
	}
}

// Run deletes every run created before now minus the retention window.
func (s *RetentionService) Run(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("deleted expired analyses",
			zap.Int64("count", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
