// Package maintenance schedules background housekeeping for the caches
// and the versioned store.
package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/mnemo/pkg/cache"
	"github.com/harun/mnemo/pkg/memstore"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs periodic compaction and store bookkeeping
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// Config holds scheduler configuration
type Config struct {
	// CompactionSchedule is a standard 5-field cron expression
	CompactionSchedule string
	Cache              *cache.Cache
	Store              *memstore.Store // optional
	Logger             zerolog.Logger
}

// New creates a scheduler with the configured jobs registered
func New(cfg Config) (*Scheduler, error) {
	if cfg.CompactionSchedule == "" {
		return nil, errors.New("compaction schedule is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}

	s := &Scheduler{
		cron:   cron.New(),
		logger: cfg.Logger,
	}

	_, err := s.cron.AddFunc(cfg.CompactionSchedule, func() {
		purged := cfg.Cache.Compact()
		s.logger.Debug().Int("purged", purged).Msg("Scheduled compaction run")

		if cfg.Store != nil {
			if status, err := cfg.Store.Status(context.Background()); err != nil {
				s.logger.Warn().Err(err).Msg("Store status refresh failed")
			} else {
				auditSize, _ := cfg.Store.AuditSize()
				s.logger.Debug().
					Int("keys", status.TotalKeys).
					Int("versions", status.TotalVersions).
					Int64("audit_bytes", auditSize).
					Msg("Store status refreshed")
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid compaction schedule: %w", err)
	}

	return s, nil
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Maintenance scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance scheduler stopped")
}
