package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Maintenance runs scheduled hygiene against the graph store. The only
// job today closes the valid-time interval of session records that
// have been idle past the retention window.
type Maintenance struct {
	store     Store
	logger    zerolog.Logger
	schedule  string
	retention time.Duration
	cron      *cron.Cron
}

// MaintenanceConfig holds maintenance configuration.
type MaintenanceConfig struct {
	Store     Store
	Logger    zerolog.Logger
	Schedule  string        // cron expression, default "0 3 * * *"
	Retention time.Duration // idle window before close, default 30 days
}

// NewMaintenance creates the maintenance scheduler.
func NewMaintenance(cfg MaintenanceConfig) (*Maintenance, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 3 * * *"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}

	return &Maintenance{
		store:     cfg.Store,
		logger:    cfg.Logger,
		schedule:  cfg.Schedule,
		retention: cfg.Retention,
		cron:      cron.New(),
	}, nil
}

// Start registers the schedule and starts the cron runner.
func (m *Maintenance) Start() error {
	_, err := m.cron.AddFunc(m.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := m.CloseStaleSessions(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Graph maintenance failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", m.schedule, err)
	}

	m.cron.Start()
	m.logger.Info().Str("schedule", m.schedule).Msg("Graph maintenance started")
	return nil
}

// Stop stops the cron runner and waits for a running job to finish.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info().Msg("Graph maintenance stopped")
}

// CloseStaleSessions closes sessions idle past the retention window.
func (m *Maintenance) CloseStaleSessions(ctx context.Context) error {
	now := time.Now().UTC()
	_, err := m.store.Query(ctx, QueryCloseStaleSessions, map[string]any{
		"now":      now,
		"cutoff":   now.Add(-m.retention),
		"max_date": MaxDate,
	})
	if err != nil {
		return fmt.Errorf("failed to close stale sessions: %w", err)
	}
	m.logger.Debug().Time("cutoff", now.Add(-m.retention)).Msg("Closed stale sessions")
	return nil
}
