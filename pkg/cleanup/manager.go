// Package cleanup removes timelapse artifacts and expired job rows.
package cleanup

import (
	"context"
	"os"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/storage"
)

// Config defines retention policies and cleanup intervals
type Config struct {
	Enabled          bool
	JobRetentionDays int
	CleanupInterval  time.Duration
	VacuumInterval   time.Duration
	InitialDelay     time.Duration
}

// DefaultConfig returns sensible defaults for cleanup
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		JobRetentionDays: 30,
		CleanupInterval:  24 * time.Hour,
		VacuumInterval:   7 * 24 * time.Hour,
		InitialDelay:     5 * time.Minute,
	}
}

// Store is the slice of the job store retention needs.
type Store interface {
	GetTimelapsesInState(ctx context.Context, status models.TimelapseStatus) ([]*models.Timelapse, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Vacuum(ctx context.Context) error
}

// RetentionRecorder receives retention counts.
type RetentionRecorder interface {
	RetentionDeleted(n int64)
}

// Manager periodically expires finished jobs, together with their artifact
// directories, and vacuums the database.
type Manager struct {
	config Config
	store  Store
	layout storage.Layout
	rec    RetentionRecorder
	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// Stats tracks cleanup operations
type Stats struct {
	LastCleanupTime     time.Time     `json:"lastCleanupTime"`
	LastVacuumTime      time.Time     `json:"lastVacuumTime"`
	TotalJobsDeleted    int64         `json:"totalJobsDeleted"`
	TotalDirsDeleted    int64         `json:"totalDirsDeleted"`
	TotalVacuumRuns     int64         `json:"totalVacuumRuns"`
	LastCleanupDuration time.Duration `json:"lastCleanupDuration"`
	LastVacuumDuration  time.Duration `json:"lastVacuumDuration"`
}

// NewManager creates a retention manager. rec may be nil.
func NewManager(cfg Config, s Store, layout storage.Layout, rec RetentionRecorder) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: cfg,
		store:  s,
		layout: layout,
		rec:    rec,
		logger: logging.WithComponent("cleanup"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the periodic loops. It does nothing when disabled.
func (m *Manager) Start() {
	if !m.config.Enabled {
		m.logger.Info().Msg("retention cleanup disabled")
		return
	}
	m.logger.Info().
		Int("retention_days", m.config.JobRetentionDays).
		Dur("interval", m.config.CleanupInterval).
		Msg("starting retention cleanup")

	m.wg.Add(2)
	go m.cleanupLoop()
	go m.vacuumLoop()
}

// Stop cancels the loops and waits for them to exit.
func (m *Manager) Stop(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	select {
	case <-m.ctx.Done():
		return
	case <-time.After(m.config.InitialDelay):
	}
	m.CleanupNow(m.ctx)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.CleanupNow(m.ctx)
		}
	}
}

func (m *Manager) vacuumLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.VacuumInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.VacuumNow(m.ctx)
		}
	}
}

// CleanupNow removes artifact directories of expired Completed jobs, then
// deletes every expired terminal row.
func (m *Manager) CleanupNow(ctx context.Context) {
	start := m.now()
	cutoff := start.Add(-time.Duration(m.config.JobRetentionDays) * 24 * time.Hour)

	var dirs int64
	completed, err := m.store.GetTimelapsesInState(ctx, models.StatusCompleted)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list completed jobs")
		return
	}
	for _, job := range completed {
		if !job.CreatedUTC.Before(cutoff) || job.FilePath == "" {
			continue
		}
		abs, err := m.layout.Abs(path.Dir(storage.NormalizeRelative(job.FilePath)))
		if err != nil || abs == m.layout.OutputRoot() || abs == m.layout.Root {
			continue
		}
		if err := os.RemoveAll(abs); err != nil {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to remove expired artifact")
			continue
		}
		dirs++
	}

	deleted, err := m.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to delete expired jobs")
		return
	}
	if m.rec != nil {
		m.rec.RetentionDeleted(deleted)
	}

	duration := m.now().Sub(start)
	m.mu.Lock()
	m.stats.LastCleanupTime = m.now()
	m.stats.LastCleanupDuration = duration
	m.stats.TotalJobsDeleted += deleted
	m.stats.TotalDirsDeleted += dirs
	m.mu.Unlock()

	m.logger.Info().Int64("jobs_deleted", deleted).Int64("dirs_deleted", dirs).
		Dur("duration", duration).Msg("retention cleanup complete")
}

// VacuumNow runs database maintenance immediately.
func (m *Manager) VacuumNow(ctx context.Context) {
	start := m.now()
	if err := m.store.Vacuum(ctx); err != nil {
		m.logger.Error().Err(err).Msg("database vacuum failed")
		return
	}
	duration := m.now().Sub(start)

	m.mu.Lock()
	m.stats.LastVacuumTime = m.now()
	m.stats.LastVacuumDuration = duration
	m.stats.TotalVacuumRuns++
	m.mu.Unlock()

	m.logger.Info().Dur("duration", duration).Msg("database vacuum complete")
}

// GetStats returns current cleanup statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
