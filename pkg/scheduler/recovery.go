// Package scheduler reconciles job rows whose runner will never finish them.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/models"
)

const (
	ReasonStale       = "stale: no terminal update"
	ReasonInterrupted = "interrupted by restart"
)

// Store is the slice of the job store recovery needs.
type Store interface {
	GetTimelapsesInState(ctx context.Context, status models.TimelapseStatus) ([]*models.Timelapse, error)
	UpdateTimelapse(ctx context.Context, id string, u models.TimelapseUpdate) (*models.Timelapse, error)
}

// InFlightChecker reports whether this process is still running a job.
type InFlightChecker interface {
	InFlight(id string) bool
}

// Recorder receives reconciliation counts.
type Recorder interface {
	JobReconciled(reason string)
}

// Config controls the reconciliation sweep.
type Config struct {
	// StaleAfter must exceed the encoder timeout, otherwise live jobs on
	// other replicas could be failed.
	StaleAfter time.Duration
	Interval   time.Duration
}

// RecoveryManager fails jobs left non-terminal by a lost runner. It never
// re-runs them.
type RecoveryManager struct {
	config   Config
	store    Store
	inflight InFlightChecker
	rec      Recorder
	logger   zerolog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecoveryManager creates a RecoveryManager. rec may be nil.
func NewRecoveryManager(cfg Config, s Store, inflight InFlightChecker, rec Recorder) *RecoveryManager {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &RecoveryManager{
		config:   cfg,
		store:    s,
		inflight: inflight,
		rec:      rec,
		logger:   logging.WithComponent("recovery"),
		now:      time.Now,
	}
}

// RecoverInterrupted fails every Pending or Processing job not running in
// this process. Call it once at startup, before accepting requests, when
// this process is the only runner for the store.
func (rm *RecoveryManager) RecoverInterrupted(ctx context.Context) int {
	n := 0
	for _, st := range []models.TimelapseStatus{models.StatusPending, models.StatusProcessing} {
		jobs, err := rm.store.GetTimelapsesInState(ctx, st)
		if err != nil {
			rm.logger.Error().Err(err).Str("status", string(st)).Msg("failed to list jobs for recovery")
			continue
		}
		for _, job := range jobs {
			if rm.fail(ctx, job, ReasonInterrupted) {
				n++
			}
		}
	}
	if n > 0 {
		rm.logger.Warn().Int("jobs", n).Msg("failed jobs interrupted by restart")
	}
	return n
}

// ReconcileStale fails Processing jobs that started longer than StaleAfter
// ago and are not running here.
func (rm *RecoveryManager) ReconcileStale(ctx context.Context) int {
	jobs, err := rm.store.GetTimelapsesInState(ctx, models.StatusProcessing)
	if err != nil {
		rm.logger.Error().Err(err).Msg("failed to list processing jobs")
		return 0
	}

	cutoff := rm.now().Add(-rm.config.StaleAfter)
	n := 0
	for _, job := range jobs {
		started := job.CreatedUTC
		if job.StartedUTC != nil {
			started = *job.StartedUTC
		}
		if !started.Before(cutoff) {
			continue
		}
		if rm.fail(ctx, job, ReasonStale) {
			n++
		}
	}
	if n > 0 {
		rm.logger.Warn().Int("jobs", n).Dur("stale_after", rm.config.StaleAfter).Msg("failed stale jobs")
	}
	return n
}

func (rm *RecoveryManager) fail(ctx context.Context, job *models.Timelapse, reason string) bool {
	if rm.inflight != nil && rm.inflight.InFlight(job.ID) {
		return false
	}
	if _, err := rm.store.UpdateTimelapse(ctx, job.ID, models.FailedUpdate(reason)); err != nil {
		// Losing the race to the runner's own terminal update is fine.
		rm.logger.Debug().Err(err).Str("job_id", job.ID).Msg("job not reconciled")
		return false
	}
	if rm.rec != nil {
		rm.rec.JobReconciled(reason)
	}
	rm.logger.Info().Str("job_id", job.ID).Str("reason", reason).Msg("job reconciled")
	return true
}

// Start runs ReconcileStale every Interval until Stop.
func (rm *RecoveryManager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	rm.cancel = cancel
	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		ticker := time.NewTicker(rm.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.ReconcileStale(ctx)
			}
		}
	}()
}

// Stop ends the loop started by Start.
func (rm *RecoveryManager) Stop(ctx context.Context) error {
	if rm.cancel == nil {
		return nil
	}
	rm.cancel()
	done := make(chan struct{})
	go func() {
		rm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
