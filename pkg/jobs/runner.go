// Package jobs drives timelapse jobs from acceptance to a terminal state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/profile"
	"github.com/sireskandari/Aransite/pkg/storage"
	"github.com/sireskandari/Aransite/pkg/store"
)

// ErrAlreadyRunning is returned when a runner is already working on the id.
var ErrAlreadyRunning = errors.New("job is already running")

const terminalUpdateTimeout = 10 * time.Second

// Encoder renders a selection with a resolved profile and returns the
// artifact's relative path.
type Encoder interface {
	Encode(ctx context.Context, sel models.FrameSelection, p profile.Profile) (string, error)
}

// Recorder receives job lifecycle measurements.
type Recorder interface {
	JobEnqueued()
	QueueRejected()
	JobFinished(status models.TimelapseStatus)
	ProcessingUpdateFailed()
	TerminalUpdateFailed()
	EncodeObserved(d time.Duration, ok bool)
	SetInFlight(n int)
}

type nopRecorder struct{}

func (nopRecorder) JobEnqueued() {}
func (nopRecorder) QueueRejected() {}
func (nopRecorder) JobFinished(models.TimelapseStatus) {}
func (nopRecorder) ProcessingUpdateFailed() {}
func (nopRecorder) TerminalUpdateFailed() {}
func (nopRecorder) EncodeObserved(time.Duration, bool) {}
func (nopRecorder) SetInFlight(int) {}

// Runner moves one job through Processing to Completed or Failed.
type Runner struct {
	store   store.Store
	encoder Encoder
	layout  storage.Layout
	rec     Recorder
	logger  zerolog.Logger

	inflight sync.Map
	active   atomic.Int64
}

// NewRunner creates a runner. A nil recorder discards measurements.
func NewRunner(s store.Store, enc Encoder, layout storage.Layout, rec Recorder) *Runner {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Runner{
		store:   s,
		encoder: enc,
		layout:  layout,
		rec:     rec,
		logger:  logging.WithComponent("runner"),
	}
}

// InFlight reports whether a run for id is currently executing.
func (r *Runner) InFlight(id string) bool {
	_, ok := r.inflight.Load(id)
	return ok
}

// Handle adapts Run to a pool Handler.
func (r *Runner) Handle(ctx context.Context, t Task) {
	_ = r.Run(ctx, t.ID, t.Request)
}

// Run executes the job. It makes exactly one terminal update attempt; the
// returned error is non-nil when that attempt (or the run itself) could not
// be recorded.
func (r *Runner) Run(ctx context.Context, id string, req models.GenerateRequest) error {
	if _, loaded := r.inflight.LoadOrStore(id, struct{}{}); loaded {
		return fmt.Errorf("%s: %w", id, ErrAlreadyRunning)
	}
	defer r.inflight.Delete(id)
	r.rec.SetInFlight(int(r.active.Add(1)))
	defer func() { r.rec.SetInFlight(int(r.active.Add(-1))) }()

	ctx = logging.ContextWithJobID(ctx, id)
	ctx, span := otel.Tracer("timelapse/jobs").Start(ctx, "jobs.Run")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	logger := logging.WithContext(ctx, r.logger)

	processing := r.markProcessing(ctx, id, logger)
	if errors.Is(processing, models.ErrInvalidTransition) || errors.Is(processing, models.ErrJobNotFound) {
		// Already finished elsewhere, or deleted. Nothing to do.
		logger.Warn().Err(processing).Msg("job not runnable, skipping")
		return processing
	}

	p := profile.Resolve(req.Quality, profile.Overrides{
		FPS:       req.FPS,
		Width:     req.Width,
		MaxFrames: req.MaxFrames,
	})
	logger.Info().
		Str("tier", string(p.Tier)).
		Int("fps", p.FPS).
		Int("width", p.Width).
		Int("max_frames", p.MaxFrames).
		Msg("encoding timelapse")

	start := time.Now()
	rel, encErr := r.encode(ctx, req.Selection(p.MaxFrames), p)
	r.rec.EncodeObserved(time.Since(start), encErr == nil)

	var update models.TimelapseUpdate
	if encErr != nil {
		logger.Error().Err(encErr).Msg("timelapse generation failed")
		update = models.FailedUpdate(encErr.Error())
	} else {
		update = models.CompletedUpdate(rel, r.fileSize(rel, logger))
	}

	// The terminal write must land even if the pool is being torn down.
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalUpdateTimeout)
	defer cancel()
	if _, err := r.store.UpdateTimelapse(uctx, id, update); err != nil {
		r.rec.TerminalUpdateFailed()
		logger.Error().Err(err).Str("status", string(update.Status)).
			Msg("failed to record terminal state; job left non-terminal")
		span.RecordError(err)
		return fmt.Errorf("record %s for %s: %w", update.Status, id, err)
	}

	r.rec.JobFinished(update.Status)
	logger.Info().Str("status", string(update.Status)).Msg("job finished")
	return nil
}

func (r *Runner) markProcessing(ctx context.Context, id string, logger zerolog.Logger) error {
	if _, err := r.store.UpdateTimelapse(ctx, id, models.ProcessingUpdate()); err != nil {
		r.rec.ProcessingUpdateFailed()
		logger.Warn().Err(err).Msg("failed to mark job processing")
		return err
	}
	return nil
}

// encode converts an encoder panic into an error so the job still fails cleanly.
func (r *Runner) encode(ctx context.Context, sel models.FrameSelection, p profile.Profile) (rel string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("encoder panic: %v", v)
		}
	}()
	return r.encoder.Encode(ctx, sel, p)
}

// fileSize returns the artifact's byte count, or "0" if it cannot be read.
func (r *Runner) fileSize(rel string, logger zerolog.Logger) string {
	abs, err := r.layout.Abs(rel)
	if err != nil {
		logger.Warn().Err(err).Str("path", rel).Msg("cannot resolve artifact path")
		return "0"
	}
	info, err := os.Stat(abs)
	if err != nil {
		logger.Warn().Err(err).Str("path", rel).Msg("cannot stat artifact")
		return "0"
	}
	return strconv.FormatInt(info.Size(), 10)
}
