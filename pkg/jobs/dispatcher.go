package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/store"
)

// Dispatcher accepts generation requests: it persists a Pending row and hands
// the work to a Scheduler, returning without waiting for the encode.
type Dispatcher struct {
	store  store.Store
	sched  Scheduler
	rec    Recorder
	logger zerolog.Logger

	newID func() string
	now   func() time.Time
}

// ScheduleError reports a job row that was created but never scheduled.
// Status is the row's state afterwards: Failed, or Pending when marking it
// Failed did not land either.
type ScheduleError struct {
	ID     string
	Status models.TimelapseStatus
	Err    error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("job %s left %s: %v", e.ID, e.Status, e.Err)
}

func (e *ScheduleError) Unwrap() error {
	return e.Err
}

// NewDispatcher creates a dispatcher. A nil recorder discards measurements.
func NewDispatcher(s store.Store, sched Scheduler, rec Recorder) *Dispatcher {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Dispatcher{
		store:  s,
		sched:  sched,
		rec:    rec,
		logger: logging.WithComponent("dispatcher"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Enqueue validates req, creates the job row and schedules it. On a
// scheduling failure the id is still returned: the row has been marked
// Failed and the error wraps a *ScheduleError around models.ErrQueueFull or
// ErrPoolClosed.
func (d *Dispatcher) Enqueue(ctx context.Context, req models.GenerateRequest) (string, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return "", err
	}

	id := d.newID()
	job := models.NewPendingTimelapse(id, req, d.now())
	if err := d.store.CreateTimelapse(ctx, job); err != nil {
		return "", err
	}

	logger := d.logger.With().Str("job_id", id).Logger()

	if err := d.sched.Submit(Task{ID: id, Request: req}); err != nil {
		d.rec.QueueRejected()
		reason := "queue full"
		if errors.Is(err, ErrPoolClosed) {
			reason = "service shutting down"
		}
		logger.Warn().Err(err).Msg("job could not be scheduled")

		status := models.StatusFailed
		if _, uerr := d.store.UpdateTimelapse(context.WithoutCancel(ctx), id, models.FailedUpdate(reason)); uerr != nil {
			d.rec.TerminalUpdateFailed()
			logger.Error().Err(uerr).Msg("failed to mark unscheduled job failed")
			status = models.StatusPending
		}
		return id, &models.PersistenceError{
			Op:  "schedule job",
			Err: &ScheduleError{ID: id, Status: status, Err: err},
		}
	}

	d.rec.JobEnqueued()
	logger.Info().
		Str("quality", req.Quality).
		Str("camera_id", req.CameraID).
		Msg("timelapse job accepted")
	return id, nil
}
