// Package artifact serves finished timelapse videos.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"

	"github.com/rs/zerolog"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/storage"
	"github.com/sireskandari/Aransite/pkg/store"
)

const (
	cacheImmutable = "public, max-age=31536000, immutable"
	cacheNone      = "no-store"
)

// Kind tags the outcome of a lookup.
type Kind int

const (
	Found Kind = iota
	JobUnknown
	NotCompleted
	FileMissing
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case JobUnknown:
		return "job_unknown"
	case NotCompleted:
		return "not_completed"
	case FileMissing:
		return "file_missing"
	default:
		return "unknown"
	}
}

// Result is the outcome of Lookup. Path and Job are set only when Kind is Found.
type Result struct {
	Kind Kind
	Job  *models.Timelapse
	Path string
}

// Err converts a not-found result into a *models.NotFoundError.
func (r Result) Err(id string) error {
	switch r.Kind {
	case Found:
		return nil
	case JobUnknown:
		return &models.NotFoundError{ID: id, Reason: models.ReasonJobUnknown}
	case NotCompleted:
		return &models.NotFoundError{ID: id, Reason: models.ReasonNotCompleted}
	default:
		return &models.NotFoundError{ID: id, Reason: models.ReasonFileMissing}
	}
}

// Server resolves job ids to artifact files.
type Server struct {
	store  store.Store
	layout storage.Layout
	logger zerolog.Logger
}

func NewServer(s store.Store, layout storage.Layout) *Server {
	return &Server{store: s, layout: layout, logger: logging.WithComponent("artifact")}
}

// Lookup checks the job state and the file on disk. Store failures are
// returned as errors; everything else is a Result.
func (s *Server) Lookup(ctx context.Context, id string) (Result, error) {
	job, err := s.store.GetTimelapse(ctx, id)
	if errors.Is(err, models.ErrJobNotFound) {
		return Result{Kind: JobUnknown}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if job.Status != models.StatusCompleted || job.FilePath == "" {
		return Result{Kind: NotCompleted, Job: job}, nil
	}

	abs, err := s.layout.Abs(job.FilePath)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", id).Msg("stored artifact path rejected")
		return Result{Kind: FileMissing, Job: job}, nil
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return Result{Kind: FileMissing, Job: job}, nil
	}
	return Result{Kind: Found, Job: job, Path: abs}, nil
}

// Stream writes the artifact for id. Every not-found outcome gets the same
// uncacheable 404; found artifacts are immutable and range-capable.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request, id string) {
	res, err := s.Lookup(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("artifact lookup failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if res.Kind != Found {
		s.logger.Debug().Str("job_id", id).Str("reason", res.Kind.String()).Msg("artifact not available")
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	f, err := os.Open(res.Path)
	if err != nil {
		// Removed between Lookup and Open, e.g. by the sweeper.
		s.logger.Debug().Err(err).Str("job_id", id).Msg("artifact vanished")
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	name := path.Base(res.Job.FilePath)
	h := w.Header()
	h.Set("Content-Type", models.ContentTypeMP4)
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", cacheImmutable)
	h.Set("ETag", fmt.Sprintf(`"%s-%x"`, res.Job.ID, info.Size()))

	http.ServeContent(w, r, name, info.ModTime(), f)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", cacheNone)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
