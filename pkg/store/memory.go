package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sireskandari/Aransite/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store
type MemoryStore struct {
	jobs     map[string]*models.Timelapse
	frames   []models.Frame
	jobsMu   sync.RWMutex
	framesMu sync.RWMutex
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Timelapse),
		now:  time.Now,
	}
}

// CreateTimelapse stores a copy of t.
func (s *MemoryStore) CreateTimelapse(_ context.Context, t *models.Timelapse) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if _, exists := s.jobs[t.ID]; exists {
		return persistenceErr("create timelapse", fmt.Errorf("duplicate id %s", t.ID))
	}
	s.jobs[t.ID] = cloneTimelapse(t)
	return nil
}

// GetTimelapse retrieves a job by ID
func (s *MemoryStore) GetTimelapse(_ context.Context, id string) (*models.Timelapse, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneTimelapse(job), nil
}

// UpdateTimelapse applies a guarded transition.
func (s *MemoryStore) UpdateTimelapse(_ context.Context, id string, u models.TimelapseUpdate) (*models.Timelapse, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if err := models.ValidateTransition(job.Status, u.Status); err != nil {
		return nil, err
	}
	u.Apply(job, s.now())
	return cloneTimelapse(job), nil
}

// DeleteTimelapse removes a job row. Artifacts are left alone.
func (s *MemoryStore) DeleteTimelapse(_ context.Context, id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// ListTimelapses returns a page of jobs, newest first.
func (s *MemoryStore) ListTimelapses(_ context.Context, q ListQuery) (*Page, error) {
	q = q.Normalize()
	search := strings.ToLower(q.Search)

	s.jobsMu.RLock()
	matched := make([]*models.Timelapse, 0, len(s.jobs))
	for _, job := range s.jobs {
		if search != "" && !strings.Contains(strings.ToLower(job.FilePath), search) {
			continue
		}
		matched = append(matched, cloneTimelapse(job))
	}
	s.jobsMu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedUTC.Equal(matched[j].CreatedUTC) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedUTC.After(matched[j].CreatedUTC)
	})

	page := &Page{Total: len(matched), Page: q.Page, PageSize: q.PageSize, Items: []*models.Timelapse{}}
	start := q.offset()
	if start >= len(matched) {
		return page, nil
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = matched[start:end]
	return page, nil
}

// GetTimelapsesInState returns all jobs in the given state, oldest first.
func (s *MemoryStore) GetTimelapsesInState(_ context.Context, status models.TimelapseStatus) ([]*models.Timelapse, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	var out []*models.Timelapse
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, cloneTimelapse(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedUTC.Before(out[j].CreatedUTC) })
	return out, nil
}

// CountByStatus returns the number of jobs per state.
func (s *MemoryStore) CountByStatus(_ context.Context) (map[models.TimelapseStatus]int, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	counts := make(map[models.TimelapseStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// DeleteTerminalBefore removes finished jobs created before cutoff.
func (s *MemoryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	var n int64
	for id, job := range s.jobs {
		if models.IsTerminalState(job.Status) && job.CreatedUTC.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// SaveFrame inserts or replaces a captured frame.
func (s *MemoryStore) SaveFrame(_ context.Context, f models.Frame) error {
	s.framesMu.Lock()
	defer s.framesMu.Unlock()

	f.CaptureTimestampUTC = f.CaptureTimestampUTC.UTC()
	for i := range s.frames {
		if s.frames[i].ID == f.ID {
			s.frames[i] = f
			return nil
		}
	}
	s.frames = append(s.frames, f)
	return nil
}

// ListFrames returns frames matching sel, earliest first, capped at sel.Limit.
func (s *MemoryStore) ListFrames(_ context.Context, sel models.FrameSelection) ([]models.Frame, error) {
	search := strings.ToLower(sel.Search)

	s.framesMu.RLock()
	var out []models.Frame
	for _, f := range s.frames {
		if search != "" && !strings.Contains(strings.ToLower(f.Label), search) {
			continue
		}
		if sel.CameraID != "" && f.CameraID != sel.CameraID {
			continue
		}
		if sel.FromUTC != nil && f.CaptureTimestampUTC.Before(*sel.FromUTC) {
			continue
		}
		if sel.ToUTC != nil && f.CaptureTimestampUTC.After(*sel.ToUTC) {
			continue
		}
		out = append(out, f)
	}
	s.framesMu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CaptureTimestampUTC.Before(out[j].CaptureTimestampUTC)
	})
	if sel.Limit > 0 && len(out) > sel.Limit {
		out = out[:sel.Limit]
	}
	return out, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Vacuum is a no-op for the in-memory store.
func (s *MemoryStore) Vacuum(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func cloneTimelapse(t *models.Timelapse) *models.Timelapse {
	c := *t
	c.StartedUTC = cloneTime(t.StartedUTC)
	c.CompletedUTC = cloneTime(t.CompletedUTC)
	c.FromUTC = cloneTime(t.FromUTC)
	c.ToUTC = cloneTime(t.ToUTC)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ Backend = (*MemoryStore)(nil)
