package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sireskandari/Aransite/pkg/models"
)

func TestMemoryStore(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// TestPostgreSQLIntegration runs against a real database.
// Set DATABASE_DSN to run: export DATABASE_DSN="postgresql://..."
func TestPostgreSQLIntegration(t *testing.T) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: DATABASE_DSN not set")
	}
	runBackendSuite(t, func(t *testing.T) Backend {
		s, err := NewStore(context.Background(), Config{Type: "postgres", DSN: dsn})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func runBackendSuite(t *testing.T, open func(t *testing.T) Backend) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, open(t)) })
	t.Run("Transitions", func(t *testing.T) { testTransitions(t, open(t)) })
	t.Run("TerminalIsFinal", func(t *testing.T) { testTerminalIsFinal(t, open(t)) })
	t.Run("CompleteFromPending", func(t *testing.T) { testCompleteFromPending(t, open(t)) })
	t.Run("ConcurrentTerminalUpdates", func(t *testing.T) { testConcurrentTerminalUpdates(t, open(t)) })
	t.Run("ListPaging", func(t *testing.T) { testListPaging(t, open(t)) })
	t.Run("DeleteAndRetention", func(t *testing.T) { testDeleteAndRetention(t, open(t)) })
	t.Run("Frames", func(t *testing.T) { testFrames(t, open(t)) })
	t.Run("Lifecycle", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		assert.NoError(t, s.HealthCheck(ctx))
		assert.NoError(t, s.Vacuum(ctx))
	})
}

func newJob(created time.Time) *models.Timelapse {
	from := created.Add(-time.Hour)
	return models.NewPendingTimelapse(uuid.NewString(), models.GenerateRequest{
		Quality:  "low",
		CameraID: "cam-1",
		FromUTC:  &from,
	}, created)
}

func testCreateAndGet(t *testing.T, s Backend) {
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	job := newJob(created)
	require.NoError(t, s.CreateTimelapse(ctx, job))

	got, err := s.GetTimelapse(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "", got.FilePath)
	assert.Equal(t, "0", got.FileSize)
	assert.Equal(t, models.FileFormatMP4, got.FileFormat)
	assert.True(t, created.Equal(got.CreatedUTC))
	assert.Equal(t, "cam-1", got.CameraID)
	require.NotNil(t, got.FromUTC)
	assert.True(t, created.Add(-time.Hour).Equal(*got.FromUTC))
	assert.Nil(t, got.ToUTC)

	_, err = s.GetTimelapse(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func testTransitions(t *testing.T, s Backend) {
	ctx := context.Background()
	job := newJob(time.Now().UTC().Truncate(time.Second))
	require.NoError(t, s.CreateTimelapse(ctx, job))

	got, err := s.UpdateTimelapse(ctx, job.ID, models.ProcessingUpdate())
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.NotNil(t, got.StartedUTC)

	got, err = s.UpdateTimelapse(ctx, job.ID, models.CompletedUpdate("timelapses/x/video.mp4", "2048"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "timelapses/x/video.mp4", got.FilePath)
	assert.Equal(t, "2048", got.FileSize)
	assert.Empty(t, got.ErrorMessage)
	assert.NotNil(t, got.CompletedUTC)

	_, err = s.UpdateTimelapse(ctx, "missing", models.ProcessingUpdate())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func testCompleteFromPending(t *testing.T, s Backend) {
	ctx := context.Background()
	job := newJob(time.Now().UTC().Truncate(time.Second))
	require.NoError(t, s.CreateTimelapse(ctx, job))

	// Processing never landed; the encode still finished
	got, err := s.UpdateTimelapse(ctx, job.ID, models.CompletedUpdate("timelapses/y/video.mp4", "512"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "timelapses/y/video.mp4", got.FilePath)
	assert.Nil(t, got.StartedUTC)
	assert.NotNil(t, got.CompletedUTC)
}

func testTerminalIsFinal(t *testing.T, s Backend) {
	ctx := context.Background()
	job := newJob(time.Now().UTC().Truncate(time.Second))
	require.NoError(t, s.CreateTimelapse(ctx, job))

	// Pending straight to Failed is allowed when Processing never landed
	_, err := s.UpdateTimelapse(ctx, job.ID, models.FailedUpdate("encoder exited 1"))
	require.NoError(t, err)

	_, err = s.UpdateTimelapse(ctx, job.ID, models.CompletedUpdate("a/video.mp4", "1"))
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	got, err := s.GetTimelapse(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "encoder exited 1", got.ErrorMessage)
	assert.Equal(t, "", got.FilePath)
	assert.Equal(t, "0", got.FileSize)
}

func testConcurrentTerminalUpdates(t *testing.T, s Backend) {
	ctx := context.Background()
	job := newJob(time.Now().UTC().Truncate(time.Second))
	require.NoError(t, s.CreateTimelapse(ctx, job))
	_, err := s.UpdateTimelapse(ctx, job.ID, models.ProcessingUpdate())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := models.FailedUpdate(fmt.Sprintf("attempt %d", i))
			if i%2 == 0 {
				u = models.CompletedUpdate("a/video.mp4", "10")
			}
			if _, err := s.UpdateTimelapse(ctx, job.ID, u); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, models.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one terminal update must win")
}

func testListPaging(t *testing.T, s Backend) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 15; i++ {
		job := newJob(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, s.CreateTimelapse(ctx, job))
		ids = append(ids, job.ID)
	}
	_, err := s.UpdateTimelapse(ctx, ids[3], models.ProcessingUpdate())
	require.NoError(t, err)
	_, err = s.UpdateTimelapse(ctx, ids[3], models.CompletedUpdate("timelapses/needle/video.mp4", "5"))
	require.NoError(t, err)

	page, err := s.ListTimelapses(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 15, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	require.Len(t, page.Items, 10)
	assert.Equal(t, ids[14], page.Items[0].ID, "newest first")

	page, err = s.ListTimelapses(ctx, ListQuery{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, ids[0], page.Items[4].ID)

	page, err = s.ListTimelapses(ctx, ListQuery{Page: 9, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, page.PageSize)
	assert.Empty(t, page.Items)

	page, err = s.ListTimelapses(ctx, ListQuery{Search: "needle"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, ids[3], page.Items[0].ID)

	pending, err := s.GetTimelapsesInState(ctx, models.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 14)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 14, counts[models.StatusPending])
	assert.Equal(t, 1, counts[models.StatusCompleted])
}

func testDeleteAndRetention(t *testing.T, s Backend) {
	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	finished := newJob(old)
	require.NoError(t, s.CreateTimelapse(ctx, finished))
	_, err := s.UpdateTimelapse(ctx, finished.ID, models.FailedUpdate("boom"))
	require.NoError(t, err)

	active := newJob(old)
	require.NoError(t, s.CreateTimelapse(ctx, active))

	n, err := s.DeleteTerminalBefore(ctx, old.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetTimelapse(ctx, finished.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, s.DeleteTimelapse(ctx, active.ID))
	assert.ErrorIs(t, s.DeleteTimelapse(ctx, active.ID), ErrJobNotFound)
}

func testFrames(t *testing.T, s Backend) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	cam := "cam-" + uuid.NewString()[:8]

	// inserted out of order
	for _, i := range []int{3, 0, 4, 1, 2} {
		require.NoError(t, s.SaveFrame(ctx, models.Frame{
			ID:                  fmt.Sprintf("%s-%d", cam, i),
			CameraID:            cam,
			Label:               fmt.Sprintf("North Gate %d", i),
			ImagePath:           fmt.Sprintf("edge/%d.jpg", i),
			CaptureTimestampUTC: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.SaveFrame(ctx, models.Frame{
		ID: cam + "-other", CameraID: "other-" + cam, Label: "north gate", ImagePath: "edge/o.jpg",
		CaptureTimestampUTC: base,
	}))

	frames, err := s.ListFrames(ctx, models.FrameSelection{CameraID: cam})
	require.NoError(t, err)
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, fmt.Sprintf("edge/%d.jpg", i), f.ImagePath)
	}

	from, to := base.Add(time.Minute), base.Add(3*time.Minute)
	frames, err = s.ListFrames(ctx, models.FrameSelection{CameraID: cam, FromUTC: &from, ToUTC: &to, Limit: 2})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, cam+"-1", frames[0].ID)
	assert.Equal(t, cam+"-2", frames[1].ID)

	frames, err = s.ListFrames(ctx, models.FrameSelection{Search: "gate 4", CameraID: cam})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, cam+"-4", frames[0].ID)

	// Saving an existing id replaces the frame.
	require.NoError(t, s.SaveFrame(ctx, models.Frame{
		ID: cam + "-4", CameraID: cam, Label: "South Gate", ImagePath: "edge/4b.jpg",
		CaptureTimestampUTC: base.Add(4 * time.Minute),
	}))
	frames, err = s.ListFrames(ctx, models.FrameSelection{CameraID: cam})
	require.NoError(t, err)
	require.Len(t, frames, 5)
	assert.Equal(t, "edge/4b.jpg", frames[4].ImagePath)
}

func TestSettleUpdate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	readErr := &models.PersistenceError{Op: "get timelapse", Err: errors.New("connection reset")}

	tests := []struct {
		name       string
		affected   int64
		row        *models.Timelapse
		getErr     error
		wantStatus models.TimelapseStatus
		wantErr    error
	}{
		{"committed", 1, &models.Timelapse{ID: "j", Status: models.StatusCompleted, FilePath: "a/video.mp4"}, nil, models.StatusCompleted, nil},
		{"committed but re-read failed", 1, nil, readErr, models.StatusCompleted, nil},
		{"guard rejected terminal row", 0, &models.Timelapse{ID: "j", Status: models.StatusFailed}, nil, "", models.ErrInvalidTransition},
		{"guard rejected then re-read failed", 0, nil, readErr, "", readErr},
		{"row vanished", 0, nil, ErrJobNotFound, "", ErrJobNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			get := func(context.Context, string) (*models.Timelapse, error) { return tt.row, tt.getErr }
			got, err := settleUpdate(context.Background(), tt.affected, "j",
				models.CompletedUpdate("a/video.mp4", "10"), now, get)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, "a/video.mp4", got.FilePath)
			assert.Equal(t, "j", got.ID)
		})
	}
}
