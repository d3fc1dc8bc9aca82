package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/models"
)

// schema is shared by SQLite and PostgreSQL.
const schema = `
	CREATE TABLE IF NOT EXISTS timelapses (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL DEFAULT '',
		file_format TEXT NOT NULL DEFAULT 'mp4',
		file_size TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_utc TIMESTAMP NOT NULL,
		started_utc TIMESTAMP,
		completed_utc TIMESTAMP,
		quality TEXT NOT NULL DEFAULT '',
		search TEXT NOT NULL DEFAULT '',
		camera_id TEXT NOT NULL DEFAULT '',
		from_utc TIMESTAMP,
		to_utc TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_timelapses_status ON timelapses(status);
	CREATE INDEX IF NOT EXISTS idx_timelapses_created ON timelapses(created_utc);

	CREATE TABLE IF NOT EXISTS edge_events (
		id TEXT PRIMARY KEY,
		camera_id TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		image_path TEXT NOT NULL,
		capture_timestamp_utc TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_edge_events_capture ON edge_events(capture_timestamp_utc);
	CREATE INDEX IF NOT EXISTS idx_edge_events_camera ON edge_events(camera_id, capture_timestamp_utc);
	`

const timelapseColumns = `id, file_path, file_format, file_size, status, error_message,
	created_utc, started_utc, completed_utc, quality, search, camera_id, from_utc, to_utc`

// dialect captures the differences between the SQL backends.
type dialect struct {
	numbered bool   // $1 placeholders instead of ?
	like     string // case-insensitive LIKE operator
	vacuum   string
}

// sqlStore implements Backend on database/sql.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *sqlStore) rebind(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateTimelapse inserts a new job row.
func (s *sqlStore) CreateTimelapse(ctx context.Context, t *models.Timelapse) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO timelapses (`+timelapseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.FilePath, t.FileFormat, t.FileSize, string(t.Status), t.ErrorMessage,
		t.CreatedUTC.UTC(), nullTime(t.StartedUTC), nullTime(t.CompletedUTC),
		t.Quality, t.Search, t.CameraID, nullTime(t.FromUTC), nullTime(t.ToUTC))
	if err != nil {
		return persistenceErr("create timelapse", err)
	}
	return nil
}

// GetTimelapse retrieves a job by ID
func (s *sqlStore) GetTimelapse(ctx context.Context, id string) (*models.Timelapse, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+timelapseColumns+` FROM timelapses WHERE id = ?`), id)
	t, err := scanTimelapse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, persistenceErr("get timelapse", err)
	}
	return t, nil
}

// UpdateTimelapse applies u with a single UPDATE guarded on the legal
// source states, so a terminal row is never overwritten.
func (s *sqlStore) UpdateTimelapse(ctx context.Context, id string, u models.TimelapseUpdate) (*models.Timelapse, error) {
	sources := models.SourceStates(u.Status)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: nothing transitions to %s", models.ErrInvalidTransition, u.Status)
	}

	now := s.now().UTC()
	errMsg := ""
	if u.Status == models.StatusFailed {
		errMsg = u.ErrorMessage
	}

	sets := []string{"status = ?", "error_message = ?"}
	args := []any{string(u.Status), errMsg}
	if u.FilePath != nil {
		sets = append(sets, "file_path = ?")
		args = append(args, *u.FilePath)
	}
	if u.FileFormat != nil {
		sets = append(sets, "file_format = ?")
		args = append(args, *u.FileFormat)
	}
	if u.FileSize != nil {
		sets = append(sets, "file_size = ?")
		args = append(args, *u.FileSize)
	}
	switch {
	case u.Status == models.StatusProcessing:
		sets = append(sets, "started_utc = ?")
		args = append(args, now)
	case models.IsTerminalState(u.Status):
		sets = append(sets, "completed_utc = ?")
		args = append(args, now)
	}

	placeholders := make([]string, len(sources))
	args = append(args, id)
	for i, st := range sources {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf("UPDATE timelapses SET %s WHERE id = ? AND status IN (%s)",
		strings.Join(sets, ", "), strings.Join(placeholders, ", "))

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, persistenceErr("update timelapse", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, persistenceErr("update timelapse", err)
	}

	return settleUpdate(ctx, n, id, u, now, s.GetTimelapse)
}

// settleUpdate turns the outcome of a guarded UPDATE into the caller's
// result. Once a row was changed the update stands, whether or not the
// re-read succeeds.
func settleUpdate(ctx context.Context, affected int64, id string, u models.TimelapseUpdate, now time.Time,
	get func(context.Context, string) (*models.Timelapse, error)) (*models.Timelapse, error) {
	current, err := get(ctx, id)
	if affected > 0 {
		if err != nil {
			l := logging.WithComponent("store")
			l.Warn().Err(err).Str("job_id", id).
				Str("status", string(u.Status)).Msg("update committed but re-read failed")
			current = &models.Timelapse{ID: id}
			u.Apply(current, now)
		}
		return current, nil
	}
	if err != nil {
		return nil, err
	}
	if err := models.ValidateTransition(current.Status, u.Status); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s changed concurrently", models.ErrInvalidTransition, id)
}

// DeleteTimelapse removes a job row.
func (s *sqlStore) DeleteTimelapse(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM timelapses WHERE id = ?`), id)
	if err != nil {
		return persistenceErr("delete timelapse", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr("delete timelapse", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListTimelapses returns a page of jobs, newest first.
func (s *sqlStore) ListTimelapses(ctx context.Context, q ListQuery) (*Page, error) {
	q = q.Normalize()

	where := ""
	var args []any
	if q.Search != "" {
		where = " WHERE file_path " + s.d.like + " ?"
		args = append(args, "%"+q.Search+"%")
	}

	page := &Page{Page: q.Page, PageSize: q.PageSize, Items: []*models.Timelapse{}}
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM timelapses`+where), args...).Scan(&page.Total); err != nil {
		return nil, persistenceErr("count timelapses", err)
	}

	query := `SELECT ` + timelapseColumns + ` FROM timelapses` + where +
		` ORDER BY created_utc DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), append(args, q.PageSize, q.offset())...)
	if err != nil {
		return nil, persistenceErr("list timelapses", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTimelapse(rows)
		if err != nil {
			return nil, persistenceErr("list timelapses", err)
		}
		page.Items = append(page.Items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list timelapses", err)
	}
	return page, nil
}

// GetTimelapsesInState returns all jobs in the given state, oldest first.
func (s *sqlStore) GetTimelapsesInState(ctx context.Context, status models.TimelapseStatus) ([]*models.Timelapse, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+timelapseColumns+` FROM timelapses WHERE status = ? ORDER BY created_utc ASC`), string(status))
	if err != nil {
		return nil, persistenceErr("get timelapses in state", err)
	}
	defer rows.Close()

	var out []*models.Timelapse
	for rows.Next() {
		t, err := scanTimelapse(rows)
		if err != nil {
			return nil, persistenceErr("get timelapses in state", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("get timelapses in state", err)
	}
	return out, nil
}

// CountByStatus returns the number of jobs per state.
func (s *sqlStore) CountByStatus(ctx context.Context) (map[models.TimelapseStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM timelapses GROUP BY status`)
	if err != nil {
		return nil, persistenceErr("count by status", err)
	}
	defer rows.Close()

	counts := make(map[models.TimelapseStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, persistenceErr("count by status", err)
		}
		counts[models.TimelapseStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("count by status", err)
	}
	return counts, nil
}

// DeleteTerminalBefore removes finished jobs created before cutoff.
func (s *sqlStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM timelapses WHERE status IN (?, ?) AND created_utc < ?`),
		string(models.StatusCompleted), string(models.StatusFailed), cutoff.UTC())
	if err != nil {
		return 0, persistenceErr("delete old timelapses", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistenceErr("delete old timelapses", err)
	}
	return n, nil
}

// SaveFrame inserts or replaces a captured frame.
func (s *sqlStore) SaveFrame(ctx context.Context, f models.Frame) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO edge_events (id, camera_id, label, image_path, capture_timestamp_utc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			camera_id = excluded.camera_id,
			label = excluded.label,
			image_path = excluded.image_path,
			capture_timestamp_utc = excluded.capture_timestamp_utc
	`), f.ID, f.CameraID, f.Label, f.ImagePath, f.CaptureTimestampUTC.UTC())
	if err != nil {
		return persistenceErr("save frame", err)
	}
	return nil
}

// ListFrames returns frames matching sel, earliest first, capped at sel.Limit.
func (s *sqlStore) ListFrames(ctx context.Context, sel models.FrameSelection) ([]models.Frame, error) {
	var conds []string
	var args []any
	if sel.Search != "" {
		conds = append(conds, "label "+s.d.like+" ?")
		args = append(args, "%"+sel.Search+"%")
	}
	if sel.CameraID != "" {
		conds = append(conds, "camera_id = ?")
		args = append(args, sel.CameraID)
	}
	if sel.FromUTC != nil {
		conds = append(conds, "capture_timestamp_utc >= ?")
		args = append(args, sel.FromUTC.UTC())
	}
	if sel.ToUTC != nil {
		conds = append(conds, "capture_timestamp_utc <= ?")
		args = append(args, sel.ToUTC.UTC())
	}

	query := `SELECT id, camera_id, label, image_path, capture_timestamp_utc FROM edge_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY capture_timestamp_utc ASC, id ASC"
	if sel.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, sel.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, persistenceErr("list frames", err)
	}
	defer rows.Close()

	var frames []models.Frame
	for rows.Next() {
		var f models.Frame
		if err := rows.Scan(&f.ID, &f.CameraID, &f.Label, &f.ImagePath, &f.CaptureTimestampUTC); err != nil {
			return nil, persistenceErr("list frames", err)
		}
		f.CaptureTimestampUTC = f.CaptureTimestampUTC.UTC()
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list frames", err)
	}
	return frames, nil
}

// HealthCheck verifies the database connection is alive
func (s *sqlStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return persistenceErr("health check", err)
	}
	return nil
}

// Vacuum reclaims space after bulk deletes.
func (s *sqlStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.vacuum); err != nil {
		return persistenceErr("vacuum", err)
	}
	return nil
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimelapse(row rowScanner) (*models.Timelapse, error) {
	var t models.Timelapse
	var status string
	var started, completed, from, to sql.NullTime

	err := row.Scan(&t.ID, &t.FilePath, &t.FileFormat, &t.FileSize, &status, &t.ErrorMessage,
		&t.CreatedUTC, &started, &completed, &t.Quality, &t.Search, &t.CameraID, &from, &to)
	if err != nil {
		return nil, err
	}
	t.Status = models.TimelapseStatus(status)
	t.CreatedUTC = t.CreatedUTC.UTC()
	t.StartedUTC = timePtr(started)
	t.CompletedUTC = timePtr(completed)
	t.FromUTC = timePtr(from)
	t.ToUTC = timePtr(to)
	return &t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
