package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/retry"
)

// ErrJobNotFound is returned when no row exists for an id.
var ErrJobNotFound = models.ErrJobNotFound

// ErrUnsupportedDatabase is returned by NewStore for an unknown backend type.
var ErrUnsupportedDatabase = fmt.Errorf("unsupported database type")

// Store persists timelapse jobs. Implementations must make UpdateTimelapse
// atomic with respect to the status guard: a row already in a terminal
// state is never overwritten.
type Store interface {
	CreateTimelapse(ctx context.Context, t *models.Timelapse) error
	GetTimelapse(ctx context.Context, id string) (*models.Timelapse, error)
	// UpdateTimelapse applies u if the stored status may transition to
	// u.Status and returns the updated row.
	UpdateTimelapse(ctx context.Context, id string, u models.TimelapseUpdate) (*models.Timelapse, error)
	DeleteTimelapse(ctx context.Context, id string) error
	ListTimelapses(ctx context.Context, q ListQuery) (*Page, error)
	GetTimelapsesInState(ctx context.Context, status models.TimelapseStatus) ([]*models.Timelapse, error)
	CountByStatus(ctx context.Context) (map[models.TimelapseStatus]int, error)
	// DeleteTerminalBefore removes Completed and Failed rows created before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle
	HealthCheck(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}

// FrameSource lists captured frames, earliest first.
type FrameSource interface {
	ListFrames(ctx context.Context, sel models.FrameSelection) ([]models.Frame, error)
}

// FrameWriter records captured frames. Capture ingestion lives elsewhere;
// this is used for seeding and by tests.
type FrameWriter interface {
	SaveFrame(ctx context.Context, f models.Frame) error
}

// Backend is what the service needs from a single database.
type Backend interface {
	Store
	FrameSource
	FrameWriter
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ListQuery selects a page of jobs, newest first. Search matches the file path.
type ListQuery struct {
	Search   string
	Page     int
	PageSize int
}

// Normalize applies paging defaults and bounds.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return q
}

func (q ListQuery) offset() int {
	return (q.Page - 1) * q.PageSize
}

// Page is one page of a job listing.
type Page struct {
	Items    []*models.Timelapse `json:"items"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // postgres connection string, or sqlite file path

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectRetry    retry.Config
}

// NewStore creates a backend based on configuration
func NewStore(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStore(ctx, cfg)
	case "sqlite", "":
		path := cfg.DSN
		if path == "" {
			path = "timelapse.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatabase, cfg.Type)
	}
}

func persistenceErr(op string, err error) error {
	return &models.PersistenceError{Op: op, Err: err}
}
