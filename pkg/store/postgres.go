package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/retry"
)

// PostgreSQLStore implements Backend using PostgreSQL
type PostgreSQLStore struct {
	*sqlStore
}

// NewPostgreSQLStore opens the database, retrying the initial ping while the
// server comes up, and creates the schema.
func NewPostgreSQLStore(ctx context.Context, cfg Config) (*PostgreSQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 25))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
	db.SetConnMaxLifetime(durOrDefault(cfg.ConnMaxLifetime, 5*time.Minute))
	db.SetConnMaxIdleTime(durOrDefault(cfg.ConnMaxIdleTime, time.Minute))

	rc := cfg.ConnectRetry
	if rc.MaxRetries == 0 && rc.InitialBackoff == 0 {
		rc = retry.DefaultConfig()
	}
	if rc.Logger == nil {
		l := logging.WithComponent("store")
		rc.Logger = &l
	}
	if err := retry.Do(ctx, rc, "ping postgres", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgreSQLStore{&sqlStore{
		db:  db,
		d:   dialect{numbered: true, like: "ILIKE", vacuum: "VACUUM ANALYZE timelapses"},
		now: time.Now,
	}}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func durOrDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

var _ Backend = (*PostgreSQLStore)(nil)
