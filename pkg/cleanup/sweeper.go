package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/storage"
)

// Failure is one entry the sweeper could not remove.
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report summarizes a sweep.
type Report struct {
	Root         string    `json:"root"`
	DirsDeleted  int       `json:"dirsDeleted"`
	FilesDeleted int       `json:"filesDeleted"`
	Failures     []Failure `json:"failures,omitempty"`
}

// SweepRecorder receives sweep counts.
type SweepRecorder interface {
	SweeperDeleted(kind string, n int)
	SweeperFailed(n int)
}

// Sweeper removes every artifact under the output root. Job rows are not
// touched, so Completed jobs may afterwards point at missing files.
type Sweeper struct {
	layout storage.Layout
	rec    SweepRecorder
	logger zerolog.Logger

	removeAll func(string) error
	remove    func(string) error
}

// NewSweeper creates a sweeper. rec may be nil.
func NewSweeper(layout storage.Layout, rec SweepRecorder) *Sweeper {
	return &Sweeper{
		layout:    layout,
		rec:       rec,
		logger:    logging.WithComponent("sweeper"),
		removeAll: os.RemoveAll,
		remove:    os.Remove,
	}
}

// DeleteAll removes every subdirectory and then every file under the output
// root. A missing root is a no-op. Per-entry failures are logged and
// reported; only an unreadable root or cancellation returns an error.
func (s *Sweeper) DeleteAll(ctx context.Context) (Report, error) {
	root := s.layout.OutputRoot()
	report := Report{Root: root}

	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info().Str("root", root).Msg("output root absent, nothing to sweep")
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("read output root: %w", err)
	}

	var files []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e)
			continue
		}
		if err := ctx.Err(); err != nil {
			return s.finish(report), err
		}
		p := filepath.Join(root, e.Name())
		if err := s.removeAll(p); err != nil {
			s.fail(&report, p, err)
			continue
		}
		report.DirsDeleted++
	}

	for _, e := range files {
		if err := ctx.Err(); err != nil {
			return s.finish(report), err
		}
		p := filepath.Join(root, e.Name())
		if err := s.remove(p); err != nil {
			s.fail(&report, p, err)
			continue
		}
		report.FilesDeleted++
	}

	return s.finish(report), nil
}

func (s *Sweeper) fail(r *Report, path string, err error) {
	s.logger.Warn().Err(err).Str("path", path).Msg("failed to delete artifact entry")
	r.Failures = append(r.Failures, Failure{Path: path, Error: err.Error()})
}

func (s *Sweeper) finish(r Report) Report {
	if s.rec != nil {
		s.rec.SweeperDeleted("dir", r.DirsDeleted)
		s.rec.SweeperDeleted("file", r.FilesDeleted)
		s.rec.SweeperFailed(len(r.Failures))
	}
	s.logger.Info().
		Int("dirs_deleted", r.DirsDeleted).
		Int("files_deleted", r.FilesDeleted).
		Int("failures", len(r.Failures)).
		Msg("artifact sweep complete")
	return r
}
