// Package encoder turns an ordered frame sequence into an MP4 by invoking
// ffmpeg once per job with a concat manifest.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/profile"
	"github.com/sireskandari/Aransite/pkg/storage"
	"github.com/sireskandari/Aransite/pkg/store"
)

const (
	manifestName   = "frames.txt"
	outputName     = "video.mp4"
	stderrTailSize = 2048
)

// ErrNoFrames is wrapped in the EncodingError returned when the selection is empty.
var ErrNoFrames = errors.New("no frames match the selection")

// Config is resolved once at startup.
type Config struct {
	FFmpegPath   string
	Timeout      time.Duration // per encode; 0 disables
	MinFreeBytes uint64        // refuse to start below this much free disk; 0 disables
}

// Encoder produces one video per call in a fresh directory under the layout's output root.
type Encoder struct {
	cfg    Config
	layout storage.Layout
	frames store.FrameSource
	runner CommandRunner
	logger zerolog.Logger

	freeBytes func(ctx context.Context, path string) (uint64, error)
	newDir    func() string
}

// New creates an encoder. A nil runner uses ExecRunner.
func New(cfg Config, layout storage.Layout, frames store.FrameSource, runner CommandRunner) *Encoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Encoder{
		cfg:       cfg,
		layout:    layout,
		frames:    frames,
		runner:    runner,
		logger:    logging.WithComponent("encoder"),
		freeBytes: diskFree,
		newDir:    uuid.NewString,
	}
}

// Encode renders the frames matched by sel with parameters p and returns the
// artifact path relative to the storage root, with forward slashes.
func (e *Encoder) Encode(ctx context.Context, sel models.FrameSelection, p profile.Profile) (string, error) {
	ctx, span := otel.Tracer("timelapse/encoder").Start(ctx, "encoder.Encode")
	defer span.End()
	span.SetAttributes(
		attribute.String("profile.tier", string(p.Tier)),
		attribute.Int("profile.fps", p.FPS),
		attribute.Int("profile.max_frames", p.MaxFrames),
	)

	rel, err := e.encode(ctx, sel, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rel, err
}

func (e *Encoder) encode(ctx context.Context, sel models.FrameSelection, p profile.Profile) (string, error) {
	logger := logging.WithContext(ctx, e.logger)

	sel.Limit = p.MaxFrames
	frames, err := e.frames.ListFrames(ctx, sel)
	if err != nil {
		return "", &models.EncodingError{Op: "list frames", Err: err}
	}
	if len(frames) > p.MaxFrames {
		frames = frames[:p.MaxFrames]
	}

	inputs := make([]string, 0, len(frames))
	for _, f := range frames {
		abs, err := e.layout.Abs(f.ImagePath)
		if err != nil {
			logger.Warn().Err(err).Str("frame_id", f.ID).Msg("skipping frame with unusable path")
			continue
		}
		inputs = append(inputs, abs)
	}
	if len(inputs) == 0 {
		return "", &models.EncodingError{Op: "select frames", Err: ErrNoFrames}
	}

	dir := e.layout.JobDir(e.newDir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &models.EncodingError{Op: "create output directory", Err: err}
	}

	outPath, err := e.render(ctx, dir, inputs, p)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Warn().Err(rmErr).Str("dir", dir).Msg("failed to remove output directory")
		}
		return "", err
	}

	rel, err := e.layout.Rel(outPath)
	if err != nil {
		return "", &models.EncodingError{Op: "relativize output", Err: err}
	}
	logger.Info().Str("path", rel).Int("frames", len(inputs)).Msg("timelapse encoded")
	return rel, nil
}

func (e *Encoder) render(ctx context.Context, dir string, inputs []string, p profile.Profile) (string, error) {
	if e.cfg.MinFreeBytes > 0 {
		free, err := e.freeBytes(ctx, dir)
		if err != nil {
			e.logger.Warn().Err(err).Str("dir", dir).Msg("disk usage unavailable, skipping preflight")
		} else if free < e.cfg.MinFreeBytes {
			return "", &models.EncodingError{
				Op:  "disk preflight",
				Err: fmt.Errorf("%d bytes free, need %d", free, e.cfg.MinFreeBytes),
			}
		}
	}

	manifest := filepath.Join(dir, manifestName)
	if err := renameio.WriteFile(manifest, BuildManifest(inputs, p.FPS), 0o644); err != nil {
		return "", &models.EncodingError{Op: "write manifest", Err: err}
	}
	defer os.Remove(manifest)

	outPath := filepath.Join(dir, outputName)

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	res, err := e.runner.Run(runCtx, e.cfg.FFmpegPath, BuildArgs(manifest, outPath, p))
	if err != nil {
		return "", &models.EncodingError{
			Op:       "ffmpeg",
			ExitCode: res.ExitCode,
			Output:   tail(res.Stderr, stderrTailSize),
			Err:      err,
		}
	}

	if _, err := os.Stat(outPath); err != nil {
		return "", &models.EncodingError{Op: "verify output", Err: err}
	}
	return outPath, nil
}

// BuildArgs returns the ffmpeg argument list for one encode.
func BuildArgs(manifest, outPath string, p profile.Profile) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0", "-i", manifest,
	}
	if p.Width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", p.Width))
	}
	args = append(args,
		"-r", fmt.Sprint(p.FPS),
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-crf", fmt.Sprint(p.CRF),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	)
	return args
}

// BuildManifest renders an ffconcat script showing each input for 1/fps
// seconds. The last file is repeated so its duration is honoured.
func BuildManifest(inputs []string, fps int) []byte {
	if fps <= 0 {
		fps = 1
	}
	duration := fmt.Sprintf("%.6f", 1/float64(fps))

	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, in := range inputs {
		fmt.Fprintf(&b, "file '%s'\nduration %s\n", escapeConcat(in), duration)
	}
	if len(inputs) > 0 {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcat(inputs[len(inputs)-1]))
	}
	return []byte(b.String())
}

func escapeConcat(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), "'", `'\''`)
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

func diskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
