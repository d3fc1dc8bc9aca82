package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/profile"
	"github.com/sireskandari/Aransite/pkg/storage"
	"github.com/sireskandari/Aransite/pkg/store"
)

// fakeRunner records invocations and either writes the output file or fails.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	manifest string
	fail     bool
	noOutput bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string) (CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))

	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			data, _ := os.ReadFile(args[i+1])
			f.manifest = string(data)
		}
	}
	if f.fail {
		return CommandResult{ExitCode: 1, Stderr: []byte("frames.txt: Invalid data found when processing input")},
			errors.New("exit status 1")
	}
	if !f.noOutput {
		out := args[len(args)-1]
		if err := os.WriteFile(out, []byte("fake mp4 payload"), 0o644); err != nil {
			return CommandResult{}, err
		}
	}
	return CommandResult{}, nil
}

func setup(t *testing.T, frameCount int) (*Encoder, *fakeRunner, storage.Layout) {
	t.Helper()
	layout, err := storage.NewLayout(t.TempDir(), "timelapses")
	require.NoError(t, err)

	mem := store.NewMemoryStore()
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < frameCount; i++ {
		require.NoError(t, mem.SaveFrame(context.Background(), models.Frame{
			ID:                  fmt.Sprintf("f%d", i),
			CameraID:            "cam",
			Label:               "yard",
			ImagePath:           fmt.Sprintf(`edge\cam\%03d.jpg`, i),
			CaptureTimestampUTC: base.Add(time.Duration(i) * time.Second),
		}))
	}

	runner := &fakeRunner{}
	enc := New(Config{FFmpegPath: "/usr/bin/ffmpeg"}, layout, mem, runner)
	return enc, runner, layout
}

func TestEncodeSuccess(t *testing.T) {
	enc, runner, layout := setup(t, 5)
	p := profile.Resolve("low", profile.Overrides{})

	rel, err := enc.Encode(context.Background(), models.FrameSelection{CameraID: "cam"}, p)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rel, "timelapses/"))
	assert.True(t, strings.HasSuffix(rel, "/video.mp4"))
	assert.NotContains(t, rel, `\`)

	abs, err := layout.Abs(rel)
	require.NoError(t, err)
	_, err = os.Stat(abs)
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(filepath.Dir(abs), manifestName))
	assert.True(t, os.IsNotExist(err), "manifest should be removed after the run")

	require.Len(t, runner.calls, 1)
	args := strings.Join(runner.calls[0], " ")
	assert.Contains(t, args, "/usr/bin/ffmpeg")
	assert.Contains(t, args, "-vf scale=720:-2")
	assert.Contains(t, args, "-crf 26")
	assert.Contains(t, args, "-preset faster")
	assert.Contains(t, args, "-r 10")

	assert.Equal(t, 6, strings.Count(runner.manifest, "file '"), "five frames plus the repeated last one")
	assert.Contains(t, runner.manifest, "duration 0.100000")
	assert.Contains(t, runner.manifest, filepath.Join(layout.Root, "edge", "cam", "000.jpg"))
}

func TestEncodeCapsFrames(t *testing.T) {
	enc, runner, _ := setup(t, 10)
	p := profile.Resolve("high", profile.Overrides{MaxFrames: intPtr(3)})

	_, err := enc.Encode(context.Background(), models.FrameSelection{}, p)
	require.NoError(t, err)

	assert.Contains(t, runner.manifest, "000.jpg")
	assert.Contains(t, runner.manifest, "002.jpg")
	assert.NotContains(t, runner.manifest, "003.jpg")
	assert.NotContains(t, strings.Join(runner.calls[0], " "), "scale=", "width 0 keeps source resolution")
}

func TestEncodeNoFrames(t *testing.T) {
	enc, runner, _ := setup(t, 0)

	_, err := enc.Encode(context.Background(), models.FrameSelection{}, profile.Resolve("", profile.Overrides{}))

	var encErr *models.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.ErrorIs(t, err, ErrNoFrames)
	assert.Empty(t, runner.calls)
}

func TestEncodeFailureCleansUp(t *testing.T) {
	enc, runner, layout := setup(t, 3)
	runner.fail = true

	_, err := enc.Encode(context.Background(), models.FrameSelection{}, profile.Resolve("medium", profile.Overrides{}))

	var encErr *models.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "ffmpeg", encErr.Op)
	assert.Equal(t, 1, encErr.ExitCode)
	assert.Contains(t, encErr.Error(), "Invalid data")

	entries, err := os.ReadDir(layout.OutputRoot())
	require.NoError(t, err)
	assert.Empty(t, entries, "failed job directory should be removed")
}

func TestEncodeMissingOutput(t *testing.T) {
	enc, runner, _ := setup(t, 2)
	runner.noOutput = true

	_, err := enc.Encode(context.Background(), models.FrameSelection{}, profile.Resolve("low", profile.Overrides{}))

	var encErr *models.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "verify output", encErr.Op)
}

func TestEncodeDiskPreflight(t *testing.T) {
	enc, runner, _ := setup(t, 2)
	enc.cfg.MinFreeBytes = 1 << 30
	enc.freeBytes = func(context.Context, string) (uint64, error) { return 1024, nil }

	_, err := enc.Encode(context.Background(), models.FrameSelection{}, profile.Resolve("low", profile.Overrides{}))

	var encErr *models.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "disk preflight", encErr.Op)
	assert.Empty(t, runner.calls)
}

func TestBuildManifestEscapesQuotes(t *testing.T) {
	m := string(BuildManifest([]string{"/data/it's.jpg"}, 20))
	assert.Contains(t, m, `file '/data/it'\''s.jpg'`)
	assert.Contains(t, m, "duration 0.050000")
	assert.True(t, strings.HasPrefix(m, "ffconcat version 1.0\n"))
}

func intPtr(v int) *int { return &v }
