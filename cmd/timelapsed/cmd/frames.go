package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/store"
)

var (
	importCamera string
	importLabel  string
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

var framesCmd = &cobra.Command{
	Use:   "frames",
	Short: "Manage the stored frame index",
}

var framesImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Index image files under the static root as frames",
	Long: `Walks dir (which must be inside storage.static_root) and records every .jpg,
.jpeg and .png file as a frame, using the file's modification time as its capture
time. Re-importing a file updates its existing frame.`,
	Args: cobra.ExactArgs(1),
	RunE: runFramesImport,
}

func init() {
	rootCmd.AddCommand(framesCmd)
	framesCmd.AddCommand(framesImportCmd)
	framesImportCmd.Flags().StringVar(&importCamera, "camera", "", "camera id to record (required)")
	framesImportCmd.Flags().StringVar(&importLabel, "label", "", "label to record; defaults to the file name")
	_ = framesImportCmd.MarkFlagRequired("camera")
}

func runFramesImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Close()
	logger := logging.WithComponent("frames")

	layout, err := cfg.Layout()
	if err != nil {
		return err
	}
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := layout.Rel(dir); err != nil {
		return fmt.Errorf("%s is outside the static root %s", dir, layout.Root)
	}

	backend, err := store.NewStore(cmd.Context(), cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	var imported, skipped int
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !imageExts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			logger.Warn().Err(err).Str("path", p).Msg("skipping unreadable file")
			skipped++
			return nil
		}
		rel, err := layout.Rel(p)
		if err != nil {
			skipped++
			return nil
		}

		label := importLabel
		if label == "" {
			label = strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		}
		frame := models.Frame{
			// Stable per path so a re-import upserts.
			ID:                  uuid.NewSHA1(uuid.NameSpaceURL, []byte(importCamera+"/"+rel)).String(),
			CameraID:            importCamera,
			Label:               label,
			ImagePath:           rel,
			CaptureTimestampUTC: info.ModTime().UTC(),
		}
		if err := backend.SaveFrame(cmd.Context(), frame); err != nil {
			return fmt.Errorf("save frame %s: %w", rel, err)
		}
		imported++
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Imported %d frames for camera %s (%d skipped)\n", imported, importCamera, skipped)
	return nil
}
