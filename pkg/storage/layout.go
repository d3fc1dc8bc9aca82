// Package storage holds the path rules shared by the encoder, the artifact
// server and the maintenance sweeper.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultOutputSubfolder is where per-job output directories are created.
const DefaultOutputSubfolder = "timelapses"

var ErrPathEscapesRoot = errors.New("path escapes storage root")

// Layout resolves artifact locations under a single static root.
type Layout struct {
	Root            string
	OutputSubfolder string
}

// NewLayout resolves staticRoot (falling back to the executable's directory
// when empty) and normalizes the output subfolder.
func NewLayout(staticRoot, outputSubfolder string) (Layout, error) {
	root, err := ResolveRoot(staticRoot)
	if err != nil {
		return Layout{}, err
	}
	sub := NormalizeRelative(outputSubfolder)
	if sub == "" {
		sub = DefaultOutputSubfolder
	}
	if sub == ".." || strings.HasPrefix(sub, "../") {
		return Layout{}, fmt.Errorf("output subfolder %q: %w", outputSubfolder, ErrPathEscapesRoot)
	}
	return Layout{Root: root, OutputSubfolder: sub}, nil
}

// ResolveRoot returns staticRoot as an absolute path, or the directory of the
// running executable when staticRoot is empty.
func ResolveRoot(staticRoot string) (string, error) {
	if strings.TrimSpace(staticRoot) != "" {
		return filepath.Abs(staticRoot)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable directory: %w", err)
	}
	return filepath.Dir(exe), nil
}

// NormalizeRelative converts either separator style to forward slashes and
// strips leading separators, so stored paths are portable.
func NormalizeRelative(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// Abs maps a stored relative path to an absolute path under the root.
func (l Layout) Abs(rel string) (string, error) {
	clean := NormalizeRelative(rel)
	if clean == "" {
		return "", fmt.Errorf("empty artifact path")
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%s: %w", rel, ErrPathEscapesRoot)
	}
	return filepath.Join(l.Root, filepath.FromSlash(clean)), nil
}

// Rel maps an absolute path under the root back to its stored form.
func (l Layout) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(l.Root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s: %w", abs, ErrPathEscapesRoot)
	}
	return rel, nil
}

// OutputRoot is the absolute directory holding every job's output directory.
func (l Layout) OutputRoot() string {
	return filepath.Join(l.Root, filepath.FromSlash(l.OutputSubfolder))
}

// JobDir is the output directory for a single encode.
func (l Layout) JobDir(name string) string {
	return filepath.Join(l.OutputRoot(), name)
}
