// Package audit discovers cases on disk and runs the per-case checks across a
// bounded worker pool.
package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions lists the file suffixes treated as volumes
var DefaultExtensions = []string{".nii.gz"}

// Case is one image volume to audit
type Case struct {
	ID        string
	ImagePath string
}

// Stem returns the part of a file name before its first '.', which is how
// case ids and mask names are derived.
func Stem(name string) string {
	stem, _, _ := strings.Cut(filepath.Base(name), ".")
	return stem
}

// HasVolumeExtension reports whether name ends in one of exts, ignoring case
func HasVolumeExtension(name string, exts []string) bool {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// ListVolumes returns the sorted names of the volume files directly in dir
func ListVolumes(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !HasVolumeExtension(entry.Name(), exts) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// DiscoverCases lists one case per image volume in imageDir, sorted by id.
// When two files share a stem the first in name order wins.
func DiscoverCases(imageDir string, exts []string) ([]Case, error) {
	names, err := ListVolumes(imageDir, exts)
	if err != nil {
		return nil, &FatalInputError{Input: "image directory", Path: imageDir, Err: err}
	}

	seen := make(map[string]bool, len(names))
	cases := make([]Case, 0, len(names))
	for _, name := range names {
		id := Stem(name)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		cases = append(cases, Case{ID: id, ImagePath: filepath.Join(imageDir, name)})
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].ID < cases[j].ID })
	return cases, nil
}

// DiscoverMaskNames derives the mask universe for a run from the first case
// directory (in name order) under maskRoot. The result is sorted and unique.
func DiscoverMaskNames(maskRoot string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(maskRoot)
	if err != nil {
		return nil, &FatalInputError{Input: "mask root", Path: maskRoot, Err: err}
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	if len(dirs) == 0 {
		return nil, nil
	}
	sort.Strings(dirs)

	files, err := ListVolumes(filepath.Join(maskRoot, dirs[0]), exts)
	if err != nil {
		return nil, fmt.Errorf("list masks of %s: %w", dirs[0], err)
	}
	return NormalizeMaskNames(fileStems(files)), nil
}

// NormalizeMaskNames trims, deduplicates and sorts a mask name list
func NormalizeMaskNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CheckDir returns a FatalInputError unless path is an existing directory
func CheckDir(input, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &FatalInputError{Input: input, Path: path, Err: err}
	}
	if !info.IsDir() {
		return &FatalInputError{Input: input, Path: path, Err: errors.New("not a directory")}
	}
	return nil
}

func fileStems(names []string) []string {
	stems := make([]string, len(names))
	for i, name := range names {
		stems[i] = Stem(name)
	}
	return stems
}
