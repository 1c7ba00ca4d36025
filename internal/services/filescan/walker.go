// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filescan

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ErrDirectoryNotFound indicates the scan root itself does not exist.
// Callers are expected to degrade to an empty file list rather than abort.
var ErrDirectoryNotFound = errors.New("scan root does not exist")

// walkRoot returns the relative path of every regular file under root.
// Directory names in skipDirs are pruned at any depth. Symlinks are never
// followed. Unreadable subtrees are logged and skipped so one bad
// directory cannot abort the whole walk.
func walkRoot(root string, skipDirs []string) ([]string, error) {
	root = filepath.Clean(root)

	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		if err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("root", root).Msg("cannot stat scan root")
		}
		return nil, ErrDirectoryNotFound
	}

	skip := make(map[string]struct{}, len(skipDirs))
	for _, d := range skipDirs {
		skip[d] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Tolerate unreadable entries; a failed descent must not
			// abort the walk.
			log.Warn().Err(err).Str("path", path).Msg("skipping unreadable path")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, ok := skip[d.Name()]; ok {
				return fs.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("cannot relativize path")
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
