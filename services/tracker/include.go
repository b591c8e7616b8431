package tracker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
)

// uploadExtensions are collected when an include entry names a directory.
var uploadExtensions = []string{".js", ".mjs", ".cjs", ".map", ".jsbundle", ".bundle"}

// ExpandInclude resolves include entries against root. An entry may be a file, a directory
// (walked for JavaScript and source map files) or a doublestar glob. The result is sorted
// and free of duplicates.
func ExpandInclude(root string, include []string) ([]string, error) {
	if root == "" {
		root = "."
	}
	seen := map[string]bool{}
	var out []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}

	for _, entry := range include {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pattern := entry
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(root, pattern)
		}

		matches, err := doublestar.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", entry, err)
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("stat %q: %w", match, err)
			}
			if !info.IsDir() {
				add(match)
				continue
			}
			if err := walkUploadable(match, add); err != nil {
				return nil, err
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

func walkUploadable(dir string, add func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		lower := strings.ToLower(d.Name())
		for _, ext := range uploadExtensions {
			if strings.HasSuffix(lower, ext) {
				add(path)
				return nil
			}
		}
		return nil
	})
}
