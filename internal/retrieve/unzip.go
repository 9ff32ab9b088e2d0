// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieve

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var errTooLarge = errors.New("bundle exceeds unpack limit")

// unzip extracts the archive at src into dest and returns the number of
// files written. Entries that would land outside dest are rejected, as is an
// archive whose entries together exceed limit bytes.
func unzip(src, dest string, limit int64) (int, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("opening bundle: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}

	var total int64
	files := 0
	for _, f := range zr.File {
		target, err := entryPath(dest, f.Name)
		if err != nil {
			return files, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("creating %s: %w", target, err)
			}
			continue
		}
		n, err := extractFile(f, target, limit-total)
		if err != nil {
			return files, err
		}
		total += n
		files++
	}
	return files, nil
}

// entryPath resolves an archive entry name under dest.
func entryPath(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("bundle entry %q escapes the extraction directory", name)
	}
	return filepath.Join(dest, clean), nil
}

func extractFile(f *zip.File, target string, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("opening entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", target, err)
	}
	// Read one byte past the budget to detect overflow.
	n, copyErr := io.Copy(out, io.LimitReader(rc, remaining+1))
	closeErr := out.Close()
	if copyErr != nil {
		return n, fmt.Errorf("extracting %s: %w", f.Name, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("closing %s: %w", target, closeErr)
	}
	if n > remaining {
		return n, errTooLarge
	}
	return n, nil
}

// FindPrimary returns the primary document under root: the file with
// extension ext (case-insensitive, no dot) at the shallowest depth, ties
// broken by lexical order of the slash-separated relative path.
func FindPrimary(root, ext string) (string, error) {
	want := "." + strings.ToLower(strings.TrimPrefix(ext, "."))

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.ToLower(filepath.Ext(path)) == want {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			matches = append(matches, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scanning bundle: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s file in bundle", want)
	}

	sort.Slice(matches, func(i, j int) bool {
		di, dj := strings.Count(matches[i], "/"), strings.Count(matches[j], "/")
		if di != dj {
			return di < dj
		}
		return matches[i] < matches[j]
	})
	return filepath.Join(root, filepath.FromSlash(matches[0])), nil
}
