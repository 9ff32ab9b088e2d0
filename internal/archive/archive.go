// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package archive persists finished job workspaces under a durable archive
// root and publishes the primary output next to the source document.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/docconvert/pkg/types"
)

// stampLayout names archive directories to the second.
const stampLayout = "20060102_150405"

// maxCollisions bounds the _2, _3, ... suffix search for a taken name.
const maxCollisions = 100

// Manager writes archive entries under Root. Entries are created once and
// never modified or removed afterwards.
type Manager struct {
	Root string
	// OutputExt is the published file's extension, without the dot.
	OutputExt string
	// Now supplies the archive timestamp; nil means time.Now.
	Now func() time.Time
}

// BaseName strips the extension from a file's base name.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DirName is the archive directory name for a source base name at t:
// YYYYMMDD_HHMMSS_<base> in UTC.
func DirName(t time.Time, originalBase string) string {
	return t.UTC().Format(stampLayout) + "_" + BaseName(originalBase)
}

// Archive copies the whole workspace into a new timestamped directory under
// the archive root. An existing directory is never reused: a name taken in
// the same second gets a numeric suffix. A failed copy removes the directory
// it claimed.
func (m *Manager) Archive(workspaceDir, originalBase string) (types.ArchiveRecord, error) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	created := now().UTC()

	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return types.ArchiveRecord{}, fmt.Errorf("creating archive root: %w", err)
	}
	dir, err := m.claim(DirName(created, originalBase))
	if err != nil {
		return types.ArchiveRecord{}, err
	}
	if err := copyTree(workspaceDir, dir); err != nil {
		os.RemoveAll(dir)
		return types.ArchiveRecord{}, fmt.Errorf("archiving %s: %w", filepath.Base(dir), err)
	}
	return types.ArchiveRecord{Dir: dir, SourceBase: originalBase, CreatedAt: created}, nil
}

// claim creates the first free directory among name, name_2, name_3, ...
func (m *Manager) claim(name string) (string, error) {
	for i := 1; i <= maxCollisions; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d", name, i)
		}
		dir := filepath.Join(m.Root, candidate)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("creating archive directory: %w", err)
		}
	}
	return "", fmt.Errorf("creating archive directory: %s taken %d times", name, maxCollisions)
}

// Discard removes an entry created by Archive for a job that did not
// complete. Only directories under Root are removed.
func (m *Manager) Discard(rec types.ArchiveRecord) error {
	rel, err := filepath.Rel(m.Root, rec.Dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to discard %s: not under archive root %s", rec.Dir, m.Root)
	}
	return os.RemoveAll(rec.Dir)
}

// Publish writes the primary document next to the source as
// <originalDir>/<base>.<OutputExt>, prefixed with header when non-empty. The
// file appears atomically; an existing file of that name is replaced.
func (m *Manager) Publish(primaryPath, originalDir, originalBase, header string) (string, error) {
	ext := strings.TrimPrefix(m.OutputExt, ".")
	if ext == "" {
		ext = "md"
	}
	dest := filepath.Join(originalDir, BaseName(originalBase)+"."+ext)

	src, err := os.Open(primaryPath)
	if err != nil {
		return "", fmt.Errorf("opening primary output: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(originalDir, ".docconvert-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	var writeErr error
	if header != "" {
		_, writeErr = io.WriteString(tmp, header)
	}
	if writeErr == nil {
		_, writeErr = io.Copy(tmp, src)
	}
	if writeErr == nil {
		writeErr = tmp.Chmod(0o644)
	}
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing %s: %w", filepath.Base(dest), writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming temp file: %w", err)
	}
	return dest, nil
}

// copyTree copies the regular files and directories under src into dst,
// which must exist. File modes are preserved; other entry types are skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.Mkdir(target, info.Mode().Perm()|0o700)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
