// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retrieve materializes a finished conversion: it downloads the
// result bundle into the job workspace, unpacks it, and locates the primary
// output document.
package retrieve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/docconvert/internal/failure"
	"github.com/pdiddy/docconvert/internal/httputil"
)

const (
	// BundleFile is the downloaded archive's name inside the workspace.
	BundleFile = "result.zip"
	// BundleDir is where the archive is unpacked inside the workspace.
	BundleDir = "bundle"

	// DefaultMaxUnpacked caps the total size of unpacked bundle entries.
	DefaultMaxUnpacked int64 = 2 << 30
)

// Retriever downloads and unpacks result bundles.
type Retriever struct {
	HTTP      *http.Client
	UserAgent string
	// OutputExt is the primary document extension, without the dot.
	OutputExt string
	// MaxUnpacked caps unpacked bytes; zero means DefaultMaxUnpacked.
	MaxUnpacked int64
	Log         logrus.FieldLogger
}

// Retrieve downloads bundleURL into workspaceDir, unpacks it, and returns the
// path of the primary document. Any failure is a missing-output error: the
// service reported success but delivered nothing usable.
func (r *Retriever) Retrieve(ctx context.Context, bundleURL, workspaceDir string) (string, error) {
	const op = "retrieving result bundle"

	zipPath := filepath.Join(workspaceDir, BundleFile)
	if err := r.download(ctx, bundleURL, zipPath); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("downloading bundle: %w", ctx.Err())
		}
		return "", failure.Wrap(failure.ErrMissingOutput, op, err)
	}

	dest := filepath.Join(workspaceDir, BundleDir)
	n, err := unzip(zipPath, dest, r.maxUnpacked())
	if err != nil {
		return "", failure.Wrap(failure.ErrMissingOutput, op, err)
	}

	ext := r.OutputExt
	if ext == "" {
		ext = "md"
	}
	primary, err := FindPrimary(dest, ext)
	if err != nil {
		return "", failure.Wrap(failure.ErrMissingOutput, op, err)
	}
	r.Log.WithFields(logrus.Fields{
		"files":   n,
		"primary": strings.TrimPrefix(primary, dest+string(filepath.Separator)),
	}).Debug("bundle unpacked")
	return primary, nil
}

func (r *Retriever) maxUnpacked() int64 {
	if r.MaxUnpacked > 0 {
		return r.MaxUnpacked
	}
	return DefaultMaxUnpacked
}

// download fetches url to destPath through a temporary file renamed on
// success. Throttled responses are retried; redirects are followed by the
// HTTP client.
func (r *Retriever) download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, r.HTTP, req, 0, r.Log)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Redacted())
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".bundle-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	written, copyErr := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	r.Log.WithField("bytes", written).Debug("bundle downloaded")
	return nil
}
