// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package preflight checks a source document against local limits before
// any network call is made.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sirupsen/logrus"

	"github.com/pdiddy/docconvert/internal/failure"
	"github.com/pdiddy/docconvert/pkg/types"
)

// Source describes a document that passed preflight.
type Source struct {
	Path string
	Dir  string
	Base string
	// Ext is lowercase, without the dot.
	Ext  string
	Size int64
	// Pages is set for PDFs whose page count could be read.
	Pages int
}

// Check validates the document at path. Every rejection is a validation
// error naming the problem.
func Check(path string, limits types.SourceLimits, log logrus.FieldLogger) (Source, error) {
	const op = "checking source"
	if strings.TrimSpace(path) == "" {
		return Source{}, failure.New(failure.ErrValidation, op, "no file path given")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, failure.Wrap(failure.ErrValidation, op, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Source{}, failure.New(failure.ErrValidation, op, "file does not exist: %s", abs)
		}
		return Source{}, failure.Wrap(failure.ErrValidation, op, err)
	}
	if !info.Mode().IsRegular() {
		return Source{}, failure.New(failure.ErrValidation, op, "not a regular file: %s", abs)
	}

	src := Source{
		Path: abs,
		Dir:  filepath.Dir(abs),
		Base: filepath.Base(abs),
		Ext:  strings.ToLower(strings.TrimPrefix(filepath.Ext(abs), ".")),
		Size: info.Size(),
	}
	if !Allowed(src.Ext, limits.AllowedExts) {
		return Source{}, failure.New(failure.ErrValidation, op,
			"unsupported file type %q (allowed: %s)", src.Ext, strings.Join(limits.AllowedExts, ", "))
	}
	if src.Size == 0 {
		return Source{}, failure.New(failure.ErrValidation, op, "file is empty: %s", src.Base)
	}
	if limits.MaxFileBytes > 0 && src.Size > limits.MaxFileBytes {
		return Source{}, failure.New(failure.ErrValidation, op,
			"%s is %s, over the %s limit", src.Base, humanBytes(src.Size), humanBytes(limits.MaxFileBytes))
	}

	if src.Ext == "pdf" {
		pages, err := api.PageCountFile(abs)
		if err != nil {
			log.WithError(err).WithField("file", src.Base).Warn("cannot read PDF page count, submitting anyway")
			return src, nil
		}
		src.Pages = pages
		if limits.MaxPages > 0 && pages > limits.MaxPages {
			return Source{}, failure.New(failure.ErrValidation, op,
				"%s has %d pages, over the %d page limit", src.Base, pages, limits.MaxPages)
		}
	}
	return src, nil
}

// Allowed reports whether ext (any case, with or without the dot) is in the
// allow-list. An empty allow-list accepts nothing.
func Allowed(ext string, allowed []string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return false
	}
	return slices.ContainsFunc(allowed, func(a string) bool {
		return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), ".")) == ext
	})
}

func humanBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
