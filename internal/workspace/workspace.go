// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package workspace scopes the scratch directory of a single conversion job.
// It is the only place intermediate files are cleaned up.
package workspace

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

const dirPattern = "docconvert-*"

// Func is the job body run inside a workspace.
type Func func(ctx context.Context, dir string) error

// With creates a uniquely named directory under parent (the OS temp dir when
// parent is empty), runs fn with its path, and removes the directory on every
// exit path: normal return, error, cancellation, or panic. A panic is
// re-raised once the directory is gone. A removal failure is logged, and
// returned only when fn itself succeeded.
func With(ctx context.Context, parent string, log logrus.FieldLogger, fn Func) (err error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("creating workspace parent %s: %w", parent, err)
		}
	}
	dir, err := os.MkdirTemp(parent, dirPattern)
	if err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	log = log.WithField("workspace", dir)
	log.Debug("workspace created")

	defer func() {
		rmErr := os.RemoveAll(dir)
		if rmErr != nil {
			log.WithError(rmErr).Warn("workspace cleanup failed")
			if err == nil {
				err = fmt.Errorf("removing workspace %s: %w", dir, rmErr)
			}
		} else {
			log.Debug("workspace removed")
		}
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fn(ctx, dir)
}
