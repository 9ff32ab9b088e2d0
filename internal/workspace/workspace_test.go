// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package workspace

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func assertGone(t *testing.T, dir string) {
	t.Helper()
	_, err := os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "workspace %s should be removed", dir)
}

func TestWith_RemovesOnSuccess(t *testing.T) {
	parent := t.TempDir()
	var seen string

	err := With(context.Background(), parent, quietLogger(), func(_ context.Context, dir string) error {
		seen = dir
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "bundle", "images"), 0o755))
		return os.WriteFile(filepath.Join(dir, "bundle", "full.md"), []byte("# x"), 0o644)
	})

	require.NoError(t, err)
	require.NotEmpty(t, seen)
	assert.Equal(t, parent, filepath.Dir(seen))
	assertGone(t, seen)
}

func TestWith_RemovesOnError(t *testing.T) {
	var seen string
	boom := errors.New("boom")

	err := With(context.Background(), t.TempDir(), quietLogger(), func(_ context.Context, dir string) error {
		seen = dir
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assertGone(t, seen)
}

func TestWith_RemovesOnPanic(t *testing.T) {
	var seen string

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = With(context.Background(), t.TempDir(), quietLogger(), func(_ context.Context, dir string) error {
			seen = dir
			panic("kaboom")
		})
	})
	assertGone(t, seen)
}

func TestWith_CancelledContext(t *testing.T) {
	parent := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := With(ctx, parent, quietLogger(), func(context.Context, string) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	entries, readErr := os.ReadDir(parent)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestWith_UniqueDirectories(t *testing.T) {
	parent := t.TempDir()
	var first, second string
	require.NoError(t, With(context.Background(), parent, quietLogger(), func(_ context.Context, dir string) error {
		first = dir
		return With(context.Background(), parent, quietLogger(), func(_ context.Context, inner string) error {
			second = inner
			return nil
		})
	}))
	assert.NotEqual(t, first, second)
}

func TestWith_DefaultParent(t *testing.T) {
	var seen string
	require.NoError(t, With(context.Background(), "", quietLogger(), func(_ context.Context, dir string) error {
		seen = dir
		return nil
	}))
	assert.Equal(t, filepath.Clean(os.TempDir()), filepath.Dir(seen))
	assertGone(t, seen)
}
