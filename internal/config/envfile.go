// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"

	"github.com/pdiddy/docconvert/internal/failure"
)

// lockRetry is how often a busy .env lock is retried.
const lockRetry = 100 * time.Millisecond

// SetEnv rewrites the .env file at path with the given keys set, keeping
// every other key. The rewrite holds an exclusive lock on path+".lock" and
// replaces the file atomically. Comments in the file are not preserved.
func SetEnv(ctx context.Context, path string, values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("locking %s: lock not acquired", path)
	}
	defer lock.Unlock()

	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		if env, err = godotenv.Read(path); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	}
	for k, v := range values {
		env[k] = v
	}

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".env-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.WriteString(content + "\n")
	if writeErr == nil {
		writeErr = tmp.Chmod(0o600)
	}
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", path, writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// WriteToken stores the API token, and the user token when non-empty, in
// the .env file at path. Placeholder tokens are refused.
func WriteToken(ctx context.Context, path, token, userToken string) error {
	if Placeholder(token) {
		return failure.New(failure.ErrConfiguration, "saving token", "refusing to save an empty or placeholder token")
	}
	values := map[string]string{EnvAPIToken: token}
	if userToken != "" {
		values[EnvUserToken] = userToken
	}
	return SetEnv(ctx, path, values)
}

// Example is the template written by the build's init target.
const Example = `# MinerU API settings. Request a token at ` + failure.TokenURL + ` (valid 14 days).
MINERU_API_BASE=https://mineru.net/api/v4
MINERU_API_TOKEN=your_token_here
MINERU_USER_TOKEN=
MINERU_ENABLE_OCR=false
MINERU_ENABLE_TABLE=true
MINERU_ENABLE_FORMULA=true
MINERU_LANGUAGE_CODE=ch
MINERU_ALLOWED_EXTS=pdf,doc,docx,ppt,pptx,png,jpg,jpeg
MINERU_POLL_MAX=60
MINERU_POLL_SLEEP=10
# low, medium or high
MINERU_LOG_LEVEL=low
`
