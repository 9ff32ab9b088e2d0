// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/docconvert/internal/config"
	"github.com/pdiddy/docconvert/internal/failure"
	"github.com/pdiddy/docconvert/internal/testsupport"
	"github.com/pdiddy/docconvert/pkg/types"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type memRecorder struct {
	mu   sync.Mutex
	recs []types.JobRecord
	// onStage runs after a record is stored, outside the lock.
	onStage func(types.JobStage)
}

func (m *memRecorder) Record(_ context.Context, rec types.JobRecord) error {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	hook := m.onStage
	m.mu.Unlock()
	if hook != nil {
		hook(rec.Stage)
	}
	return nil
}

func (m *memRecorder) stages() []types.JobStage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.JobStage, len(m.recs))
	for i, r := range m.recs {
		out[i] = r.Stage
	}
	return out
}

func (m *memRecorder) last() types.JobRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[len(m.recs)-1]
}

type fixture struct {
	fake    *testsupport.MinerU
	cfg     types.ConversionConfig
	srcDir  string
	workDir string
	rec     *memRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		fake:    testsupport.NewMinerU(t),
		srcDir:  filepath.Join(root, "docs"),
		workDir: filepath.Join(root, "work"),
		rec:     &memRecorder{},
	}
	require.NoError(t, os.MkdirAll(f.srcDir, 0o755))
	f.cfg = types.ConversionConfig{
		API: types.APIConfig{
			HTTPConfig: types.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "docconvert-test"},
			BaseURL:    f.fake.BaseURL(),
			Token:      "tok-123",
		},
		Poll:       types.PollConfig{MaxAttempts: 5, Interval: time.Millisecond},
		Limits:     types.SourceLimits{AllowedExts: config.DefaultAllowedExts},
		Language:   "en",
		ArchiveDir: filepath.Join(root, "archive"),
		WorkDir:    f.workDir,
		OutputExt:  "md",
	}
	return f
}

func (f *fixture) pipeline() *Pipeline {
	log := logrus.New()
	log.SetOutput(io.Discard)
	p := New(f.cfg, f.fake.Client(), f.rec, log)
	p.now = func() time.Time { return fixedNow }
	p.archive.Now = p.now
	return p
}

func (f *fixture) source(t *testing.T) string {
	return testsupport.WriteSource(t, f.srcDir, "report.pdf", string(testsupport.PDF(2)))
}

func assertWorkspaceGone(t *testing.T, workDir string) {
	t.Helper()
	entries, err := os.ReadDir(workDir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace left behind")
}

func TestConvertFile_Success(t *testing.T) {
	f := newFixture(t)
	f.fake.UploadHeaders = [][2]string{{"X-Sig", "abc"}}
	f.fake.Polls = []string{
		testsupport.PollPending(),
		testsupport.PollPending(),
		testsupport.PollDone(f.fake.BundleURL()),
	}
	f.fake.Bundle = testsupport.Zip(t, map[string]string{
		"report.md":          "# Report\n",
		"images/fig1.png":    "png",
		"report_layout.json": "{}",
	})
	src := f.source(t)

	res, err := f.pipeline().ConvertFile(context.Background(), src)
	require.NoError(t, err)

	out := filepath.Join(f.srcDir, "report.md")
	assert.Equal(t, out, res.OutputPath)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "# Report\n", string(data))

	assert.Equal(t, "b1", res.BatchID)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, strings.HasPrefix(res.DataID, "convert_"))
	assert.Regexp(t, `20260314_092653_report$`, res.ArchiveDir)
	assert.Contains(t, res.Message, out)
	assert.Contains(t, res.Message, res.ArchiveDir)

	for _, name := range []string{SubmitResponseFile, PollLastFile, ManifestFile, "input.pdf"} {
		assert.FileExists(t, filepath.Join(res.ArchiveDir, name))
	}
	manifest, err := os.ReadFile(filepath.Join(res.ArchiveDir, ManifestFile))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "batch_id: b1")

	f.fake.Inspect(func(m *testsupport.MinerU) {
		require.Len(t, m.Uploads, 1)
		assert.Equal(t, testsupport.PDF(2), m.Uploads[0])
		assert.Equal(t, []string{"abc"}, m.UploadOrder)
		require.Len(t, m.Submissions, 1)
		assert.Equal(t, "en", m.Submissions[0]["language"])
	})

	assertWorkspaceGone(t, f.workDir)
	assert.Equal(t, []types.JobStage{
		types.StageCreated, types.StageAwaitingUploadTarget, types.StageUploading,
		types.StageUploaded, types.StagePolling, types.StageDone,
		types.StageRetrieving, types.StageArchived,
	}, f.rec.stages())
	assert.Equal(t, out, f.rec.last().OutputPath)
}

func TestConvertFile_Frontmatter(t *testing.T) {
	f := newFixture(t)
	f.cfg.Frontmatter = true
	f.fake.Bundle = testsupport.Zip(t, map[string]string{"full.md": "body\n"})

	res, err := f.pipeline().ConvertFile(context.Background(), f.source(t))
	require.NoError(t, err)

	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	s := string(data)
	assert.True(t, strings.HasPrefix(s, "---\nsource_file: \"report.pdf\"\n"))
	assert.Contains(t, s, `batch_id: "b1"`)
	assert.Contains(t, s, `converted_at: "2026-03-14T09:26:53Z"`)
	assert.True(t, strings.HasSuffix(s, "---\n\nbody\n"))
}

func TestConvertFile_RemoteFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.Polls = []string{testsupport.PollRunning(1, 4), testsupport.PollFailed("parse error")}

	_, err := f.pipeline().ConvertFile(context.Background(), f.source(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrRemoteProcessing)
	assert.ErrorContains(t, err, "parse error")

	assert.NoFileExists(t, filepath.Join(f.srcDir, "report.md"))
	assertWorkspaceGone(t, f.workDir)
	_, statErr := os.Stat(f.cfg.ArchiveDir)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "nothing archived")

	last := f.rec.last()
	assert.Equal(t, types.StageFailed, last.Stage)
	assert.Equal(t, "remote_processing", last.ErrorKind)
}

func TestConvertFile_PublishFailureLeavesNoArchive(t *testing.T) {
	f := newFixture(t)
	f.fake.Bundle = testsupport.Zip(t, map[string]string{"full.md": "body\n"})
	src := f.source(t)
	f.rec.onStage = func(s types.JobStage) {
		if s == types.StageRetrieving {
			os.RemoveAll(f.srcDir)
		}
	}

	_, err := f.pipeline().ConvertFile(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrArchive)
	assert.Equal(t, "archive", failure.KindOf(err))

	entries, err := os.ReadDir(f.cfg.ArchiveDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "archive entry left after failed job")

	last := f.rec.last()
	assert.Equal(t, types.StageFailed, last.Stage)
	assert.Empty(t, last.ArchiveDir)
	assertWorkspaceGone(t, f.workDir)
}

func TestManifestPath(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "ws")
	assert.Equal(t, "bundle/full.md", manifestPath(ws, filepath.Join(ws, "bundle", "full.md")))
	// A relative workspace against an absolute target has no relative form.
	abs := filepath.Join(ws, "full.md")
	assert.Equal(t, filepath.ToSlash(abs), manifestPath("ws", abs))
}

func TestConvertFile_ProtocolErrorSkipsUpload(t *testing.T) {
	f := newFixture(t)
	f.fake.SubmitBody = `{"code":0,"data":{"batch_id":"b1","file_urls":[]}}`

	_, err := f.pipeline().ConvertFile(context.Background(), f.source(t))
	assert.ErrorIs(t, err, failure.ErrProtocol)

	f.fake.Inspect(func(m *testsupport.MinerU) {
		assert.Empty(t, m.Uploads)
		assert.Zero(t, m.PollCount)
	})
	assert.Equal(t, types.StageFailed, f.rec.last().Stage)
	assertWorkspaceGone(t, f.workDir)
}

func TestConvertFile_Unauthorized(t *testing.T) {
	f := newFixture(t)
	f.fake.SubmitStatus = 401
	f.fake.SubmitBody = `{"msg":"unauthorized"}`

	_, err := f.pipeline().ConvertFile(context.Background(), f.source(t))
	assert.ErrorIs(t, err, failure.ErrAuthentication)
	assert.NotEmpty(t, failure.Hint(err))
}

func TestConvertFile_PollTimeout(t *testing.T) {
	f := newFixture(t)
	f.cfg.Poll.MaxAttempts = 3
	f.fake.Polls = []string{testsupport.PollPending()}

	_, err := f.pipeline().ConvertFile(context.Background(), f.source(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrPollTimeout)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)

	polls, downloads := f.fake.Counts()
	assert.Equal(t, 3, polls)
	assert.Zero(t, downloads)

	last := f.rec.last()
	assert.Equal(t, types.StageTimedOut, last.Stage)
	assert.Equal(t, 3, last.Attempts)
	assertWorkspaceGone(t, f.workDir)
}

func TestConvertFile_MissingPrimary(t *testing.T) {
	f := newFixture(t)
	f.fake.Bundle = testsupport.Zip(t, map[string]string{"images/fig1.png": "png"})

	_, err := f.pipeline().ConvertFile(context.Background(), f.source(t))
	assert.ErrorIs(t, err, failure.ErrMissingOutput)
	assert.NoFileExists(t, filepath.Join(f.srcDir, "report.md"))
	assertWorkspaceGone(t, f.workDir)
}

func TestConvertFile_ConfigurationBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	f.cfg.API.Token = "your_token_here"

	_, err := f.pipeline().ConvertFile(context.Background(), f.source(t))
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	f.fake.Inspect(func(m *testsupport.MinerU) {
		assert.Empty(t, m.Submissions)
	})
	assert.Empty(t, f.rec.stages())
}

func TestConvertFile_ValidationBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	src := testsupport.WriteSource(t, f.srcDir, "notes.txt", "plain text")

	_, err := f.pipeline().ConvertFile(context.Background(), src)
	assert.ErrorIs(t, err, failure.ErrValidation)
	f.fake.Inspect(func(m *testsupport.MinerU) {
		assert.Empty(t, m.Submissions)
	})
}

func TestConvertFile_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Poll.Interval = time.Hour
	f.fake.Polls = []string{testsupport.PollPending()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			var uploaded bool
			f.fake.Inspect(func(m *testsupport.MinerU) { uploaded = len(m.Uploads) > 0 })
			if uploaded {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	_, err := f.pipeline().ConvertFile(ctx, f.source(t))
	assert.ErrorIs(t, err, context.Canceled)
	assertWorkspaceGone(t, f.workDir)
	assert.Equal(t, types.StageFailed, f.rec.last().Stage)
}

func TestConvertBatch(t *testing.T) {
	f := newFixture(t)
	f.fake.Bundle = testsupport.Zip(t, map[string]string{"full.md": "ok\n"})
	good := f.source(t)
	bad := testsupport.WriteSource(t, f.srcDir, "notes.txt", "plain")

	var out bytes.Buffer
	res := f.pipeline().ConvertBatch(context.Background(), []string{good, bad}, &out)

	assert.Equal(t, 1, res.Converted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Total())
	assert.True(t, res.HasFailures())
	require.Len(t, res.Results, 1)

	s := out.String()
	assert.Contains(t, s, "converted: report.pdf -> ")
	assert.Contains(t, s, "failed:  notes.txt [validation]")
	assert.Contains(t, s, "Batch summary: 1 converted, 0 skipped, 1 failed (total: 2)")
}

func TestConvertBatch_CancelledSkipsRest(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	res := f.pipeline().ConvertBatch(ctx, []string{f.source(t), "b.pdf"}, &out)
	assert.Equal(t, 2, res.Skipped)
	assert.Contains(t, out.String(), "skipped: b.pdf (cancelled)")
}

func TestBatchResult(t *testing.T) {
	r := BatchResult{Converted: 2, Skipped: 1}
	assert.Equal(t, 3, r.Total())
	assert.False(t, r.HasFailures())
}
