// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert runs remote conversion jobs end to end: preflight, submit,
// upload, poll, retrieve, archive, publish. Each job runs in its own scratch
// workspace, which is removed however the job ends.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/docconvert/internal/archive"
	"github.com/pdiddy/docconvert/internal/config"
	"github.com/pdiddy/docconvert/internal/failure"
	"github.com/pdiddy/docconvert/internal/poller"
	"github.com/pdiddy/docconvert/internal/preflight"
	"github.com/pdiddy/docconvert/internal/remote"
	"github.com/pdiddy/docconvert/internal/retrieve"
	"github.com/pdiddy/docconvert/internal/workspace"
	"github.com/pdiddy/docconvert/pkg/types"
)

// Files written into every job workspace, and therefore into its archive.
const (
	SubmitResponseFile = "submit_response.json"
	PollLastFile       = "poll_last.json"
	ManifestFile       = "job.yaml"
	inputPrefix        = "input"
)

// Recorder receives a job's state at every stage transition. The job
// ledger implements it.
type Recorder interface {
	Record(ctx context.Context, rec types.JobRecord) error
}

// Pipeline converts documents with one configuration.
type Pipeline struct {
	cfg       types.ConversionConfig
	client    *remote.Client
	retriever *retrieve.Retriever
	archive   *archive.Manager
	recorder  Recorder
	log       logrus.FieldLogger
	now       func() time.Time
}

// New builds a pipeline. A nil hc gets a client with the configured
// timeout; a nil rec disables job recording.
func New(cfg types.ConversionConfig, hc *http.Client, rec Recorder, log logrus.FieldLogger) *Pipeline {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.API.Timeout}
	}
	return &Pipeline{
		cfg:    cfg,
		client: remote.NewClient(cfg.API, hc, log),
		retriever: &retrieve.Retriever{
			HTTP:      hc,
			UserAgent: cfg.API.UserAgent,
			OutputExt: cfg.OutputExt,
			Log:       log,
		},
		archive:  &archive.Manager{Root: cfg.ArchiveDir, OutputExt: cfg.OutputExt},
		recorder: rec,
		log:      log,
		now:      time.Now,
	}
}

// manifest is written to the workspace as job.yaml before archiving.
type manifest struct {
	Job       types.ConversionJob `yaml:"job"`
	Source    preflight.Source    `yaml:"source"`
	BundleURL string              `yaml:"bundle_url"`
	Primary   string              `yaml:"primary"`
	Poll      types.PollConfig    `yaml:"poll"`
}

// ConvertFile converts the document at path. On success the converted
// document sits next to the source and the whole workspace is archived; on
// failure nothing is published and the returned error carries a failure
// kind.
func (p *Pipeline) ConvertFile(ctx context.Context, path string) (types.Result, error) {
	if err := config.Validate(p.cfg); err != nil {
		return types.Result{}, err
	}
	src, err := preflight.Check(path, p.cfg.Limits, p.log)
	if err != nil {
		return types.Result{}, err
	}

	now := p.now()
	job := types.NewConversionJob(src.Path, remote.NewDataID(now), p.cfg.Features, p.cfg.Language, now)
	t := &tracker{job: job, rec: p.recorder, log: p.log.WithField("data_id", job.DataID), now: p.now}
	t.record(ctx)
	t.log.WithFields(logrus.Fields{"file": src.Base, "bytes": src.Size}).Info("starting conversion")

	var result types.Result
	err = workspace.With(ctx, p.cfg.WorkDir, t.log, func(ctx context.Context, ws string) error {
		r, err := p.run(ctx, t, src, ws)
		result = r
		return err
	})
	if err != nil {
		t.fail(ctx, err)
		return types.Result{}, fmt.Errorf("converting %s: %w", src.Base, err)
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, t *tracker, src preflight.Source, ws string) (types.Result, error) {
	job := t.job

	input := filepath.Join(ws, inputPrefix+filepath.Ext(src.Base))
	if err := copyFile(src.Path, input); err != nil {
		return types.Result{}, fmt.Errorf("staging source: %w", err)
	}

	if err := t.advance(ctx, types.StageAwaitingUploadTarget); err != nil {
		return types.Result{}, err
	}
	sub, err := p.client.RequestUploadTarget(ctx, remote.SubmitRequest{
		FileName: src.Base,
		DataID:   job.DataID,
		Features: job.Features,
		Language: job.Language,
	})
	if len(sub.Raw) > 0 {
		p.keep(ws, SubmitResponseFile, sub.Raw)
	}
	if err != nil {
		return types.Result{}, err
	}
	job.BatchID = sub.BatchID
	t.log = t.log.WithField("batch_id", job.BatchID)

	if err := t.advance(ctx, types.StageUploading); err != nil {
		return types.Result{}, err
	}
	if err := p.client.UploadBytes(ctx, sub.Target, input); err != nil {
		return types.Result{}, err
	}
	if err := t.advance(ctx, types.StageUploaded); err != nil {
		return types.Result{}, err
	}

	if err := t.advance(ctx, types.StagePolling); err != nil {
		return types.Result{}, err
	}
	pl := poller.New(p.client, p.cfg.Poll, t.log)
	pl.OnSnapshot = func(attempt int, snap types.PollSnapshot) {
		job.Attempts = attempt
		if len(snap.Raw) > 0 {
			p.keep(ws, PollLastFile, snap.Raw)
		}
	}
	out, err := pl.Wait(ctx, job.BatchID)
	job.Attempts = out.Attempts
	if err != nil {
		return types.Result{}, err
	}

	if err := t.advance(ctx, types.StageDone); err != nil {
		return types.Result{}, err
	}
	if err := t.advance(ctx, types.StageRetrieving); err != nil {
		return types.Result{}, err
	}
	primary, err := p.retriever.Retrieve(ctx, out.BundleURL, ws)
	if err != nil {
		return types.Result{}, err
	}

	p.writeManifest(ws, manifest{
		Job:       *job,
		Source:    src,
		BundleURL: out.BundleURL,
		Primary:   manifestPath(ws, primary),
		Poll:      p.cfg.Poll,
	})

	rec, err := p.archive.Archive(ws, src.Base)
	if err != nil {
		return types.Result{}, failure.Wrap(failure.ErrArchive, "archiving workspace", err)
	}
	var header string
	if p.cfg.Frontmatter {
		header = frontmatter(job, src.Base, p.now())
	}
	published, err := p.archive.Publish(primary, src.Dir, src.Base, header)
	if err != nil {
		// A job that publishes nothing keeps nothing in the archive.
		if rmErr := p.archive.Discard(rec); rmErr != nil {
			t.log.WithError(rmErr).WithField("archive", rec.Dir).Warn("could not remove archive entry of failed job")
		}
		return types.Result{}, failure.Wrap(failure.ErrArchive, "publishing output", err)
	}

	t.output, t.archiveDir = published, rec.Dir
	if err := t.advance(ctx, types.StageArchived); err != nil {
		return types.Result{}, err
	}
	t.log.WithFields(logrus.Fields{"output": published, "archive": rec.Dir}).Info("conversion complete")

	return types.Result{
		OutputPath: published,
		ArchiveDir: rec.Dir,
		Message:    fmt.Sprintf("converted %s -> %s (archived in %s)", src.Base, published, rec.Dir),
		BatchID:    job.BatchID,
		DataID:     job.DataID,
		Attempts:   job.Attempts,
	}, nil
}

// keep writes a diagnostic file into the workspace. Failures only warn: the
// file is an aid for later audits, not part of the result.
func (p *Pipeline) keep(ws, name string, data []byte) {
	if err := os.WriteFile(filepath.Join(ws, name), data, 0o644); err != nil {
		p.log.WithError(err).WithField("file", name).Warn("could not keep diagnostic file")
	}
}

// manifestPath is target relative to ws in slash form, or target itself when
// no relative path exists.
func manifestPath(ws, target string) string {
	rel, err := filepath.Rel(ws, target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	return filepath.ToSlash(rel)
}

func (p *Pipeline) writeManifest(ws string, m manifest) {
	data, err := yaml.Marshal(m)
	if err != nil {
		p.log.WithError(err).Warn("could not encode job manifest")
		return
	}
	p.keep(ws, ManifestFile, data)
}

// tracker moves a job through its stages and reports each transition.
type tracker struct {
	job        *types.ConversionJob
	rec        Recorder
	log        logrus.FieldLogger
	now        func() time.Time
	output     string
	archiveDir string
}

func (t *tracker) advance(ctx context.Context, next types.JobStage) error {
	if err := t.job.Advance(next); err != nil {
		return err
	}
	t.log.WithField("stage", next).Debug("stage")
	t.record(ctx)
	return nil
}

// fail moves the job to its terminal error stage and records the cause.
func (t *tracker) fail(ctx context.Context, cause error) {
	stage := types.StageFailed
	if errors.Is(cause, failure.ErrPollTimeout) {
		stage = types.StageTimedOut
	}
	if t.job.Stage.CanAdvance(stage) {
		t.job.Stage = stage
	}
	t.log.WithError(cause).WithFields(logrus.Fields{
		"stage": t.job.Stage,
		"kind":  failure.KindOf(cause),
	}).Warn("conversion failed")
	t.recordWith(ctx, failure.KindOf(cause), cause.Error())
}

func (t *tracker) record(ctx context.Context) {
	t.recordWith(ctx, "", "")
}

// recordWith reports the job to the recorder. Ledger trouble never fails a
// job, and a cancelled job is still recorded.
func (t *tracker) recordWith(ctx context.Context, kind, msg string) {
	if t.rec == nil {
		return
	}
	err := t.rec.Record(context.WithoutCancel(ctx), types.JobRecord{
		DataID:     t.job.DataID,
		SourcePath: t.job.SourcePath,
		BatchID:    t.job.BatchID,
		Stage:      t.job.Stage,
		ErrorKind:  kind,
		Error:      msg,
		OutputPath: t.output,
		ArchiveDir: t.archiveDir,
		Attempts:   t.job.Attempts,
		CreatedAt:  t.job.CreatedAt,
		UpdatedAt:  t.now(),
	})
	if err != nil {
		t.log.WithError(err).Warn("could not record job stage")
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
