// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package poller drives batch status polling on a fixed cadence until the
// service reports a terminal state or the attempt bound runs out.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/docconvert/internal/failure"
	"github.com/pdiddy/docconvert/pkg/types"
)

// progressEvery is how often (in attempts) a still-running batch is logged at
// info level.
const progressEvery = 10

// StatusSource fetches one status snapshot. *remote.Client implements it.
type StatusSource interface {
	PollOnce(ctx context.Context, batchID string) (types.PollSnapshot, error)
}

// Verdict is the outcome of inspecting one snapshot.
type Verdict int

const (
	VerdictPending Verdict = iota
	VerdictDone
	VerdictFailed
)

func (v Verdict) String() string {
	switch v {
	case VerdictDone:
		return "done"
	case VerdictFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Classify inspects a snapshot in fixed priority order: any entry that is
// done with a bundle URL wins, then any failed entry, otherwise the batch is
// still pending. The returned entry is the one that decided the verdict.
// A done entry without a bundle URL does not count as done.
func Classify(snap types.PollSnapshot) (Verdict, types.PollEntry) {
	done, doneOK := find(snap, func(e types.PollEntry) bool {
		return e.State == types.PollDone && e.BundleURL != ""
	})
	failed, failedOK := find(snap, func(e types.PollEntry) bool {
		return e.State == types.PollFailed
	})

	switch {
	case doneOK:
		return VerdictDone, done
	case failedOK:
		return VerdictFailed, failed
	default:
		return VerdictPending, types.PollEntry{}
	}
}

func find(snap types.PollSnapshot, match func(types.PollEntry) bool) (types.PollEntry, bool) {
	for _, e := range snap.Entries {
		if match(e) {
			return e, true
		}
	}
	return types.PollEntry{}, false
}

// Outcome is what a finished Wait reports.
type Outcome struct {
	BundleURL string
	Attempts  int
	// Last is the final snapshot observed, for diagnostics. It is empty when
	// every attempt failed transiently.
	Last types.PollSnapshot
}

// Poller polls a batch until it reaches a terminal state.
type Poller struct {
	Source      StatusSource
	MaxAttempts int
	Interval    time.Duration
	Log         logrus.FieldLogger

	// OnSnapshot, when set, sees every successfully parsed snapshot.
	OnSnapshot func(attempt int, snap types.PollSnapshot)
}

// New returns a poller bounded by cfg.
func New(src StatusSource, cfg types.PollConfig, log logrus.FieldLogger) *Poller {
	return &Poller{Source: src, MaxAttempts: cfg.MaxAttempts, Interval: cfg.Interval, Log: log}
}

// Wait polls batchID until an entry is done with a bundle URL, an entry
// fails, or MaxAttempts polls have been made. Each attempt sleeps Interval
// first. Transient poll errors are logged and absorbed but still consume an
// attempt; any other poll error aborts. Cancellation during the sleep returns
// the context error.
func (p *Poller) Wait(ctx context.Context, batchID string) (Outcome, error) {
	if p.MaxAttempts <= 0 {
		return Outcome{}, fmt.Errorf("poll bound must be positive, got %d", p.MaxAttempts)
	}
	log := p.Log.WithField("batch_id", batchID)
	op := "polling batch " + batchID

	var out Outcome
	for out.Attempts < p.MaxAttempts {
		if err := sleep(ctx, p.Interval); err != nil {
			return out, fmt.Errorf("%s after %d attempts: %w", op, out.Attempts, err)
		}
		out.Attempts++
		alog := log.WithField("attempt", out.Attempts)

		snap, err := p.Source.PollOnce(ctx, batchID)
		if err != nil {
			if !failure.Fatal(err) {
				alog.WithError(err).Warn("status poll failed, retrying next tick")
				continue
			}
			return out, err
		}
		out.Last = snap
		if p.OnSnapshot != nil {
			p.OnSnapshot(out.Attempts, snap)
		}

		verdict, entry := Classify(snap)
		switch verdict {
		case VerdictDone:
			out.BundleURL = entry.BundleURL
			alog.Info("processing complete")
			return out, nil
		case VerdictFailed:
			msg := entry.ErrMsg
			if msg == "" {
				msg = "unknown error"
			}
			return out, &failure.Error{Kind: failure.ErrRemoteProcessing, Op: op, Msg: msg, Attempts: out.Attempts}
		case VerdictPending:
			p.logProgress(alog, out.Attempts, snap)
		}
	}

	return out, &failure.Error{
		Kind:     failure.ErrPollTimeout,
		Op:       op,
		Msg:      fmt.Sprintf("no result after %d attempts", out.Attempts),
		Attempts: out.Attempts,
	}
}

func (p *Poller) logProgress(log logrus.FieldLogger, attempt int, snap types.PollSnapshot) {
	fields := logrus.Fields{"max": p.MaxAttempts}
	if len(snap.Entries) > 0 {
		first := snap.Entries[0]
		fields["state"] = first.RawState
		if first.TotalPages > 0 {
			fields["pages"] = fmt.Sprintf("%d/%d", first.ExtractedPages, first.TotalPages)
		}
	} else {
		fields["state"] = "unknown"
	}
	entry := log.WithFields(fields)
	if attempt%progressEvery == 0 {
		entry.Info("still processing")
		return
	}
	entry.Debug("still processing")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
