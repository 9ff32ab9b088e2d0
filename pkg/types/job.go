// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// JobStage is the position of a conversion job in its lifecycle. Stages only
// move forward; no stage is revisited.
type JobStage string

const (
	StageCreated              JobStage = "created"
	StageAwaitingUploadTarget JobStage = "awaiting_upload_target"
	StageUploading            JobStage = "uploading"
	StageUploaded             JobStage = "uploaded"
	StagePolling              JobStage = "polling"
	StageDone                 JobStage = "done"
	StageFailed               JobStage = "failed"
	StageTimedOut             JobStage = "timed_out"
	StageRetrieving           JobStage = "retrieving"
	StageArchived             JobStage = "archived"
)

// stageEdges lists the successors of each stage. Every non-terminal stage
// may also fail; that edge is handled in CanAdvance.
var stageEdges = map[JobStage][]JobStage{
	StageCreated:              {StageAwaitingUploadTarget},
	StageAwaitingUploadTarget: {StageUploading},
	StageUploading:            {StageUploaded},
	StageUploaded:             {StagePolling},
	StagePolling:              {StageDone, StageTimedOut},
	StageDone:                 {StageRetrieving},
	StageRetrieving:           {StageArchived},
}

// Terminal reports whether no further transition is possible.
func (s JobStage) Terminal() bool {
	return s == StageFailed || s == StageTimedOut || s == StageArchived
}

// CanAdvance reports whether a job in stage s may move to next.
func (s JobStage) CanAdvance(next JobStage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	for _, n := range stageEdges[s] {
		if n == next {
			return true
		}
	}
	return false
}

// FeatureFlags are the optional service-side extraction features.
type FeatureFlags struct {
	OCR     bool `json:"ocr" yaml:"ocr"`
	Table   bool `json:"table" yaml:"table"`
	Formula bool `json:"formula" yaml:"formula"`
}

// ConversionJob is one document travelling through the pipeline. It is owned
// by a single call and never shared.
type ConversionJob struct {
	// SourcePath is the document being converted.
	SourcePath string `json:"source_path" yaml:"source_path"`

	Features FeatureFlags `json:"features" yaml:"features"`

	// Language is the OCR language hint.
	Language string `json:"language" yaml:"language"`

	// DataID is the caller-generated correlation id sent with the submission.
	DataID string `json:"data_id" yaml:"data_id"`

	// BatchID is assigned by the service once the upload target is issued.
	BatchID string `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`

	Stage JobStage `json:"stage" yaml:"stage"`

	// Attempts counts status polls made so far.
	Attempts int `json:"attempts" yaml:"attempts"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// NewConversionJob returns a job in StageCreated.
func NewConversionJob(sourcePath, dataID string, features FeatureFlags, language string, now time.Time) *ConversionJob {
	return &ConversionJob{
		SourcePath: sourcePath,
		Features:   features,
		Language:   language,
		DataID:     dataID,
		Stage:      StageCreated,
		CreatedAt:  now,
	}
}

// Advance moves the job to next, rejecting backwards or skipping moves.
func (j *ConversionJob) Advance(next JobStage) error {
	if !j.Stage.CanAdvance(next) {
		return fmt.Errorf("job %s: illegal stage transition %s -> %s", j.DataID, j.Stage, next)
	}
	j.Stage = next
	return nil
}

// Header is one name/value pair the upload request must carry verbatim.
type Header struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// UploadTarget is a one-time destination for the source bytes.
type UploadTarget struct {
	URL     string   `json:"url" yaml:"url"`
	Headers []Header `json:"headers" yaml:"headers"`
}

// PollState is the normalised per-file processing state.
type PollState string

const (
	PollPending PollState = "pending"
	PollRunning PollState = "running"
	PollDone    PollState = "done"
	PollFailed  PollState = "failed"
)

// PollEntry is one file's state inside a poll snapshot.
type PollEntry struct {
	FileName string    `json:"file_name" yaml:"file_name"`
	DataID   string    `json:"data_id" yaml:"data_id"`
	State    PollState `json:"state" yaml:"state"`

	// RawState is the service's own state string, kept for logging.
	RawState string `json:"raw_state" yaml:"raw_state"`

	// BundleURL is set only when State is PollDone.
	BundleURL string `json:"bundle_url,omitempty" yaml:"bundle_url,omitempty"`

	// ErrMsg is set only when State is PollFailed.
	ErrMsg string `json:"err_msg,omitempty" yaml:"err_msg,omitempty"`

	ExtractedPages int `json:"extracted_pages,omitempty" yaml:"extracted_pages,omitempty"`
	TotalPages     int `json:"total_pages,omitempty" yaml:"total_pages,omitempty"`
}

// PollSnapshot is one status observation. An empty Entries slice means the
// service has no detail yet.
type PollSnapshot struct {
	Entries []PollEntry `json:"entries" yaml:"entries"`

	// Raw is the response body the snapshot was parsed from.
	Raw []byte `json:"-" yaml:"-"`
}

// ArchiveRecord describes a persisted job bundle. It is written once.
type ArchiveRecord struct {
	Dir        string    `json:"dir" yaml:"dir"`
	SourceBase string    `json:"source_base" yaml:"source_base"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Result is what a successful conversion reports to its caller.
type Result struct {
	OutputPath string `json:"output_path" yaml:"output_path"`
	ArchiveDir string `json:"archive_dir" yaml:"archive_dir"`
	Message    string `json:"message" yaml:"message"`
	BatchID    string `json:"batch_id" yaml:"batch_id"`
	DataID     string `json:"data_id" yaml:"data_id"`
	Attempts   int    `json:"attempts" yaml:"attempts"`
}

// JobRecord is the persisted summary of one job, keyed by DataID. It is
// rewritten at every stage transition.
type JobRecord struct {
	DataID     string    `json:"data_id" yaml:"data_id"`
	SourcePath string    `json:"source_path" yaml:"source_path"`
	BatchID    string    `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	Stage      JobStage  `json:"stage" yaml:"stage"`
	ErrorKind  string    `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	OutputPath string    `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	ArchiveDir string    `json:"archive_dir,omitempty" yaml:"archive_dir,omitempty"`
	Attempts   int       `json:"attempts" yaml:"attempts"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
}

// StageEvent is one recorded transition of a job.
type StageEvent struct {
	DataID string    `json:"data_id" yaml:"data_id"`
	Stage  JobStage  `json:"stage" yaml:"stage"`
	At     time.Time `json:"at" yaml:"at"`
}
