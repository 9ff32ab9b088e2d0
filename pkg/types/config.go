// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by every remote call.
type HTTPConfig struct {
	// Timeout bounds a single HTTP request. Uploads and bundle downloads of
	// large files need more than the default.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with API requests
	// (e.g. "docconvert/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// APIConfig identifies the remote conversion service and its credentials.
type APIConfig struct {
	HTTPConfig `yaml:",inline"`

	// BaseURL is the API root, e.g. "https://mineru.net/api/v4".
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Token is the bearer token sent as "Authorization: Bearer <token>".
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// UserToken is an optional account token sent in the "token" header.
	UserToken string `json:"user_token,omitempty" yaml:"user_token,omitempty"`
}

// PollConfig bounds the status polling loop. Worst-case wall time is
// MaxAttempts × Interval.
type PollConfig struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
}

// Deadline returns the worst-case time spent sleeping between polls.
func (c PollConfig) Deadline() time.Duration {
	return time.Duration(c.MaxAttempts) * c.Interval
}

// SourceLimits are checked locally before a file is submitted.
type SourceLimits struct {
	// AllowedExts lists accepted extensions, lowercase and without the dot.
	AllowedExts []string `json:"allowed_exts" yaml:"allowed_exts"`

	// MaxFileBytes rejects larger files. Zero disables the check.
	MaxFileBytes int64 `json:"max_file_bytes" yaml:"max_file_bytes"`

	// MaxPages rejects PDFs with more pages. Zero disables the check.
	MaxPages int `json:"max_pages" yaml:"max_pages"`
}

// ConversionConfig holds every setting a conversion job needs.
type ConversionConfig struct {
	API      APIConfig    `json:"api" yaml:"api"`
	Poll     PollConfig   `json:"poll" yaml:"poll"`
	Limits   SourceLimits `json:"limits" yaml:"limits"`
	Features FeatureFlags `json:"features" yaml:"features"`

	// Language is the OCR language hint passed to the service (e.g. "ch", "en").
	Language string `json:"language" yaml:"language"`

	// ArchiveDir is the root under which every finished job is archived.
	ArchiveDir string `json:"archive_dir" yaml:"archive_dir"`

	// WorkDir is the parent of per-job scratch directories. Empty means the
	// OS temp directory.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`

	// OutputExt is the extension of the primary output document, without the dot.
	OutputExt string `json:"output_ext" yaml:"output_ext"`

	// Frontmatter prepends a YAML header to the published document.
	Frontmatter bool `json:"frontmatter" yaml:"frontmatter"`

	// LogLevel is the verbosity: low, medium, high, or a logrus level name.
	LogLevel string `json:"log_level" yaml:"log_level"`
}
