// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package failure defines the error kinds a conversion job can end with.
// Every error that leaves the pipeline carries exactly one kind, so callers
// can tell a bad credential from a slow service without parsing messages.
package failure

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind markers. Test with errors.Is; the concrete error is a *Error.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrValidation       = errors.New("validation error")
	ErrAuthentication   = errors.New("authentication error")
	ErrSubmission       = errors.New("submission error")
	ErrProtocol         = errors.New("protocol error")
	ErrUpload           = errors.New("upload error")
	ErrTransientPoll    = errors.New("transient poll error")
	ErrRemoteProcessing = errors.New("remote processing error")
	ErrPollTimeout      = errors.New("poll timeout")
	ErrMissingOutput    = errors.New("missing output")
	// ErrArchive covers writing the archive entry or the published output.
	ErrArchive = errors.New("archive error")
)

// kinds maps each marker to the short name used in logs and the job ledger.
var kinds = []struct {
	marker error
	name   string
}{
	{ErrConfiguration, "configuration"},
	{ErrValidation, "validation"},
	{ErrAuthentication, "authentication"},
	{ErrSubmission, "submission"},
	{ErrProtocol, "protocol"},
	{ErrUpload, "upload"},
	{ErrTransientPoll, "transient_poll"},
	{ErrRemoteProcessing, "remote_processing"},
	{ErrPollTimeout, "poll_timeout"},
	{ErrMissingOutput, "missing_output"},
	{ErrArchive, "archive"},
}

// TokenURL is where MinerU API tokens are issued.
const TokenURL = "https://mineru.net/apiManage/token"

// Error is a classified pipeline failure. Status, Attempts and Body are set
// only by the operations that observe them.
type Error struct {
	Kind     error
	Op       string
	Msg      string
	Status   int
	Attempts int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(truncate(e.Body, 512))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind marker and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds a classified error with a formatted message.
func New(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields a bare kind error.
func Wrap(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the short kind name of err, or "internal" when err carries
// no kind. A nil error yields "".
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.marker) {
			return k.name
		}
	}
	return "internal"
}

// Fatal reports whether err must abort a job. Everything except a transient
// poll failure is fatal.
func Fatal(err error) bool {
	return err != nil && !errors.Is(err, ErrTransientPoll)
}

// Hint returns setup instructions for errors the user fixes by editing the
// credential, or "" for every other kind.
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "MinerU API token is not configured.\n" +
			"  1. Request a token at " + TokenURL + "\n" +
			"  2. Run: docconvert config set-token <token>\n" +
			"     or set MINERU_API_TOKEN in config/.env\n" +
			"Tokens are valid for 14 days."
	case errors.Is(err, ErrAuthentication):
		return "MinerU API token is invalid or expired (tokens are valid for 14 days).\n" +
			"  1. Request a new token at " + TokenURL + "\n" +
			"  2. Run: docconvert config set-token <token>"
	default:
		return ""
	}
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
