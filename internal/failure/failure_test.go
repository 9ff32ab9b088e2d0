// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package failure

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsKindAndCause(t *testing.T) {
	err := Wrap(ErrUpload, "uploading input.pdf", io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, ErrUpload)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, ErrSubmission)
	assert.Contains(t, err.Error(), "uploading input.pdf")
}

func TestErrorAsThroughWrapping(t *testing.T) {
	inner := &Error{Kind: ErrPollTimeout, Op: "polling batch b1", Attempts: 7}
	wrapped := fmt.Errorf("converting report.pdf: %w", inner)

	var fe *Error
	require.True(t, errors.As(wrapped, &fe))
	assert.Equal(t, 7, fe.Attempts)
	assert.ErrorIs(t, wrapped, ErrPollTimeout)
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: ErrSubmission, Op: "requesting upload target", Status: 500, Body: "  boom  "}
	assert.Equal(t, "requesting upload target: submission error (HTTP 500): boom", err.Error())

	long := &Error{Kind: ErrSubmission, Body: string(make([]byte, 600))}
	assert.Contains(t, long.Error(), "...")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("plain"), "internal"},
		{New(ErrConfiguration, "", "missing token"), "configuration"},
		{New(ErrValidation, "", "bad ext"), "validation"},
		{Wrap(ErrAuthentication, "", nil), "authentication"},
		{Wrap(ErrProtocol, "", nil), "protocol"},
		{Wrap(ErrTransientPoll, "", nil), "transient_poll"},
		{Wrap(ErrRemoteProcessing, "", nil), "remote_processing"},
		{fmt.Errorf("outer: %w", Wrap(ErrPollTimeout, "", nil)), "poll_timeout"},
		{Wrap(ErrMissingOutput, "", nil), "missing_output"},
		{Wrap(ErrArchive, "publishing", io.ErrShortWrite), "archive"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err))
	}
}

func TestErrorMessage_TruncatesOnRuneBoundary(t *testing.T) {
	// 510 ASCII bytes then three-byte runes: byte 512 falls inside a rune.
	body := strings.Repeat("a", 510) + strings.Repeat("文件解析失败", 10)
	err := &Error{Kind: ErrRemoteProcessing, Body: body}

	msg := err.Error()
	assert.True(t, utf8.ValidString(msg), "message is valid UTF-8")
	assert.True(t, strings.HasSuffix(msg, strings.Repeat("a", 510)+"..."))
}

func TestFatal(t *testing.T) {
	assert.False(t, Fatal(nil))
	assert.False(t, Fatal(Wrap(ErrTransientPoll, "polling", io.EOF)))
	assert.True(t, Fatal(Wrap(ErrAuthentication, "polling", nil)))
	assert.True(t, Fatal(errors.New("disk full")))
}

func TestHint(t *testing.T) {
	assert.Contains(t, Hint(New(ErrConfiguration, "", "x")), TokenURL)
	assert.Contains(t, Hint(Wrap(ErrAuthentication, "", nil)), "expired")
	assert.Empty(t, Hint(Wrap(ErrUpload, "", nil)))
}
