// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package remote talks to the MinerU batch conversion API: it requests an
// upload slot, uploads the source bytes, and polls batch status. Every
// failure is classified with a failure kind; retry policy belongs to callers.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pdiddy/docconvert/internal/failure"
	"github.com/pdiddy/docconvert/pkg/types"
)

const (
	submitPath = "/file-urls/batch"
	pollPath   = "/extract-results/batch/"

	// maxBodyBytes bounds how much of a JSON response is read.
	maxBodyBytes = 8 << 20
)

// authMarkers are lowercase substrings of a response body that identify a
// rejected credential.
var authMarkers = []string{"unauthorized", "invalid"}

// authCodes are application codes the service uses for a bad or expired token.
var authCodes = map[string]bool{"A0202": true, "A0211": true}

// serviceCode is the envelope's "code" member, which the service sends as
// either a number or a string.
type serviceCode string

func (c *serviceCode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = serviceCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("service code %s: %w", b, err)
	}
	*c = serviceCode(n.String())
	return nil
}

// failed reports whether the envelope signals an application-level error.
func (c serviceCode) failed() bool {
	return c != "" && c != "0"
}

// Client performs the three remote calls of a conversion job.
type Client struct {
	cfg  types.APIConfig
	http *http.Client
	log  logrus.FieldLogger
}

// NewClient returns a client for the API described by cfg. A nil hc gets a
// client with cfg.Timeout.
func NewClient(cfg types.APIConfig, hc *http.Client, log logrus.FieldLogger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: hc, log: log}
}

// NewDataID returns a correlation id unique per job: the submission time in
// milliseconds plus a random suffix, so concurrent unrelated jobs never
// collide on the service side.
func NewDataID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("convert_%d_%s", now.UnixMilli(), suffix)
}

// SubmitRequest describes the single file of a batch submission.
type SubmitRequest struct {
	FileName string
	DataID   string
	Features types.FeatureFlags
	Language string
}

// Submission is the service's answer to a batch submission.
type Submission struct {
	BatchID string
	Target  types.UploadTarget
	// Raw is the response body, kept for diagnostics.
	Raw []byte
}

type submitFile struct {
	Name   string `json:"name"`
	IsOCR  bool   `json:"is_ocr"`
	DataID string `json:"data_id"`
}

type submitBody struct {
	EnableFormula bool         `json:"enable_formula"`
	Language      string       `json:"language"`
	EnableTable   bool         `json:"enable_table"`
	Files         []submitFile `json:"files"`
}

type batchFields struct {
	BatchID  string          `json:"batch_id"`
	FileURLs []string        `json:"file_urls"`
	Headers  json.RawMessage `json:"headers"`
}

type submitResponse struct {
	Code serviceCode `json:"code"`
	Msg  string      `json:"msg"`
	batchFields
	Data *batchFields `json:"data"`
}

// RequestUploadTarget submits a one-file batch and returns the batch id and
// the upload target the service issued for it.
func (c *Client) RequestUploadTarget(ctx context.Context, sr SubmitRequest) (Submission, error) {
	const op = "requesting upload target"
	if strings.TrimSpace(sr.FileName) == "" {
		return Submission{}, failure.New(failure.ErrValidation, op, "file name is empty")
	}
	if strings.TrimSpace(sr.DataID) == "" {
		return Submission{}, failure.New(failure.ErrValidation, op, "data id is empty")
	}

	payload, err := json.Marshal(submitBody{
		EnableFormula: sr.Features.Formula,
		Language:      sr.Language,
		EnableTable:   sr.Features.Table,
		Files:         []submitFile{{Name: sr.FileName, IsOCR: sr.Features.OCR, DataID: sr.DataID}},
	})
	if err != nil {
		return Submission{}, fmt.Errorf("encoding submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+submitPath, bytes.NewReader(payload))
	if err != nil {
		return Submission{}, fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Submission{}, failure.Wrap(failure.ErrSubmission, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Submission{}, failure.Wrap(failure.ErrSubmission, op, err)
	}
	sub := Submission{Raw: body}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		kind := failure.ErrSubmission
		if isAuthFailure(resp.StatusCode, string(body)) {
			kind = failure.ErrAuthentication
		}
		return sub, &failure.Error{Kind: kind, Op: op, Status: resp.StatusCode, Body: string(body)}
	}

	var sresp submitResponse
	if err := json.Unmarshal(body, &sresp); err != nil {
		return sub, &failure.Error{Kind: failure.ErrProtocol, Op: op, Msg: "unparsable response", Body: string(body), Err: err}
	}
	if sresp.Code.failed() {
		kind := failure.ErrSubmission
		if authCodes[string(sresp.Code)] || containsAuthMarker(sresp.Msg) {
			kind = failure.ErrAuthentication
		}
		return sub, &failure.Error{Kind: kind, Op: op, Msg: fmt.Sprintf("service code %s: %s", sresp.Code, sresp.Msg)}
	}

	fields := sresp.batchFields
	if sresp.Data != nil {
		fields = mergeFields(fields, *sresp.Data)
	}
	if fields.BatchID == "" || len(fields.FileURLs) == 0 || strings.TrimSpace(fields.FileURLs[0]) == "" {
		return sub, &failure.Error{Kind: failure.ErrProtocol, Op: op, Msg: "response lacks batch_id or file_urls", Body: string(body)}
	}

	headers, err := ParseHeaders(fields.Headers)
	if err != nil {
		return sub, &failure.Error{Kind: failure.ErrProtocol, Op: op, Msg: "malformed upload headers", Err: err}
	}

	sub.BatchID = fields.BatchID
	sub.Target = types.UploadTarget{URL: NormalizeUploadURL(fields.FileURLs[0]), Headers: headers}
	c.log.WithFields(logrus.Fields{
		"batch_id": sub.BatchID,
		"data_id":  sr.DataID,
		"headers":  len(headers),
	}).Debug("upload target issued")
	return sub, nil
}

// mergeFields prefers top-level values and falls back to the data envelope.
func mergeFields(top, data batchFields) batchFields {
	if top.BatchID == "" {
		top.BatchID = data.BatchID
	}
	if len(top.FileURLs) == 0 {
		top.FileURLs = data.FileURLs
	}
	if len(bytes.TrimSpace(top.Headers)) == 0 {
		top.Headers = data.Headers
	}
	return top
}

// UploadBytes PUTs the file at path to the target URL with the target's
// headers attached verbatim and in order. It does not retry.
func (c *Client) UploadBytes(ctx context.Context, target types.UploadTarget, path string) error {
	op := "uploading " + filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.URL, f)
	if err != nil {
		return failure.Wrap(failure.ErrUpload, op, err)
	}
	req.ContentLength = info.Size()
	for _, h := range target.Headers {
		switch {
		case strings.EqualFold(h.Name, "Host"):
			req.Host = h.Value
		case strings.EqualFold(h.Name, "Content-Length"):
			// Derived from the file; a stale value would corrupt the request.
		default:
			req.Header[h.Name] = append(req.Header[h.Name], h.Value)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return failure.Wrap(failure.ErrUpload, op, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &failure.Error{Kind: failure.ErrUpload, Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	c.log.WithField("bytes", info.Size()).Debug("upload complete")
	return nil
}

type extractProgress struct {
	ExtractedPages int `json:"extracted_pages"`
	TotalPages     int `json:"total_pages"`
}

type extractResult struct {
	FileName   string          `json:"file_name"`
	DataID     string          `json:"data_id"`
	State      string          `json:"state"`
	FullZipURL string          `json:"full_zip_url"`
	ErrMsg     string          `json:"err_msg"`
	Progress   extractProgress `json:"extract_progress"`
}

type pollResponse struct {
	Code serviceCode `json:"code"`
	Msg  string      `json:"msg"`
	Data struct {
		BatchID       string          `json:"batch_id"`
		ExtractResult []extractResult `json:"extract_result"`
	} `json:"data"`
}

// PollOnce fetches the batch status once. Transport errors, unexpected
// statuses and unparsable bodies are transient poll errors; a rejected
// credential is an authentication error.
func (c *Client) PollOnce(ctx context.Context, batchID string) (types.PollSnapshot, error) {
	const op = "polling batch status"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+pollPath+url.PathEscape(batchID), nil)
	if err != nil {
		return types.PollSnapshot{}, fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return types.PollSnapshot{}, failure.Wrap(failure.ErrTransientPoll, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return types.PollSnapshot{}, failure.Wrap(failure.ErrTransientPoll, op, err)
	}
	snap := types.PollSnapshot{Raw: body}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return snap, &failure.Error{Kind: failure.ErrAuthentication, Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return snap, &failure.Error{Kind: failure.ErrTransientPoll, Op: op, Status: resp.StatusCode, Body: string(body)}
	}

	var presp pollResponse
	if err := json.Unmarshal(body, &presp); err != nil {
		return snap, &failure.Error{Kind: failure.ErrTransientPoll, Op: op, Msg: "unparsable status", Err: err}
	}
	if presp.Code.failed() {
		kind := failure.ErrTransientPoll
		if authCodes[string(presp.Code)] {
			kind = failure.ErrAuthentication
		}
		return snap, &failure.Error{Kind: kind, Op: op, Msg: fmt.Sprintf("service code %s: %s", presp.Code, presp.Msg)}
	}

	for _, r := range presp.Data.ExtractResult {
		e := types.PollEntry{
			FileName:       r.FileName,
			DataID:         r.DataID,
			State:          NormalizeState(r.State),
			RawState:       r.State,
			ExtractedPages: r.Progress.ExtractedPages,
			TotalPages:     r.Progress.TotalPages,
		}
		switch e.State {
		case types.PollDone:
			e.BundleURL = strings.TrimSpace(r.FullZipURL)
		case types.PollFailed:
			e.ErrMsg = r.ErrMsg
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, nil
}

// NormalizeState maps a service state string onto the four poll states.
// Unknown states count as pending so the poller keeps waiting.
func NormalizeState(s string) types.PollState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "done":
		return types.PollDone
	case "failed":
		return types.PollFailed
	case "running", "converting":
		return types.PollRunning
	default:
		return types.PollPending
	}
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if c.cfg.UserToken != "" {
		req.Header.Set("token", c.cfg.UserToken)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

func isAuthFailure(status int, body string) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || containsAuthMarker(body)
}

func containsAuthMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range authMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
