// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package testsupport provides an in-process fake of the MinerU batch API
// and small fixture helpers for package tests.
package testsupport

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// APIPrefix is where the fake mounts the API; BaseURL includes it.
const APIPrefix = "/api/v4"

// MinerU is a scripted fake of the batch conversion service. Zero-valued
// knobs give a happy-path server: submissions succeed, uploads return 200,
// polls report done with a bundle served by the fake itself.
type MinerU struct {
	*httptest.Server

	mu sync.Mutex

	// BatchID is returned by successful submissions (default "b1").
	BatchID string
	// SubmitStatus and SubmitBody override the submission response.
	SubmitStatus int
	SubmitBody   string
	// UploadHeaders are issued with the upload target, in order.
	UploadHeaders [][2]string
	// DoubleEncodeURL wraps the issued upload URL in a second JSON encoding.
	DoubleEncodeURL bool
	// UploadStatus overrides the PUT response status.
	UploadStatus int
	// Polls are served in order; the last one repeats. Empty means done.
	Polls []string
	// PollStatus overrides the poll response status when non-zero.
	PollStatus int
	// Bundle is served at BundleURL().
	Bundle []byte
	// BundleStatus overrides the bundle response status when non-zero.
	BundleStatus int

	// Recorded traffic.
	Submissions   []map[string]any
	SubmitHeaders http.Header
	Uploads       [][]byte
	UploadHeader  http.Header
	UploadOrder   []string
	PollCount     int
	Downloads     int
}

// NewMinerU starts a fake server that is closed when the test ends.
func NewMinerU(t testing.TB) *MinerU {
	t.Helper()
	m := &MinerU{BatchID: "b1"}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

// BaseURL is the API root to configure clients with.
func (m *MinerU) BaseURL() string { return m.URL + APIPrefix }

// UploadURL is the upload target the fake issues.
func (m *MinerU) UploadURL() string { return m.URL + "/upload/u1" }

// BundleURL is where the fake serves Bundle.
func (m *MinerU) BundleURL() string { return m.URL + "/cdn/r1.zip" }

func (m *MinerU) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == APIPrefix+"/file-urls/batch":
		m.handleSubmit(w, r)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/upload/"):
		m.handleUpload(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, APIPrefix+"/extract-results/batch/"):
		m.handlePoll(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/cdn/r1.zip":
		m.Downloads++
		if m.BundleStatus != 0 {
			w.WriteHeader(m.BundleStatus)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Write(m.Bundle)
	default:
		http.NotFound(w, r)
	}
}

func (m *MinerU) handleSubmit(w http.ResponseWriter, r *http.Request) {
	m.SubmitHeaders = r.Header.Clone()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		m.Submissions = append(m.Submissions, body)
	}

	if m.SubmitStatus != 0 || m.SubmitBody != "" {
		status := m.SubmitStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		io.WriteString(w, m.SubmitBody)
		return
	}

	uploadURL := m.UploadURL()
	if m.DoubleEncodeURL {
		enc, _ := json.Marshal(uploadURL)
		uploadURL = string(enc)
	}
	headers := make([]map[string]string, 0, len(m.UploadHeaders))
	for _, h := range m.UploadHeaders {
		headers = append(headers, map[string]string{h[0]: h[1]})
	}
	json.NewEncoder(w).Encode(map[string]any{
		"code": 0,
		"msg":  "ok",
		"data": map[string]any{
			"batch_id":  m.BatchID,
			"file_urls": []string{uploadURL},
			"headers":   headers,
		},
	})
}

func (m *MinerU) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	m.Uploads = append(m.Uploads, data)
	m.UploadHeader = r.Header.Clone()
	m.UploadOrder = m.UploadOrder[:0]
	for _, h := range m.UploadHeaders {
		m.UploadOrder = append(m.UploadOrder, r.Header.Get(h[0]))
	}
	if m.UploadStatus != 0 {
		w.WriteHeader(m.UploadStatus)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *MinerU) handlePoll(w http.ResponseWriter, _ *http.Request) {
	m.PollCount++
	if m.PollStatus != 0 {
		w.WriteHeader(m.PollStatus)
		io.WriteString(w, `{"msg":"scripted status"}`)
		return
	}
	body := PollDone(m.BundleURL())
	if len(m.Polls) > 0 {
		i := m.PollCount - 1
		if i >= len(m.Polls) {
			i = len(m.Polls) - 1
		}
		body = m.Polls[i]
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

// Inspect runs fn while holding the fake's lock, for reading recorded traffic.
func (m *MinerU) Inspect(fn func(m *MinerU)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// Counts returns the recorded poll and download counts under the lock.
func (m *MinerU) Counts() (polls, downloads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PollCount, m.Downloads
}

func pollBody(entries ...map[string]any) string {
	b, _ := json.Marshal(map[string]any{
		"code": 0,
		"msg":  "ok",
		"data": map[string]any{"batch_id": "b1", "extract_result": entries},
	})
	return string(b)
}

// PollPending is a status body with one file still waiting.
func PollPending() string {
	return pollBody(map[string]any{"file_name": "report.pdf", "state": "pending"})
}

// PollRunning is a status body with page progress.
func PollRunning(done, total int) string {
	return pollBody(map[string]any{
		"file_name": "report.pdf",
		"state":     "running",
		"extract_progress": map[string]any{
			"extracted_pages": done,
			"total_pages":     total,
		},
	})
}

// PollDone is a status body whose file finished with bundleURL.
func PollDone(bundleURL string) string {
	return pollBody(map[string]any{"file_name": "report.pdf", "state": "done", "full_zip_url": bundleURL})
}

// PollFailed is a status body whose file failed with msg.
func PollFailed(msg string) string {
	return pollBody(map[string]any{"file_name": "report.pdf", "state": "failed", "err_msg": msg})
}

// PollEmpty is a status body with no per-file detail yet.
func PollEmpty() string {
	return pollBody()
}

// Zip builds an in-memory zip archive. Entries ending in "/" become
// directories.
func Zip(t testing.TB, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if strings.HasSuffix(name, "/") {
			continue
		}
		if _, err := io.WriteString(w, content); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// WriteSource creates a source document named name under dir.
func WriteSource(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// PDF returns a minimal well-formed PDF with the given number of blank pages.
func PDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}
