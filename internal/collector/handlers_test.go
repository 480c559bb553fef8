package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-networks/portalcore/internal/errlog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	inserted  []errlog.Entry
	insertErr error
	pingErr   error
}

func (f *fakeStore) InsertEntries(_ context.Context, entries []errlog.Entry) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, entries...)
	return nil
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func newTestServer(store *fakeStore, opts RouterOptions) *httptest.Server {
	h := NewHandler(store, 100, discardLogger())
	return httptest.NewServer(NewRouter(h, nil, opts, discardLogger()))
}

func postLogs(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url+"/api/v1/logs", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func sampleEntries(n int) []errlog.Entry {
	entries := make([]errlog.Entry, n)
	for i := range entries {
		entries[i] = errlog.Entry{
			ID:        "01HTEST" + string(rune('A'+i)),
			Timestamp: time.Now().UTC(),
			Code:      "upstream_failure",
			Category:  "system",
			Severity:  "critical",
			Message:   "gateway returned 502",
			Operation: "billing.charge",
			TenantID:  "tenant-001",
		}
	}
	return entries
}

func TestIngestAcceptsBatch(t *testing.T) {
	store := &fakeStore{}
	server := newTestServer(store, RouterOptions{})
	defer server.Close()

	resp := postLogs(t, server.URL, IngestRequest{Entries: sampleEntries(3)})
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var ack IngestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, 3, ack.Received)
	assert.Len(t, store.inserted, 3)
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	server := newTestServer(&fakeStore{}, RouterOptions{})
	defer server.Close()

	resp := postLogs(t, server.URL, IngestRequest{})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "invalid_request", string(errResp.ErrorCode))
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	server := newTestServer(&fakeStore{}, RouterOptions{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/logs", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestRejectsEntryWithoutID(t *testing.T) {
	server := newTestServer(&fakeStore{}, RouterOptions{})
	defer server.Close()

	entries := sampleEntries(1)
	entries[0].ID = ""
	resp := postLogs(t, server.URL, IngestRequest{Entries: entries})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestStorageFailure(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("pool exhausted")}
	server := newTestServer(store, RouterOptions{})
	defer server.Close()

	resp := postLogs(t, server.URL, IngestRequest{Entries: sampleEntries(1)})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestIngestRequestSizeLimit(t *testing.T) {
	server := newTestServer(&fakeStore{}, RouterOptions{MaxRequestBytes: 64})
	defer server.Close()

	resp := postLogs(t, server.URL, IngestRequest{Entries: sampleEntries(5)})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	server := newTestServer(&fakeStore{}, RouterOptions{RequestsPerSecond: 1, Burst: 1})
	defer server.Close()

	first := postLogs(t, server.URL, IngestRequest{Entries: sampleEntries(1)})
	first.Body.Close()
	require.Equal(t, http.StatusAccepted, first.StatusCode)

	second := postLogs(t, server.URL, IngestRequest{Entries: sampleEntries(1)})
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestReadiness(t *testing.T) {
	store := &fakeStore{}
	server := newTestServer(store, RouterOptions{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	store.pingErr = errors.New("connection refused")
	resp, err = http.Get(server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestReadinessFailureLogsThroughHandlerLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	store := &fakeStore{pingErr: errors.New("connection refused")}
	h := NewHandler(store, 100, log)
	server := httptest.NewServer(NewRouter(h, nil, RouterOptions{}, log))
	defer server.Close()

	resp, err := http.Get(server.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "upstream_failure", string(errResp.ErrorCode))
	assert.Contains(t, buf.String(), "readiness check failed")
}
