package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/input"
	"github.com/JakeFAU/pagecapture/internal/jobs"
	"github.com/JakeFAU/pagecapture/internal/progress"
	queuememory "github.com/JakeFAU/pagecapture/internal/queue/memory"
	"github.com/JakeFAU/pagecapture/internal/storage/local"
	storememory "github.com/JakeFAU/pagecapture/internal/storage/memory"
	"github.com/JakeFAU/pagecapture/internal/store"
)

type testEnv struct {
	server   *Server
	manager  *jobs.Manager
	queue    *queuememory.Queue[jobs.Item]
	jobs     *storememory.JobStore
	archives *local.ArchiveStore
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

func newTestEnv(t *testing.T, queueSize int, opts Options) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	jobStore := storememory.NewJobStore()
	q := queuememory.NewQueue[jobs.Item](queueSize)
	manager := jobs.NewManager(jobs.ManagerConfig{}, jobs.NewIDSource(clock), jobStore, q, clock, zap.NewNop())
	archives, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	if opts.Heartbeat == 0 {
		opts.Heartbeat = 20 * time.Millisecond
	}
	return &testEnv{
		server:   NewServer(manager, input.NewParser(input.DefaultColumns()), jobStore, archives, opts, zap.NewNop()),
		manager:  manager,
		queue:    q,
		jobs:     jobStore,
		archives: archives,
	}
}

func uploadRequest(t *testing.T, filename, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

const sampleCSV = "EN_URL,ES_URL\nhttps://ex.com/p,\nhttps://ex.com/q,https://ex.com/es/q\n"

func TestServer_SubmitJob_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, uploadRequest(t, "urls.csv", sampleCSV))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "2024-05-01T10-00-00.000Z", body.JobID)
	require.Equal(t, 9, body.Tasks)
	require.Equal(t, "/v1/jobs/"+body.JobID+"/events", body.Events)
	require.Equal(t, "Process started. Check the logs below.", body.Message)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, body.JobID, item.JobID)
	require.Equal(t, "urls.csv", item.Source)
	require.Len(t, item.Pairs, 2)
}

func TestServer_SubmitJob_BadUploads(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	cases := []struct {
		name string
		req  *http.Request
	}{
		{"not multipart", httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader("{}"))},
		{"unsupported format", uploadRequest(t, "urls.txt", sampleCSV)},
		{"missing column", uploadRequest(t, "urls.csv", "URL\nhttps://ex.com\n")},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, tc.req)
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
	}
	require.Equal(t, 0, env.queue.Len())
}

func TestServer_SubmitJob_TooLarge(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{MaxUploadBytes: 64})
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, uploadRequest(t, "urls.csv", sampleCSV+strings.Repeat("https://ex.com/x,\n", 20)))
	require.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
}

func TestServer_SubmitJob_QueueFull(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0, Options{})
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, uploadRequest(t, "urls.csv", sampleCSV))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	ctx := context.Background()
	require.NoError(t, env.jobs.CreateJob(ctx, store.JobRecord{ID: "job-1", State: capture.StateQueued}))
	require.NoError(t, env.jobs.RecordOutcome(ctx, store.OutcomeRecord{
		JobID: "job-1", Seq: 1, Locale: "EN", Device: "desktop", URL: "https://ex.com", Status: capture.StatusSuccess,
	}))

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "job-1", body.Job.ID)
	require.Len(t, body.Outcomes, 1)
	require.Equal(t, 1, body.Job.Succeeded)

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Download(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	archive := filepath.Join(env.archives.BaseDir(), "screenshots_x.zip")
	require.NoError(t, os.WriteFile(archive, []byte("PK\x05\x06"+strings.Repeat("\x00", 18)), 0o600))

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download?path="+archive, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), `filename="screenshots.zip"`)
	require.Equal(t, 22, rec.Body.Len())

	for _, bad := range []string{"", "/etc/passwd", "../outside.zip", filepath.Join(env.archives.BaseDir(), "missing.zip")} {
		rec = httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download?path="+bad, nil))
		require.Equal(t, http.StatusNotFound, rec.Code, bad)
	}
}

func TestServer_JobArchive(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	ctx := context.Background()
	archive := filepath.Join(env.archives.BaseDir(), "screenshots_a.zip")
	require.NoError(t, os.WriteFile(archive, []byte("zip"), 0o600))
	require.NoError(t, env.jobs.CreateJob(ctx, store.JobRecord{ID: "a"}))
	require.NoError(t, env.jobs.CreateJob(ctx, store.JobRecord{ID: "b"}))
	require.NoError(t, env.jobs.CompleteJob(ctx, "a", time.Now(), capture.StateCompleted, archive, ""))

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/a/archive", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "zip", rec.Body.String())

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/b/archive", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_EventsReplayFinishedJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	ticket, err := env.manager.Submit(context.Background(), jobs.Submission{Source: "a.csv"})
	require.NoError(t, err)
	ticket.Journal.Emit(progress.Event{Kind: progress.KindJobStarted, Total: 0})
	ticket.Journal.Emit(progress.Event{Kind: progress.KindJobCompleted, ArchivePath: "/x.zip", Link: "/download?path=%2Fx.zip"})

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+ticket.JobID+"/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	kinds := frameKinds(t, rec.Body.String())
	require.Equal(t, []string{"CONNECTED", "JOB_STARTED", "JOB_COMPLETED"}, kinds)
	require.Contains(t, rec.Body.String(), "Process completed. Download: /download?path=%2Fx.zip")
}

func TestServer_EventsStreamLive(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	ticket, err := env.manager.Submit(context.Background(), jobs.Submission{Source: "a.csv"})
	require.NoError(t, err)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/" + ticket.JobID + "/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return ticket.Journal.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	ticket.Journal.Emit(progress.Event{
		Kind: progress.KindTaskStarted, Seq: 1, Total: 1, Locale: "EN", Device: "desktop", URL: "https://ex.com/p",
	})
	ticket.Journal.Emit(progress.Event{Kind: progress.KindJobAborted, Err: "packaging failed"})

	var kinds []string
	var messages []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			kinds = append(kinds, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			var frame eventFrame
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
			messages = append(messages, frame.Message)
		}
	}
	require.Equal(t, []string{"CONNECTED", "TASK_STARTED", "JOB_ABORTED"}, kinds)
	require.Equal(t, "Capturing desktop view for EN: https://ex.com/p", messages[1])
	require.Equal(t, "Process aborted: packaging failed", messages[2])
}

func TestServer_EventsUnknownJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/ghost/events", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "pagecapture_http_requests_total")
}

func TestServer_KeepsCallerRequestID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func frameKinds(t *testing.T, body string) []string {
	t.Helper()
	var kinds []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			kinds = append(kinds, strings.TrimPrefix(line, "event: "))
		}
	}
	return kinds
}
