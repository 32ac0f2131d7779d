package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipshelf/clipshelf/internal/dispatch"
	"github.com/clipshelf/clipshelf/internal/jobs"
	"github.com/clipshelf/clipshelf/internal/persistence"
	"github.com/clipshelf/clipshelf/internal/router"
	"github.com/clipshelf/clipshelf/internal/signature"
	"github.com/clipshelf/clipshelf/internal/storage"
	"github.com/clipshelf/clipshelf/internal/worker"
)

var testKeys = signature.Keys{Current: "test-signing-key"}

type stubMedia struct {
	objects map[string][]byte
}

func (m *stubMedia) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("object %q not found", key)
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: "video/mp4"}, nil
}

func (m *stubMedia) Fetch(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return data, nil
}

func (m *stubMedia) ListKeys(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

type stubRouter struct{}

func (stubRouter) Transcribe(_ context.Context, _ []byte, _ string) (*router.TranscriptionResult, error) {
	return &router.TranscriptionResult{Text: "stub transcription"}, nil
}

func (stubRouter) ExecuteVisionTask(_ context.Context, task router.Task, _ []router.Image, _, _ string) (*router.TaskResult, error) {
	return &router.TaskResult{Data: map[string]any{}}, nil
}

func (stubRouter) ExecuteTextTask(_ context.Context, task router.Task, _, _ string) (*router.TaskResult, error) {
	return &router.TaskResult{Data: map[string]any{}}, nil
}

type apiEnv struct {
	server *Server
	store  *persistence.SQLiteStore
	media  *stubMedia
}

func newAPIEnv(t *testing.T, modelRouter worker.ModelRouter, opts ...Option) *apiEnv {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	media := &stubMedia{objects: map[string][]byte{
		"job-1/video.mp4": []byte("video-bytes"),
	}}
	orchestrator := worker.NewOrchestrator(store, media, modelRouter, nil, 10*time.Second)
	transport := dispatch.NewLocalTransport(store, orchestrator.Process)
	dispatcher := dispatch.NewDispatcher(store, transport)

	opts = append([]Option{WithSignatureKeys(testKeys)}, opts...)
	return &apiEnv{
		server: NewServer(store, dispatcher, orchestrator, opts...),
		store:  store,
		media:  media,
	}
}

func (e *apiEnv) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func (e *apiEnv) seedJob(t *testing.T, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, e.store.CreateJob(context.Background(), &jobs.Job{
		ID:     id,
		Status: jobs.StatusQueued,
		Source: jobs.SourceDescriptor{
			Kind:   jobs.SourceDirect,
			Bucket: "clipshelf-media",
			Key:    id + "/video.mp4",
		},
		Log:       []jobs.LogEntry{{Timestamp: now, Status: jobs.StatusQueued, Message: "Job accepted"}},
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func signedPayload(t *testing.T, jobID string) ([]byte, map[string]string) {
	t.Helper()
	payload := jobs.DispatchPayload{
		JobID:  jobID,
		Action: jobs.ActionProcessVideo,
		Data:   jobs.DispatchData{FileID: jobID, Key: jobID + "/video.mp4", Bucket: "clipshelf-media", Source: jobs.SourceDirect},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	token, err := signature.Sign(testKeys, body)
	require.NoError(t, err)
	return body, map[string]string{"signature": token}
}

func TestIntakeAccepted(t *testing.T) {
	env := newAPIEnv(t, nil)

	recorder := env.do(t, http.MethodPost, "/api/videos", []byte(`{"fileId":"job-1","key":"job-1/video.mp4","bucket":"clipshelf-media"}`), nil)
	require.Equal(t, http.StatusAccepted, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, true, body["success"])
	job := body["job"].(map[string]any)
	assert.Equal(t, "job-1", job["id"])
	assert.Equal(t, string(jobs.StatusQueued), job["status"])
	assert.Equal(t, string(jobs.DisplayFetchingSource), job["display_status"])
}

func TestIntakeRejections(t *testing.T) {
	env := newAPIEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{not json`},
		{name: "missing key", body: `{"fileId":"job-1"}`},
		{name: "scrape without original url", body: `{"key":"k/video.mp4","source":"scrape","platform":"tiktok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := env.do(t, http.MethodPost, "/api/videos", []byte(tt.body), nil)
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Equal(t, false, decodeBody(t, recorder)["success"])
		})
	}

	recorder := env.do(t, http.MethodGet, "/api/videos", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestJobsList(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")
	env.seedJob(t, "job-2")

	recorder := env.do(t, http.MethodGet, "/api/jobs", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Len(t, body["jobs"].([]any), 2)
	counts := body["counts"].(map[string]any)
	assert.Equal(t, float64(2), counts["queued"])
	queue := body["queue"].(map[string]any)
	assert.Equal(t, dispatch.ModeLocal, queue["mode"])
	assert.Equal(t, false, queue["distributed_configured"])
}

func TestJobsListStatusFilter(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")
	_, err := env.store.TransitionStatus(context.Background(), "job-1", jobs.Transition{To: jobs.StatusFailed, Error: "boom"})
	require.NoError(t, err)
	env.seedJob(t, "job-2")

	recorder := env.do(t, http.MethodGet, "/api/jobs?status=failed", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := decodeBody(t, recorder)
	list := body["jobs"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "job-1", list[0].(map[string]any)["id"])

	recorder = env.do(t, http.MethodGet, "/api/jobs?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestJobByID(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")

	recorder := env.do(t, http.MethodGet, "/api/jobs/job-1", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := decodeBody(t, recorder)
	assert.Equal(t, "job-1", body["id"])
	assert.Equal(t, string(jobs.DisplayFetchingSource), body["display_status"])

	recorder = env.do(t, http.MethodGet, "/api/jobs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestDeleteJob(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")

	recorder := env.do(t, http.MethodDelete, "/api/jobs/job-1", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = env.do(t, http.MethodDelete, "/api/jobs/job-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRetrigger(t *testing.T) {
	env := newAPIEnv(t, stubRouter{})
	env.seedJob(t, "job-1")

	recorder := env.do(t, http.MethodPost, "/api/jobs/missing/retrigger", nil, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = env.do(t, http.MethodPost, "/api/jobs/job-1/retrigger", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := decodeBody(t, recorder)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, string(jobs.StatusCompleted), body["status"])
}

func TestRetriggerWithoutAI(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")

	recorder := env.do(t, http.MethodPost, "/api/jobs/job-1/retrigger", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	assert.Contains(t, decodeBody(t, recorder)["error"], "LLM_API_KEY")
}

func TestMatchRanksCandidates(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")
	require.NoError(t, env.store.SetResult(context.Background(), "job-1", &jobs.Result{
		Transcription: "this olive sweater is so cozy",
		Analysis: &jobs.Analysis{
			Products: []jobs.Product{{
				Name:       "Olive Sweater",
				Attributes: map[string]string{"color": "olive", "neckline": "crew neck"},
				Confidence: map[string]float64{"color": 0.9, "neckline": 0.8},
			}},
		},
	}))

	request := `{"candidates":[
		{"id":"exact","attributes":{"color":{"value":"olive"},"neckline":{"value":"crew neck"}}},
		{"id":"family","attributes":{"color":{"value":"sage green"}}}
	]}`
	recorder := env.do(t, http.MethodPost, "/api/jobs/job-1/match", []byte(request), nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "Olive Sweater", body["product"])
	rankings := body["rankings"].([]any)
	require.Len(t, rankings, 2)
	first := rankings[0].(map[string]any)
	assert.Equal(t, "exact", first["candidate_id"])
	second := rankings[1].(map[string]any)
	assert.Greater(t, first["total_score"].(float64), second["total_score"].(float64))
}

func TestMatchRejections(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")

	// Analysis has not run yet.
	recorder := env.do(t, http.MethodPost, "/api/jobs/job-1/match", []byte(`{"candidates":[{"id":"c"}]}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)

	recorder = env.do(t, http.MethodPost, "/api/jobs/missing/match", []byte(`{"candidates":[{"id":"c"}]}`), nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	require.NoError(t, env.store.SetResult(context.Background(), "job-1", &jobs.Result{
		Analysis: &jobs.Analysis{Products: []jobs.Product{{Name: "Olive Sweater", Attributes: map[string]string{"color": "olive"}}}},
	}))

	recorder = env.do(t, http.MethodPost, "/api/jobs/job-1/match", []byte(`{"candidates":[]}`), nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = env.do(t, http.MethodGet, "/api/jobs/job-1/match", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestQueueCallbackRejectsUnsignedDelivery(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")

	body, _ := signedPayload(t, "job-1")

	recorder := env.do(t, http.MethodPost, "/api/queue/callback", body, nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	// Rejection happened before any state mutation.
	job, err := env.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueued, job.Status)
	assert.Len(t, job.Log, 1)
}

func TestQueueCallbackRejectsTamperedBody(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")

	body, headers := signedPayload(t, "job-1")
	tampered := []byte(strings.Replace(string(body), "job-1", "job-x", 1))

	recorder := env.do(t, http.MethodPost, "/api/queue/callback", tampered, headers)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestQueueCallbackProcessesSignedDelivery(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")

	body, headers := signedPayload(t, "job-1")
	recorder := env.do(t, http.MethodPost, "/api/queue/callback", body, headers)
	require.Equal(t, http.StatusOK, recorder.Code)

	response := decodeBody(t, recorder)
	assert.Equal(t, true, response["success"])
	// Without an AI backend the job parks at uploaded.
	assert.Equal(t, string(jobs.StatusUploaded), response["status"])
}

func TestQueueCallbackUnknownJob(t *testing.T) {
	env := newAPIEnv(t, nil)

	body, headers := signedPayload(t, "ghost")
	recorder := env.do(t, http.MethodPost, "/api/queue/callback", body, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	assert.Equal(t, false, decodeBody(t, recorder)["success"])
}

func TestQueueCallbackInvalidPayloadBody(t *testing.T) {
	env := newAPIEnv(t, nil)

	body := []byte("not json at all")
	token, err := signature.Sign(testKeys, body)
	require.NoError(t, err)

	recorder := env.do(t, http.MethodPost, "/api/queue/callback", body, map[string]string{"signature": token})
	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
}

func TestQueueCallbackIncompletePayload(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")

	// Decodes fine but fails payload validation: no data.key. That is a
	// business rejection, not an internal error.
	payload := jobs.DispatchPayload{JobID: "job-1", Action: jobs.ActionProcessVideo}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	token, err := signature.Sign(testKeys, body)
	require.NoError(t, err)

	recorder := env.do(t, http.MethodPost, "/api/queue/callback", body, map[string]string{"signature": token})
	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	assert.Equal(t, false, decodeBody(t, recorder)["success"])
}

func TestQueueCallbackLocalDevBypass(t *testing.T) {
	env := newAPIEnv(t, nil, WithLocalDev(true))
	env.seedJob(t, "job-1")

	payload := jobs.DispatchPayload{
		JobID:  "job-1",
		Action: jobs.ActionProcessVideo,
		Data:   jobs.DispatchData{FileID: "job-1", Key: "job-1/video.mp4", Bucket: "clipshelf-media", Source: jobs.SourceDirect},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	recorder := env.do(t, http.MethodPost, "/api/queue/callback", body, map[string]string{localBypassHeader: "true"})
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestQueueCallbackBypassIgnoredOutsideLocalDev(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedJob(t, "job-1")

	body, _ := signedPayload(t, "job-1")
	recorder := env.do(t, http.MethodPost, "/api/queue/callback", body, map[string]string{localBypassHeader: "true"})
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestCostsEndpoint(t *testing.T) {
	env := newAPIEnv(t, nil)
	recorder := env.do(t, http.MethodGet, "/api/costs", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, recorder.Code)

	ledger := router.NewCostLedger()
	ledger.Append(router.CostRecord{Model: "openai/gpt-4o", CostUSD: 0.25})
	env = newAPIEnv(t, nil, WithCostLedger(ledger))

	recorder = env.do(t, http.MethodGet, "/api/costs", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := decodeBody(t, recorder)
	assert.InDelta(t, 0.25, body["total_cost"].(float64), 1e-9)
	assert.Len(t, body["records"].([]any), 1)
}
