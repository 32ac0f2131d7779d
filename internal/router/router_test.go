package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipshelf/clipshelf/internal/llm"
)

type fakeProvider struct {
	chatContent string
	usage       llm.Usage
	transcript  string

	lastChatRequest map[string]any
}

// newFakeProvider serves an OpenAI-compatible /chat/completions and
// /audio/transcriptions pair and records the last chat request body.
func newFakeProvider(t *testing.T, p *fakeProvider) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.lastChatRequest = body

		response := map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": p.chatContent}}},
			"usage": map[string]any{
				"prompt_tokens":     p.usage.PromptTokens,
				"completion_tokens": p.usage.CompletionTokens,
				"total_tokens":      p.usage.TotalTokens,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(response))
	})
	mux.HandleFunc("/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"text": p.transcript}))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestRouter(t *testing.T, p *fakeProvider) (*Router, *CostLedger) {
	t.Helper()
	server := newFakeProvider(t, p)
	client, err := llm.NewClient(&llm.Config{
		APIKey:  "test-key",
		APIURL:  server.URL,
		Timeout: 5,
	})
	require.NoError(t, err)
	ledger := NewCostLedger()
	return NewRouter(client, NewRegistry(), NewTaskMap(), ledger), ledger
}

func TestExecuteTextTaskReportsUsageCost(t *testing.T) {
	provider := &fakeProvider{
		chatContent: `{"sentiment":"positive"}`,
		usage:       llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000, TotalTokens: 2_000_000},
	}
	router, ledger := newTestRouter(t, provider)

	result, err := router.ExecuteTextTask(context.Background(), TaskSentiment, "system", "user")
	require.NoError(t, err)

	assert.Equal(t, "positive", result.Data["sentiment"])
	// Sentiment routes to gpt-4o-mini: 0.15 in + 0.60 out per MTok.
	assert.InDelta(t, 0.75, result.CostUSD, 1e-9)
	assert.InDelta(t, 0.75, ledger.TotalCost(), 1e-9)

	records := ledger.Snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "openai/gpt-4o-mini", records[0].Model)
	assert.Equal(t, TaskSentiment, records[0].Task)
}

func TestExecuteTextTaskEstimatesTokensWhenUsageMissing(t *testing.T) {
	provider := &fakeProvider{chatContent: `{"ok":true}`}
	router, ledger := newTestRouter(t, provider)

	_, err := router.ExecuteTextTask(context.Background(), TaskSentiment, "system", "user")
	require.NoError(t, err)

	records := ledger.Snapshot()
	require.Len(t, records, 1)
	// "systemuser" is 10 chars, estimated at 4 chars per token rounded up.
	assert.Equal(t, 3, records[0].InputTokens)
	assert.Equal(t, 3, records[0].OutputTokens)
	assert.Greater(t, records[0].CostUSD, 0.0)
}

func TestExecuteTextTaskRequestsStructuredOutput(t *testing.T) {
	provider := &fakeProvider{chatContent: `{}`}
	router, _ := newTestRouter(t, provider)

	_, err := router.ExecuteTextTask(context.Background(), TaskSentiment, "system", "user")
	require.NoError(t, err)

	format, ok := provider.lastChatRequest["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
	assert.Equal(t, "openai/gpt-4o-mini", provider.lastChatRequest["model"])
}

func TestExecuteVisionTaskAttachesImages(t *testing.T) {
	provider := &fakeProvider{chatContent: `{"products":[]}`}
	router, _ := newTestRouter(t, provider)

	images := []Image{{Data: []byte("fake-jpeg"), MimeType: "image/jpeg"}}
	_, err := router.ExecuteVisionTask(context.Background(), TaskProductDetection, images, "system", "user")
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o", provider.lastChatRequest["model"])
	messages, ok := provider.lastChatRequest["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	user := messages[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]any)
	assert.Equal(t, "image_url", imagePart["type"])
}

func TestExecuteVisionTaskRejectsNonVisionModel(t *testing.T) {
	provider := &fakeProvider{}
	router, _ := newTestRouter(t, provider)

	_, err := router.ExecuteVisionTask(context.Background(), TaskTranscription, nil, "system", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support vision")
}

func TestExecuteTextTaskUnmappedTask(t *testing.T) {
	provider := &fakeProvider{}
	router, _ := newTestRouter(t, provider)

	_, err := router.ExecuteTextTask(context.Background(), Task("unknown"), "system", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model mapped")
}

func TestTranscribe(t *testing.T) {
	provider := &fakeProvider{transcript: "hello from the runway"}
	router, ledger := newTestRouter(t, provider)

	result, err := router.Transcribe(context.Background(), []byte("audio-bytes"), "job-1.mp4")
	require.NoError(t, err)
	assert.Equal(t, "hello from the runway", result.Text)

	records := ledger.Snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "openai/whisper-1", records[0].Model)
	assert.Equal(t, TaskTranscription, records[0].Task)
}

func TestParseStructuredToleratesFencesAndChatter(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{
			name: "plain object",
			raw:  `{"a":1}`,
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "json code fence",
			raw:  "```json\n{\"a\":1}\n```",
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "bare code fence",
			raw:  "```\n{\"a\":1}\n```",
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "object buried in chatter",
			raw:  `Sure! Here is the result: {"a":1} hope that helps`,
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "unparseable degrades to empty object",
			raw:  "I could not produce JSON this time",
			want: map[string]any{},
		},
		{
			name: "empty response",
			raw:  "",
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseStructured(tt.raw, TaskSentiment, "test-model"))
		})
	}
}

func TestCostLedgerSnapshotIsACopy(t *testing.T) {
	ledger := NewCostLedger()
	ledger.Append(CostRecord{Model: "m", CostUSD: 1.5, Latency: time.Second})
	ledger.Append(CostRecord{Model: "m", CostUSD: 0.5})

	snapshot := ledger.Snapshot()
	require.Len(t, snapshot, 2)
	assert.InDelta(t, 2.0, ledger.TotalCost(), 1e-9)

	snapshot[0].CostUSD = 100
	assert.InDelta(t, 2.0, ledger.TotalCost(), 1e-9)
}
