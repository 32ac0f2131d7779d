package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clipshelf/clipshelf/internal/llm"
	"github.com/clipshelf/clipshelf/pkg/log"
)

// charsPerToken is the fallback estimate used when the provider does not
// report usage.
const charsPerToken = 4

// Image is one frame handed to a vision task.
type Image struct {
	Data     []byte
	MimeType string
}

// TaskResult is the normalized outcome of one routed model call. Data is the
// parsed JSON object; a parse failure leaves Data empty rather than erroring
// so one bad call degrades gracefully. Raw always carries the verbatim
// response text.
type TaskResult struct {
	Data    map[string]any
	Raw     string
	CostUSD float64
	Latency time.Duration
	Usage   llm.Usage
}

// TranscriptionResult is the normalized transcription outcome.
type TranscriptionResult struct {
	Text    string
	CostUSD float64
	Latency time.Duration
}

// Router maps abstract task names to concrete backends, executes the call,
// and records telemetry. It holds no per-job state and is safe for
// concurrent use by multiple jobs.
type Router struct {
	client   *llm.Client
	registry *Registry
	tasks    TaskMap
	ledger   *CostLedger
}

func NewRouter(client *llm.Client, registry *Registry, tasks TaskMap, ledger *CostLedger) *Router {
	return &Router{
		client:   client,
		registry: registry,
		tasks:    tasks,
		ledger:   ledger,
	}
}

// Ledger exposes the injected cost accumulator.
func (r *Router) Ledger() *CostLedger {
	return r.ledger
}

// ExecuteVisionTask routes a vision sub-task: images are attached as inline
// encoded payloads alongside the prompt. Provider failures propagate to the
// caller uncaught; retry policy is the caller's responsibility.
func (r *Router) ExecuteVisionTask(ctx context.Context, task Task, images []Image, systemPrompt, userPrompt string) (*TaskResult, error) {
	model, err := r.resolve(task)
	if err != nil {
		return nil, err
	}
	if !model.Vision {
		return nil, fmt.Errorf("model %s mapped to task %q does not support vision", model.ID, task)
	}

	parts := make([]llm.ContentPart, 0, len(images)+1)
	parts = append(parts, llm.TextPart(userPrompt))
	for _, image := range images {
		parts = append(parts, llm.ImagePart(image.Data, image.MimeType))
	}
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: parts},
	}

	return r.execute(ctx, task, model, messages, systemPrompt+userPrompt)
}

// ExecuteTextTask routes a text-only sub-task.
func (r *Router) ExecuteTextTask(ctx context.Context, task Task, systemPrompt, userPrompt string) (*TaskResult, error) {
	model, err := r.resolve(task)
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	return r.execute(ctx, task, model, messages, systemPrompt+userPrompt)
}

// Transcribe routes the transcription task over the audio endpoint.
func (r *Router) Transcribe(ctx context.Context, audio []byte, filename string) (*TranscriptionResult, error) {
	model, err := r.resolve(TaskTranscription)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	response, err := r.client.Transcribe(ctx, strings.TrimPrefix(model.ID, model.Provider+"/"), audio, filename)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	// Transcription endpoints rarely report token usage.
	outputTokens := estimateTokens(response.Text)
	cost := tokenCost(model, 0, outputTokens)
	r.record(model, TaskTranscription, 0, outputTokens, cost, latency)

	return &TranscriptionResult{
		Text:    response.Text,
		CostUSD: cost,
		Latency: latency,
	}, nil
}

func (r *Router) resolve(task Task) (ModelConfig, error) {
	modelID, err := r.tasks.Resolve(task)
	if err != nil {
		return ModelConfig{}, err
	}
	model, ok := r.registry.Lookup(modelID)
	if !ok {
		return ModelConfig{}, fmt.Errorf("model %q mapped to task %q is not registered", modelID, task)
	}
	return model, nil
}

func (r *Router) execute(ctx context.Context, task Task, model ModelConfig, messages []llm.Message, promptText string) (*TaskResult, error) {
	opts := llm.NewChatCompletionOptions().WithTemperature(0.2)
	if model.StructuredOutput {
		opts = opts.WithJSONResponse()
	}

	start := time.Now()
	response, err := r.client.ChatCompletion(ctx, model.ID, messages, opts)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	raw := response.Content()
	usage := response.Usage
	inputTokens := usage.PromptTokens
	outputTokens := usage.CompletionTokens
	if inputTokens == 0 && outputTokens == 0 {
		inputTokens = estimateTokens(promptText)
		outputTokens = estimateTokens(raw)
	}
	cost := tokenCost(model, inputTokens, outputTokens)
	r.record(model, task, inputTokens, outputTokens, cost, latency)

	return &TaskResult{
		Data:    parseStructured(raw, task, model.ID),
		Raw:     raw,
		CostUSD: cost,
		Latency: latency,
		Usage:   usage,
	}, nil
}

func (r *Router) record(model ModelConfig, task Task, inputTokens, outputTokens int, cost float64, latency time.Duration) {
	if r.ledger == nil {
		return
	}
	r.ledger.Append(CostRecord{
		Model:        model.ID,
		Task:         task,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Latency:      latency,
		Timestamp:    time.Now().UTC(),
	})
}

// parseStructured parses the backend's JSON output. Markdown code fences are
// tolerated. A parse failure yields an empty object so a single bad call
// does not abort the caller's loop.
func parseStructured(raw string, task Task, modelID string) map[string]any {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return map[string]any{}
	}
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```")
		candidate = strings.TrimSuffix(strings.TrimSpace(candidate), "```")
		candidate = strings.TrimSpace(candidate)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
		return parsed
	}

	// Last resort: try the outermost object in a chatty response.
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(candidate[start:end+1]), &parsed); err == nil {
			return parsed
		}
	}

	log.Warn("Unparseable structured output from %s for task %s, returning empty result", modelID, task)
	return map[string]any{}
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// tokenCost derives USD cost from the model's per-million-token price table.
func tokenCost(model ModelConfig, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*model.InputCostPerMTok +
		float64(outputTokens)/1e6*model.OutputCostPerMTok
}
