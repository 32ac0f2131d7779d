package router

import "fmt"

// Task names the abstract sub-tasks the pipeline can request. The router
// resolves a task to a concrete backend via the TaskMap.
type Task string

const (
	TaskTranscription    Task = "transcription"
	TaskProductDetection Task = "product_detection"
	TaskVisionSummary    Task = "vision_summary"
	TaskSEOSynthesis     Task = "seo_synthesis"
	TaskSentiment        Task = "sentiment"
)

// ModelConfig is one Cost Model Registry entry: a concrete backend with its
// price table and capability flags. Costs are USD per million tokens.
type ModelConfig struct {
	ID                string
	Provider          string
	InputCostPerMTok  float64
	OutputCostPerMTok float64
	Vision            bool
	StructuredOutput  bool
}

// Registry is the static model table. Built once at startup and read-only
// afterwards.
type Registry struct {
	models map[string]ModelConfig
}

// NewRegistry builds the default registry. Bulk extraction work routes to
// the low-cost vision backend; multi-image reasoning to the premium one.
func NewRegistry() *Registry {
	entries := []ModelConfig{
		{
			ID:                "openai/gpt-4o",
			Provider:          "openai",
			InputCostPerMTok:  2.50,
			OutputCostPerMTok: 10.00,
			Vision:            true,
			StructuredOutput:  true,
		},
		{
			ID:                "openai/gpt-4o-mini",
			Provider:          "openai",
			InputCostPerMTok:  0.15,
			OutputCostPerMTok: 0.60,
			Vision:            true,
			StructuredOutput:  true,
		},
		{
			ID:                "openai/whisper-1",
			Provider:          "openai",
			InputCostPerMTok:  1.00,
			OutputCostPerMTok: 0,
			Vision:            false,
			StructuredOutput:  false,
		},
	}
	models := make(map[string]ModelConfig, len(entries))
	for _, entry := range entries {
		models[entry.ID] = entry
	}
	return &Registry{models: models}
}

// Lookup resolves a model id to its registry entry.
func (r *Registry) Lookup(modelID string) (ModelConfig, bool) {
	cfg, ok := r.models[modelID]
	return cfg, ok
}

// TaskMap is the immutable task → model mapping, constructed at startup and
// passed by reference into the router.
type TaskMap struct {
	byTask map[Task]string
}

// NewTaskMap builds the default task routing.
func NewTaskMap() TaskMap {
	return TaskMap{byTask: map[Task]string{
		TaskTranscription:    "openai/whisper-1",
		TaskProductDetection: "openai/gpt-4o",
		TaskVisionSummary:    "openai/gpt-4o-mini",
		TaskSEOSynthesis:     "openai/gpt-4o-mini",
		TaskSentiment:        "openai/gpt-4o-mini",
	}}
}

// Resolve maps a task to its configured model id.
func (m TaskMap) Resolve(task Task) (string, error) {
	modelID, ok := m.byTask[task]
	if !ok {
		return "", fmt.Errorf("no model mapped for task %q", task)
	}
	return modelID, nil
}
