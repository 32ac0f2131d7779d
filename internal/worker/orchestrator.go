package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/clipshelf/clipshelf/internal/jobs"
	"github.com/clipshelf/clipshelf/internal/router"
	"github.com/clipshelf/clipshelf/internal/storage"
	"github.com/clipshelf/clipshelf/pkg/log"
)

// maxFrames caps how many sampled poster frames feed the vision tasks.
const maxFrames = 4

// MediaStore is the object storage surface the orchestrator needs.
type MediaStore interface {
	Stat(ctx context.Context, key string) (storage.ObjectInfo, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// ModelRouter is the dispatch surface of the model-routing layer.
type ModelRouter interface {
	ExecuteVisionTask(ctx context.Context, task router.Task, images []router.Image, systemPrompt, userPrompt string) (*router.TaskResult, error)
	ExecuteTextTask(ctx context.Context, task router.Task, systemPrompt, userPrompt string) (*router.TaskResult, error)
	Transcribe(ctx context.Context, audio []byte, filename string) (*router.TranscriptionResult, error)
}

// StorefrontCreator is the downstream store-creation collaborator. Creation
// is a best-effort side effect of completion, never part of the job's own
// success criterion.
type StorefrontCreator interface {
	Create(ctx context.Context, job *jobs.Job) error
}

// Result is the structured outcome returned to the worker ingress.
type Result struct {
	Success bool         `json:"success"`
	JobID   string       `json:"jobId"`
	Status  jobs.Status  `json:"status"`
	Message string       `json:"message"`
	Data    *jobs.Result `json:"data,omitempty"`
}

// Orchestrator consumes dispatched payloads and drives the pipeline stages.
// All status writes go through the job store's transition API so the
// append-only log stays consistent with the current status. No stage
// exception escapes Process; the boundary converts failures into job-state
// mutations plus a structured response.
type Orchestrator struct {
	store      jobs.Store
	media      MediaStore
	router     ModelRouter
	storefront StorefrontCreator
	timeout    time.Duration
}

// NewOrchestrator wires the orchestrator. A nil router means the AI
// capability is not configured; jobs then stop at `uploaded` as a
// degraded-but-valid state.
func NewOrchestrator(store jobs.Store, media MediaStore, modelRouter ModelRouter, storefront StorefrontCreator, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:      store,
		media:      media,
		router:     modelRouter,
		storefront: storefront,
		timeout:    timeout,
	}
}

// AIReady reports whether the AI capability is configured.
func (o *Orchestrator) AIReady() bool {
	return o.router != nil
}

// processFrom lists the statuses a regular dispatch may claim a job from:
// freshly queued jobs and uploaded jobs returned for retry. Anything else is
// a duplicate or stale delivery.
var processFrom = []jobs.Status{jobs.StatusQueued, jobs.StatusUploaded}

// Process handles one dispatched payload. Duplicate at-least-once deliveries
// are tolerated: transitions are CAS-guarded, so a replay that finds the job
// already advanced or terminal is a no-op rather than a silent overwrite.
func (o *Orchestrator) Process(ctx context.Context, payload jobs.DispatchPayload) (*Result, error) {
	return o.process(ctx, payload, processFrom)
}

// retriggerFrom lists the statuses an explicit external retrigger may pull a
// job out of. Completed jobs are excluded: their result is append-once.
var retriggerFrom = []jobs.Status{
	jobs.StatusQueued,
	jobs.StatusProcessing,
	jobs.StatusUploaded,
	jobs.StatusTranscribing,
	jobs.StatusAnalyzing,
	jobs.StatusFailed,
}

// Retrigger re-runs the pipeline for an existing job, with the same contract
// as a fresh processing request for that job id.
func (o *Orchestrator) Retrigger(ctx context.Context, jobID string) (*Result, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return &Result{Success: false, JobID: jobID, Message: "job not found"}, err
	}
	payload := jobs.DispatchPayload{
		JobID:  job.ID,
		Action: jobs.ActionProcessVideo,
		Data: jobs.DispatchData{
			FileID:      job.ID,
			Key:         job.Source.Key,
			Bucket:      job.Source.Bucket,
			Source:      job.Source.Kind,
			Platform:    job.Source.Platform,
			OriginalURL: job.Source.OriginalURL,
			Size:        job.Source.Size,
			ContentType: job.Source.ContentType,
		},
	}
	return o.process(ctx, payload, retriggerFrom)
}

func (o *Orchestrator) process(ctx context.Context, payload jobs.DispatchPayload, from []jobs.Status) (*Result, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	if err := payload.Validate(); err != nil {
		// Validation failures are rejected before any state mutation.
		return &Result{Success: false, JobID: payload.JobID, Message: err.Error()}, err
	}

	job, err := o.store.GetJob(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return &Result{Success: false, JobID: payload.JobID, Message: "job not found"}, err
		}
		return &Result{Success: false, JobID: payload.JobID, Message: "failed to load job"}, err
	}

	if job.Status == jobs.StatusCompleted {
		// Replay of a finished job: result payloads are append-once.
		return &Result{
			Success: true,
			JobID:   job.ID,
			Status:  jobs.StatusCompleted,
			Message: "job already completed",
			Data:    job.Result,
		}, nil
	}

	if _, err := o.store.TransitionStatus(ctx, job.ID, jobs.Transition{
		To:      jobs.StatusProcessing,
		From:    from,
		Message: "Dispatch received, processing started",
	}); err != nil {
		if errors.Is(err, jobs.ErrStatusConflict) {
			// Duplicate delivery found the job terminal or already claimed
			// by a live run; ack and leave it alone.
			return &Result{
				Success: false,
				JobID:   job.ID,
				Status:  job.Status,
				Message: "job is not eligible for processing; duplicate delivery ignored",
			}, nil
		}
		return &Result{Success: false, JobID: job.ID, Message: "failed to start processing"}, err
	}

	switch payload.Action {
	case jobs.ActionProcessVideo:
		return o.processVideo(ctx, job.ID, payload), nil
	default:
		message := fmt.Sprintf("unknown action %q", payload.Action)
		o.fail(ctx, job.ID, message)
		return &Result{Success: false, JobID: job.ID, Status: jobs.StatusFailed, Message: message}, nil
	}
}

func (o *Orchestrator) processVideo(ctx context.Context, jobID string, payload jobs.DispatchPayload) *Result {
	info, err := o.media.Stat(ctx, payload.Data.Key)
	if err != nil {
		message := fmt.Sprintf("source media not available in storage: %v", err)
		o.fail(ctx, jobID, message)
		return &Result{Success: false, JobID: jobID, Status: jobs.StatusFailed, Message: message}
	}

	if _, err := o.store.TransitionStatus(ctx, jobID, jobs.Transition{
		To:      jobs.StatusUploaded,
		From:    []jobs.Status{jobs.StatusProcessing},
		Message: "Source media confirmed in storage",
		Details: map[string]any{"size": info.Size, "content_type": info.ContentType},
	}); err != nil {
		log.Warn("Job %s: upload confirmation transition rejected: %v", jobID, err)
	}

	if o.router == nil {
		// Missing AI configuration is a degraded-but-valid terminal point,
		// not an error.
		return &Result{
			Success: true,
			JobID:   jobID,
			Status:  jobs.StatusUploaded,
			Message: "media uploaded; AI capability is not configured, set LLM_API_KEY to enable transcription and analysis",
		}
	}

	result, perr := o.runAIStages(ctx, jobID, payload)
	if perr != nil {
		// Loss of the AI stage must not destroy the already-verified upload:
		// the job goes back to uploaded, retryable without re-fetching.
		if _, terr := o.store.TransitionStatus(ctx, jobID, jobs.Transition{
			To:      jobs.StatusUploaded,
			From:    []jobs.Status{jobs.StatusTranscribing, jobs.StatusAnalyzing},
			Message: "AI stage failed, job remains retryable",
			Error:   perr.Message,
		}); terr != nil {
			log.Error("Job %s: failed to record retryable AI failure: %v", jobID, terr)
		}
		return &Result{Success: false, JobID: jobID, Status: jobs.StatusUploaded, Message: perr.Message}
	}

	if err := o.store.SetResult(ctx, jobID, result); err != nil {
		if errors.Is(err, jobs.ErrResultExists) {
			log.Warn("Job %s: result already recorded, keeping the original", jobID)
		} else {
			message := fmt.Sprintf("failed to persist result: %v", err)
			o.fail(ctx, jobID, message)
			return &Result{Success: false, JobID: jobID, Status: jobs.StatusFailed, Message: message}
		}
	}

	completed, err := o.store.TransitionStatus(ctx, jobID, jobs.Transition{
		To:      jobs.StatusCompleted,
		From:    []jobs.Status{jobs.StatusAnalyzing},
		Message: "Processing completed",
	})
	if err != nil {
		log.Warn("Job %s: completion transition rejected: %v", jobID, err)
		completed, err = o.store.GetJob(ctx, jobID)
		if err != nil {
			return &Result{Success: false, JobID: jobID, Message: "failed to reload job after completion"}
		}
	}

	if o.storefront != nil {
		if err := o.storefront.Create(ctx, completed); err != nil {
			// Best-effort side effect; the job stays completed.
			log.Error("Job %s: storefront creation failed: %v", jobID, err)
		}
	}

	return &Result{
		Success: true,
		JobID:   jobID,
		Status:  jobs.StatusCompleted,
		Message: "video processed",
		Data:    completed.Result,
	}
}

// runAIStages executes transcription then analysis. Any failure is returned
// as a typed error for the caller to convert into the retryable
// uploaded-with-error state.
func (o *Orchestrator) runAIStages(ctx context.Context, jobID string, payload jobs.DispatchPayload) (*jobs.Result, *PipelineError) {
	if _, err := o.store.TransitionStatus(ctx, jobID, jobs.Transition{
		To:      jobs.StatusTranscribing,
		From:    []jobs.Status{jobs.StatusUploaded},
		Message: "Transcription started",
	}); err != nil {
		return nil, NewErrorWithCause(ErrUnknown, "failed to enter transcribing stage", err)
	}

	media, err := o.media.Fetch(ctx, payload.Data.Key)
	if err != nil {
		return nil, NewErrorWithCause(ErrStorage, "failed to fetch media for transcription", err)
	}

	transcription, err := o.router.Transcribe(ctx, media, path.Base(payload.Data.Key))
	if err != nil {
		return nil, NewErrorWithCause(ErrProvider, "transcription failed", err)
	}

	if _, err := o.store.TransitionStatus(ctx, jobID, jobs.Transition{
		To:      jobs.StatusAnalyzing,
		From:    []jobs.Status{jobs.StatusTranscribing},
		Message: "Analysis started",
	}); err != nil {
		return nil, NewErrorWithCause(ErrUnknown, "failed to enter analyzing stage", err)
	}

	analysis, perr := o.analyze(ctx, jobID, transcription)
	if perr != nil {
		return nil, perr
	}

	return &jobs.Result{
		Transcription: transcription.Text,
		Analysis:      analysis,
	}, nil
}

func (o *Orchestrator) fail(ctx context.Context, jobID, message string) {
	if _, err := o.store.TransitionStatus(ctx, jobID, jobs.Transition{
		To:      jobs.StatusFailed,
		Message: "Processing failed",
		Error:   message,
	}); err != nil {
		log.Error("Job %s: failed to record failure %q: %v", jobID, message, err)
	}
}
