// Package dispatch accepts work payloads, persists the initial job, and
// hands the payload to a transport: a distributed at-least-once queue when
// the environment provides one, or an in-process asynchronous invocation
// otherwise.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipshelf/clipshelf/internal/jobs"
	"github.com/clipshelf/clipshelf/pkg/log"
	"github.com/google/uuid"
)

// ErrInvalidRequest marks intake validation failures, rejected before any
// state mutation.
var ErrInvalidRequest = errors.New("invalid enqueue request")

// Transport delivers a dispatch payload to the worker ingress.
type Transport interface {
	Publish(ctx context.Context, payload jobs.DispatchPayload) error
	Mode() string
}

// Info describes the active queue configuration for the query surface.
type Info struct {
	Mode                  string `json:"mode"`
	DistributedConfigured bool   `json:"distributed_configured"`
}

// EnqueueRequest is the intake descriptor for one video.
type EnqueueRequest struct {
	FileID      string
	Key         string
	Bucket      string
	Source      jobs.SourceKind
	Platform    string
	OriginalURL string
	Size        int64
	ContentType string
}

type Dispatcher struct {
	store     jobs.Store
	transport Transport
}

func NewDispatcher(store jobs.Store, transport Transport) *Dispatcher {
	return &Dispatcher{store: store, transport: transport}
}

func (d *Dispatcher) Info() Info {
	return Info{
		Mode:                  d.transport.Mode(),
		DistributedConfigured: d.transport.Mode() == ModeDistributed,
	}
}

// Enqueue persists a new job in status queued and publishes the payload to
// the configured transport. The returned job's id equals the derived file id
// and its status is queued at the instant of return, regardless of transport
// mode. Publish failures mark the job failed and are re-raised to the
// caller — enqueue failure is always surfaced, never swallowed.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (*jobs.Job, error) {
	source := jobs.SourceDescriptor{
		Kind:        req.Source,
		Platform:    req.Platform,
		OriginalURL: req.OriginalURL,
		Bucket:      req.Bucket,
		Key:         req.Key,
		Size:        req.Size,
		ContentType: req.ContentType,
	}
	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	id := req.FileID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC()
	job := &jobs.Job{
		ID:        id,
		Status:    jobs.StatusQueued,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
		Log: []jobs.LogEntry{{
			Timestamp: now,
			Status:    jobs.StatusQueued,
			Message:   "Job queued",
		}},
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	payload := jobs.DispatchPayload{
		JobID:  id,
		Action: jobs.ActionProcessVideo,
		Data: jobs.DispatchData{
			FileID:      id,
			Key:         req.Key,
			Bucket:      req.Bucket,
			Source:      req.Source,
			Platform:    req.Platform,
			OriginalURL: req.OriginalURL,
			Size:        req.Size,
			ContentType: req.ContentType,
		},
	}

	if err := d.transport.Publish(ctx, payload); err != nil {
		if _, terr := d.store.TransitionStatus(ctx, id, jobs.Transition{
			To:      jobs.StatusFailed,
			From:    []jobs.Status{jobs.StatusQueued},
			Message: "Enqueue failed",
			Error:   fmt.Sprintf("failed to publish job to queue: %v", err),
		}); terr != nil {
			log.Error("Job %s: failed to record enqueue failure: %v", id, terr)
		}
		return nil, fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}

	log.Info("Job %s enqueued via %s transport", id, d.transport.Mode())
	return job, nil
}
