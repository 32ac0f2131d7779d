package dispatch

import (
	"context"
	"time"

	"github.com/clipshelf/clipshelf/internal/jobs"
	"github.com/clipshelf/clipshelf/internal/worker"
	"github.com/clipshelf/clipshelf/pkg/log"
	"golang.org/x/sync/semaphore"
)

const (
	ModeLocal       = "local"
	ModeDistributed = "distributed"

	// localDispatchDelay emulates queue latency so callers observe the same
	// queued-then-processed shape as the distributed transport.
	localDispatchDelay = 100 * time.Millisecond

	// localMaxInFlight bounds concurrent in-process worker invocations.
	localMaxInFlight = 4
)

// Ingress is the worker entry point a transport delivers to.
type Ingress func(ctx context.Context, payload jobs.DispatchPayload) (*worker.Result, error)

// LocalTransport invokes the worker ingress in-process, asynchronously,
// without a durability guarantee. There is no external retry mechanism in
// this mode, so unexpected failures are recorded directly onto the job.
type LocalTransport struct {
	ingress Ingress
	store   jobs.Store
	delay   time.Duration
	sem     *semaphore.Weighted
}

func NewLocalTransport(store jobs.Store, ingress Ingress) *LocalTransport {
	return &LocalTransport{
		ingress: ingress,
		store:   store,
		delay:   localDispatchDelay,
		sem:     semaphore.NewWeighted(localMaxInFlight),
	}
}

func (t *LocalTransport) Mode() string {
	return ModeLocal
}

// Publish schedules the ingress invocation and returns without waiting for
// completion.
func (t *LocalTransport) Publish(ctx context.Context, payload jobs.DispatchPayload) error {
	go t.deliver(payload)
	return nil
}

func (t *LocalTransport) deliver(payload jobs.DispatchPayload) {
	// Detached from the enqueue request's context: local delivery outlives
	// the HTTP request that triggered it.
	ctx := context.Background()
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer t.sem.Release(1)

	time.Sleep(t.delay)

	result, err := t.ingress(ctx, payload)
	if err != nil {
		log.Error("Local dispatch for job %s failed: %v", payload.JobID, err)
		if _, terr := t.store.TransitionStatus(ctx, payload.JobID, jobs.Transition{
			To:      jobs.StatusFailed,
			Message: "Local dispatch failed",
			Error:   err.Error(),
		}); terr != nil {
			log.Error("Job %s: failed to record local dispatch failure: %v", payload.JobID, terr)
		}
		return
	}
	if result != nil && !result.Success {
		log.Warn("Local dispatch for job %s finished unsuccessfully: %s", payload.JobID, result.Message)
	}
}
