// Package janitor sweeps jobs stranded mid-pipeline. The worker ingress runs
// under a fixed wall-clock budget; when the host abandons an in-flight stage
// the job keeps its last-written status with no cleanup. The sweep finds
// those jobs and either returns them to the retryable uploaded state or, if
// the upload was never confirmed, marks them failed.
package janitor

import (
	"context"
	"time"

	"github.com/clipshelf/clipshelf/internal/jobs"
	"github.com/clipshelf/clipshelf/pkg/log"
	"github.com/robfig/cron/v3"
)

type Janitor struct {
	store      jobs.Store
	staleAfter time.Duration
}

func New(store jobs.Store, staleAfter time.Duration) *Janitor {
	return &Janitor{store: store, staleAfter: staleAfter}
}

// Schedule registers the sweep on the given cron runner.
func (j *Janitor) Schedule(c *cron.Cron, expr string) error {
	_, err := c.AddFunc(expr, func() {
		j.Sweep(context.Background())
	})
	return err
}

// Sweep examines every mid-pipeline status once.
func (j *Janitor) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	j.sweepStatus(ctx, now, jobs.StatusProcessing, jobs.StatusFailed,
		"stranded before upload confirmation")
	j.sweepStatus(ctx, now, jobs.StatusTranscribing, jobs.StatusUploaded,
		"stranded during transcription, returned for retry")
	j.sweepStatus(ctx, now, jobs.StatusAnalyzing, jobs.StatusUploaded,
		"stranded during analysis, returned for retry")
}

func (j *Janitor) sweepStatus(ctx context.Context, now time.Time, from, to jobs.Status, reason string) {
	stale, err := j.store.ListJobs(ctx, jobs.ListFilter{Status: from})
	if err != nil {
		log.Error("Janitor failed to list %s jobs: %v", from, err)
		return
	}
	for _, job := range stale {
		if now.Sub(job.UpdatedAt) < j.staleAfter {
			continue
		}
		if _, err := j.store.TransitionStatus(ctx, job.ID, jobs.Transition{
			To:      to,
			From:    []jobs.Status{from},
			Message: "Janitor sweep",
			Error:   reason,
		}); err != nil {
			// A concurrent worker run may have advanced the job; that is
			// exactly what the CAS guard is for.
			log.Debug("Janitor skipped job %s: %v", job.ID, err)
			continue
		}
		log.Warn("Janitor moved stale job %s from %s to %s", job.ID, from, to)
	}
}
