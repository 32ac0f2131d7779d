// Package storefront builds the generated storefront document from a
// completed job's result. Creation is invoked by the worker as a best-effort
// side effect of completion.
package storefront

import (
	"context"
	"fmt"
	"time"

	"github.com/clipshelf/clipshelf/internal/jobs"
	"github.com/clipshelf/clipshelf/pkg/log"
)

// Document is the published storefront record.
type Document struct {
	JobID       string         `json:"job_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Tags        []string       `json:"tags,omitempty"`
	Products    []jobs.Product `json:"products"`
	Sentiment   string         `json:"sentiment,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// DocumentStore persists storefront documents keyed by job id.
type DocumentStore interface {
	PutStorefront(ctx context.Context, jobID string, payload any) error
}

type Creator struct {
	store DocumentStore
}

func NewCreator(store DocumentStore) *Creator {
	return &Creator{store: store}
}

// Create derives the storefront document from the job's result payload and
// persists it. Replays overwrite the previous document for the same job.
func (c *Creator) Create(ctx context.Context, job *jobs.Job) error {
	if job == nil || job.Result == nil || job.Result.Analysis == nil {
		return fmt.Errorf("job %s has no analysis to publish", jobID(job))
	}

	analysis := job.Result.Analysis
	doc := Document{
		JobID:       job.ID,
		Title:       analysis.SEO.Title,
		Description: analysis.SEO.Description,
		Tags:        analysis.SEO.Tags,
		Products:    analysis.Products,
		Sentiment:   analysis.Sentiment,
		CreatedAt:   time.Now().UTC(),
	}
	if doc.Title == "" && len(analysis.Products) > 0 {
		doc.Title = analysis.Products[0].Name
	}

	if err := c.store.PutStorefront(ctx, job.ID, doc); err != nil {
		return fmt.Errorf("failed to persist storefront for job %s: %w", job.ID, err)
	}
	log.Info("Storefront created for job %s (%d products)", job.ID, len(doc.Products))
	return nil
}

func jobID(job *jobs.Job) string {
	if job == nil {
		return "<nil>"
	}
	return job.ID
}
