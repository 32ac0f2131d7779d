package jobs

import (
	"errors"
	"fmt"
	"time"
)

// Status is the primary pipeline vocabulary. Transitions are monotonic
// forward except for the analyzing → uploaded retry edge.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusProcessing   Status = "processing"
	StatusUploaded     Status = "uploaded"
	StatusTranscribing Status = "transcribing"
	StatusAnalyzing    Status = "analyzing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// AllStatuses is the closed status set. Every persisted job status must be a
// member.
var AllStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusUploaded,
	StatusTranscribing,
	StatusAnalyzing,
	StatusCompleted,
	StatusFailed,
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the pipeline for a job. Terminal
// jobs only move again via an explicit external retrigger.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DisplayStatus is the creator-facing vocabulary layered over the primary
// status set for UI surfaces.
type DisplayStatus string

const (
	DisplayFetchingSource     DisplayStatus = "fetching_source"
	DisplayRemovingWatermark  DisplayStatus = "removing_watermark"
	DisplayTranscribingAudio  DisplayStatus = "transcribing_audio"
	DisplayGeneratingSohoVibe DisplayStatus = "generating_soho_vibe"
	DisplayCompleted          DisplayStatus = "completed"
	DisplayFailed             DisplayStatus = "failed"
)

var displayByStatus = map[Status]DisplayStatus{
	StatusQueued:       DisplayFetchingSource,
	StatusProcessing:   DisplayFetchingSource,
	StatusUploaded:     DisplayRemovingWatermark,
	StatusTranscribing: DisplayTranscribingAudio,
	StatusAnalyzing:    DisplayGeneratingSohoVibe,
	StatusCompleted:    DisplayCompleted,
	StatusFailed:       DisplayFailed,
}

// Display maps a primary status to the creator-facing vocabulary.
func (s Status) Display() DisplayStatus {
	if display, ok := displayByStatus[s]; ok {
		return display
	}
	return DisplayFetchingSource
}

// SourceKind distinguishes direct uploads from scraped videos.
type SourceKind string

const (
	SourceDirect SourceKind = "direct"
	SourceScrape SourceKind = "scrape"
)

// SourceDescriptor describes where the job's media came from and where it
// lives in object storage. Platform and OriginalURL are present iff
// Kind == SourceScrape.
type SourceDescriptor struct {
	Kind        SourceKind `json:"kind"`
	Platform    string     `json:"platform,omitempty"`
	OriginalURL string     `json:"original_url,omitempty"`
	Bucket      string     `json:"bucket"`
	Key         string     `json:"key"`
	Size        int64      `json:"size,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
}

func (s SourceDescriptor) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("storage key is required")
	}
	switch s.Kind {
	case SourceDirect:
		if s.OriginalURL != "" || s.Platform != "" {
			return fmt.Errorf("direct uploads must not carry original_url or platform")
		}
	case SourceScrape:
		if s.OriginalURL == "" {
			return fmt.Errorf("scraped videos require original_url")
		}
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	return nil
}

// LogEntry is one append-only status log record. Entries are never mutated
// or reordered once written.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Product is one detected product with the fused attribute extraction that
// downstream matching consumes.
type Product struct {
	Name        string             `json:"name"`
	Category    string             `json:"category,omitempty"`
	Description string             `json:"description,omitempty"`
	Attributes  map[string]string  `json:"attributes,omitempty"`
	Confidence  map[string]float64 `json:"confidence,omitempty"`
}

// SEOFields is the generated storefront copy.
type SEOFields struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ProcessingMeta records how the analysis was produced.
type ProcessingMeta struct {
	Language     string  `json:"language,omitempty"`
	ModelCostUSD float64 `json:"model_cost_usd,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
}

// Analysis is the structured output of the analyzing stage.
type Analysis struct {
	Products      []Product      `json:"products"`
	Keywords      []string       `json:"keywords,omitempty"`
	Sentiment     string         `json:"sentiment,omitempty"`
	VisionSummary string         `json:"vision_summary,omitempty"`
	SEO           SEOFields      `json:"seo"`
	Meta          ProcessingMeta `json:"meta"`
}

// Result is populated exactly once, when a job reaches completed.
type Result struct {
	Transcription string    `json:"transcription,omitempty"`
	Analysis      *Analysis `json:"analysis,omitempty"`
}

// Job is one video's end-to-end processing record. The id doubles as the
// storage key prefix for the underlying media object.
type Job struct {
	ID        string           `json:"id"`
	Status    Status           `json:"status"`
	Source    SourceDescriptor `json:"source"`
	Error     string           `json:"error,omitempty"`
	Log       []LogEntry       `json:"log"`
	Result    *Result          `json:"result,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ActionProcessVideo is the only dispatch action the worker models.
const ActionProcessVideo = "process_video"

// DispatchData is the payload body carried by a dispatch message.
type DispatchData struct {
	FileID      string     `json:"fileId"`
	Key         string     `json:"key"`
	Bucket      string     `json:"bucket"`
	Source      SourceKind `json:"source"`
	Platform    string     `json:"platform,omitempty"`
	OriginalURL string     `json:"originalUrl,omitempty"`
	Size        int64      `json:"size,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
}

// DispatchPayload is the wire format handed from the dispatcher to the
// worker ingress.
type DispatchPayload struct {
	JobID  string       `json:"jobId"`
	Action string       `json:"action"`
	Data   DispatchData `json:"data"`
}

// ErrInvalidPayload marks dispatch payloads rejected by validation, so
// callers can distinguish a malformed delivery from an internal failure.
var ErrInvalidPayload = errors.New("invalid dispatch payload")

func (p DispatchPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("%w: jobId is required", ErrInvalidPayload)
	}
	if p.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidPayload)
	}
	if p.Data.Key == "" {
		return fmt.Errorf("%w: data.key is required", ErrInvalidPayload)
	}
	return nil
}
