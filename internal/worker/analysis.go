package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/clipshelf/clipshelf/internal/jobs"
	"github.com/clipshelf/clipshelf/internal/router"
	"github.com/clipshelf/clipshelf/pkg/log"
)

// analyze runs the analysis sub-tasks against the model router: product
// detection, vision summary, SEO synthesis, and sentiment. Sub-tasks run
// strictly sequentially within one job run.
func (o *Orchestrator) analyze(ctx context.Context, jobID string, transcription *router.TranscriptionResult) (*jobs.Analysis, *PipelineError) {
	start := time.Now()
	totalCost := transcription.CostUSD

	frames, err := o.loadFrames(ctx, jobID)
	if err != nil {
		return nil, NewErrorWithCause(ErrStorage, "failed to load sampled frames", err)
	}

	userPrompt := fmt.Sprintf("Transcription of the video:\n%s", transcription.Text)

	var detection *router.TaskResult
	if len(frames) > 0 {
		detection, err = o.router.ExecuteVisionTask(ctx, router.TaskProductDetection, frames, productDetectionSystemPrompt, userPrompt)
	} else {
		// No sampled frames available; detection falls back to the
		// transcription alone.
		detection, err = o.router.ExecuteTextTask(ctx, router.TaskProductDetection, productDetectionSystemPrompt, userPrompt)
	}
	if err != nil {
		return nil, NewErrorWithCause(ErrProvider, "product detection failed", err)
	}
	totalCost += detection.CostUSD

	var visionSummary string
	if len(frames) > 0 {
		summary, err := o.router.ExecuteVisionTask(ctx, router.TaskVisionSummary, frames[:1], visionSummarySystemPrompt, "Summarize what this frame shows.")
		if err != nil {
			return nil, NewErrorWithCause(ErrProvider, "vision summary failed", err)
		}
		totalCost += summary.CostUSD
		visionSummary = stringField(summary.Data, "summary")
	}

	products := parseProducts(detection.Data)

	seoInput := fmt.Sprintf("Transcription:\n%s\n\nDetected products: %s", transcription.Text, productNames(products))
	seo, err := o.router.ExecuteTextTask(ctx, router.TaskSEOSynthesis, seoSynthesisSystemPrompt, seoInput)
	if err != nil {
		return nil, NewErrorWithCause(ErrProvider, "SEO synthesis failed", err)
	}
	totalCost += seo.CostUSD

	sentiment, err := o.router.ExecuteTextTask(ctx, router.TaskSentiment, sentimentSystemPrompt, userPrompt)
	if err != nil {
		return nil, NewErrorWithCause(ErrProvider, "sentiment classification failed", err)
	}
	totalCost += sentiment.CostUSD

	analysis := &jobs.Analysis{
		Products:      products,
		Keywords:      stringSliceField(sentiment.Data, "keywords"),
		Sentiment:     stringField(sentiment.Data, "sentiment"),
		VisionSummary: visionSummary,
		SEO: jobs.SEOFields{
			Title:       stringField(seo.Data, "title"),
			Description: stringField(seo.Data, "description"),
			Tags:        stringSliceField(seo.Data, "tags"),
		},
		Meta: jobs.ProcessingMeta{
			Language:     detectLanguage(transcription.Text),
			ModelCostUSD: totalCost,
			DurationMS:   time.Since(start).Milliseconds(),
		},
	}
	return analysis, nil
}

// loadFrames fetches up to maxFrames sampled poster frames stored under the
// job's key prefix by the uploader.
func (o *Orchestrator) loadFrames(ctx context.Context, jobID string) ([]router.Image, error) {
	keys, err := o.media.ListKeys(ctx, jobID+"/frames/")
	if err != nil {
		return nil, err
	}
	if len(keys) > maxFrames {
		keys = keys[:maxFrames]
	}

	frames := make([]router.Image, 0, len(keys))
	for _, key := range keys {
		data, err := o.media.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		frames = append(frames, router.Image{Data: data, MimeType: mimeForKey(key)})
	}
	return frames, nil
}

func mimeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func detectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return whatlanggo.DetectLang(text).Iso6391()
}

// parseProducts extracts detected products from the router's structured
// output. Malformed entries are skipped rather than failing the stage.
func parseProducts(data map[string]any) []jobs.Product {
	raw, ok := data["products"].([]any)
	if !ok {
		return []jobs.Product{}
	}

	products := make([]jobs.Product, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			log.Debug("Skipping malformed product entry: %T", item)
			continue
		}
		product := jobs.Product{
			Name:        stringField(entry, "name"),
			Category:    stringField(entry, "category"),
			Description: stringField(entry, "description"),
			Attributes:  stringMapField(entry, "attributes"),
			Confidence:  floatMapField(entry, "confidence"),
		}
		if product.Name == "" {
			continue
		}
		products = append(products, product)
	}
	return products
}

func productNames(products []jobs.Product) string {
	if len(products) == 0 {
		return "none"
	}
	names := make([]string, 0, len(products))
	for _, product := range products {
		names = append(names, product.Name)
	}
	return strings.Join(names, ", ")
}

func stringField(data map[string]any, key string) string {
	value, _ := data[key].(string)
	return value
}

func stringSliceField(data map[string]any, key string) []string {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	ret := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			ret = append(ret, s)
		}
	}
	return ret
}

func stringMapField(data map[string]any, key string) map[string]string {
	raw, ok := data[key].(map[string]any)
	if !ok {
		return nil
	}
	ret := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			ret[k] = s
		}
	}
	return ret
}

func floatMapField(data map[string]any, key string) map[string]float64 {
	raw, ok := data[key].(map[string]any)
	if !ok {
		return nil
	}
	ret := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			ret[k] = f
		}
	}
	return ret
}
